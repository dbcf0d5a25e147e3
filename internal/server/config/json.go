package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/paywall/internal/flagx"
	"github.com/dmitrijs2005/paywall/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations
// accept strings such as "15m" or integer nanoseconds.
type JsonConfig struct {
	EndpointAddrGRPC            string         `json:"endpoint_addr_grpc"`
	EndpointAddrHTTP            string         `json:"endpoint_addr_http"`
	DatabaseDSN                 string         `json:"database_dsn"`
	LogFormat                   string         `json:"log_format"`
	SecretKey                   string         `json:"secret_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
	CallbackSecret              string         `json:"callback_secret"`
	CallbackTokenTTL            timex.Duration `json:"callback_token_ttl"`
	WebhookSecret               string         `json:"webhook_secret"`
	DefaultCurrency             string         `json:"default_currency"`
	S3RootUser                  string         `json:"s3_root_user"`
	S3RootPassword              string         `json:"s3_root_password"`
	S3Bucket                    string         `json:"s3_bucket"`
	S3Region                    string         `json:"s3_region"`
	S3BaseEndpoint              string         `json:"s3_base_endpoint"`
	PresignTTL                  timex.Duration `json:"presign_ttl"`
	TelegramToken               string         `json:"telegram_token"`
	TelegramAdminChatIDs        []int64        `json:"telegram_admin_chat_ids"`
	KafkaBrokers                []string       `json:"kafka_brokers"`
	KafkaTopic                  string         `json:"kafka_topic"`
	RedisAddr                   string         `json:"redis_addr"`
	RateLimit                   int64          `json:"rate_limit"`
	RateLimitWindow             timex.Duration `json:"rate_limit_window"`
	StaleDepositAge             timex.Duration `json:"stale_deposit_age"`
	StaleScanInterval           timex.Duration `json:"stale_scan_interval"`
	TxRetries                   uint64         `json:"tx_retries"`
}

// parseJson overlays values from the file named by -c/-config. Keys that are
// absent from the file leave the current value untouched.
func parseJson(config *Config) error {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return nil
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		return err
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return err
	}

	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.LogFormat, c.LogFormat)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setString(&config.CallbackSecret, c.CallbackSecret)
	setDuration(&config.CallbackTokenTTL, c.CallbackTokenTTL)
	setString(&config.WebhookSecret, c.WebhookSecret)
	setString(&config.DefaultCurrency, c.DefaultCurrency)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setDuration(&config.PresignTTL, c.PresignTTL)
	setString(&config.TelegramToken, c.TelegramToken)
	if c.TelegramAdminChatIDs != nil {
		config.TelegramAdminChatIDs = c.TelegramAdminChatIDs
	}
	if c.KafkaBrokers != nil {
		config.KafkaBrokers = c.KafkaBrokers
	}
	setString(&config.KafkaTopic, c.KafkaTopic)
	setString(&config.RedisAddr, c.RedisAddr)
	if c.RateLimit != 0 {
		config.RateLimit = c.RateLimit
	}
	setDuration(&config.RateLimitWindow, c.RateLimitWindow)
	setDuration(&config.StaleDepositAge, c.StaleDepositAge)
	setDuration(&config.StaleScanInterval, c.StaleScanInterval)
	if c.TxRetries != 0 {
		config.TxRetries = c.TxRetries
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
