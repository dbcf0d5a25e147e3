package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/dmitrijs2005/paywall/internal/flagx"
	"github.com/joho/godotenv"
)

const envPrefix = "PAYWALL_"

// parseEnv loads dotenv files (missing files are skipped; real environment
// variables win over them) and applies every PAYWALL_* variable it knows.
func parseEnv(c *Config, dotenvFiles ...string) error {
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	str("GRPC_ADDR", &c.EndpointAddrGRPC)
	str("HTTP_ADDR", &c.EndpointAddrHTTP)
	str("DATABASE_DSN", &c.DatabaseDSN)
	str("LOG_FORMAT", &c.LogFormat)
	str("JWT_SECRET", &c.SecretKey)
	str("CALLBACK_SECRET", &c.CallbackSecret)
	str("WEBHOOK_SECRET", &c.WebhookSecret)
	str("CURRENCY", &c.DefaultCurrency)
	str("S3_ROOT_USER", &c.S3RootUser)
	str("S3_ROOT_PASSWORD", &c.S3RootPassword)
	str("S3_BUCKET", &c.S3Bucket)
	str("S3_REGION", &c.S3Region)
	str("S3_BASE_ENDPOINT", &c.S3BaseEndpoint)
	str("TELEGRAM_TOKEN", &c.TelegramToken)
	str("KAFKA_TOPIC", &c.KafkaTopic)
	str("REDIS_ADDR", &c.RedisAddr)

	if v, ok := os.LookupEnv(envPrefix + "KAFKA_BROKERS"); ok {
		c.KafkaBrokers = flagx.SplitList(v)
	}
	if v, ok := os.LookupEnv(envPrefix + "TELEGRAM_ADMINS"); ok {
		ids, err := parseChatIDs(v)
		if err != nil {
			return fmt.Errorf("%sTELEGRAM_ADMINS: %w", envPrefix, err)
		}
		c.TelegramAdminChatIDs = ids
	}

	durations := map[string]*time.Duration{
		"CALLBACK_TOKEN_TTL":  &c.CallbackTokenTTL,
		"RATE_LIMIT_WINDOW":   &c.RateLimitWindow,
		"STALE_DEPOSIT_AGE":   &c.StaleDepositAge,
		"STALE_SCAN_INTERVAL": &c.StaleScanInterval,
	}
	for name, dst := range durations {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = d
		}
	}

	if v, ok := os.LookupEnv(envPrefix + "RATE_LIMIT"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sRATE_LIMIT: %w", envPrefix, err)
		}
		c.RateLimit = n
	}
	return nil
}

func parseChatIDs(v string) ([]int64, error) {
	var ids []int64
	for _, s := range flagx.SplitList(v) {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
