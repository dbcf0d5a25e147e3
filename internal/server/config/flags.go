package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/paywall/internal/flagx"
)

// parseFlags applies the short command-line flags:
//
//	-a string   gRPC bind address
//	-l string   HTTP bind address (webhooks, health, metrics)
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret
//	-k string   callback token secret
//	-w string   webhook HMAC secret
//	-t string   Telegram bot token
//	-i string   comma separated Telegram admin chat ids
//	-q string   comma separated Kafka brokers
//	-r string   Redis address for the shared rate limiter
//	-f string   log format: json, text, zap, zap-dev
//	-u, -p, -b, -g, -e   S3 user, password, bucket, region, endpoint
//
// Only these flags are looked at; the rest of os.Args is left to other
// layers.
func parseFlags(config *Config) error {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-l", "-d", "-s", "-k", "-w", "-t", "-i", "-q", "-r", "-f", "-u", "-p", "-b", "-g", "-e",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "gRPC address and port")
	fs.StringVar(&config.EndpointAddrHTTP, "l", config.EndpointAddrHTTP, "HTTP address and port")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "JWT secret key")
	fs.StringVar(&config.CallbackSecret, "k", config.CallbackSecret, "callback token secret")
	fs.StringVar(&config.WebhookSecret, "w", config.WebhookSecret, "webhook secret")
	fs.StringVar(&config.TelegramToken, "t", config.TelegramToken, "Telegram bot token")
	admins := fs.String("i", "", "Telegram admin chat ids")
	brokers := fs.String("q", "", "Kafka brokers")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "Redis address")
	fs.StringVar(&config.LogFormat, "f", config.LogFormat, "log format")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *admins != "" {
		ids, err := parseChatIDs(*admins)
		if err != nil {
			return err
		}
		config.TelegramAdminChatIDs = ids
	}
	if *brokers != "" {
		config.KafkaBrokers = flagx.SplitList(*brokers)
	}
	return nil
}
