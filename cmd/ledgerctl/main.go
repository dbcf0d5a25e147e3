// Command ledgerctl is the operator tool for the paywall ledger. Database
// commands talk to PostgreSQL directly; deposit uploads go through the gRPC
// API like any other client.
package main

import (
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "ledgerctl",
		Usage: "Operate the paywall ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dsn", Aliases: []string{"d"}, Usage: "PostgreSQL DSN"},
			&cli.StringFlag{Name: "grpc", Aliases: []string{"a"}, Usage: "gRPC address of the ledger server"},
			&cli.StringFlag{Name: "token", Usage: "access token for gRPC calls", EnvVars: []string{"PAYWALL_TOKEN"}},
		},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "apply pending database migrations",
				Action: migrate,
			},
			{
				Name:  "reconcile",
				Usage: "compare cached balances with the ledger",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "account", Usage: "check one account instead of all"},
				},
				Action: reconcile,
			},
			{
				Name:  "stale",
				Usage: "list deposits pending for too long",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "older-than", Value: 24 * time.Hour},
					&cli.IntFlag{Name: "limit", Value: 100},
				},
				Action: stale,
			},
			{
				Name:      "ban",
				Usage:     "block an account from spending",
				ArgsUsage: "<account-id>",
				Action:    setBanned(true),
			},
			{
				Name:      "unban",
				Usage:     "lift a ban",
				ArgsUsage: "<account-id>",
				Action:    setBanned(false),
			},
			{
				Name:  "resource",
				Usage: "create or update a priced resource",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
					&cli.StringFlag{Name: "owner", Required: true},
					&cli.StringFlag{Name: "kind", Value: "video", Usage: "video, photo or profile"},
					&cli.StringFlag{Name: "title"},
					&cli.StringFlag{Name: "price", Value: "0", Usage: "decimal amount, e.g. 4.99"},
				},
				Action: upsertResource,
			},
			{
				Name:  "token",
				Usage: "issue an access token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "account", Required: true},
					&cli.BoolFlag{Name: "admin"},
					&cli.DurationFlag{Name: "ttl", Value: time.Hour},
				},
				Action: issueToken,
			},
			{
				Name:  "deposit",
				Usage: "upload evidence and submit a deposit for approval",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "evidence", Required: true, Usage: "receipt file"},
					&cli.StringFlag{Name: "amount", Required: true, Usage: "decimal amount, e.g. 25.00"},
					&cli.StringFlag{Name: "currency"},
					&cli.StringFlag{Name: "key", Usage: "idempotency key"},
				},
				Action: deposit,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
