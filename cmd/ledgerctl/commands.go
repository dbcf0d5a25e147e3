package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/logging"
	"github.com/dmitrijs2005/paywall/internal/netx"
	"github.com/dmitrijs2005/paywall/internal/server"
	"github.com/dmitrijs2005/paywall/internal/server/auth"
	"github.com/dmitrijs2005/paywall/internal/server/config"
	gs "github.com/dmitrijs2005/paywall/internal/server/grpc"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/dmitrijs2005/paywall/internal/server/notify"
	"github.com/dmitrijs2005/paywall/internal/server/services"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

const operatorID = "ledgerctl"

var errDrift = errors.New("ledger drift detected")

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if c.IsSet("dsn") {
		cfg.DatabaseDSN = c.String("dsn")
	}
	if c.IsSet("grpc") {
		cfg.EndpointAddrGRPC = c.String("grpc")
	}
	return cfg, nil
}

// withServices opens the database and runs fn against the service layer.
func withServices(c *cli.Context, fn func(ctx context.Context, svc *server.Services) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}

	ctx := c.Context
	db, rm, err := server.OpenDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(ctx, server.NewServices(cfg, services.Deps{DB: db, RepoManager: rm, Log: logger}))
}

func migrate(c *cli.Context) error {
	return withServices(c, func(ctx context.Context, _ *server.Services) error {
		fmt.Fprintln(c.App.Writer, "migrations applied")
		return nil
	})
}

func reconcile(c *cli.Context) error {
	return withServices(c, func(ctx context.Context, svc *server.Services) error {
		var results []services.Reconciliation
		if id := c.String("account"); id != "" {
			r, err := svc.Reconciler.Reconcile(ctx, id)
			if err != nil {
				return err
			}
			results = append(results, *r)
		} else {
			all, err := svc.Reconciler.ReconcileAll(ctx)
			if err != nil {
				return err
			}
			results = all
		}
		return printReconciliation(c, results)
	})
}

func printReconciliation(c *cli.Context, results []services.Reconciliation) error {
	drift := 0
	for _, r := range results {
		mark := "ok"
		if !r.OK() {
			mark = "DRIFT"
			drift++
		}
		fmt.Fprintf(c.App.Writer, "%-36s balance=%d ledger=%d drift=%d %s\n", r.AccountID, r.Balance, r.LedgerSum, r.Drift(), mark)
	}
	if drift > 0 {
		return fmt.Errorf("%w: %d of %d accounts", errDrift, drift, len(results))
	}
	return nil
}

func stale(c *cli.Context) error {
	return withServices(c, func(ctx context.Context, svc *server.Services) error {
		entries, err := svc.Deposits.ListPendingOlderThan(ctx, c.Duration("older-than"), c.Int("limit"))
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(c.App.Writer, "%s %s %s %s\n", e.ID, e.AccountID, notify.FormatAmount(e.Amount, e.Currency),
				e.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	})
}

func setBanned(banned bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		id := c.Args().First()
		if id == "" {
			return errors.New("account id is required")
		}
		return withServices(c, func(ctx context.Context, svc *server.Services) error {
			return svc.Accounts.SetBanned(ctx, operatorID, id, banned)
		})
	}
}

func upsertResource(c *cli.Context) error {
	price, err := parseAmount(c.String("price"))
	if err != nil {
		return err
	}
	kind := models.ResourceKind(c.String("kind"))
	if !kind.Valid() {
		return fmt.Errorf("unknown resource kind %q", kind)
	}

	r := &models.Resource{
		ID:      c.String("id"),
		OwnerID: c.String("owner"),
		Kind:    kind,
		Title:   c.String("title"),
		Price:   price,
		IsPaid:  price > 0,
	}
	return withServices(c, func(ctx context.Context, svc *server.Services) error {
		return svc.Catalog.UpsertResource(ctx, r)
	})
}

func issueToken(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	var roles []string
	if c.Bool("admin") {
		roles = []string{common.RoleAdmin}
	}
	tok, err := auth.GenerateToken(c.String("account"), roles, []byte(cfg.SecretKey), c.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, tok)
	return nil
}

func deposit(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	amount, err := parseAmount(c.String("amount"))
	if err != nil {
		return err
	}
	if amount <= 0 {
		return common.ErrInvalidAmount
	}
	file, err := os.ReadFile(c.String("evidence"))
	if err != nil {
		return err
	}

	client, err := gs.Dial(cfg.EndpointAddrGRPC, c.String("token"))
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := c.Context
	link, err := client.PresignEvidenceUpload(ctx)
	if err != nil {
		return err
	}
	if err := netx.UploadToS3PresignedURL(ctx, link.URL, file); err != nil {
		return err
	}

	resp, err := client.CreateDeposit(ctx, &gs.CreateDepositRequest{
		Amount:         amount,
		Currency:       c.String("currency"),
		EvidenceRef:    link.Key,
		IdempotencyKey: c.String("key"),
	})
	if err != nil {
		return err
	}
	state := "created"
	if resp.Replayed {
		state = "already submitted"
	}
	fmt.Fprintf(c.App.Writer, "deposit %s %s (%s)\n", resp.Entry.ID, state, resp.Entry.Status)
	return nil
}

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// parseAmount converts a non-negative decimal major-unit string into minor
// units.
func parseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", common.ErrInvalidAmount, s)
	}
	minor := d.Shift(2)
	switch {
	case !minor.IsInteger():
		return 0, fmt.Errorf("%w: %q has more than two decimals", common.ErrInvalidAmount, s)
	case minor.IsNegative():
		return 0, fmt.Errorf("%w: %q is negative", common.ErrInvalidAmount, s)
	case minor.GreaterThan(maxMinor):
		return 0, fmt.Errorf("%w: %q is out of range", common.ErrInvalidAmount, s)
	}
	return minor.IntPart(), nil
}
