// Package server wires the ledger together: database and migrations,
// services, the gRPC and HTTP surfaces, notification sinks, the Telegram
// callback bot and the background monitors. It owns graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/paywall/internal/clock"
	"github.com/dmitrijs2005/paywall/internal/dbx"
	"github.com/dmitrijs2005/paywall/internal/logging"
	"github.com/dmitrijs2005/paywall/internal/ratelimit"
	"github.com/dmitrijs2005/paywall/internal/server/callback"
	"github.com/dmitrijs2005/paywall/internal/server/config"
	"github.com/dmitrijs2005/paywall/internal/server/httpapi"
	"github.com/dmitrijs2005/paywall/internal/server/metrics"
	"github.com/dmitrijs2005/paywall/internal/server/notify"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/paywall/internal/server/services"
	"github.com/dmitrijs2005/paywall/internal/server/telegram"
	"github.com/go-redis/redis/v8"
	"github.com/go-telegram/bot"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/paywall/internal/server/grpc"
)

const janitorInterval = time.Minute

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	clock   clock.Clock
	metrics *metrics.Metrics

	dispatcher *notify.Dispatcher
	kafka      *notify.KafkaSink
	redis      *redis.Client
	memStore   *ratelimit.MemoryStore
	bot        *bot.Bot

	grpc    *gs.GRPCServer
	http    *httpapi.Server
	monitor *services.StaleMonitor
}

// Services builds the service layer over db. ledgerctl uses it for the
// administrative commands that bypass the network surfaces.
type Services struct {
	Accounts   *services.AccountService
	Catalog    *services.CatalogService
	Purchases  *services.PurchaseService
	Deposits   *services.DepositService
	Evidence   *services.EvidenceService
	Reconciler *services.ReconcileService
	Signer     *callback.Signer
}

// OpenDB connects to PostgreSQL through the pgx stdlib driver and applies
// pending migrations.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, repomanager.RepositoryManager, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("db ping error: %w", err)
	}

	rm, err := repomanager.NewPostgresRepositoryManager(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("db init error: %w", err)
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrations error: %w", err)
	}
	return db, rm, nil
}

// NewServices assembles the service layer.
func NewServices(cfg *config.Config, d services.Deps) *Services {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Retry.Retries == 0 {
		d.Retry = dbx.RetryPolicy{Retries: cfg.TxRetries, BaseDelay: 10 * time.Millisecond, MaxDelay: 250 * time.Millisecond}
	}

	signer := callback.NewSigner([]byte(cfg.CallbackSecret), d.Clock)
	evidence := services.NewEvidenceService(cfg, d.Clock)

	return &Services{
		Accounts:   services.NewAccountService(d),
		Catalog:    services.NewCatalogService(d),
		Purchases:  services.NewPurchaseService(d, cfg.DefaultCurrency),
		Deposits:   services.NewDepositService(d, signer, evidence, cfg.DefaultCurrency),
		Evidence:   evidence,
		Reconciler: services.NewReconcileService(d),
		Signer:     signer,
	}
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.LogFormat, os.Stdout)
	if err != nil {
		return nil, err
	}

	db, rm, err := OpenDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	app := &App{config: cfg, logger: logger, db: db, clock: clock.Real{}}
	app.metrics = metrics.New(prometheus.DefaultRegisterer)
	app.dispatcher = notify.NewDispatcher(logger, notify.DefaultPolicy, app.metrics, notify.NewLogSink(logger))

	svc := NewServices(cfg, services.Deps{
		DB:          db,
		RepoManager: rm,
		Log:         logger,
		Metrics:     app.metrics,
		Notifier:    app.dispatcher,
		Clock:       app.clock,
	})

	if len(cfg.KafkaBrokers) > 0 {
		app.kafka = notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		app.dispatcher.Register(app.kafka)
	}

	if cfg.TelegramToken != "" {
		h := telegram.NewCallbackHandler(svc.Deposits, svc.Signer, cfg.TelegramAdminChatIDs, logger)
		app.bot, err = telegram.NewBot(cfg.TelegramToken, h)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("telegram init error: %w", err)
		}
		app.dispatcher.Register(notify.NewTelegramSink(app.bot, svc.Signer, cfg.TelegramAdminChatIDs, cfg.CallbackTokenTTL))
	}

	var store ratelimit.Store
	if cfg.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store = ratelimit.NewRedisStore(app.redis, "paywall:rl:")
	} else {
		app.memStore = ratelimit.NewMemoryStore()
		store = app.memStore
	}
	lim := ratelimit.New(store, cfg.RateLimit, cfg.RateLimitWindow, app.clock)

	app.grpc, err = gs.NewGRPCServer(cfg.EndpointAddrGRPC, logger, gs.Services{
		Accounts:   svc.Accounts,
		Purchases:  svc.Purchases,
		Deposits:   svc.Deposits,
		Evidence:   svc.Evidence,
		Reconciler: svc.Reconciler,
	}, lim, app.metrics, cfg.SecretKey, cfg.StaleDepositAge)
	if err != nil {
		app.Close()
		return nil, err
	}

	h := httpapi.NewHandler(svc.Deposits, db, prometheus.DefaultGatherer, logger, cfg.WebhookSecret)
	app.http = httpapi.NewServer(cfg.EndpointAddrHTTP, h.Router(), logger)
	app.monitor = services.NewStaleMonitor(svc.Deposits, cfg.StaleDepositAge, cfg.StaleScanInterval)

	return app, nil
}

// Run serves until SIGINT/SIGTERM or the first component failure, then
// drains in-flight notifications and releases resources.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()
	defer app.Close()

	app.logger.Info(ctx, "Starting app...", "grpc", app.config.EndpointAddrGRPC, "http", app.config.EndpointAddrHTTP)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.grpc.Run(ctx) })
	g.Go(func() error { return app.http.Run(ctx) })
	g.Go(func() error { return app.monitor.Run(ctx) })

	if app.memStore != nil {
		g.Go(func() error {
			app.memStore.RunJanitor(ctx, janitorInterval, app.clock.Now)
			return nil
		})
	}
	if app.bot != nil {
		g.Go(func() error {
			app.bot.Start(ctx)
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	app.logger.Info(context.Background(), "Stopped", "error", err)
	return err
}

// Close waits for pending notifications and closes external clients.
func (app *App) Close() {
	ctx := context.Background()
	if app.dispatcher != nil {
		app.dispatcher.Wait()
	}
	if app.kafka != nil {
		if err := app.kafka.Close(); err != nil {
			app.logger.Error(ctx, "kafka close error", "error", err)
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error(ctx, "redis close error", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error(ctx, "db close error", "error", err)
		}
	}
	// Syncing a terminal or pipe reports EINVAL on some platforms.
	_ = logging.Sync(app.logger)
}
