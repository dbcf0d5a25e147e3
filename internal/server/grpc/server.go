package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/paywall/internal/logging"
	"github.com/dmitrijs2005/paywall/internal/server/metrics"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/dmitrijs2005/paywall/internal/server/services"
	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc"
)

type accountService interface {
	OpenAccount(ctx context.Context, accountID string) (*models.Account, bool, error)
	GetBalance(ctx context.Context, accountID string) (*models.Account, error)
	ListUnlocked(ctx context.Context, accountID string) ([]string, error)
	CheckAccess(ctx context.Context, accountID, resourceID string) (bool, error)
}

type purchaseService interface {
	Purchase(ctx context.Context, accountID, resourceID string) (*services.PurchaseResult, error)
}

type depositService interface {
	CreateDeposit(ctx context.Context, req services.CreateDepositRequest) (*services.DepositResult, error)
	ApproveDeposit(ctx context.Context, depositID, adminID, token string) (*services.DecisionResult, error)
	RejectDeposit(ctx context.Context, depositID, adminID, reason, token string) (*services.DecisionResult, error)
	ListPendingOlderThan(ctx context.Context, age time.Duration, limit int) ([]*models.LedgerEntry, error)
}

type evidenceService interface {
	PresignUpload(ctx context.Context, accountID string) (key, url string, err error)
}

type reconcileService interface {
	Reconcile(ctx context.Context, accountID string) (*services.Reconciliation, error)
	ReconcileAll(ctx context.Context) ([]services.Reconciliation, error)
}

type limiter interface {
	Allow(ctx context.Context, endpoint, id string) (bool, error)
}

// Services groups the business services exposed over gRPC.
type Services struct {
	Accounts   accountService
	Purchases  purchaseService
	Deposits   depositService
	Evidence   evidenceService
	Reconciler reconcileService
}

type GRPCServer struct {
	address    string
	accounts   accountService
	purchases  purchaseService
	deposits   depositService
	evidence   evidenceService
	reconciler reconcileService
	limiter    limiter
	metrics    *metrics.Metrics
	logger     logging.Logger
	validate   *validator.Validate
	jwtSecret  []byte
	staleAge   time.Duration
}

// NewGRPCServer wires the Ledger service. A nil limiter disables rate
// limiting.
func NewGRPCServer(a string, l logging.Logger, svc Services, lim limiter, m *metrics.Metrics, secretKey string, staleAge time.Duration) (*GRPCServer, error) {
	return &GRPCServer{
		address:    a,
		logger:     l.With("module", "grpc_server"),
		accounts:   svc.Accounts,
		purchases:  svc.Purchases,
		deposits:   svc.Deposits,
		evidence:   svc.Evidence,
		reconciler: svc.Reconciler,
		limiter:    lim,
		metrics:    m,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		jwtSecret:  []byte(secretKey),
		staleAge:   staleAge,
	}, nil
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.accessTokenInterceptor, s.rateLimitInterceptor))
	srv.RegisterService(&ledgerServiceDesc, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
