package grpc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/logging"
	"github.com/dmitrijs2005/paywall/internal/server/auth"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/dmitrijs2005/paywall/internal/server/services"
)

var errBoom = errors.New("boom")

var created = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeAccounts struct {
	acc       *models.Account
	created   bool
	err       error
	unlocked  []string
	allowed   bool
	gotAcctID string
}

func (f *fakeAccounts) OpenAccount(ctx context.Context, id string) (*models.Account, bool, error) {
	f.gotAcctID = id
	if f.err != nil {
		return nil, false, f.err
	}
	return f.acc, f.created, nil
}

func (f *fakeAccounts) GetBalance(ctx context.Context, id string) (*models.Account, error) {
	f.gotAcctID = id
	return f.acc, f.err
}

func (f *fakeAccounts) ListUnlocked(ctx context.Context, id string) ([]string, error) {
	f.gotAcctID = id
	return f.unlocked, f.err
}

func (f *fakeAccounts) CheckAccess(ctx context.Context, id, resourceID string) (bool, error) {
	f.gotAcctID = id
	return f.allowed, f.err
}

type fakePurchases struct {
	res *services.PurchaseResult
	err error
}

func (f *fakePurchases) Purchase(ctx context.Context, accountID, resourceID string) (*services.PurchaseResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := *f.res
	r.ResourceID = resourceID
	return &r, nil
}

type decision struct {
	depositID, adminID, reason, token string
}

type fakeDeposits struct {
	mu       sync.Mutex
	created  services.CreateDepositRequest
	decided  []decision
	entry    *models.LedgerEntry
	replayed bool
	err      error
	stale    []*models.LedgerEntry
	staleAge time.Duration
}

func (f *fakeDeposits) CreateDeposit(ctx context.Context, req services.CreateDepositRequest) (*services.DepositResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = req
	if f.err != nil {
		return nil, f.err
	}
	return &services.DepositResult{Entry: f.entry, Replayed: f.replayed}, nil
}

func (f *fakeDeposits) decide(depositID, adminID, reason, token string) (*services.DecisionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decided = append(f.decided, decision{depositID, adminID, reason, token})
	if f.err != nil {
		return nil, f.err
	}
	return &services.DecisionResult{Entry: f.entry, BalanceBefore: 0, BalanceAfter: f.entry.Amount, Replayed: f.replayed}, nil
}

func (f *fakeDeposits) ApproveDeposit(ctx context.Context, depositID, adminID, token string) (*services.DecisionResult, error) {
	return f.decide(depositID, adminID, "", token)
}

func (f *fakeDeposits) RejectDeposit(ctx context.Context, depositID, adminID, reason, token string) (*services.DecisionResult, error) {
	return f.decide(depositID, adminID, reason, token)
}

func (f *fakeDeposits) ListPendingOlderThan(ctx context.Context, age time.Duration, limit int) ([]*models.LedgerEntry, error) {
	f.staleAge = age
	return f.stale, f.err
}

type fakeEvidence struct {
	err error
}

func (f *fakeEvidence) PresignUpload(ctx context.Context, accountID string) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	return "deposits/" + accountID + "/k", "https://s3/put", nil
}

type fakeReconciler struct {
	one *services.Reconciliation
	all []services.Reconciliation
	err error
}

func (f *fakeReconciler) Reconcile(ctx context.Context, accountID string) (*services.Reconciliation, error) {
	return f.one, f.err
}

func (f *fakeReconciler) ReconcileAll(ctx context.Context) ([]services.Reconciliation, error) {
	return f.all, f.err
}

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (f *fakeLimiter) Allow(ctx context.Context, endpoint, id string) (bool, error) {
	f.keys = append(f.keys, endpoint+":"+id)
	return f.allow, f.err
}

type fixture struct {
	accounts   *fakeAccounts
	purchases  *fakePurchases
	deposits   *fakeDeposits
	evidence   *fakeEvidence
	reconciler *fakeReconciler
}

const testSecret = "secret"

func newFixture() *fixture {
	return &fixture{
		accounts:   &fakeAccounts{acc: &models.Account{ID: "acc-1", Balance: 1000, ReservedBalance: 200}},
		purchases:  &fakePurchases{res: &services.PurchaseResult{Status: services.PurchaseUnlocked, Price: 300, EntryID: "e-1", EntitlementID: "n-1", Balance: 700}},
		deposits:   &fakeDeposits{entry: depositEntry(models.StatusPending)},
		evidence:   &fakeEvidence{},
		reconciler: &fakeReconciler{},
	}
}

func (f *fixture) server(lim limiter) *GRPCServer {
	s, _ := NewGRPCServer("127.0.0.1:0", logging.Nop{}, Services{
		Accounts:   f.accounts,
		Purchases:  f.purchases,
		Deposits:   f.deposits,
		Evidence:   f.evidence,
		Reconciler: f.reconciler,
	}, lim, nil, testSecret, 24*time.Hour)
	return s
}

func depositEntry(st models.EntryStatus) *models.LedgerEntry {
	return &models.LedgerEntry{
		ID:        "6f1c2a1e-4a7e-4f3a-9a43-0d5a3c9b8e11",
		AccountID: "acc-1",
		Amount:    500,
		Currency:  "USD",
		Type:      models.EntryTypeDeposit,
		Status:    st,
		Metadata:  models.NewDepositMetadata(models.DepositMetadata{EvidenceRef: "deposits/acc-1/k"}),
		CreatedAt: created,
	}
}

func asUser(accountID string, roles ...string) context.Context {
	return context.WithValue(context.Background(), principalKey, &auth.Principal{AccountID: accountID, Roles: roles})
}

func asAdmin() context.Context {
	return asUser("admin-1", common.RoleAdmin)
}
