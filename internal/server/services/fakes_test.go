package services

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/paywall/internal/clock"
	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/dbx"
	"github.com/dmitrijs2005/paywall/internal/logging"
	"github.com/dmitrijs2005/paywall/internal/server/callback"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/dmitrijs2005/paywall/internal/server/notify"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/audit"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/entitlements"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/ledger"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/resources"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeStore is an in-memory stand-in for the Postgres schema. It enforces
// the same constraints the database does: non-negative balances, version
// checks, unique idempotency keys and one approved entitlement per pair.
type fakeStore struct {
	mu        sync.Mutex
	accounts  map[string]*models.Account
	entries   map[string]*models.LedgerEntry
	keys      map[string]string
	resources map[string]*models.Resource
	ents      map[[2]string]*models.Entitlement
	audits    []*models.AuditRecord

	auditFailures int
	// beforeApplyDelta runs once, before the next ApplyDelta.
	beforeApplyDelta func(s *fakeStore)
	getErr           error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:  map[string]*models.Account{},
		entries:   map[string]*models.LedgerEntry{},
		keys:      map[string]string{},
		resources: map[string]*models.Resource{},
		ents:      map[[2]string]*models.Entitlement{},
	}
}

// seedAccount creates an account whose balance is backed by one approved
// deposit, so the ledger invariant holds from the start.
func (s *fakeStore) seedAccount(id string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[id] = &models.Account{ID: id, Balance: balance, Version: 1, CreatedAt: t0, UpdatedAt: t0}
	if balance > 0 {
		eid := uuid.NewString()
		s.entries[eid] = &models.LedgerEntry{ID: eid, AccountID: id, Amount: balance, Currency: "USD",
			Type: models.EntryTypeDeposit, Status: models.StatusApproved, CreatedAt: t0}
	}
}

func (s *fakeStore) seedResource(r *models.Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[r.ID] = r
}

func (s *fakeStore) balance(id string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id].Balance
}

func (s *fakeStore) entriesOf(accountID string, t models.EntryType) []*models.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range s.entries {
		if e.AccountID == accountID && e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (s *fakeStore) entitlementCount(accountID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.ents {
		if k[0] == accountID && e.Status == models.EntitlementApproved {
			n++
		}
	}
	return n
}

// requireReconciled asserts balance == sum(approved entries) for every account.
func (s *fakeStore) requireReconciled(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.accounts {
		var sum int64
		for _, e := range s.entries {
			if e.AccountID == id && e.Status == models.StatusApproved {
				sum += e.Amount
			}
		}
		require.Equalf(t, sum, a.Balance, "ledger drift on %s", id)
	}
}

func clone[T any](v *T) *T {
	c := *v
	return &c
}

// ---- accounts ----

type fakeAccounts struct{ s *fakeStore }

var _ accounts.Repository = (*fakeAccounts)(nil)

func (f *fakeAccounts) Create(_ context.Context, id string) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.accounts[id]; ok {
		return false, nil
	}
	f.s.accounts[id] = &models.Account{ID: id, Version: 1, CreatedAt: t0, UpdatedAt: t0}
	return true, nil
}

func (f *fakeAccounts) Get(_ context.Context, id string) (*models.Account, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.getErr != nil {
		return nil, f.s.getErr
	}
	a, ok := f.s.accounts[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clone(a), nil
}

func (f *fakeAccounts) GetForUpdate(ctx context.Context, id string) (*models.Account, error) {
	return f.Get(ctx, id)
}

func (f *fakeAccounts) ApplyDelta(_ context.Context, id string, delta, expectedVersion int64) (*models.Account, error) {
	f.s.mu.Lock()
	hook := f.s.beforeApplyDelta
	f.s.beforeApplyDelta = nil
	f.s.mu.Unlock()
	if hook != nil {
		hook(f.s)
	}

	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	a, ok := f.s.accounts[id]
	if !ok || a.Version != expectedVersion {
		return nil, common.ErrVersionConflict
	}
	if a.Balance+delta < 0 {
		return nil, errors.New("db error: balance check violated")
	}
	a.Balance += delta
	a.Version++
	return clone(a), nil
}

func (f *fakeAccounts) SetBanned(_ context.Context, id string, banned bool) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	a, ok := f.s.accounts[id]
	if !ok {
		return common.ErrorNotFound
	}
	a.Banned = banned
	return nil
}

func (f *fakeAccounts) ListIDs(context.Context) ([]string, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var ids []string
	for id := range f.s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ---- ledger ----

type fakeLedger struct{ s *fakeStore }

var _ ledger.Repository = (*fakeLedger)(nil)

func (f *fakeLedger) Insert(_ context.Context, e *models.LedgerEntry) error {
	if err := e.Metadata.Validate(e.Type); err != nil {
		return err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if e.IdempotencyKey != "" {
		if _, taken := f.s.keys[e.IdempotencyKey]; taken {
			return common.ErrDuplicateKey
		}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = t0
	f.s.entries[e.ID] = clone(e)
	if e.IdempotencyKey != "" {
		f.s.keys[e.IdempotencyKey] = e.ID
	}
	return nil
}

func (f *fakeLedger) CreatePending(ctx context.Context, e *models.LedgerEntry) (string, error) {
	e.Status = models.StatusPending
	if err := f.Insert(ctx, e); err != nil {
		return "", err
	}
	return e.ID, nil
}

func (f *fakeLedger) Get(_ context.Context, id string) (*models.LedgerEntry, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	e, ok := f.s.entries[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clone(e), nil
}

func (f *fakeLedger) GetForUpdate(ctx context.Context, id string) (*models.LedgerEntry, error) {
	return f.Get(ctx, id)
}

func (f *fakeLedger) GetByIdempotencyKey(ctx context.Context, key string) (*models.LedgerEntry, error) {
	f.s.mu.Lock()
	id, ok := f.s.keys[key]
	f.s.mu.Unlock()
	if !ok {
		return nil, common.ErrorNotFound
	}
	return f.Get(ctx, id)
}

func (f *fakeLedger) TransitionToTerminal(_ context.Context, id string, status models.EntryStatus, tf models.TerminalFields) (*models.LedgerEntry, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	e, ok := f.s.entries[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if e.Status != models.StatusPending {
		return nil, &common.AlreadyTerminalError{Status: string(e.Status)}
	}
	e.Status = status
	e.ProcessedBy = tf.ProcessedBy
	at := tf.ProcessedAt
	e.ProcessedAt = &at
	e.AdminNote = tf.AdminNote
	return clone(e), nil
}

func (f *fakeLedger) SumApproved(_ context.Context, accountID string) (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var sum int64
	for _, e := range f.s.entries {
		if e.AccountID == accountID && e.Status == models.StatusApproved {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (f *fakeLedger) ListPendingOlderThan(_ context.Context, t models.EntryType, cutoff time.Time, limit int) ([]*models.LedgerEntry, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range f.s.entries {
		if e.Type == t && e.Status == models.StatusPending && e.CreatedAt.Before(cutoff) {
			out = append(out, clone(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- entitlements ----

type fakeEntitlements struct{ s *fakeStore }

var _ entitlements.Repository = (*fakeEntitlements)(nil)

func (f *fakeEntitlements) Create(_ context.Context, e *models.Entitlement) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	k := [2]string{e.AccountID, e.ResourceID}
	if cur, ok := f.s.ents[k]; ok && cur.Status == models.EntitlementApproved {
		return common.ErrDuplicateKey
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	f.s.ents[k] = clone(e)
	return nil
}

func (f *fakeEntitlements) Exists(_ context.Context, accountID, resourceID string) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	e, ok := f.s.ents[[2]string{accountID, resourceID}]
	return ok && e.Status == models.EntitlementApproved, nil
}

func (f *fakeEntitlements) ListResourceIDs(_ context.Context, accountID string) ([]string, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var ids []string
	for k, e := range f.s.ents {
		if k[0] == accountID && e.Status == models.EntitlementApproved {
			ids = append(ids, k[1])
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ---- resources ----

type fakeResources struct{ s *fakeStore }

var _ resources.Repository = (*fakeResources)(nil)

func (f *fakeResources) Get(_ context.Context, id string) (*models.Resource, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	r, ok := f.s.resources[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clone(r), nil
}

func (f *fakeResources) Upsert(_ context.Context, r *models.Resource) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.resources[r.ID] = clone(r)
	return nil
}

// ---- audit ----

type fakeAudit struct{ s *fakeStore }

var _ audit.Repository = (*fakeAudit)(nil)

func (f *fakeAudit) Append(_ context.Context, rec *models.AuditRecord) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.auditFailures > 0 {
		f.s.auditFailures--
		return errBoom
	}
	f.s.audits = append(f.s.audits, clone(rec))
	return nil
}

func (f *fakeAudit) ListByTarget(_ context.Context, targetType, targetID string) ([]*models.AuditRecord, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.AuditRecord
	for _, r := range f.s.audits {
		if r.TargetType == targetType && r.TargetID == targetID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeRepoManager struct {
	repomanager.RepositoryManager
	s *fakeStore
}

func (m *fakeRepoManager) Accounts(dbx.DBTX) accounts.Repository         { return &fakeAccounts{m.s} }
func (m *fakeRepoManager) Ledger(dbx.DBTX) ledger.Repository             { return &fakeLedger{m.s} }
func (m *fakeRepoManager) Entitlements(dbx.DBTX) entitlements.Repository { return &fakeEntitlements{m.s} }
func (m *fakeRepoManager) Resources(dbx.DBTX) resources.Repository       { return &fakeResources{m.s} }
func (m *fakeRepoManager) Audit(dbx.DBTX) audit.Repository               { return &fakeAudit{m.s} }

// ---- notifications ----

type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *captureNotifier) Notify(_ context.Context, ev notify.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *captureNotifier) kinds() []notify.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []notify.Kind
	for _, e := range c.events {
		out = append(out, e.Kind)
	}
	return out
}

// ---- helpers ----

type env struct {
	db       *sql.DB
	mock     sqlmock.Sqlmock
	store    *fakeStore
	notifier *captureNotifier
	clock    *clock.Fake
	signer   *callback.Signer
	deps     Deps
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := newFakeStore()
	n := &captureNotifier{}
	clk := clock.NewFake(t0)
	return &env{
		db:       db,
		mock:     mock,
		store:    store,
		notifier: n,
		clock:    clk,
		signer:   callback.NewSigner([]byte("cb-secret"), clk),
		deps: Deps{
			DB:          db,
			RepoManager: &fakeRepoManager{s: store},
			Log:         logging.Nop{},
			Notifier:    n,
			Clock:       clk,
			Retry:       dbx.RetryPolicy{Retries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
			AuditRetry:  dbx.RetryPolicy{Retries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		},
	}
}

func (e *env) expectCommit() {
	e.mock.ExpectBegin()
	e.mock.ExpectCommit()
}

func (e *env) expectRollback() {
	e.mock.ExpectBegin()
	e.mock.ExpectRollback()
}

func (e *env) token(t *testing.T, depositID string, action callback.Action) string {
	t.Helper()
	tok, err := e.signer.Issue(depositID, action, time.Hour)
	require.NoError(t, err)
	return tok
}
