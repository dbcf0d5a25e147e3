package services

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/dbx"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/entitlements"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/ledger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// txStore gives fakeStore real transaction semantics for concurrency tests.
// A row read FOR UPDATE stays locked until its transaction ends, inserts
// lock their unique key the way a Postgres unique index does, and every
// write stays private to its transaction until commit. Rollback discards
// the writes.
type txStore struct {
	committed *fakeStore

	mu     sync.Mutex
	locks  map[string]chan struct{}
	open   map[int64]*txState
	nextID int64

	// grantErr, when set, fails every entitlement insert.
	grantErr error
	// creditErr, when set, fails every positive ApplyDelta.
	creditErr error
}

type txState struct {
	id       int64
	held     []string
	accounts map[string]*models.Account
	entries  map[string]*models.LedgerEntry
	keys     map[string]string
	ents     map[[2]string]*models.Entitlement
}

func newTxStore(committed *fakeStore) *txStore {
	return &txStore{committed: committed, locks: map[string]chan struct{}{}, open: map[int64]*txState{}}
}

func (st *txStore) begin() *txState {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.nextID++
	tx := &txState{
		id:       st.nextID,
		accounts: map[string]*models.Account{},
		entries:  map[string]*models.LedgerEntry{},
		keys:     map[string]string{},
		ents:     map[[2]string]*models.Entitlement{},
	}
	st.open[tx.id] = tx
	return tx
}

func (st *txStore) lock(ctx context.Context, tx *txState, key string) error {
	for _, k := range tx.held {
		if k == key {
			return nil
		}
	}
	st.mu.Lock()
	ch, ok := st.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		st.locks[key] = ch
	}
	st.mu.Unlock()

	select {
	case ch <- struct{}{}:
		tx.held = append(tx.held, key)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (st *txStore) end(tx *txState, commit bool) {
	if commit {
		s := st.committed
		s.mu.Lock()
		for id, a := range tx.accounts {
			s.accounts[id] = a
		}
		for id, e := range tx.entries {
			s.entries[id] = e
		}
		for k, id := range tx.keys {
			s.keys[k] = id
		}
		for k, e := range tx.ents {
			s.ents[k] = e
		}
		s.mu.Unlock()
	}

	st.mu.Lock()
	delete(st.open, tx.id)
	chans := make([]chan struct{}, 0, len(tx.held))
	for _, k := range tx.held {
		chans = append(chans, st.locks[k])
	}
	st.mu.Unlock()
	for _, ch := range chans {
		<-ch
	}
	tx.held = nil
}

// stateOf finds the transaction behind db, or nil for autocommit handles.
func (st *txStore) stateOf(db dbx.DBTX) *txState {
	tx, ok := db.(*sql.Tx)
	if !ok {
		return nil
	}
	var id int64
	if err := tx.QueryRowContext(context.Background(), txIDQuery).Scan(&id); err != nil {
		panic(fmt.Sprintf("txstore: %v", err))
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.open[id]
}

func (st *txStore) account(tx *txState, id string) (*models.Account, bool) {
	if a, ok := tx.accounts[id]; ok {
		return clone(a), true
	}
	st.committed.mu.Lock()
	defer st.committed.mu.Unlock()
	a, ok := st.committed.accounts[id]
	if !ok {
		return nil, false
	}
	return clone(a), true
}

func (st *txStore) entry(tx *txState, id string) (*models.LedgerEntry, bool) {
	if e, ok := tx.entries[id]; ok {
		return clone(e), true
	}
	st.committed.mu.Lock()
	defer st.committed.mu.Unlock()
	e, ok := st.committed.entries[id]
	if !ok {
		return nil, false
	}
	return clone(e), true
}

// ---- database/sql driver ----

const txIDQuery = "txstore: current transaction"

type txConnector struct{ st *txStore }

func (c txConnector) Connect(context.Context) (driver.Conn, error) { return &txConn{st: c.st}, nil }
func (c txConnector) Driver() driver.Driver                        { return txDriver{} }

type txDriver struct{}

func (txDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("txstore: use sql.OpenDB")
}

type txConn struct {
	st  *txStore
	cur *txState
}

func (c *txConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("txstore: statements are not supported")
}

func (c *txConn) Close() error { return nil }

func (c *txConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *txConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	c.cur = c.st.begin()
	return &txHandle{conn: c, state: c.cur}, nil
}

func (c *txConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if query != txIDQuery || c.cur == nil {
		return nil, fmt.Errorf("txstore: unexpected query %q", query)
	}
	return &idRows{id: c.cur.id}, nil
}

type txHandle struct {
	conn  *txConn
	state *txState
}

func (h *txHandle) Commit() error {
	h.conn.st.end(h.state, true)
	h.conn.cur = nil
	return nil
}

func (h *txHandle) Rollback() error {
	h.conn.st.end(h.state, false)
	h.conn.cur = nil
	return nil
}

type idRows struct {
	id   int64
	done bool
}

func (r *idRows) Columns() []string { return []string{"id"} }
func (r *idRows) Close() error      { return nil }

func (r *idRows) Next(dest []driver.Value) error {
	if r.done {
		return io.EOF
	}
	r.done = true
	dest[0] = r.id
	return nil
}

// ---- repositories ----

type txRepoManager struct {
	fakeRepoManager
	st *txStore
}

func (m *txRepoManager) Accounts(db dbx.DBTX) accounts.Repository {
	if tx := m.st.stateOf(db); tx != nil {
		return &txAccounts{fakeAccounts: fakeAccounts{m.s}, st: m.st, tx: tx}
	}
	return m.fakeRepoManager.Accounts(db)
}

func (m *txRepoManager) Ledger(db dbx.DBTX) ledger.Repository {
	if tx := m.st.stateOf(db); tx != nil {
		return &txLedger{fakeLedger: fakeLedger{m.s}, st: m.st, tx: tx}
	}
	return m.fakeRepoManager.Ledger(db)
}

func (m *txRepoManager) Entitlements(db dbx.DBTX) entitlements.Repository {
	if tx := m.st.stateOf(db); tx != nil {
		return &txEntitlements{fakeEntitlements: fakeEntitlements{m.s}, st: m.st, tx: tx}
	}
	return m.fakeRepoManager.Entitlements(db)
}

type txAccounts struct {
	fakeAccounts
	st *txStore
	tx *txState
}

func (r *txAccounts) Get(_ context.Context, id string) (*models.Account, error) {
	a, ok := r.st.account(r.tx, id)
	if !ok {
		return nil, common.ErrorNotFound
	}
	return a, nil
}

func (r *txAccounts) GetForUpdate(ctx context.Context, id string) (*models.Account, error) {
	if err := r.st.lock(ctx, r.tx, "account:"+id); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *txAccounts) ApplyDelta(_ context.Context, id string, delta, expectedVersion int64) (*models.Account, error) {
	if delta > 0 && r.st.creditErr != nil {
		return nil, r.st.creditErr
	}
	a, ok := r.st.account(r.tx, id)
	if !ok || a.Version != expectedVersion {
		return nil, common.ErrVersionConflict
	}
	if a.Balance+delta < 0 {
		return nil, errors.New("db error: balance check violated")
	}
	a.Balance += delta
	a.Version++
	r.tx.accounts[id] = a
	return clone(a), nil
}

type txLedger struct {
	fakeLedger
	st *txStore
	tx *txState
}

func (r *txLedger) Insert(ctx context.Context, e *models.LedgerEntry) error {
	if err := e.Metadata.Validate(e.Type); err != nil {
		return err
	}
	if e.IdempotencyKey != "" {
		if err := r.st.lock(ctx, r.tx, "key:"+e.IdempotencyKey); err != nil {
			return err
		}
		r.st.committed.mu.Lock()
		_, taken := r.st.committed.keys[e.IdempotencyKey]
		r.st.committed.mu.Unlock()
		if _, mine := r.tx.keys[e.IdempotencyKey]; taken || mine {
			return common.ErrDuplicateKey
		}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = t0
	r.tx.entries[e.ID] = clone(e)
	if e.IdempotencyKey != "" {
		r.tx.keys[e.IdempotencyKey] = e.ID
	}
	return nil
}

func (r *txLedger) CreatePending(ctx context.Context, e *models.LedgerEntry) (string, error) {
	e.Status = models.StatusPending
	if err := r.Insert(ctx, e); err != nil {
		return "", err
	}
	return e.ID, nil
}

func (r *txLedger) Get(_ context.Context, id string) (*models.LedgerEntry, error) {
	e, ok := r.st.entry(r.tx, id)
	if !ok {
		return nil, common.ErrorNotFound
	}
	return e, nil
}

func (r *txLedger) GetForUpdate(ctx context.Context, id string) (*models.LedgerEntry, error) {
	if err := r.st.lock(ctx, r.tx, "entry:"+id); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *txLedger) TransitionToTerminal(_ context.Context, id string, status models.EntryStatus, tf models.TerminalFields) (*models.LedgerEntry, error) {
	e, ok := r.st.entry(r.tx, id)
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
	r.tx.entries[id] = e
	return clone(e), nil
}

type txEntitlements struct {
	fakeEntitlements
	st *txStore
	tx *txState
}

func (r *txEntitlements) Create(ctx context.Context, e *models.Entitlement) error {
	if r.st.grantErr != nil {
		return r.st.grantErr
	}
	k := [2]string{e.AccountID, e.ResourceID}
	if err := r.st.lock(ctx, r.tx, "grant:"+k[0]+"/"+k[1]); err != nil {
		return err
	}
	if owned, _ := r.Exists(ctx, k[0], k[1]); owned {
		return common.ErrDuplicateKey
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	r.tx.ents[k] = clone(e)
	return nil
}

func (r *txEntitlements) Exists(ctx context.Context, accountID, resourceID string) (bool, error) {
	if e, ok := r.tx.ents[[2]string{accountID, resourceID}]; ok {
		return e.Status == models.EntitlementApproved, nil
	}
	return r.fakeEntitlements.Exists(ctx, accountID, resourceID)
}

// ---- env ----

// newTxEnv is newEnv backed by txStore: services run real transactions
// through database/sql, so concurrent callers block on row locks and a
// failed transaction leaves no trace.
func newTxEnv(t *testing.T) (*env, *txStore) {
	t.Helper()
	e := newEnv(t)
	st := newTxStore(e.store)

	db := sql.OpenDB(txConnector{st: st})
	t.Cleanup(func() { _ = db.Close() })

	e.db = db
	e.mock = nil
	e.deps.DB = db
	e.deps.RepoManager = &txRepoManager{fakeRepoManager: fakeRepoManager{s: e.store}, st: st}
	return e, st
}

func (st *txStore) requireNoOpenTx(t *testing.T) {
	t.Helper()
	st.mu.Lock()
	defer st.mu.Unlock()
	require.Empty(t, st.open, "transactions left open")
}
