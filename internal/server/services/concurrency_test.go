package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/server/callback"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// race starts n goroutines together and waits for all of them.
func race(n int, fn func(i int)) {
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			fn(i)
		}()
	}
	close(start)
	wg.Wait()
}

func TestPurchase_ConcurrentSameResourceDebitsOnce(t *testing.T) {
	e, st := newTxEnv(t)
	e.store.seedAccount("acc-1", 1500)
	e.store.seedResource(video("r-1", 1000))
	svc := NewPurchaseService(e.deps, "USD")

	const n = 8
	results := make([]*PurchaseResult, n)
	errs := make([]error, n)
	race(n, func(i int) {
		results[i], errs[i] = svc.Purchase(context.Background(), "acc-1", "r-1")
	})

	statuses := map[PurchaseStatus]int{}
	for i := range n {
		require.NoError(t, errs[i])
		statuses[results[i].Status]++
	}
	assert.Equal(t, 1, statuses[PurchaseUnlocked])
	assert.Equal(t, n-1, statuses[PurchaseAlreadyUnlocked])

	assert.Equal(t, int64(500), e.store.balance("acc-1"))
	assert.Len(t, e.store.entriesOf("acc-1", models.EntryTypePurchase), 1)
	assert.Equal(t, 1, e.store.entitlementCount("acc-1"))
	e.store.requireReconciled(t)
	st.requireNoOpenTx(t)
}

func TestPurchase_ConcurrentDistinctResourcesNeverOverdraw(t *testing.T) {
	e, st := newTxEnv(t)
	e.store.seedAccount("acc-1", 1000)
	for i := range 5 {
		e.store.seedResource(video(fmt.Sprintf("r-%d", i), 300))
	}
	svc := NewPurchaseService(e.deps, "USD")

	errs := make([]error, 5)
	race(5, func(i int) {
		_, errs[i] = svc.Purchase(context.Background(), "acc-1", fmt.Sprintf("r-%d", i))
	})

	unlocked, short := 0, 0
	for _, err := range errs {
		if err == nil {
			unlocked++
			continue
		}
		assert.ErrorIs(t, err, common.ErrInsufficientFunds)
		short++
	}
	assert.Equal(t, 3, unlocked)
	assert.Equal(t, 2, short)
	assert.Equal(t, int64(100), e.store.balance("acc-1"))
	assert.Len(t, e.store.entriesOf("acc-1", models.EntryTypePurchase), 3)
	e.store.requireReconciled(t)
	st.requireNoOpenTx(t)
}

func TestDecide_ApproveRacingRejectSettlesOnce(t *testing.T) {
	e, st := newTxEnv(t)
	e.store.seedAccount("acc-1", 0)
	svc := newDepositSvc(e)

	const rounds = 20
	var credited int64
	for range rounds {
		dep, err := svc.CreateDeposit(context.Background(), CreateDepositRequest{
			AccountID: "acc-1", Amount: 500, EvidenceRef: "deposits/acc-1/receipt", Provider: ProviderManual,
		})
		require.NoError(t, err)
		id := dep.Entry.ID
		approveTok := e.token(t, id, callback.ActionApprove)
		rejectTok := e.token(t, id, callback.ActionReject)

		errs := make([]error, 2)
		race(2, func(i int) {
			if i == 0 {
				_, errs[i] = svc.ApproveDeposit(context.Background(), id, "admin-1", approveTok)
			} else {
				_, errs[i] = svc.RejectDeposit(context.Background(), id, "admin-2", "blurry", rejectTok)
			}
		})

		won := 0
		for _, err := range errs {
			if err == nil {
				won++
				continue
			}
			assert.ErrorIs(t, err, common.ErrAlreadyTerminal)
		}
		require.Equal(t, 1, won, "exactly one decision wins")

		settled, err := e.deps.RepoManager.Ledger(e.db).Get(context.Background(), id)
		require.NoError(t, err)
		if settled.Status == models.StatusApproved {
			require.NoError(t, errs[0])
			credited += 500
		} else {
			require.NoError(t, errs[1])
			assert.Equal(t, models.StatusRejected, settled.Status)
		}
		assert.Equal(t, credited, e.store.balance("acc-1"))
	}
	e.store.requireReconciled(t)
	st.requireNoOpenTx(t)
}

func TestCreateDeposit_ConcurrentSameKeyCreatesOnce(t *testing.T) {
	e, st := newTxEnv(t)
	e.store.seedAccount("acc-1", 0)
	svc := newDepositSvc(e)

	const n = 8
	results := make([]*DepositResult, n)
	errs := make([]error, n)
	race(n, func(i int) {
		results[i], errs[i] = svc.CreateDeposit(context.Background(), CreateDepositRequest{
			AccountID: "acc-1", Amount: 500, IdempotencyKey: "acc-1:order-7",
			EvidenceRef: "deposits/acc-1/receipt", Provider: ProviderManual,
		})
	})

	created := 0
	for i := range n {
		require.NoError(t, errs[i])
		if !results[i].Replayed {
			created++
		}
		assert.Equal(t, results[0].Entry.ID, results[i].Entry.ID)
	}
	assert.Equal(t, 1, created)
	assert.Len(t, e.store.entriesOf("acc-1", models.EntryTypeDeposit), 1)
	st.requireNoOpenTx(t)
}

func TestPurchase_GrantFailureLeavesNoTrace(t *testing.T) {
	e, st := newTxEnv(t)
	e.store.seedAccount("acc-1", 1500)
	e.store.seedResource(video("r-1", 1000))
	svc := NewPurchaseService(e.deps, "USD")

	st.grantErr = errBoom
	_, err := svc.Purchase(context.Background(), "acc-1", "r-1")
	require.ErrorIs(t, err, errBoom)

	assert.Equal(t, int64(1500), e.store.balance("acc-1"), "debit rolled back")
	assert.Empty(t, e.store.entriesOf("acc-1", models.EntryTypePurchase), "purchase entry rolled back")
	assert.Zero(t, e.store.entitlementCount("acc-1"))
	assert.Empty(t, e.notifier.events)
	st.requireNoOpenTx(t)

	st.grantErr = nil
	res, err := svc.Purchase(context.Background(), "acc-1", "r-1")
	require.NoError(t, err, "the account lock was released by the rollback")
	assert.Equal(t, PurchaseUnlocked, res.Status)
	assert.Equal(t, int64(500), e.store.balance("acc-1"))
	e.store.requireReconciled(t)
}

func TestApproveDeposit_CreditFailureKeepsDepositPending(t *testing.T) {
	e, st := newTxEnv(t)
	e.store.seedAccount("acc-1", 0)
	svc := newDepositSvc(e)

	dep, err := svc.CreateDeposit(context.Background(), CreateDepositRequest{AccountID: "acc-1", Amount: 500})
	require.NoError(t, err)
	id := dep.Entry.ID

	st.creditErr = errBoom
	_, err = svc.ApproveDeposit(context.Background(), id, "admin-1", e.token(t, id, callback.ActionApprove))
	require.ErrorIs(t, err, errBoom)

	entry, err := e.deps.RepoManager.Ledger(e.db).Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, entry.Status, "transition rolled back with the failed credit")
	assert.Equal(t, int64(0), e.store.balance("acc-1"))
	assert.Empty(t, e.store.audits)
	st.requireNoOpenTx(t)

	st.creditErr = nil
	res, err := svc.ApproveDeposit(context.Background(), id, "admin-1", e.token(t, id, callback.ActionApprove))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, int64(500), e.store.balance("acc-1"))
	e.store.requireReconciled(t)
}
