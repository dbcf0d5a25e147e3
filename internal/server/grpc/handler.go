package grpc

import (
	"context"

	"github.com/dmitrijs2005/paywall/internal/server/services"
)

func (s *GRPCServer) Ping(ctx context.Context, req *PingRequest) (*PingResponse, error) {

	return &PingResponse{Status: "OK"}, nil

}

func (s *GRPCServer) OpenAccount(ctx context.Context, req *OpenAccountRequest) (*AccountResponse, error) {
	p := principalFrom(ctx)

	acc, created, err := s.accounts.OpenAccount(ctx, p.AccountID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return toAccount(acc, created), nil
}

func (s *GRPCServer) GetBalance(ctx context.Context, req *GetBalanceRequest) (*AccountResponse, error) {
	acc, err := s.accounts.GetBalance(ctx, principalFrom(ctx).AccountID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return toAccount(acc, false), nil
}

func (s *GRPCServer) ListUnlocked(ctx context.Context, req *ListUnlockedRequest) (*ListUnlockedResponse, error) {
	ids, err := s.accounts.ListUnlocked(ctx, principalFrom(ctx).AccountID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return &ListUnlockedResponse{ResourceIDs: ids}, nil
}

func (s *GRPCServer) CheckAccess(ctx context.Context, req *CheckAccessRequest) (*CheckAccessResponse, error) {
	ok, err := s.accounts.CheckAccess(ctx, principalFrom(ctx).AccountID, req.ResourceID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &CheckAccessResponse{Allowed: ok}, nil
}

func (s *GRPCServer) Purchase(ctx context.Context, req *PurchaseRequest) (*PurchaseResponse, error) {
	res, err := s.purchases.Purchase(ctx, principalFrom(ctx).AccountID, req.ResourceID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &PurchaseResponse{
		Status:        string(res.Status),
		ResourceID:    res.ResourceID,
		Price:         res.Price,
		EntryID:       res.EntryID,
		EntitlementID: res.EntitlementID,
		Balance:       res.Balance,
	}, nil
}

func (s *GRPCServer) PresignEvidenceUpload(ctx context.Context, req *PresignEvidenceUploadRequest) (*PresignEvidenceUploadResponse, error) {
	key, url, err := s.evidence.PresignUpload(ctx, principalFrom(ctx).AccountID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &PresignEvidenceUploadResponse{Key: key, URL: url}, nil
}

// CreateDeposit scopes client idempotency keys to the caller's account so
// two users picking the same key never see each other's deposits.
func (s *GRPCServer) CreateDeposit(ctx context.Context, req *CreateDepositRequest) (*DepositResponse, error) {
	accountID := principalFrom(ctx).AccountID
	key := req.IdempotencyKey
	if key != "" {
		key = accountID + ":" + key
	}
	res, err := s.deposits.CreateDeposit(ctx, services.CreateDepositRequest{
		AccountID:      accountID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		EvidenceRef:    req.EvidenceRef,
		IdempotencyKey: key,
		Provider:       services.ProviderManual,
	})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &DepositResponse{Entry: toEntry(res.Entry), Replayed: res.Replayed}, nil
}

func (s *GRPCServer) ApproveDeposit(ctx context.Context, req *ApproveDepositRequest) (*DecisionResponse, error) {
	res, err := s.deposits.ApproveDeposit(ctx, req.DepositID, principalFrom(ctx).AccountID, req.Token)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return toDecision(res), nil
}

func (s *GRPCServer) RejectDeposit(ctx context.Context, req *RejectDepositRequest) (*DecisionResponse, error) {
	res, err := s.deposits.RejectDeposit(ctx, req.DepositID, principalFrom(ctx).AccountID, req.Reason, req.Token)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return toDecision(res), nil
}

func (s *GRPCServer) ListStaleDeposits(ctx context.Context, req *ListStaleDepositsRequest) (*ListStaleDepositsResponse, error) {
	age := req.OlderThan.Duration
	if age <= 0 {
		age = s.staleAge
	}

	entries, err := s.deposits.ListPendingOlderThan(ctx, age, req.Limit)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	resp := &ListStaleDepositsResponse{Entries: make([]Entry, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, toEntry(e))
	}
	return resp, nil
}

func (s *GRPCServer) Reconcile(ctx context.Context, req *ReconcileRequest) (*ReconcileResponse, error) {
	if req.AccountID != "" {
		r, err := s.reconciler.Reconcile(ctx, req.AccountID)
		if err != nil {
			return nil, s.toStatus(ctx, err)
		}
		return &ReconcileResponse{Results: []Reconciliation{toReconciliation(*r)}}, nil
	}

	mismatches, err := s.reconciler.ReconcileAll(ctx)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	resp := &ReconcileResponse{Results: make([]Reconciliation, 0, len(mismatches))}
	for _, m := range mismatches {
		resp.Results = append(resp.Results, toReconciliation(m))
	}
	return resp, nil
}
