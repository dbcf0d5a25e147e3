package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/server/services"
)

// SignatureHeader carries hex(HMAC-SHA256(webhook secret, raw body)).
const SignatureHeader = "X-Signature"

const maxWebhookBody = 64 << 10

type depositWebhookRequest struct {
	AccountID         string `json:"account_id" validate:"required,max=128"`
	Amount            int64  `json:"amount" validate:"gt=0"`
	Currency          string `json:"currency,omitempty" validate:"omitempty,len=3,uppercase"`
	Provider          string `json:"provider" validate:"required,max=64"`
	ExternalPaymentID string `json:"external_payment_id" validate:"required,max=128"`
	EvidenceRef       string `json:"evidence_ref,omitempty" validate:"max=512"`
}

type depositWebhookResponse struct {
	DepositID string `json:"deposit_id"`
	Status    string `json:"status"`
	Replayed  bool   `json:"replayed,omitempty"`
}

// Sign returns the signature a provider sends for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *Handler) verifySignature(body []byte, sig string) bool {
	got, err := hex.DecodeString(sig)
	if err != nil || len(h.webhookSecret) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, h.webhookSecret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// depositWebhook records a provider-confirmed payment as a pending deposit.
// Redeliveries carry the same Idempotency-Key (or external payment id) and
// get the original deposit back.
func (h *Handler) depositWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	if !h.verifySignature(body, r.Header.Get(SignatureHeader)) {
		h.logger.Warn(ctx, "webhook signature mismatch", "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var req depositWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validate.StructCtx(ctx, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	key := r.Header.Get(common.IdempotencyKeyHeader)
	if key == "" {
		key = req.Provider + ":" + req.ExternalPaymentID
	}

	res, err := h.deposits.CreateDeposit(ctx, services.CreateDepositRequest{
		AccountID:         req.AccountID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		EvidenceRef:       req.EvidenceRef,
		IdempotencyKey:    key,
		Provider:          req.Provider,
		ExternalPaymentID: req.ExternalPaymentID,
	})
	if err != nil {
		status, msg := httpStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error(ctx, "webhook deposit failed", "error", err)
		}
		writeError(w, status, msg)
		return
	}

	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, depositWebhookResponse{DepositID: res.Entry.ID, Status: string(res.Entry.Status), Replayed: res.Replayed})
}

func httpStatus(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrInvalidAmount):
		return http.StatusUnprocessableEntity, "invalid amount"
	case errors.Is(err, common.ErrInvalidEvidence):
		return http.StatusUnprocessableEntity, "invalid evidence reference"
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, "account not found"
	case errors.Is(err, common.ErrAccountBanned):
		return http.StatusForbidden, "account banned"
	case errors.Is(err, common.ErrDuplicateKey):
		return http.StatusConflict, "idempotency key already used"
	case errors.Is(err, common.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store unavailable, retry later"
	}
	return http.StatusInternalServerError, "internal error"
}
