// Package telegram handles admin button presses on deposit notifications.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/logging"
	"github.com/dmitrijs2005/paywall/internal/server/callback"
	ledger "github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/dmitrijs2005/paywall/internal/server/notify"
	"github.com/dmitrijs2005/paywall/internal/server/services"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

type decider interface {
	ApproveDeposit(ctx context.Context, depositID, adminID, token string) (*services.DecisionResult, error)
	RejectDeposit(ctx context.Context, depositID, adminID, reason, token string) (*services.DecisionResult, error)
}

type tokenParser interface {
	Parse(token string) (*callback.Claims, error)
}

type answerer interface {
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

const rejectReason = "rejected via telegram"

type CallbackHandler struct {
	deposits decider
	tokens   tokenParser
	admins   map[int64]bool
	logger   logging.Logger
}

func NewCallbackHandler(deposits decider, tokens tokenParser, adminIDs []int64, l logging.Logger) *CallbackHandler {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &CallbackHandler{deposits: deposits, tokens: tokens, admins: admins, logger: l.With("module", "telegram")}
}

// NewBot creates a bot that routes every callback query to h.
func NewBot(token string, h *CallbackHandler, opts ...bot.Option) (*bot.Bot, error) {
	opts = append([]bot.Option{
		bot.WithCallbackQueryDataHandler("", bot.MatchTypePrefix, h.handler),
		bot.WithDefaultHandler(func(context.Context, *bot.Bot, *models.Update) {}),
	}, opts...)
	return bot.New(token, opts...)
}

func (h *CallbackHandler) handler(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}
	h.Handle(ctx, b, update.CallbackQuery)
}

// Handle settles the deposit named by the button's token and answers the
// query with the outcome.
func (h *CallbackHandler) Handle(ctx context.Context, a answerer, q *models.CallbackQuery) {
	text := h.decide(ctx, q)

	if _, err := a.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: q.ID,
		Text:            text,
		ShowAlert:       true,
	}); err != nil {
		h.logger.Error(ctx, "answer callback failed", "query_id", q.ID, "error", err)
	}
}

func (h *CallbackHandler) decide(ctx context.Context, q *models.CallbackQuery) string {
	if !h.admins[q.From.ID] {
		h.logger.Warn(ctx, "callback from non-admin", "user_id", q.From.ID)
		return "Not allowed"
	}

	claims, err := h.tokens.Parse(q.Data)
	if err != nil {
		h.logger.Warn(ctx, "invalid callback token", "user_id", q.From.ID)
		return "This button has expired"
	}

	adminID := "tg:" + strconv.FormatInt(q.From.ID, 10)
	var res *services.DecisionResult
	switch claims.Action {
	case callback.ActionApprove:
		res, err = h.deposits.ApproveDeposit(ctx, claims.DepositID, adminID, q.Data)
	case callback.ActionReject:
		res, err = h.deposits.RejectDeposit(ctx, claims.DepositID, adminID, rejectReason, q.Data)
	default:
		return "Unknown action"
	}

	var ate *common.AlreadyTerminalError
	switch {
	case err == nil:
	case errors.As(err, &ate):
		return "Already " + ate.Status
	case errors.Is(err, common.ErrInvalidToken):
		return "This button has expired"
	case errors.Is(err, common.ErrorNotFound):
		return "Deposit not found"
	default:
		h.logger.Error(ctx, "callback decision failed", "deposit_id", claims.DepositID, "error", err)
		return "Failed, please try again"
	}

	e := res.Entry
	if res.Replayed {
		return fmt.Sprintf("Already %s", e.Status)
	}
	if e.Status == ledger.StatusApproved {
		return fmt.Sprintf("Approved %s, balance %s", notify.FormatAmount(e.Amount, e.Currency),
			notify.FormatAmount(res.BalanceAfter, e.Currency))
	}
	return fmt.Sprintf("Rejected %s", notify.FormatAmount(e.Amount, e.Currency))
}
