package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/paywall/internal/server/callback"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

type tokenIssuer interface {
	Issue(depositID string, action callback.Action, ttl time.Duration) (string, error)
}

// TelegramSink messages the admin chats. Pending deposits get approve and
// reject buttons whose callback data are signed tokens.
type TelegramSink struct {
	sender   messageSender
	issuer   tokenIssuer
	chatIDs  []int64
	tokenTTL time.Duration
}

func NewTelegramSink(sender messageSender, issuer tokenIssuer, chatIDs []int64, tokenTTL time.Duration) *TelegramSink {
	return &TelegramSink{sender: sender, issuer: issuer, chatIDs: chatIDs, tokenTTL: tokenTTL}
}

func (t *TelegramSink) Name() string { return "telegram" }

func (t *TelegramSink) Send(ctx context.Context, ev Event) error {
	var markup models.ReplyMarkup

	switch ev.Kind {
	case KindDepositCreated, KindDepositStale:
		kb, err := t.decisionKeyboard(ev.EntryID)
		if err != nil {
			return err
		}
		markup = kb
	case KindDepositApproved, KindDepositRejected:
	default:
		return nil
	}

	text := renderAdminMessage(ev)
	var errs []error
	for _, id := range t.chatIDs {
		_, err := t.sender.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:      id,
			Text:        text,
			ReplyMarkup: markup,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (t *TelegramSink) decisionKeyboard(depositID string) (*models.InlineKeyboardMarkup, error) {
	approve, err := t.issuer.Issue(depositID, callback.ActionApprove, t.tokenTTL)
	if err != nil {
		return nil, err
	}
	reject, err := t.issuer.Issue(depositID, callback.ActionReject, t.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{{
			{Text: "Approve", CallbackData: approve},
			{Text: "Reject", CallbackData: reject},
		}},
	}, nil
}

func renderAdminMessage(ev Event) string {
	var b strings.Builder
	switch ev.Kind {
	case KindDepositCreated:
		b.WriteString("New deposit awaiting review\n")
	case KindDepositStale:
		b.WriteString("Deposit still pending\n")
	case KindDepositApproved:
		b.WriteString("Deposit approved\n")
	case KindDepositRejected:
		b.WriteString("Deposit rejected\n")
	}
	fmt.Fprintf(&b, "Deposit: %s\nAccount: %s\nAmount: %s\n", ev.EntryID, ev.AccountID, FormatAmount(ev.Amount, ev.Currency))
	if ev.ActorID != "" {
		fmt.Fprintf(&b, "By: %s\n", ev.ActorID)
	}
	if ev.Note != "" {
		fmt.Fprintf(&b, "Note: %s\n", ev.Note)
	}
	if ev.EvidenceURL != "" {
		fmt.Fprintf(&b, "Evidence: %s\n", ev.EvidenceURL)
	}
	return strings.TrimRight(b.String(), "\n")
}
