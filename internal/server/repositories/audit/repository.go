package audit

import (
	"context"

	"github.com/dmitrijs2005/paywall/internal/server/models"
)

type Repository interface {
	Append(ctx context.Context, rec *models.AuditRecord) error
	ListByTarget(ctx context.Context, targetType, targetID string) ([]*models.AuditRecord, error)
}
