package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/server/models"
)

type CatalogService struct {
	base
}

func NewCatalogService(d Deps) *CatalogService {
	return &CatalogService{base: newBase(d, "catalog")}
}

func (s *CatalogService) UpsertResource(ctx context.Context, r *models.Resource) error {
	if r.Price < 0 {
		return fmt.Errorf("error saving resource: %w", common.ErrInvalidAmount)
	}
	if err := s.repomanager.Resources(s.db).Upsert(ctx, r); err != nil {
		return fmt.Errorf("error saving resource: %w", err)
	}
	s.log.Info(ctx, "resource saved", "resource_id", r.ID, "kind", r.Kind, "price", r.Price, "paid", r.IsPaid)
	return nil
}

func (s *CatalogService) GetResource(ctx context.Context, id string) (*models.Resource, error) {
	r, err := s.repomanager.Resources(s.db).Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error reading resource: %w", err)
	}
	return r, nil
}
