package sqlstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/suPer8Hu/commerce-chat/internal/models"
)

func (r *Repo) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var p models.Product
	if err := r.db.WithContext(ctx).
		Preload("Images").
		First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	models.SortImages(p.Images)
	return &p, nil
}

func (r *Repo) GetProducts(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var ps []models.Product
	if err := r.db.WithContext(ctx).
		Preload("Images").
		Where("id IN ?", ids).
		Find(&ps).Error; err != nil {
		return nil, err
	}
	for i := range ps {
		models.SortImages(ps[i].Images)
	}
	return ps, nil
}

// ListActiveProducts returns the newest active products with sorted images.
func (r *Repo) ListActiveProducts(ctx context.Context, limit int) ([]models.Product, error) {
	if limit <= 0 {
		limit = 20
	}
	var ps []models.Product
	if err := r.db.WithContext(ctx).
		Preload("Images").
		Where("is_active = ?", true).
		Order("created_at DESC").
		Limit(limit).
		Find(&ps).Error; err != nil {
		return nil, err
	}
	for i := range ps {
		models.SortImages(ps[i].Images)
	}
	return ps, nil
}
