package sqlstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/suPer8Hu/commerce-chat/internal/models"
)

// ListActiveFacts returns unexpired active facts, most important first.
func (r *Repo) ListActiveFacts(ctx context.Context, profileID uint64, limit int) ([]models.MemoryFact, error) {
	var facts []models.MemoryFact
	if err := r.db.WithContext(ctx).
		Where("profile_id = ? AND is_active = ?", profileID, true).
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		Order("importance DESC, id DESC").
		Limit(limit).
		Find(&facts).Error; err != nil {
		return nil, err
	}
	return facts, nil
}

func (r *Repo) InsertFact(ctx context.Context, f *models.MemoryFact) error {
	f.IsActive = true
	return r.db.WithContext(ctx).Create(f).Error
}

// ReplaceFact deactivates active facts of the profile whose text starts with
// prefix and inserts f.
func (r *Repo) ReplaceFact(ctx context.Context, prefix string, f *models.MemoryFact) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.MemoryFact{}).
			Where("profile_id = ? AND is_active = ? AND fact_text LIKE ?", f.ProfileID, true, prefix+"%").
			Update("is_active", false).Error; err != nil {
			return err
		}
		f.IsActive = true
		return tx.Create(f).Error
	})
}

// ExpireFacts deactivates facts whose expiry passed.
func (r *Repo) ExpireFacts(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.MemoryFact{}).
		Where("is_active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now).
		Update("is_active", false)
	return res.RowsAffected, res.Error
}

func (r *Repo) RecordProductInterest(ctx context.Context, profileID uint64, productID uuid.UUID) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.ProductInterest{}).
		Where("profile_id = ? AND product_id = ?", profileID, productID).
		Updates(map[string]any{
			"view_count":     gorm.Expr("view_count + 1"),
			"last_viewed_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&models.ProductInterest{
		ProfileID:    profileID,
		ProductID:    productID,
		ViewCount:    1,
		LastViewedAt: now,
	}).Error
}

// Interest is a product interest joined with the product name.
type Interest struct {
	ProductID uuid.UUID
	Name      string
	ViewCount int
}

func (r *Repo) ListInterests(ctx context.Context, profileID uint64, limit int) ([]Interest, error) {
	var out []Interest
	if err := r.db.WithContext(ctx).
		Table("product_interests AS pi").
		Select("pi.product_id AS product_id, p.name AS name, pi.view_count AS view_count").
		Joins("JOIN products AS p ON p.id = pi.product_id").
		Where("pi.profile_id = ?", profileID).
		Order("pi.view_count DESC, pi.last_viewed_at DESC").
		Limit(limit).
		Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// LatestSummary returns the newest summary, or nil.
func (r *Repo) LatestSummary(ctx context.Context, conversationID string) (*models.ConversationSummary, error) {
	var s models.ConversationSummary
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		First(&s).Error
	return optional(&s, err)
}

func (r *Repo) InsertSummary(ctx context.Context, s *models.ConversationSummary) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repo) InsertEmbedding(ctx context.Context, e *models.ConversationEmbedding) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *Repo) CountEmbeddings(ctx context.Context, conversationID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.ConversationEmbedding{}).
		Where("conversation_id = ?", conversationID).
		Count(&n).Error
	return n, err
}

func (r *Repo) InsertUsageLog(ctx context.Context, u *models.UsageLog) error {
	return r.db.WithContext(ctx).Create(u).Error
}
