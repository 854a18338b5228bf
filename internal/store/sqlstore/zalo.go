package sqlstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/commerce-chat/internal/models"
)

const maxZNSLogs = 100

// SaveZaloConsent records or renews consent for phone. A later consent from
// another Zalo account replaces the earlier one.
func (r *Repo) SaveZaloConsent(ctx context.Context, phone, zaloUserID string) (*models.ZaloConsent, error) {
	now := time.Now()
	c := &models.ZaloConsent{
		Phone:       phone,
		ZaloUserID:  zaloUserID,
		Active:      true,
		ConsentedAt: now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone"}},
		DoUpdates: clause.AssignmentColumns([]string{"zalo_user_id", "active", "consented_at", "updated_at"}),
	}).Create(c).Error
	if err != nil {
		return nil, errors.Wrap(err, "save zalo consent")
	}

	var out models.ZaloConsent
	if err := r.db.WithContext(ctx).Where("phone = ?", phone).First(&out).Error; err != nil {
		return nil, errors.Wrap(err, "reload zalo consent")
	}
	return &out, nil
}

// ActiveZaloConsent returns nil when phone has no active consent.
func (r *Repo) ActiveZaloConsent(ctx context.Context, phone string) (*models.ZaloConsent, error) {
	var c models.ZaloConsent
	err := r.db.WithContext(ctx).
		Where("phone = ? AND active = ?", phone, true).
		First(&c).Error
	return optional(&c, err)
}

// RevokeZaloConsent deactivates every consent given by the Zalo account.
func (r *Repo) RevokeZaloConsent(ctx context.Context, zaloUserID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.ZaloConsent{}).
		Where("zalo_user_id = ? AND active = ?", zaloUserID, true).
		Update("active", false)
	return res.RowsAffected, res.Error
}

func (r *Repo) InsertZNSLog(ctx context.Context, l *models.ZNSLog) error {
	if l.SentAt.IsZero() {
		l.SentAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(l).Error
}

// ListZNSLogs returns the newest attempts first, optionally for one order.
func (r *Repo) ListZNSLogs(ctx context.Context, orderNumber string, limit int) ([]models.ZNSLog, error) {
	if limit <= 0 || limit > maxZNSLogs {
		limit = 20
	}
	q := r.db.WithContext(ctx).Order("sent_at DESC").Order("id DESC").Limit(limit)
	if orderNumber != "" {
		q = q.Where("order_number = ?", orderNumber)
	}
	var logs []models.ZNSLog
	if err := q.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
