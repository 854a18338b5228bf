package sqlstore

import (
	"context"
	"time"

	"github.com/suPer8Hu/commerce-chat/internal/models"
)

func (r *Repo) InsertMessage(ctx context.Context, m *models.Message) error {
	if m.MessageType == "" {
		m.MessageType = models.MessageText
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", m.ConversationID).
		Update("last_active_at", time.Now()).Error
}

// ListMessages returns messages in DESC id order (newest -> oldest).
func (r *Repo) ListMessages(ctx context.Context, conversationID string, limit int, beforeID uint64) ([]models.Message, error) {
	q := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		Limit(limit)

	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []models.Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListRecentMessagesDesc returns the most recent messages in DESC id order (newest -> oldest).
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 10
	}
	return r.ListMessages(ctx, conversationID, limit, 0)
}

// LastBotMessages returns up to n bot messages, newest first.
func (r *Repo) LastBotMessages(ctx context.Context, conversationID string, n int) ([]models.Message, error) {
	var msgs []models.Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND sender = ?", conversationID, models.SenderBot).
		Order("id DESC").
		Limit(n).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Repo) CountMessages(ctx context.Context, conversationID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&n).Error
	return n, err
}
