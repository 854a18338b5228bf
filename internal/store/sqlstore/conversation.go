package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/suPer8Hu/commerce-chat/internal/common"
	"github.com/suPer8Hu/commerce-chat/internal/models"
)

// ConversationKey identifies the customer behind an inbound message.
type ConversationKey struct {
	Platform       models.Platform
	CustomerFBID   string
	CustomerZaloID string
	UserID         *uint64
	SessionID      string
	PageID         string
	CustomerName   string
}

// IdentityKey picks the strongest identity available: channel id, then
// authenticated user, then anonymous session.
func (k ConversationKey) IdentityKey() (string, error) {
	switch {
	case k.Platform == models.PlatformFacebook && strings.TrimSpace(k.CustomerFBID) != "":
		return "facebook:" + strings.TrimSpace(k.CustomerFBID), nil
	case k.Platform == models.PlatformZalo && strings.TrimSpace(k.CustomerZaloID) != "":
		return "zalo:" + strings.TrimSpace(k.CustomerZaloID), nil
	case k.UserID != nil && *k.UserID > 0:
		return fmt.Sprintf("user:%d", *k.UserID), nil
	case strings.TrimSpace(k.SessionID) != "":
		return "session:" + strings.TrimSpace(k.SessionID), nil
	}
	return "", ErrNoIdentity
}

func (r *Repo) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) getConversationByIdentity(ctx context.Context, identityKey string) (*models.Conversation, error) {
	var c models.Conversation
	if err := r.db.WithContext(ctx).
		Where("identity_key = ?", identityKey).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOrCreateConversation returns the single conversation for the key's
// identity, creating it on first contact. created is false when it existed.
func (r *Repo) GetOrCreateConversation(ctx context.Context, key ConversationKey) (conv *models.Conversation, created bool, err error) {
	ik, err := key.IdentityKey()
	if err != nil {
		return nil, false, err
	}

	existing, err := r.getConversationByIdentity(ctx, ik)
	if err == nil {
		if key.CustomerName != "" && existing.CustomerName == "" {
			if err := r.db.WithContext(ctx).Model(existing).Update("customer_name", key.CustomerName).Error; err != nil {
				log.WithError(err).WithField("conversation_id", existing.ID).Warn("update customer name failed")
			} else {
				existing.CustomerName = key.CustomerName
			}
		}
		return existing, false, nil
	}
	if !IsNotFound(err) {
		return nil, false, errors.Wrap(err, "lookup conversation")
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, false, err
	}
	now := time.Now()
	c := &models.Conversation{
		ID:           id,
		Platform:     key.Platform,
		IdentityKey:  ik,
		UserID:       key.UserID,
		PageID:       key.PageID,
		CustomerName: key.CustomerName,
		LastActiveAt: now,
	}
	if key.CustomerFBID != "" {
		v := key.CustomerFBID
		c.CustomerFBID = &v
	}
	if key.CustomerZaloID != "" {
		v := key.CustomerZaloID
		c.CustomerZaloID = &v
	}
	if key.SessionID != "" {
		v := key.SessionID
		c.SessionID = &v
	}

	createErr := r.db.WithContext(ctx).Create(c).Error
	if createErr == nil {
		return c, true, nil
	}

	// lost the race on identity_key
	existing, getErr := r.getConversationByIdentity(ctx, ik)
	if getErr == nil {
		return existing, false, nil
	}
	if IsNotFound(getErr) {
		return nil, false, errors.Wrap(createErr, "create conversation")
	}
	return nil, false, getErr
}

// SetAwaitingConfirmation opens a confirmation. The question message id is
// recorded separately once the bot reply is stored.
func (r *Repo) SetAwaitingConfirmation(ctx context.Context, conversationID string) error {
	return r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]any{
			"awaiting_confirmation":        true,
			"confirmation_question_msg_id": 0,
		}).Error
}

func (r *Repo) RecordConfirmationQuestion(ctx context.Context, conversationID string, messageID uint64) error {
	return r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ? AND awaiting_confirmation = ?", conversationID, true).
		Update("confirmation_question_msg_id", messageID).Error
}

// ExpireConfirmation drops an open confirmation whose question is no longer
// recent.
func (r *Repo) ExpireConfirmation(ctx context.Context, conversationID string) error {
	return r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]any{
			"awaiting_confirmation":        false,
			"confirmation_question_msg_id": 0,
		}).Error
}

// ResolveConfirmation clears the awaiting flag and closes every bot message up
// to uptoMessageID as a confirmation source.
func (r *Repo) ResolveConfirmation(ctx context.Context, conversationID string, uptoMessageID uint64) error {
	return r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]any{
			"awaiting_confirmation":        false,
			"confirmation_question_msg_id": 0,
			"confirmation_resolved_msg_id": gorm.Expr("CASE WHEN confirmation_resolved_msg_id > ? THEN confirmation_resolved_msg_id ELSE ? END", uptoMessageID, uptoMessageID),
		}).Error
}
