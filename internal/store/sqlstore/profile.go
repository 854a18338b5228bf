package sqlstore

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/suPer8Hu/commerce-chat/internal/models"
)

// GetProfile returns the conversation's profile, or nil when none exists yet.
func (r *Repo) GetProfile(ctx context.Context, conversationID string) (*models.CustomerProfile, error) {
	var p models.CustomerProfile
	err := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).First(&p).Error
	return optional(&p, err)
}

// EnsureProfile gets or creates the profile of a conversation and links it to
// userID when one is known.
func (r *Repo) EnsureProfile(ctx context.Context, conversationID string, userID *uint64) (*models.CustomerProfile, error) {
	p, err := r.GetProfile(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		if userID != nil && p.UserID == nil {
			p.UserID = userID
			if err := r.db.WithContext(ctx).Model(p).Update("user_id", *userID).Error; err != nil {
				return nil, err
			}
		}
		return p, nil
	}

	p = &models.CustomerProfile{ConversationID: conversationID, UserID: userID}
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		// concurrent create on the unique conversation_id
		again, getErr := r.GetProfile(ctx, conversationID)
		if getErr == nil && again != nil {
			return again, nil
		}
		return nil, errors.Wrap(err, "create profile")
	}
	return p, nil
}

// ProfileFields holds the identity fields to change; nil means untouched.
type ProfileFields struct {
	FullName        *string
	PreferredName   *string
	Phone           *string
	Height          *int
	Weight          *int
	UsualSize       *string
	StylePreference []string
}

func (f ProfileFields) updates() (map[string]any, error) {
	u := map[string]any{}
	if f.FullName != nil {
		u["full_name"] = *f.FullName
	}
	if f.PreferredName != nil {
		u["preferred_name"] = *f.PreferredName
	}
	if f.Phone != nil {
		u["phone"] = *f.Phone
	}
	if f.Height != nil {
		u["height"] = *f.Height
	}
	if f.Weight != nil {
		u["weight"] = *f.Weight
	}
	if f.UsualSize != nil {
		u["usual_size"] = *f.UsualSize
	}
	if len(f.StylePreference) > 0 {
		b, err := json.Marshal(f.StylePreference)
		if err != nil {
			return nil, err
		}
		u["style_preference"] = datatypes.JSON(b)
	}
	return u, nil
}

func (r *Repo) UpdateProfileFields(ctx context.Context, profileID uint64, f ProfileFields) error {
	u, err := f.updates()
	if err != nil {
		return err
	}
	if len(u) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.CustomerProfile{}).
		Where("id = ?", profileID).
		Updates(u).Error
}

// UpdateShippingSnapshot overwrites the snapshot; name and phone are only
// replaced when the new address carries them.
func (r *Repo) UpdateShippingSnapshot(ctx context.Context, profileID uint64, a models.ShippingAddress) error {
	u := map[string]any{
		"address_line": a.AddressLine,
		"ward":         a.Ward,
		"district":     a.District,
		"city":         a.City,
	}
	if a.Phone != "" {
		u["phone"] = a.Phone
	}
	if a.FullName != "" {
		u["full_name"] = a.FullName
	}
	return r.db.WithContext(ctx).Model(&models.CustomerProfile{}).
		Where("id = ?", profileID).
		Updates(u).Error
}

func (r *Repo) GetProfileByID(ctx context.Context, profileID uint64) (*models.CustomerProfile, error) {
	var p models.CustomerProfile
	if err := r.db.WithContext(ctx).First(&p, profileID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetDefaultAddress returns the user's default address, or nil.
func (r *Repo) GetDefaultAddress(ctx context.Context, userID uint64) (*models.Address, error) {
	var a models.Address
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_default = ?", userID, true).
		Order("updated_at DESC").
		First(&a).Error
	return optional(&a, err)
}

// UpsertDefaultAddress writes a as the user's single default address.
func (r *Repo) UpsertDefaultAddress(ctx context.Context, userID uint64, a models.ShippingAddress) (*models.Address, error) {
	var out models.Address
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND is_default = ?", userID, true).
			Order("updated_at DESC").
			First(&out).Error
		switch {
		case err == nil:
			if a.FullName != "" {
				out.FullName = a.FullName
			}
			if a.Phone != "" {
				out.Phone = a.Phone
			}
			out.AddressLine = a.AddressLine
			out.Ward = a.Ward
			out.District = a.District
			out.City = a.City
			if err := tx.Save(&out).Error; err != nil {
				return err
			}
		case IsNotFound(err):
			out = models.Address{
				UserID:      userID,
				FullName:    a.FullName,
				Phone:       a.Phone,
				AddressLine: a.AddressLine,
				Ward:        a.Ward,
				District:    a.District,
				City:        a.City,
				IsDefault:   true,
			}
			if err := tx.Create(&out).Error; err != nil {
				return err
			}
		default:
			return err
		}

		return tx.Model(&models.Address{}).
			Where("user_id = ? AND id <> ? AND is_default = ?", userID, out.ID, true).
			Update("is_default", false).Error
	})
	if err != nil {
		return nil, errors.Wrap(err, "upsert default address")
	}
	return &out, nil
}
