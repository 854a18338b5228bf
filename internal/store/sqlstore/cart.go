package sqlstore

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/suPer8Hu/commerce-chat/internal/models"
)

func (r *Repo) GetCart(ctx context.Context, conversationID string) ([]models.CartItem, error) {
	var items []models.CartItem
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// AddToCart merges item into the cart line with the same product and size,
// summing quantities. It returns the number of lines in the cart afterwards.
func (r *Repo) AddToCart(ctx context.Context, item *models.CartItem) (lines int, merged bool, err error) {
	item.Size = strings.ToUpper(strings.TrimSpace(item.Size))
	if item.Quantity <= 0 {
		item.Quantity = 1
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.CartItem
		findErr := tx.Where("conversation_id = ? AND product_id = ? AND size = ?",
			item.ConversationID, item.ProductID, item.Size).
			First(&existing).Error
		switch {
		case findErr == nil:
			merged = true
			if err := tx.Model(&existing).Updates(map[string]any{
				"quantity":     gorm.Expr("quantity + ?", item.Quantity),
				"price":        item.Price,
				"image_url":    item.ImageURL,
				"product_name": item.ProductName,
			}).Error; err != nil {
				return err
			}
			item.ID = existing.ID
			item.Quantity += existing.Quantity
		case IsNotFound(findErr):
			if err := tx.Create(item).Error; err != nil {
				return err
			}
		default:
			return findErr
		}

		var n int64
		if err := tx.Model(&models.CartItem{}).
			Where("conversation_id = ?", item.ConversationID).
			Count(&n).Error; err != nil {
			return err
		}
		lines = int(n)
		return nil
	})
	if err != nil {
		return 0, false, errors.Wrap(err, "add to cart")
	}
	return lines, merged, nil
}

// UpdateCartQuantity sets the quantity of a line; quantity <= 0 removes it.
// An empty size is only accepted when the product has a single line.
func (r *Repo) UpdateCartQuantity(ctx context.Context, conversationID string, productID uuid.UUID, size string, quantity int) error {
	line, err := r.findCartLine(ctx, conversationID, productID, size)
	if err != nil {
		return err
	}
	if quantity <= 0 {
		return r.db.WithContext(ctx).Delete(&models.CartItem{}, line.ID).Error
	}
	return r.db.WithContext(ctx).Model(line).Update("quantity", quantity).Error
}

// RemoveFromCart deletes the product's lines; an empty size removes every size.
func (r *Repo) RemoveFromCart(ctx context.Context, conversationID string, productID uuid.UUID, size string) (int64, error) {
	q := r.db.WithContext(ctx).Where("conversation_id = ? AND product_id = ?", conversationID, productID)
	if s := strings.ToUpper(strings.TrimSpace(size)); s != "" {
		q = q.Where("size = ?", s)
	}
	res := q.Delete(&models.CartItem{})
	return res.RowsAffected, res.Error
}

func (r *Repo) ClearCart(ctx context.Context, conversationID string) error {
	return r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Delete(&models.CartItem{}).Error
}

func (r *Repo) findCartLine(ctx context.Context, conversationID string, productID uuid.UUID, size string) (*models.CartItem, error) {
	q := r.db.WithContext(ctx).Where("conversation_id = ? AND product_id = ?", conversationID, productID)
	if s := strings.ToUpper(strings.TrimSpace(size)); s != "" {
		q = q.Where("size = ?", s)
	}
	var lines []models.CartItem
	if err := q.Find(&lines).Error; err != nil {
		return nil, err
	}
	switch len(lines) {
	case 0:
		return nil, gorm.ErrRecordNotFound
	case 1:
		return &lines[0], nil
	}
	return nil, ErrAmbiguousSize
}
