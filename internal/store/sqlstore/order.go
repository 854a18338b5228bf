package sqlstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/suPer8Hu/commerce-chat/internal/models"
)

// CreateOrderFromCart inserts the order with its items and deletes exactly the
// cart lines it was built from, in one transaction. If any of those lines is
// already gone (another checkout consumed them) nothing is written and
// ErrCartChanged is returned.
func (r *Repo) CreateOrderFromCart(ctx context.Context, order *models.Order, cartLineIDs []uint64) error {
	if len(cartLineIDs) == 0 || len(order.Items) == 0 {
		return ErrEmptyCart
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("conversation_id = ? AND id IN ?", order.ConversationID, cartLineIDs).
			Delete(&models.CartItem{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(cartLineIDs)) {
			return ErrCartChanged
		}
		if err := tx.Create(order).Error; err != nil {
			return errors.Wrap(err, "insert order")
		}
		return nil
	})
}

func (r *Repo) ListOrders(ctx context.Context, conversationID string) ([]models.Order, error) {
	var orders []models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *Repo) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	var o models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("order_number = ?", orderNumber).
		First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// DecrementStock lowers stock without going below zero. It reports whether a
// row changed.
func (r *Repo) DecrementStock(ctx context.Context, productID uuid.UUID, quantity int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ? AND stock >= ?", productID, quantity).
		Update("stock", gorm.Expr("stock - ?", quantity))
	return res.RowsAffected > 0, res.Error
}
