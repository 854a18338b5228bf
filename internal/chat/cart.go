package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/suPer8Hu/commerce-chat/internal/common"
	"github.com/suPer8Hu/commerce-chat/internal/models"
	"github.com/suPer8Hu/commerce-chat/internal/store/sqlstore"
)

const (
	EmptyCartMessage     = "Dạ giỏ hàng của chị hiện đang trống ạ."
	AmbiguousSizeMessage = "Dạ sản phẩm này chị đang chọn nhiều size, chị cho em biết size cần sửa nhé 🌸"
)

// Cart is a conversation's cart with its subtotal.
type Cart struct {
	Items    []models.CartItem `json:"items"`
	Count    int               `json:"count"`
	Subtotal int64             `json:"subtotal"`
	Summary  string            `json:"summary"`
}

func (s *Service) ListCart(ctx context.Context, conversationID string) (*Cart, error) {
	if _, err := s.repo.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	items, err := s.repo.GetCart(ctx, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	if items == nil {
		items = []models.CartItem{}
	}
	c := &Cart{Items: items, Summary: CartSummary(items)}
	for _, it := range items {
		c.Count += it.Quantity
		c.Subtotal += it.LineTotal()
	}
	return c, nil
}

// UpdateCartQuantity sets a line's quantity. A product with several sizes in
// the cart needs an explicit size; the returned text asks for it.
func (s *Service) UpdateCartQuantity(ctx context.Context, conversationID string, productID uuid.UUID, size string, quantity int) (string, error) {
	err := s.repo.UpdateCartQuantity(ctx, conversationID, productID, size, quantity)
	switch {
	case errors.Is(err, sqlstore.ErrAmbiguousSize):
		return AmbiguousSizeMessage, nil
	case err != nil:
		return "", err
	}
	items, err := s.repo.GetCart(ctx, conversationID)
	if err != nil {
		return "", errors.Wrap(err, "load cart")
	}
	return CartSummary(items), nil
}

func (s *Service) RemoveFromCart(ctx context.Context, conversationID string, productID uuid.UUID, size string) (int64, error) {
	return s.repo.RemoveFromCart(ctx, conversationID, productID, size)
}

func (s *Service) ClearCart(ctx context.Context, conversationID string) error {
	return s.repo.ClearCart(ctx, conversationID)
}

// CartSummary renders the cart the way the assistant reads it back.
func CartSummary(items []models.CartItem) string {
	if len(items) == 0 {
		return EmptyCartMessage
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Dạ, em kiểm tra giỏ hàng của chị đang có %d sản phẩm:\n", len(items))
	var subtotal int64
	for _, it := range items {
		name := it.ProductName
		if it.Size != "" {
			name += " (Size " + it.Size + ")"
		}
		fmt.Fprintf(&b, "• %s x%d - %s\n", name, it.Quantity, common.FormatVND(it.LineTotal()))
		subtotal += it.LineTotal()
	}
	fmt.Fprintf(&b, "\n💰 Tạm tính: %s", common.FormatVND(subtotal))
	return b.String()
}
