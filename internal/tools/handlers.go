package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/suPer8Hu/commerce-chat/internal/address"
	"github.com/suPer8Hu/commerce-chat/internal/assistant"
	"github.com/suPer8Hu/commerce-chat/internal/models"
	"github.com/suPer8Hu/commerce-chat/internal/orderflow"
	"github.com/suPer8Hu/commerce-chat/internal/store/sqlstore"
	"github.com/suPer8Hu/commerce-chat/internal/turn"
)

const (
	MissingIdentityMessage = "Thiếu tên hoặc số điện thoại của khách"
	InvalidPhoneMessage    = "Số điện thoại không hợp lệ"
	ProductNotFoundMessage = "Không tìm thấy sản phẩm này"
	OutOfStockMessage      = "Sản phẩm này tạm hết hàng"
	NoImageMessage         = "Sản phẩm này chưa có ảnh"
	NotConfirmedMessage    = "Dạ chị xác nhận giúp em địa chỉ và sản phẩm trước khi chốt đơn nhé 🌸"
	AlreadyOrderedMessage  = "Đơn hàng đã được tạo"
	ProfileSavedMessage    = "Đã lưu thông tin khách hàng"

	profileFactImportance = 8
	addressFactImportance = 9
	addressFactPrefix     = "Địa chỉ giao hàng: "
)

func (d *Dispatcher) saveCustomerInfo(ctx context.Context, tc *turn.Context, c assistant.SaveCustomerInfo) (turn.ToolResult, error) {
	c.FullName = strings.TrimSpace(c.FullName)
	c.PreferredName = strings.TrimSpace(c.PreferredName)
	c.Phone = address.NormalizePhone(c.Phone)
	c.UsualSize = strings.ToUpper(strings.TrimSpace(c.UsualSize))
	if out, ok := d.check(c); !ok {
		return out, nil
	}
	if c.FullName == "" && c.PreferredName == "" && c.Phone == "" {
		return turn.Failed(MissingIdentityMessage), nil
	}
	if c.Phone != "" && !address.ValidPhone(c.Phone) {
		return turn.Failed(InvalidPhoneMessage), nil
	}

	conv := tc.Conversation
	profile, err := d.repo.EnsureProfile(ctx, conv.ID, conv.UserID)
	if err != nil {
		return turn.ToolResult{}, errors.Wrap(err, "ensure profile")
	}

	var f sqlstore.ProfileFields
	if c.FullName != "" {
		f.FullName = &c.FullName
	}
	if c.PreferredName != "" {
		f.PreferredName = &c.PreferredName
	}
	if c.Phone != "" {
		f.Phone = &c.Phone
	}
	if c.Height != nil {
		h := int(math.Round(*c.Height))
		f.Height = &h
	}
	if c.Weight != nil {
		w := int(math.Round(*c.Weight))
		f.Weight = &w
	}
	if c.UsualSize != "" {
		f.UsualSize = &c.UsualSize
	}
	f.StylePreference = c.StylePreference
	if err := d.repo.UpdateProfileFields(ctx, profile.ID, f); err != nil {
		return turn.ToolResult{}, errors.Wrap(err, "update profile")
	}

	if text := profileFact(c); text != "" {
		fact := &models.MemoryFact{
			ProfileID:  profile.ID,
			FactType:   models.FactPersonalInfo,
			FactText:   text,
			Importance: profileFactImportance,
		}
		if err := d.repo.ReplaceFact(ctx, text, fact); err != nil {
			log.WithError(err).WithField("conversation_id", conv.ID).Warn("profile fact not saved")
		}
	}

	if fresh, err := d.repo.GetProfileByID(ctx, profile.ID); err == nil {
		tc.Profile = fresh
	}
	return turn.Succeeded(ProfileSavedMessage, map[string]any{"profile_id": profile.ID}), nil
}

// profileFact renders e.g. "Tên: Lan | SĐT: 0901234567 | Size thường mặc: M".
func profileFact(c assistant.SaveCustomerInfo) string {
	var parts []string
	if name := firstNonEmpty(c.PreferredName, c.FullName); name != "" {
		parts = append(parts, "Tên: "+name)
	}
	if c.Phone != "" {
		parts = append(parts, "SĐT: "+c.Phone)
	}
	if c.Height != nil && c.Weight != nil {
		parts = append(parts, fmt.Sprintf("Vóc dáng: %gcm, %gkg", *c.Height, *c.Weight))
	}
	if c.UsualSize != "" {
		parts = append(parts, "Size thường mặc: "+c.UsualSize)
	}
	if len(c.StylePreference) > 0 {
		parts = append(parts, "Phong cách: "+strings.Join(c.StylePreference, ", "))
	}
	return strings.Join(parts, " | ")
}

// saveAddress validates, persists and then re-reads the address. A street
// that is only digits is the model mistaking a phone for an address, so the
// whole customer message is parsed again instead.
func (d *Dispatcher) saveAddress(ctx context.Context, tc *turn.Context, req Request, c assistant.SaveAddress) (turn.ToolResult, error) {
	if out, ok := d.check(c); !ok {
		return out, nil
	}
	conv := tc.Conversation
	logger := log.WithFields(log.Fields{"conversation_id": conv.ID, "tool": assistant.ToolSaveAddress})

	a := address.Normalize(models.ShippingAddress{
		FullName:    c.FullName,
		Phone:       c.Phone,
		AddressLine: c.AddressLine,
		Ward:        c.Ward,
		District:    c.District,
		City:        c.City,
	})
	v := address.Validate(a)
	if !v.OK {
		if !v.NeedsReparse() {
			logger.WithField("reason", v.Reason).Info("address rejected")
			return turn.Failed(v.Message), nil
		}
		found, ok := address.Extract(req.Message)
		if !ok {
			logger.Info("address re-parse found nothing usable")
			return turn.Failed(v.Message), nil
		}
		if found.FullName == "" {
			found.FullName = a.FullName
		}
		if found.Phone == "" && address.ValidPhone(a.Phone) {
			found.Phone = a.Phone
		}
		a = address.Normalize(found)
		logger.WithField("address", a.Full()).Info("address recovered from message text")
	}

	profile, err := d.repo.EnsureProfile(ctx, conv.ID, conv.UserID)
	if err != nil {
		return turn.ToolResult{}, errors.Wrap(err, "ensure profile")
	}
	if conv.UserID != nil {
		if _, err := d.repo.UpsertDefaultAddress(ctx, *conv.UserID, a); err != nil {
			return turn.ToolResult{}, errors.Wrap(err, "upsert default address")
		}
	}
	if err := d.repo.UpdateShippingSnapshot(ctx, profile.ID, a); err != nil {
		return turn.ToolResult{}, errors.Wrap(err, "update shipping snapshot")
	}

	fact := &models.MemoryFact{
		ProfileID:  profile.ID,
		FactType:   models.FactShipping,
		FactText:   addressFactPrefix + a.Full(),
		Importance: addressFactImportance,
	}
	if err := d.repo.ReplaceFact(ctx, addressFactPrefix, fact); err != nil {
		logger.WithError(err).Warn("address fact not saved")
	}

	// 1) verify the write is visible before reporting success
	saved, err := d.repo.GetProfileByID(ctx, profile.ID)
	if err != nil {
		return turn.ToolResult{}, errors.Wrap(err, "re-read profile")
	}
	if saved.AddressLine != a.AddressLine || saved.City != a.City {
		return turn.ToolResult{}, errors.New("saved address does not match")
	}

	// 2) later stages of this turn see the new address
	tc.Profile = saved
	tc.SavedAddress = saved.Shipping()

	return turn.Succeeded(address.SavedMessage, map[string]any{"address": a.Full()}), nil
}

func (d *Dispatcher) addToCart(ctx context.Context, tc *turn.Context, c assistant.AddToCart) (turn.ToolResult, error) {
	c.Size = strings.ToUpper(strings.TrimSpace(c.Size))
	if c.Quantity <= 0 {
		c.Quantity = 1
	}
	if out, ok := d.check(c); !ok {
		return out, nil
	}

	product, out, err := d.product(ctx, c.ProductID)
	if product == nil {
		return out, err
	}
	if !product.InStock() {
		return turn.Failed(OutOfStockMessage), nil
	}

	item := &models.CartItem{
		ConversationID: tc.Conversation.ID,
		ProductID:      product.ID,
		ProductName:    product.Name,
		Size:           c.Size,
		Quantity:       c.Quantity,
		Price:          product.Price,
		ImageURL:       product.PrimaryImageURL(),
	}
	lines, merged, err := d.repo.AddToCart(ctx, item)
	if err != nil {
		return turn.ToolResult{}, err
	}
	if cart, err := d.repo.GetCart(ctx, tc.Conversation.ID); err == nil {
		tc.Cart = cart
	}

	label := product.Name
	if item.Size != "" {
		label = fmt.Sprintf("%s (Size %s)", product.Name, item.Size)
	}
	return turn.Succeeded(
		fmt.Sprintf("Đã thêm %s x%d vào giỏ hàng", label, c.Quantity),
		map[string]any{
			"cart_count": lines,
			"merged":     merged,
			"quantity":   item.Quantity,
		},
	), nil
}

func (d *Dispatcher) confirmAndCreateOrder(ctx context.Context, tc *turn.Context, c assistant.ConfirmAndCreateOrder, res *turn.Result) (turn.ToolResult, error) {
	if !c.Confirmed {
		return turn.Failed(NotConfirmedMessage), nil
	}
	order, err := d.flow.PlaceOrder(ctx, tc, res, orderflow.TriggerTool)
	switch {
	case errors.Is(err, orderflow.ErrAlreadyOrdered):
		return turn.Failed(AlreadyOrderedMessage), nil
	case err != nil:
		if reply := orderflow.FailureReply(err); reply != orderflow.CreateFailedReply {
			return turn.Failed(reply), nil
		}
		return turn.ToolResult{}, err
	}
	return turn.Succeeded(orderflow.SuccessReply(order), map[string]any{
		"order_number": order.OrderNumber,
		"total":        order.Total,
	}), nil
}

func (d *Dispatcher) sendProductImage(ctx context.Context, tc *turn.Context, req Request, c assistant.SendProductImage, res *turn.Result) (turn.ToolResult, error) {
	if out, ok := d.check(c); !ok {
		return out, nil
	}
	product, out, err := d.product(ctx, c.ProductID)
	if product == nil {
		return out, err
	}
	url := product.PrimaryImageURL()
	if url == "" {
		return turn.Failed(NoImageMessage), nil
	}

	payload, err := json.Marshal(models.MessagePayload{ImageURL: url, ProductID: product.ID.String()})
	if err != nil {
		return turn.ToolResult{}, err
	}

	// the history only records images the customer actually received
	if d.images != nil {
		if err := d.images.SendImage(ctx, tc.Conversation.Platform, req.Recipient, req.AccessToken, url, product); err != nil {
			return turn.ToolResult{}, errors.Wrap(err, "send image")
		}
	}

	msg := &models.Message{
		ConversationID: tc.Conversation.ID,
		Sender:         models.SenderBot,
		MessageType:    models.MessageImage,
		Content:        product.Name,
		Payload:        datatypes.JSON(payload),
	}
	if err := d.repo.InsertMessage(ctx, msg); err != nil {
		return turn.ToolResult{}, errors.Wrap(err, "insert image message")
	}

	res.MessageType = models.MessageImage
	res.ImageURL = url
	res.ImageProduct = product
	return turn.Succeeded("Đã gửi ảnh "+product.Name, map[string]any{
		"image_url":  url,
		"product_id": product.ID.String(),
	}), nil
}

// product resolves an id from the model. A nil product comes with either a
// failure result or an error.
func (d *Dispatcher) product(ctx context.Context, rawID string) (*models.Product, turn.ToolResult, error) {
	id, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return nil, turn.Failed(ProductNotFoundMessage), nil
	}
	p, err := d.repo.GetProduct(ctx, id)
	switch {
	case sqlstore.IsNotFound(err):
		return nil, turn.Failed(ProductNotFoundMessage), nil
	case err != nil:
		return nil, turn.ToolResult{}, errors.Wrap(err, "get product")
	case !p.IsActive:
		return nil, turn.Failed(ProductNotFoundMessage), nil
	}
	return p, turn.ToolResult{}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
