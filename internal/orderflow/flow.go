// Package orderflow runs the text-driven checkout state machine that works
// next to explicit tool calls: it spots order intent, asks the customer to
// confirm the shipping address and creates the order once confirmed.
package orderflow

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/suPer8Hu/commerce-chat/internal/address"
	"github.com/suPer8Hu/commerce-chat/internal/common"
	"github.com/suPer8Hu/commerce-chat/internal/metrics"
	"github.com/suPer8Hu/commerce-chat/internal/models"
	"github.com/suPer8Hu/commerce-chat/internal/store/sqlstore"
	"github.com/suPer8Hu/commerce-chat/internal/turn"
)

type State string

const (
	StateNone                 State = "NONE"
	StateIntentDetected       State = "INTENT_DETECTED"
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"
	StateConfirmed            State = "CONFIRMED"
	StateCancelled            State = "CANCELLED"
)

// Order triggers, used as the metrics label.
const (
	TriggerTool      = "tool"
	TriggerOrderFlow = "order_flow"
)

const (
	NoProfileReply    = "Dạ em chưa lưu được thông tin của chị. Chị vui lòng cho em tên và số điện thoại nhé 💕"
	NeedAddressReply  = "Dạ chị cho em xin địa chỉ nhận hàng và số điện thoại để em tạo đơn ạ 💌"
	NeedProductsReply = "Dạ chị muốn đặt sản phẩm nào ạ? Em gợi ý chị vài mẫu đẹp nhé 🌸"
	CreateFailedReply = "Dạ em xin lỗi chị, có lỗi xảy ra khi tạo đơn. Chị cho em thử lại nhé 🙏"
	CancelledReply    = "Dạ vâng ạ, em chưa tạo đơn. Khi nào chị cần cứ nhắn em nhé 🌸"

	defaultCustomerName = "Khách hàng"
	defaultSize         = "One Size"
	freeShippingFrom    = 300000
	shippingFee         = 30000
	orderFactImportance = 7
	orderFactPrefix     = "Đã đặt hàng: "
)

var (
	ErrMissingCustomer = errors.New("orderflow: missing customer name or phone")
	ErrInvalidPhone    = errors.New("orderflow: invalid phone")
	ErrMissingAddress  = errors.New("orderflow: missing shipping address")
	ErrMissingCity     = errors.New("orderflow: missing shipping city")
	ErrAlreadyOrdered  = errors.New("orderflow: order already created this turn")
)

// Notifier is told about every created order.
type Notifier interface {
	OrderCreated(ctx context.Context, order *models.Order)
}

type Flow struct {
	repo     *sqlstore.Repo
	notifier Notifier
}

type Option func(*Flow)

func WithNotifier(n Notifier) Option {
	return func(f *Flow) { f.notifier = n }
}

func New(repo *sqlstore.Repo, opts ...Option) *Flow {
	f := &Flow{repo: repo}
	for _, o := range opts {
		o(f)
	}
	return f
}

// checkout is the fresh state an order is built from. It is re-read rather
// than taken from the turn context because tools may have changed the cart
// or the address earlier in the same turn.
type checkout struct {
	profile *models.CustomerProfile
	ship    models.ShippingAddress
	cart    []models.CartItem
}

func (f *Flow) load(ctx context.Context, conv *models.Conversation) (*checkout, error) {
	profile, err := f.repo.GetProfile(ctx, conv.ID)
	if err != nil {
		return nil, errors.Wrap(err, "load profile")
	}
	co := &checkout{profile: profile, ship: profile.Shipping()}

	if conv.UserID != nil {
		def, err := f.repo.GetDefaultAddress(ctx, *conv.UserID)
		if err != nil {
			log.WithError(err).WithField("conversation_id", conv.ID).Warn("orderflow: default address lookup failed")
		}
		if def != nil {
			s := def.Shipping()
			if s.Phone == "" {
				s.Phone = co.ship.Phone
			}
			if s.FullName == "" {
				s.FullName = co.ship.FullName
			}
			co.ship = s
		}
	}

	co.cart, err = f.repo.GetCart(ctx, conv.ID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	return co, nil
}

// missing returns the reply asking for the first missing piece, or "".
func (co *checkout) missing() string {
	switch {
	case co.profile == nil:
		return NoProfileReply
	case co.ship.Empty():
		return NeedAddressReply
	case len(co.cart) == 0:
		return NeedProductsReply
	}
	return ""
}

// Reconcile runs after tool dispatch and may override the reply. It never
// creates a second order in a turn that already has one.
func (f *Flow) Reconcile(ctx context.Context, tc *turn.Context, message string, customerMsgID uint64, res *turn.Result) (State, error) {
	conv := tc.Conversation
	logger := log.WithFields(log.Fields{"conversation_id": conv.ID, "op": "orderflow"})

	awaiting, err := f.Awaiting(ctx, conv)
	if err != nil {
		return StateNone, err
	}

	if awaiting {
		switch {
		case res.OrderCreated:
			// the explicit tool already checked out
			return StateConfirmed, f.resolve(ctx, conv, customerMsgID)
		case IsConfirmation(message):
			if err := f.resolve(ctx, conv, customerMsgID); err != nil {
				return StateAwaitingConfirmation, err
			}
			order, err := f.PlaceOrder(ctx, tc, res, TriggerOrderFlow)
			if err != nil {
				logger.WithError(err).Warn("order creation after confirmation failed")
				res.SetReply(FailureReply(err), turn.SourceOrderFlow)
				return StateConfirmed, nil
			}
			res.SetReply(SuccessReply(order), turn.SourceOrderFlow)
			return StateConfirmed, nil
		case IsCancellation(message):
			if err := f.resolve(ctx, conv, customerMsgID); err != nil {
				return StateAwaitingConfirmation, err
			}
			res.SetReply(CancelledReply, turn.SourceOrderFlow)
			return StateCancelled, nil
		}
	}

	if res.OrderCreated || !DetectIntent(message) {
		if awaiting {
			return StateAwaitingConfirmation, nil
		}
		return StateNone, nil
	}
	return f.ask(ctx, tc, res)
}

// ask moves INTENT_DETECTED to AWAITING_CONFIRMATION when cart and address
// are known, otherwise asks for what is missing.
func (f *Flow) ask(ctx context.Context, tc *turn.Context, res *turn.Result) (State, error) {
	co, err := f.load(ctx, tc.Conversation)
	if err != nil {
		return StateIntentDetected, err
	}
	if reply := co.missing(); reply != "" {
		res.SetReply(reply, turn.SourceOrderFlow)
		return StateIntentDetected, nil
	}

	if err := f.repo.SetAwaitingConfirmation(ctx, tc.Conversation.ID); err != nil {
		return StateIntentDetected, errors.Wrap(err, "set awaiting confirmation")
	}
	tc.Conversation.AwaitingConfirmation = true
	tc.Conversation.ConfirmationQuestionMsgID = 0
	res.SetReply(ConfirmationQuestion(co.ship), turn.SourceOrderFlow)
	res.ConfirmationAsked = true
	return StateAwaitingConfirmation, nil
}

// ConfirmationQuestion echoes the address back. The wording carries the
// "giao về" and "phải không" markers.
func ConfirmationQuestion(ship models.ShippingAddress) string {
	return fmt.Sprintf("Dạ chị vẫn %s: %s %s ạ? 💌", markerShipTo, ship.Full(), markerQuestion)
}

// QuestionStored records the stored bot message that asked for
// confirmation.
func (f *Flow) QuestionStored(ctx context.Context, conv *models.Conversation, messageID uint64) error {
	if err := f.repo.RecordConfirmationQuestion(ctx, conv.ID, messageID); err != nil {
		return errors.Wrap(err, "record confirmation question")
	}
	conv.ConfirmationQuestionMsgID = messageID
	return nil
}

// Awaiting reports whether one of the last two bot messages, newer than the
// last resolution, asked for confirmation: the recorded question, or a
// message carrying both markers. A flag whose question has scrolled out of
// that window is cleared.
func (f *Flow) Awaiting(ctx context.Context, conv *models.Conversation) (bool, error) {
	msgs, err := f.repo.LastBotMessages(ctx, conv.ID, 2)
	if err != nil {
		return false, errors.Wrap(err, "last bot messages")
	}

	open := false
	for _, m := range msgs {
		if m.ID <= conv.ConfirmationResolvedMsgID {
			continue
		}
		if (conv.AwaitingConfirmation && m.ID == conv.ConfirmationQuestionMsgID) || HasConfirmationMarkers(m.Content) {
			open = true
			break
		}
	}

	if conv.AwaitingConfirmation && !open {
		if err := f.repo.ExpireConfirmation(ctx, conv.ID); err != nil {
			return false, errors.Wrap(err, "expire confirmation")
		}
		conv.AwaitingConfirmation = false
		conv.ConfirmationQuestionMsgID = 0
		log.WithField("conversation_id", conv.ID).Info("stale confirmation question dropped")
	}
	return open, nil
}

func (f *Flow) resolve(ctx context.Context, conv *models.Conversation, customerMsgID uint64) error {
	if err := f.repo.ResolveConfirmation(ctx, conv.ID, customerMsgID); err != nil {
		return errors.Wrap(err, "resolve confirmation")
	}
	conv.AwaitingConfirmation = false
	conv.ConfirmationQuestionMsgID = 0
	if customerMsgID > conv.ConfirmationResolvedMsgID {
		conv.ConfirmationResolvedMsgID = customerMsgID
	}
	return nil
}

// PlaceOrder creates the order unless one was already created this turn and
// records it on res.
func (f *Flow) PlaceOrder(ctx context.Context, tc *turn.Context, res *turn.Result, trigger string) (*models.Order, error) {
	if res.OrderCreated {
		return nil, ErrAlreadyOrdered
	}
	order, err := f.CreateOrder(ctx, tc.Conversation, trigger)
	if err != nil {
		return nil, err
	}
	res.OrderCreated = true
	res.OrderNumber = order.OrderNumber
	return order, nil
}

// CreateOrder builds an order from the current cart and shipping address.
// The cart lines it used are deleted in the same transaction.
func (f *Flow) CreateOrder(ctx context.Context, conv *models.Conversation, trigger string) (*models.Order, error) {
	co, err := f.load(ctx, conv)
	if err != nil {
		return nil, err
	}
	order, lineIDs, err := co.build(conv)
	if err != nil {
		return nil, err
	}

	number, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	order.OrderNumber = "ORD-" + number

	if err := f.repo.CreateOrderFromCart(ctx, order, lineIDs); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	logger := log.WithFields(log.Fields{
		"conversation_id": conv.ID,
		"order_number":    order.OrderNumber,
		"trigger":         trigger,
	})
	logger.WithField("total", order.Total).Info("order created")
	metrics.OrderCreated(trigger)

	f.afterOrder(ctx, co.profile, order, logger)
	return order, nil
}

// afterOrder does the best-effort bookkeeping; failures are only logged.
func (f *Flow) afterOrder(ctx context.Context, profile *models.CustomerProfile, order *models.Order, logger *log.Entry) {
	names := make([]string, 0, len(order.Items))
	for _, it := range order.Items {
		names = append(names, it.ProductName)
		ok, err := f.repo.DecrementStock(ctx, it.ProductID, it.Quantity)
		if err != nil || !ok {
			logger.WithError(err).WithField("product_id", it.ProductID).Warn("stock not decremented")
		}
	}

	fact := &models.MemoryFact{
		ProfileID:  profile.ID,
		FactType:   models.FactOrder,
		FactText:   orderFactPrefix + strings.Join(names, ", "),
		Importance: orderFactImportance,
	}
	if err := f.repo.InsertFact(ctx, fact); err != nil {
		logger.WithError(err).Warn("order fact not saved")
	}

	if f.notifier != nil {
		f.notifier.OrderCreated(ctx, order)
	}
}

func (co *checkout) build(conv *models.Conversation) (*models.Order, []uint64, error) {
	if co.profile == nil {
		return nil, nil, ErrMissingCustomer
	}
	phone := address.NormalizePhone(co.ship.Phone)
	if phone == "" {
		phone = address.NormalizePhone(co.profile.Phone)
	}
	if phone == "" {
		return nil, nil, ErrMissingCustomer
	}
	if !address.ValidPhone(phone) {
		return nil, nil, ErrInvalidPhone
	}
	if utf8.RuneCountInString(strings.TrimSpace(co.ship.AddressLine)) < 5 {
		return nil, nil, ErrMissingAddress
	}
	city := strings.TrimSpace(co.ship.City)
	if city == "" {
		if found, _ := address.Extract(co.ship.Full()); found.City != "" {
			city = found.City
		} else {
			return nil, nil, ErrMissingCity
		}
	}
	if len(co.cart) == 0 {
		return nil, nil, sqlstore.ErrEmptyCart
	}

	name := firstNonEmpty(co.profile.FullName, co.ship.FullName, co.profile.PreferredName, conv.CustomerName, defaultCustomerName)

	order := &models.Order{
		ConversationID: conv.ID,
		UserID:         conv.UserID,
		CustomerName:   name,
		CustomerPhone:  phone,
		AddressLine:    strings.TrimSpace(co.ship.AddressLine),
		Ward:           strings.TrimSpace(co.ship.Ward),
		District:       strings.TrimSpace(co.ship.District),
		City:           city,
		Status:         models.OrderPending,
	}
	lineIDs := make([]uint64, 0, len(co.cart))
	for _, line := range co.cart {
		size := line.Size
		if size == "" {
			size = defaultSize
		}
		order.Items = append(order.Items, models.OrderItem{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Size:        size,
			Quantity:    line.Quantity,
			Price:       line.Price,
			ImageURL:    line.ImageURL,
		})
		order.Subtotal += line.LineTotal()
		lineIDs = append(lineIDs, line.ID)
	}
	order.ShippingFee = ShippingFee(order.Subtotal)
	order.Total = order.Subtotal + order.ShippingFee - order.Discount
	return order, lineIDs, nil
}

// ShippingFee is free from 300.000đ.
func ShippingFee(subtotal int64) int64 {
	if subtotal >= freeShippingFrom {
		return 0
	}
	return shippingFee
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// FailureReply maps an order error to the customer-facing message.
func FailureReply(err error) string {
	switch {
	case errors.Is(err, ErrMissingCustomer):
		return NoProfileReply
	case errors.Is(err, ErrInvalidPhone), errors.Is(err, ErrMissingAddress), errors.Is(err, ErrMissingCity):
		return NeedAddressReply
	case errors.Is(err, sqlstore.ErrEmptyCart), errors.Is(err, sqlstore.ErrCartChanged):
		return NeedProductsReply
	}
	return CreateFailedReply
}

// SuccessReply is the order receipt sent to the customer.
func SuccessReply(o *models.Order) string {
	var b strings.Builder
	b.WriteString("Dạ em đã ghi nhận đơn hàng của chị! 📝\n\n")

	b.WriteString("📦 SẢN PHẨM:\n")
	for _, it := range o.Items {
		fmt.Fprintf(&b, "• %s - Size %s x%d\n", it.ProductName, it.Size, it.Quantity)
	}

	b.WriteString("\n💰 TỔNG TIỀN:\n")
	fmt.Fprintf(&b, "• Tiền hàng: %s\n", common.FormatVND(o.Subtotal))
	fmt.Fprintf(&b, "• Phí ship: %s\n", common.FormatVND(o.ShippingFee))
	if o.Discount > 0 {
		fmt.Fprintf(&b, "• Giảm giá: -%s\n", common.FormatVND(o.Discount))
	}
	fmt.Fprintf(&b, "• TỔNG: %s\n", common.FormatVND(o.Total))

	fmt.Fprintf(&b, "\n📍 GIAO ĐẾN:\n%s\n", o.Shipping().Full())
	fmt.Fprintf(&b, "\n📞 SĐT: %s\n", o.CustomerPhone)
	fmt.Fprintf(&b, "🧾 Mã đơn: %s\n", o.OrderNumber)

	b.WriteString("\n🚚 Bộ phận kho sẽ liên hệ chị trong hôm nay để xác nhận và giao hàng ạ.\n\n")
	b.WriteString("Chị cần em hỗ trợ thêm gì không ạ? 💕")
	return b.String()
}
