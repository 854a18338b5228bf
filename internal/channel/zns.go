package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/suPer8Hu/commerce-chat/internal/models"
)

const znsPlatform = "zalo_zns"

var ErrZNSNotConfigured = errors.New("zalo zns: template or oauth credentials are not configured")

var orderStatusLabels = map[models.OrderStatus]string{
	"pending":    "Chờ xác nhận",
	"processing": "Đang xử lý",
	"confirmed":  "Đã xác nhận",
	"shipping":   "Đang giao hàng",
	"delivered":  "Đã giao hàng",
	"completed":  "Hoàn thành",
	"cancelled":  "Đã hủy",
}

// OrderStatusLabel is the Vietnamese status shown in notifications.
func OrderStatusLabel(s models.OrderStatus) string {
	if l, ok := orderStatusLabels[s]; ok {
		return l
	}
	return "Đang xử lý"
}

// ZNSOrder is the data one order notification template is filled with.
type ZNSOrder struct {
	OrderNumber  string
	CustomerName string
	Phone        string
	OrderDate    time.Time
	Status       models.OrderStatus
}

// ZNSResult is the provider's answer. Raw is set whenever a response body
// was decoded, including failed sends.
type ZNSResult struct {
	MsgID    string
	SentTime string
	Raw      json.RawMessage
}

// ZNS sends Zalo notification service template messages.
type ZNS struct {
	APIURL     string
	TemplateID string
	Client     *http.Client
	Policy     Policy
	Tokens     *TokenManager

	now func() time.Time
}

func NewZNS(apiURL, templateID string, policy Policy, tokens *TokenManager) *ZNS {
	return &ZNS{
		APIURL:     apiURL,
		TemplateID: templateID,
		Client:     defaultClient(),
		Policy:     NormalizePolicy(policy),
		Tokens:     tokens,
		now:        time.Now,
	}
}

func (z *ZNS) Configured() bool {
	return z != nil && z.TemplateID != "" && z.Tokens.Configured()
}

type znsResp struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
	Data    struct {
		MsgID    string `json:"msg_id"`
		SentTime string `json:"sent_time"`
	} `json:"data"`
}

// SendOrder fills the order template and sends it to the phone's Zalo
// account.
func (z *ZNS) SendOrder(ctx context.Context, o ZNSOrder) (ZNSResult, error) {
	var out ZNSResult
	if !z.Configured() {
		return out, ErrZNSNotConfigured
	}
	phone := InternationalPhone(o.Phone)
	if phone == "" {
		return out, errors.New("zalo zns: recipient phone is empty")
	}
	token, err := z.Tokens.Token(ctx)
	if err != nil {
		return out, err
	}

	body := map[string]any{
		"phone":       phone,
		"template_id": z.TemplateID,
		"template_data": map[string]string{
			"date":       o.OrderDate.Format("02/01/2006"),
			"order_code": o.OrderNumber,
			"name":       o.CustomerName,
			"status":     OrderStatusLabel(o.Status),
		},
		"tracking_id": "ORDER_" + o.OrderNumber + "_" + strconv.FormatInt(z.now().UnixMilli(), 10),
	}

	err = withRetry(ctx, z.Policy, znsPlatform, "order", func(ctx context.Context) error {
		var raw json.RawMessage
		if err := postJSON(ctx, z.Client, z.APIURL, map[string]string{"access_token": token}, body, &raw); err != nil {
			return err
		}
		out.Raw = raw

		var resp znsResp
		if err := json.Unmarshal(raw, &resp); err != nil {
			return errors.Wrap(err, "decode zns response")
		}
		if resp.Error != 0 {
			return &APIError{Code: resp.Error, Message: resp.Message}
		}
		out.MsgID = resp.Data.MsgID
		out.SentTime = resp.Data.SentTime
		return nil
	})
	return out, err
}

// InternationalPhone rewrites a Vietnamese number into the 84xxxxxxxxx form
// the notification API addresses.
func InternationalPhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case digits == "":
		return ""
	case strings.HasPrefix(digits, "84"):
		return digits
	case strings.HasPrefix(digits, "0"):
		return "84" + digits[1:]
	default:
		return digits
	}
}
