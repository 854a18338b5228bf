package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/commerce-chat/internal/models"
)

func cachedTokens(t *testing.T) *TokenManager {
	cache := NewMemoryTokenCache()
	require.NoError(t, cache.Set(context.Background(), zaloAccessTokenKey, "oa-token", time.Hour))
	return NewTokenManager("http://unused", "app", "secret", "ref-1", cache)
}

func TestZNSSendsOrderTemplate(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		_, _ = w.Write([]byte(`{"error":0,"message":"Success","data":{"msg_id":"m-1","sent_time":"1700000000000"}}`))
	}))
	defer srv.Close()

	z := NewZNS(srv.URL+"/message/template", "tpl-9", fastPolicy(), cachedTokens(t))
	z.now = func() time.Time { return time.UnixMilli(1700000000123) }

	res, err := z.SendOrder(context.Background(), ZNSOrder{
		OrderNumber:  "ORD-1",
		CustomerName: "Nguyễn Thị Lan",
		Phone:        "090 123 4567",
		OrderDate:    time.Date(2026, 3, 7, 10, 0, 0, 0, time.Local),
		Status:       models.OrderPending,
	})
	require.NoError(t, err)
	assert.Equal(t, "m-1", res.MsgID)
	assert.Equal(t, "1700000000000", res.SentTime)
	assert.NotEmpty(t, res.Raw)

	require.Len(t, rec.calls, 1)
	call := rec.calls[0]
	assert.Equal(t, "/message/template", call.Path)
	assert.Equal(t, "oa-token", call.Header.Get("access_token"))
	assert.Equal(t, "84901234567", call.Body["phone"])
	assert.Equal(t, "tpl-9", call.Body["template_id"])
	assert.Equal(t, "ORDER_ORD-1_1700000000123", call.Body["tracking_id"])
	assert.Equal(t, map[string]any{
		"date":       "07/03/2026",
		"order_code": "ORD-1",
		"name":       "Nguyễn Thị Lan",
		"status":     "Chờ xác nhận",
	}, call.Body["template_data"])
}

func TestZNSApplicationErrorKeepsResponse(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		_, _ = w.Write([]byte(`{"error":-124,"message":"Invalid phone"}`))
	}))
	defer srv.Close()

	z := NewZNS(srv.URL, "tpl-9", fastPolicy(), cachedTokens(t))
	res, err := z.SendOrder(context.Background(), ZNSOrder{OrderNumber: "ORD-1", Phone: "0901234567"})
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, -124, ae.Code)
	assert.JSONEq(t, `{"error":-124,"message":"Invalid phone"}`, string(res.Raw))
	assert.Equal(t, 1, attempts)
}

func TestZNSNotConfigured(t *testing.T) {
	z := NewZNS("http://unused", "", fastPolicy(), cachedTokens(t))
	assert.False(t, z.Configured())
	_, err := z.SendOrder(context.Background(), ZNSOrder{OrderNumber: "ORD-1", Phone: "0901234567"})
	assert.ErrorIs(t, err, ErrZNSNotConfigured)

	z = NewZNS("http://unused", "tpl", fastPolicy(), nil)
	assert.False(t, z.Configured())
}

func TestInternationalPhone(t *testing.T) {
	cases := map[string]string{
		"0901234567":     "84901234567",
		"+84 901 234567": "84901234567",
		"84901234567":    "84901234567",
		"":               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, InternationalPhone(in), in)
	}
}

func TestOrderStatusLabel(t *testing.T) {
	assert.Equal(t, "Đã hủy", OrderStatusLabel(models.OrderCancelled))
	assert.Equal(t, "Đang xử lý", OrderStatusLabel("unknown"))
}
