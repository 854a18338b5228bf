package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/commerce-chat/internal/config"
	"github.com/suPer8Hu/commerce-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/commerce-chat/internal/models"
	"github.com/suPer8Hu/commerce-chat/internal/store/sqlstore"
)

const (
	webhookSecret = "oa-secret"
	adminKey      = "admin-key"
)

func zaloHarness(t *testing.T) *apiHarness {
	return newAPIHarnessWith(t, config.Config{
		JWTSecret:         testSecret,
		RateLimit:         "100-M",
		ZaloWebhookSecret: webhookSecret,
		AdminAPIKey:       adminKey,
	})
}

func signed(body string) map[string]string {
	return map[string]string{middleware.ZaloSignatureHeader: middleware.SignBody([]byte(body), webhookSecret)}
}

func textEvent(msgID, text string) string {
	return `{"event_name":"user_send_text","app_id":"app","sender":{"id":"zuid-1"},"recipient":{"id":"oa-1"},` +
		`"message":{"msg_id":"` + msgID + `","text":"` + text + `"},"timestamp":"1700000000000"}`
}

func (h *apiHarness) zaloMessages(zaloID string) []models.Message {
	conv, _, err := h.repo.GetOrCreateConversation(context.Background(), sqlstore.ConversationKey{
		Platform:       models.PlatformZalo,
		CustomerZaloID: zaloID,
	})
	require.NoError(h.t, err)
	msgs, err := h.repo.ListMessages(context.Background(), conv.ID, 50, 0)
	require.NoError(h.t, err)
	return msgs
}

func TestZaloWebhookRejectsBadSignature(t *testing.T) {
	h := zaloHarness(t)
	body := textEvent("msg-1", "chào shop")

	w, env := h.do(http.MethodPost, "/webhooks/zalo", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 40102, env.Code)

	w, env = h.do(http.MethodPost, "/webhooks/zalo", body, map[string]string{middleware.ZaloSignatureHeader: "deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 40102, env.Code)

	// signed for another body
	w, _ = h.do(http.MethodPost, "/webhooks/zalo", body, signed(textEvent("msg-2", "chào shop")))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Empty(t, h.zaloMessages("zuid-1"))
}

func TestZaloWebhookVerify(t *testing.T) {
	h := zaloHarness(t)
	body := `{"event_name":"webhook_verify"}`
	w, env := h.do(http.MethodPost, "/webhooks/zalo", body, signed(body))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)
}

func TestZaloWebhookAnswersInlineWithoutQueue(t *testing.T) {
	h := zaloHarness(t)
	body := textEvent("msg-1", "chào shop")

	w, env := h.do(http.MethodPost, "/webhooks/zalo", body, signed(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Event  string `json:"event"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, "user_send_text", out.Event)
	assert.Equal(t, "processed", out.Status)

	msgs := h.zaloMessages("zuid-1")
	require.Len(t, msgs, 2)
	assert.ElementsMatch(t, []string{"chào shop", "Dạ em chào chị ạ"}, []string{msgs[0].Content, msgs[1].Content})
}

func TestZaloWebhookEnqueuesOncePerMessage(t *testing.T) {
	h := zaloHarness(t)
	pub := &stubPublisher{}
	h.svc.SetPublisher(pub)
	body := textEvent("msg-7", "còn size M không")

	for i := 0; i < 2; i++ {
		w, env := h.do(http.MethodPost, "/webhooks/zalo", body, signed(body))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, 0, env.Code)
	}
	require.Len(t, pub.jobs, 1)

	job, err := h.svc.GetJob(context.Background(), pub.jobs[0])
	require.NoError(t, err)
	assert.Equal(t, models.PlatformZalo, job.Platform)
	assert.Contains(t, string(job.Payload), `"customer_zalo_id":"zuid-1"`)
	assert.Contains(t, string(job.Payload), "còn size M không")
}

func TestZaloWebhookEventRouting(t *testing.T) {
	h := zaloHarness(t)
	pub := &stubPublisher{}
	h.svc.SetPublisher(pub)

	cases := []struct {
		name string
		body string
		want string
	}{
		{"image", `{"event_name":"user_send_image","sender":{"id":"zuid-2"},"recipient":{"id":"oa-1"},"message":{"msg_id":"i-1","attachments":[{"type":"image","payload":{"url":"https://img/x.jpg"}}]}}`,
			"[Người dùng đã gửi một hình ảnh: https://img/x.jpg]"},
		{"sticker", `{"event_name":"user_send_sticker","sender":{"id":"zuid-2"},"recipient":{"id":"oa-1"},"message":{"msg_id":"s-1"}}`,
			"[Người dùng đã gửi sticker]"},
		{"link", `{"event_name":"user_send_link","sender":{"id":"zuid-2"},"recipient":{"id":"oa-1"},"message":{"msg_id":"l-1","attachments":[{"type":"link","payload":{"url":"https://shop.example/p/1"}}]}}`,
			"https://shop.example/p/1"},
		{"follow", `{"event_name":"follow","oa_id":"oa-1","follower":{"id":"zuid-3"},"timestamp":"1700000000000"}`,
			"Chào mừng bạn!"},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, _ := h.do(http.MethodPost, "/webhooks/zalo", tc.body, signed(tc.body))
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			require.Len(t, pub.jobs, i+1)

			job, err := h.svc.GetJob(context.Background(), pub.jobs[i])
			require.NoError(t, err)
			var req struct {
				MessageText string `json:"message_text"`
			}
			require.NoError(t, json.Unmarshal(job.Payload, &req))
			assert.Equal(t, tc.want, req.MessageText)
		})
	}

	body := `{"event_name":"user_seen_message","sender":{"id":"zuid-2"}}`
	w, _ := h.do(http.MethodPost, "/webhooks/zalo", body, signed(body))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, pub.jobs, len(cases))
}

func TestZaloUnfollowRevokesConsent(t *testing.T) {
	h := zaloHarness(t)
	ctx := context.Background()
	_, err := h.repo.SaveZaloConsent(ctx, "0901234567", "zuid-1")
	require.NoError(t, err)

	body := `{"event_name":"unfollow","oa_id":"oa-1","follower":{"id":"zuid-1"}}`
	w, _ := h.do(http.MethodPost, "/webhooks/zalo", body, signed(body))
	require.Equal(t, http.StatusOK, w.Code)

	c, err := h.repo.ActiveZaloConsent(ctx, "0901234567")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestZaloAdminRoutes(t *testing.T) {
	h := zaloHarness(t)
	admin := map[string]string{middleware.AdminKeyHeader: adminKey}
	require.NoError(t, h.repo.DB().Create(&models.Order{
		OrderNumber:    "ORD-1",
		ConversationID: "01HZZZZZZZZZZZZZZZZZZZZZZZ",
		CustomerName:   "Nguyễn Thị Lan",
		CustomerPhone:  "0901234567",
		AddressLine:    "12 Nguyễn Trãi",
		City:           "TP.HCM",
		Total:          450000,
		Status:         models.OrderPending,
	}).Error)

	w, env := h.do(http.MethodPost, "/admin/zalo/consents", map[string]any{"customer_phone": "0901234567", "zalo_user_id": "zuid-1"}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 40301, env.Code)

	w, env = h.do(http.MethodPost, "/admin/zalo/zns/orders/ORD-1", nil, admin)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, 42201, env.Code)

	w, env = h.do(http.MethodPost, "/admin/zalo/consents", map[string]any{"customer_phone": "12", "zalo_user_id": "zuid-1"}, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 10002, env.Code)

	w, _ = h.do(http.MethodPost, "/admin/zalo/consents", map[string]any{"customer_phone": "0901234567", "zalo_user_id": "zuid-1"}, admin)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = h.do(http.MethodPost, "/admin/zalo/zns/orders/ORD-1", nil, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var entry models.ZNSLog
	require.NoError(t, json.Unmarshal(env.Data, &entry))
	assert.Equal(t, models.ZNSSent, entry.Status)
	assert.Equal(t, "zuid-1", entry.ZaloUserID)
	require.Len(t, h.zns.sent, 1)
	assert.Equal(t, "ORD-1", h.zns.sent[0].OrderNumber)

	w, env = h.do(http.MethodPost, "/admin/zalo/zns/orders/ORD-404", nil, admin)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40404, env.Code)

	w, env = h.do(http.MethodGet, "/admin/zalo/zns/logs?order_number=ORD-1", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Logs []models.ZNSLog `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Logs, 1)
	assert.Equal(t, "m-1", page.Logs[0].MsgID)
}

func TestZaloAdminRoutesOffWithoutKey(t *testing.T) {
	h := newAPIHarness(t, "100-M")
	w, env := h.do(http.MethodGet, "/admin/zalo/zns/logs", nil, map[string]string{middleware.AdminKeyHeader: ""})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40400, env.Code)
}
