package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/suPer8Hu/commerce-chat/internal/channel"
	"github.com/suPer8Hu/commerce-chat/internal/chat"
	"github.com/suPer8Hu/commerce-chat/internal/common"
	"github.com/suPer8Hu/commerce-chat/internal/models"
	"github.com/suPer8Hu/commerce-chat/internal/notify"
	"github.com/suPer8Hu/commerce-chat/internal/store/sqlstore"
)

const (
	imageSentText   = "[Người dùng đã gửi một hình ảnh: %s]"
	stickerSentText = "[Người dùng đã gửi sticker]"
	followText      = "Chào mừng bạn!"
)

type zaloUser struct {
	ID string `json:"id"`
}

type zaloAttachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL string `json:"url"`
	} `json:"payload"`
}

type zaloEvent struct {
	EventName string   `json:"event_name"`
	AppID     string   `json:"app_id"`
	OAID      string   `json:"oa_id"`
	Sender    zaloUser `json:"sender"`
	Recipient zaloUser `json:"recipient"`
	Follower  zaloUser `json:"follower"`
	Message   struct {
		MsgID       string           `json:"msg_id"`
		Text        string           `json:"text"`
		Attachments []zaloAttachment `json:"attachments"`
	} `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (e *zaloEvent) attachmentURL() string {
	if len(e.Message.Attachments) == 0 {
		return ""
	}
	return e.Message.Attachments[0].Payload.URL
}

// inbound maps a user event to the pipeline request it stands for. ok is
// false for events that carry no customer message.
func (e *zaloEvent) inbound() (chat.Request, bool) {
	req := chat.Request{
		Platform:       models.PlatformZalo,
		CustomerZaloID: e.Sender.ID,
		PageID:         e.Recipient.ID,
	}
	switch e.EventName {
	case "user_send_text":
		req.MessageText = e.Message.Text
	case "user_send_image":
		req.MessageText = fmt.Sprintf(imageSentText, e.attachmentURL())
	case "user_send_link":
		req.MessageText = e.attachmentURL()
		if req.MessageText == "" {
			req.MessageText = e.Message.Text
		}
	case "user_send_sticker":
		req.MessageText = stickerSentText
	case "follow":
		req.CustomerZaloID = e.Follower.ID
		req.PageID = e.OAID
		req.MessageText = followText
	default:
		return chat.Request{}, false
	}
	return req, strings.TrimSpace(req.MessageText) != "" && req.CustomerZaloID != ""
}

// idempotencyKey dedupes webhook redeliveries of the same Zalo message.
func (e *zaloEvent) idempotencyKey() string {
	switch {
	case e.Message.MsgID != "":
		return "zalo:" + e.Message.MsgID
	case e.EventName == "follow" && e.Follower.ID != "" && e.Timestamp != "":
		return "zalo:follow:" + e.Follower.ID + ":" + e.Timestamp
	}
	return ""
}

// ZaloWebhook accepts Zalo OA events. Customer messages are queued for the
// worker, or answered inline when no queue is configured.
func (h *Handler) ZaloWebhook(c *gin.Context) {
	var ev zaloEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	logger := log.WithFields(log.Fields{"event": ev.EventName, "zalo_user_id": ev.Sender.ID})

	switch ev.EventName {
	case "webhook_verify":
		common.OK(c, gin.H{"event": ev.EventName})
		return
	case "unfollow":
		if h.Notify != nil && ev.Follower.ID != "" {
			if err := h.Notify.RevokeConsent(c.Request.Context(), ev.Follower.ID); err != nil {
				logger.WithError(err).Warn("zalo unfollow not recorded")
			}
		}
		common.OK(c, gin.H{"event": ev.EventName})
		return
	}

	req, ok := ev.inbound()
	if !ok {
		logger.Info("zalo event ignored")
		common.OK(c, gin.H{"event": ev.EventName, "ignored": true})
		return
	}

	status, err := h.acceptZalo(c.Request.Context(), req, ev.idempotencyKey())
	if err != nil {
		if errors.Is(err, chat.ErrInvalidRequest) {
			common.Fail(c, http.StatusBadRequest, 10002, err.Error())
			return
		}
		logger.WithError(err).Error("zalo event failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, gin.H{"event": ev.EventName, "status": status})
}

func (h *Handler) acceptZalo(ctx context.Context, req chat.Request, key string) (string, error) {
	job, _, err := h.ChatSvc.EnqueueMessage(ctx, req, key)
	if err == nil {
		return string(job.Status), nil
	}
	if !errors.Is(err, chat.ErrQueueUnavailable) {
		return "", err
	}
	if _, err := h.ChatSvc.ProcessMessage(ctx, req); err != nil {
		return "", err
	}
	return "processed", nil
}

type zaloConsentReq struct {
	CustomerPhone string `json:"customer_phone" binding:"required"`
	ZaloUserID    string `json:"zalo_user_id" binding:"required"`
}

func (h *Handler) SaveZaloConsent(c *gin.Context) {
	var body zaloConsentReq
	if err := c.ShouldBindJSON(&body); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	consent, err := h.Notify.SaveConsent(c.Request.Context(), body.CustomerPhone, body.ZaloUserID)
	if err != nil {
		if errors.Is(err, notify.ErrInvalidConsent) {
			common.Fail(c, http.StatusBadRequest, 10002, err.Error())
			return
		}
		log.WithError(err).Error("save zalo consent failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, consent)
}

type sendOrderZNSReq struct {
	ZaloUserID string `json:"zalo_user_id"`
}

func (h *Handler) SendOrderZNS(c *gin.Context) {
	var body sendOrderZNSReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
			return
		}
	}

	entry, err := h.Notify.SendOrder(c.Request.Context(), c.Param("order_number"), body.ZaloUserID)
	switch {
	case err == nil:
		common.OK(c, entry)
	case sqlstore.IsNotFound(err):
		common.Fail(c, http.StatusNotFound, 40404, "order not found")
	case errors.Is(err, notify.ErrNoConsent):
		common.Fail(c, http.StatusUnprocessableEntity, 42201, err.Error())
	case errors.Is(err, channel.ErrZNSNotConfigured):
		common.Fail(c, http.StatusServiceUnavailable, 50303, "zalo notifications disabled")
	case entry != nil:
		// the attempt was logged; report it with the provider error
		c.JSON(http.StatusBadGateway, gin.H{"code": 50201, "message": err.Error(), "data": entry})
	default:
		log.WithError(err).Error("send order zns failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

func (h *Handler) ListZNSLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	logs, err := h.Notify.Logs(c.Request.Context(), c.Query("order_number"), limit)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, gin.H{"logs": logs})
}
