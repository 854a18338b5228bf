package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/suPer8Hu/commerce-chat/internal/chat"
	"github.com/suPer8Hu/commerce-chat/internal/common"
	"github.com/suPer8Hu/commerce-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/commerce-chat/internal/models"
	"github.com/suPer8Hu/commerce-chat/internal/store/sqlstore"
)

// sendMessageReq has no user_id: a user is only ever taken from a verified
// bearer token, whatever the platform.
type sendMessageReq struct {
	Platform       string `json:"platform" binding:"required"`
	CustomerFBID   string `json:"customer_fb_id"`
	CustomerZaloID string `json:"customer_zalo_id"`
	SessionID      string `json:"session_id"`
	CustomerName   string `json:"customer_name"`
	MessageText    string `json:"message_text" binding:"required"`
	PageID         string `json:"page_id"`
	AccessToken    string `json:"access_token"`
}

func (r sendMessageReq) toRequest(c *gin.Context) chat.Request {
	req := chat.Request{
		Platform:       models.Platform(strings.ToLower(strings.TrimSpace(r.Platform))),
		CustomerFBID:   strings.TrimSpace(r.CustomerFBID),
		CustomerZaloID: strings.TrimSpace(r.CustomerZaloID),
		SessionID:      strings.TrimSpace(r.SessionID),
		CustomerName:   strings.TrimSpace(r.CustomerName),
		MessageText:    r.MessageText,
		PageID:         r.PageID,
		AccessToken:    r.AccessToken,
	}
	if uid, ok := middleware.UserID(c); ok {
		req.UserID = &uid
	}
	return req
}

func (h *Handler) SendChatMessage(c *gin.Context) {
	var body sendMessageReq
	if err := c.ShouldBindJSON(&body); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	resp, err := h.ChatSvc.ProcessMessage(c.Request.Context(), body.toRequest(c))
	if err != nil {
		if errors.Is(err, chat.ErrInvalidRequest) {
			common.Fail(c, http.StatusBadRequest, 10002, err.Error())
			return
		}
		log.WithError(err).WithField("request_id", c.GetString(middleware.RequestIDKey)).Error("process message failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, resp)
}

func (h *Handler) SendChatMessageAsync(c *gin.Context) {
	var body sendMessageReq
	if err := c.ShouldBindJSON(&body); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	// read idempotency key
	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))

	job, created, err := h.ChatSvc.EnqueueMessage(c.Request.Context(), body.toRequest(c), idempoKey)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrIdempotencyKeySize):
			common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		case errors.Is(err, chat.ErrInvalidRequest):
			common.Fail(c, http.StatusBadRequest, 10002, err.Error())
		case errors.Is(err, chat.ErrQueueUnavailable):
			common.Fail(c, http.StatusServiceUnavailable, 50302, "async processing disabled")
		default:
			log.WithError(err).WithField("idempotency_key", idempoKey).Error("[SendChatMessageAsync] enqueue failed")
			common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
		}
		return
	}

	common.OK(c, gin.H{
		"job_id":  job.ID,
		"status":  job.Status,
		"created": created,
	})
}

func (h *Handler) GetChatJob(c *gin.Context) {
	jobID := c.Param("id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "job_id required")
		return
	}

	j, err := h.ChatSvc.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if sqlstore.IsNotFound(err) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, gin.H{
		"job": gin.H{
			"id":                j.ID,
			"platform":          j.Platform,
			"status":            j.Status,
			"conversation_id":   j.ConversationID,
			"result_message_id": j.ResultMessageID,
			"error":             j.Error,
			"created_at":        j.CreatedAt,
			"updated_at":        j.UpdatedAt,
		},
	})
}

// conversation loads the path's conversation. A conversation owned by a user
// is only visible to that user.
func (h *Handler) conversation(c *gin.Context) (*models.Conversation, bool) {
	conv, err := h.ChatSvc.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		if sqlstore.IsNotFound(err) {
			common.Fail(c, http.StatusNotFound, 40401, "conversation not found")
			return nil, false
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return nil, false
	}
	if conv.UserID != nil {
		uid, ok := middleware.UserID(c)
		if !ok || uid != *conv.UserID {
			// hide existence
			common.Fail(c, http.StatusNotFound, 40401, "conversation not found")
			return nil, false
		}
	}
	return conv, true
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	conv, ok := h.conversation(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if s := c.Query("before_id"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), conv.ID, limit, beforeID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to list messages")
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}
	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

func (h *Handler) GetCart(c *gin.Context) {
	conv, ok := h.conversation(c)
	if !ok {
		return
	}
	cart, err := h.ChatSvc.ListCart(c.Request.Context(), conv.ID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, cart)
}

type updateCartReq struct {
	ProductID string `json:"product_id" binding:"required,uuid"`
	Size      string `json:"size"`
	Quantity  *int   `json:"quantity" binding:"required"`
}

func (h *Handler) UpdateCartItem(c *gin.Context) {
	conv, ok := h.conversation(c)
	if !ok {
		return
	}
	var body updateCartReq
	if err := c.ShouldBindJSON(&body); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	msg, err := h.ChatSvc.UpdateCartQuantity(c.Request.Context(), conv.ID, uuid.MustParse(body.ProductID), body.Size, *body.Quantity)
	if err != nil {
		if sqlstore.IsNotFound(err) {
			common.Fail(c, http.StatusNotFound, 40403, "cart item not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, gin.H{"message": msg})
}

func (h *Handler) RemoveCartItem(c *gin.Context) {
	conv, ok := h.conversation(c)
	if !ok {
		return
	}
	productID, err := uuid.Parse(c.Param("product_id"))
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10002, "invalid product_id")
		return
	}

	n, err := h.ChatSvc.RemoveFromCart(c.Request.Context(), conv.ID, productID, c.Query("size"))
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if n == 0 {
		common.Fail(c, http.StatusNotFound, 40403, "cart item not found")
		return
	}
	common.OK(c, gin.H{"removed": n})
}

func (h *Handler) ClearCart(c *gin.Context) {
	conv, ok := h.conversation(c)
	if !ok {
		return
	}
	if err := h.ChatSvc.ClearCart(c.Request.Context(), conv.ID); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, gin.H{"cleared": true})
}
