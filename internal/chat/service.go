// Package chat runs one inbound message through the whole pipeline:
// conversation resolution, context assembly, the model call, tool dispatch,
// the order flow, persistence, background memory and the channel push.
package chat

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/suPer8Hu/commerce-chat/internal/assembler"
	"github.com/suPer8Hu/commerce-chat/internal/assistant"
	"github.com/suPer8Hu/commerce-chat/internal/channel"
	"github.com/suPer8Hu/commerce-chat/internal/memory"
	"github.com/suPer8Hu/commerce-chat/internal/metrics"
	"github.com/suPer8Hu/commerce-chat/internal/models"
	"github.com/suPer8Hu/commerce-chat/internal/orderflow"
	"github.com/suPer8Hu/commerce-chat/internal/store/sqlstore"
	"github.com/suPer8Hu/commerce-chat/internal/tools"
	"github.com/suPer8Hu/commerce-chat/internal/turn"
)

const maxMessageRunes = 4000

// ErrInvalidRequest marks requests rejected before anything is persisted.
var ErrInvalidRequest = errors.New("chat: invalid request")

// Model is the part of the assistant the pipeline drives directly.
type Model interface {
	Generate(ctx context.Context, tc *turn.Context, message string) (assistant.Reply, error)
}

// Outbound pushes the final reply to a messaging platform.
type Outbound interface {
	Dispatch(ctx context.Context, platform models.Platform, out channel.Outbound) error
}

type Deps struct {
	Repo      *sqlstore.Repo
	Assembler *assembler.Assembler
	Model     Model
	Tools     *tools.Dispatcher
	Flow      *orderflow.Flow
	Channels  Outbound
	Memory    *memory.Pipeline
}

type Service struct {
	repo     *sqlstore.Repo
	asm      *assembler.Assembler
	model    Model
	tools    *tools.Dispatcher
	flow     *orderflow.Flow
	channels Outbound
	memory   *memory.Pipeline

	publisher Publisher
}

func NewService(d Deps) *Service {
	return &Service{
		repo:     d.Repo,
		asm:      d.Assembler,
		model:    d.Model,
		tools:    d.Tools,
		flow:     d.Flow,
		channels: d.Channels,
		memory:   d.Memory,
	}
}

// Request is one inbound message.
type Request struct {
	Platform       models.Platform `json:"platform"`
	CustomerFBID   string          `json:"customer_fb_id,omitempty"`
	CustomerZaloID string          `json:"customer_zalo_id,omitempty"`
	UserID         *uint64         `json:"user_id,omitempty"`
	SessionID      string          `json:"session_id,omitempty"`
	CustomerName   string          `json:"customer_name,omitempty"`
	MessageText    string          `json:"message_text"`
	PageID         string          `json:"page_id,omitempty"`
	AccessToken    string          `json:"access_token,omitempty"`
}

func (r Request) key() sqlstore.ConversationKey {
	return sqlstore.ConversationKey{
		Platform:       r.Platform,
		CustomerFBID:   r.CustomerFBID,
		CustomerZaloID: r.CustomerZaloID,
		UserID:         r.UserID,
		SessionID:      r.SessionID,
		PageID:         r.PageID,
		CustomerName:   r.CustomerName,
	}
}

func (r Request) recipient() string {
	switch r.Platform {
	case models.PlatformFacebook:
		return r.CustomerFBID
	case models.PlatformZalo:
		return r.CustomerZaloID
	}
	return ""
}

// Validate normalizes the request in place.
func (r *Request) Validate() error {
	r.MessageText = strings.TrimSpace(r.MessageText)
	if !r.Platform.Valid() {
		return errors.Wrapf(ErrInvalidRequest, "unsupported platform %q", r.Platform)
	}
	if r.MessageText == "" {
		return errors.Wrap(ErrInvalidRequest, "message_text is empty")
	}
	if len([]rune(r.MessageText)) > maxMessageRunes {
		return errors.Wrap(ErrInvalidRequest, "message_text is too long")
	}
	if _, err := r.key().IdentityKey(); err != nil {
		return errors.Wrap(ErrInvalidRequest, err.Error())
	}
	return nil
}

type MemoryStats struct {
	ConversationMessages int   `json:"conversation_messages"`
	MemoryRetrieved      int   `json:"memory_retrieved"`
	HasSummary           bool  `json:"has_summary"`
	EmbeddingsCreated    int64 `json:"embeddings_created"`
}

// Response is the synchronous outcome of a turn.
type Response struct {
	Success            bool               `json:"success"`
	ConversationID     string             `json:"conversation_id"`
	MessageID          uint64             `json:"message_id,omitempty"`
	Response           string             `json:"response"`
	Products           []models.Product   `json:"products"`
	RecommendationType string             `json:"recommendation_type"`
	MessageType        models.MessageType `json:"message_type"`
	ImageURL           string             `json:"image_url,omitempty"`
	ProductImage       *models.Product    `json:"product_image,omitempty"`
	OrderNumber        string             `json:"order_number,omitempty"`
	MemoryStats        MemoryStats        `json:"memory_stats"`
}

// ProcessMessage handles one inbound message end to end. Only an invalid
// request or a failure to persist the customer message is returned as an
// error; every later failure degrades the reply instead.
func (s *Service) ProcessMessage(ctx context.Context, req Request) (resp *Response, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveTurn(string(req.Platform), err == nil, time.Since(start))
	}()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	// 1) resolve conversation
	conv, created, err := s.repo.GetOrCreateConversation(ctx, req.key())
	if err != nil {
		if errors.Is(err, sqlstore.ErrNoIdentity) {
			return nil, errors.Wrap(ErrInvalidRequest, err.Error())
		}
		return nil, errors.Wrap(err, "resolve conversation")
	}
	logger := log.WithFields(log.Fields{
		"conversation_id": conv.ID,
		"platform":        conv.Platform,
	})
	if created {
		logger.Info("conversation created")
	}

	// 2) store customer message (strong consistency)
	customerMsg := &models.Message{
		ConversationID: conv.ID,
		Sender:         models.SenderCustomer,
		MessageType:    models.MessageText,
		Content:        req.MessageText,
	}
	if err := s.repo.InsertMessage(ctx, customerMsg); err != nil {
		return nil, errors.Wrap(err, "persist customer message")
	}

	// 3) assemble context
	tc, err := s.asm.Assemble(ctx, conv)
	if err != nil {
		logger.WithError(err).Error("context assembly failed")
		tc = &turn.Context{Conversation: conv}
	}

	res := turn.NewResult()

	// 4) model call; on failure no tool runs
	reply, err := s.model.Generate(ctx, tc, req.MessageText)
	res.TokensUsed += reply.TokensUsed
	if err != nil {
		logger.WithError(err).Warn("model call failed")
		res.SetReply(assistant.FallbackReply, turn.SourceFallback)
	} else {
		res.SetReply(reply.Text, turn.SourceModel)
		res.Recommendation = reply.Recommendation
		res.Products = reply.Products

		// 5) tools
		s.tools.Run(ctx, tc, tools.Request{
			Message:     req.MessageText,
			Recipient:   req.recipient(),
			AccessToken: req.AccessToken,
		}, reply.ToolCalls, res)
	}

	// 6) order flow may override the reply
	state, err := s.flow.Reconcile(ctx, tc, req.MessageText, customerMsg.ID, res)
	if err != nil {
		logger.WithError(err).Warn("order flow failed")
	}

	// 7) store bot message
	botMsg := s.persistReply(ctx, conv.ID, res, logger)
	if res.ConfirmationAsked && botMsg != nil {
		if err := s.flow.QuestionStored(ctx, conv, botMsg.ID); err != nil {
			logger.WithError(err).Warn("confirmation question not recorded")
		}
	}
	stats := s.memoryStats(ctx, tc)

	// 8) background memory, never awaited
	if s.memory != nil {
		t := memory.Turn{
			ConversationID:  conv.ID,
			UserID:          conv.UserID,
			CustomerMessage: customerMsg,
			BotMessage:      botMsg,
			Products:        res.Products,
		}
		if tc.Profile != nil {
			t.ProfileID = tc.Profile.ID
		}
		s.memory.Schedule(t)
	}

	// 9) channel push; failures are logged only
	if s.channels != nil {
		if err := s.channels.Dispatch(ctx, conv.Platform, channel.Outbound{
			Recipient:   req.recipient(),
			AccessToken: req.AccessToken,
			Text:        res.Reply,
			Products:    res.Products,
		}); err != nil {
			logger.WithError(err).Warn("channel dispatch failed")
		}
	}

	logger.WithFields(log.Fields{
		"source":      res.ReplySource,
		"order_state": state,
		"tools":       len(res.Tools),
		"tokens":      res.TokensUsed,
		"cost":        time.Since(start).String(),
	}).Info("turn processed")

	resp = &Response{
		Success:            true,
		ConversationID:     conv.ID,
		Response:           res.Reply,
		Products:           res.Products,
		RecommendationType: res.Recommendation,
		MessageType:        res.MessageType,
		ImageURL:           res.ImageURL,
		ProductImage:       res.ImageProduct,
		OrderNumber:        res.OrderNumber,
		MemoryStats:        stats,
	}
	if resp.Products == nil {
		resp.Products = []models.Product{}
	}
	if botMsg != nil {
		resp.MessageID = botMsg.ID
	}
	return resp, nil
}

// persistReply writes the bot message. A failed write is logged and the turn
// still answers.
func (s *Service) persistReply(ctx context.Context, conversationID string, res *turn.Result, logger *log.Entry) *models.Message {
	if res.MessageType == models.MessageText && len(res.Products) > 0 {
		res.MessageType = models.MessageProductShowcase
	}

	msg := &models.Message{
		ConversationID: conversationID,
		Sender:         models.SenderBot,
		MessageType:    res.MessageType,
		Content:        res.Reply,
		TokensUsed:     res.TokensUsed,
	}

	payload := models.MessagePayload{ImageURL: res.ImageURL}
	for _, p := range res.Products {
		payload.ProductIDs = append(payload.ProductIDs, p.ID.String())
	}
	if res.ImageProduct != nil {
		payload.ProductID = res.ImageProduct.ID.String()
	}
	if len(payload.ProductIDs) > 0 || payload.ImageURL != "" {
		if b, err := json.Marshal(payload); err == nil {
			msg.Payload = datatypes.JSON(b)
		}
	}

	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		logger.WithError(err).Error("persist bot message failed")
		return nil
	}
	return msg
}

func (s *Service) memoryStats(ctx context.Context, tc *turn.Context) MemoryStats {
	st := MemoryStats{
		ConversationMessages: len(tc.History),
		MemoryRetrieved:      len(tc.Facts) + len(tc.Interests),
		HasSummary:           tc.Summary != nil,
	}
	if n, err := s.repo.CountEmbeddings(ctx, tc.Conversation.ID); err == nil {
		st.EmbeddingsCreated = n
	}
	return st
}

// ListMessages returns a page of history, newest first.
func (s *Service) ListMessages(ctx context.Context, conversationID string, limit int, beforeID uint64) ([]models.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if _, err := s.repo.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, conversationID, limit, beforeID)
}

func (s *Service) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	return s.repo.GetConversation(ctx, id)
}
