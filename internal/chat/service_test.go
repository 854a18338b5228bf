package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/commerce-chat/internal/ai"
	"github.com/suPer8Hu/commerce-chat/internal/assembler"
	"github.com/suPer8Hu/commerce-chat/internal/assistant"
	"github.com/suPer8Hu/commerce-chat/internal/channel"
	"github.com/suPer8Hu/commerce-chat/internal/memory"
	"github.com/suPer8Hu/commerce-chat/internal/models"
	"github.com/suPer8Hu/commerce-chat/internal/orderflow"
	"github.com/suPer8Hu/commerce-chat/internal/store/sqlstore"
	"github.com/suPer8Hu/commerce-chat/internal/testutil"
	"github.com/suPer8Hu/commerce-chat/internal/tools"
)

type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	err     error
}

func (p *scriptedProvider) Chat(_ context.Context, _ []ai.Message, _ ai.Options) (ai.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return ai.Completion{}, p.err
	}
	if len(p.replies) == 0 {
		return ai.Completion{}, errors.New("no scripted reply")
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return ai.Completion{Content: r, Model: "test-model", TotalTokens: 100}, nil
}

func (p *scriptedProvider) push(replies ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, replies...)
}

type failingEmbedder struct{}

func (failingEmbedder) Model() string { return "test-embed" }

func (failingEmbedder) Embed(context.Context, string) ([]float64, error) {
	return nil, errors.New("embedding service down")
}

type recordingOutbound struct {
	mu   sync.Mutex
	sent []channel.Outbound
	err  error
}

func (r *recordingOutbound) Dispatch(_ context.Context, platform models.Platform, out channel.Outbound) error {
	if platform == models.PlatformWeb {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, out)
	return r.err
}

func (r *recordingOutbound) SendImage(context.Context, models.Platform, string, string, string, *models.Product) error {
	return nil
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	repo     *sqlstore.Repo
	provider *scriptedProvider
	out      *recordingOutbound
	runner   *memory.Runner
	svc      *Service
}

func newHarness(t *testing.T, embedder ai.Embedder) *harness {
	repo := sqlstore.NewRepo(testutil.OpenDB(t))
	prompts, err := assistant.LoadPrompts()
	require.NoError(t, err)

	provider := &scriptedProvider{}
	adapter := assistant.NewAdapter(provider, prompts, repo, assistant.Options{Model: "test-model", Timeout: time.Second})
	flow := orderflow.New(repo)
	out := &recordingOutbound{}
	runner := memory.NewRunner(1, 32, time.Second)
	t.Cleanup(runner.Close)

	svc := NewService(Deps{
		Repo:      repo,
		Assembler: assembler.New(repo, 10, 20),
		Model:     adapter,
		Tools:     tools.NewDispatcher(repo, flow, adapter, out),
		Flow:      flow,
		Channels:  out,
		Memory:    memory.NewPipeline(repo, runner, embedder, 20),
	})
	return &harness{t: t, ctx: context.Background(), repo: repo, provider: provider, out: out, runner: runner, svc: svc}
}

func webRequest(text string) Request {
	return Request{Platform: models.PlatformWeb, SessionID: "sess-1", MessageText: text}
}

func (h *harness) messages(conversationID string) []models.Message {
	msgs, err := h.repo.ListMessages(h.ctx, conversationID, 100, 0)
	require.NoError(h.t, err)
	return msgs
}

func TestProcessMessageShowcasesProducts(t *testing.T) {
	h := newHarness(t, nil)
	p := testutil.SeedProduct(t, h.repo.DB(), "Áo Linen", 450000, 3, true, "https://img/a.jpg")
	h.provider.push(fmt.Sprintf(`{"response": "Dạ mẫu này đang hot ạ", "type": "showcase", "product_ids": [%q]}`, p.ID.String()))

	resp, err := h.svc.ProcessMessage(h.ctx, webRequest("shop có áo linen không"))
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "Dạ mẫu này đang hot ạ", resp.Response)
	assert.Equal(t, "showcase", resp.RecommendationType)
	assert.Equal(t, models.MessageProductShowcase, resp.MessageType)
	require.Len(t, resp.Products, 1)
	assert.Equal(t, p.ID, resp.Products[0].ID)
	assert.NotZero(t, resp.MessageID)

	msgs := h.messages(resp.ConversationID)
	require.Len(t, msgs, 2)
	bot := msgs[0]
	assert.Equal(t, models.SenderBot, bot.Sender)
	assert.Equal(t, 100, bot.TokensUsed)
	var payload models.MessagePayload
	require.NoError(t, json.Unmarshal(bot.Payload, &payload))
	assert.Equal(t, []string{p.ID.String()}, payload.ProductIDs)
	assert.Equal(t, models.SenderCustomer, msgs[1].Sender)

	h.provider.push(`{"response": "Dạ vâng ạ"}`)
	again, err := h.svc.ProcessMessage(h.ctx, webRequest("cảm ơn shop"))
	require.NoError(t, err)
	assert.Equal(t, resp.ConversationID, again.ConversationID)
	// history is read after the customer message is stored
	assert.Equal(t, 3, again.MemoryStats.ConversationMessages)
	assert.Empty(t, again.Products)
}

func TestProcessMessageRejectsInvalidRequests(t *testing.T) {
	h := newHarness(t, nil)

	cases := map[string]Request{
		"no identity":   {Platform: models.PlatformWeb, MessageText: "hi"},
		"bad platform":  {Platform: "telegram", SessionID: "s", MessageText: "hi"},
		"empty text":    {Platform: models.PlatformWeb, SessionID: "s", MessageText: "   "},
		"fb without id": {Platform: models.PlatformFacebook, MessageText: "hi"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.ProcessMessage(h.ctx, req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	var n int64
	require.NoError(t, h.repo.DB().Model(&models.Conversation{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestModelFailureFallsBackWithoutTools(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.err = errors.New("upstream 502")

	resp, err := h.svc.ProcessMessage(h.ctx, webRequest("còn size M không shop"))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, assistant.FallbackReply, resp.Response)
	assert.Equal(t, models.MessageText, resp.MessageType)
	assert.Len(t, h.messages(resp.ConversationID), 2)
}

func TestMalformedModelAnswerRunsNoTools(t *testing.T) {
	h := newHarness(t, nil)
	p := testutil.SeedProduct(t, h.repo.DB(), "Áo Linen", 450000, 3, true, "https://img/a.jpg")
	h.provider.push(fmt.Sprintf(`{"response": "ok", "function_calls": [{"name": "add_to_cart", "args": {"product_id": %q`, p.ID.String()))

	resp, err := h.svc.ProcessMessage(h.ctx, webRequest("thêm áo vào giỏ"))
	require.NoError(t, err)
	assert.Equal(t, assistant.FallbackReply, resp.Response)

	cart, err := h.repo.GetCart(h.ctx, resp.ConversationID)
	require.NoError(t, err)
	assert.Empty(t, cart)
}

func TestEmbeddingFailureDoesNotChangeTurn(t *testing.T) {
	run := func(t *testing.T, embedder ai.Embedder) *Response {
		h := newHarness(t, embedder)
		h.provider.push(`{"response": "Dạ em ghi nhận rồi ạ"}`)
		resp, err := h.svc.ProcessMessage(h.ctx, webRequest("mình tên Mai, sđt 0901234567"))
		require.NoError(t, err)
		h.runner.Close()
		return resp
	}

	var healthy, broken *Response
	t.Run("healthy", func(t *testing.T) { healthy = run(t, nil) })
	t.Run("broken", func(t *testing.T) { broken = run(t, failingEmbedder{}) })
	require.NotNil(t, healthy)
	require.NotNil(t, broken)

	assert.True(t, broken.Success)
	assert.Equal(t, healthy.Success, broken.Success)
	assert.Equal(t, healthy.Response, broken.Response)
}

func TestToolPartialFailureKeepsCartReply(t *testing.T) {
	h := newHarness(t, nil)
	top := testutil.SeedProduct(t, h.repo.DB(), "Áo Linen", 450000, 3, true, "https://img/a.jpg")
	pants := testutil.SeedProduct(t, h.repo.DB(), "Quần Suông", 390000, 3, false)

	h.provider.push(
		fmt.Sprintf(`{"response": "Dạ để em xử lý ạ", "function_calls": [
			{"name": "add_to_cart", "args": {"product_id": %q, "size": "m", "quantity": 1}},
			{"name": "send_product_image", "args": {"product_id": %q}}
		]}`, top.ID.String(), pants.ID.String()),
		`{"response": "Dạ em đã thêm Áo Linen size M vào giỏ rồi ạ ✨"}`,
	)

	resp, err := h.svc.ProcessMessage(h.ctx, webRequest("thêm áo size M vào giỏ, gửi ảnh quần nha"))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "Dạ em đã thêm Áo Linen size M vào giỏ rồi ạ ✨", resp.Response)
	assert.Empty(t, resp.ImageURL)

	cart, err := h.repo.GetCart(h.ctx, resp.ConversationID)
	require.NoError(t, err)
	require.Len(t, cart, 1)
	assert.Equal(t, "M", cart[0].Size)
}

func TestCartMergesAcrossTurns(t *testing.T) {
	h := newHarness(t, nil)
	p := testutil.SeedProduct(t, h.repo.DB(), "Áo Linen", 450000, 10, true, "https://img/a.jpg")
	call := fmt.Sprintf(`{"response": "Dạ vâng", "function_calls": [{"name": "add_to_cart", "args": {"product_id": %q, "size": "S", "quantity": 2}}]}`, p.ID.String())

	var convID string
	for i := 0; i < 2; i++ {
		h.provider.push(call)
		resp, err := h.svc.ProcessMessage(h.ctx, webRequest("thêm áo size S vào giỏ"))
		require.NoError(t, err)
		convID = resp.ConversationID
	}

	cart, err := h.svc.ListCart(h.ctx, convID)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 4, cart.Items[0].Quantity)
	assert.Equal(t, int64(1800000), cart.Subtotal)
	assert.Equal(t, "Dạ, em kiểm tra giỏ hàng của chị đang có 1 sản phẩm:\n• Áo Linen (Size S) x4 - 1.800.000đ\n\n💰 Tạm tính: 1.800.000đ", cart.Summary)
}

func TestConfirmationCreatesOrderOnceAndPushesToFacebook(t *testing.T) {
	h := newHarness(t, nil)
	req := Request{Platform: models.PlatformFacebook, CustomerFBID: "psid-7", AccessToken: "page-token", MessageText: "ok đúng rồi"}

	conv, _, err := h.repo.GetOrCreateConversation(h.ctx, req.key())
	require.NoError(t, err)
	profile, err := h.repo.EnsureProfile(h.ctx, conv.ID, nil)
	require.NoError(t, err)
	require.NoError(t, h.repo.UpdateShippingSnapshot(h.ctx, profile.ID, models.ShippingAddress{
		FullName: "Nguyễn Thị Lan", Phone: "0901234567",
		AddressLine: "12 Nguyễn Trãi", Ward: "Phường 1", District: "Quận 1", City: "TP.HCM",
	}))
	p := testutil.SeedProduct(t, h.repo.DB(), "Váy Hoa", 250000, 5, true, "https://img/v.jpg")
	_, _, err = h.repo.AddToCart(h.ctx, &models.CartItem{ConversationID: conv.ID, ProductID: p.ID, ProductName: p.Name, Size: "M", Quantity: 1, Price: p.Price})
	require.NoError(t, err)
	require.NoError(t, h.repo.InsertMessage(h.ctx, &models.Message{
		ConversationID: conv.ID, Sender: models.SenderBot,
		Content: "Dạ chị vẫn giao về: 12 Nguyễn Trãi, Phường 1, Quận 1, TP.HCM phải không ạ? 💌",
	}))

	h.provider.push(`{"response": "Dạ vâng ạ"}`)
	resp, err := h.svc.ProcessMessage(h.ctx, req)
	require.NoError(t, err)
	assert.Contains(t, resp.Response, "Dạ em đã ghi nhận đơn hàng của chị! 📝")
	assert.NotEmpty(t, resp.OrderNumber)

	require.Len(t, h.out.sent, 1)
	assert.Equal(t, "psid-7", h.out.sent[0].Recipient)
	assert.Equal(t, "page-token", h.out.sent[0].AccessToken)
	assert.Equal(t, resp.Response, h.out.sent[0].Text)

	h.provider.push(`{"response": "Dạ vâng ạ"}`)
	again, err := h.svc.ProcessMessage(h.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "Dạ vâng ạ", again.Response)
	assert.Empty(t, again.OrderNumber)

	orders, err := h.repo.ListOrders(h.ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestOrderIntentRecordsQuestionMessage(t *testing.T) {
	h := newHarness(t, nil)
	req := webRequest("chốt đơn cho em")

	conv, _, err := h.repo.GetOrCreateConversation(h.ctx, req.key())
	require.NoError(t, err)
	profile, err := h.repo.EnsureProfile(h.ctx, conv.ID, nil)
	require.NoError(t, err)
	require.NoError(t, h.repo.UpdateShippingSnapshot(h.ctx, profile.ID, models.ShippingAddress{
		FullName: "Nguyễn Thị Lan", Phone: "0901234567",
		AddressLine: "12 Nguyễn Trãi", Ward: "Phường 1", District: "Quận 1", City: "TP.HCM",
	}))
	p := testutil.SeedProduct(t, h.repo.DB(), "Váy Hoa", 250000, 5, true, "https://img/v.jpg")
	_, _, err = h.repo.AddToCart(h.ctx, &models.CartItem{ConversationID: conv.ID, ProductID: p.ID, ProductName: p.Name, Size: "M", Quantity: 1, Price: p.Price})
	require.NoError(t, err)

	h.provider.push(`{"response": "Dạ vâng ạ"}`)
	_, err = h.svc.ProcessMessage(h.ctx, req)
	require.NoError(t, err)

	bots, err := h.repo.LastBotMessages(h.ctx, conv.ID, 1)
	require.NoError(t, err)
	require.Len(t, bots, 1)

	got, err := h.repo.GetConversation(h.ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.AwaitingConfirmation)
	assert.Equal(t, bots[0].ID, got.ConfirmationQuestionMsgID)
}

func TestChannelFailureDoesNotFailTurn(t *testing.T) {
	h := newHarness(t, nil)
	h.out.err = errors.New("graph api 500")
	h.provider.push(`{"response": "Dạ shop chào chị ạ"}`)

	resp, err := h.svc.ProcessMessage(h.ctx, Request{Platform: models.PlatformZalo, CustomerZaloID: "z-1", MessageText: "alo shop"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "Dạ shop chào chị ạ", resp.Response)
	assert.Len(t, h.out.sent, 1)
}

func TestUpdateCartQuantityAsksForSize(t *testing.T) {
	h := newHarness(t, nil)
	conv, _, err := h.repo.GetOrCreateConversation(h.ctx, webRequest("x").key())
	require.NoError(t, err)
	p := testutil.SeedProduct(t, h.repo.DB(), "Áo Linen", 450000, 10, true)
	for _, size := range []string{"S", "M"} {
		_, _, err := h.repo.AddToCart(h.ctx, &models.CartItem{ConversationID: conv.ID, ProductID: p.ID, ProductName: p.Name, Size: size, Quantity: 1, Price: p.Price})
		require.NoError(t, err)
	}

	msg, err := h.svc.UpdateCartQuantity(h.ctx, conv.ID, p.ID, "", 3)
	require.NoError(t, err)
	assert.Equal(t, AmbiguousSizeMessage, msg)

	msg, err = h.svc.UpdateCartQuantity(h.ctx, conv.ID, p.ID, "m", 3)
	require.NoError(t, err)
	assert.Contains(t, msg, "• Áo Linen (Size M) x3 - 1.350.000đ")

	n, err := h.svc.RemoveFromCart(h.ctx, conv.ID, p.ID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, EmptyCartMessage, CartSummary(nil))
}

type recordingPublisher struct {
	ids []string
	err error
}

func (p *recordingPublisher) PublishJob(_ context.Context, jobID string) error {
	if p.err != nil {
		return p.err
	}
	p.ids = append(p.ids, jobID)
	return nil
}

func TestEnqueueMessageIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	_, _, err := h.svc.EnqueueMessage(h.ctx, webRequest("hi"), "")
	assert.ErrorIs(t, err, ErrQueueUnavailable)

	pub := &recordingPublisher{}
	h.svc.SetPublisher(pub)

	first, created, err := h.svc.EnqueueMessage(h.ctx, webRequest("hi"), "mid-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.JobQueued, first.Status)

	second, created, err := h.svc.EnqueueMessage(h.ctx, webRequest("hi"), "mid-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, []string{first.ID}, pub.ids)

	_, _, err = h.svc.EnqueueMessage(h.ctx, Request{Platform: models.PlatformWeb, MessageText: "hi"}, "mid-2")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestEnqueuePublishFailureMarksJobFailed(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.SetPublisher(&recordingPublisher{err: errors.New("channel closed")})

	_, _, err := h.svc.EnqueueMessage(h.ctx, webRequest("hi"), "mid-9")
	require.Error(t, err)

	job, err := h.repo.GetJobByIdempotencyKey(h.ctx, models.PlatformWeb, "mid-9")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
}

func TestHandleJobRunsPipelineOnce(t *testing.T) {
	h := newHarness(t, nil)
	pub := &recordingPublisher{}
	h.svc.SetPublisher(pub)

	job, _, err := h.svc.EnqueueMessage(h.ctx, webRequest("shop ơi"), "")
	require.NoError(t, err)

	h.provider.push(`{"response": "Dạ em nghe ạ"}`)
	require.NoError(t, h.svc.HandleJob(h.ctx, job.ID))

	got, err := h.svc.GetJob(h.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, got.Status)
	require.NotNil(t, got.ConversationID)
	require.NotNil(t, got.ResultMessageID)

	msgs := h.messages(*got.ConversationID)
	require.Len(t, msgs, 2)
	assert.Equal(t, *got.ResultMessageID, msgs[0].ID)
	assert.Equal(t, "Dạ em nghe ạ", msgs[0].Content)

	// redelivery is a no-op
	require.NoError(t, h.svc.HandleJob(h.ctx, job.ID))
	assert.Len(t, h.messages(*got.ConversationID), 2)
}
