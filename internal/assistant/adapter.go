// Package assistant wraps the generative model: it renders prompts, invokes
// the provider, parses the JSON answer into a reply plus typed tool calls and
// phrases follow-ups once a tool result is known.
package assistant

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/suPer8Hu/commerce-chat/internal/ai"
	"github.com/suPer8Hu/commerce-chat/internal/metrics"
	"github.com/suPer8Hu/commerce-chat/internal/models"
	"github.com/suPer8Hu/commerce-chat/internal/turn"
)

const (
	FallbackReply     = "Xin lỗi chị, hệ thống đang gặp lỗi. Chị vui lòng thử lại sau ạ 🙏"
	EmptyReply        = "Xin lỗi, em chưa hiểu ý chị ạ 😊"
	ToolSavedReply    = "Đã lưu thông tin thành công ạ! ✨"
	ToolFailedReply   = "Có lỗi xảy ra, chị vui lòng thử lại nhé 😊"
	maxRecommendation = 10

	purposeGenerate     = "generate"
	purposeContinuation = "continuation"
)

// ErrModelTimeout marks a model call that exceeded its deadline.
var ErrModelTimeout = errors.New("assistant: model call timed out")

var (
	inputPricePerM  = decimal.RequireFromString("0.125")
	outputPricePerM = decimal.RequireFromString("0.375")
	inputShare      = decimal.RequireFromString("0.4")
	outputShare     = decimal.RequireFromString("0.6")
	million         = decimal.NewFromInt(1_000_000)
)

type UsageRecorder interface {
	InsertUsageLog(ctx context.Context, u *models.UsageLog) error
}

type Options struct {
	Model                 string
	Timeout               time.Duration
	Temperature           float64
	MaxTokens             int64
	ContinuationMaxTokens int64
}

type Adapter struct {
	provider ai.Provider
	prompts  *Prompts
	usage    UsageRecorder
	opts     Options
}

func NewAdapter(provider ai.Provider, prompts *Prompts, usage UsageRecorder, opts Options) *Adapter {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2048
	}
	if opts.ContinuationMaxTokens <= 0 {
		opts.ContinuationMaxTokens = 1024
	}
	return &Adapter{provider: provider, prompts: prompts, usage: usage, opts: opts}
}

// Reply is the parsed outcome of one generate call.
type Reply struct {
	Text           string
	TokensUsed     int
	Recommendation string
	ProductIDs     []string
	Products       []models.Product
	ToolCalls      []ToolCall
}

// Generate performs the main model call for a turn. Any error, including a
// timeout or a malformed JSON answer, means no tool call may be executed.
func (a *Adapter) Generate(ctx context.Context, tc *turn.Context, message string) (Reply, error) {
	user, err := a.prompts.Context(tc, message)
	if err != nil {
		return Reply{}, err
	}

	comp, err := a.call(ctx, tc, purposeGenerate, []ai.Message{
		{Role: ai.RoleSystem, Content: a.prompts.system},
		{Role: ai.RoleUser, Content: user},
	}, a.opts.MaxTokens)
	if err != nil {
		return Reply{}, err
	}

	p, err := parseResponse(comp.Content)
	if err != nil {
		metrics.ModelFailure(purposeGenerate)
		return Reply{TokensUsed: comp.TotalTokens}, err
	}

	out := Reply{
		Text:           p.Text,
		TokensUsed:     comp.TotalTokens,
		Recommendation: p.Recommendation,
		ProductIDs:     p.ProductIDs,
		ToolCalls:      p.ToolCalls,
	}
	if out.Text == "" {
		out.Text = EmptyReply
	}
	out.Products = resolveProducts(tc.Products, p.ProductIDs)
	return out, nil
}

// ContinueWithToolResult asks the model to phrase a tool outcome for the
// customer. On any failure it falls back to the tool's own message.
func (a *Adapter) ContinueWithToolResult(ctx context.Context, tc *turn.Context, message, toolName string, res turn.ToolResult) (string, int) {
	fallback := res.Message
	if fallback == "" {
		fallback = ToolSavedReply
		if !res.Success {
			fallback = ToolFailedReply
		}
	}

	user, err := a.prompts.Continuation(tc, message, toolName, res)
	if err != nil {
		log.WithError(err).WithField("tool", toolName).Warn("continuation: render prompt failed")
		return fallback, 0
	}
	comp, err := a.call(ctx, tc, purposeContinuation, []ai.Message{
		{Role: ai.RoleSystem, Content: a.prompts.continuationSystem},
		{Role: ai.RoleUser, Content: user},
	}, a.opts.ContinuationMaxTokens)
	if err != nil {
		log.WithError(err).WithField("tool", toolName).Warn("continuation: model call failed")
		return fallback, 0
	}
	p, err := parseResponse(comp.Content)
	if err != nil || p.Text == "" {
		return fallback, comp.TotalTokens
	}
	return p.Text, comp.TotalTokens
}

func (a *Adapter) call(ctx context.Context, tc *turn.Context, purpose string, msgs []ai.Message, maxTokens int64) (ai.Completion, error) {
	cctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	comp, err := a.provider.Chat(cctx, msgs, ai.Options{
		Temperature: a.opts.Temperature,
		MaxTokens:   maxTokens,
		JSON:        true,
	})
	if err != nil {
		metrics.ModelFailure(purpose)
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return ai.Completion{}, errors.Wrap(ErrModelTimeout, err.Error())
		}
		return ai.Completion{}, errors.Wrapf(err, "model %s", purpose)
	}
	a.recordUsage(ctx, tc, purpose, comp)
	return comp, nil
}

func (a *Adapter) recordUsage(ctx context.Context, tc *turn.Context, purpose string, comp ai.Completion) {
	if a.usage == nil || comp.TotalTokens <= 0 {
		return
	}
	in, out, cost := Cost(comp.TotalTokens)
	model := comp.Model
	if model == "" {
		model = a.opts.Model
	}
	u := &models.UsageLog{
		Model:        model,
		Purpose:      purpose,
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  comp.TotalTokens,
		CostUSD:      cost,
	}
	if tc != nil && tc.Conversation != nil {
		u.ConversationID = tc.Conversation.ID
	}
	if err := a.usage.InsertUsageLog(ctx, u); err != nil {
		log.WithError(err).Warn("usage log insert failed")
	}
}

// Cost splits a reported total 40/60 into input/output tokens and prices it
// in USD per million tokens.
func Cost(total int) (input, output int, usd decimal.Decimal) {
	t := decimal.NewFromInt(int64(total))
	in := t.Mul(inputShare)
	out := t.Mul(outputShare)
	usd = in.Div(million).Mul(inputPricePerM).Add(out.Div(million).Mul(outputPricePerM))
	input = int(in.Round(0).IntPart())
	return input, total - input, usd
}

func resolveProducts(candidates []models.Product, ids []string) []models.Product {
	if len(ids) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]models.Product, len(candidates))
	for _, p := range candidates {
		byID[p.ID] = p
	}
	seen := map[uuid.UUID]bool{}
	var out []models.Product
	for _, raw := range ids {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil || seen[id] {
			continue
		}
		if p, ok := byID[id]; ok {
			out = append(out, p)
			seen[id] = true
		}
		if len(out) == maxRecommendation {
			break
		}
	}
	return out
}
