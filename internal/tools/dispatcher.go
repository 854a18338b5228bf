// Package tools executes the side effects the model asks for. Every call is
// validated against its own schema before anything is persisted, and one
// failing call never stops the calls after it.
package tools

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/suPer8Hu/commerce-chat/internal/assistant"
	"github.com/suPer8Hu/commerce-chat/internal/metrics"
	"github.com/suPer8Hu/commerce-chat/internal/models"
	"github.com/suPer8Hu/commerce-chat/internal/orderflow"
	"github.com/suPer8Hu/commerce-chat/internal/store/sqlstore"
	"github.com/suPer8Hu/commerce-chat/internal/turn"
)

const invalidArgsMessage = "Thông tin chưa hợp lệ, chị kiểm tra lại giúp em nhé"

// Continuer phrases a tool outcome for the customer.
type Continuer interface {
	ContinueWithToolResult(ctx context.Context, tc *turn.Context, message, toolName string, res turn.ToolResult) (string, int)
}

// ImageSender pushes a single product image to a messaging platform.
type ImageSender interface {
	SendImage(ctx context.Context, platform models.Platform, recipient, accessToken, imageURL string, product *models.Product) error
}

// Request carries the parts of the inbound message tools need.
type Request struct {
	Message     string
	Recipient   string
	AccessToken string
}

type Dispatcher struct {
	repo      *sqlstore.Repo
	flow      *orderflow.Flow
	continuer Continuer
	images    ImageSender
	validate  *validator.Validate
}

func NewDispatcher(repo *sqlstore.Repo, flow *orderflow.Flow, continuer Continuer, images ImageSender) *Dispatcher {
	return &Dispatcher{
		repo:      repo,
		flow:      flow,
		continuer: continuer,
		images:    images,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Run executes calls in the order the model emitted them. A successful call
// replaces the reply with its continuation, so the last success wins. A
// rejected call asks the customer for a correction unless an earlier call
// already succeeded.
func (d *Dispatcher) Run(ctx context.Context, tc *turn.Context, req Request, calls []assistant.ToolCall, res *turn.Result) {
	for _, call := range calls {
		name := call.ToolName()
		logger := log.WithFields(log.Fields{
			"conversation_id": tc.Conversation.ID,
			"tool":            name,
		})

		succeededBefore := res.AnyToolSucceeded()
		out, err := d.execute(ctx, tc, req, call, res)
		if err != nil {
			logger.WithError(err).Error("tool failed")
			out = turn.Failed(assistant.ToolFailedReply)
		}
		res.AddTool(name, out)
		metrics.ToolCall(name, out.Success)

		switch {
		case out.Success && name == assistant.ToolConfirmAndCreateOrder:
			// the receipt is sent verbatim
			res.SetReply(out.Message, turn.SourceTool)
			logger.Info("tool succeeded")
		case out.Success:
			text, tokens := d.continuer.ContinueWithToolResult(ctx, tc, req.Message, name, out)
			res.TokensUsed += tokens
			res.SetReply(text, turn.SourceTool)
			logger.Info("tool succeeded")
		case err == nil && out.Message != "" && !succeededBefore:
			res.SetReply(clarify(out.Message), turn.SourceTool)
			logger.WithField("reason", out.Message).Info("tool rejected")
		}
	}
}

func clarify(msg string) string {
	if strings.HasPrefix(msg, "Dạ") {
		return msg
	}
	r, size := utf8.DecodeRuneInString(msg)
	return "Dạ " + string(unicode.ToLower(r)) + strings.TrimSuffix(msg[size:], ".") + " ạ 🙏"
}

// execute routes one call and turns a handler panic into an error.
func (d *Dispatcher) execute(ctx context.Context, tc *turn.Context, req Request, call assistant.ToolCall, res *turn.Result) (out turn.ToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("stack", string(debug.Stack())).Error(fmt.Sprintf("tool panicked: %v", rec))
			err = errors.Errorf("tool %s panicked: %v", call.ToolName(), rec)
		}
	}()

	switch c := call.(type) {
	case assistant.SaveCustomerInfo:
		return d.saveCustomerInfo(ctx, tc, c)
	case assistant.SaveAddress:
		return d.saveAddress(ctx, tc, req, c)
	case assistant.AddToCart:
		return d.addToCart(ctx, tc, c)
	case assistant.ConfirmAndCreateOrder:
		return d.confirmAndCreateOrder(ctx, tc, c, res)
	case assistant.SendProductImage:
		return d.sendProductImage(ctx, tc, req, c, res)
	case assistant.UnknownTool:
		if c.Err != nil {
			return turn.ToolResult{}, c.Err
		}
		return turn.ToolResult{}, errors.Errorf("unknown tool %q", c.Name)
	}
	return turn.ToolResult{}, errors.Errorf("unhandled tool call %T", call)
}

// check validates the arguments against their struct tags.
func (d *Dispatcher) check(v any) (turn.ToolResult, bool) {
	if err := d.validate.Struct(v); err != nil {
		var fields []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+":"+fe.Tag())
			}
		}
		log.WithField("fields", strings.Join(fields, ",")).Warn("tool arguments rejected")
		return turn.Failed(invalidArgsMessage), false
	}
	return turn.ToolResult{}, true
}
