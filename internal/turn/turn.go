// Package turn holds the values threaded through one inbound-message turn:
// the assembled context, tool results and the evolving turn result.
package turn

import (
	"github.com/suPer8Hu/commerce-chat/internal/models"
	"github.com/suPer8Hu/commerce-chat/internal/store/sqlstore"
)

// Context is everything the model sees for one turn. Memory fields are
// optional and stay empty when nothing is known yet.
type Context struct {
	Conversation *models.Conversation
	Profile      *models.CustomerProfile
	SavedAddress models.ShippingAddress

	Facts     []models.MemoryFact
	Interests []sqlstore.Interest
	Summary   *models.ConversationSummary

	// History is ordered oldest to newest.
	History  []models.Message
	Products []models.Product
	Cart     []models.CartItem
}

func (c *Context) HasMemory() bool {
	return c != nil && (len(c.Facts) > 0 || len(c.Interests) > 0 || c.Summary != nil)
}

// ToolResult is what a tool handler reports back to the model.
type ToolResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

func Succeeded(msg string, data map[string]any) ToolResult {
	return ToolResult{Success: true, Message: msg, Data: data}
}

func Failed(msg string) ToolResult {
	return ToolResult{Success: false, Message: msg}
}

type ReplySource string

const (
	SourceModel     ReplySource = "model"
	SourceTool      ReplySource = "tool"
	SourceOrderFlow ReplySource = "order_flow"
	SourceFallback  ReplySource = "fallback"
)

type ToolOutcome struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Result is the single value each stage of a turn reads and overrides.
// The last SetReply wins.
type Result struct {
	Reply       string
	ReplySource ReplySource

	TokensUsed     int
	Recommendation string
	Products       []models.Product

	MessageType  models.MessageType
	ImageURL     string
	ImageProduct *models.Product

	OrderCreated bool
	OrderNumber  string
	// the reply is a confirmation question
	ConfirmationAsked bool

	Tools []ToolOutcome
}

func NewResult() *Result {
	return &Result{MessageType: models.MessageText, Recommendation: "none"}
}

func (r *Result) SetReply(text string, source ReplySource) {
	r.Reply = text
	r.ReplySource = source
}

func (r *Result) AddTool(name string, res ToolResult) {
	r.Tools = append(r.Tools, ToolOutcome{Name: name, Success: res.Success, Message: res.Message})
}

// AnyToolSucceeded reports whether a tool already produced a continuation
// reply this turn.
func (r *Result) AnyToolSucceeded() bool {
	for _, t := range r.Tools {
		if t.Success {
			return true
		}
	}
	return false
}
