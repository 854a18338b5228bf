package assistant

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/suPer8Hu/commerce-chat/internal/common"
	"github.com/suPer8Hu/commerce-chat/internal/models"
	"github.com/suPer8Hu/commerce-chat/internal/store/sqlstore"
	"github.com/suPer8Hu/commerce-chat/internal/turn"
)

//go:embed prompts.yaml
var promptsYAML []byte

const historyLineLimit = 150

type Persona struct {
	BotName          string `yaml:"bot_name"`
	StoreName        string `yaml:"store_name"`
	StoreDescription string `yaml:"store_description"`
	ShippingPolicy   string `yaml:"shipping_policy"`
	ReturnPolicy     string `yaml:"return_policy"`
	PaymentPolicy    string `yaml:"payment_policy"`
}

type promptFile struct {
	Persona            Persona `yaml:"persona"`
	System             string  `yaml:"system"`
	Context            string  `yaml:"context"`
	ContinuationSystem string  `yaml:"continuation_system"`
	Continuation       string  `yaml:"continuation"`
}

// Prompts is the parsed prompt catalogue.
type Prompts struct {
	Persona Persona

	system             string
	continuationSystem string
	context            *template.Template
	continuation       *template.Template
}

var funcs = template.FuncMap{
	"vnd":  common.FormatVND,
	"join": strings.Join,
	"inc":  func(i int) int { return i + 1 },
}

// LoadPrompts parses the embedded catalogue.
func LoadPrompts() (*Prompts, error) {
	return ParsePrompts(promptsYAML)
}

func ParsePrompts(data []byte) (*Prompts, error) {
	var f promptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parse prompts")
	}

	system, err := render("system", f.System, map[string]any{"Persona": f.Persona})
	if err != nil {
		return nil, err
	}
	ctxTpl, err := template.New("context").Funcs(funcs).Parse(f.Context)
	if err != nil {
		return nil, errors.Wrap(err, "parse context template")
	}
	contTpl, err := template.New("continuation").Funcs(funcs).Parse(f.Continuation)
	if err != nil {
		return nil, errors.Wrap(err, "parse continuation template")
	}
	return &Prompts{
		Persona:            f.Persona,
		system:             system,
		continuationSystem: strings.TrimSpace(f.ContinuationSystem),
		context:            ctxTpl,
		continuation:       contTpl,
	}, nil
}

func render(name, text string, data any) (string, error) {
	tpl, err := template.New(name).Funcs(funcs).Parse(text)
	if err != nil {
		return "", errors.Wrapf(err, "parse %s template", name)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(err, "render %s template", name)
	}
	return buf.String(), nil
}

type historyLine struct {
	Role string
	Text string
}

type productLine struct {
	ID    string
	Name  string
	Price int64
	Stock int
}

type contextData struct {
	Profile      *models.CustomerProfile
	Styles       []string
	SavedAddress string
	SavedPhone   string
	Awaiting     bool
	Facts        []models.MemoryFact
	Interests    []sqlstore.Interest
	Summary      *models.ConversationSummary
	KeyPoints    []string
	Cart         []models.CartItem
	CartTotal    int64
	History      []historyLine
	Products     []productLine
	Message      string
}

func newContextData(tc *turn.Context, message string) contextData {
	d := contextData{
		Profile:   tc.Profile,
		Facts:     tc.Facts,
		Interests: tc.Interests,
		Summary:   tc.Summary,
		Cart:      tc.Cart,
		Message:   message,
	}
	if tc.Profile != nil && len(tc.Profile.StylePreference) > 0 {
		_ = json.Unmarshal(tc.Profile.StylePreference, &d.Styles)
	}
	if !tc.SavedAddress.Empty() {
		d.SavedAddress = tc.SavedAddress.Full()
		d.SavedPhone = tc.SavedAddress.Phone
		if d.SavedPhone == "" && tc.Profile != nil {
			d.SavedPhone = tc.Profile.Phone
		}
	}
	if tc.Conversation != nil {
		d.Awaiting = tc.Conversation.AwaitingConfirmation
	}
	if tc.Summary != nil && len(tc.Summary.KeyPoints) > 0 {
		_ = json.Unmarshal(tc.Summary.KeyPoints, &d.KeyPoints)
	}
	for _, it := range tc.Cart {
		d.CartTotal += it.LineTotal()
	}
	for _, m := range tc.History {
		role := "👤 KHÁCH"
		if m.Sender == models.SenderBot {
			role = "🤖 BOT"
		}
		d.History = append(d.History, historyLine{Role: role, Text: truncate(m.Content, historyLineLimit)})
	}
	for _, p := range tc.Products {
		d.Products = append(d.Products, productLine{ID: p.ID.String(), Name: p.Name, Price: p.Price, Stock: p.Stock})
	}
	return d
}

// Context renders the per-turn user prompt.
func (p *Prompts) Context(tc *turn.Context, message string) (string, error) {
	var buf bytes.Buffer
	if err := p.context.Execute(&buf, newContextData(tc, message)); err != nil {
		return "", errors.Wrap(err, "render context")
	}
	return buf.String(), nil
}

// Continuation renders the follow-up prompt for a tool outcome.
func (p *Prompts) Continuation(tc *turn.Context, message, toolName string, res turn.ToolResult) (string, error) {
	base, err := p.Context(tc, message)
	if err != nil {
		return "", err
	}
	resJSON, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := p.continuation.Execute(&buf, map[string]any{
		"ToolName":       toolName,
		"ToolResultJSON": string(resJSON),
		"ToolSuccess":    res.Success,
		"ToolMessage":    res.Message,
	}); err != nil {
		return "", errors.Wrap(err, "render continuation")
	}
	return base + "\n" + buf.String(), nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
