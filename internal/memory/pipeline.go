// Package memory enriches future turns in the background: it embeds
// messages, extracts profile details and facts, and periodically summarizes
// conversations. Nothing here is on the reply path.
package memory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/suPer8Hu/commerce-chat/internal/ai"
	"github.com/suPer8Hu/commerce-chat/internal/models"
	"github.com/suPer8Hu/commerce-chat/internal/store/sqlstore"
)

const (
	maxEmbeddingRunes   = 1000
	summaryHistoryLimit = 500
	defaultSummaryEvery = 20
)

// Task names, used as log fields and metric labels.
const (
	TaskEmbedCustomer = "embed_customer_message"
	TaskEmbedBot      = "embed_bot_message"
	TaskShortTerm     = "extract_short_term"
	TaskLongTerm      = "extract_long_term"
	TaskSummary       = "summarize"
)

type Pipeline struct {
	repo         *sqlstore.Repo
	runner       *Runner
	embedder     ai.Embedder
	summaryEvery int64
	now          func() time.Time
}

// NewPipeline wires the pipeline. embedder may be nil, in which case
// embedding rows are stored with their text only.
func NewPipeline(repo *sqlstore.Repo, runner *Runner, embedder ai.Embedder, summaryEvery int) *Pipeline {
	if summaryEvery <= 0 {
		summaryEvery = defaultSummaryEvery
	}
	return &Pipeline{
		repo:         repo,
		runner:       runner,
		embedder:     embedder,
		summaryEvery: int64(summaryEvery),
		now:          time.Now,
	}
}

// Turn describes one finished turn.
type Turn struct {
	ConversationID  string
	UserID          *uint64
	ProfileID       uint64
	CustomerMessage *models.Message
	BotMessage      *models.Message
	Products        []models.Product
}

// Schedule submits the turn's tasks and returns immediately. It reports how
// many were accepted.
func (p *Pipeline) Schedule(t Turn) int {
	tasks := []Task{}
	if t.CustomerMessage != nil {
		m := t.CustomerMessage
		tasks = append(tasks, Task{Name: TaskEmbedCustomer, Run: func(ctx context.Context) error {
			return p.embed(ctx, t.ConversationID, models.EmbeddingMessage, m.ID, m.Content)
		}})
		tasks = append(tasks, Task{Name: TaskShortTerm, Run: func(ctx context.Context) error {
			return p.shortTerm(ctx, t, m.Content)
		}})
		if t.ProfileID != 0 {
			tasks = append(tasks, Task{Name: TaskLongTerm, Run: func(ctx context.Context) error {
				return p.longTerm(ctx, t.ProfileID, m.Content)
			}})
		}
	}
	if t.BotMessage != nil {
		m := t.BotMessage
		tasks = append(tasks, Task{Name: TaskEmbedBot, Run: func(ctx context.Context) error {
			return p.embed(ctx, t.ConversationID, models.EmbeddingMessage, m.ID, m.Content)
		}})
	}
	tasks = append(tasks, Task{Name: TaskSummary, Run: func(ctx context.Context) error {
		return p.summarize(ctx, t.ConversationID)
	}})

	accepted := 0
	for _, task := range tasks {
		if p.runner.Submit(task) {
			accepted++
		}
	}
	return accepted
}

func (p *Pipeline) embed(ctx context.Context, conversationID string, kind models.EmbeddingContentType, contentID uint64, text string) error {
	rs := []rune(text)
	if len(rs) > maxEmbeddingRunes {
		rs = rs[:maxEmbeddingRunes]
	}
	text = string(rs)
	if text == "" {
		return nil
	}

	row := &models.ConversationEmbedding{
		ConversationID: conversationID,
		ContentType:    kind,
		ContentID:      contentID,
		ContentText:    text,
	}
	if p.embedder != nil {
		vec, err := p.embedder.Embed(ctx, text)
		if err != nil {
			return errors.Wrap(err, "embed")
		}
		b, err := json.Marshal(vec)
		if err != nil {
			return err
		}
		row.Vector = datatypes.JSON(b)
		row.Model = p.embedder.Model()
	}
	return p.repo.InsertEmbedding(ctx, row)
}

// shortTerm updates the profile from the customer's own words and records
// interest in the products shown this turn.
func (p *Pipeline) shortTerm(ctx context.Context, t Turn, text string) error {
	profile, err := p.repo.EnsureProfile(ctx, t.ConversationID, t.UserID)
	if err != nil {
		return err
	}

	u := ExtractProfile(text)
	if len(u.Tags) > 0 {
		var existing []string
		if len(profile.StylePreference) > 0 {
			_ = json.Unmarshal(profile.StylePreference, &existing)
		}
		u.Fields.StylePreference = MergeTags(existing, u.Tags)
	}
	if !u.Empty() {
		if err := p.repo.UpdateProfileFields(ctx, profile.ID, u.Fields); err != nil {
			return errors.Wrap(err, "update profile")
		}
	}

	for _, prod := range t.Products {
		if err := p.repo.RecordProductInterest(ctx, profile.ID, prod.ID); err != nil {
			return errors.Wrap(err, "record interest")
		}
	}
	return nil
}

func (p *Pipeline) longTerm(ctx context.Context, profileID uint64, text string) error {
	for _, f := range ExtractFacts(text, p.now()) {
		f := f
		f.ProfileID = profileID
		// the same statement again refreshes the fact instead of duplicating it
		if err := p.repo.ReplaceFact(ctx, f.FactText, &f); err != nil {
			return errors.Wrap(err, "save fact")
		}
	}
	return nil
}

// summarize writes a summary each time the message count crosses a multiple
// of summaryEvery.
func (p *Pipeline) summarize(ctx context.Context, conversationID string) error {
	count, err := p.repo.CountMessages(ctx, conversationID)
	if err != nil {
		return err
	}
	if count < p.summaryEvery {
		return nil
	}
	latest, err := p.repo.LatestSummary(ctx, conversationID)
	if err != nil {
		return err
	}
	if latest != nil && count/p.summaryEvery <= latest.MessageCount/p.summaryEvery {
		return nil
	}

	desc, err := p.repo.ListMessages(ctx, conversationID, summaryHistoryLimit, 0)
	if err != nil {
		return err
	}
	msgs := make([]models.Message, 0, len(desc))
	for i := len(desc) - 1; i >= 0; i-- {
		msgs = append(msgs, desc[i])
	}
	s := BuildSummary(conversationID, msgs)
	if s == nil {
		return nil
	}
	s.MessageCount = count
	if err := p.repo.InsertSummary(ctx, s); err != nil {
		return errors.Wrap(err, "insert summary")
	}
	log.WithFields(log.Fields{
		"conversation_id": conversationID,
		"messages":        count,
		"intent":          s.CustomerIntent,
	}).Info("memory: summary created")

	if err := p.embed(ctx, conversationID, models.EmbeddingSummary, s.ID, s.SummaryText); err != nil {
		return err
	}
	for _, point := range KeyPoints(s) {
		if err := p.embed(ctx, conversationID, models.EmbeddingFact, s.ID, point); err != nil {
			return err
		}
	}
	return nil
}

// ExpireFacts deactivates facts past their expiry.
func (p *Pipeline) ExpireFacts(ctx context.Context) (int64, error) {
	return p.repo.ExpireFacts(ctx, p.now())
}
