package chat

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/suPer8Hu/commerce-chat/internal/ai"
	"github.com/suPer8Hu/commerce-chat/internal/assembler"
	"github.com/suPer8Hu/commerce-chat/internal/assistant"
	"github.com/suPer8Hu/commerce-chat/internal/channel"
	"github.com/suPer8Hu/commerce-chat/internal/config"
	"github.com/suPer8Hu/commerce-chat/internal/memory"
	"github.com/suPer8Hu/commerce-chat/internal/notify"
	"github.com/suPer8Hu/commerce-chat/internal/orderflow"
	"github.com/suPer8Hu/commerce-chat/internal/store/sqlstore"
	"github.com/suPer8Hu/commerce-chat/internal/tools"
)

const memoryTaskTimeout = 30 * time.Second

// Runtime is a wired pipeline plus the parts its process has to manage.
type Runtime struct {
	Service *Service
	Memory  *memory.Pipeline
	Runner  *memory.Runner
	Tokens  *channel.TokenManager
	Notify  *notify.Service
}

// Close drains background memory tasks.
func (rt *Runtime) Close() {
	rt.Runner.Close()
}

// Build wires the pipeline from configuration. tokenCache may be nil.
func Build(ctx context.Context, cfg config.Config, gdb *gorm.DB, tokenCache channel.TokenCache) (*Runtime, error) {
	repo := sqlstore.NewRepo(gdb)

	providerName := strings.ToLower(strings.TrimSpace(cfg.AIProvider))
	provider, err := ai.NewRegistryFromConfig(cfg).Get(ctx, providerName, "")
	if err != nil {
		return nil, errors.Wrap(err, "ai provider")
	}
	model := cfg.OpenRouterModel
	if providerName == "ollama" {
		model = cfg.OllamaModel
	}

	prompts, err := assistant.LoadPrompts()
	if err != nil {
		return nil, errors.Wrap(err, "load prompts")
	}
	adapter := assistant.NewAdapter(provider, prompts, repo, assistant.Options{
		Model:                 model,
		Timeout:               cfg.ModelTimeout,
		Temperature:           cfg.ModelTemperature,
		MaxTokens:             cfg.ModelMaxTokens,
		ContinuationMaxTokens: cfg.ContinuationMaxTokens,
	})

	var embedder ai.Embedder
	if cfg.EmbeddingModel != "" {
		embedder = ai.NewOpenAIEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel)
	}

	policy := channel.NormalizePolicy(channel.Policy{Delay: cfg.OutboundDelay})
	tokens := channel.NewTokenManager(cfg.ZaloOAuthURL, cfg.ZaloAppID, cfg.ZaloSecretKey, cfg.ZaloRefreshToken, tokenCache)
	channels := channel.NewDispatcher(
		channel.NewFacebook(cfg.FacebookGraphURL, cfg.StoreBaseURL, cfg.PlaceholderImageURL, policy),
		channel.NewZalo(cfg.ZaloAPIURL, cfg.StoreBaseURL, cfg.PlaceholderImageURL, policy, tokens),
	)

	zns := channel.NewZNS(cfg.ZaloZNSURL, cfg.ZaloZNSTemplateID, policy, tokens)
	notifier := notify.New(repo, zns, cfg.ZaloZNSTemplateID)

	flow := orderflow.New(repo, orderflow.WithNotifier(notifier))
	runner := memory.NewRunner(cfg.MemoryWorkers, cfg.MemoryQueueSize, memoryTaskTimeout)
	pipeline := memory.NewPipeline(repo, runner, embedder, cfg.SummaryEvery)

	svc := NewService(Deps{
		Repo:      repo,
		Assembler: assembler.New(repo, cfg.ChatHistorySize, cfg.ContextProductLimit),
		Model:     adapter,
		Tools:     tools.NewDispatcher(repo, flow, adapter, channels),
		Flow:      flow,
		Channels:  channels,
		Memory:    pipeline,
	})

	log.WithFields(log.Fields{
		"provider":   providerName,
		"model":      model,
		"embeddings": embedder != nil,
		"zalo_oauth": tokens.Configured(),
		"zalo_zns":   zns.Configured(),
	}).Info("chat pipeline ready")

	return &Runtime{Service: svc, Memory: pipeline, Runner: runner, Tokens: tokens, Notify: notifier}, nil
}
