package main

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"solace.app/companion/internal/config"
	"solace.app/companion/internal/core"
	"solace.app/companion/internal/lock"
	"solace.app/companion/internal/store"
	"solace.app/companion/internal/vector"
)

// app holds the long-lived dependencies shared by the subcommands.
type app struct {
	cfg     *config.Config
	store   *store.SQLStore
	llm     *core.LLMService
	index   vector.Index
	chats   *core.ChatService
	journal *core.JournalService

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	dbStore, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.store = dbStore
	a.closers = append(a.closers, func() { dbStore.Close() })

	llm, err := core.NewLLMService(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel, cfg.TitleModel)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.llm = llm
	a.closers = append(a.closers, llm.Close)

	switch cfg.VectorBackend {
	case config.VectorBackendPgVector:
		a.index, err = vector.NewPgVectorIndex(ctx, dbStore.DB())
	default:
		a.index, err = vector.NewChromemIndex(cfg.VectorStorePath)
	}
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	log.WithField("backend", cfg.VectorBackend).Info("Vector index ready")

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisURL != "" {
		redisLocker, err := lock.NewRedisLockerFromURL(ctx, cfg.RedisURL, 0)
		if err != nil {
			a.Close()
			return nil, err
		}
		locker = redisLocker
		a.closers = append(a.closers, func() { redisLocker.Close() })
		log.Info("Using Redis for conversation locks")
	}

	generator := core.NewGenerationClient(core.GenerationClientConfig{
		BaseURL:        cfg.GeminiBaseURL,
		APIKey:         cfg.GeminiAPIKey,
		Model:          cfg.ChatModel,
		AttemptTimeout: cfg.GenerationTimeout,
	})
	retriever := core.NewRetriever(llm, a.index, dbStore)

	a.chats = core.NewChatService(dbStore, retriever, generator, llm, locker)
	a.journal = core.NewJournalService(dbStore, llm, a.index, generator)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
