package handlers

import (
	"context"

	"gorm.io/gorm"

	"github.com/codechat-app/backend/internal/ai"
	"github.com/codechat-app/backend/internal/chat"
	"github.com/codechat-app/backend/internal/config"
	"github.com/codechat-app/backend/internal/files"
	"github.com/codechat-app/backend/internal/logger"
	"github.com/codechat-app/backend/internal/storage"
	"github.com/codechat-app/backend/internal/store/redisstore"
)

// CleanupPublisher enqueues session-cleanup jobs. Satisfied by
// rabbitmq.Publisher; nil means cleanup runs synchronously in the handler.
type CleanupPublisher interface {
	PublishCleanup(ctx context.Context, jobID string) error
}

type Handler struct {
	Cfg     config.Config
	Log     *logger.Logger
	DB      *gorm.DB
	Storage storage.Store
	Cache   *redisstore.Store
	Jobs    CleanupPublisher

	Repo    *chat.Repo
	Files   *files.Service
	ChatSvc *chat.Service
}

func NewHandler(cfg config.Config, log *logger.Logger, gdb *gorm.DB, store storage.Store, cache *redisstore.Store, jobs CleanupPublisher) *Handler {
	repo := chat.NewRepo(gdb)
	fileSvc := files.NewService(repo, store, cache, log.With("service", "files"))

	registry := ai.NewRegistry()
	registry.Register("gemini", func(ctx context.Context, apiKey, model string) (ai.Provider, error) {
		return ai.NewGeminiProvider(apiKey, model), nil
	})
	registry.Register("ollama", func(ctx context.Context, apiKey, model string) (ai.Provider, error) {
		if model == "" {
			model = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, model), nil
	})

	model := cfg.GeminiModel
	if cfg.AIProvider == "ollama" {
		model = cfg.OllamaModel
	}
	chatSvc := chat.NewService(repo, fileSvc, registry, cfg.AIProvider, model, log.With("service", "chat"))

	return &Handler{
		Cfg:     cfg,
		Log:     log,
		DB:      gdb,
		Storage: store,
		Cache:   cache,
		Jobs:    jobs,
		Repo:    repo,
		Files:   fileSvc,
		ChatSvc: chatSvc,
	}
}
