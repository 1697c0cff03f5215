package knowledgeengine

import (
	"context"
	"log/slog"

	"github.com/kcartbot/knowledge-engine/config"
	"github.com/kcartbot/knowledge-engine/errors"
	"github.com/kcartbot/knowledge-engine/internal/mylog"
	"github.com/kcartbot/knowledge-engine/knowledge"
)

type (
	// Engine wires the knowledge store, the semantic index, and the embedder
	// into one retrieval service with an explicit lifecycle. There is no
	// module-level singleton: construct one, use it, close it.
	Engine struct {
		service  knowledge.Service
		store    knowledge.Store
		index    knowledge.Index
		embedder knowledge.Embedder
		logger   *slog.Logger

		knowledgeConfig *config.KnowledgeConfig
		logConfig       *config.LogConfig
	}

	Option func(*Engine)
)

// NewEngine builds an Engine from options and bootstraps the index: if the
// persisted index is empty, every entry already in the store is embedded and
// loaded before the first search.
func NewEngine(ctx context.Context, optionFuncs ...Option) (*Engine, error) {
	e := &Engine{
		knowledgeConfig: config.NewKnowledgeConfig(),
		logConfig:       config.NewLogConfig(),
	}
	for _, f := range optionFuncs {
		f(e)
	}

	if e.logger == nil {
		e.logger = mylog.NewLogger(e.logConfig.LogLevel, e.logConfig.LogHandler)
	}

	if e.embedder == nil {
		switch e.knowledgeConfig.Embedder {
		case "openai":
			if e.knowledgeConfig.OpenAIAPIKey == "" {
				return nil, errors.Wrapf(errors.ErrInvalidConfig, "openai embedder requires an API key")
			}
			e.embedder = knowledge.NewOpenAIEmbedder(e.knowledgeConfig.OpenAIAPIKey)
		case "", "nomic":
			if e.knowledgeConfig.NomicAPIKey == "" {
				return nil, errors.Wrapf(errors.ErrInvalidConfig, "nomic embedder requires an API key")
			}
			e.embedder = knowledge.NewNomicEmbedder(e.knowledgeConfig.NomicAPIKey)
		default:
			return nil, errors.Wrapf(errors.ErrInvalidConfig, "unknown embedder: %q", e.knowledgeConfig.Embedder)
		}
	}

	if e.store == nil {
		store, err := knowledge.NewSqliteStore(e.knowledgeConfig.StorePath)
		if err != nil {
			return nil, err
		}
		e.store = store
	}

	if e.index == nil {
		index, err := knowledge.NewSqliteIndex(e.knowledgeConfig.IndexDir, e.embedder.Dimension())
		if err != nil {
			_ = e.store.Close()
			return nil, err
		}
		e.index = index
	}

	e.service = knowledge.NewService(e.store, e.index, e.embedder, e.logger)

	if err := e.service.Bootstrap(ctx); err != nil {
		_ = e.service.Close()
		return nil, err
	}

	return e, nil
}

// Knowledge exposes the retrieval service.
func (e *Engine) Knowledge() knowledge.Service {
	return e.service
}

func (e *Engine) Close() error {
	return e.service.Close()
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithKnowledgeConfig(conf *config.KnowledgeConfig) Option {
	return func(e *Engine) {
		e.knowledgeConfig = conf
	}
}

func WithNomicAPIKey(apiKey string) Option {
	return func(e *Engine) {
		e.knowledgeConfig.Embedder = "nomic"
		e.knowledgeConfig.NomicAPIKey = apiKey
	}
}

func WithOpenAIAPIKey(apiKey string) Option {
	return func(e *Engine) {
		e.knowledgeConfig.Embedder = "openai"
		e.knowledgeConfig.OpenAIAPIKey = apiKey
	}
}

func WithStorePath(path string) Option {
	return func(e *Engine) {
		e.knowledgeConfig.StorePath = path
	}
}

func WithIndexDir(dir string) Option {
	return func(e *Engine) {
		e.knowledgeConfig.IndexDir = dir
	}
}

// WithEmbedder injects a custom embedder, bypassing the configured backend.
func WithEmbedder(embedder knowledge.Embedder) Option {
	return func(e *Engine) {
		e.embedder = embedder
	}
}

// WithStore injects a custom knowledge store.
func WithStore(store knowledge.Store) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithIndex injects a custom semantic index.
func WithIndex(index knowledge.Index) Option {
	return func(e *Engine) {
		e.index = index
	}
}
