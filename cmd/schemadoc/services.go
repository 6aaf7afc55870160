package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schemadoc/schemadoc/internal/batch"
	"github.com/schemadoc/schemadoc/internal/budget"
	"github.com/schemadoc/schemadoc/internal/config"
	"github.com/schemadoc/schemadoc/internal/docmeta"
	"github.com/schemadoc/schemadoc/internal/events"
	"github.com/schemadoc/schemadoc/internal/pipeline"
	"github.com/schemadoc/schemadoc/internal/providers"
	"github.com/schemadoc/schemadoc/internal/review"
	"github.com/schemadoc/schemadoc/internal/sequence"
	"github.com/schemadoc/schemadoc/internal/store"
)

// services wires together everything a command needs.
type services struct {
	cfg         *config.Config
	store       *store.Store
	issuer      *sequence.Issuer
	coordinator *batch.Coordinator
	queue       *review.Queue
	relay       *events.Relay
	logger      *slog.Logger
}

// buildServices loads config and constructs the pipeline components.
func buildServices(ctx context.Context) (*services, error) {
	cm, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg := cm.Get()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	issuer := sequence.NewIssuer(sequence.Config{
		Store:         st,
		WarnThreshold: cfg.Sequence.WarnThreshold,
		Logger:        logger,
	})
	if err := issuer.Init(ctx, cfg.Sequence.Categories...); err != nil {
		_ = st.Close()
		return nil, err
	}

	client, err := buildClient(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	generator := budget.NewGenerator(budget.GeneratorConfig{
		Client:  client,
		Cache:   st,
		Limiter: providers.NewRateLimiter(cfg.Provider.RequestsPerMinute),
		Policy:  cfg.BudgetPolicy(),
		Logger:  logger,
	})

	relay := events.NewRelay(logger)

	machine := pipeline.NewMachine(pipeline.MachineConfig{
		Store:          st,
		Extractor:      docmeta.StaticExtractor{},
		Generator:      generator,
		Issuer:         issuer,
		Events:         relay,
		Review:         cfg.ReviewThresholds(),
		Classifier:     cfg.ClassifierThresholds(),
		ExtractRetries: cfg.Pipeline.ExtractRetries,
		Logger:         logger,
	})

	coordinator := batch.NewCoordinator(batch.CoordinatorConfig{
		Store:   st,
		Machine: machine,
		Events:  relay,
		Workers: cfg.Pipeline.Workers,
		Review:  cfg.ReviewThresholds(),
		Logger:  logger,
	})

	queue := review.NewQueue(review.QueueConfig{
		Store:  st,
		Issuer: issuer,
		Logger: logger,
	})

	return &services{
		cfg:         cfg,
		store:       st,
		issuer:      issuer,
		coordinator: coordinator,
		queue:       queue,
		relay:       relay,
		logger:      logger,
	}, nil
}

// close releases held resources.
func (s *services) close() {
	s.relay.Close()
	if err := s.store.Close(); err != nil {
		s.logger.Warn("failed to close store", "error", err)
	}
}

// retention returns the configured batch retention window.
func (s *services) retention() time.Duration {
	days := s.cfg.Pipeline.RetentionDays
	if days <= 0 {
		days = 90
	}
	return time.Duration(days) * 24 * time.Hour
}

// buildClient selects the generation backend from config.
func buildClient(cfg *config.Config) (providers.Client, error) {
	switch cfg.Provider.Type {
	case "", "openai":
		if cfg.Provider.APIKey == "" {
			return nil, fmt.Errorf("provider.api_key is not set (default reads OPENAI_API_KEY)")
		}
		return providers.NewOpenAIClient(providers.OpenAIConfig{
			APIKey: cfg.Provider.APIKey,
			Model:  cfg.Provider.Model,
		}), nil
	case "mock":
		return providers.NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Provider.Type)
	}
}
