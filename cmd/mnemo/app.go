package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mnemo-ai/mnemo/internal/api"
	"github.com/mnemo-ai/mnemo/internal/archivist"
	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/cron"
	"github.com/mnemo-ai/mnemo/internal/memory"
	"github.com/mnemo-ai/mnemo/internal/metrics"
	"github.com/mnemo-ai/mnemo/internal/recall"
	"github.com/mnemo-ai/mnemo/internal/workingset"
	openaiembed "github.com/mnemo-ai/mnemo/modules/embedder/openai"
	sqlitestore "github.com/mnemo-ai/mnemo/modules/journal/sqlite"
	openaisum "github.com/mnemo-ai/mnemo/modules/summarizer/openai"
	chromemindex "github.com/mnemo-ai/mnemo/modules/vector/chromem"
)

const shutdownTimeout = 15 * time.Second

// run wires the configured backends into the memory pipeline and serves
// until SIGINT or SIGTERM.
func run(cfg *config.Config) error {
	logger, closeLogs := config.SetupLogger(cfg.Log)
	defer func() { _ = closeLogs() }()

	ctx := context.Background()

	if cfg.Tracing.Enabled {
		shutdown, err := setupTracing(ctx, cfg.Tracing.Endpoint)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("trace exporter shutdown failed", "error", err)
			}
		}()
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	estimator, err := buildEstimator(cfg.Tokens)
	if err != nil {
		return err
	}

	journal, episodes, closeStore, err := buildStorage(cfg.Journal)
	if err != nil {
		return err
	}
	defer closeStore()

	index, embedder, err := buildVectorBackend(cfg.Vector, cfg.Embedder)
	if err != nil {
		return err
	}

	summarizer, err := buildSummarizer(cfg.Summarizer)
	if err != nil {
		return err
	}
	if summarizer == nil {
		logger.Info("no summarizer configured, episodes use the heuristic summary")
	}

	arch := archivist.New(episodes, summarizer, estimator, archivist.Config{
		SummaryTokenCap: cfg.Archivist.SummaryTokenCap,
		Retention:       cfg.Archivist.Retention,
		HeuristicTopics: cfg.Archivist.HeuristicTopics,
	}, logger, m)

	sets := workingset.NewManager(journal, estimator, arch, workingset.Config{
		MaxTurns:  cfg.WorkingSet.MaxTurns,
		MaxTokens: cfg.WorkingSet.MaxTokens,
	}, logger, m)

	if err := sets.Restore(ctx); err != nil {
		return fmt.Errorf("restore working sets: %w", err)
	}

	engine := recall.New(sets, episodes, index, embedder, estimator, recall.Config{
		RecentWindow:   cfg.Recall.RecentWindow,
		RecentMaxItems: cfg.Recall.RecentMaxItems,
		SemanticTopK:   cfg.Recall.SemanticTopK,
		MinSimilarity:  cfg.Recall.MinSimilarity,
		AffectTopK:     cfg.Recall.AffectTopK,
		MinResonance:   cfg.Recall.MinResonance,
		BackendTimeout: cfg.Recall.BackendTimeout,
	}, logger, m)

	scheduler := cron.NewScheduler(logger)
	if err := scheduler.RegisterJob(&cron.PendingFlushJob{
		Sets:         sets,
		Logger:       logger,
		ScheduleExpr: cfg.Sweep.PendingFlush,
	}); err != nil {
		return err
	}
	if embedder != nil {
		vectorizer := archivist.NewVectorizer(index, embedder, episodes, nil, logger, m)
		if err := scheduler.RegisterJob(&cron.RetentionSweepJob{
			Source:       arch,
			Vectorizer:   vectorizer,
			Logger:       logger,
			Metrics:      m,
			ScheduleExpr: cfg.Sweep.Retention,
		}); err != nil {
			return err
		}
	} else {
		logger.Warn("no embedder configured, retention sweep disabled")
	}

	if err := scheduler.Start(); err != nil {
		return err
	}

	server := api.NewServer(sets, episodes, engine, registry, cfg.HTTP, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func buildEstimator(cfg config.TokensConfig) (memory.TokenEstimator, error) {
	switch cfg.Estimator {
	case "", "chars":
		return memory.NewCharEstimator(cfg.CharsPerToken), nil
	case "tiktoken":
		encoding := cfg.Encoding
		if encoding == "" {
			encoding = "cl100k_base"
		}
		return memory.NewTiktokenEstimator(encoding)
	default:
		return nil, fmt.Errorf("unknown token estimator %q", cfg.Estimator)
	}
}

func buildSummarizer(cfg config.SummarizerConfig) (memory.Summarizer, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "openai":
		return openaisum.NewClient(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown summarizer driver %q", cfg.Driver)
	}
}

func buildStorage(cfg config.JournalConfig) (memory.Journal, memory.EpisodeStore, func(), error) {
	switch cfg.Driver {
	case "", "memory":
		return memory.NewInMemoryJournal(), memory.NewInMemoryEpisodeStore(), func() {}, nil
	case "sqlite":
		store, err := sqlitestore.Open(cfg.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown journal driver %q", cfg.Driver)
	}
}

func buildVectorBackend(vec config.VectorConfig, emb config.EmbedderConfig) (memory.VectorIndex, memory.Embedder, error) {
	var index memory.VectorIndex
	switch vec.Driver {
	case "", "memory":
		index = memory.NewInMemoryVectorIndex()
	case "chromem":
		idx, err := chromemindex.New(vec.Path)
		if err != nil {
			return nil, nil, err
		}
		index = idx
	default:
		return nil, nil, fmt.Errorf("unknown vector driver %q", vec.Driver)
	}

	switch emb.Driver {
	case "", "none":
		return index, nil, nil
	case "openai":
		return index, openaiembed.NewClient(emb.BaseURL, emb.APIKey, emb.Model), nil
	default:
		return nil, nil, fmt.Errorf("unknown embedder driver %q", emb.Driver)
	}
}
