package config

import (
	"errors"
	"fmt"
	"slices"
)

var (
	logLevels         = []string{"", "debug", "info", "warn", "error"}
	logFormats        = []string{"", "text", "json"}
	journalDrivers    = []string{"", "memory", "sqlite"}
	vectorDrivers     = []string{"", "memory", "chromem"}
	embedderDrivers   = []string{"", "none", "openai"}
	summarizerDrivers = []string{"", "none", "openai"}
	tokenEstimators   = []string{"", "chars", "tiktoken"}
)

// Validate checks the structural validity of a Config. All problems are
// reported at once rather than one per run.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if !slices.Contains(logLevels, cfg.Log.Level) {
		errs = append(errs, fmt.Errorf("config: log.level %q (supported: debug, info, warn, error)", cfg.Log.Level))
	}
	if !slices.Contains(logFormats, cfg.Log.Format) {
		errs = append(errs, fmt.Errorf("config: log.format %q (supported: text, json)", cfg.Log.Format))
	}

	if !slices.Contains(journalDrivers, cfg.Journal.Driver) {
		errs = append(errs, fmt.Errorf("config: journal.driver %q (supported: memory, sqlite)", cfg.Journal.Driver))
	}
	if cfg.Journal.Driver == "sqlite" && cfg.Journal.Path == "" {
		errs = append(errs, errors.New("config: journal.path is required for the sqlite driver"))
	}

	if !slices.Contains(vectorDrivers, cfg.Vector.Driver) {
		errs = append(errs, fmt.Errorf("config: vector.driver %q (supported: memory, chromem)", cfg.Vector.Driver))
	}

	errs = append(errs, validateEmbedder(cfg.Embedder)...)
	errs = append(errs, validateSummarizer(cfg.Summarizer)...)

	if !slices.Contains(tokenEstimators, cfg.Tokens.Estimator) {
		errs = append(errs, fmt.Errorf("config: tokens.estimator %q (supported: chars, tiktoken)", cfg.Tokens.Estimator))
	}
	if cfg.Tokens.CharsPerToken < 0 {
		errs = append(errs, errors.New("config: tokens.chars_per_token must be positive"))
	}

	if cfg.WorkingSet.MaxTurns < 0 {
		errs = append(errs, errors.New("config: working_set.max_turns must be positive"))
	}
	if cfg.WorkingSet.MaxTokens < 0 {
		errs = append(errs, errors.New("config: working_set.max_tokens must be positive"))
	}
	if cfg.Archivist.Retention < 0 {
		errs = append(errs, errors.New("config: archivist.retention must be positive"))
	}

	errs = append(errs, validateRecall(cfg.Recall)...)

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("config: tracing.endpoint is required when tracing is enabled"))
	}

	return errors.Join(errs...)
}

func validateEmbedder(e EmbedderConfig) []error {
	var errs []error

	if !slices.Contains(embedderDrivers, e.Driver) {
		errs = append(errs, fmt.Errorf("config: embedder.driver %q (supported: none, openai)", e.Driver))
		return errs
	}
	if e.Driver != "openai" {
		return nil
	}

	if e.BaseURL == "" {
		errs = append(errs, errors.New("config: embedder.base_url is required for the openai driver"))
	}
	if e.Model == "" {
		errs = append(errs, errors.New("config: embedder.model is required for the openai driver"))
	}
	return errs
}

func validateSummarizer(s SummarizerConfig) []error {
	var errs []error

	if !slices.Contains(summarizerDrivers, s.Driver) {
		errs = append(errs, fmt.Errorf("config: summarizer.driver %q (supported: none, openai)", s.Driver))
		return errs
	}
	if s.Driver != "openai" {
		return nil
	}

	if s.BaseURL == "" {
		errs = append(errs, errors.New("config: summarizer.base_url is required for the openai driver"))
	}
	if s.Model == "" {
		errs = append(errs, errors.New("config: summarizer.model is required for the openai driver"))
	}
	return errs
}

func validateRecall(r RecallConfig) []error {
	var errs []error

	if r.MinSimilarity < 0 || r.MinSimilarity > 1 {
		errs = append(errs, errors.New("config: recall.min_similarity must be in [0,1]"))
	}
	if r.MinResonance < 0 || r.MinResonance > 1 {
		errs = append(errs, errors.New("config: recall.min_resonance must be in [0,1]"))
	}
	if r.SemanticTopK < 0 || r.AffectTopK < 0 || r.RecentMaxItems < 0 {
		errs = append(errs, errors.New("config: recall result caps must be positive"))
	}
	if r.BackendTimeout < 0 {
		errs = append(errs, errors.New("config: recall.backend_timeout must be positive"))
	}
	return errs
}
