// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for mnemo.
package config

import "time"

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	Log        LogConfig        `yaml:"log"`
	HTTP       HTTPConfig       `yaml:"http"`
	Journal    JournalConfig    `yaml:"journal"`
	Vector     VectorConfig     `yaml:"vector"`
	Embedder   EmbedderConfig   `yaml:"embedder"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Tokens     TokensConfig     `yaml:"tokens"`
	WorkingSet WorkingSetConfig `yaml:"working_set"`
	Archivist  ArchivistConfig  `yaml:"archivist"`
	Recall     RecallConfig     `yaml:"recall"`
	Sweep      SweepConfig      `yaml:"sweep"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level"`

	// Format is "text" or "json". Defaults to text.
	Format string `yaml:"format"`

	// File additionally writes logs to the given path when set.
	File string `yaml:"file,omitempty"`
}

// HTTPConfig controls the API listener.
type HTTPConfig struct {
	// Addr is the listen address. Defaults to ":8787".
	Addr string `yaml:"addr"`

	// ReadTimeout and WriteTimeout bound request handling.
	ReadTimeout  time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`
}

// JournalConfig selects the turn journal and episode store backend.
type JournalConfig struct {
	// Driver is "memory" or "sqlite". Defaults to memory.
	Driver string `yaml:"driver"`

	// Path is the database file for the sqlite driver.
	Path string `yaml:"path,omitempty"`
}

// VectorConfig selects the similarity-search backend.
type VectorConfig struct {
	// Driver is "memory" or "chromem". Defaults to memory.
	Driver string `yaml:"driver"`

	// Path is the persistence directory for the chromem driver. Empty
	// keeps the index in memory only.
	Path string `yaml:"path,omitempty"`
}

// EmbedderConfig selects the embedding backend. With the "none" driver
// the vector tiers of recall are disabled and episodes stay unarchived.
type EmbedderConfig struct {
	// Driver is "none" or "openai". Defaults to none.
	Driver string `yaml:"driver"`

	// BaseURL is the API root of an OpenAI-compatible embeddings
	// endpoint (e.g. "https://api.openai.com/v1").
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKey authenticates against the endpoint. Usually an env
	// reference like ${OPENAI_API_KEY}.
	APIKey string `yaml:"api_key,omitempty"`

	// Model is the embedding model name.
	Model string `yaml:"model,omitempty"`
}

// SummarizerConfig selects the summarization callback. With the "none"
// driver the archivist runs permanently on its heuristic fallback.
type SummarizerConfig struct {
	// Driver is "none" or "openai". Defaults to none.
	Driver string `yaml:"driver"`

	// BaseURL is the API root of an OpenAI-compatible chat completions
	// endpoint (e.g. "https://api.openai.com/v1").
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKey authenticates against the endpoint. Usually an env
	// reference like ${OPENAI_API_KEY}.
	APIKey string `yaml:"api_key,omitempty"`

	// Model is the chat model name.
	Model string `yaml:"model,omitempty"`
}

// TokensConfig selects the token estimator.
type TokensConfig struct {
	// Estimator is "chars" or "tiktoken". Defaults to chars.
	Estimator string `yaml:"estimator"`

	// CharsPerToken tunes the chars estimator. Defaults to 4.
	CharsPerToken float64 `yaml:"chars_per_token,omitempty"`

	// Encoding names the BPE dictionary for the tiktoken estimator
	// (e.g. "cl100k_base").
	Encoding string `yaml:"encoding,omitempty"`
}

// WorkingSetConfig bounds the live turn buffer.
type WorkingSetConfig struct {
	MaxTurns  int `yaml:"max_turns,omitempty"`
	MaxTokens int `yaml:"max_tokens,omitempty"`
}

// ArchivistConfig tunes summarization and retention.
type ArchivistConfig struct {
	// SummaryTokenCap caps episode summary length.
	SummaryTokenCap int `yaml:"summary_token_cap,omitempty"`

	// Retention is how long an episode summary stays outside the vector
	// index before the sweep converts it.
	Retention time.Duration `yaml:"retention,omitempty"`

	// HeuristicTopics caps topics extracted by the fallback summarizer.
	HeuristicTopics int `yaml:"heuristic_topics,omitempty"`
}

// RecallConfig tunes context assembly.
type RecallConfig struct {
	RecentWindow   time.Duration `yaml:"recent_window,omitempty"`
	RecentMaxItems int           `yaml:"recent_max_items,omitempty"`
	SemanticTopK   int           `yaml:"semantic_top_k,omitempty"`
	MinSimilarity  float64       `yaml:"min_similarity,omitempty"`
	AffectTopK     int           `yaml:"affect_top_k,omitempty"`
	MinResonance   float64       `yaml:"min_resonance,omitempty"`
	BackendTimeout time.Duration `yaml:"backend_timeout,omitempty"`
}

// SweepConfig overrides the background job schedules.
type SweepConfig struct {
	// Retention is the cron expression for the retention sweep.
	// Defaults to hourly.
	Retention string `yaml:"retention,omitempty"`

	// PendingFlush is the cron expression for retrying held archive
	// blocks. Defaults to every five minutes.
	PendingFlush string `yaml:"pending_flush,omitempty"`
}

// TracingConfig controls OTLP trace export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP/HTTP collector address (host:port).
	Endpoint string `yaml:"endpoint,omitempty"`
}
