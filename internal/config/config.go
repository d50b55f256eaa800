// Package config provides configuration loading for tutord.
//
// Configuration is read from an optional YAML file and then overridden by
// TUTORD_* environment variables. Missing values fall back to defaults taken
// from the original course deployment.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete tutord configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Budget       BudgetConfig       `koanf:"budget"`
	Storage      StorageConfig      `koanf:"storage"`
	Retrieval    RetrievalConfig    `koanf:"retrieval"`
	Provider     ProviderConfig     `koanf:"provider"`
	Quality      QualityConfig      `koanf:"quality"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Conversation ConversationConfig `koanf:"conversation"`
	Interactions InteractionsConfig `koanf:"interactions"`
	Prompt       PromptConfig       `koanf:"prompt"`
	Logging      LoggingConfig      `koanf:"logging"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	DevelopmentMode bool     `koanf:"development_mode"`
	// IdentityHeader is the trusted header set by the auth proxy.
	IdentityHeader string   `koanf:"identity_header"`
	CORSOrigins    []string `koanf:"cors_origins"`
	// DevUser stands in for a missing identity header in development mode.
	DevUser string `koanf:"dev_user"`
}

// BudgetConfig holds health point settings.
type BudgetConfig struct {
	MaxPoints      int      `koanf:"max_points"`
	RegenInterval  Duration `koanf:"regen_interval"`
	UnlimitedUsers []string `koanf:"unlimited_users"`
}

// StorageConfig selects the budget ledger backend.
type StorageConfig struct {
	Driver     string `koanf:"driver"` // memory | sqlite
	SQLitePath string `koanf:"sqlite_path"`
}

// RetrievalConfig holds course content search settings.
type RetrievalConfig struct {
	Backend   string   `koanf:"backend"` // none | chromem | qdrant | proxy
	Threshold float64  `koanf:"threshold"`
	TopK      int      `koanf:"top_k"`
	Timeout   Duration `koanf:"timeout"`
	// MaxHits caps raw chunks fetched from the backend before grouping.
	MaxHits int `koanf:"max_hits"`

	// Embedder is provider (the generation backend's embedding API) or
	// local (an ONNX model run in process).
	Embedder string `koanf:"embedder"`

	Chromem ChromemConfig       `koanf:"chromem"`
	Qdrant  QdrantConfig        `koanf:"qdrant"`
	Local   LocalEmbedderConfig `koanf:"local"`
}

// ChromemConfig holds embedded vector store settings.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
}

// QdrantConfig holds remote vector store settings.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	APIKey     Secret `koanf:"api_key"`
	UseTLS     bool   `koanf:"use_tls"`
	Collection string `koanf:"collection"`
}

// LocalEmbedderConfig configures the in-process embedding model.
type LocalEmbedderConfig struct {
	Model     string `koanf:"model"`
	CacheDir  string `koanf:"cache_dir"`
	MaxLength int    `koanf:"max_length"`
}

// ProviderConfig selects and configures the generation backend.
type ProviderConfig struct {
	Kind        string   `koanf:"kind"`    // plain | rag
	Backend     string   `koanf:"backend"` // openai | anthropic | ollama | proxy
	Model       string   `koanf:"model"`
	APIKey      Secret   `koanf:"api_key"`
	BaseURL     string   `koanf:"base_url"`
	Temperature float64  `koanf:"temperature"`
	MaxTokens   int      `koanf:"max_tokens"`
	Timeout     Duration `koanf:"timeout"`
	// RateLimit is requests per second for the proxy backend. Zero disables limiting.
	RateLimit float64 `koanf:"rate_limit"`

	EmbeddingModel string `koanf:"embedding_model"`
}

// QualityConfig holds answer validation settings.
type QualityConfig struct {
	Disabled    bool    `koanf:"disabled"`
	Threshold   int     `koanf:"threshold"`
	Temperature float64 `koanf:"temperature"`
}

// OrchestratorConfig holds pipeline policy settings.
type OrchestratorConfig struct {
	DegradePolicy string `koanf:"degrade_policy"` // caveat | hardfail
	Caveat        string `koanf:"caveat"`
}

// ConversationConfig bounds in-memory chat sessions.
type ConversationConfig struct {
	MaxSessions int `koanf:"max_sessions"`
	MaxTurns    int `koanf:"max_turns"`
}

// InteractionsConfig selects where completed interactions are recorded.
type InteractionsConfig struct {
	Sink       string `koanf:"sink"` // noop | sqlite | nats
	QueueSize  int    `koanf:"queue_size"`
	SQLitePath string `koanf:"sqlite_path"`
	NATSURL    string `koanf:"nats_url"`
	Subject    string `koanf:"subject"`
	// Redact replaces credentials found in queries and responses before
	// they reach the sink.
	Redact     bool   `koanf:"redact"`
	Allowlist  string `koanf:"allowlist"` // TOML file of patterns never redacted
}

// PromptConfig locates the system prompt.
type PromptConfig struct {
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

// LoggingConfig holds zap logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json | console
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // grpc | http/protobuf
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Default returns a configuration populated with defaults.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.IdentityHeader == "" {
		cfg.Server.IdentityHeader = "X-Tutor-User"
	}

	if cfg.Budget.MaxPoints == 0 {
		cfg.Budget.MaxPoints = 12
	}
	if cfg.Budget.RegenInterval == 0 {
		cfg.Budget.RegenInterval = Duration(3 * time.Minute)
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "tutord.db"
	}

	if cfg.Retrieval.Backend == "" {
		cfg.Retrieval.Backend = "none"
	}
	if cfg.Retrieval.Threshold == 0 {
		cfg.Retrieval.Threshold = 0.4
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.MaxHits == 0 {
		cfg.Retrieval.MaxHits = 20
	}
	if cfg.Retrieval.Timeout == 0 {
		cfg.Retrieval.Timeout = Duration(5 * time.Second)
	}
	if cfg.Retrieval.Embedder == "" {
		cfg.Retrieval.Embedder = "provider"
	}
	if cfg.Retrieval.Local.Model == "" {
		cfg.Retrieval.Local.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Retrieval.Local.CacheDir == "" {
		cfg.Retrieval.Local.CacheDir = "local_cache"
	}
	if cfg.Retrieval.Chromem.Collection == "" {
		cfg.Retrieval.Chromem.Collection = "course"
	}
	if cfg.Retrieval.Qdrant.Host == "" {
		cfg.Retrieval.Qdrant.Host = "localhost"
	}
	if cfg.Retrieval.Qdrant.Port == 0 {
		cfg.Retrieval.Qdrant.Port = 6334
	}
	if cfg.Retrieval.Qdrant.Collection == "" {
		cfg.Retrieval.Qdrant.Collection = "course"
	}

	if cfg.Provider.Kind == "" {
		cfg.Provider.Kind = "plain"
	}
	if cfg.Provider.Backend == "" {
		cfg.Provider.Backend = "openai"
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = "gpt-4o-mini"
	}
	if cfg.Provider.Temperature == 0 {
		cfg.Provider.Temperature = 0.5
	}
	if cfg.Provider.MaxTokens == 0 {
		cfg.Provider.MaxTokens = 4096
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = Duration(60 * time.Second)
	}
	if cfg.Provider.EmbeddingModel == "" {
		cfg.Provider.EmbeddingModel = "text-embedding-3-small"
	}

	if cfg.Quality.Threshold == 0 {
		cfg.Quality.Threshold = 7
	}
	if cfg.Quality.Temperature == 0 {
		cfg.Quality.Temperature = 0.1
	}

	if cfg.Orchestrator.DegradePolicy == "" {
		cfg.Orchestrator.DegradePolicy = "caveat"
	}
	if cfg.Orchestrator.Caveat == "" {
		cfg.Orchestrator.Caveat = "Note: this answer did not pass an automated quality review. " +
			"Please double-check it against the course materials or ask a TA."
	}

	if cfg.Conversation.MaxSessions == 0 {
		cfg.Conversation.MaxSessions = 1000
	}
	if cfg.Conversation.MaxTurns == 0 {
		cfg.Conversation.MaxTurns = 5
	}

	if cfg.Interactions.Sink == "" {
		cfg.Interactions.Sink = "noop"
	}
	if cfg.Interactions.QueueSize == 0 {
		cfg.Interactions.QueueSize = 256
	}
	if cfg.Interactions.SQLitePath == "" {
		cfg.Interactions.SQLitePath = "tutord.db"
	}
	if cfg.Interactions.Subject == "" {
		cfg.Interactions.Subject = "tutord.interactions"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "tutord"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Budget.MaxPoints <= 0 {
		errs = append(errs, fmt.Errorf("budget.max_points must be positive, got %d", c.Budget.MaxPoints))
	}
	if c.Budget.RegenInterval.Duration() <= 0 {
		errs = append(errs, errors.New("budget.regen_interval must be positive"))
	}

	switch c.Storage.Driver {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be memory or sqlite, got %q", c.Storage.Driver))
	}

	switch c.Retrieval.Backend {
	case "none", "chromem", "qdrant", "proxy":
	default:
		errs = append(errs, fmt.Errorf("retrieval.backend must be none, chromem, qdrant or proxy, got %q", c.Retrieval.Backend))
	}
	switch c.Retrieval.Embedder {
	case "provider", "local":
	default:
		errs = append(errs, fmt.Errorf("retrieval.embedder must be provider or local, got %q", c.Retrieval.Embedder))
	}
	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold > 1 {
		errs = append(errs, fmt.Errorf("retrieval.threshold must be within [0,1], got %v", c.Retrieval.Threshold))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK))
	}
	if c.Retrieval.MaxHits < c.Retrieval.TopK {
		errs = append(errs, fmt.Errorf("retrieval.max_hits must be at least top_k, got %d", c.Retrieval.MaxHits))
	}

	switch c.Provider.Kind {
	case "plain":
	case "rag":
		if c.Retrieval.Backend == "none" {
			errs = append(errs, errors.New("provider.kind rag requires a retrieval.backend other than none"))
		}
	default:
		errs = append(errs, fmt.Errorf("provider.kind must be plain or rag, got %q", c.Provider.Kind))
	}
	switch c.Provider.Backend {
	case "openai", "anthropic", "ollama":
	case "proxy":
		if c.Provider.BaseURL == "" {
			errs = append(errs, errors.New("provider.base_url is required for the proxy backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("provider.backend must be openai, anthropic, ollama or proxy, got %q", c.Provider.Backend))
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 2 {
		errs = append(errs, fmt.Errorf("provider.temperature must be within [0,2], got %v", c.Provider.Temperature))
	}
	if c.Retrieval.Backend == "proxy" && c.Provider.BaseURL == "" {
		errs = append(errs, errors.New("provider.base_url is required for the proxy retrieval backend"))
	}

	if c.Quality.Threshold < 1 || c.Quality.Threshold > 10 {
		errs = append(errs, fmt.Errorf("quality.threshold must be within [1,10], got %d", c.Quality.Threshold))
	}

	switch c.Orchestrator.DegradePolicy {
	case "caveat", "hardfail":
	default:
		errs = append(errs, fmt.Errorf("orchestrator.degrade_policy must be caveat or hardfail, got %q", c.Orchestrator.DegradePolicy))
	}

	switch c.Interactions.Sink {
	case "noop", "sqlite":
	case "nats":
		if c.Interactions.NATSURL == "" {
			errs = append(errs, errors.New("interactions.nats_url is required for the nats sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("interactions.sink must be noop, sqlite or nats, got %q", c.Interactions.Sink))
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
