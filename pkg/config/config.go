package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultConfigPath is used when IACANDY_CONFIG is not set.
const DefaultConfigPath = "config.yaml"

// Config holds all configuration for the assistant.
// Values are loaded from config.yaml with environment variable overrides.
// Secrets (API keys, passwords) are only read from the environment.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Datasource   DatasourceConfig   `yaml:"datasource"`
	LLM          LLMConfig          `yaml:"llm"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	RAG          RAGConfig          `yaml:"rag"`
	Cache        CacheConfig        `yaml:"cache"`
	Generation   GenerationConfig   `yaml:"generation"`
	Conversation ConversationConfig `yaml:"conversation"`
	EdgeCase     EdgeCaseConfig     `yaml:"edge_case"`
	Session      SessionConfig      `yaml:"session"`
}

// DatasourceConfig describes the backing store the questions are answered from.
type DatasourceConfig struct {
	// Type selects the registered adapter: "firebird" (MicroSIP), "sqlserver"
	// or "postgres".
	Type     string `yaml:"type" env:"DATASOURCE_TYPE" env-default:"firebird"`
	Host     string `yaml:"host" env:"DATASOURCE_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"DATASOURCE_PORT" env-default:"0"` // 0 = adapter default
	User     string `yaml:"user" env:"DATASOURCE_USER" env-default:"SYSDBA"`
	Password string `yaml:"-" env:"DATASOURCE_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"DATASOURCE_DATABASE" env-default:"microsip"`
	Schema   string `yaml:"schema" env:"DATASOURCE_SCHEMA" env-default:""`
	SSLMode  string `yaml:"ssl_mode" env:"DATASOURCE_SSLMODE" env-default:"disable"`

	QueryTimeout time.Duration `yaml:"query_timeout" env:"DATASOURCE_QUERY_TIMEOUT" env-default:"60s"`
	MaxRows      int           `yaml:"max_rows" env:"DATASOURCE_MAX_ROWS" env-default:"1000"`
	SampleRows   int           `yaml:"sample_rows" env:"DATASOURCE_SAMPLE_ROWS" env-default:"5"`
}

// LLMConfig configures the generation backends for both model tiers.
type LLMConfig struct {
	OpenAIAPIKey string `yaml:"-" env:"OPENAI_API_KEY"` // Secret - not in YAML
	BaseURL      string `yaml:"base_url" env:"LLM_BASE_URL" env-default:"https://api.openai.com/v1"`

	StandardModel string `yaml:"standard_model" env:"LLM_STANDARD_MODEL" env-default:"gpt-4o"`
	AdvancedModel string `yaml:"advanced_model" env:"LLM_ADVANCED_MODEL" env-default:"gpt-5"`

	// AdvancedProvider selects the backend for the advanced tier: "openai" or "anthropic".
	AdvancedProvider string `yaml:"advanced_provider" env:"LLM_ADVANCED_PROVIDER" env-default:"openai"`
	AnthropicAPIKey  string `yaml:"-" env:"ANTHROPIC_API_KEY"` // Secret - not in YAML

	Temperature    float32       `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.1"`
	MaxTokens      int           `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"2000"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"LLM_REQUEST_TIMEOUT" env-default:"90s"`
	MaxConcurrent  int           `yaml:"max_concurrent" env:"LLM_MAX_CONCURRENT" env-default:"8"`
}

// EmbeddingConfig configures the embedding backend and the persisted record store.
type EmbeddingConfig struct {
	Model      string `yaml:"model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	Dimensions int    `yaml:"dimensions" env:"EMBEDDING_DIMENSIONS" env-default:"1536"`
	BatchSize  int    `yaml:"batch_size" env:"EMBEDDING_BATCH_SIZE" env-default:"64"`
	// StorePath is the SQLite file holding embedding records. Empty disables persistence.
	StorePath string `yaml:"store_path" env:"EMBEDDING_STORE_PATH" env-default:"./data/embeddings.db"`
}

// RAGConfig tunes table and procedure retrieval.
type RAGConfig struct {
	TopKTables         int           `yaml:"top_k_tables" env:"RAG_TOP_K_TABLES" env-default:"8"`
	MinSimilarity      float64       `yaml:"min_similarity" env:"RAG_MIN_SIMILARITY" env-default:"0.25"`
	TopKProcedures     int           `yaml:"top_k_procedures" env:"RAG_TOP_K_PROCEDURES" env-default:"3"`
	QueryTimeout       time.Duration `yaml:"query_timeout" env:"RAG_QUERY_TIMEOUT" env-default:"10s"`
	RelatedTables      bool          `yaml:"related_tables" env:"RAG_RELATED_TABLES" env-default:"true"`
	RelatedScoreFactor float64       `yaml:"related_score_factor" env:"RAG_RELATED_SCORE_FACTOR" env-default:"0.75"`
	MaxRelatedTables   int           `yaml:"max_related_tables" env:"RAG_MAX_RELATED_TABLES" env-default:"4"`
}

// CacheConfig controls the schema cache lifetime.
type CacheConfig struct {
	TTL          time.Duration `yaml:"ttl" env:"CACHE_TTL" env-default:"30m"`
	BuildTimeout time.Duration `yaml:"build_timeout" env:"CACHE_BUILD_TIMEOUT" env-default:"5m"`
	// FailureCooldown delays background rebuilds after a failed build.
	FailureCooldown time.Duration `yaml:"failure_cooldown" env:"CACHE_FAILURE_COOLDOWN" env-default:"30s"`
	// WarmOnStart builds the cache during startup instead of on the first question.
	WarmOnStart bool `yaml:"warm_on_start" env:"CACHE_WARM_ON_START" env-default:"true"`
}

// GenerationConfig controls routing and the refinement loop.
type GenerationConfig struct {
	MaxRetries          int  `yaml:"max_retries" env:"GENERATION_MAX_RETRIES" env-default:"3"`
	ComplexityThreshold int  `yaml:"complexity_threshold" env:"GENERATION_COMPLEXITY_THRESHOLD" env-default:"3"`
	ForceAdvanced       bool `yaml:"force_advanced" env:"GENERATION_FORCE_ADVANCED" env-default:"false"`

	// Classifier score breakpoints: score < ModerateAt is SIMPLE, < ComplexAt is
	// MODERATE, < VeryComplexAt is COMPLEX, otherwise VERY_COMPLEX.
	ModerateAt    int `yaml:"moderate_at" env:"GENERATION_MODERATE_AT" env-default:"25"`
	ComplexAt     int `yaml:"complex_at" env:"GENERATION_COMPLEX_AT" env-default:"55"`
	VeryComplexAt int `yaml:"very_complex_at" env:"GENERATION_VERY_COMPLEX_AT" env-default:"80"`

	// Narrative enables the LLM-written explanation of results.
	Narrative bool `yaml:"narrative" env:"GENERATION_NARRATIVE" env-default:"true"`
}

// ConversationConfig bounds per-session history.
type ConversationConfig struct {
	MaxTurns     int           `yaml:"max_turns" env:"CONVERSATION_MAX_TURNS" env-default:"10"`
	ContextTurns int           `yaml:"context_turns" env:"CONVERSATION_CONTEXT_TURNS" env-default:"5"`
	SessionTTL   time.Duration `yaml:"session_ttl" env:"CONVERSATION_SESSION_TTL" env-default:"24h"`
	MaxTurnAge   time.Duration `yaml:"max_turn_age" env:"CONVERSATION_MAX_TURN_AGE" env-default:"2h"`
}

// EdgeCaseConfig lists system rows removed from results (cash cuts, global
// sale placeholders and similar bookkeeping artifacts).
type EdgeCaseConfig struct {
	Enabled          bool     `yaml:"enabled" env:"EDGE_CASE_ENABLED" env-default:"true"`
	ExcludedPatterns []string `yaml:"excluded_patterns" env:"EDGE_CASE_EXCLUDED_PATTERNS" env-separator:"," env-default:"VENTA GLOBAL,VENTAS GLOBALES,CORTE DE CAJA,CORTE DIARIO,APERTURA DE CAJA,CIERRE DE CAJA,AJUSTE DE INVENTARIO,TRANSFERENCIA INTERNA,CLIENTE MOSTRADOR,PUBLICO GENERAL"`
}

// SessionConfig configures the HTTP cookie session that remembers the
// conversation id between requests.
type SessionConfig struct {
	CookieSecret string `yaml:"-" env:"SESSION_COOKIE_SECRET"` // Secret - not in YAML
	CookieName   string `yaml:"cookie_name" env:"SESSION_COOKIE_NAME" env-default:"iacandy_session"`
}

// Load reads configuration from the YAML file named by IACANDY_CONFIG (default
// config.yaml) with environment variable overrides. A missing file is not an
// error; defaults and environment variables are used instead.
// The version parameter is injected from build-time ldflags.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	path := os.Getenv("IACANDY_CONFIG")
	if path == "" {
		path = DefaultConfigPath
	}

	if _, statErr := os.Stat(path); statErr == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	switch c.Datasource.Type {
	case "firebird", "sqlserver", "postgres":
	default:
		errs = append(errs, fmt.Errorf("datasource.type must be firebird, sqlserver or postgres, got %q", c.Datasource.Type))
	}
	if c.Datasource.QueryTimeout <= 0 {
		errs = append(errs, errors.New("datasource.query_timeout must be positive"))
	}
	if c.Datasource.MaxRows <= 0 {
		errs = append(errs, errors.New("datasource.max_rows must be positive"))
	}

	switch c.LLM.AdvancedProvider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("llm.advanced_provider must be openai or anthropic, got %q", c.LLM.AdvancedProvider))
	}
	if c.LLM.StandardModel == "" || c.LLM.AdvancedModel == "" {
		errs = append(errs, errors.New("llm.standard_model and llm.advanced_model are required"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be within [0, 2], got %v", c.LLM.Temperature))
	}

	if c.RAG.TopKTables <= 0 {
		errs = append(errs, errors.New("rag.top_k_tables must be positive"))
	}
	if c.RAG.MinSimilarity < -1 || c.RAG.MinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("rag.min_similarity must be within [-1, 1], got %v", c.RAG.MinSimilarity))
	}
	if c.RAG.RelatedScoreFactor < 0 || c.RAG.RelatedScoreFactor > 1 {
		errs = append(errs, fmt.Errorf("rag.related_score_factor must be within [0, 1], got %v", c.RAG.RelatedScoreFactor))
	}

	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}

	g := c.Generation
	if g.MaxRetries < 0 {
		errs = append(errs, errors.New("generation.max_retries must not be negative"))
	}
	if !(0 < g.ModerateAt && g.ModerateAt < g.ComplexAt && g.ComplexAt < g.VeryComplexAt && g.VeryComplexAt <= 100) {
		errs = append(errs, fmt.Errorf("generation breakpoints must satisfy 0 < moderate_at < complex_at < very_complex_at <= 100, got %d/%d/%d",
			g.ModerateAt, g.ComplexAt, g.VeryComplexAt))
	}

	if c.Conversation.MaxTurns <= 0 {
		errs = append(errs, errors.New("conversation.max_turns must be positive"))
	}

	return errors.Join(errs...)
}

// ConnectionMap renders the datasource settings in the generic form accepted by
// the adapter registry.
func (d *DatasourceConfig) ConnectionMap() map[string]any {
	m := map[string]any{
		"host":     ResolveHostForDocker(d.Host),
		"user":     d.User,
		"password": d.Password,
		"database": d.Database,
	}
	if d.Port > 0 {
		m["port"] = d.Port
	}
	if d.Schema != "" {
		m["schema"] = d.Schema
	}
	if d.SSLMode != "" {
		m["ssl_mode"] = d.SSLMode
	}
	return m
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production") || strings.EqualFold(c.Env, "prod")
}
