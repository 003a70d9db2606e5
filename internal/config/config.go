package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config is the full answerd configuration, loaded from answerd.yaml
// with environment overrides.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Generation    GenerationConfig    `mapstructure:"generation"`
	Gate          GateConfig          `mapstructure:"gate"`
	Merge         MergeConfig         `mapstructure:"merge"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Deadlines     DeadlineConfig      `mapstructure:"deadlines"`
	Admission     AdmissionConfig     `mapstructure:"admission"`
	Collaborators CollaboratorsConfig `mapstructure:"collaborators"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port      int `mapstructure:"port"`
	AdminPort int `mapstructure:"admin_port"`
}

type RetrievalConfig struct {
	TopK              int     `mapstructure:"top_k"`
	MinRetrievalScore float64 `mapstructure:"min_retrieval_score"`
	MinFinalScore     float64 `mapstructure:"min_final_score"`
}

type GenerationConfig struct {
	NCandidates        int `mapstructure:"n_candidates"`
	MaxConcurrency     int `mapstructure:"max_concurrency"`
	TargetTokens       int `mapstructure:"target_tokens"`
	ContextTokenBudget int `mapstructure:"context_token_budget"`
}

type GateConfig struct {
	ThetaLocal      float64 `mapstructure:"theta_local"`
	PreGateFloor    float64 `mapstructure:"pre_gate_floor"`
	ExternalEnabled bool    `mapstructure:"external_enabled"`
}

type MergeConfig struct {
	Alpha float64 `mapstructure:"alpha"`
	Beta  float64 `mapstructure:"beta"`
}

type CacheConfig struct {
	TTLSeconds   int    `mapstructure:"ttl_seconds"`
	SweepSeconds int    `mapstructure:"sweep_seconds"`
	RedisEnabled bool   `mapstructure:"redis_enabled"`
	RedisAddr    string `mapstructure:"redis_addr"`
}

type DeadlineConfig struct {
	RetrieveMs int `mapstructure:"retrieve_ms"`
	GenerateMs int `mapstructure:"generate_ms"`
	ExternalMs int `mapstructure:"external_ms"`
	TotalMs    int `mapstructure:"total_ms"`
}

func (d DeadlineConfig) Retrieve() time.Duration { return time.Duration(d.RetrieveMs) * time.Millisecond }
func (d DeadlineConfig) Generate() time.Duration { return time.Duration(d.GenerateMs) * time.Millisecond }
func (d DeadlineConfig) External() time.Duration { return time.Duration(d.ExternalMs) * time.Millisecond }
func (d DeadlineConfig) Total() time.Duration    { return time.Duration(d.TotalMs) * time.Millisecond }

type AdmissionConfig struct {
	MaxInFlight   int     `mapstructure:"max_in_flight"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

type CollaboratorsConfig struct {
	EmbeddingURL   string `mapstructure:"embedding_url"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	EmbeddingDim   int    `mapstructure:"embedding_dim"`
	RerankURL      string `mapstructure:"rerank_url"`
	GeneratorURL   string `mapstructure:"generator_url"`
	ExternalURL    string `mapstructure:"external_url"`
	// Vector index backend: "qdrant" or "sqlite"
	VectorBackend string `mapstructure:"vector_backend"`
	QdrantHost    string `mapstructure:"qdrant_host"`
	QdrantPort    int    `mapstructure:"qdrant_port"`
	Collection    string `mapstructure:"collection"`
	SQLitePath    string `mapstructure:"sqlite_path"`
}

type ObservabilityConfig struct {
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Tracing struct {
		Enabled      bool   `mapstructure:"enabled"`
		OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	} `mapstructure:"tracing"`
	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	c := &Config{}
	c.Server.Port = 8080
	c.Server.AdminPort = 8081
	c.Retrieval.TopK = 7
	c.Retrieval.MinRetrievalScore = 0.1
	c.Retrieval.MinFinalScore = 0.3
	c.Generation.NCandidates = 5
	c.Generation.MaxConcurrency = 4
	c.Generation.TargetTokens = 200
	c.Generation.ContextTokenBudget = 2048
	c.Gate.ThetaLocal = 0.75
	c.Gate.PreGateFloor = 0.35
	c.Gate.ExternalEnabled = true
	c.Merge.Alpha = 0.6
	c.Merge.Beta = 0.4
	c.Cache.TTLSeconds = 3600
	c.Cache.SweepSeconds = 60
	c.Deadlines.RetrieveMs = 2000
	c.Deadlines.GenerateMs = 15000
	c.Deadlines.ExternalMs = 10000
	c.Deadlines.TotalMs = 30000
	c.Admission.MaxInFlight = 64
	c.Admission.RatePerSecond = 50
	c.Admission.Burst = 100
	c.Collaborators.EmbeddingModel = "text-embedding-3-small"
	c.Collaborators.EmbeddingDim = 1536
	c.Collaborators.VectorBackend = "qdrant"
	c.Collaborators.QdrantHost = "localhost"
	c.Collaborators.QdrantPort = 6333
	c.Collaborators.Collection = "document_chunks"
	c.Observability.Metrics.Enabled = true
	c.Observability.Metrics.Port = 2112
	c.Observability.Logging.Level = "info"
	return c
}

// Load reads the config file at path (or $CONFIG_PATH, or
// ./config/answerd.yaml) on top of defaults, then applies env overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config/answerd.yaml"
	}

	c := Default()

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine: defaults plus env apply.
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(c)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate enforces cross-field invariants. Merge weights not summing to 1
// is a programmer/configuration error and must never reach the request path.
func (c *Config) Validate() error {
	if math.Abs(c.Merge.Alpha+c.Merge.Beta-1.0) > 1e-9 {
		return fmt.Errorf("merge weights must sum to 1, got alpha=%v beta=%v", c.Merge.Alpha, c.Merge.Beta)
	}
	if c.Gate.ThetaLocal < 0 || c.Gate.ThetaLocal > 1 {
		return fmt.Errorf("theta_local must be in [0,1], got %v", c.Gate.ThetaLocal)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Generation.NCandidates <= 0 {
		return fmt.Errorf("n_candidates must be positive, got %d", c.Generation.NCandidates)
	}
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache ttl_seconds must be positive, got %d", c.Cache.TTLSeconds)
	}
	switch c.Collaborators.VectorBackend {
	case "qdrant", "sqlite":
	default:
		return fmt.Errorf("unknown vector_backend %q", c.Collaborators.VectorBackend)
	}
	return nil
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("ANSWERD_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("ANSWERD_ADMIN_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.AdminPort = p
		}
	}
	if v := os.Getenv("EMBEDDING_SERVICE_URL"); v != "" {
		c.Collaborators.EmbeddingURL = v
	}
	if v := os.Getenv("RERANK_SERVICE_URL"); v != "" {
		c.Collaborators.RerankURL = v
	}
	if v := os.Getenv("GENERATOR_SERVICE_URL"); v != "" {
		c.Collaborators.GeneratorURL = v
	}
	if v := os.Getenv("EXTERNAL_AGENT_URL"); v != "" {
		c.Collaborators.ExternalURL = v
	}
	if v := os.Getenv("QDRANT_HOST"); v != "" {
		c.Collaborators.QdrantHost = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
		c.Cache.RedisEnabled = true
	}
	if v := os.Getenv("THETA_LOCAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.Gate.ThetaLocal = f
		}
	}
}
