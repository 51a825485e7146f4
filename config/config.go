package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Auth      AuthConfig      `json:"auth"`
	Redis     RedisConfig     `json:"redis"`
	Immediate ImmediateConfig `json:"immediate"`
	Session   SessionConfig   `json:"session"`
	Keyword   KeywordConfig   `json:"keyword"`
	Chunker   ChunkerConfig   `json:"chunker"`
	Fusion    FusionConfig    `json:"fusion"`
	Retrieve  RetrieveConfig  `json:"retrieve"`
	Cache     CacheConfig     `json:"cache"`
	Promotion PromotionConfig `json:"promotion"`
	Vector    VectorConfig    `json:"vector"`
	Graph     GraphConfig     `json:"graph"`
	Embedding EmbeddingConfig `json:"embedding"`
}

type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
	IdleTimeout  int    `json:"idle_timeout"`
}

type DatabaseConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	SSLMode      string `json:"ssl_mode"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
	MaxLifetime  int    `json:"max_lifetime"`
	Enabled      bool   `json:"enabled"`
}

type AuthConfig struct {
	JWTSecret      string   `json:"jwt_secret"`
	AllowedIssuers []string `json:"allowed_issuers"`
	AllowedOrigins []string `json:"allowed_origins"`
	Enabled        bool     `json:"enabled"`
}

// RedisConfig holds configuration for the response cache backend
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Enabled  bool   `json:"enabled"`
}

// ImmediateConfig bounds the FIFO tier
type ImmediateConfig struct {
	Capacity   int `json:"capacity"`
	TTLSeconds int `json:"ttl_seconds"`
	TokenCap   int `json:"token_cap"`
}

// SessionConfig bounds the per-conversation LRU tier
type SessionConfig struct {
	CapacityPerConv        int `json:"capacity_per_conv"`
	ConsolidationThreshold int `json:"consolidation_threshold"`
	HalfLifeSeconds        int `json:"half_life_seconds"`
}

// KeywordConfig tunes BM25 ranking
type KeywordConfig struct {
	K1 float64 `json:"k1"`
	B  float64 `json:"b"`
}

// ChunkerConfig tunes adaptive chunking of long content
type ChunkerConfig struct {
	Target      int  `json:"target"`
	Min         int  `json:"min"`
	Max         int  `json:"max"`
	BaseOverlap int  `json:"base_overlap"`
	Adaptive    bool `json:"adaptive"`
}

// FusionConfig weights the hybrid score combination
type FusionConfig struct {
	SemanticWeight float64 `json:"semantic_weight"`
	KeywordWeight  float64 `json:"keyword_weight"`
	GraphWeight    float64 `json:"graph_weight"`
}

// RetrieveConfig bounds a single retrieval
type RetrieveConfig struct {
	MaxTokens  int `json:"max_tokens"`
	DeadlineMS int `json:"deadline_ms"`
}

// CacheConfig controls the response cache
type CacheConfig struct {
	TTLSeconds int  `json:"ttl_seconds"`
	Enabled    bool `json:"enabled"`
}

// PromotionConfig sets the access thresholds for tier promotion
type PromotionConfig struct {
	ImmediateToSessionAccess int `json:"immediate_to_session_access"`
	SessionToLongTermAccess  int `json:"session_to_longterm_access"`
}

// VectorConfig holds configuration for the vector store API; an empty
// BaseURL selects the in-memory store
type VectorConfig struct {
	BaseURL    string `json:"base_url"`
	APIKey     string `json:"api_key"`
	Timeout    int    `json:"timeout"`
	Collection string `json:"collection"`
}

// GraphConfig holds configuration for the graph store API; an empty
// BaseURL selects the in-memory store
type GraphConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Timeout int    `json:"timeout"`
}

// EmbeddingConfig holds configuration for the embedding provider API; an
// empty BaseURL selects the deterministic local embedder
type EmbeddingConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	Timeout int    `json:"timeout"`
	Dim     int    `json:"dim"`
}

func LoadConfig() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 30),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "ctxcache"),
			Password:     getEnv("DB_PASSWORD", ""),
			Name:         getEnv("DB_NAME", "context_cache"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			Enabled:      getEnvAsBool("DB_ENABLED", false),
		},
		Auth: AuthConfig{
			JWTSecret:      getEnv("JWT_SECRET", ""),
			AllowedIssuers: getEnvAsSlice("JWT_ALLOWED_ISSUERS", []string{}),
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			Enabled:        getEnvAsBool("AUTH_ENABLED", false),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},
		Immediate: ImmediateConfig{
			Capacity:   getEnvAsInt("IMMEDIATE_CAPACITY", 10),
			TTLSeconds: getEnvAsInt("IMMEDIATE_TTL_SECONDS", 3600),
			TokenCap:   getEnvAsInt("IMMEDIATE_TOKEN_CAP", 2048),
		},
		Session: SessionConfig{
			CapacityPerConv:        getEnvAsInt("SESSION_CAPACITY_PER_CONV", 50),
			ConsolidationThreshold: getEnvAsInt("SESSION_CONSOLIDATION_THRESHOLD", 20),
			HalfLifeSeconds:        getEnvAsInt("SESSION_HALF_LIFE_SECONDS", 1800),
		},
		Keyword: KeywordConfig{
			K1: getEnvAsFloat("KEYWORD_K1", 1.5),
			B:  getEnvAsFloat("KEYWORD_B", 0.75),
		},
		Chunker: ChunkerConfig{
			Target:      getEnvAsInt("CHUNKER_TARGET", 512),
			Min:         getEnvAsInt("CHUNKER_MIN", 100),
			Max:         getEnvAsInt("CHUNKER_MAX", 1024),
			BaseOverlap: getEnvAsInt("CHUNKER_BASE_OVERLAP", 50),
			Adaptive:    getEnvAsBool("CHUNKER_ADAPTIVE", true),
		},
		Fusion: FusionConfig{
			SemanticWeight: getEnvAsFloat("FUSION_SEMANTIC_WEIGHT", 0.5),
			KeywordWeight:  getEnvAsFloat("FUSION_KEYWORD_WEIGHT", 0.3),
			GraphWeight:    getEnvAsFloat("FUSION_GRAPH_WEIGHT", 0.2),
		},
		Retrieve: RetrieveConfig{
			MaxTokens:  getEnvAsInt("RETRIEVE_MAX_TOKENS", 4096),
			DeadlineMS: getEnvAsInt("RETRIEVE_DEADLINE_MS", 2000),
		},
		Cache: CacheConfig{
			TTLSeconds: getEnvAsInt("CACHE_TTL_SECONDS", 300),
			Enabled:    getEnvAsBool("CACHE_ENABLED", true),
		},
		Promotion: PromotionConfig{
			ImmediateToSessionAccess: getEnvAsInt("PROMOTION_IMMEDIATE_TO_SESSION_ACCESS", 3),
			SessionToLongTermAccess:  getEnvAsInt("PROMOTION_SESSION_TO_LONGTERM_ACCESS", 5),
		},
		Vector: VectorConfig{
			BaseURL:    getEnv("VECTOR_BASE_URL", ""),
			APIKey:     getEnv("VECTOR_API_KEY", ""),
			Timeout:    getEnvAsInt("VECTOR_TIMEOUT", 30),
			Collection: getEnv("VECTOR_COLLECTION", "context_items"),
		},
		Graph: GraphConfig{
			BaseURL: getEnv("GRAPH_BASE_URL", ""),
			APIKey:  getEnv("GRAPH_API_KEY", ""),
			Timeout: getEnvAsInt("GRAPH_TIMEOUT", 30),
		},
		Embedding: EmbeddingConfig{
			BaseURL: getEnv("EMBEDDING_BASE_URL", ""),
			APIKey:  getEnv("EMBEDDING_API_KEY", ""),
			Model:   getEnv("EMBEDDING_MODEL", "all-MiniLM-L6-v2"),
			Timeout: getEnvAsInt("EMBEDDING_TIMEOUT", 30),
			Dim:     getEnvAsInt("EMBEDDING_DIM", 384),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func validateConfig(config *Config) error {
	if config.Auth.Enabled && config.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required when auth is enabled (JWT_SECRET)")
	}

	if config.Database.Enabled && config.Database.Password == "" {
		return fmt.Errorf("database password is required when the database is enabled (DB_PASSWORD)")
	}

	if config.Immediate.Capacity < 1 {
		return fmt.Errorf("immediate capacity must be at least 1 (IMMEDIATE_CAPACITY)")
	}

	if config.Session.CapacityPerConv < 1 {
		return fmt.Errorf("session capacity must be at least 1 (SESSION_CAPACITY_PER_CONV)")
	}

	if config.Chunker.Min > config.Chunker.Target || config.Chunker.Target > config.Chunker.Max {
		return fmt.Errorf("chunker sizes must satisfy min <= target <= max")
	}

	if config.Keyword.B < 0 || config.Keyword.B > 1 {
		return fmt.Errorf("keyword b must be in [0,1] (KEYWORD_B)")
	}

	w := config.Fusion.SemanticWeight + config.Fusion.KeywordWeight + config.Fusion.GraphWeight
	if w <= 0 {
		return fmt.Errorf("fusion weights must sum to a positive value")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
