package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Store         StoreConfig
	ObjectStore   ObjectStoreConfig
	AI            AIConfig
	SQL           SQLConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// StoreConfig describes the dataset the pipeline queries. URL follows the
// scheme://path convention: sqlite:///./sales.db, duckdb:///data/sales.duckdb,
// duckdb://s3://bucket/sales_data.parquet or a postgres:// DSN.
type StoreConfig struct {
	URL             string
	Tables          []string
	SampleRows      int
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AcquireTimeout  time.Duration
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
	CacheDir         string
}

type AIConfig struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	GoogleAPIKey  string
	GeminiBaseURL string
	GeminiModel   string
	Temperature   float64
	Timeout       time.Duration
	CacheTTL      time.Duration
	CacheCapacity int
	PromptsFile   string
}

type SQLConfig struct {
	ReadOnly       bool
	PromptRowLimit int
	ExecuteTimeout time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("SALESQA_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid SALESQA_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	steps := []func() error{
		func() error { return applyString(lookup, "SALESQA_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "SALESQA_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "SALESQA_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "SALESQA_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "SALESQA_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyDuration(lookup, "SALESQA_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout) },
		func() error { return applyList(lookup, "SALESQA_CORS_ORIGINS", &cfg.HTTP.CORSOrigins) },

		func() error { return applyString(lookup, "DATABASE_URL", &cfg.Store.URL) },
		func() error { return applyString(lookup, "SALESQA_DATABASE_URL", &cfg.Store.URL) },
		func() error { return applyList(lookup, "SALESQA_STORE_TABLES", &cfg.Store.Tables) },
		func() error { return applyInt(lookup, "SALESQA_STORE_SAMPLE_ROWS", &cfg.Store.SampleRows) },
		func() error { return applyInt(lookup, "SALESQA_STORE_MAX_OPEN_CONNS", &cfg.Store.MaxOpenConns) },
		func() error { return applyInt(lookup, "SALESQA_STORE_MAX_IDLE_CONNS", &cfg.Store.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "SALESQA_STORE_CONN_MAX_LIFETIME", &cfg.Store.ConnMaxLifetime)
		},
		func() error { return applyDuration(lookup, "SALESQA_STORE_ACQUIRE_TIMEOUT", &cfg.Store.AcquireTimeout) },

		func() error { return applyString(lookup, "SALESQA_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "SALESQA_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "SALESQA_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "SALESQA_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error {
			return applyString(lookup, "SALESQA_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "SALESQA_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "SALESQA_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "SALESQA_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},
		func() error { return applyString(lookup, "SALESQA_OBJECTSTORE_CACHE_DIR", &cfg.ObjectStore.CacheDir) },

		func() error { return applyString(lookup, "OPENAI_API_KEY", &cfg.AI.OpenAIAPIKey) },
		func() error { return applyString(lookup, "SALESQA_OPENAI_API_KEY", &cfg.AI.OpenAIAPIKey) },
		func() error { return applyString(lookup, "SALESQA_OPENAI_BASE_URL", &cfg.AI.OpenAIBaseURL) },
		func() error { return applyString(lookup, "SALESQA_OPENAI_MODEL", &cfg.AI.OpenAIModel) },
		func() error { return applyString(lookup, "GOOGLE_API_KEY", &cfg.AI.GoogleAPIKey) },
		func() error { return applyString(lookup, "SALESQA_GOOGLE_API_KEY", &cfg.AI.GoogleAPIKey) },
		func() error { return applyString(lookup, "SALESQA_GEMINI_BASE_URL", &cfg.AI.GeminiBaseURL) },
		func() error { return applyString(lookup, "SALESQA_GEMINI_MODEL", &cfg.AI.GeminiModel) },
		func() error { return applyFloat(lookup, "SALESQA_LLM_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyDuration(lookup, "SALESQA_LLM_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyDuration(lookup, "SALESQA_LLM_CACHE_TTL", &cfg.AI.CacheTTL) },
		func() error { return applyInt(lookup, "SALESQA_LLM_CACHE_CAPACITY", &cfg.AI.CacheCapacity) },
		func() error { return applyString(lookup, "SALESQA_PROMPTS_FILE", &cfg.AI.PromptsFile) },

		func() error { return applyBool(lookup, "SALESQA_SQL_READ_ONLY", &cfg.SQL.ReadOnly) },
		func() error { return applyInt(lookup, "SALESQA_SQL_PROMPT_ROW_LIMIT", &cfg.SQL.PromptRowLimit) },
		func() error { return applyDuration(lookup, "SALESQA_SQL_EXECUTE_TIMEOUT", &cfg.SQL.ExecuteTimeout) },

		func() error { return applyBool(lookup, "SALESQA_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "SALESQA_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "SALESQA_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "SALESQA_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Config{}, err
		}
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Store.URL == "" {
		return Config{}, fmt.Errorf("database url is required")
	}
	if len(cfg.Store.Tables) == 0 {
		return Config{}, fmt.Errorf("at least one store table is required")
	}
	if cfg.Store.SampleRows < 0 {
		return Config{}, fmt.Errorf("invalid SALESQA_STORE_SAMPLE_ROWS: must be >= 0")
	}
	if cfg.AI.CacheCapacity <= 0 {
		return Config{}, fmt.Errorf("invalid SALESQA_LLM_CACHE_CAPACITY: must be > 0")
	}
	if cfg.SQL.PromptRowLimit <= 0 {
		return Config{}, fmt.Errorf("invalid SALESQA_SQL_PROMPT_ROW_LIMIT: must be > 0")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "salesqa-api"},
		HTTP: HTTPConfig{
			Address:         ":8000",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    90 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins: []string{
				"http://localhost:5173",
				"http://127.0.0.1:5173",
				"http://localhost:3000",
			},
		},
		Store: StoreConfig{
			URL:             "sqlite:///./sales.db",
			Tables:          []string{"sales_data"},
			SampleRows:      3,
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
			AcquireTimeout:  30 * time.Second,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "salesqa",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
			CacheDir:         os.TempDir(),
		},
		AI: AIConfig{
			OpenAIModel:   "gpt-3.5-turbo",
			GeminiModel:   "gemini-2.0-flash",
			Temperature:   0,
			Timeout:       60 * time.Second,
			CacheTTL:      15 * time.Minute,
			CacheCapacity: 64,
		},
		SQL: SQLConfig{
			ReadOnly:       true,
			PromptRowLimit: 50,
			ExecuteTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  false,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18000"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Observability.LogJSON = true
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

// applyList reads a comma separated value and drops blank entries. A value
// with no entries left is an error.
func applyList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	values := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return fmt.Errorf("invalid %s: empty list", key)
	}
	*dst = values
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
