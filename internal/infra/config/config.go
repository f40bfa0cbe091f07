package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration used across the service.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Predictor PredictorConfig `yaml:"predictor"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Store     StoreConfig     `yaml:"store"`
	Export    ExportConfig    `yaml:"export"`
}

// HTTPConfig controls server level behavior.
type HTTPConfig struct {
	Address        string          `yaml:"address"`
	ReadTimeout    time.Duration   `yaml:"readTimeout"`
	WriteTimeout   time.Duration   `yaml:"writeTimeout"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`
	AllowedOrigins []string        `yaml:"allowedOrigins"`
}

// RateLimitConfig drives the request limiting middleware.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
	Burst             int  `yaml:"burst"`
}

// PredictorConfig drives the resilient prediction pipeline.
type PredictorConfig struct {
	BaseURL        string        `yaml:"baseUrl"`
	PredictPath    string        `yaml:"predictPath"`
	MaxAttempts    int           `yaml:"maxAttempts"`
	AttemptTimeout time.Duration `yaml:"attemptTimeout"`
	BaseBackoff    time.Duration `yaml:"baseBackoff"`
	ModelVersion   string        `yaml:"modelVersion"`
	UserID         string        `yaml:"userId"`
}

// ProxyConfig points the same-origin proxy at the remote scoring host.
type ProxyConfig struct {
	UpstreamURL  string        `yaml:"upstreamUrl"`
	UpstreamPath string        `yaml:"upstreamPath"`
	Timeout      time.Duration `yaml:"timeout"`
}

// StoreConfig selects and tunes the local durable store.
type StoreConfig struct {
	Driver        string         `yaml:"driver"`
	SQLitePath    string         `yaml:"sqlitePath"`
	Postgres      PostgresConfig `yaml:"postgres"`
	Slot          SlotConfig     `yaml:"slot"`
	FallbackLimit int            `yaml:"fallbackLimit"`
	FallbackKey   string         `yaml:"fallbackKey"`
	LegacyKey     string         `yaml:"legacyKey"`
	SettingsKey   string         `yaml:"settingsKey"`
}

// PostgresConfig contains DSN and pooling settings.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
}

// SlotConfig selects the kv slot behind the fallback list.
type SlotConfig struct {
	Kind     string `yaml:"kind"`
	FilePath string `yaml:"filePath"`
	Addr     string `yaml:"addr"`
	Prefix   string `yaml:"prefix"`
}

// ExportConfig enables archiving exports to S3-compatible storage.
type ExportConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
}

// Load reads .env, then the YAML file, then environment overrides.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := hydrateFromFile(cfg, "configs/config.yaml"); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.HTTP.Address, "HTTP_ADDRESS")
	setDuration(&cfg.HTTP.ReadTimeout, "HTTP_READ_TIMEOUT")
	setDuration(&cfg.HTTP.WriteTimeout, "HTTP_WRITE_TIMEOUT")
	setBool(&cfg.HTTP.RateLimit.Enabled, "HTTP_RATE_LIMIT_ENABLED")
	setInt(&cfg.HTTP.RateLimit.RequestsPerMinute, "HTTP_RATE_LIMIT_RPM")
	setInt(&cfg.HTTP.RateLimit.Burst, "HTTP_RATE_LIMIT_BURST")
	if v := os.Getenv("HTTP_ALLOWED_ORIGINS"); v != "" {
		cfg.HTTP.AllowedOrigins = splitList(v)
	}

	setString(&cfg.Predictor.BaseURL, "PREDICTOR_BASE_URL")
	setString(&cfg.Predictor.PredictPath, "PREDICTOR_PATH")
	setInt(&cfg.Predictor.MaxAttempts, "PREDICTOR_MAX_ATTEMPTS")
	setDuration(&cfg.Predictor.AttemptTimeout, "PREDICTOR_ATTEMPT_TIMEOUT")
	setDuration(&cfg.Predictor.BaseBackoff, "PREDICTOR_BASE_BACKOFF")
	setString(&cfg.Predictor.ModelVersion, "PREDICTOR_MODEL_VERSION")
	setString(&cfg.Predictor.UserID, "PREDICTOR_USER_ID")

	setString(&cfg.Proxy.UpstreamURL, "PROXY_UPSTREAM_URL")
	setString(&cfg.Proxy.UpstreamPath, "PROXY_UPSTREAM_PATH")
	setDuration(&cfg.Proxy.Timeout, "PROXY_TIMEOUT")

	setString(&cfg.Store.Driver, "STORE_DRIVER")
	setString(&cfg.Store.SQLitePath, "STORE_SQLITE_PATH")
	setString(&cfg.Store.Postgres.DSN, "STORE_POSTGRES_DSN")
	if v := os.Getenv("STORE_POSTGRES_MAX_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Store.Postgres.MaxConns = int32(parsed)
		}
	}
	setString(&cfg.Store.Slot.Kind, "STORE_SLOT_KIND")
	setString(&cfg.Store.Slot.FilePath, "STORE_SLOT_FILE")
	setString(&cfg.Store.Slot.Addr, "STORE_SLOT_VALKEY_ADDR")
	setString(&cfg.Store.Slot.Prefix, "STORE_SLOT_PREFIX")
	setInt(&cfg.Store.FallbackLimit, "STORE_FALLBACK_LIMIT")

	setBool(&cfg.Export.Enabled, "EXPORT_ARCHIVE_ENABLED")
	setString(&cfg.Export.Endpoint, "EXPORT_ENDPOINT")
	setString(&cfg.Export.AccessKey, "EXPORT_ACCESS_KEY")
	setString(&cfg.Export.SecretKey, "EXPORT_SECRET_KEY")
	setString(&cfg.Export.Bucket, "EXPORT_BUCKET")
	setString(&cfg.Export.Region, "EXPORT_REGION")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst = parsed
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "1" || strings.EqualFold(v, "true")
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 20 * time.Minute,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				Burst:             20,
			},
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Predictor: PredictorConfig{
			BaseURL:        "http://localhost:8080",
			PredictPath:    "/api/backend/predict",
			MaxAttempts:    8,
			AttemptTimeout: 60 * time.Second,
			BaseBackoff:    15 * time.Second,
			ModelVersion:   "v2.1.0",
			UserID:         "user-1",
		},
		Proxy: ProxyConfig{
			UpstreamURL:  "http://localhost:8000",
			UpstreamPath: "/predict",
			Timeout:      90 * time.Second,
		},
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "data/riskdash.db",
			Postgres: PostgresConfig{
				MaxConns: 4,
			},
			Slot: SlotConfig{
				Kind:     "file",
				FilePath: "data/slots.json",
				Prefix:   "riskdash",
			},
			FallbackLimit: 50,
			FallbackKey:   "predictionHistoryFallback",
			LegacyKey:     "predictionHistory",
			SettingsKey:   "predictionSettings",
		},
		Export: ExportConfig{
			Region: "auto",
		},
	}
}

// WorstCasePredict is the longest a single Predict call can take: every
// attempt times out and every backoff is slept in full.
func (p PredictorConfig) WorstCasePredict() time.Duration {
	total := time.Duration(p.MaxAttempts) * p.AttemptTimeout
	for i := 1; i < p.MaxAttempts; i++ {
		total += time.Duration(i) * p.BaseBackoff
	}
	return total
}

// Validate ensures the configuration is safe to use.
func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		return errors.New("http.address cannot be empty")
	}
	if c.HTTP.RateLimit.Enabled {
		if c.HTTP.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("http.rateLimit.requestsPerMinute must be positive")
		}
		if c.HTTP.RateLimit.Burst <= 0 {
			return errors.New("http.rateLimit.burst must be positive")
		}
	}
	if strings.TrimSpace(c.Predictor.BaseURL) == "" {
		return errors.New("predictor.baseUrl cannot be empty")
	}
	if c.Predictor.MaxAttempts <= 0 {
		return errors.New("predictor.maxAttempts must be positive")
	}
	if c.Predictor.AttemptTimeout <= 0 {
		return errors.New("predictor.attemptTimeout must be positive")
	}
	if c.Predictor.BaseBackoff < 0 {
		return errors.New("predictor.baseBackoff cannot be negative")
	}
	if c.HTTP.WriteTimeout > 0 && c.HTTP.WriteTimeout < c.Predictor.WorstCasePredict() {
		return fmt.Errorf("http.writeTimeout %s is shorter than the worst case prediction time %s", c.HTTP.WriteTimeout, c.Predictor.WorstCasePredict())
	}
	if strings.TrimSpace(c.Proxy.UpstreamURL) == "" {
		return errors.New("proxy.upstreamUrl cannot be empty")
	}
	switch c.Store.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			return errors.New("store.sqlitePath cannot be empty for the sqlite driver")
		}
	case "postgres":
		if strings.TrimSpace(c.Store.Postgres.DSN) == "" {
			return errors.New("store.postgres.dsn cannot be empty for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver %q must be sqlite or postgres", c.Store.Driver)
	}
	switch c.Store.Slot.Kind {
	case "memory":
	case "file":
		if strings.TrimSpace(c.Store.Slot.FilePath) == "" {
			return errors.New("store.slot.filePath cannot be empty for the file slot")
		}
	case "valkey":
		if strings.TrimSpace(c.Store.Slot.Addr) == "" {
			return errors.New("store.slot.addr cannot be empty for the valkey slot")
		}
	default:
		return fmt.Errorf("store.slot.kind %q must be file, valkey or memory", c.Store.Slot.Kind)
	}
	if c.Store.FallbackLimit <= 0 {
		return errors.New("store.fallbackLimit must be positive")
	}
	if c.Export.Enabled && strings.TrimSpace(c.Export.Bucket) == "" {
		return errors.New("export.bucket cannot be empty when archiving is enabled")
	}
	return nil
}
