// Package config provides the configuration value object, its defaults,
// layered loading through viper, and the default file writer.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MEDALPARSER_WORKERS.
const EnvPrefix = "MEDALPARSER"

// DefaultFile is picked up from the working directory when no --config is given.
const DefaultFile = "medal-parser.yaml"

// DefaultCatalogURL is the public CS:GO collectibles feed.
const DefaultCatalogURL = "https://bymykel.github.io/CSGO-API/api/en/collectibles.json"

// Config holds every setting of a run. It is built once by the CLI and
// passed down; no package reads global configuration.
type Config struct {
	CatalogURL string   `mapstructure:"catalog_url" yaml:"catalog_url"`
	OutputDir  string   `mapstructure:"output_dir" yaml:"output_dir"`
	DumpDir    string   `mapstructure:"dump_dir" yaml:"dump_dir"`
	Categories []string `mapstructure:"categories" yaml:"categories"`
	Workers    int      `mapstructure:"workers" yaml:"workers"`

	RequestTimeout int           `mapstructure:"request_timeout" yaml:"request_timeout"` // seconds
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
	MaxImageBytes  int64         `mapstructure:"max_image_bytes" yaml:"max_image_bytes"`

	RateLimit        float64       `mapstructure:"rate_limit" yaml:"rate_limit"` // requests/second, 0 = unlimited
	RateBurst        int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	BreakerThreshold int           `mapstructure:"breaker_threshold" yaml:"breaker_threshold"` // 0 = disabled
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown" yaml:"breaker_cooldown"`

	TargetWidth  int `mapstructure:"target_width" yaml:"target_width"`
	TargetHeight int `mapstructure:"target_height" yaml:"target_height"`

	ReuseDumpWithin time.Duration `mapstructure:"reuse_dump_within" yaml:"reuse_dump_within"`
	HistoryDB       string        `mapstructure:"history_db" yaml:"history_db"`
	MetricsPort     int           `mapstructure:"metrics_port" yaml:"metrics_port"`

	NATS    NATSConfig    `mapstructure:"nats" yaml:"nats"`
	Neo4j   Neo4jConfig   `mapstructure:"neo4j" yaml:"neo4j"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// NATSConfig enables the event stream when URL is set.
type NATSConfig struct {
	URL     string `mapstructure:"url" yaml:"url"`
	Subject string `mapstructure:"subject" yaml:"subject"`
}

// Neo4jConfig enables the registry when URL is set.
type Neo4jConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	User     string `mapstructure:"user" yaml:"user"`
	Pass     string `mapstructure:"pass" yaml:"pass"`
	Database string `mapstructure:"database" yaml:"database"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Exporter is "none", "stdout" or "otlp".
	Exporter   string  `mapstructure:"exporter" yaml:"exporter"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		CatalogURL:       DefaultCatalogURL,
		OutputDir:        "data/medals",
		DumpDir:          "data/responses",
		Categories:       []string{"pick", "coin", "medal", "pin", "trophy", "badge", "pass", "stars"},
		Workers:          10,
		RequestTimeout:   30,
		MaxRetries:       3,
		RetryBackoff:     time.Second,
		MaxBackoff:       30 * time.Second,
		UserAgent:        "cs-medal-parser/1.0",
		MaxImageBytes:    32 << 20,
		RateLimit:        0,
		RateBurst:        1,
		BreakerThreshold: 0,
		BreakerCooldown:  30 * time.Second,
		TargetWidth:      256,
		TargetHeight:     192,
		HistoryDB:        "data/history.db",
		NATS:             NATSConfig{Subject: "medalparser"},
		Neo4j:            Neo4jConfig{User: "neo4j"},
		Tracing: TracingConfig{
			Exporter:   "stdout",
			Endpoint:   "localhost:4317",
			SampleRate: 1.0,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// SetDefaults registers every key with v so env overrides and Unmarshal see it.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("catalog_url", d.CatalogURL)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("dump_dir", d.DumpDir)
	v.SetDefault("categories", d.Categories)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("retry_backoff", d.RetryBackoff)
	v.SetDefault("max_backoff", d.MaxBackoff)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("max_image_bytes", d.MaxImageBytes)
	v.SetDefault("rate_limit", d.RateLimit)
	v.SetDefault("rate_burst", d.RateBurst)
	v.SetDefault("breaker_threshold", d.BreakerThreshold)
	v.SetDefault("breaker_cooldown", d.BreakerCooldown)
	v.SetDefault("target_width", d.TargetWidth)
	v.SetDefault("target_height", d.TargetHeight)
	v.SetDefault("reuse_dump_within", d.ReuseDumpWithin)
	v.SetDefault("history_db", d.HistoryDB)
	v.SetDefault("metrics_port", d.MetricsPort)
	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.subject", d.NATS.Subject)
	v.SetDefault("neo4j.url", d.Neo4j.URL)
	v.SetDefault("neo4j.user", d.Neo4j.User)
	v.SetDefault("neo4j.pass", d.Neo4j.Pass)
	v.SetDefault("neo4j.database", d.Neo4j.Database)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load layers defaults, the config file, MEDALPARSER_* env vars and any
// flags already bound to v, then validates the result. An explicit file
// must exist; without one, DefaultFile is read if present.
func Load(v *viper.Viper, file string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	switch {
	case file != "":
		v.SetConfigFile(file)
	default:
		if _, err := os.Stat(DefaultFile); err == nil {
			v.SetConfigFile(DefaultFile)
		}
	}
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Timeout is the per-request deadline.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.CatalogURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("catalog_url must be an absolute http(s) URL, got %q", c.CatalogURL))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output_dir is required"))
	}
	if c.DumpDir == "" {
		errs = append(errs, errors.New("dump_dir is required"))
	}
	if !hasKeyword(c.Categories) {
		errs = append(errs, errors.New("categories must contain at least one keyword"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.RequestTimeout < 1 {
		errs = append(errs, fmt.Errorf("request_timeout must be at least 1 second, got %d", c.RequestTimeout))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries))
	}
	if c.RetryBackoff < 0 || c.MaxBackoff < 0 {
		errs = append(errs, errors.New("retry_backoff and max_backoff must not be negative"))
	}
	if c.TargetWidth < 1 || c.TargetHeight < 1 {
		errs = append(errs, fmt.Errorf("target size must be at least 1x1, got %dx%d", c.TargetWidth, c.TargetHeight))
	}
	if c.MaxImageBytes < 0 {
		errs = append(errs, errors.New("max_image_bytes must not be negative"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("rate_limit must not be negative"))
	}
	if c.BreakerThreshold < 0 {
		errs = append(errs, errors.New("breaker_threshold must not be negative"))
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("metrics_port out of range: %d", c.MetricsPort))
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		errs = append(errs, errors.New("nats.subject is required when nats.url is set"))
	}
	if err := ValidateTracing(c.Tracing); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func hasKeyword(categories []string) bool {
	for _, k := range categories {
		if strings.TrimSpace(k) != "" {
			return true
		}
	}
	return false
}

// ValidateTracing checks the tracing block.
func ValidateTracing(t TracingConfig) error {
	if t.SampleRate < 0.0 || t.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", t.SampleRate)
	}
	switch t.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter must be \"none\", \"stdout\", or \"otlp\", got %q", t.Exporter)
	}
	if t.Enabled && t.Exporter == "otlp" && t.Endpoint == "" {
		return errors.New("tracing.endpoint is required when exporter is \"otlp\"")
	}
	return nil
}
