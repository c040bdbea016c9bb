// Package config loads service configuration from defaults, an optional YAML file and
// the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"voicecharge.org/internal/billing"
	"voicecharge.org/internal/gocardless"
	"voicecharge.org/internal/obs"
)

const (
	ProviderGoCardless = "gocardless"
	ProviderMemory     = "memory"
)

// FileEnv names the environment variable pointing at the YAML config file.
const FileEnv = "VOICECHARGE_CONFIG"

// Config is the full service configuration.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	// GoCardless
	AccessToken   string            `yaml:"gocardless_access_token"`
	Environment   string            `yaml:"gocardless_environment"`
	BaseURL       string            `yaml:"gocardless_base_url"`
	HTTPTimeout   time.Duration     `yaml:"gocardless_http_timeout"`
	Provider      string            `yaml:"provider"`
	MemoryFixture []FixtureCustomer `yaml:"memory_fixture"`

	// Alexa
	ApplicationID string `yaml:"alexa_application_id"`

	LookupTimeout time.Duration `yaml:"lookup_timeout"`
	Currency      string        `yaml:"currency"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	RateBurst    int   `yaml:"rate_burst"`
	RatePerSec   int   `yaml:"rate_per_sec"`
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// Tracing
	TraceExporter   string  `yaml:"trace_exporter"`
	OTLPEndpoint    string  `yaml:"otlp_endpoint"`
	OTLPInsecure    bool    `yaml:"otlp_insecure"`
	TraceSampleRate float64 `yaml:"trace_sample_rate"`
}

// FixtureCustomer seeds the in-memory provider.
type FixtureCustomer struct {
	billing.Customer `yaml:",inline"`
	Mandates         []billing.Mandate `yaml:"mandates"`
}

// Default returns a config with every optional field set.
func Default() *Config {
	return &Config{
		HTTPAddr:      ":8080",
		Environment:   "sandbox",
		HTTPTimeout:   30 * time.Second,
		Provider:      ProviderGoCardless,
		LookupTimeout: billing.DefaultLookupTimeout,
		Currency:      billing.DefaultCurrency,
		LogLevel:      "info",
		LogFormat:     "json",
		RateBurst:     20,
		RatePerSec:    10,
		MaxBodyBytes:  1 << 20,

		TraceExporter:   obs.TraceExporterNone,
		OTLPEndpoint:    "localhost:4317",
		TraceSampleRate: 1.0,
	}
}

// Load builds the config: defaults, then the file named by VOICECHARGE_CONFIG (if set),
// then environment overrides. The result is validated.
func Load() (*Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv(FileEnv)); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables onto c. lookup is os.LookupEnv in production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("VOICECHARGE_ADDR", &c.HTTPAddr)
	str("GOCARDLESS_ACCESS_TOKEN", &c.AccessToken)
	str("GOCARDLESS_ENVIRONMENT", &c.Environment)
	str("GOCARDLESS_BASE_URL", &c.BaseURL)
	str("ALEXA_APPLICATION_ID", &c.ApplicationID)
	str("VOICECHARGE_PROVIDER", &c.Provider)
	str("VOICECHARGE_CURRENCY", &c.Currency)
	str("VOICECHARGE_LOG_LEVEL", &c.LogLevel)
	str("VOICECHARGE_LOG_FORMAT", &c.LogFormat)
	str("VOICECHARGE_TRACE_EXPORTER", &c.TraceExporter)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.OTLPEndpoint)

	var errs []error
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
	float := func(key string, dst *float64) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
	flag := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
	dur("VOICECHARGE_LOOKUP_TIMEOUT", &c.LookupTimeout)
	dur("GOCARDLESS_HTTP_TIMEOUT", &c.HTTPTimeout)
	num("VOICECHARGE_RATE_BURST", &c.RateBurst)
	num("VOICECHARGE_RATE_PER_SEC", &c.RatePerSec)
	float("VOICECHARGE_TRACE_SAMPLE_RATE", &c.TraceSampleRate)
	flag("VOICECHARGE_TRACE_INSECURE", &c.OTLPInsecure)
	return errors.Join(errs...)
}

// Validate checks required fields and resolves the provider base URL.
func (c *Config) Validate() error {
	var errs []error
	if c.ApplicationID == "" {
		errs = append(errs, errors.New("ALEXA_APPLICATION_ID is required"))
	}
	switch c.Provider {
	case ProviderGoCardless:
		if c.AccessToken == "" {
			errs = append(errs, errors.New("GOCARDLESS_ACCESS_TOKEN is required"))
		}
		if c.BaseURL == "" {
			u, err := gocardless.BaseURL(c.Environment)
			if err != nil {
				errs = append(errs, err)
			}
			c.BaseURL = u
		}
	case ProviderMemory:
	default:
		errs = append(errs, fmt.Errorf("unsupported provider %q", c.Provider))
	}
	if c.LookupTimeout <= 0 {
		errs = append(errs, errors.New("lookup_timeout must be > 0"))
	}
	if len(c.Currency) != 3 {
		errs = append(errs, fmt.Errorf("currency %q must be an ISO 4217 code", c.Currency))
	}
	c.Currency = strings.ToUpper(c.Currency)
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		errs = append(errs, errors.New("rate_burst and rate_per_sec must be > 0"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max_body_bytes must be > 0"))
	}
	c.TraceExporter = strings.ToLower(c.TraceExporter)
	switch c.TraceExporter {
	case obs.TraceExporterNone, obs.TraceExporterStdout:
	case obs.TraceExporterOTLP:
		if c.OTLPEndpoint == "" {
			errs = append(errs, errors.New("otlp_endpoint is required for the otlp trace exporter"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported trace exporter %q", c.TraceExporter))
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		errs = append(errs, fmt.Errorf("trace_sample_rate %v must be within [0, 1]", c.TraceSampleRate))
	}
	return errors.Join(errs...)
}

// SeedMemory loads the configured fixture into p.
func (c *Config) SeedMemory(p *billing.InMemory) {
	for _, fc := range c.MemoryFixture {
		p.AddCustomer(fc.Customer, fc.Mandates...)
	}
}
