// Package config loads the model catalog and run settings from YAML and the
// process environment.
//
// A catalog file only needs to list what differs from the built in catalog:
// entries are merged by name, and scalar settings left zero keep their
// defaults.
//
//	models:
//	  - name: local-oss
//	    provider: openai
//	    model_id: openai/gpt-oss-20b
//	    base_url: http://localhost:1234/v1
//	retry:
//	  rate_limit_delay: 60s
//	  delay: 10s
//	  generic_delay: 5s
//	  max_attempts: 3
//	request_timeout: 300s
//	concurrency: 10
//	metrics_addr: :9090
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/evalmesh/dispatch"
	"github.com/hupe1980/evalmesh/logging"
	"github.com/hupe1980/evalmesh/model"
)

// Retry mirrors dispatch.RetryConfig in the YAML layout.
type Retry struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	RateLimitDelay time.Duration `yaml:"rate_limit_delay"`
	Delay          time.Duration `yaml:"delay"`
	GenericDelay   time.Duration `yaml:"generic_delay"`
}

// Log selects the structured logger configuration.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the complete run configuration.
type Config struct {
	Models         []model.Config `yaml:"models"`
	Retry          Retry          `yaml:"retry"`
	RequestTimeout time.Duration  `yaml:"request_timeout"`
	Concurrency    int            `yaml:"concurrency"`
	Log            Log            `yaml:"log"`
	MetricsAddr    string         `yaml:"metrics_addr"`
}

// Default returns the built in catalog with default run settings.
func Default() *Config {
	rc := dispatch.DefaultRetryConfig()
	return &Config{
		Models: DefaultModels(),
		Retry: Retry{
			MaxAttempts:    rc.MaxAttempts,
			RateLimitDelay: rc.RateLimitDelay,
			Delay:          rc.RetryDelay,
			GenericDelay:   rc.GenericRetryDelay,
		},
		RequestTimeout: 300 * time.Second,
		Concurrency:    10,
		Log:            Log{Level: "info", Format: "text"},
	}
}

// Load reads a YAML file and merges it over Default. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := cfg.Merge(data); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Merge decodes YAML and overlays it onto c. Models replace catalog entries
// with the same name and are appended otherwise.
func (c *Config) Merge(data []byte) error {
	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return err
	}

	for _, m := range overlay.Models {
		c.upsert(m)
	}
	if overlay.Retry.MaxAttempts > 0 {
		c.Retry.MaxAttempts = overlay.Retry.MaxAttempts
	}
	if overlay.Retry.RateLimitDelay > 0 {
		c.Retry.RateLimitDelay = overlay.Retry.RateLimitDelay
	}
	if overlay.Retry.Delay > 0 {
		c.Retry.Delay = overlay.Retry.Delay
	}
	if overlay.Retry.GenericDelay > 0 {
		c.Retry.GenericDelay = overlay.Retry.GenericDelay
	}
	if overlay.RequestTimeout > 0 {
		c.RequestTimeout = overlay.RequestTimeout
	}
	if overlay.Concurrency > 0 {
		c.Concurrency = overlay.Concurrency
	}
	if overlay.Log.Level != "" {
		c.Log.Level = overlay.Log.Level
	}
	if overlay.Log.Format != "" {
		c.Log.Format = overlay.Log.Format
	}
	if overlay.MetricsAddr != "" {
		c.MetricsAddr = overlay.MetricsAddr
	}
	return nil
}

func (c *Config) upsert(m model.Config) {
	Normalize(&m)
	for i := range c.Models {
		if c.Models[i].Name == m.Name {
			c.Models[i] = m
			return
		}
	}
	c.Models = append(c.Models, m)
}

// Validate checks catalog entries for missing fields, duplicate names and
// unknown provider tags.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Models))
	var errs []error
	for _, m := range c.Models {
		if m.Name == "" {
			errs = append(errs, errors.New("model entry without name"))
			continue
		}
		if _, dup := seen[m.Name]; dup {
			errs = append(errs, &model.ConfigError{Model: m.Name, Message: "duplicate name"})
		}
		seen[m.Name] = struct{}{}
		if !KnownProvider(m.Provider) {
			errs = append(errs, &model.ConfigError{Model: m.Name, Message: fmt.Sprintf("unknown provider %q", m.Provider)})
		}
		if m.ModelID == "" {
			errs = append(errs, &model.ConfigError{Model: m.Name, Message: "model_id is required"})
		}
	}
	return errors.Join(errs...)
}

// Model returns the catalog entry for name.
func (c *Config) Model(name string) (model.Config, bool) {
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	return model.Config{}, false
}

// RetryConfig converts the retry settings for the dispatcher.
func (c *Config) RetryConfig() dispatch.RetryConfig {
	return dispatch.RetryConfig{
		MaxAttempts:       c.Retry.MaxAttempts,
		RateLimitDelay:    c.Retry.RateLimitDelay,
		RetryDelay:        c.Retry.Delay,
		GenericRetryDelay: c.Retry.GenericDelay,
	}
}

// NewLogger builds the structured logger described by the log settings.
func (c *Config) NewLogger() *logging.StructuredLogger {
	return logging.NewSlogLogger(logging.ParseLevel(c.Log.Level), c.Log.Format, false)
}

// NewDispatcher wires the catalog, the provider factories and the retry
// settings into a dispatcher.
func (c *Config) NewDispatcher(logger logging.Logger, optFns ...func(o *ProviderOptions)) *dispatch.Dispatcher {
	fns := append([]func(o *ProviderOptions){func(o *ProviderOptions) { o.Logger = logger }}, optFns...)

	var po ProviderOptions
	for _, fn := range fns {
		fn(&po)
	}

	return dispatch.New(c.Models, Providers(fns...), func(o *dispatch.Options) {
		o.Retry = c.RetryConfig()
		o.RequestTimeout = c.RequestTimeout
		o.Logger = logger
		o.Observer = po.Observer
	})
}

// LoadEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env %s: %w", f, err)
		}
	}
	return nil
}
