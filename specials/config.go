package specials

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/bravo/specials/internal/pacing"
)

// Transports.
const (
	TransportHTTP    = "http"
	TransportBrowser = "browser"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the top-level bravo configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Collect   CollectConfig   `yaml:"collect"`
	Stores    []StoreConfig   `yaml:"stores"`
	Browser   BrowserConfig   `yaml:"browser"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Driver     string `yaml:"driver" env:"BRAVO_DB_DRIVER"` // sqlite | postgres
	Path       string `yaml:"path" env:"BRAVO_DB_PATH"`     // sqlite file
	DSN        string `yaml:"dsn" env:"BRAVO_DB_DSN"`       // postgres
	MaxConns   int    `yaml:"max_conns"`
	ViaBouncer bool   `yaml:"via_bouncer"` // simple protocol for pgbouncer transaction pooling
}

// CollectConfig bounds and paces collection runs.
type CollectConfig struct {
	MaxPages       int           `yaml:"max_pages"`
	MaxFailures    int           `yaml:"max_failures"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	PageDelay      pacing.Spec   `yaml:"page_delay"`
	SessionBreak   pacing.Spec   `yaml:"session_break"`
	SessionEvery   int           `yaml:"session_every"`
	CategoryPause  pacing.Spec   `yaml:"category_pause"`
	CataloguePause pacing.Spec   `yaml:"catalogue_pause"` // category pause of catalogue runs
	StorePause     pacing.Spec   `yaml:"store_pause"`
	BlockCooldown  time.Duration `yaml:"block_cooldown"` // negative disables
	BaseBackoff    time.Duration `yaml:"base_backoff"`   // negative disables
	// RecomputeIntel runs an intelligence pass after each collection.
	RecomputeIntel *bool `yaml:"recompute_intel"`
}

// StoreConfig enables one store and picks its transport.
type StoreConfig struct {
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"` // http | browser
	Enabled   *bool  `yaml:"enabled"`
	BaseURL   string `yaml:"base_url"`
	UserAgent string `yaml:"user_agent"`
}

// IsEnabled reports whether the store takes part in runs.
func (s StoreConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// BrowserConfig controls Chrome for the browser transport.
type BrowserConfig struct {
	Remote           string        `yaml:"remote" env:"BRAVO_BROWSER_REMOTE"`
	Headless         *bool         `yaml:"headless" env:"BRAVO_HEADLESS"`
	XvfbDisplay      string        `yaml:"xvfb_display"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
	Settle           time.Duration `yaml:"settle"`
}

// HTTPConfig configures the read-only API.
type HTTPConfig struct {
	Addr string `yaml:"addr" env:"BRAVO_HTTP_ADDR"`
}

// LogConfig sets the log level: debug | info | warn | error.
type LogConfig struct {
	Level string `yaml:"level" env:"BRAVO_LOG_LEVEL"`
}

// TelemetryConfig enables OTLP trace export when Endpoint is set.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint" env:"BRAVO_OTEL_ENDPOINT"`
	ServiceName string `yaml:"service_name"`
}

// DefaultStores is used when the configuration names none.
func DefaultStores() []StoreConfig {
	return []StoreConfig{
		{Name: "coles", Transport: TransportHTTP},
		{Name: "woolworths", Transport: TransportBrowser},
	}
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.defaults()
	return cfg
}

// LoadConfig reads path (when non-empty), applies environment overrides,
// fills defaults and validates.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("specials: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("specials: parse config %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("specials: parse env: %w", err)
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) defaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/bravo.db"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 4
	}

	cc := &c.Collect
	if cc.MaxPages <= 0 {
		cc.MaxPages = 200
	}
	if cc.MaxFailures <= 0 {
		cc.MaxFailures = 3
	}
	if cc.FetchTimeout <= 0 {
		cc.FetchTimeout = 30 * time.Second
	}
	if cc.PageDelay == (pacing.Spec{}) {
		cc.PageDelay = pacing.Spec{Kind: "lognormal", Min: 30 * time.Second, Max: 90 * time.Second, Sigma: 0.5}
	}
	if cc.SessionBreak == (pacing.Spec{}) {
		cc.SessionBreak = pacing.Spec{Kind: "uniform", Min: 2 * time.Minute, Max: 5 * time.Minute}
	}
	if cc.SessionEvery <= 0 {
		cc.SessionEvery = pacing.DefaultSessionEvery
	}
	if cc.CategoryPause == (pacing.Spec{}) {
		cc.CategoryPause = pacing.Spec{Kind: "uniform", Min: time.Minute, Max: 3 * time.Minute}
	}
	if cc.CataloguePause == (pacing.Spec{}) {
		cc.CataloguePause = pacing.Spec{Kind: "uniform", Min: 3 * time.Minute, Max: 7 * time.Minute}
	}
	if cc.StorePause == (pacing.Spec{}) {
		cc.StorePause = pacing.Spec{Kind: "uniform", Min: 3 * time.Minute, Max: 7 * time.Minute}
	}
	if cc.BlockCooldown == 0 {
		cc.BlockCooldown = 10 * time.Minute
	}
	if cc.BaseBackoff == 0 {
		cc.BaseBackoff = 10 * time.Second
	}
	if cc.RecomputeIntel == nil {
		on := true
		cc.RecomputeIntel = &on
	}

	if len(c.Stores) == 0 {
		c.Stores = DefaultStores()
	}
	for i := range c.Stores {
		if c.Stores[i].Transport == "" {
			c.Stores[i].Transport = TransportHTTP
		}
	}

	if c.Browser.Headless == nil {
		on := true
		c.Browser.Headless = &on
	}
	if len(c.Browser.ResourceBlocking) == 0 {
		c.Browser.ResourceBlocking = []string{"image", "font", "media"}
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8086"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "bravo"
	}
}

// Validate rejects configurations no run could use.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("specials: %w: database.dsn is required for postgres", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("specials: %w: unknown database driver %q", ErrInvalidConfig, c.Database.Driver)
	}

	seen := make(map[string]bool, len(c.Stores))
	for _, s := range c.Stores {
		if !slices.Contains(KnownStores, s.Name) {
			return fmt.Errorf("specials: %w: %q", ErrUnknownStore, s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("specials: %w: store %q listed twice", ErrInvalidConfig, s.Name)
		}
		seen[s.Name] = true
		if s.Transport != TransportHTTP && s.Transport != TransportBrowser {
			return fmt.Errorf("specials: %w: store %s: unknown transport %q", ErrInvalidConfig, s.Name, s.Transport)
		}
	}

	for name, spec := range map[string]pacing.Spec{
		"page_delay":     c.Collect.PageDelay,
		"session_break":  c.Collect.SessionBreak,
		"category_pause":  c.Collect.CategoryPause,
		"catalogue_pause": c.Collect.CataloguePause,
		"store_pause":     c.Collect.StorePause,
	} {
		if _, err := spec.Build(pacing.Global); err != nil {
			return fmt.Errorf("specials: %w: collect.%s: %v", ErrInvalidConfig, name, err)
		}
	}
	return nil
}

// Policy builds the pacing policy of the collect section.
func (c *CollectConfig) Policy() (pacing.Policy, error) {
	p := pacing.Policy{
		SessionEvery:  c.SessionEvery,
		BlockCooldown: max(0, c.BlockCooldown),
		BaseBackoff:   max(0, c.BaseBackoff),
	}
	var err error
	for _, f := range []struct {
		dst  *pacing.Sampler
		spec pacing.Spec
	}{
		{&p.PageDelay, c.PageDelay},
		{&p.SessionBreak, c.SessionBreak},
		{&p.CategoryPause, c.CategoryPause},
		{&p.CataloguePause, c.CataloguePause},
		{&p.StorePause, c.StorePause},
	} {
		if *f.dst, err = f.spec.Build(pacing.Global); err != nil {
			return pacing.Policy{}, err
		}
	}
	return p, nil
}
