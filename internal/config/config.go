// Package config loads RedirectGuard settings from REDIRECTGUARD_*
// environment variables. Command-line flags override what is loaded here.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/selimozcann/RedirectGuard/internal/logging"
	"github.com/selimozcann/RedirectGuard/internal/oracle"
	"github.com/selimozcann/RedirectGuard/internal/safebrowsing"
)

// Prefix is prepended to every environment variable name.
const Prefix = "REDIRECTGUARD"

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all application configuration.
type Config struct {
	Runner  RunnerConfig
	HTTP    HTTPConfig
	Gate    GateConfig
	Oracle  OracleConfig
	UI      UIConfig
	Logging LogConfig
	Metrics MetricsConfig
}

// RunnerConfig controls how targets are scheduled.
type RunnerConfig struct {
	Threads   int           `envconfig:"THREADS" default:"10"`
	RateLimit float64       `envconfig:"RATE_LIMIT" default:"0"`
	Timeout   time.Duration `envconfig:"TIMEOUT" default:"8s"`
	MaxChain  int           `envconfig:"MAX_CHAIN" default:"15"`
	Follow    bool          `envconfig:"FOLLOW_CLIENT_REDIRECTS" default:"true"`
	Linger    time.Duration `envconfig:"LINGER" default:"0s"`
}

// HTTPConfig holds settings of the load client.
type HTTPConfig struct {
	Retries   int    `envconfig:"RETRIES" default:"1"`
	Proxy     string `envconfig:"PROXY"`
	Insecure  bool   `envconfig:"INSECURE" default:"false"`
	UserAgent string `envconfig:"USER_AGENT" default:"RedirectGuard/1.0"`
	BodyLimit int64  `envconfig:"BODY_LIMIT" default:"524288"`
}

// GateConfig is resolved into one safebrowsing.Config shared by every gate.
type GateConfig struct {
	KnownSafeSchemes             []string `envconfig:"KNOWN_SAFE_SCHEMES" default:"about,chrome,chrome-untrusted,devtools"`
	SkipSubresources             bool     `envconfig:"SKIP_SUBRESOURCES" default:"false"`
	RealTimeLookup               bool     `envconfig:"REAL_TIME_LOOKUP" default:"false"`
	HashRealTimeLookup           bool     `envconfig:"HASH_REAL_TIME_LOOKUP" default:"false"`
	AllowSubresourceCheck        bool     `envconfig:"ALLOW_SUBRESOURCE_CHECK" default:"false"`
	AllowDBCheck                 bool     `envconfig:"ALLOW_DB_CHECK" default:"true"`
	AllowHighConfidenceAllowlist bool     `envconfig:"ALLOW_HIGH_CONFIDENCE_ALLOWLIST" default:"true"`
	PolicyFile                   string   `envconfig:"POLICY_FILE"`
}

// OracleConfig configures the verdict mechanisms.
type OracleConfig struct {
	HashDB        string        `envconfig:"HASH_DB"`
	CheckTimeout  time.Duration `envconfig:"CHECK_TIMEOUT" default:"5s"`
	Endpoint      string        `envconfig:"ENDPOINT"`
	APIKey        string        `envconfig:"API_KEY"`
	LookupTimeout time.Duration `envconfig:"LOOKUP_TIMEOUT" default:"3s"`
	Retries       int           `envconfig:"LOOKUP_RETRIES" default:"2"`
	RateLimit     float64       `envconfig:"LOOKUP_RATE_LIMIT" default:"0"`
	Burst         int           `envconfig:"LOOKUP_BURST" default:"1"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"5m"`
	// Heuristics turns the local SSRF and credential checks on.
	Heuristics       bool     `envconfig:"HEURISTICS" default:"true"`
	InternalCIDRs    []string `envconfig:"INTERNAL_CIDRS"`
	InternalSuffixes []string `envconfig:"INTERNAL_SUFFIXES"`
}

// UIConfig controls how blocking pages are shown.
type UIConfig struct {
	InterstitialDir string `envconfig:"INTERSTITIAL_DIR"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Addr string `envconfig:"ADDR"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	gate := safebrowsing.DefaultConfig()
	return &Config{
		Runner: RunnerConfig{
			Threads:  10,
			Timeout:  8 * time.Second,
			MaxChain: 15,
			Follow:   true,
		},
		HTTP: HTTPConfig{
			Retries:   1,
			UserAgent: "RedirectGuard/1.0",
			BodyLimit: 512 << 10,
		},
		Gate: GateConfig{
			KnownSafeSchemes:             gate.KnownSafeSchemes,
			AllowDBCheck:                 gate.AllowDBCheck,
			AllowHighConfidenceAllowlist: gate.AllowHighConfidenceAllowlist,
		},
		Oracle: OracleConfig{
			CheckTimeout:  oracle.DefaultTimeout,
			LookupTimeout: 3 * time.Second,
			Retries:       2,
			Burst:         1,
			CacheTTL:      5 * time.Minute,
			Heuristics:    true,
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.Runner.Threads <= 0:
		return fmt.Errorf("%w: threads must be greater than zero (got %d)", ErrInvalid, c.Runner.Threads)
	case c.Runner.RateLimit < 0:
		return fmt.Errorf("%w: rate limit must be >= 0 (got %g)", ErrInvalid, c.Runner.RateLimit)
	case c.Runner.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be > 0 (got %s)", ErrInvalid, c.Runner.Timeout)
	case c.Runner.MaxChain <= 0:
		return fmt.Errorf("%w: max chain must be > 0 (got %d)", ErrInvalid, c.Runner.MaxChain)
	case c.Runner.Linger < 0:
		return fmt.Errorf("%w: linger must be >= 0 (got %s)", ErrInvalid, c.Runner.Linger)
	case c.HTTP.Retries < 0:
		return fmt.Errorf("%w: retries must be >= 0 (got %d)", ErrInvalid, c.HTTP.Retries)
	case c.Oracle.CheckTimeout <= 0:
		return fmt.Errorf("%w: check timeout must be > 0 (got %s)", ErrInvalid, c.Oracle.CheckTimeout)
	}
	if c.HTTP.Proxy != "" {
		if _, err := url.Parse(c.HTTP.Proxy); err != nil {
			return fmt.Errorf("%w: proxy: %v", ErrInvalid, err)
		}
	}
	if (c.Gate.RealTimeLookup || c.Gate.HashRealTimeLookup) && c.Oracle.Endpoint == "" {
		return fmt.Errorf("%w: real-time lookups need an endpoint", ErrInvalid)
	}
	if c.Oracle.Endpoint != "" {
		if _, err := url.ParseRequestURI(c.Oracle.Endpoint); err != nil {
			return fmt.Errorf("%w: endpoint: %v", ErrInvalid, err)
		}
	}
	return nil
}

// SafeBrowsing returns the gate configuration.
func (g GateConfig) SafeBrowsing() safebrowsing.Config {
	schemes := make([]string, 0, len(g.KnownSafeSchemes))
	for _, s := range g.KnownSafeSchemes {
		if s = strings.TrimSpace(s); s != "" {
			schemes = append(schemes, strings.ToLower(s))
		}
	}
	return safebrowsing.Config{
		KnownSafeSchemes:             schemes,
		SkipSubresources:             g.SkipSubresources,
		RealTimeLookupEnabled:        g.RealTimeLookup,
		HashRealTimeLookupEnabled:    g.HashRealTimeLookup,
		AllowSubresourceCheck:        g.AllowSubresourceCheck,
		AllowDBCheck:                 g.AllowDBCheck,
		AllowHighConfidenceAllowlist: g.AllowHighConfidenceAllowlist,
	}
}

// RealTime returns the remote lookup client configuration.
func (o OracleConfig) RealTime() oracle.RealTimeConfig {
	return oracle.RealTimeConfig{
		Endpoint:   o.Endpoint,
		APIKey:     o.APIKey,
		Timeout:    o.LookupTimeout,
		MaxRetries: o.Retries,
		RateLimit:  o.RateLimit,
		Burst:      o.Burst,
		CacheTTL:   o.CacheTTL,
	}
}

// BuildHeuristics returns the local heuristics, or an inert set when they
// are turned off.
func (o OracleConfig) BuildHeuristics() *oracle.Heuristics {
	switch {
	case !o.Heuristics:
		return oracle.NewHeuristics(nil, nil)
	case len(o.InternalCIDRs) > 0 || len(o.InternalSuffixes) > 0:
		return oracle.NewHeuristics(o.InternalCIDRs, o.InternalSuffixes)
	default:
		return oracle.DefaultHeuristics()
	}
}

// Logger returns the logger configuration.
func (l LogConfig) Logger() logging.Config {
	cfg := logging.DefaultConfig()
	if l.Development {
		cfg = logging.DevelopmentConfig()
	}
	if l.Level != "" {
		cfg.Level = l.Level
	}
	return cfg
}
