package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsMatchDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("REDIRECTGUARD_RUNNER_THREADS", "4")
	t.Setenv("REDIRECTGUARD_RUNNER_TIMEOUT", "2s")
	t.Setenv("REDIRECTGUARD_GATE_KNOWN_SAFE_SCHEMES", "about,data")
	t.Setenv("REDIRECTGUARD_GATE_REAL_TIME_LOOKUP", "true")
	t.Setenv("REDIRECTGUARD_ORACLE_ENDPOINT", "https://lookup.example.com")
	t.Setenv("REDIRECTGUARD_LOGGING_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Runner.Threads)
	assert.Equal(t, 2*time.Second, cfg.Runner.Timeout)
	assert.Equal(t, []string{"about", "data"}, cfg.Gate.KnownSafeSchemes)
	assert.True(t, cfg.Gate.RealTimeLookup)
	assert.Equal(t, "https://lookup.example.com", cfg.Oracle.Endpoint)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoadOrDefaultOnBadValue(t *testing.T) {
	t.Setenv("REDIRECTGUARD_RUNNER_THREADS", "many")
	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, Default(), LoadOrDefault())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zeroThreads", func(c *Config) { c.Runner.Threads = 0 }},
		{"negativeRate", func(c *Config) { c.Runner.RateLimit = -1 }},
		{"zeroTimeout", func(c *Config) { c.Runner.Timeout = 0 }},
		{"zeroMaxChain", func(c *Config) { c.Runner.MaxChain = 0 }},
		{"negativeRetries", func(c *Config) { c.HTTP.Retries = -1 }},
		{"realTimeWithoutEndpoint", func(c *Config) { c.Gate.HashRealTimeLookup = true }},
		{"relativeEndpoint", func(c *Config) { c.Oracle.Endpoint = "lookup" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
	require.NoError(t, Default().Validate())
}

func TestGateConfigSafeBrowsing(t *testing.T) {
	g := GateConfig{
		KnownSafeSchemes: []string{" About ", "", "devtools"},
		RealTimeLookup:   true,
		AllowDBCheck:     true,
	}
	sb := g.SafeBrowsing()
	assert.Equal(t, []string{"about", "devtools"}, sb.KnownSafeSchemes)
	assert.True(t, sb.RealTimeLookupEnabled)
	assert.False(t, sb.HashRealTimeLookupEnabled)
	assert.True(t, sb.AllowDBCheck)
}

func TestBuildHeuristics(t *testing.T) {
	off := OracleConfig{}.BuildHeuristics()
	assert.False(t, off.IsInternalHost("127.0.0.1"))

	def := OracleConfig{Heuristics: true}.BuildHeuristics()
	assert.True(t, def.IsInternalHost("10.1.2.3"))

	custom := OracleConfig{Heuristics: true, InternalSuffixes: []string{".corp"}}.BuildHeuristics()
	assert.True(t, custom.IsInternalHost("wiki.corp"))
	assert.False(t, custom.IsInternalHost("10.1.2.3"))
}

func TestLogConfig(t *testing.T) {
	cfg := LogConfig{Level: "warn", Development: true}.Logger()
	assert.Equal(t, "warn", cfg.Level)
	assert.True(t, cfg.Development)
}
