package policy

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
skip:
  schemes: [FTP]
  hosts:
    - "*.corp.example"
    - localhost
  urls:
    - "docs.example.com/internal/**"
  service_worker_hosts:
    - push.example.com
`

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestShouldSkipRequestCheck(t *testing.T) {
	p, err := Parse([]byte(sample))
	require.NoError(t, err)

	tests := []struct {
		name   string
		url    string
		fromSW bool
		want   bool
	}{
		{"scheme", "ftp://files.example/x", false, true},
		{"host glob", "https://wiki.corp.example/page", false, true},
		{"host glob is not the apex", "https://corp.example/", false, false},
		{"exact host", "http://localhost:8080/", false, true},
		{"url glob", "https://docs.example.com/internal/a/b", false, true},
		{"url glob outside prefix", "https://docs.example.com/public", false, false},
		{"service worker host from worker", "https://push.example.com/sub", true, true},
		{"service worker host from page", "https://push.example.com/sub", false, false},
		{"unrelated", "https://example.org/", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ShouldSkipRequestCheck(mustURL(t, tt.url), tt.fromSW))
		})
	}
}

func TestParseNormalizes(t *testing.T) {
	p, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, []string{"ftp"}, p.Rules().Skip.Schemes)
}

func TestParseRejectsBadInput(t *testing.T) {
	_, err := Parse([]byte("skip: [unclosed"))
	assert.Error(t, err)

	_, err = Parse([]byte("skip:\n  hosts: [\"[a-\"]\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	p, err := Load(path)
	require.NoError(t, err)
	assert.True(t, p.ShouldSkipRequestCheck(mustURL(t, "https://a.corp.example/"), false))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEmptyNeverSkips(t *testing.T) {
	p := Empty()
	assert.False(t, p.ShouldSkipRequestCheck(mustURL(t, "https://example.com/"), true))
	assert.False(t, p.ShouldSkipRequestCheck(nil, false))
}
