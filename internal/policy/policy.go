// Package policy decides which load chains are exempt from safety checks.
package policy

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"

	"github.com/selimozcann/RedirectGuard/internal/safebrowsing"
)

// Rules is the on-disk form of the skip policy.
//
//	skip:
//	  schemes: [ftp]
//	  hosts: ["*.corp.example"]
//	  urls: ["docs.example.com/internal/**"]
//	  service_worker_hosts: ["push.example.com"]
type Rules struct {
	Skip SkipRules `yaml:"skip"`
}

// SkipRules lists what bypasses checking. Host and URL entries are
// doublestar globs; URLs are matched as host+path.
type SkipRules struct {
	Schemes            []string `yaml:"schemes"`
	Hosts              []string `yaml:"hosts"`
	URLs               []string `yaml:"urls"`
	ServiceWorkerHosts []string `yaml:"service_worker_hosts"`
}

// Policy implements safebrowsing.PolicyDelegate.
type Policy struct {
	rules Rules
}

var _ safebrowsing.PolicyDelegate = (*Policy)(nil)

// Load reads and parses the policy file at path.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

// Parse builds a policy from YAML and validates every glob.
func Parse(data []byte) (*Policy, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	return New(r)
}

// New validates r and returns a policy for it.
func New(r Rules) (*Policy, error) {
	normalize := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	r.Skip.Schemes = normalize(r.Skip.Schemes)
	r.Skip.Hosts = normalize(r.Skip.Hosts)
	r.Skip.URLs = normalize(r.Skip.URLs)
	r.Skip.ServiceWorkerHosts = normalize(r.Skip.ServiceWorkerHosts)

	for _, group := range [][]string{r.Skip.Hosts, r.Skip.URLs, r.Skip.ServiceWorkerHosts} {
		for _, pattern := range group {
			if !doublestar.ValidatePattern(pattern) {
				return nil, fmt.Errorf("invalid pattern %q", pattern)
			}
		}
	}
	return &Policy{rules: r}, nil
}

// Empty returns a policy that never skips.
func Empty() *Policy { return &Policy{} }

// Rules returns the normalized rules.
func (p *Policy) Rules() Rules { return p.rules }

// ShouldSkipRequestCheck reports whether the chain starting at u bypasses
// checking.
func (p *Policy) ShouldSkipRequestCheck(u *url.URL, originatedFromServiceWorker bool) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	for _, s := range p.rules.Skip.Schemes {
		if s == scheme {
			return true
		}
	}
	host := strings.TrimRight(strings.ToLower(u.Hostname()), ".")
	if matchAny(p.rules.Skip.Hosts, host) {
		return true
	}
	if originatedFromServiceWorker && matchAny(p.rules.Skip.ServiceWorkerHosts, host) {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return matchAny(p.rules.Skip.URLs, host+path)
}

func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		// Patterns were validated at construction.
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
