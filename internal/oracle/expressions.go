package oracle

import (
	"crypto/sha256"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

const (
	maxHostExpressions = 5
	maxPathExpressions = 6
	hashPrefixLen      = 4
)

// URLExpressions returns the host-suffix/path-prefix combinations looked up
// for u, most specific first.
func URLExpressions(u *url.URL) []string {
	hosts := hostSuffixes(u)
	paths := pathPrefixes(u)
	out := make([]string, 0, len(hosts)*len(paths))
	for _, h := range hosts {
		for _, p := range paths {
			out = append(out, h+p)
		}
	}
	return out
}

// FullHash is the SHA-256 of a URL expression.
func FullHash(expr string) []byte {
	sum := sha256.Sum256([]byte(expr))
	return sum[:]
}

// HashPrefix returns the leading bytes of a full hash used as the index key.
func HashPrefix(full []byte) []byte {
	if len(full) < hashPrefixLen {
		return full
	}
	return full[:hashPrefixLen]
}

// RegistrableDomain returns the eTLD+1 of the URL host, or the host itself
// when it has none (IP literals, single-label hosts).
func RegistrableDomain(u *url.URL) string {
	host := canonicalHost(u)
	if net.ParseIP(host) != nil {
		return host
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}

func canonicalHost(u *url.URL) string {
	return strings.TrimRight(strings.ToLower(u.Hostname()), ".")
}

func hostSuffixes(u *url.URL) []string {
	host := canonicalHost(u)
	if host == "" {
		return nil
	}
	if net.ParseIP(host) != nil {
		return []string{host}
	}
	out := []string{host}
	floor := RegistrableDomain(u)
	labels := strings.Split(host, ".")
	// At most the last five labels take part, the exact host aside.
	start := 1
	if len(labels) > maxHostExpressions {
		start = len(labels) - maxHostExpressions
	}
	for i := start; i < len(labels) && len(out) < maxHostExpressions; i++ {
		suffix := strings.Join(labels[i:], ".")
		if len(suffix) < len(floor) {
			break
		}
		if suffix != host {
			out = append(out, suffix)
		}
	}
	return out
}

func pathPrefixes(u *url.URL) []string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	var out []string
	add := func(p string) {
		for _, seen := range out {
			if seen == p {
				return
			}
		}
		out = append(out, p)
	}
	if u.RawQuery != "" {
		add(path + "?" + u.RawQuery)
	}
	add(path)
	add("/")

	segments := strings.Split(strings.Trim(path, "/"), "/")
	prefix := "/"
	for _, s := range segments[:max(0, len(segments)-1)] {
		if len(out) >= maxPathExpressions || s == "" {
			break
		}
		prefix += s + "/"
		add(prefix)
	}
	if len(out) > maxPathExpressions {
		out = out[:maxPathExpressions]
	}
	return out
}
