package oracle

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/selimozcann/RedirectGuard/internal/model"
)

var defaultPrivateCIDRs = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

// Heuristics flags URLs that are unsafe without consulting any list.
type Heuristics struct {
	privateNets      []*net.IPNet
	internalSuffixes []string
}

// NewHeuristics parses cidrs as the private address space. Invalid entries
// are skipped.
func NewHeuristics(cidrs []string, internalSuffixes []string) *Heuristics {
	h := &Heuristics{}
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			continue
		}
		h.privateNets = append(h.privateNets, n)
	}
	for _, s := range internalSuffixes {
		h.internalSuffixes = append(h.internalSuffixes, strings.ToLower(s))
	}
	return h
}

// DefaultHeuristics covers loopback, link-local and RFC 1918 space.
func DefaultHeuristics() *Heuristics {
	return NewHeuristics(defaultPrivateCIDRs, []string{".internal", ".local", ".localhost"})
}

// IsInternalHost reports whether host is loopback or private.
func (h *Heuristics) IsInternalHost(host string) bool {
	host = strings.TrimRight(strings.ToLower(host), ".")
	if host == "localhost" {
		return true
	}
	for _, s := range h.internalSuffixes {
		if strings.HasSuffix(host, s) {
			return true
		}
	}
	if ip := net.ParseIP(host); ip != nil {
		for _, n := range h.privateNets {
			if n.Contains(ip) {
				return true
			}
		}
	}
	return false
}

// Check returns the threat q's URL poses on its face, if any.
func (h *Heuristics) Check(q model.CheckQuery) (threat model.ThreatType, reason string, ok bool) {
	u := q.URL
	if u == nil {
		return model.ThreatNone, "", false
	}
	if spoofed, user := credentialSpoofsHost(u); spoofed {
		return model.ThreatCredentialInURL, "userinfo " + user + " disguises host " + u.Hostname(), true
	}
	// A public page may not bounce the load into the private network. Loads
	// that start there are the user's own business.
	if q.RedirectIndex > 0 && h.IsInternalHost(u.Hostname()) {
		return model.ThreatSSRF, "redirect into internal host " + u.Host, true
	}
	return model.ThreatNone, "", false
}

func credentialSpoofsHost(u *url.URL) (bool, string) {
	if u.User == nil {
		return false, ""
	}
	user := strings.ToLower(u.User.Username())
	if !strings.Contains(user, ".") {
		return false, ""
	}
	claimed, err := publicsuffix.EffectiveTLDPlusOne(strings.TrimRight(user, "."))
	if err != nil {
		return false, ""
	}
	return claimed != RegistrableDomain(u), user
}
