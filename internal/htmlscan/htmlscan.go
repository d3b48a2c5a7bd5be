// Package htmlscan finds client-side redirects in HTML documents.
package htmlscan

import (
	"bytes"
	"io"
	"mime"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Via values reported for client-side redirects.
const (
	ViaMetaRefresh = "meta-refresh"
	ViaJS          = "js"
)

var jsRedirectRe = regexp.MustCompile(`(?i)(?:window\.|document\.|top\.)?location(?:\.href)?\s*=\s*['"]([^'"#]+)['"]|location\.(?:replace|assign)\(\s*['"]([^'"#]+)['"]\s*\)`)

// ShouldFetchBody reports whether the content type is HTML.
func ShouldFetchBody(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.Contains(strings.ToLower(ct), "text/html")
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

// DetectRedirect inspects body for a meta refresh or a script assigning the
// location. It returns the resolved target and the mechanism used.
func DetectRedirect(body []byte, base *url.URL) (next *url.URL, via string, ok bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, "", false
	}

	doc.Find("meta[http-equiv]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		equiv, _ := s.Attr("http-equiv")
		if !strings.EqualFold(strings.TrimSpace(equiv), "refresh") {
			return true
		}
		content, _ := s.Attr("content")
		target, found := refreshTarget(content)
		if !found {
			return true
		}
		if u, err := url.Parse(target); err == nil {
			next, via, ok = base.ResolveReference(u), ViaMetaRefresh, true
			return false
		}
		return true
	})
	if ok {
		return next, via, ok
	}

	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		m := jsRedirectRe.FindStringSubmatch(s.Text())
		if m == nil {
			return true
		}
		target := m[1]
		if target == "" {
			target = m[2]
		}
		if u, err := url.Parse(strings.TrimSpace(target)); err == nil {
			next, via, ok = base.ResolveReference(u), ViaJS, true
			return false
		}
		return true
	})
	return next, via, ok
}

// refreshTarget extracts the URL from a refresh value such as
// `0; url='/next'`.
func refreshTarget(content string) (string, bool) {
	_, rest, found := strings.Cut(content, ";")
	if !found {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	if len(rest) < 4 || !strings.EqualFold(rest[:3], "url") {
		return "", false
	}
	rest = strings.TrimSpace(rest[3:])
	rest, found = strings.CutPrefix(rest, "=")
	if !found {
		return "", false
	}
	rest = strings.Trim(strings.TrimSpace(rest), `'"`)
	return rest, rest != ""
}

// ReadAndDetect reads up to limit bytes from r and runs DetectRedirect.
func ReadAndDetect(r io.Reader, limit int64, base *url.URL) (next *url.URL, via string, body []byte, ok bool) {
	body, _ = io.ReadAll(io.LimitReader(r, limit))
	next, via, ok = DetectRedirect(body, base)
	return next, via, body, ok
}
