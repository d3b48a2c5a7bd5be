// Package ui shows safety warnings bound to a document.
package ui

import (
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/selimozcann/RedirectGuard/internal/logging"
	"github.com/selimozcann/RedirectGuard/internal/safebrowsing"
)

const interstitialTpl = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Dangerous site blocked</title></head>
<body>
<h1>The site ahead may be harmful</h1>
<p><strong>{{.URL}}</strong> was flagged as {{.Threat}} by the {{.Kind}} check.</p>
{{if .Reason}}<p>{{.Reason}}</p>{{end}}
<p><small>document {{.DocumentID}} &middot; request {{.RequestID}} &middot; {{.At}}</small></p>
</body></html>
`

var interstitial = template.Must(template.New("interstitial").Parse(interstitialTpl))

type pageData struct {
	URL        string
	Threat     string
	Kind       string
	Reason     template.HTML
	DocumentID string
	RequestID  string
	At         string
}

// Console prints warnings to a terminal and optionally renders an HTML
// interstitial per warning. It is safe for concurrent use.
type Console struct {
	out       io.Writer
	dir       string
	sanitizer *bluemonday.Policy
	log       *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	displayed []safebrowsing.BlockingPage
	rendered  []string
}

var _ safebrowsing.UIManager = (*Console)(nil)

// NewConsole writes warnings to out. When dir is non-empty an HTML page is
// rendered there for each warning.
func NewConsole(out io.Writer, dir string, log *zap.Logger) *Console {
	if out == nil {
		out = io.Discard
	}
	return &Console{
		out:       out,
		dir:       dir,
		sanitizer: bluemonday.UGCPolicy(),
		log:       logging.OrNop(log).Named("ui"),
		now:       time.Now,
	}
}

// DisplayBlockingPage shows the warning for page.
func (c *Console) DisplayBlockingPage(documentID string, page safebrowsing.BlockingPage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.displayed = append(c.displayed, page)

	red := color.New(color.FgRed, color.Bold)
	_, _ = red.Fprintf(c.out, "[!] BLOCKED %s", page.URL)
	_, _ = fmt.Fprintf(c.out, " threat=%s check=%s document=%s\n", page.Threat, page.Kind, documentID)

	if c.dir == "" {
		return
	}
	path, err := c.render(documentID, page)
	if err != nil {
		c.log.Error("render interstitial", zap.String("document_id", documentID), zap.Error(err))
		return
	}
	c.rendered = append(c.rendered, path)
}

// Displayed returns every page shown so far.
func (c *Console) Displayed() []safebrowsing.BlockingPage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]safebrowsing.BlockingPage(nil), c.displayed...)
}

// Rendered returns the paths of the HTML pages written so far.
func (c *Console) Rendered() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.rendered...)
}

func (c *Console) render(documentID string, page safebrowsing.BlockingPage) (string, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("create interstitial dir: %w", err)
	}
	name := fmt.Sprintf("%s-%03d.html", documentID, len(c.displayed))
	path := filepath.Join(c.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create interstitial: %w", err)
	}
	defer func() { _ = f.Close() }()

	data := pageData{
		URL:        page.URL,
		Threat:     string(page.Threat),
		Kind:       string(page.Kind),
		Reason:     template.HTML(c.sanitizer.Sanitize(page.Reason)),
		DocumentID: documentID,
		RequestID:  page.RequestID,
		At:         c.now().UTC().Format(time.RFC3339),
	}
	if err := interstitial.Execute(f, data); err != nil {
		return "", fmt.Errorf("render interstitial: %w", err)
	}
	return path, nil
}
