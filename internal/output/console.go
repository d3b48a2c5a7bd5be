package output

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/selimozcann/RedirectGuard/internal/model"
)

// Printer writes color-coded results to a terminal.
type Printer struct {
	w         io.Writer
	summary   bool
	onlyRisky bool

	mu     sync.Mutex
	green  *color.Color
	yellow *color.Color
	red    *color.Color
	gray   *color.Color
	bold   *color.Color
}

// PrinterOptions controls what a Printer shows.
type PrinterOptions struct {
	// Summary prints one line per target instead of the full chain.
	Summary bool
	// OnlyRisky hides targets that loaded safely.
	OnlyRisky bool
	NoColor   bool
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer, opts PrinterOptions) *Printer {
	p := &Printer{
		w:         w,
		summary:   opts.Summary,
		onlyRisky: opts.OnlyRisky,
		green:     color.New(color.FgGreen),
		yellow:    color.New(color.FgYellow),
		red:       color.New(color.FgRed, color.Bold),
		gray:      color.New(color.FgHiBlack),
		bold:      color.New(color.Bold),
	}
	if opts.NoColor {
		for _, c := range []*color.Color{p.green, p.yellow, p.red, p.gray, p.bold} {
			c.DisableColor()
		}
	}
	return p
}

func (p *Printer) colorFor(status int) *color.Color {
	switch {
	case status == 0:
		return p.gray
	case status >= 300 && status < 400:
		return p.green
	case status == http.StatusOK:
		return p.yellow
	case status >= 400:
		return p.red
	default:
		return p.yellow
	}
}

func (p *Printer) outcomeColor(o Outcome) *color.Color {
	switch o {
	case OutcomeBlocked:
		return p.red
	case OutcomeError, OutcomeAdopted, OutcomeDeferred:
		return p.yellow
	case OutcomeSkipped:
		return p.gray
	default:
		return p.green
	}
}

// Status returns a colorized status code string.
func (p *Printer) Status(status int) string {
	if status == 0 {
		return p.gray.Sprint("-")
	}
	return p.colorFor(status).Sprint(status)
}

// PrintResult prints one target. idx is zero based.
func (p *Printer) PrintResult(idx, total int, res model.Result) {
	outcome := DetermineOutcome(res)
	if p.onlyRisky && (outcome == OutcomeSafe || outcome == OutcomeSkipped) {
		return
	}
	finalURL, status, size := finalHop(res)

	p.mu.Lock()
	defer p.mu.Unlock()

	tag := p.outcomeColor(outcome).Sprint(strings.ToUpper(string(outcome)))
	if p.summary {
		fmt.Fprintf(p.w, "[%d/%d] %s -> %s | %s | status=%s | deferred=%dms | duration=%dms\n",
			idx+1, total, res.Target, finalURL, tag, p.Status(status), res.DeferredMs, res.DurationMs)
		if res.Error != "" {
			fmt.Fprintf(p.w, "    error: %s\n", res.Error)
		}
		return
	}

	p.bold.Fprintf(p.w, "=== Target %d/%d ===\n", idx+1, total)
	for _, h := range res.Chain {
		fmt.Fprintf(p.w, "[%d] %s %s (%s) via %s\n", h.Index, h.URL, p.Status(h.Status), h.Method, h.Via)
	}
	fmt.Fprintf(p.w, "Final: %s (status %s, %d bytes) %s\n", finalURL, p.Status(status), size, tag)
	if len(res.Verdicts) > 0 {
		fmt.Fprintln(p.w, "Verdicts:")
		for _, v := range res.Verdicts {
			p.printVerdict(v)
		}
	}
	if res.Blocked {
		p.red.Fprintf(p.w, "Blocked with code %d\n", res.CancelCode)
	}
	if res.Adopted {
		p.yellow.Fprintln(p.w, "Checks still running, warnings may follow")
	}
	if res.ClientNext != "" {
		fmt.Fprintf(p.w, "Client redirect: %s\n", res.ClientNext)
	}
	if res.Error != "" {
		fmt.Fprintf(p.w, "Error: %s\n", res.Error)
	}
	fmt.Fprintf(p.w, "Duration: %dms (deferred %dms)\n\n", res.DurationMs, res.DeferredMs)
}

func (p *Printer) printVerdict(v model.VerdictRecord) {
	line := fmt.Sprintf("  - %s [%s]", v.URL, v.Kind)
	if v.Slow {
		line += " slow"
	}
	switch {
	case !v.Proceed:
		p.red.Fprintf(p.w, "%s %s\n", line, v.Threat)
	case v.Error != "":
		p.yellow.Fprintf(p.w, "%s proceed (%s)\n", line, v.Error)
	default:
		p.green.Fprintf(p.w, "%s safe\n", line)
	}
}

// PrintSummary prints run-wide counters.
func (p *Printer) PrintSummary(sum Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "targets=%d safe=%s blocked=%s deferred=%d adopted=%d skipped=%d errors=%d\n",
		sum.TotalTargets, p.green.Sprint(sum.Safe), p.red.Sprint(sum.Blocked),
		sum.Deferred, sum.Adopted, sum.Skipped, sum.Errors)
	threats := make([]string, 0, len(sum.Threats))
	for t := range sum.Threats {
		threats = append(threats, string(t))
	}
	sort.Strings(threats)
	for _, t := range threats {
		fmt.Fprintf(p.w, "  %s: %d\n", t, sum.Threats[model.ThreatType(t)])
	}
}
