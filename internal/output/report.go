package output

import (
	"fmt"
	"html/template"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/selimozcann/RedirectGuard/internal/model"
)

// Outcome enumerates how a target's load ended.
type Outcome string

const (
	OutcomeSafe     Outcome = "safe"
	OutcomeDeferred Outcome = "deferred"
	OutcomeAdopted  Outcome = "adopted"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeBlocked  Outcome = "blocked"
	OutcomeError    Outcome = "error"
)

// Record represents one line in the JSONL report.
type Record struct {
	Timestamp     string                `json:"timestamp"`
	InputURL      string                `json:"input_url"`
	DocumentID    string                `json:"document_id"`
	FinalURL      string                `json:"final_url"`
	Outcome       Outcome               `json:"outcome"`
	RedirectChain []string              `json:"redirect_chain"`
	StatusCode    int                   `json:"status_code"`
	RespLen       int64                 `json:"resp_len"`
	DurationMs    int64                 `json:"duration_ms"`
	DeferredMs    int64                 `json:"deferred_ms"`
	Blocked       bool                  `json:"blocked"`
	CancelCode    int                   `json:"cancel_code,omitempty"`
	Adopted       bool                  `json:"adopted,omitempty"`
	Verdicts      []model.VerdictRecord `json:"verdicts,omitempty"`
	ClientNext    string                `json:"client_next,omitempty"`
	Error         string                `json:"error,omitempty"`
}

// Summary contains run-wide counters.
type Summary struct {
	TotalTargets int
	Safe         int
	Blocked      int
	Deferred     int
	Adopted      int
	Skipped      int
	Errors       int
	// Threats counts unsafe verdicts per threat type.
	Threats map[model.ThreatType]int
}

// ResultView is used by the HTML template with pre-computed fields.
type ResultView struct {
	Index      int
	Timestamp  time.Time
	InputURL   string
	FinalURL   string
	Outcome    Outcome
	StatusCode int
	RespLen    int64
	DurationMs int64
	DeferredMs int64
	CancelCode int
	Verdicts   []model.VerdictRecord
	Chain      []model.Hop
	Error      string
}

// PageData provides the full context for the HTML report.
type PageData struct {
	Title         string
	GeneratedAt   time.Time
	Params        map[string]string
	OrderedParams []Param
	Summary       Summary
	Results       []ResultView
}

// Param represents a rendered CLI argument/value pair.
type Param struct {
	Key   string
	Value string
}

func finalHop(res model.Result) (finalURL string, status int, size int64) {
	finalURL = res.Target
	if len(res.Chain) > 0 {
		last := res.Chain[len(res.Chain)-1]
		finalURL, status, size = last.URL, last.Status, last.Size
	}
	return finalURL, status, size
}

// BuildRecord converts a model.Result into a Record for JSONL output.
func BuildRecord(res model.Result) Record {
	finalURL, status, size := finalHop(res)
	chain := make([]string, len(res.Chain))
	for i, hop := range res.Chain {
		chain[i] = hop.URL
	}
	return Record{
		Timestamp:     res.StartedAt.UTC().Format(time.RFC3339),
		InputURL:      res.Target,
		DocumentID:    res.DocumentID,
		FinalURL:      finalURL,
		Outcome:       DetermineOutcome(res),
		RedirectChain: chain,
		StatusCode:    status,
		RespLen:       size,
		DurationMs:    res.DurationMs,
		DeferredMs:    res.DeferredMs,
		Blocked:       res.Blocked,
		CancelCode:    res.CancelCode,
		Adopted:       res.Adopted,
		Verdicts:      append([]model.VerdictRecord(nil), res.Verdicts...),
		ClientNext:    res.ClientNext,
		Error:         res.Error,
	}
}

// BuildResultView converts a model.Result into a ResultView for HTML rendering.
func BuildResultView(idx int, res model.Result) ResultView {
	finalURL, status, size := finalHop(res)
	return ResultView{
		Index:      idx,
		Timestamp:  res.StartedAt,
		InputURL:   res.Target,
		FinalURL:   finalURL,
		Outcome:    DetermineOutcome(res),
		StatusCode: status,
		RespLen:    size,
		DurationMs: res.DurationMs,
		DeferredMs: res.DeferredMs,
		CancelCode: res.CancelCode,
		Verdicts:   append([]model.VerdictRecord(nil), res.Verdicts...),
		Chain:      append([]model.Hop(nil), res.Chain...),
		Error:      res.Error,
	}
}

// BuildSummary derives high level counters from the results.
func BuildSummary(results []model.Result) Summary {
	sum := Summary{TotalTargets: len(results), Threats: map[model.ThreatType]int{}}
	for _, res := range results {
		switch DetermineOutcome(res) {
		case OutcomeSafe:
			sum.Safe++
		case OutcomeBlocked:
			sum.Blocked++
		case OutcomeDeferred:
			sum.Deferred++
		case OutcomeAdopted:
			sum.Adopted++
		case OutcomeSkipped:
			sum.Skipped++
		case OutcomeError:
			sum.Errors++
		}
		for _, v := range res.Verdicts {
			if !v.Proceed && v.Threat != model.ThreatNone {
				sum.Threats[v.Threat]++
			}
		}
	}
	return sum
}

// DetermineOutcome classifies the given result. A block wins over any error
// the cancellation produced.
func DetermineOutcome(res model.Result) Outcome {
	switch {
	case res.Blocked:
		return OutcomeBlocked
	case res.Error != "":
		return OutcomeError
	case res.Adopted:
		return OutcomeAdopted
	case res.Deferred:
		return OutcomeDeferred
	case !anyChecked(res.Verdicts):
		return OutcomeSkipped
	default:
		return OutcomeSafe
	}
}

func anyChecked(verdicts []model.VerdictRecord) bool {
	for _, v := range verdicts {
		if v.Kind.Performed() {
			return true
		}
	}
	return false
}

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"formatTime": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
	"join":       strings.Join,
	"verdict": func(v model.VerdictRecord) string {
		if v.Proceed {
			return fmt.Sprintf("safe (%s)", v.Kind)
		}
		return fmt.Sprintf("%s (%s)", v.Threat, v.Kind)
	},
}).Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
:root { color-scheme: light dark; }
body { font-family: system-ui, -apple-system, Segoe UI, Roboto, sans-serif; margin: 24px; background:#fafafa; color:#111; }
h1 { font-size: 26px; margin: 0 0 8px; }
.section { border:1px solid #e5e7eb; border-radius:16px; padding:16px 20px; margin-bottom:18px; background:#fff; }
h2 { font-size:20px; margin:0 0 12px; }
h3 { font-size:16px; margin:12px 0 6px; }
dt { font-weight:600; }
dd { margin:0 0 8px 0; }
.summary-grid { display:grid; gap:12px; grid-template-columns: repeat(auto-fit,minmax(160px,1fr)); }
.summary-card { padding:12px; border-radius:12px; border:1px solid #cbd5f5; }
.summary-card .badge { float:right; padding:2px 10px; border-radius:999px; background:#4f46e5; color:#fff; font-size:12px; }
.meta { color:#6b7280; font-size:12px; }
.row { border-top:1px solid #e5e7eb; padding-top:12px; margin-top:12px; }
.outcome-blocked { color:#b91c1c; }
.outcome-error { color:#b45309; }
.table { width:100%; border-collapse:collapse; font-size:14px; }
.table th, .table td { border-bottom:1px solid #e5e7eb; padding:6px 8px; text-align:left; }
.mono { font-family: ui-monospace, SFMono-Regular, Menlo, Consolas, monospace; font-size:13px; }
</style>
</head>
<body>
<header>
  <h1>{{.Title}}</h1>
  <p class="meta">Generated at {{formatTime .GeneratedAt}}</p>
</header>
<section id="summary" class="section">
  <h2>Summary</h2>
  <div class="summary-grid">
    <div class="summary-card"><strong>Targets</strong><span class="badge">{{.Summary.TotalTargets}}</span></div>
    <div class="summary-card"><strong>Safe</strong><span class="badge">{{.Summary.Safe}}</span></div>
    <div class="summary-card"><strong>Blocked</strong><span class="badge">{{.Summary.Blocked}}</span></div>
    <div class="summary-card"><strong>Deferred</strong><span class="badge">{{.Summary.Deferred}}</span></div>
    <div class="summary-card"><strong>Adopted</strong><span class="badge">{{.Summary.Adopted}}</span></div>
    <div class="summary-card"><strong>Errors</strong><span class="badge">{{.Summary.Errors}}</span></div>
  </div>
</section>
<section id="parameters" class="section">
  <h2>Parameters</h2>
  <dl>
  {{- range .OrderedParams }}
    <dt>{{.Key}}</dt>
    <dd><span class="mono">{{.Value}}</span></dd>
  {{- end }}
  </dl>
</section>
<section id="results" class="section">
  <h2>Results</h2>
  {{range .Results}}
  <div class="row">
    <h3>{{.InputURL}} <span class="outcome-{{.Outcome}}">{{.Outcome}}</span></h3>
    <p class="meta">Final <span class="mono">{{.FinalURL}}</span> status {{.StatusCode}}{{if .CancelCode}} cancel {{.CancelCode}}{{end}}</p>
    {{if .Error}}<p class="meta">Error: {{.Error}}</p>{{end}}
    {{if .Verdicts}}
    <ul>
      {{range .Verdicts}}<li><span class="mono">{{.URL}}</span>: {{verdict .}}{{if .Slow}} <span class="meta">slow</span>{{end}}</li>{{end}}
    </ul>
    {{end}}
    <table class="table">
      <thead><tr><th>#</th><th>URL</th><th>Method</th><th>Status</th><th>Via</th><th>Time (ms)</th></tr></thead>
      <tbody>
      {{range .Chain}}<tr><td>{{.Index}}</td><td class="mono">{{.URL}}</td><td>{{.Method}}</td><td>{{.Status}}</td><td>{{.Via}}</td><td>{{.TimeMs}}</td></tr>{{end}}
      </tbody>
    </table>
    <p class="meta">Duration {{.DurationMs}}ms, deferred {{.DeferredMs}}ms, started {{formatTime .Timestamp}}</p>
  </div>
  {{end}}
</section>
</body>
</html>
`))

// RenderHTML renders the HTML report using the provided data.
func RenderHTML(w io.Writer, data PageData) error {
	if data.Params != nil {
		keys := make([]string, 0, len(data.Params))
		for k := range data.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make([]Param, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, Param{Key: k, Value: data.Params[k]})
		}
		data.OrderedParams = ordered
	}
	return htmlTemplate.Execute(w, data)
}
