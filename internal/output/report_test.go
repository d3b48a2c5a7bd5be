package output_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selimozcann/RedirectGuard/internal/model"
	"github.com/selimozcann/RedirectGuard/internal/output"
)

func blockedResult() model.Result {
	return model.Result{
		Target:     "https://example.com/start",
		DocumentID: "doc-1",
		Chain: []model.Hop{
			{Index: 0, URL: "https://example.com/start", Method: "GET", Status: 302, Via: "http-location", TimeMs: 10, Size: 128},
			{Index: 1, URL: "https://evil.test/login", Method: "GET", Status: 200, Via: "http-location", TimeMs: 25, Size: 456, Final: true},
		},
		Verdicts: []model.VerdictRecord{
			{URL: "https://example.com/start", Proceed: true, Kind: model.CheckHashDatabase},
			{URL: "https://evil.test/login", Proceed: false, ShowedInterstitial: true, Kind: model.CheckURLRealTime, Threat: model.ThreatSocialEngineering, Slow: true},
		},
		Blocked:    true,
		CancelCode: -20,
		Deferred:   true,
		DeferredMs: 40,
		StartedAt:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		DurationMs: 123,
	}
}

func TestWriteJSONL(t *testing.T) {
	record := output.BuildRecord(blockedResult())
	var buf bytes.Buffer
	require.NoError(t, output.WriteJSONL(&buf, []output.Record{record, record}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var got output.Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, output.OutcomeBlocked, got.Outcome)
	assert.Equal(t, "https://evil.test/login", got.FinalURL)
	assert.Equal(t, []string{"https://example.com/start", "https://evil.test/login"}, got.RedirectChain)
	assert.Equal(t, -20, got.CancelCode)
	assert.Equal(t, int64(40), got.DeferredMs)
	assert.Equal(t, "2024-01-02T03:04:05Z", got.Timestamp)
	require.Len(t, got.Verdicts, 2)
	assert.Equal(t, model.ThreatSocialEngineering, got.Verdicts[1].Threat)
	assert.True(t, got.Verdicts[1].Slow)
}

func TestJSONLWriterConcurrent(t *testing.T) {
	var buf bytes.Buffer
	w := output.NewJSONLWriter(&buf)
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			assert.NoError(t, w.Write(output.Record{InputURL: "https://example.com/"}))
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	require.NoError(t, w.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 8)
	for _, line := range lines {
		var rec output.Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		assert.Equal(t, "https://example.com/", rec.InputURL)
	}
}

func TestDetermineOutcome(t *testing.T) {
	t.Parallel()
	checked := []model.VerdictRecord{{URL: "https://a.test/", Proceed: true, Kind: model.CheckHashDatabase}}
	skipped := []model.VerdictRecord{{URL: "https://a.test/", Proceed: true, Kind: model.CheckSkipped}}
	tests := []struct {
		name string
		res  model.Result
		want output.Outcome
	}{
		{name: "safe", res: model.Result{Verdicts: checked}, want: output.OutcomeSafe},
		{name: "noVerdicts", res: model.Result{}, want: output.OutcomeSkipped},
		{name: "onlySkipped", res: model.Result{Verdicts: skipped}, want: output.OutcomeSkipped},
		{name: "deferred", res: model.Result{Verdicts: checked, Deferred: true}, want: output.OutcomeDeferred},
		{name: "adopted", res: model.Result{Verdicts: checked, Deferred: true, Adopted: true}, want: output.OutcomeAdopted},
		{name: "error", res: model.Result{Error: "dial tcp: refused"}, want: output.OutcomeError},
		{name: "blockedWinsOverError", res: model.Result{Blocked: true, Error: "load cancelled"}, want: output.OutcomeBlocked},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, output.DetermineOutcome(tc.res))
		})
	}
}

func TestBuildSummary(t *testing.T) {
	results := []model.Result{
		blockedResult(),
		{Verdicts: []model.VerdictRecord{{Proceed: true, Kind: model.CheckHashDatabase}}},
		{Error: "timeout"},
		{},
	}
	sum := output.BuildSummary(results)
	assert.Equal(t, 4, sum.TotalTargets)
	assert.Equal(t, 1, sum.Blocked)
	assert.Equal(t, 1, sum.Safe)
	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, map[model.ThreatType]int{model.ThreatSocialEngineering: 1}, sum.Threats)
}

func TestRenderHTML(t *testing.T) {
	res := blockedResult()
	page := output.PageData{
		Title:       "Test Report",
		GeneratedAt: res.StartedAt,
		Params: map[string]string{
			"threads": "10",
			"target":  "https://example.com/start",
		},
		Summary: output.BuildSummary([]model.Result{res}),
		Results: []output.ResultView{output.BuildResultView(0, res)},
	}

	var buf bytes.Buffer
	require.NoError(t, output.RenderHTML(&buf, page))
	html := buf.String()

	assert.Contains(t, html, "Test Report")
	assert.Contains(t, html, "https://evil.test/login")
	assert.Contains(t, html, "SOCIAL_ENGINEERING (url_real_time)")
	assert.Contains(t, html, "cancel -20")
	assert.Less(t, strings.Index(html, "<dt>target</dt>"), strings.Index(html, "<dt>threads</dt>"))
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := output.NewPrinter(&buf, output.PrinterOptions{NoColor: true})
	p.PrintResult(0, 1, blockedResult())
	out := buf.String()

	assert.Contains(t, out, "=== Target 1/1 ===")
	assert.Contains(t, out, "[1] https://evil.test/login 200 (GET) via http-location")
	assert.Contains(t, out, "https://evil.test/login [url_real_time] slow SOCIAL_ENGINEERING")
	assert.Contains(t, out, "Blocked with code -20")
	assert.Contains(t, out, "BLOCKED")
}

func TestPrinterSummaryAndOnlyRisky(t *testing.T) {
	var buf bytes.Buffer
	p := output.NewPrinter(&buf, output.PrinterOptions{Summary: true, OnlyRisky: true, NoColor: true})
	p.PrintResult(0, 2, model.Result{Target: "https://safe.test/", Verdicts: []model.VerdictRecord{{Proceed: true, Kind: model.CheckHashDatabase}}})
	assert.Empty(t, buf.String())

	p.PrintResult(1, 2, blockedResult())
	assert.Equal(t,
		"[2/2] https://example.com/start -> https://evil.test/login | BLOCKED | status=200 | deferred=40ms | duration=123ms\n",
		buf.String())

	buf.Reset()
	p.PrintSummary(output.BuildSummary([]model.Result{blockedResult()}))
	assert.Contains(t, buf.String(), "targets=1 safe=0 blocked=1")
	assert.Contains(t, buf.String(), "SOCIAL_ENGINEERING: 1")
}
