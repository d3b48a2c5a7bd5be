package safebrowsing

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/selimozcann/RedirectGuard/internal/model"
)

type oracleCall struct {
	q  model.CheckQuery
	cb CheckCallbacks
}

type fakeOracle struct {
	calls []*oracleCall
	// instant, when set, completes every check synchronously with this verdict.
	instant *model.Verdict
}

func (o *fakeOracle) CheckURL(q model.CheckQuery, cb CheckCallbacks) {
	o.calls = append(o.calls, &oracleCall{q: q, cb: cb})
	if o.instant != nil {
		cb.OnComplete(*o.instant)
	}
}

func (o *fakeOracle) complete(t *testing.T, i int, v model.Verdict) {
	t.Helper()
	require.Less(t, i, len(o.calls), "no oracle call %d", i)
	o.calls[i].cb.OnComplete(v)
}

func (o *fakeOracle) slow(t *testing.T, i int) {
	t.Helper()
	require.Less(t, i, len(o.calls), "no oracle call %d", i)
	o.calls[i].cb.OnSlowCheck()
}

func safe() model.Verdict {
	return model.Verdict{Proceed: true, Kind: model.CheckHashDatabase}
}

func unsafe(showed bool) model.Verdict {
	return model.Verdict{
		Proceed:            false,
		ShowedInterstitial: showed,
		Kind:               model.CheckURLRealTime,
		Threat:             model.ThreatSocialEngineering,
	}
}

type cancelCall struct {
	code   int
	reason string
}

type fakeDelegate struct {
	resumes     int
	cancels     []cancelCall
	pauses      int
	bodyResumes int
}

func (d *fakeDelegate) Resume() { d.resumes++ }

func (d *fakeDelegate) CancelWithError(code int, reason string) {
	d.cancels = append(d.cancels, cancelCall{code: code, reason: reason})
}

func (d *fakeDelegate) PauseReadingBodyFromNet()  { d.pauses++ }
func (d *fakeDelegate) ResumeReadingBodyFromNet() { d.bodyResumes++ }

type fakePolicy struct {
	skip   bool
	calls  int
	fromSW []bool
}

func (p *fakePolicy) ShouldSkipRequestCheck(_ *url.URL, originatedFromServiceWorker bool) bool {
	p.calls++
	p.fromSW = append(p.fromSW, originatedFromServiceWorker)
	return p.skip
}

type fakeUI struct {
	pages []BlockingPage
}

func (u *fakeUI) DisplayBlockingPage(_ string, page BlockingPage) {
	u.pages = append(u.pages, page)
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func request(t *testing.T, raw string) model.Request {
	t.Helper()
	return model.Request{
		ID:          "req-1",
		DocumentID:  "doc-1",
		URL:         mustURL(t, raw),
		Method:      "GET",
		Destination: model.DestinationDocument,
	}
}

func redirect(t *testing.T, raw string) model.Redirect {
	t.Helper()
	return model.Redirect{NewURL: mustURL(t, raw), NewMethod: "GET", StatusCode: 302}
}

func response(t *testing.T, raw string) model.Response {
	t.Helper()
	return model.Response{URL: mustURL(t, raw), StatusCode: 200}
}

type harness struct {
	gate     *LoadGate
	oracle   *fakeOracle
	delegate *fakeDelegate
	policy   *fakePolicy
}

func newHarness(t *testing.T, mutate func(*GateOptions)) *harness {
	t.Helper()
	h := &harness{
		oracle:   &fakeOracle{},
		delegate: &fakeDelegate{},
		policy:   &fakePolicy{},
	}
	opts := GateOptions{
		Config:   DefaultConfig(),
		Delegate: h.delegate,
		Oracle:   h.oracle,
		Policy:   h.policy,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.gate = NewLoadGate(opts)
	return h
}
