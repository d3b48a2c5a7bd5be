package oracle

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selimozcann/RedirectGuard/internal/model"
	"github.com/selimozcann/RedirectGuard/internal/safebrowsing"
)

type fakeStore struct {
	threats   map[string]model.ThreatType
	allowed   map[string]bool
	skip      map[string]bool
	lookupErr error
	lookups   int
	mu        sync.Mutex
}

func (s *fakeStore) Lookup(_ context.Context, u *url.URL) (model.ThreatType, error) {
	s.mu.Lock()
	s.lookups++
	s.mu.Unlock()
	if s.lookupErr != nil {
		return model.ThreatNone, s.lookupErr
	}
	return s.threats[u.Host], nil
}

func (s *fakeStore) IsHighConfidenceAllowlisted(_ context.Context, u *url.URL) (bool, error) {
	return s.allowed[u.Host], nil
}

func (s *fakeStore) IsSkipDomain(_ context.Context, u *url.URL) (bool, error) {
	return s.skip[u.Host], nil
}

type fakeRealTime struct {
	threats map[string]model.ThreatType
	full    []FullHashMatch
	block   chan struct{}
}

func (r *fakeRealTime) LookupURL(ctx context.Context, u *url.URL) (model.ThreatType, error) {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return model.ThreatNone, ctx.Err()
		}
	}
	return r.threats[u.Host], nil
}

func (r *fakeRealTime) SearchHashPrefixes(context.Context, [][]byte) ([]FullHashMatch, error) {
	return r.full, nil
}

type recordingUI struct {
	mu    sync.Mutex
	pages []safebrowsing.BlockingPage
}

func (u *recordingUI) DisplayBlockingPage(_ string, p safebrowsing.BlockingPage) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pages = append(u.pages, p)
}

type outcome struct {
	slow    bool
	verdict model.Verdict
}

func runCheck(t *testing.T, m *Manager, q model.CheckQuery) outcome {
	t.Helper()
	done := make(chan outcome, 1)
	var slow bool
	m.CheckURL(q, safebrowsing.CheckCallbacks{
		OnSlowCheck: func() { slow = true },
		OnComplete:  func(v model.Verdict) { done <- outcome{slow: slow, verdict: v} },
	})
	select {
	case o := <-done:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("oracle never completed")
		return outcome{}
	}
}

func query(t *testing.T, raw string) model.CheckQuery {
	return model.CheckQuery{
		RequestID:    "req-1",
		DocumentID:   "doc-1",
		URL:          mustParse(t, raw),
		Method:       "GET",
		Destination:  model.DestinationDocument,
		AllowDBCheck: true,
	}
}

func TestManagerMechanismSelection(t *testing.T) {
	m := NewManager(Options{Store: &fakeStore{}, RealTime: &fakeRealTime{}})
	defer m.Close()

	q := query(t, "https://example.com/")
	kind, err := m.Mechanism(q)
	require.NoError(t, err)
	assert.Equal(t, model.CheckHashDatabase, kind)

	q.HashRealTimeLookupEnabled = true
	kind, _ = m.Mechanism(q)
	assert.Equal(t, model.CheckHashRealTime, kind)

	q.RealTimeLookupEnabled = true
	kind, _ = m.Mechanism(q)
	assert.Equal(t, model.CheckURLRealTime, kind)

	q.Destination = model.DestinationScript
	kind, _ = m.Mechanism(q)
	assert.Equal(t, model.CheckHashDatabase, kind, "subresources stay local without permission")

	q.AllowSubresourceCheck = true
	kind, _ = m.Mechanism(q)
	assert.Equal(t, model.CheckURLRealTime, kind)

	q = query(t, "data:text/plain,hi")
	kind, err = m.Mechanism(q)
	require.NoError(t, err)
	assert.Equal(t, model.CheckSkipped, kind)

	q = query(t, "https://example.com/")
	q.AllowDBCheck = false
	_, err = m.Mechanism(q)
	assert.ErrorIs(t, err, ErrNoMechanism)
}

func TestManagerHashDatabase(t *testing.T) {
	ui := &recordingUI{}
	store := &fakeStore{threats: map[string]model.ThreatType{"evil.example": model.ThreatMalware}}
	m := NewManager(Options{Store: store, UI: ui})
	defer m.Close()

	o := runCheck(t, m, query(t, "https://example.com/"))
	assert.True(t, o.verdict.Proceed)
	assert.Equal(t, model.CheckHashDatabase, o.verdict.Kind)
	assert.False(t, o.slow)

	o = runCheck(t, m, query(t, "https://evil.example/"))
	assert.False(t, o.verdict.Proceed)
	assert.True(t, o.verdict.ShowedInterstitial)
	assert.Equal(t, model.ThreatMalware, o.verdict.Threat)
	require.Len(t, ui.pages, 1)
	assert.Equal(t, "https://evil.example/", ui.pages[0].URL)

	sub := query(t, "https://evil.example/x.js")
	sub.Destination = model.DestinationScript
	o = runCheck(t, m, sub)
	assert.False(t, o.verdict.Proceed)
	assert.False(t, o.verdict.ShowedInterstitial, "subresources are cancelled silently")
	assert.Len(t, ui.pages, 1)
}

func TestManagerURLRealTimeSignalsSlow(t *testing.T) {
	rt := &fakeRealTime{threats: map[string]model.ThreatType{"phish.example": model.ThreatSocialEngineering}}
	m := NewManager(Options{RealTime: rt})
	defer m.Close()

	q := query(t, "https://phish.example/")
	q.RealTimeLookupEnabled = true
	o := runCheck(t, m, q)
	assert.True(t, o.slow)
	assert.False(t, o.verdict.Proceed)
	assert.Equal(t, model.CheckURLRealTime, o.verdict.Kind)
	assert.False(t, o.verdict.ShowedInterstitial)
}

func TestManagerHighConfidenceAllowlistFallsBackToDatabase(t *testing.T) {
	store := &fakeStore{allowed: map[string]bool{"docs.example": true}}
	m := NewManager(Options{Store: store, RealTime: &fakeRealTime{}})
	defer m.Close()

	q := query(t, "https://docs.example/")
	q.RealTimeLookupEnabled = true
	q.AllowHighConfidenceAllowlist = true
	o := runCheck(t, m, q)
	assert.False(t, o.slow)
	assert.True(t, o.verdict.Proceed)
	assert.Equal(t, model.CheckHashDatabase, o.verdict.Kind)
	assert.Equal(t, 1, store.lookups)
}

func TestManagerHashRealTime(t *testing.T) {
	rt := &fakeRealTime{full: []FullHashMatch{
		{FullHash: FullHash("other.example/"), Threat: model.ThreatMalware},
		{FullHash: FullHash("bad.example/"), Threat: model.ThreatUnwantedSoftware},
	}}
	m := NewManager(Options{RealTime: rt})
	defer m.Close()

	q := query(t, "https://cdn.bad.example/file.exe")
	q.HashRealTimeLookupEnabled = true
	o := runCheck(t, m, q)
	assert.True(t, o.slow)
	assert.False(t, o.verdict.Proceed)
	assert.Equal(t, model.ThreatUnwantedSoftware, o.verdict.Threat)
	assert.Equal(t, model.CheckHashRealTime, o.verdict.Kind)
}

func TestManagerTimeoutProceeds(t *testing.T) {
	rt := &fakeRealTime{block: make(chan struct{})}
	m := NewManager(Options{RealTime: rt, Timeout: 20 * time.Millisecond})
	defer m.Close()

	q := query(t, "https://slow.example/")
	q.RealTimeLookupEnabled = true
	o := runCheck(t, m, q)
	assert.True(t, o.verdict.Proceed)
	assert.ErrorIs(t, o.verdict.Err, context.DeadlineExceeded)
}

func TestManagerStoreErrorProceeds(t *testing.T) {
	m := NewManager(Options{Store: &fakeStore{lookupErr: errors.New("disk gone")}})
	defer m.Close()
	o := runCheck(t, m, query(t, "https://example.com/"))
	assert.True(t, o.verdict.Proceed)
	assert.Error(t, o.verdict.Err)
}

func TestManagerHeuristicsAndSkips(t *testing.T) {
	store := &fakeStore{skip: map[string]bool{"intranet.example": true}}
	m := NewManager(Options{Store: store})
	defer m.Close()

	o := runCheck(t, m, query(t, "https://paypal.com@evil.example/"))
	assert.False(t, o.verdict.Proceed)
	assert.Equal(t, model.ThreatCredentialInURL, o.verdict.Threat)

	o = runCheck(t, m, query(t, "https://intranet.example/"))
	assert.True(t, o.verdict.Proceed)
	assert.True(t, o.verdict.SkipRemaining)

	o = runCheck(t, m, query(t, "about:blank"))
	assert.True(t, o.verdict.Proceed)
	assert.Equal(t, model.CheckSkipped, o.verdict.Kind)

	bare := NewManager(Options{})
	defer bare.Close()
	redirect := query(t, "http://10.0.0.5/admin")
	redirect.RedirectIndex = 1
	o = runCheck(t, bare, redirect)
	assert.False(t, o.verdict.Proceed, "heuristics run without any list")
	assert.Equal(t, model.ThreatSSRF, o.verdict.Threat)

	o = runCheck(t, bare, query(t, "https://example.com/"))
	assert.True(t, o.verdict.Proceed)
	assert.Equal(t, model.CheckSkipped, o.verdict.Kind)
	assert.NoError(t, o.verdict.Err)
}

func TestManagerInterstitialOnlyForOpenDocuments(t *testing.T) {
	for _, tc := range []struct {
		name    string
		destroy bool
		pages   int
	}{
		{name: "open document", pages: 1},
		{name: "destroyed before verdict", destroy: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rt := &fakeRealTime{
				threats: map[string]model.ThreatType{"malware.example": model.ThreatMalware},
				block:   make(chan struct{}),
			}
			ui := &recordingUI{}
			docs := safebrowsing.NewTrackerRegistry(nil, nil)
			docs.GetOrCreateForDocument("doc-1", ui)
			m := NewManager(Options{RealTime: rt, UI: ui, Documents: docs})
			defer m.Close()

			q := query(t, "https://malware.example/")
			q.RealTimeLookupEnabled = true
			slow := make(chan struct{})
			done := make(chan model.Verdict, 1)
			m.CheckURL(q, safebrowsing.CheckCallbacks{
				OnSlowCheck: func() { close(slow) },
				OnComplete:  func(v model.Verdict) { done <- v },
			})
			select {
			case <-slow:
			case <-time.After(5 * time.Second):
				t.Fatal("lookup never started")
			}
			if tc.destroy {
				_, ok := docs.DestroyDocument("doc-1")
				require.True(t, ok)
			}
			close(rt.block)

			var v model.Verdict
			select {
			case v = <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("oracle never completed")
			}
			assert.False(t, v.Proceed)
			assert.Equal(t, model.ThreatMalware, v.Threat)
			assert.Equal(t, tc.pages == 1, v.ShowedInterstitial)
			ui.mu.Lock()
			defer ui.mu.Unlock()
			assert.Len(t, ui.pages, tc.pages)
		})
	}
}
