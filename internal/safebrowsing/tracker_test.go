package safebrowsing

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selimozcann/RedirectGuard/internal/sequence"
)

func startedChecker(t *testing.T, o *fakeOracle, redirects ...string) *RequestChecker {
	t.Helper()
	c := NewRequestChecker(o, sequence.Inline{}, CheckerConfig{}, nil, nil)
	require.NoError(t, c.Start(request(t, "https://a.example/")))
	for _, r := range redirects {
		require.NoError(t, c.CheckURL(mustURL(t, r), "GET"))
	}
	return c
}

func TestRegistryGetOrCreate(t *testing.T) {
	reg := NewTrackerRegistry(nil, nil)
	ui := &fakeUI{}

	a := reg.GetOrCreateForDocument("doc-a", ui)
	assert.Same(t, a, reg.GetOrCreateForDocument("doc-a", ui))
	b := reg.GetOrCreateForDocument("doc-b", ui)
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, "doc-a", a.DocumentID())

	got, ok := reg.Get("doc-b")
	require.True(t, ok)
	assert.Same(t, b, got)

	destroyed, ok := reg.DestroyDocument("doc-a")
	require.True(t, ok)
	assert.Same(t, a, destroyed)
	_, ok = reg.Get("doc-a")
	assert.False(t, ok)
	_, ok = reg.DestroyDocument("doc-a")
	assert.False(t, ok)
	assert.Equal(t, 1, reg.Len())
}

func TestTrackerKeepsCheckerUntilLastVerdict(t *testing.T) {
	o := &fakeOracle{}
	ui := &fakeUI{}
	tr := NewTrackerRegistry(nil, nil).GetOrCreateForDocument("doc-1", ui)
	c := startedChecker(t, o, "https://b.example/")

	tr.AdoptChecker(c, mustURL(t, "https://a.example/"))
	tr.AdoptChecker(c, mustURL(t, "https://a.example/"))
	assert.Equal(t, 1, tr.Tracked())

	o.complete(t, 1, safe())
	assert.Equal(t, 1, tr.Tracked())
	o.complete(t, 0, safe())
	assert.Zero(t, tr.Tracked())
	assert.Empty(t, ui.pages)
}

func TestTrackerDoesNotRepeatShownInterstitial(t *testing.T) {
	o := &fakeOracle{}
	ui := &fakeUI{}
	tr := NewTrackerRegistry(nil, nil).GetOrCreateForDocument("doc-1", ui)
	c := startedChecker(t, o)
	tr.AdoptChecker(c, nil)

	o.complete(t, 0, unsafe(true))
	assert.Empty(t, ui.pages)
	assert.Zero(t, tr.Tracked())
}

func TestTrackerIgnoresVerdictsAfterUnsafe(t *testing.T) {
	o := &fakeOracle{}
	ui := &fakeUI{}
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	tr := NewTrackerRegistry(m, nil).GetOrCreateForDocument("doc-1", ui)
	c := startedChecker(t, o, "https://b.example/")
	tr.AdoptChecker(c, nil)

	o.complete(t, 0, unsafe(false))
	o.complete(t, 1, unsafe(false))
	assert.Len(t, ui.pages, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AsyncWarnings))
}

func TestTrackerCloseDropsAdoptedCheckers(t *testing.T) {
	o := &fakeOracle{}
	ui := &fakeUI{}
	tr := NewTrackerRegistry(nil, nil).GetOrCreateForDocument("doc-1", ui)
	c := startedChecker(t, o)
	tr.AdoptChecker(c, nil)

	tr.Close()
	tr.Close()
	assert.True(t, c.Abandoned())
	assert.Zero(t, tr.Tracked())

	o.complete(t, 0, unsafe(false))
	assert.Empty(t, ui.pages)

	late := startedChecker(t, o)
	tr.AdoptChecker(late, nil)
	assert.True(t, late.Abandoned())
}
