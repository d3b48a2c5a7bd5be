package runner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/selimozcann/RedirectGuard/internal/document"
	"github.com/selimozcann/RedirectGuard/internal/loader"
	"github.com/selimozcann/RedirectGuard/internal/logging"
	"github.com/selimozcann/RedirectGuard/internal/model"
	"github.com/selimozcann/RedirectGuard/internal/safebrowsing"
)

// ViaClientRedirect marks the first hop of a client-side follow-up load.
const ViaClientRedirect = "client-redirect"

// Config holds settings for the runner.
type Config struct {
	Threads   int
	RateLimit float64 // loads per second, 0 = unlimited
	// Timeout bounds each load, follow-ups included. 0 means none.
	Timeout time.Duration
	// MaxChain bounds the hops of a target across client-side follow-ups.
	MaxChain int
	// FollowClientRedirects loads meta refresh and script targets in the
	// same document.
	FollowClientRedirects bool
	// Linger keeps a document open after its loads so adopted checks can
	// still warn.
	Linger time.Duration
}

// Runner loads targets concurrently, one document per target.
type Runner struct {
	cfg      Config
	loader   *loader.Loader
	registry *safebrowsing.TrackerRegistry
	ui       safebrowsing.UIManager
	log      *zap.Logger
	// OnResult, when set, receives every result as soon as it is final.
	OnResult func(model.Result)
}

// New creates a new Runner.
func New(cfg Config, l *loader.Loader, registry *safebrowsing.TrackerRegistry, ui safebrowsing.UIManager, log *zap.Logger) *Runner {
	if cfg.Threads <= 0 {
		cfg.Threads = 1
	}
	if cfg.MaxChain <= 0 {
		cfg.MaxChain = loader.DefaultMaxChain
	}
	return &Runner{
		cfg:      cfg,
		loader:   l,
		registry: registry,
		ui:       ui,
		log:      logging.OrNop(log).Named("runner"),
	}
}

// Run processes targets and returns results in target order.
func (r *Runner) Run(ctx context.Context, targets []string) []model.Result {
	out := make([]model.Result, len(targets))
	var mu sync.Mutex

	limit := rate.Inf
	if r.cfg.RateLimit > 0 {
		limit = rate.Limit(r.cfg.RateLimit)
	}
	limiter := rate.NewLimiter(limit, 1)

	type job struct {
		idx    int
		target string
	}

	jobs := make(chan job)
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for jb := range jobs {
				if err := limiter.Wait(ctx); err != nil {
					mu.Lock()
					out[jb.idx] = model.Result{Target: jb.target, StartedAt: time.Now(), Error: err.Error()}
					mu.Unlock()
					continue
				}
				res := r.runTarget(ctx, jb.target)
				mu.Lock()
				out[jb.idx] = res
				mu.Unlock()
				if r.OnResult != nil {
					r.OnResult(res)
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, t := range targets {
			select {
			case <-ctx.Done():
				return
			case jobs <- job{idx: i, target: t}:
			}
		}
	}()

	wg.Wait()
	if err := ctx.Err(); err != nil {
		for i := range out {
			if out[i].StartedAt.IsZero() {
				out[i] = model.Result{Target: targets[i], Error: err.Error()}
			}
		}
	}
	return out
}

func (r *Runner) runTarget(ctx context.Context, target string) model.Result {
	doc := document.New(r.registry, r.ui, r.log)
	defer func() {
		if r.cfg.Linger > 0 {
			lctx, cancel := context.WithTimeout(context.Background(), r.cfg.Linger)
			if err := doc.WaitIdle(lctx); err != nil {
				r.log.Debug("closing document with checks outstanding", zap.Error(err))
			}
			cancel()
		}
		if err := doc.Close(context.Background()); err != nil {
			r.log.Warn("close document", zap.Error(err))
		}
	}()

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	res := r.loader.Load(ctx, doc, target)
	seen := map[string]bool{target: true}
	for r.cfg.FollowClientRedirects && res.ClientNext != "" && res.Error == "" && !res.Blocked {
		next := res.ClientNext
		if seen[next] {
			res.Error = "client redirect loop at " + next
			break
		}
		if len(res.Chain) >= r.cfg.MaxChain {
			res.Error = "redirect chain too long"
			break
		}
		seen[next] = true
		r.log.Debug("following client redirect", zap.String("target", target), zap.String("next", next))
		res = merge(res, r.loader.Load(ctx, doc, next))
	}
	res.DurationMs = time.Since(res.StartedAt).Milliseconds()
	return res
}

// merge appends a follow-up load to the result of the load that led to it.
func merge(prev, next model.Result) model.Result {
	base := len(prev.Chain)
	if base > 0 {
		prev.Chain[base-1].Final = false
	}
	for i, h := range next.Chain {
		h.Index = base + i
		if i == 0 {
			h.Via = ViaClientRedirect
		}
		prev.Chain = append(prev.Chain, h)
	}
	prev.Verdicts = append(prev.Verdicts, next.Verdicts...)
	prev.Blocked = prev.Blocked || next.Blocked
	if next.CancelCode != 0 {
		prev.CancelCode = next.CancelCode
	}
	prev.Deferred = prev.Deferred || next.Deferred
	prev.DeferredMs += next.DeferredMs
	prev.Adopted = prev.Adopted || next.Adopted
	prev.ClientNext = next.ClientNext
	prev.Error = next.Error
	return prev
}
