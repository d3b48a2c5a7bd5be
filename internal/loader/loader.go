// Package loader follows a URL's redirect chain hop by hop and gates every
// hop on its safety verdict.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/selimozcann/RedirectGuard/internal/document"
	"github.com/selimozcann/RedirectGuard/internal/htmlscan"
	"github.com/selimozcann/RedirectGuard/internal/logging"
	"github.com/selimozcann/RedirectGuard/internal/model"
	"github.com/selimozcann/RedirectGuard/internal/safebrowsing"
	"github.com/selimozcann/RedirectGuard/internal/sequence"
)

const (
	DefaultMaxChain  = 15
	DefaultBodyLimit = 512 * 1024
)

// ViaHTTPLocation marks hops reached through a Location header.
const ViaHTTPLocation = "http-location"

// Options configures a Loader.
type Options struct {
	Client  *http.Client
	Oracle  safebrowsing.Oracle
	Policy  safebrowsing.PolicyDelegate
	Gate    safebrowsing.Config
	Metrics *safebrowsing.Metrics
	// MaxChain bounds the number of hops of one load.
	MaxChain int
	// BodyLimit bounds how much of the final body is read.
	BodyLimit int64
	// ScanClientRedirects reports meta refresh and script redirects of HTML
	// responses in Result.ClientNext.
	ScanClientRedirects bool
	Logger              *zap.Logger
}

// Loader performs gated loads. It is safe for concurrent use; concurrent
// loads must use distinct documents or accept being serialised on one.
type Loader struct {
	opts Options
	log  *zap.Logger
}

// New returns a Loader.
func New(opts Options) *Loader {
	if opts.Client == nil {
		opts.Client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}
	}
	if opts.MaxChain <= 0 {
		opts.MaxChain = DefaultMaxChain
	}
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = DefaultBodyLimit
	}
	return &Loader{opts: opts, log: logging.OrNop(opts.Logger).Named("loader")}
}

type load struct {
	l      *Loader
	seq    *sequence.TaskRunner
	gate   *safebrowsing.LoadGate
	ctl    *control
	res    *model.Result
	log    *zap.Logger
	parent context.Context
	// ctx is parent narrowed to this load; the gate's cancellation ends it.
	ctx context.Context
}

// Load fetches target inside doc. The gate is torn down before Load
// returns; checks still outstanding then go to the document's tracker.
func (l *Loader) Load(ctx context.Context, doc *document.Document, target string) (res model.Result) {
	res = model.Result{Target: target, DocumentID: doc.ID(), StartedAt: time.Now()}
	defer func() { res.DurationMs = time.Since(res.StartedAt).Milliseconds() }()

	u, err := url.Parse(target)
	if err != nil {
		res.Error = fmt.Sprintf("parse target: %v", err)
		return res
	}
	if u.Scheme == "" || u.Host == "" {
		res.Error = fmt.Sprintf("parse target: %q is not an absolute URL", target)
		return res
	}

	if err := ctx.Err(); err != nil {
		res.Error = fmt.Sprintf("start load: %v", err)
		return res
	}

	loadCtx, cancelLoad := context.WithCancel(ctx)
	defer cancelLoad()

	ld := &load{
		l:      l,
		ctx:    loadCtx,
		parent: ctx,
		seq:    doc.Runner(),
		ctl:    newControl(cancelLoad),
		res:    &res,
	}
	req := model.Request{
		ID:          uuid.NewString(),
		DocumentID:  doc.ID(),
		URL:         u,
		Method:      http.MethodGet,
		Destination: model.DestinationDocument,
	}
	ld.log = l.log.With(zap.String("request_id", req.ID), zap.String("document_id", doc.ID()))

	// Teardown has to reach the sequence even when ctx is already done. It
	// queues behind the start task, so it sees the gate whenever one exists.
	defer ld.finish(context.WithoutCancel(ctx))

	err = ld.seq.PostAndWait(ctx, func() {
		// PostAndWait may give up on ctx while this task is still queued.
		if ctx.Err() != nil {
			return
		}
		ld.gate = safebrowsing.NewLoadGate(safebrowsing.GateOptions{
			Config:   l.opts.Gate,
			Delegate: ld.ctl,
			Oracle:   l.opts.Oracle,
			Poster:   ld.seq,
			Policy:   l.opts.Policy,
			Tracker:  doc.Tracker(),
			Metrics:  l.opts.Metrics,
			Logger:   l.opts.Logger,
		})
		ld.gate.WillStartRequest(req)
	})
	if err != nil {
		res.Error = fmt.Sprintf("start load: %v", err)
		return res
	}

	ld.follow(u)
	return res
}

func (ld *load) onSeq(task func()) error {
	return ld.seq.PostAndWait(ld.parent, task)
}

func (ld *load) follow(start *url.URL) {
	current, method := start, http.MethodGet
	seen := make(map[string]bool)

	for i := 0; ; i++ {
		if ld.ctl.isCancelled() {
			return
		}
		if i >= ld.l.opts.MaxChain {
			ld.res.Error = fmt.Sprintf("redirect chain exceeds %d hops", ld.l.opts.MaxChain)
			return
		}
		key := current.String()
		if seen[key] {
			ld.res.Error = "redirect loop at " + key
			return
		}
		seen[key] = true

		req, err := http.NewRequestWithContext(ld.ctx, method, key, nil)
		if err != nil {
			ld.res.Error = err.Error()
			return
		}
		started := time.Now()
		resp, err := ld.l.opts.Client.Do(req)
		elapsed := time.Since(started).Milliseconds()
		if err != nil {
			if !ld.ctl.isCancelled() {
				ld.res.Error = err.Error()
			}
			return
		}

		hop := model.Hop{Index: i, URL: key, Method: method, Status: resp.StatusCode, Via: ViaHTTPLocation, TimeMs: elapsed}
		loc := resp.Header.Get("Location")
		if isRedirect(resp.StatusCode) && loc != "" {
			_ = resp.Body.Close()
			next, err := current.Parse(loc)
			if err != nil {
				hop.Final = true
				ld.res.Chain = append(ld.res.Chain, hop)
				ld.res.Error = fmt.Sprintf("invalid location %q: %v", loc, err)
				return
			}
			ld.res.Chain = append(ld.res.Chain, hop)

			redirect := model.Redirect{NewURL: next, NewMethod: redirectMethod(method, resp.StatusCode), StatusCode: resp.StatusCode}
			var deferLoad bool
			if err := ld.onSeq(func() { deferLoad = ld.gate.WillRedirectRequest(redirect) }); err != nil {
				ld.res.Error = err.Error()
				return
			}
			if deferLoad {
				// The chain is blocked and cancellation is on its way.
				ld.waitCancelled()
				return
			}
			current, method = next, redirect.NewMethod
			continue
		}

		hop.Final = true
		ld.processResponse(current, resp, hop)
		return
	}
}

type bodyResult struct {
	data []byte
	err  error
}

func (ld *load) processResponse(u *url.URL, resp *http.Response, hop model.Hop) {
	defer func() { _ = resp.Body.Close() }()
	defer func() { ld.res.Chain = append(ld.res.Chain, hop) }()

	// The body is prefetched while the response may be deferred. Reads stop
	// whenever the gate pauses the body.
	ld.ctl.body.attach(ld.ctx, io.LimitReader(resp.Body, ld.l.opts.BodyLimit))
	bodyCh := make(chan bodyResult, 1)
	go func() {
		data, err := io.ReadAll(ld.ctl.body)
		bodyCh <- bodyResult{data: data, err: err}
	}()

	ct := resp.Header.Get("Content-Type")
	mt, _, _ := mime.ParseMediaType(ct)
	response := model.Response{URL: u, StatusCode: resp.StatusCode, Headers: resp.Header, MimeType: mt}
	var deferLoad bool
	if err := ld.onSeq(func() { deferLoad = ld.gate.WillProcessResponse(response) }); err != nil {
		ld.res.Error = err.Error()
		return
	}
	if deferLoad {
		ld.res.Deferred = true
		ld.log.Debug("response deferred", zap.String("url", u.String()))
		select {
		case <-ld.ctl.resumed:
		case <-ld.ctl.cancelled:
			return
		case <-ld.ctx.Done():
			if !ld.ctl.isCancelled() {
				ld.res.Error = fmt.Sprintf("waiting for safety verdict: %v", ld.parent.Err())
			}
			return
		}
	}

	var body bodyResult
	select {
	case body = <-bodyCh:
	case <-ld.ctx.Done():
		if !ld.ctl.isCancelled() {
			ld.res.Error = fmt.Sprintf("read body: %v", ld.parent.Err())
		}
		return
	}
	hop.Size = int64(len(body.data))
	if body.err != nil && !errors.Is(body.err, context.Canceled) {
		ld.log.Debug("body read incomplete", zap.Error(body.err))
	}

	if ld.l.opts.ScanClientRedirects && htmlscan.ShouldFetchBody(ct) {
		if next, via, ok := htmlscan.DetectRedirect(body.data, u); ok {
			ld.res.ClientNext = next.String()
			ld.log.Debug("client-side redirect", zap.String("next", ld.res.ClientNext), zap.String("via", via))
		}
	}
}

func (ld *load) waitCancelled() {
	select {
	case <-ld.ctl.cancelled:
	case <-ld.ctx.Done():
	}
}

func (ld *load) finish(ctx context.Context) {
	err := ld.seq.PostAndWait(ctx, func() {
		if ld.gate == nil {
			return
		}
		ld.gate.Close()
		ld.res.Blocked = ld.gate.Blocked()
		ld.res.CancelCode = ld.gate.CancelCode()
		ld.res.Adopted = ld.gate.Adopted()
		ld.res.DeferredMs = ld.gate.TotalDelay().Milliseconds()
		for _, r := range ld.gate.Results() {
			ld.res.Verdicts = append(ld.res.Verdicts, r.Record())
		}
	})
	if err != nil {
		ld.log.Warn("gate teardown", zap.Error(err))
		return
	}
	if ld.res.Blocked {
		code, reason := ld.ctl.cancellation()
		ld.log.Info("load blocked",
			zap.String("target", ld.res.Target),
			zap.Int("cancel_code", code),
			zap.String("reason", reason),
			zap.Int("body_pauses", ld.ctl.bodyPauses()))
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func redirectMethod(method string, status int) string {
	switch status {
	case http.StatusSeeOther:
		if method != http.MethodHead {
			return http.MethodGet
		}
	case http.StatusMovedPermanently, http.StatusFound:
		if method == http.MethodPost {
			return http.MethodGet
		}
	}
	return method
}
