package loader

import (
	"context"
	"io"
	"sync"

	"github.com/selimozcann/RedirectGuard/internal/safebrowsing"
)

// control is the load-side surface a gate steers. Its methods are called on
// the document sequence and never block.
type control struct {
	cancelLoad context.CancelFunc
	body       *pausableReader

	mu         sync.Mutex
	resumed    chan struct{}
	cancelled  chan struct{}
	didResume  bool
	didCancel  bool
	cancelCode int
	reason     string
	pauses     int
}

var _ safebrowsing.Delegate = (*control)(nil)

func newControl(cancelLoad context.CancelFunc) *control {
	return &control{
		cancelLoad: cancelLoad,
		body:       newPausableReader(),
		resumed:    make(chan struct{}),
		cancelled:  make(chan struct{}),
	}
}

func (c *control) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.didResume {
		return
	}
	c.didResume = true
	close(c.resumed)
}

func (c *control) CancelWithError(code int, reason string) {
	c.mu.Lock()
	if c.didCancel {
		c.mu.Unlock()
		return
	}
	c.didCancel = true
	c.cancelCode = code
	c.reason = reason
	close(c.cancelled)
	c.mu.Unlock()
	c.cancelLoad()
}

func (c *control) PauseReadingBodyFromNet() {
	c.mu.Lock()
	c.pauses++
	c.mu.Unlock()
	c.body.pause()
}

func (c *control) ResumeReadingBodyFromNet() { c.body.resume() }

func (c *control) isCancelled() bool {
	select {
	case <-c.cancelled:
		return true
	default:
		return false
	}
}

func (c *control) cancellation() (code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelCode, c.reason
}

func (c *control) bodyPauses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauses
}

// pausableReader holds back reads from the network while paused. Pausing can
// happen before the body exists; attach supplies it later.
type pausableReader struct {
	mu     sync.Mutex
	src    io.Reader
	paused bool
	wake   chan struct{}
	ctx    context.Context
}

func newPausableReader() *pausableReader {
	return &pausableReader{wake: make(chan struct{}), ctx: context.Background()}
}

func (p *pausableReader) attach(ctx context.Context, src io.Reader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctx = ctx
	p.src = src
}

func (p *pausableReader) pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

func (p *pausableReader) resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return
	}
	p.paused = false
	close(p.wake)
	p.wake = make(chan struct{})
}

func (p *pausableReader) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *pausableReader) Read(b []byte) (int, error) {
	for {
		p.mu.Lock()
		paused, wake, ctx, src := p.paused, p.wake, p.ctx, p.src
		p.mu.Unlock()
		if !paused {
			if src == nil {
				return 0, io.EOF
			}
			return src.Read(b)
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}
