// Package document models one open document: its task sequence and the
// tracker that keeps late checks alive after their load finished.
package document

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/selimozcann/RedirectGuard/internal/logging"
	"github.com/selimozcann/RedirectGuard/internal/safebrowsing"
	"github.com/selimozcann/RedirectGuard/internal/sequence"
)

// Document owns the sequence every gate of its loads runs on.
type Document struct {
	id       string
	runner   *sequence.TaskRunner
	registry *safebrowsing.TrackerRegistry
	tracker  *safebrowsing.AsyncTracker
	log      *zap.Logger
}

// New opens a document. With a nil registry outstanding checks are dropped
// when their load ends.
func New(registry *safebrowsing.TrackerRegistry, ui safebrowsing.UIManager, log *zap.Logger) *Document {
	d := &Document{
		id:       uuid.NewString(),
		runner:   sequence.New(),
		registry: registry,
	}
	d.log = logging.OrNop(log).Named("document").With(zap.String("document_id", d.id))
	if registry != nil {
		d.tracker = registry.GetOrCreateForDocument(d.id, ui)
	}
	return d
}

// ID returns the document identifier.
func (d *Document) ID() string { return d.id }

// Runner returns the document's sequence.
func (d *Document) Runner() *sequence.TaskRunner { return d.runner }

// Tracker returns the document's tracker, or nil.
func (d *Document) Tracker() *safebrowsing.AsyncTracker { return d.tracker }

// Pending returns how many adopted checkers are still waiting on verdicts.
func (d *Document) Pending(ctx context.Context) (int, error) {
	if d.tracker == nil {
		return 0, nil
	}
	var n int
	if err := d.runner.PostAndWait(ctx, func() { n = d.tracker.Tracked() }); err != nil {
		return 0, err
	}
	return n, nil
}

// WaitIdle blocks until no adopted checker is outstanding or ctx ends.
func (d *Document) WaitIdle(ctx context.Context) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		n, err := d.Pending(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("document %s: %d checks outstanding: %w", d.id, n, ctx.Err())
		case <-t.C:
		}
	}
}

// Close destroys the document. Adopted checks still outstanding are dropped
// and their verdicts have no effect.
func (d *Document) Close(ctx context.Context) error {
	defer d.runner.Close()
	if d.registry == nil {
		return nil
	}
	tr, ok := d.registry.DestroyDocument(d.id)
	if !ok {
		return nil
	}
	if err := d.runner.PostAndWait(ctx, tr.Close); err != nil {
		return fmt.Errorf("close document %s: %w", d.id, err)
	}
	d.log.Debug("document closed")
	return nil
}
