package savestate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// EmptyDocument is the content of an itinerary that was never saved.
var EmptyDocument = []byte("[]")

// Registry holds one Coordinator per open document.
type Registry struct {
	local  LocalSink
	remote RemoteSink
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	open    map[string]*Coordinator
	closing map[string]chan struct{}
	loading singleflight.Group
}

func NewRegistry(local LocalSink, remote RemoteSink, opts Options) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		local:   local,
		remote:  remote,
		opts:    opts,
		logger:  opts.Logger,
		open:    make(map[string]*Coordinator),
		closing: make(map[string]chan struct{}),
	}
}

// Get returns the coordinator for an already open document.
func (r *Registry) Get(docID string) (*Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.open[docID]
	return c, ok
}

// Open returns the document's coordinator, loading it on first use. The
// remote copy is preferred; a newer or only local copy is adopted and marked
// pending so it gets synced. A document still running its final flush is
// reopened only after that flush ends.
func (r *Registry) Open(ctx context.Context, docID string) (*Coordinator, error) {
	if c, err := r.awaitClosed(ctx, docID); c != nil || err != nil {
		return c, err
	}
	v, err, _ := r.loading.Do(docID, func() (any, error) {
		if c, err := r.awaitClosed(ctx, docID); c != nil || err != nil {
			return c, err
		}
		c, err := r.load(ctx, docID)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.open[docID] = c
		r.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Coordinator), nil
}

// awaitClosed returns the open coordinator if there is one. Otherwise it waits
// out any close in progress and returns nil.
func (r *Registry) awaitClosed(ctx context.Context, docID string) (*Coordinator, error) {
	for {
		r.mu.Lock()
		c, ok := r.open[docID]
		done, closing := r.closing[docID]
		r.mu.Unlock()
		if ok {
			return c, nil
		}
		if !closing {
			return nil, nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *Registry) load(ctx context.Context, docID string) (*Coordinator, error) {
	remoteContent, remoteRev, remoteErr := r.remote.LoadContent(ctx, docID)
	if remoteErr != nil && !errors.Is(remoteErr, ErrNotFound) {
		r.logger.Warn("remote load failed, trying local cache",
			zap.String("document_id", docID),
			zap.Error(remoteErr),
		)
	}

	var localContent []byte
	var localRev int64
	localErr := ErrNotFound
	if r.local != nil {
		localContent, localRev, localErr = r.local.Get(ctx, docID)
		if localErr != nil && !errors.Is(localErr, ErrNotFound) {
			r.logger.Warn("local cache read failed",
				zap.String("document_id", docID),
				zap.Error(localErr),
			)
		}
	}

	switch {
	case remoteErr == nil && (localErr != nil || localRev <= remoteRev):
		return NewCoordinator(docID, remoteContent, remoteRev, r.local, r.remote, r.opts), nil
	case localErr == nil:
		var savedRev int64
		if remoteErr == nil {
			savedRev = remoteRev
		}
		c := NewCoordinator(docID, localContent, localRev, r.local, r.remote, r.opts)
		c.markPending(savedRev)
		r.logger.Info("recovered unsynced local copy",
			zap.String("document_id", docID),
			zap.Int64("local_revision", localRev),
		)
		return c, nil
	case errors.Is(remoteErr, ErrNotFound):
		return NewCoordinator(docID, EmptyDocument, 0, r.local, r.remote, r.opts), nil
	default:
		return nil, fmt.Errorf("open document %s: %w", docID, remoteErr)
	}
}

// Close removes the document and performs its final flush.
func (r *Registry) Close(ctx context.Context, docID string) (Status, error) {
	r.mu.Lock()
	c, ok := r.open[docID]
	if !ok {
		r.mu.Unlock()
		return Status{}, ErrNotFound
	}
	done := r.beginCloseLocked(docID)
	r.mu.Unlock()

	defer r.endClose(docID, done)
	return c.Close(ctx)
}

// CloseAll flushes and closes every open document.
func (r *Registry) CloseAll(ctx context.Context) error {
	type closingDoc struct {
		id   string
		c    *Coordinator
		done chan struct{}
	}
	r.mu.Lock()
	docs := make([]closingDoc, 0, len(r.open))
	for id, c := range r.open {
		docs = append(docs, closingDoc{id: id, c: c, done: r.beginCloseLocked(id)})
	}
	r.mu.Unlock()

	var errs []error
	for _, d := range docs {
		if _, err := d.c.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		r.endClose(d.id, d.done)
	}
	return errors.Join(errs...)
}

func (r *Registry) beginCloseLocked(docID string) chan struct{} {
	delete(r.open, docID)
	done := make(chan struct{})
	r.closing[docID] = done
	return done
}

func (r *Registry) endClose(docID string, done chan struct{}) {
	r.mu.Lock()
	if r.closing[docID] == done {
		delete(r.closing, docID)
	}
	r.mu.Unlock()
	close(done)
}

// Len reports how many documents are open.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}
