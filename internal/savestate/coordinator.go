// Package savestate buffers editor mutations and flushes them to a local
// cache and a remote store under a single debounce-with-ceiling policy.
package savestate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type State int

const (
	Clean State = iota
	Dirty
	Saving
	Error
)

func (s State) String() string {
	switch s {
	case Dirty:
		return "dirty"
	case Saving:
		return "saving"
	case Error:
		return "error"
	default:
		return "clean"
	}
}

var (
	// ErrSaveConflict wraps a failed remote persist. Content stays pending.
	ErrSaveConflict = errors.New("save conflict")
	ErrClosed       = errors.New("document closed")
)

const (
	DefaultQuietPeriod   = 2 * time.Second
	DefaultCeiling       = 10 * time.Second
	DefaultRemoteTimeout = 8 * time.Second
)

type Options struct {
	// QuietPeriod is how long edits must pause before a flush.
	QuietPeriod time.Duration
	// Ceiling bounds how long a document may stay dirty under continuous edits.
	Ceiling time.Duration
	// RetryInterval schedules the next attempt after a remote failure.
	// Defaults to Ceiling.
	RetryInterval time.Duration
	RemoteTimeout time.Duration
	Clock         Clock
	Logger        *zap.Logger
	// OnFlush is told the outcome ("ok", "local_only", "error") and duration
	// of every flush.
	OnFlush func(result string, took time.Duration)
}

func (o Options) withDefaults() Options {
	if o.QuietPeriod <= 0 {
		o.QuietPeriod = DefaultQuietPeriod
	}
	if o.Ceiling < o.QuietPeriod {
		o.Ceiling = DefaultCeiling
		if o.Ceiling < o.QuietPeriod {
			o.Ceiling = o.QuietPeriod
		}
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = o.Ceiling
	}
	if o.RemoteTimeout <= 0 {
		o.RemoteTimeout = DefaultRemoteTimeout
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.OnFlush == nil {
		o.OnFlush = func(string, time.Duration) {}
	}
	return o
}

// Status is the UI-facing view of a document's save state.
type Status struct {
	DocumentID    string     `json:"documentId"`
	State         string     `json:"state"`
	Revision      int64      `json:"revision"`
	SavedRevision int64      `json:"savedRevision"`
	SavedLocally  bool       `json:"savedLocally"`
	Synced        bool       `json:"synced"`
	LastSavedAt   *time.Time `json:"lastSavedAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
}

// Coordinator owns one open document. At most one flush runs at a time;
// mutations made while Saving are picked up by the next flush.
type Coordinator struct {
	docID  string
	local  LocalSink
	remote RemoteSink
	opts   Options

	mu            sync.Mutex
	content       []byte
	revision      int64
	savedRevision int64
	localRevision int64
	state         State
	dirtySince    time.Time
	lastMutation  time.Time
	lastSavedAt   time.Time
	lastErr       error
	timer         Timer
	timerGen      uint64
	inFlight      bool
	flushDone     chan struct{}
	closed        bool
}

// NewCoordinator starts a coordinator for content already persisted remotely
// at revision.
func NewCoordinator(docID string, content []byte, revision int64, local LocalSink, remote RemoteSink, opts Options) *Coordinator {
	return &Coordinator{
		docID:         docID,
		local:         local,
		remote:        remote,
		opts:          opts.withDefaults(),
		content:       append([]byte(nil), content...),
		revision:      revision,
		savedRevision: revision,
		localRevision: revision,
	}
}

func (c *Coordinator) DocumentID() string { return c.docID }

// Content returns a copy of the latest in-memory document.
func (c *Coordinator) Content() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.content...)
}

// Mutate replaces the in-memory document and (re)arms the flush timer.
func (c *Coordinator) Mutate(content []byte) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.statusLocked(), ErrClosed
	}
	now := c.opts.Clock.Now()
	c.content = append([]byte(nil), content...)
	c.revision++
	c.lastMutation = now
	if c.dirtySince.IsZero() {
		c.dirtySince = now
	}
	switch c.state {
	case Saving:
	case Error:
		// stays Error until a flush succeeds
		c.scheduleLocked()
	default:
		c.state = Dirty
		c.scheduleLocked()
	}
	return c.statusLocked(), nil
}

// Flush saves pending content now. It waits for an in-flight flush first and
// returns an error wrapping ErrSaveConflict when the remote write fails.
func (c *Coordinator) Flush(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.inFlight {
			done := c.flushDone
			c.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if c.state == Clean {
			c.mu.Unlock()
			return nil
		}
		return c.flushLocked(ctx)
	}
}

// Close stops the timers and attempts a final synchronous flush.
func (c *Coordinator) Close(ctx context.Context) (Status, error) {
	c.mu.Lock()
	c.closed = true
	c.stopTimerLocked()
	c.mu.Unlock()

	err := c.Flush(ctx)
	return c.Status(), err
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Coordinator) statusLocked() Status {
	st := Status{
		DocumentID:    c.docID,
		State:         c.state.String(),
		Revision:      c.revision,
		SavedRevision: c.savedRevision,
		SavedLocally:  c.localRevision == c.revision,
		Synced:        c.savedRevision == c.revision,
	}
	if !c.lastSavedAt.IsZero() {
		at := c.lastSavedAt
		st.LastSavedAt = &at
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// scheduleLocked arms the debounce timer at
// min(lastMutation+quiet, dirtySince+ceiling).
func (c *Coordinator) scheduleLocked() {
	deadline := c.lastMutation.Add(c.opts.QuietPeriod)
	if ceiling := c.dirtySince.Add(c.opts.Ceiling); ceiling.Before(deadline) {
		deadline = ceiling
	}
	delay := deadline.Sub(c.opts.Clock.Now())
	if delay < 0 {
		delay = 0
	}
	c.armLocked(delay)
}

func (c *Coordinator) armLocked(delay time.Duration) {
	if c.closed {
		return
	}
	c.stopTimerLocked()
	c.timerGen++
	gen := c.timerGen
	c.timer = c.opts.Clock.AfterFunc(delay, func() { c.fire(gen) })
}

func (c *Coordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
}

func (c *Coordinator) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.timerGen || c.closed || c.inFlight || c.state == Clean {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	_ = c.flushLocked(context.Background())
}

// flushLocked is entered with mu held and returns with it released.
func (c *Coordinator) flushLocked(ctx context.Context) error {
	snapshot := c.content
	rev := c.revision
	c.inFlight = true
	done := make(chan struct{})
	c.flushDone = done
	c.state = Saving
	c.dirtySince = time.Time{}
	c.stopTimerLocked()
	c.mu.Unlock()

	start := c.opts.Clock.Now()
	var localErr error
	if c.local != nil {
		localErr = c.local.Put(ctx, c.docID, snapshot, rev)
		if localErr != nil {
			c.opts.Logger.Warn("local cache write failed",
				zap.String("document_id", c.docID),
				zap.Int64("revision", rev),
				zap.Error(localErr),
			)
		}
	}
	remoteCtx, cancel := context.WithTimeout(ctx, c.opts.RemoteTimeout)
	remoteErr := c.remote.SaveContent(remoteCtx, c.docID, snapshot, rev)
	cancel()
	took := c.opts.Clock.Now().Sub(start)

	c.mu.Lock()
	if localErr == nil && c.local != nil && rev > c.localRevision {
		c.localRevision = rev
	}
	var result error
	if remoteErr == nil {
		c.savedRevision = rev
		c.lastSavedAt = c.opts.Clock.Now()
		c.lastErr = nil
		if c.revision > rev {
			c.state = Dirty
			c.scheduleLocked()
		} else {
			c.state = Clean
		}
	} else {
		result = fmt.Errorf("%w: %s revision %d: %w", ErrSaveConflict, c.docID, rev, remoteErr)
		c.lastErr = result
		c.state = Error
		if c.revision > rev {
			// edits arrived while saving
			c.scheduleLocked()
		} else {
			c.dirtySince = start
			c.armLocked(c.opts.RetryInterval)
		}
		c.opts.Logger.Warn("remote save failed",
			zap.String("document_id", c.docID),
			zap.Int64("revision", rev),
			zap.Error(remoteErr),
		)
	}
	c.inFlight = false
	close(done)
	c.mu.Unlock()

	switch {
	case remoteErr == nil:
		c.opts.OnFlush("ok", took)
	case localErr == nil && c.local != nil:
		c.opts.OnFlush("local_only", took)
	default:
		c.opts.OnFlush("error", took)
	}
	return result
}

// markPending flags content the remote has not seen yet so the next timer
// tick syncs it.
func (c *Coordinator) markPending(savedRevision int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.opts.Clock.Now()
	c.savedRevision = savedRevision
	c.state = Dirty
	c.dirtySince = now
	c.lastMutation = now
	c.scheduleLocked()
}
