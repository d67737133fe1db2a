package savestate

import (
	"context"
	"sort"
	"sync"
	"time"
)

// fakeClock fires timers only from Advance, on the calling goroutine.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

// Advance moves time forward, running due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
		var next *fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.at.After(target) {
				next = t
				break
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.stopped = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.fn()
	}
}

type saved struct {
	content  string
	revision int64
}

type memorySink struct {
	mu    sync.Mutex
	docs  map[string]saved
	saves []saved
	err   error
}

func newMemorySink() *memorySink {
	return &memorySink{docs: map[string]saved{}}
}

func (s *memorySink) write(docID string, content []byte, revision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	entry := saved{content: string(content), revision: revision}
	s.docs[docID] = entry
	s.saves = append(s.saves, entry)
	return nil
}

func (s *memorySink) read(docID string) ([]byte, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.docs[docID]
	if !ok {
		return nil, 0, ErrNotFound
	}
	return []byte(entry.content), entry.revision, nil
}

func (s *memorySink) Put(_ context.Context, docID string, content []byte, revision int64) error {
	return s.write(docID, content, revision)
}

func (s *memorySink) Get(_ context.Context, docID string) ([]byte, int64, error) {
	return s.read(docID)
}

func (s *memorySink) SaveContent(_ context.Context, docID string, content []byte, revision int64) error {
	return s.write(docID, content, revision)
}

func (s *memorySink) LoadContent(_ context.Context, docID string) ([]byte, int64, error) {
	return s.read(docID)
}

func (s *memorySink) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *memorySink) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func (s *memorySink) last() saved {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return saved{}
	}
	return s.saves[len(s.saves)-1]
}
