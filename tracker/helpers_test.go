package tracker

import (
	"sync"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingSender struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSender) Send(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSender) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

type recordingSubmitter struct {
	events []Event
}

func (s *recordingSubmitter) Submit(e Event) {
	s.events = append(s.events, e)
}

// failingStore fails every operation.
type failingStore struct{}

func (failingStore) Get(string) (string, bool, error)        { return "", false, ErrStorageUnavailable }
func (failingStore) Set(string, string, time.Duration) error { return ErrStorageUnavailable }
func (failingStore) Delete(...string) error                  { return ErrStorageUnavailable }

// writeFailingStore reads normally but cannot persist.
type writeFailingStore struct {
	*MemoryStore
}

func (writeFailingStore) Set(string, string, time.Duration) error { return ErrStorageUnavailable }
