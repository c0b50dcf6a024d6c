package tracker

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Sender hands an event to the network. Send must not block on I/O; delivery
// is best effort and failures are the sender's to log.
type Sender interface {
	Send(Event)
}

// Submitter accepts events from the capture layer.
type Submitter interface {
	Submit(Event)
}

type queueState int

const (
	stateBuffering queueState = iota
	stateLive
	stateSuppressed
)

func (s queueState) String() string {
	switch s {
	case stateLive:
		return "live"
	case stateSuppressed:
		return "suppressed"
	default:
		return "buffering"
	}
}

// DispatchQueue sits between event capture and the network. It buffers while
// consent is undetermined, drains in order once consent is granted, and drops
// everything once consent is denied.
type DispatchQueue struct {
	mu      sync.Mutex
	state   queueState
	pending []Event
	sender  Sender
}

// NewDispatchQueue creates a queue whose starting state follows the consent
// decision already on record.
func NewDispatchQueue(sender Sender, decision Decision) *DispatchQueue {
	q := &DispatchQueue{sender: sender}
	switch decision {
	case Granted:
		q.state = stateLive
	case Denied:
		q.state = stateSuppressed
	}
	return q
}

// Submit routes one event according to the current state.
func (q *DispatchQueue) Submit(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch q.state {
	case stateLive:
		q.sender.Send(e)
	case stateBuffering:
		q.pending = append(q.pending, e)
	case stateSuppressed:
		log.Debug().Str("type", string(e.Kind)).Msg("analytics consent denied, dropping event")
	}
}

// Grant sends every buffered event in submission order and switches to live
// delivery.
func (q *DispatchQueue) Grant() {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := q.pending
	q.pending = nil
	q.state = stateLive

	for _, e := range pending {
		q.sender.Send(e)
	}

	if len(pending) > 0 {
		log.Debug().Int("count", len(pending)).Msg("drained buffered analytics events")
	}
}

// Deny discards buffered events and suppresses all further submissions.
func (q *DispatchQueue) Deny() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n := len(q.pending); n > 0 {
		log.Debug().Int("count", n).Msg("discarding buffered analytics events")
	}
	q.pending = nil
	q.state = stateSuppressed
}

// Pending reports how many events are waiting for a consent decision.
func (q *DispatchQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
