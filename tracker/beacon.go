package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrTrackerClosed is logged for events handed to a closed beacon.
var ErrTrackerClosed = errors.New("tracker: closed")

// Poster delivers a single event and reports the outcome.
type Poster interface {
	Post(ctx context.Context, e Event) error
}

// StatusError is a non-2xx answer from the ingestion endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ingestion endpoint returned %d", e.Code)
}

// HTTPSender posts events as JSON to the ingestion endpoint.
type HTTPSender struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSender creates a sender for endpoint. A nil client uses
// http.DefaultClient, whose timeouts are the platform defaults.
func NewHTTPSender(endpoint string, client *http.Client) *HTTPSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSender{endpoint: endpoint, client: client}
}

// Post implements Poster.
func (s *HTTPSender) Post(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.UserAgent != "" {
		req.Header.Set("User-Agent", e.UserAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()

	// drain for connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Beacon is a queued best-effort transport. Send appends to an ordered
// outbox and returns immediately; a single goroutine posts the outbox in
// order. Nothing is retried.
type Beacon struct {
	mu     sync.Mutex
	outbox []Event
	closed bool
	wake   chan struct{}
	done   chan struct{}
	poster Poster
}

// NewBeacon starts the delivery goroutine.
func NewBeacon(poster Poster) *Beacon {
	b := &Beacon{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		poster: poster,
	}
	go b.run()
	return b
}

// Send implements Sender.
func (b *Beacon) Send(e Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		log.Warn().Err(ErrTrackerClosed).Str("type", string(e.Kind)).Msg("analytics event dropped")
		return
	}
	b.outbox = append(b.outbox, e)
	b.mu.Unlock()

	b.signal()
}

// Close stops accepting events and waits until everything already queued
// has been attempted, or ctx is done. Requests still in flight when ctx
// expires are not cancelled.
func (b *Beacon) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.signal()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Beacon) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Beacon) run() {
	defer close(b.done)

	for {
		b.mu.Lock()
		batch := b.outbox
		b.outbox = nil
		closed := b.closed
		b.mu.Unlock()

		for _, e := range batch {
			b.deliver(e)
		}

		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-b.wake
	}
}

func (b *Beacon) deliver(e Event) {
	err := b.poster.Post(context.Background(), e)
	if err == nil {
		return
	}

	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		// stale or misconfigured page, not worth a warning
		log.Debug().Str("type", string(e.Kind)).Str("restaurant_id", e.RestaurantID).Msg("analytics restaurant not found, event dropped")
		return
	}

	log.Warn().Err(err).
		Str("type", string(e.Kind)).
		Str("restaurant_id", e.RestaurantID).
		Msg("failed to send analytics event")
}
