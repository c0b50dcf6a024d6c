package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPoster struct {
	mu     sync.Mutex
	posted []Event
	fail   map[string]error
}

func (p *recordingPoster) Post(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posted = append(p.posted, e)
	return p.fail[e.ItemID]
}

func (p *recordingPoster) Posted() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.posted...)
}

func TestBeaconDeliversInOrder(t *testing.T) {
	poster := &recordingPoster{}
	b := NewBeacon(poster)

	events := testEvents(PageView, ItemView, CategoryView, TimeSpent)
	for _, e := range events {
		b.Send(e)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Close(ctx))

	assert.Equal(t, events, poster.Posted())
}

func TestBeaconFailureDoesNotBlockRest(t *testing.T) {
	events := testEvents(PageView, ItemView, CategoryView)
	poster := &recordingPoster{fail: map[string]error{
		events[0].ItemID: errors.New("connection refused"),
		events[1].ItemID: &StatusError{Code: http.StatusTooManyRequests},
	}}
	b := NewBeacon(poster)

	for _, e := range events {
		b.Send(e)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Close(ctx))

	assert.Len(t, poster.Posted(), 3, "each event attempted exactly once")
}

func TestBeaconDropsAfterClose(t *testing.T) {
	poster := &recordingPoster{}
	b := NewBeacon(poster)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Close(ctx))

	b.Send(testEvents(PageView)[0])
	assert.Empty(t, poster.Posted())
}

func TestHTTPSenderPost(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/analytics/track", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	e := Event{Kind: ItemView, RestaurantID: "tonys-pizza", ItemID: "item-7", SessionID: "s-1", Timestamp: "2025-03-14T12:00:00.000Z"}
	err := NewHTTPSender(srv.URL+"/analytics/track", srv.Client()).Post(context.Background(), e)

	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestHTTPSenderSendsVisitorUserAgent(t *testing.T) {
	var gotUA string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer srv.Close()

	e := Event{Kind: ItemView, RestaurantID: "tonys-pizza", ItemID: "item-7", SessionID: "s-1", UserAgent: menuPage.UserAgent}
	require.NoError(t, NewHTTPSender(srv.URL, srv.Client()).Post(context.Background(), e))

	assert.Equal(t, menuPage.UserAgent, gotUA)
	assert.NotContains(t, body, "userAgent")
}

func TestHTTPSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewHTTPSender(srv.URL, srv.Client()).Post(context.Background(), Event{Kind: PageView})

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
}

func TestEventWireFormat(t *testing.T) {
	e := Event{
		Kind:         TimeSpent,
		RestaurantID: "tonys-pizza",
		TimeSpent:    12,
		SessionID:    "s-1",
		Timestamp:    "2025-03-14T12:00:00.000Z",
		Metadata:     &Metadata{Path: "/tonys-pizza"},
	}

	b, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "time_spent",
		"restaurantId": "tonys-pizza",
		"timeSpent": 12,
		"sessionId": "s-1",
		"timestamp": "2025-03-14T12:00:00.000Z",
		"metadata": {"path": "/tonys-pizza"}
	}`, string(b))
}
