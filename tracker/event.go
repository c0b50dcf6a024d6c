// Package tracker is the visitor-side analytics client for public menu pages.
//
// A Tracker is constructed once per browser tab by the page shell and handed
// to instrumentation call sites. It resolves a sliding-window session, waits
// for the visitor's consent decision, turns page lifecycle and click signals
// into events, and ships them to the ingestion endpoint without ever blocking
// the page.
package tracker

import (
	"net/url"
	"strings"
	"time"
)

// EventKind is the type of an analytics event.
type EventKind string

const (
	PageView     EventKind = "page_view"
	ItemView     EventKind = "item_view"
	CategoryView EventKind = "category_view"
	TimeSpent    EventKind = "time_spent"
)

// timestampLayout is ISO-8601 with millisecond precision, matching what
// browsers produce for Date.toISOString.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Clock returns the current time. Tests inject a fake one.
type Clock func() time.Time

// Event is a single analytics event as sent to POST /analytics/track.
// Events are built by the capture layer and passed around by value.
type Event struct {
	Kind         EventKind `json:"type"`
	RestaurantID string    `json:"restaurantId"`
	MenuID       string    `json:"menuId,omitempty"`
	ItemID       string    `json:"itemId,omitempty"`
	CategoryID   string    `json:"categoryId,omitempty"`
	TimeSpent    int       `json:"timeSpent,omitempty"`
	SessionID    string    `json:"sessionId"`
	Timestamp    string    `json:"timestamp"`
	Metadata     *Metadata `json:"metadata,omitempty"`

	// UserAgent is the visitor's browser user agent. It travels as the
	// request's User-Agent header, not in the body, so that events without
	// a metadata snapshot are still classified by the visitor's device.
	UserAgent string `json:"-"`
}

// Metadata is the page snapshot attached to an event.
type Metadata struct {
	Path           string `json:"path,omitempty"`
	Referrer       string `json:"referrer,omitempty"`
	UserAgent      string `json:"userAgent,omitempty"`
	ScreenWidth    int    `json:"screenWidth,omitempty"`
	ScreenHeight   int    `json:"screenHeight,omitempty"`
	ViewportWidth  int    `json:"viewportWidth,omitempty"`
	ViewportHeight int    `json:"viewportHeight,omitempty"`
}

// Size is a width/height pair in CSS pixels.
type Size struct {
	Width  int
	Height int
}

// Page describes the document the tracker is observing.
type Page struct {
	URL       string
	Referrer  string
	UserAgent string
	Screen    Size
	Viewport  Size
}

// location holds the identifiers derived from a page URL.
type location struct {
	path         string
	restaurantID string
	menuID       string
}

// parseLocation extracts the restaurant id from the first path segment and
// the menu id from the "menu" query parameter. An unparsable URL yields an
// empty location, which suppresses event emission.
func parseLocation(raw string) location {
	u, err := url.Parse(raw)
	if err != nil {
		return location{}
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	first, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")

	return location{
		path:         path,
		restaurantID: first,
		menuID:       u.Query().Get("menu"),
	}
}
