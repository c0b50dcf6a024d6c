package tracker

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Config configures a Tracker.
type Config struct {
	// Endpoint is the ingestion URL, e.g. https://api.example.com/analytics/track.
	Endpoint string
	// SessionStore is tab-scoped storage. Defaults to a new MemoryStore.
	SessionStore Store
	// ConsentStore is durable storage for the consent decision. Defaults to
	// a new MemoryStore, which forgets the decision when the tracker goes.
	ConsentStore Store
	// Clock defaults to time.Now.
	Clock Clock
	// HTTPClient is used by the default HTTP transport.
	HTTPClient *http.Client
	// Sender replaces the default beacon transport.
	Sender Sender
}

// Tracker is the analytics client for one tab. Create it with New when the
// page shell starts and pass it to whatever needs to record events.
type Tracker struct {
	sessions *SessionManager
	consent  *ConsentGate
	queue    *DispatchQueue
	capture  *Capture
	beacon   *Beacon
}

// New builds a tracker and resolves the session for this page load.
func New(cfg Config) *Tracker {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.SessionStore == nil {
		cfg.SessionStore = NewMemoryStore(cfg.Clock)
	}
	if cfg.ConsentStore == nil {
		cfg.ConsentStore = NewMemoryStore(cfg.Clock)
	}

	t := &Tracker{}

	sender := cfg.Sender
	if sender == nil {
		t.beacon = NewBeacon(NewHTTPSender(cfg.Endpoint, cfg.HTTPClient))
		sender = t.beacon
	}

	t.sessions = NewSessionManager(cfg.SessionStore, cfg.Clock)
	t.consent = NewConsentGate(cfg.ConsentStore)
	t.queue = NewDispatchQueue(sender, t.consent.Decision())
	t.capture = NewCapture(t.queue, t.sessions, cfg.Clock)

	sessionID := t.sessions.ResolveSessionID()
	log.Debug().
		Str("session_id", sessionID).
		Stringer("consent", t.consent.Decision()).
		Msg("analytics tracker initialised")

	return t
}

// SessionID returns the current session id, sliding its expiry.
func (t *Tracker) SessionID() string {
	return t.sessions.ResolveSessionID()
}

// Consent returns the visitor's current decision.
func (t *Tracker) Consent() Decision {
	return t.consent.Decision()
}

// Grant records consent and sends everything captured so far. A non-nil
// error means the decision could not be persisted; events still flow for
// this page.
func (t *Tracker) Grant() error {
	err := t.consent.Grant()
	if err != nil {
		log.Warn().Err(err).Msg("analytics consent not persisted")
	}
	t.queue.Grant()
	return err
}

// Deny records the opt-out and discards everything captured so far.
func (t *Tracker) Deny() error {
	err := t.consent.Deny()
	if err != nil {
		log.Warn().Err(err).Msg("analytics consent not persisted")
	}
	t.queue.Deny()
	return err
}

// PageLoad records the initial page view.
func (t *Tracker) PageLoad(p Page) { t.capture.PageLoad(p) }

// Navigate records a client-side route change.
func (t *Tracker) Navigate(rawURL string) { t.capture.Navigate(rawURL) }

// VisibilityChanged forwards a visibilitychange signal.
func (t *Tracker) VisibilityChanged(hidden bool) { t.capture.VisibilityChanged(hidden) }

// RegisterItem tags a rendered element with a menu item id.
func (t *Tracker) RegisterItem(el ElementID, itemID string) { t.capture.RegisterItem(el, itemID) }

// RegisterCategory tags a rendered element with a category id.
func (t *Tracker) RegisterCategory(el ElementID, categoryID string) {
	t.capture.RegisterCategory(el, categoryID)
}

// Unregister drops tags for elements that were removed.
func (t *Tracker) Unregister(els ...ElementID) { t.capture.Unregister(els...) }

// Click forwards a click on chain[0] whose ancestors follow in order.
func (t *Tracker) Click(chain ...ElementID) { t.capture.Click(chain...) }

// ItemViewed records an item view directly.
func (t *Tracker) ItemViewed(itemID string) { t.capture.ItemViewed(itemID) }

// CategoryViewed records a category view directly.
func (t *Tracker) CategoryViewed(categoryID string) { t.capture.CategoryViewed(categoryID) }

// Close is the unload path: it records time spent on the page and waits for
// queued sends to be attempted, up to ctx. Events still waiting for consent
// are dropped with the page.
func (t *Tracker) Close(ctx context.Context) error {
	t.capture.Unload()

	if n := t.queue.Pending(); n > 0 {
		log.Debug().Int("count", n).Msg("page closed before consent decision, events dropped")
	}

	if t.beacon == nil {
		return nil
	}
	return t.beacon.Close(ctx)
}
