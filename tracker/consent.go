package tracker

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	consentKey = "analytics_consent"

	// ConsentTTL is how long a recorded decision is remembered.
	ConsentTTL = 365 * 24 * time.Hour
)

// Decision is the visitor's analytics consent state.
type Decision int

const (
	Undetermined Decision = iota
	Granted
	Denied
)

func (d Decision) String() string {
	switch d {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "undetermined"
	}
}

// ConsentGate records whether the visitor opted in to analytics. The stored
// decision is read once when the gate is created, which corresponds to a
// page load.
type ConsentGate struct {
	mu       sync.Mutex
	store    Store
	decision Decision
}

// NewConsentGate loads the persisted decision. Anything other than a
// readable "true" or "false" is Undetermined.
func NewConsentGate(store Store) *ConsentGate {
	g := &ConsentGate{store: store}

	value, ok, err := store.Get(consentKey)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("consent storage unreadable, treating as undetermined")
	case !ok:
	case value == "true":
		g.decision = Granted
	case value == "false":
		g.decision = Denied
	default:
		log.Warn().Str("value", value).Msg("unrecognised consent value, treating as undetermined")
	}

	return g
}

// Decision returns the current consent state.
func (g *ConsentGate) Decision() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.decision
}

// Grant records an opt-in. The decision applies to this page even if it
// cannot be persisted; the returned error means it will be asked again on
// the next load.
func (g *ConsentGate) Grant() error {
	return g.set(Granted, "true")
}

// Deny records an opt-out.
func (g *ConsentGate) Deny() error {
	return g.set(Denied, "false")
}

func (g *ConsentGate) set(d Decision, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.decision = d
	if err := g.store.Set(consentKey, value, ConsentTTL); err != nil {
		return fmt.Errorf("persist consent %s: %w", d, err)
	}
	return nil
}
