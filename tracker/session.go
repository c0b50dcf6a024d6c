package tracker

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	sessionIDKey        = "analytics_session_id"
	sessionTimestampKey = "analytics_session_timestamp"

	// SessionTimeout is the idle period after which a session is replaced.
	SessionTimeout = 30 * time.Minute
)

// SessionManager hands out the visitor's session id. Every call slides the
// expiry window forward.
type SessionManager struct {
	mu        sync.Mutex
	store     Store
	now       Clock
	ephemeral string
}

// NewSessionManager creates a manager over a tab-scoped store.
func NewSessionManager(store Store, now Clock) *SessionManager {
	if now == nil {
		now = time.Now
	}
	return &SessionManager{store: store, now: now}
}

// ResolveSessionID returns the current session id, starting a new session
// when none exists or the previous one has been idle for longer than
// SessionTimeout. If the store fails, an in-memory id is used for the rest
// of this manager's lifetime.
func (m *SessionManager) ResolveSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ephemeral != "" {
		return m.ephemeral
	}

	id, err := m.resolveLocked()
	if err != nil {
		m.ephemeral = uuid.NewString()
		log.Warn().Err(err).Str("session_id", m.ephemeral).Msg("session storage unavailable, using ephemeral session")
		return m.ephemeral
	}
	return id
}

func (m *SessionManager) resolveLocked() (string, error) {
	now := m.now()

	raw, ok, err := m.store.Get(sessionTimestampKey)
	if err != nil {
		return "", err
	}
	if ok {
		last, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || now.Sub(time.UnixMilli(last)) > SessionTimeout {
			if err := m.store.Delete(sessionIDKey, sessionTimestampKey); err != nil {
				return "", err
			}
		}
	}

	stamp := strconv.FormatInt(now.UnixMilli(), 10)

	id, ok, err := m.store.Get(sessionIDKey)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		if err := m.store.Set(sessionTimestampKey, stamp, 0); err != nil {
			return "", err
		}
		return id, nil
	}

	id = uuid.NewString()
	if err := m.store.Set(sessionIDKey, id, 0); err != nil {
		return "", err
	}
	if err := m.store.Set(sessionTimestampKey, stamp, 0); err != nil {
		return "", err
	}

	log.Debug().Str("session_id", id).Msg("started analytics session")
	return id, nil
}
