package tracker

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSessionIDStableWithinTimeout(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	m := NewSessionManager(store, clock.Now)

	first := m.ResolveSessionID()
	require.NotEmpty(t, first)

	clock.Advance(29 * time.Minute)
	assert.Equal(t, first, m.ResolveSessionID())

	// sliding window: another 29 minutes is still within 30 of the last call
	clock.Advance(29 * time.Minute)
	assert.Equal(t, first, m.ResolveSessionID())
}

func TestResolveSessionIDExpiresAfterIdle(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	m := NewSessionManager(store, clock.Now)

	first := m.ResolveSessionID()

	clock.Advance(31 * time.Minute)
	second := m.ResolveSessionID()

	require.NotEmpty(t, second)
	assert.NotEqual(t, first, second)

	stored, ok, err := store.Get(sessionIDKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, stored)
}

func TestResolveSessionIDRefreshesTimestamp(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	m := NewSessionManager(store, clock.Now)

	m.ResolveSessionID()
	clock.Advance(10 * time.Minute)
	m.ResolveSessionID()

	raw, ok, err := store.Get(sessionTimestampKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, strconv.FormatInt(clock.Now().UnixMilli(), 10), raw)
}

func TestResolveSessionIDSharedStoreAcrossPageLoads(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)

	first := NewSessionManager(store, clock.Now).ResolveSessionID()
	clock.Advance(time.Minute)
	second := NewSessionManager(store, clock.Now).ResolveSessionID()

	assert.Equal(t, first, second)
}

func TestResolveSessionIDCorruptTimestampStartsNewSession(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	require.NoError(t, store.Set(sessionIDKey, "old-session", 0))
	require.NoError(t, store.Set(sessionTimestampKey, "not-a-number", 0))

	id := NewSessionManager(store, clock.Now).ResolveSessionID()
	assert.NotEqual(t, "old-session", id)
}

func TestResolveSessionIDFallsBackToEphemeral(t *testing.T) {
	clock := newFakeClock()
	m := NewSessionManager(failingStore{}, clock.Now)

	first := m.ResolveSessionID()
	require.NotEmpty(t, first)

	clock.Advance(time.Hour)
	assert.Equal(t, first, m.ResolveSessionID(), "ephemeral id lives as long as the manager")

	other := NewSessionManager(failingStore{}, clock.Now).ResolveSessionID()
	assert.NotEqual(t, first, other)
}
