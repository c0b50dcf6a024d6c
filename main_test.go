package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"menutrack/api/config"
	"menutrack/api/handlers"
	"menutrack/api/models"
	"menutrack/api/store"
	"menutrack/api/tracker"
	"menutrack/api/utils"
)

type memoryRecords struct {
	mu      sync.Mutex
	records []models.IngestionRecord
}

func (m *memoryRecords) InsertIngestionRecords(_ context.Context, records []models.IngestionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

func (m *memoryRecords) Records() []models.IngestionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.IngestionRecord(nil), m.records...)
}

type staticRestaurants map[string]*models.Restaurant

func (s staticRestaurants) FindRestaurant(_ context.Context, ref string) (*models.Restaurant, error) {
	if r, ok := s[ref]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: %s", store.ErrRestaurantNotFound, ref)
}

type noStats struct{}

func (noStats) GetEventCountsOverTime(context.Context, string, store.StatsFilter) ([]store.EventTypeCountByTime, error) {
	return nil, nil
}
func (noStats) GetAverageTimeSpent(context.Context, store.StatsFilter) (float64, error) {
	return 0, nil
}
func (noStats) GetUniqueSessionsOverTime(context.Context, string, store.StatsFilter) ([]store.EventTypeCountByTime, error) {
	return nil, nil
}
func (noStats) GetTopItems(context.Context, store.StatsFilter, uint64) ([]models.TopItemResult, error) {
	return nil, nil
}
func (noStats) GetDeviceBreakdown(context.Context, store.StatsFilter) ([]models.DeviceCountResult, error) {
	return nil, nil
}

const (
	tonysID      = "7f0c9a9e-2b8e-4c55-9d2c-3c1b1c0e5a11"
	tonysOwnerID = 7
	testSalt     = "test-salt"
)

var testSecret = []byte("test-secret")

func testConfig() *config.Config {
	return &config.Config{
		CORSOrigins: []string{"http://localhost:3000"},
		JWTSecret:   testSecret,
		APIKey:      "dashboard-key",
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *memoryRecords) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	records := &memoryRecords{}
	tonys := &models.Restaurant{ID: tonysID, Slug: "tonys-pizza", Active: true, OwnerID: tonysOwnerID}
	restaurants := staticRestaurants{tonys.Slug: tonys, tonys.ID: tonys}

	limiter := utils.NewRateLimiter(utils.DefaultRateLimiterConfig())
	t.Cleanup(limiter.Stop)

	analytics := handlers.NewAnalyticsHandlers(records, restaurants, limiter, utils.NewAnonymizer(testSalt))
	stats := handlers.NewStatsHandlers(noStats{}, restaurants)

	router, err := NewRouter(cfg, analytics, stats)
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, records
}

func get(t *testing.T, srv *httptest.Server, path string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func bearer(t *testing.T, userID int) map[string]string {
	t.Helper()
	token, err := utils.GenerateJWT(testSecret, userID, "owner@tonys.example")
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	resp := get(t, srv, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewRouterRejectsBadTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.TrustedProxies = []string{"not-an-ip"}

	_, err := NewRouter(cfg, nil, nil)
	assert.ErrorContains(t, err, "TRUSTED_PROXIES")
}

func TestStatsRequireAuth(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	resp := get(t, srv, "/api/stats/devices?restaurantId=tonys-pizza", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = get(t, srv, "/api/stats/devices?restaurantId=tonys-pizza", map[string]string{"X-API-KEY": "dashboard-key"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatsScopedToOwner(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	resp := get(t, srv, "/api/stats/devices?restaurantId=tonys-pizza", bearer(t, tonysOwnerID))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, srv, "/api/stats/devices?restaurantId=tonys-pizza", bearer(t, tonysOwnerID+1))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestProfile(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	resp := get(t, srv, "/api/profile", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = get(t, srv, "/api/profile", bearer(t, tonysOwnerID))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body bytes.Buffer
	_, err := body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id":7,"user_email":"owner@tonys.example"}`, body.String())
}

func postEvent(t *testing.T, srv *httptest.Server, forwardedFor string) int {
	t.Helper()
	body := `{"type":"page_view","restaurantId":"tonys-pizza","sessionId":"s-1","timestamp":"2025-03-14T12:00:00.000Z"}`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/analytics/track", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", forwardedFor)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	srv, records := newTestServer(t, testConfig())

	var last int
	for i := 0; i < 101; i++ {
		last = postEvent(t, srv, fmt.Sprintf("203.0.113.%d", i))
	}

	assert.Equal(t, http.StatusTooManyRequests, last)
	assert.Len(t, records.Records(), 100)
}

func TestRateLimitUsesForwardedForFromTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.TrustedProxies = []string{"127.0.0.1", "::1"}
	srv, records := newTestServer(t, cfg)

	for i := 0; i < 101; i++ {
		require.Equal(t, http.StatusOK, postEvent(t, srv, fmt.Sprintf("203.0.113.%d", i)))
	}

	assert.Len(t, records.Records(), 101)
}

// A visitor opens /tonys-pizza, browses before answering the consent
// prompt, then accepts. Everything captured before the answer reaches the
// ingestion endpoint in order, under the session resolved at load.
func TestTrackerToIngestionEndToEnd(t *testing.T) {
	srv, records := newTestServer(t, testConfig())

	tr := tracker.New(tracker.Config{
		Endpoint:   srv.URL + "/analytics/track",
		HTTPClient: srv.Client(),
	})
	sessionAtLoad := tr.SessionID()

	const tabletUA = "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) Tablet"
	tr.PageLoad(tracker.Page{
		URL:       srv.URL + "/tonys-pizza",
		UserAgent: tabletUA,
	})
	tr.RegisterCategory("pizzas", "cat-pizzas")
	tr.RegisterItem("margherita", "item-margherita")
	tr.Click("margherita-price", "margherita", "pizzas")

	require.Equal(t, tracker.Undetermined, tr.Consent())
	require.Empty(t, records.Records(), "nothing is sent before consent")

	require.NoError(t, tr.Grant())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Close(ctx))

	got := records.Records()
	require.Len(t, got, 2)

	assert.Equal(t, models.EventPageView, got[0].EventType)
	assert.Equal(t, models.EventItemView, got[1].EventType)
	assert.Equal(t, "item-margherita", got[1].ItemID)
	wantUAHash := utils.NewAnonymizer(testSalt).HashUserAgent(tabletUA)
	for _, r := range got {
		assert.Equal(t, tonysID, r.RestaurantID)
		assert.Equal(t, sessionAtLoad, r.SessionID)
		assert.Equal(t, "/tonys-pizza", r.PagePath)
		assert.Equal(t, utils.DeviceTablet, r.DeviceType, r.EventType)
		assert.Equal(t, wantUAHash, r.UserAgentHash, r.EventType)
	}
}

// Events without a metadata snapshot are still classified by the visitor's
// browser, not by the tracker's HTTP client.
func TestTrackerDeviceClassFromVisitor(t *testing.T) {
	srv, records := newTestServer(t, testConfig())

	tr := tracker.New(tracker.Config{
		Endpoint:   srv.URL + "/analytics/track",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, tr.Grant())

	const phoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148"
	tr.PageLoad(tracker.Page{URL: srv.URL + "/tonys-pizza", UserAgent: phoneUA})
	tr.ItemViewed("item-margherita")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Close(ctx))

	got := records.Records()
	require.Len(t, got, 2)
	wantUAHash := utils.NewAnonymizer(testSalt).HashUserAgent(phoneUA)
	for _, r := range got {
		assert.Equal(t, utils.DeviceMobile, r.DeviceType, r.EventType)
		assert.Equal(t, wantUAHash, r.UserAgentHash, r.EventType)
	}
}

func TestTrackerUnknownRestaurantIsDropped(t *testing.T) {
	srv, records := newTestServer(t, testConfig())

	tr := tracker.New(tracker.Config{
		Endpoint:   srv.URL + "/analytics/track",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, tr.Grant())
	tr.PageLoad(tracker.Page{URL: srv.URL + "/stale-page"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Close(ctx))

	assert.Empty(t, records.Records())
}
