package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"menutrack/api/models"
	"menutrack/api/store"
	"menutrack/api/utils"
)

// StatsReader runs read-only queries over raw ingestion records.
type StatsReader interface {
	GetEventCountsOverTime(ctx context.Context, interval string, f store.StatsFilter) ([]store.EventTypeCountByTime, error)
	GetAverageTimeSpent(ctx context.Context, f store.StatsFilter) (float64, error)
	GetUniqueSessionsOverTime(ctx context.Context, interval string, f store.StatsFilter) ([]store.EventTypeCountByTime, error)
	GetTopItems(ctx context.Context, f store.StatsFilter, limit uint64) ([]models.TopItemResult, error)
	GetDeviceBreakdown(ctx context.Context, f store.StatsFilter) ([]models.DeviceCountResult, error)
}

// StatsHandlers serves the owner dashboard. Callers authenticated with a JWT
// only see restaurants they own; API key callers are operators and see all.
type StatsHandlers struct {
	Stats       StatsReader
	Restaurants RestaurantFinder

	now func() time.Time
}

func NewStatsHandlers(stats StatsReader, restaurants RestaurantFinder) *StatsHandlers {
	return &StatsHandlers{Stats: stats, Restaurants: restaurants, now: time.Now}
}

// parseFilter reads restaurantId, start and end, and resolves the restaurant
// to its canonical id. It writes the error response itself and returns false
// when the request cannot proceed.
func (h *StatsHandlers) parseFilter(c *gin.Context) (store.StatsFilter, bool) {
	f := store.StatsFilter{
		RestaurantID: c.Query("restaurantId"),
		EventType:    c.Query("eventType"),
	}
	if f.RestaurantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "restaurantId query parameter is required"})
		return f, false
	}

	var err error
	if startParam := c.Query("start"); startParam != "" {
		f.Start, err = time.Parse(time.RFC3339, startParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'start' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return f, false
		}
	} else {
		f.Start = h.now().UTC().Add(-7 * 24 * time.Hour)
	}

	if endParam := c.Query("end"); endParam != "" {
		f.End, err = time.Parse(time.RFC3339, endParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'end' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return f, false
		}
	} else {
		f.End = h.now().UTC()
	}

	if f.End.Before(f.Start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'end' must not be before 'start'"})
		return f, false
	}

	restaurantID, ok := h.authorizeRestaurant(c, f.RestaurantID)
	if !ok {
		return f, false
	}
	f.RestaurantID = restaurantID

	return f, true
}

// authorizeRestaurant resolves ref by id or slug and checks the caller may
// read it. A user_id in the context comes from an owner JWT.
func (h *StatsHandlers) authorizeRestaurant(c *gin.Context, ref string) (string, bool) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	r, err := h.Restaurants.FindRestaurant(ctx, ref)
	if err != nil {
		if errors.Is(err, store.ErrRestaurantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Restaurant not found"})
			return "", false
		}
		log.Error().Err(err).Str("restaurant_id", ref).Msg("restaurant lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve restaurant"})
		return "", false
	}

	if v, exists := c.Get("user_id"); exists {
		userID, _ := v.(int)
		if userID == 0 || userID != r.OwnerID {
			log.Debug().Int("user_id", userID).Str("restaurant_id", r.ID).Msg("stats access denied")
			c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden: not the owner of this restaurant"})
			return "", false
		}
	}

	return r.ID, true
}

func parseInterval(c *gin.Context) (string, bool) {
	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return "", false
	}
	if !utils.IsValidInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid interval. Use one of Minute, Hour, Day, Week, Month, Quarter, Year"})
		return "", false
	}
	return interval, true
}

func (h *StatsHandlers) GetEventCountsOverTime(c *gin.Context) {
	interval, ok := parseInterval(c)
	if !ok {
		return
	}
	f, ok := h.parseFilter(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Stats.GetEventCountsOverTime(ctx, interval, f)
	if err != nil {
		log.Error().Err(err).Str("restaurant_id", f.RestaurantID).Msg("error getting event counts over time")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve event statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetAverageTimeSpent(c *gin.Context) {
	f, ok := h.parseFilter(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	avg, err := h.Stats.GetAverageTimeSpent(ctx, f)
	if err != nil {
		log.Error().Err(err).Str("restaurant_id", f.RestaurantID).Msg("error getting average time spent")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve average time spent"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"restaurantId":            f.RestaurantID,
		"startDate":               f.Start.Format(time.RFC3339),
		"endDate":                 f.End.Format(time.RFC3339),
		"averageTimeSpentSeconds": avg,
	})
}

func (h *StatsHandlers) GetUniqueSessionsOverTime(c *gin.Context) {
	interval, ok := parseInterval(c)
	if !ok {
		return
	}
	f, ok := h.parseFilter(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Stats.GetUniqueSessionsOverTime(ctx, interval, f)
	if err != nil {
		log.Error().Err(err).Str("restaurant_id", f.RestaurantID).Msg("error getting unique sessions over time")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve unique session statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetTopItems(c *gin.Context) {
	f, ok := h.parseFilter(c)
	if !ok {
		return
	}

	var limit uint64 = 10
	if limitParam := c.Query("limit"); limitParam != "" {
		parsed, err := strconv.ParseUint(limitParam, 10, 64)
		if err != nil || parsed == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter. Must be a positive integer."})
			return
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Stats.GetTopItems(ctx, f, limit)
	if err != nil {
		log.Error().Err(err).Str("restaurant_id", f.RestaurantID).Msg("error getting top items")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve top items"})
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetDeviceBreakdown(c *gin.Context) {
	f, ok := h.parseFilter(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Stats.GetDeviceBreakdown(ctx, f)
	if err != nil {
		log.Error().Err(err).Str("restaurant_id", f.RestaurantID).Msg("error getting device breakdown")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve device statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}
