package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"menutrack/api/models"
	"menutrack/api/store"
	"menutrack/api/utils"
)

// MaxBatchSize is the largest batch accepted by TrackBatch.
const MaxBatchSize = 100

// RecordWriter persists ingestion records.
type RecordWriter interface {
	InsertIngestionRecords(ctx context.Context, records []models.IngestionRecord) error
}

// RestaurantFinder resolves a restaurant id or slug.
type RestaurantFinder interface {
	FindRestaurant(ctx context.Context, ref string) (*models.Restaurant, error)
}

type AnalyticsHandlers struct {
	Records     RecordWriter
	Restaurants RestaurantFinder
	Limiter     *utils.RateLimiter
	Anonymizer  *utils.Anonymizer

	now func() time.Time
}

func NewAnalyticsHandlers(records RecordWriter, restaurants RestaurantFinder, limiter *utils.RateLimiter, anonymizer *utils.Anonymizer) *AnalyticsHandlers {
	return &AnalyticsHandlers{
		Records:     records,
		Restaurants: restaurants,
		Limiter:     limiter,
		Anonymizer:  anonymizer,
		now:         time.Now,
	}
}

// TrackEvent handles POST /analytics/track with a single event.
func (h *AnalyticsHandlers) TrackEvent(c *gin.Context) {
	var req models.TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if err := validateTrackRequest(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	clientKey := h.Anonymizer.HashIP(c.ClientIP())
	if !h.Limiter.Allow(clientKey) {
		h.rejectRateLimited(c, clientKey)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	restaurant, err := h.findActiveRestaurant(ctx, req.RestaurantID)
	if err != nil {
		if errors.Is(err, store.ErrRestaurantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Restaurant not found"})
			return
		}
		log.Error().Err(err).Str("restaurant_id", req.RestaurantID).Msg("restaurant lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record analytics event"})
		return
	}

	record := h.buildRecord(c, &req, restaurant, clientKey)

	if err := h.Records.InsertIngestionRecords(ctx, []models.IngestionRecord{record}); err != nil {
		log.Error().Err(err).Str("restaurant_id", restaurant.ID).Msg("failed to persist analytics event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record analytics event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// TrackBatch handles POST /analytics/track/batch. Each event is validated and
// rate limited on its own; rejected events do not fail the batch.
func (h *AnalyticsHandlers) TrackBatch(c *gin.Context) {
	var raw []json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if len(raw) > MaxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Batch too large, at most %d events", MaxBatchSize)})
		return
	}
	if len(raw) == 0 {
		c.JSON(http.StatusOK, gin.H{"success": true, "accepted": 0, "rejected": 0})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	clientKey := h.Anonymizer.HashIP(c.ClientIP())
	restaurants := make(map[string]*models.Restaurant)

	var (
		records     []models.IngestionRecord
		rejected    int
		rateLimited int
	)

	for i, msg := range raw {
		var req models.TrackRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			log.Debug().Err(err).Int("index", i).Msg("batch event rejected: malformed")
			rejected++
			continue
		}
		if err := binding.Validator.ValidateStruct(&req); err != nil {
			log.Debug().Err(err).Int("index", i).Msg("batch event rejected: invalid")
			rejected++
			continue
		}
		if err := validateTrackRequest(&req); err != nil {
			log.Debug().Err(err).Int("index", i).Msg("batch event rejected: invalid")
			rejected++
			continue
		}

		if !h.Limiter.Allow(clientKey) {
			rejected++
			rateLimited++
			continue
		}

		restaurant, ok := restaurants[req.RestaurantID]
		if !ok {
			r, err := h.findActiveRestaurant(ctx, req.RestaurantID)
			if err != nil && !errors.Is(err, store.ErrRestaurantNotFound) {
				log.Error().Err(err).Str("restaurant_id", req.RestaurantID).Msg("restaurant lookup failed")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record analytics events"})
				return
			}
			restaurants[req.RestaurantID] = r
			restaurant = r
		}
		if restaurant == nil {
			rejected++
			continue
		}

		records = append(records, h.buildRecord(c, &req, restaurant, clientKey))
	}

	if rateLimited == len(raw) {
		h.rejectRateLimited(c, clientKey)
		return
	}

	if err := h.Records.InsertIngestionRecords(ctx, records); err != nil {
		log.Error().Err(err).Int("count", len(records)).Msg("failed to persist analytics batch")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record analytics events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "accepted": len(records), "rejected": rejected})
}

func (h *AnalyticsHandlers) rejectRateLimited(c *gin.Context, clientKey string) {
	retry := int(math.Ceil(h.Limiter.RetryAfter(clientKey).Seconds()))
	if retry < 1 {
		retry = 1
	}
	c.Header("Retry-After", strconv.Itoa(retry))
	c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
}

// findActiveRestaurant treats an inactive restaurant as missing.
func (h *AnalyticsHandlers) findActiveRestaurant(ctx context.Context, ref string) (*models.Restaurant, error) {
	r, err := h.Restaurants.FindRestaurant(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !r.Active {
		return nil, fmt.Errorf("%w: %s is inactive", store.ErrRestaurantNotFound, ref)
	}
	return r, nil
}

// buildRecord anonymizes the request context into a persisted record. The
// raw IP and user agent never leave this function.
func (h *AnalyticsHandlers) buildRecord(c *gin.Context, req *models.TrackRequest, restaurant *models.Restaurant, ipHash string) models.IngestionRecord {
	received := h.now().UTC()

	ua := c.Request.UserAgent()
	var (
		path, referrer string
		metadata       json.RawMessage
	)
	if req.Metadata != nil {
		if ua == "" {
			ua = req.Metadata.UserAgent
		}
		path = req.Metadata.Path
		referrer = req.Metadata.Referrer

		scrubbed := *req.Metadata
		scrubbed.UserAgent = ""
		if b, err := json.Marshal(scrubbed); err == nil {
			metadata = b
		}
	}

	ts := received
	if req.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, req.Timestamp); err == nil {
			ts = parsed.UTC()
		}
	}

	var spent uint32
	if req.TimeSpent != nil {
		spent = uint32(*req.TimeSpent)
	}

	return models.IngestionRecord{
		ID:            uuid.New().String(),
		EventType:     req.Type,
		RestaurantID:  restaurant.ID,
		MenuID:        req.MenuID,
		ItemID:        req.ItemID,
		CategoryID:    req.CategoryID,
		TimeSpent:     spent,
		SessionID:     req.SessionID,
		IPHash:        ipHash,
		UserAgentHash: h.Anonymizer.HashUserAgent(ua),
		DeviceType:    utils.DeviceType(ua),
		PagePath:      path,
		Referrer:      referrer,
		Metadata:      metadata,
		Timestamp:     ts,
		ReceivedAt:    received,
	}
}

// validateTrackRequest checks the fields each event type depends on.
func validateTrackRequest(req *models.TrackRequest) error {
	switch req.Type {
	case models.EventItemView:
		if req.ItemID == "" {
			return errors.New("itemId is required for item_view")
		}
	case models.EventCategoryView:
		if req.CategoryID == "" {
			return errors.New("categoryId is required for category_view")
		}
	case models.EventTimeSpent:
		if req.TimeSpent == nil {
			return errors.New("timeSpent is required for time_spent")
		}
	}
	return nil
}
