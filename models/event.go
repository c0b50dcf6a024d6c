// api/models/event.go
package models

import (
	"encoding/json"
	"time"
)

// Event types accepted by the ingestion endpoint.
const (
	EventPageView     = "page_view"
	EventItemView     = "item_view"
	EventCategoryView = "category_view"
	EventTimeSpent    = "time_spent"
)

// TrackRequest is the JSON body of POST /analytics/track.
type TrackRequest struct {
	Type         string         `json:"type" binding:"required,oneof=page_view item_view category_view time_spent"`
	RestaurantID string         `json:"restaurantId" binding:"required,max=128"`
	MenuID       string         `json:"menuId,omitempty" binding:"max=128"`
	ItemID       string         `json:"itemId,omitempty" binding:"max=128"`
	CategoryID   string         `json:"categoryId,omitempty" binding:"max=128"`
	TimeSpent    *int           `json:"timeSpent,omitempty" binding:"omitempty,min=0,max=86400"`
	SessionID    string         `json:"sessionId" binding:"required,max=128"`
	Timestamp    string         `json:"timestamp,omitempty"`
	Metadata     *EventMetadata `json:"metadata,omitempty"`
}

// EventMetadata is the page snapshot sent by the tracker.
type EventMetadata struct {
	Path           string `json:"path,omitempty"`
	Referrer       string `json:"referrer,omitempty"`
	UserAgent      string `json:"userAgent,omitempty"`
	ScreenWidth    int    `json:"screenWidth,omitempty"`
	ScreenHeight   int    `json:"screenHeight,omitempty"`
	ViewportWidth  int    `json:"viewportWidth,omitempty"`
	ViewportHeight int    `json:"viewportHeight,omitempty"`
}

// IngestionRecord is what gets persisted for an accepted event. It never
// carries the raw client IP or user agent.
type IngestionRecord struct {
	ID            string          `json:"id"`
	EventType     string          `json:"eventType"`
	RestaurantID  string          `json:"restaurantId"`
	MenuID        string          `json:"menuId,omitempty"`
	ItemID        string          `json:"itemId,omitempty"`
	CategoryID    string          `json:"categoryId,omitempty"`
	TimeSpent     uint32          `json:"timeSpent"`
	SessionID     string          `json:"sessionId"`
	IPHash        string          `json:"ipHash"`
	UserAgentHash string          `json:"userAgentHash"`
	DeviceType    string          `json:"deviceType"`
	PagePath      string          `json:"pagePath"`
	Referrer      string          `json:"referrer"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	ReceivedAt    time.Time       `json:"receivedAt"`
}

type TopItemResult struct {
	ItemID string `json:"itemId"`
	Views  uint64 `json:"views"`
}

type DeviceCountResult struct {
	DeviceType string `json:"deviceType"`
	Count      uint64 `json:"count"`
}
