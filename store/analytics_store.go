package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"menutrack/api/database"
	"menutrack/api/models"
	"menutrack/api/utils"
)

type AnalyticsStore struct {
	DB *database.ClickHouseClient
}

// StatsFilter scopes a stats query to one restaurant and time range.
// EventType is optional.
type StatsFilter struct {
	RestaurantID string
	Start        time.Time
	End          time.Time
	EventType    string
}

type EventTypeCountByTime struct {
	Time      time.Time `json:"time"`
	EventType *string   `json:"eventType,omitempty"`
	Count     uint64    `json:"count"`
}

func NewAnalyticsStore(chClient *database.ClickHouseClient) *AnalyticsStore {
	return &AnalyticsStore{
		DB: chClient,
	}
}

// InsertIngestionRecords writes records in a single batch.
func (s *AnalyticsStore) InsertIngestionRecords(ctx context.Context, records []models.IngestionRecord) error {
	if len(records) == 0 {
		return nil
	}

	// column order must match analytics_events
	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO analytics_events (
			id, event_type, restaurant_id, menu_id, item_id, category_id, time_spent, session_id,
			ip_hash, user_agent_hash, device_type, page_path, referrer, metadata, timestamp, received_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, r := range records {
		err := batch.Append(
			r.ID,
			r.EventType,
			r.RestaurantID,
			r.MenuID,
			r.ItemID,
			r.CategoryID,
			r.TimeSpent,
			r.SessionID,
			r.IPHash,
			r.UserAgentHash,
			r.DeviceType,
			r.PagePath,
			r.Referrer,
			string(r.Metadata),
			r.Timestamp,
			r.ReceivedAt,
		)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append record %s: %w", r.ID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Debug().Int("count", len(records)).Msg("inserted analytics records")
	return nil
}

func (s *AnalyticsStore) GetEventCountsOverTime(ctx context.Context, interval string, f StatsFilter) ([]EventTypeCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	args := []interface{}{f.RestaurantID, f.Start, f.End}

	selectCols := fmt.Sprintf("toStartOf%s(timestamp) AS time_bucket, count() AS total_events", interval)
	groupByCols := "time_bucket"
	whereClause := "WHERE restaurant_id = ? AND timestamp >= ? AND timestamp <= ?"
	orderByCols := "time_bucket ASC"
	isFilteringByType := f.EventType != ""

	if isFilteringByType {
		selectCols += ", event_type"
		groupByCols += ", event_type"
		whereClause += " AND event_type = ?"
		args = append(args, f.EventType)
		orderByCols += ", event_type ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM analytics_events
		%s
		GROUP BY %s
		ORDER BY %s
	`, selectCols, whereClause, groupByCols, orderByCols)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	var results []EventTypeCountByTime
	for rows.Next() {
		var (
			timeBucket    time.Time
			count         uint64
			eventTypeDB   string
			currentResult EventTypeCountByTime
		)

		if isFilteringByType {
			if err := rows.Scan(&timeBucket, &count, &eventTypeDB); err != nil {
				return nil, fmt.Errorf("failed to scan event counts row: %w", err)
			}
			currentResult.EventType = &eventTypeDB
		} else {
			if err := rows.Scan(&timeBucket, &count); err != nil {
				return nil, fmt.Errorf("failed to scan event counts row: %w", err)
			}
		}

		currentResult.Time = timeBucket
		currentResult.Count = count
		results = append(results, currentResult)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event counts over time query: %w", err)
	}

	return results, nil
}

// GetAverageTimeSpent returns the mean time_spent in seconds, 0 when there
// are no time_spent events in range.
func (s *AnalyticsStore) GetAverageTimeSpent(ctx context.Context, f StatsFilter) (float64, error) {
	query := `
		SELECT avg(time_spent)
		FROM analytics_events
		WHERE restaurant_id = ? AND event_type = 'time_spent' AND timestamp >= ? AND timestamp <= ?
	`

	var avg float64
	if err := s.DB.Conn.QueryRow(ctx, query, f.RestaurantID, f.Start, f.End).Scan(&avg); err != nil {
		return 0, fmt.Errorf("failed to query average time spent: %w", err)
	}

	// avg() over no rows is NaN, which JSON cannot carry
	if math.IsNaN(avg) {
		return 0, nil
	}
	return avg, nil
}

func (s *AnalyticsStore) GetUniqueSessionsOverTime(ctx context.Context, interval string, f StatsFilter) ([]EventTypeCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	query := fmt.Sprintf(`
		SELECT toStartOf%s(timestamp) AS time_bucket, uniq(session_id) AS unique_sessions
		FROM analytics_events
		WHERE restaurant_id = ? AND timestamp >= ? AND timestamp <= ?
		GROUP BY time_bucket
		ORDER BY time_bucket ASC
	`, interval)

	rows, err := s.DB.Conn.Query(ctx, query, f.RestaurantID, f.Start, f.End)
	if err != nil {
		return nil, fmt.Errorf("failed to query unique sessions over time: %w", err)
	}
	defer rows.Close()

	var results []EventTypeCountByTime
	for rows.Next() {
		var timeBucket time.Time
		var sessions uint64
		if err := rows.Scan(&timeBucket, &sessions); err != nil {
			return nil, fmt.Errorf("failed to scan unique sessions row: %w", err)
		}
		results = append(results, EventTypeCountByTime{
			Time:  timeBucket,
			Count: sessions,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for unique sessions: %w", err)
	}

	return results, nil
}

func (s *AnalyticsStore) GetTopItems(ctx context.Context, f StatsFilter, limit uint64) ([]models.TopItemResult, error) {
	if limit == 0 {
		limit = 10
	}

	query := `
		SELECT item_id, count() AS views
		FROM analytics_events
		WHERE restaurant_id = ? AND event_type = 'item_view' AND timestamp >= ? AND timestamp <= ?
		GROUP BY item_id
		ORDER BY views DESC
		LIMIT ?
	`
	rows, err := s.DB.Conn.Query(ctx, query, f.RestaurantID, f.Start, f.End, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top items: %w", err)
	}
	defer rows.Close()

	var results []models.TopItemResult
	for rows.Next() {
		var r models.TopItemResult
		if err := rows.Scan(&r.ItemID, &r.Views); err != nil {
			return nil, fmt.Errorf("failed to scan top items row: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top items: %w", err)
	}

	return results, nil
}

func (s *AnalyticsStore) GetDeviceBreakdown(ctx context.Context, f StatsFilter) ([]models.DeviceCountResult, error) {
	query := `
		SELECT device_type, count() AS events
		FROM analytics_events
		WHERE restaurant_id = ? AND timestamp >= ? AND timestamp <= ?
		GROUP BY device_type
		ORDER BY events DESC
	`
	rows, err := s.DB.Conn.Query(ctx, query, f.RestaurantID, f.Start, f.End)
	if err != nil {
		return nil, fmt.Errorf("failed to query device breakdown: %w", err)
	}
	defer rows.Close()

	var results []models.DeviceCountResult
	for rows.Next() {
		var r models.DeviceCountResult
		if err := rows.Scan(&r.DeviceType, &r.Count); err != nil {
			return nil, fmt.Errorf("failed to scan device row: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for device breakdown: %w", err)
	}

	return results, nil
}
