package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"tourtrack/api/database"
	"tourtrack/api/models"
	"tourtrack/api/utils"
)

// AnalyticsStore archives the flat action log and caches derived milestones
// in ClickHouse for reporting queries.
type AnalyticsStore struct {
	DB *database.ClickHouseClient
}

func NewAnalyticsStore(chClient *database.ClickHouseClient) *AnalyticsStore {
	return &AnalyticsStore{
		DB: chClient,
	}
}

// ActionRecords flattens a session's action log into archive rows.
func ActionRecords(session *models.TourSession) []models.ActionRecord {
	records := make([]models.ActionRecord, 0, len(session.ActionsTaken))
	for _, a := range session.ActionsTaken {
		rec := models.ActionRecord{
			SessionID:  session.SessionID,
			PropertyID: session.PropertyID,
			TourKind:   string(session.TourKind),
			ActionType: a.Type,
			Target:     a.Target,
			Room:       a.Room,
			Timestamp:  a.Timestamp.UTC(),
		}
		if rec.Room == "" {
			rec.Room = models.UnknownRoom
		}
		if a.DwellSeconds != nil {
			rec.DwellMs = int64(math.Round(*a.DwellSeconds * 1000))
		}
		if len(a.Metadata) > 0 {
			if b, err := json.Marshal(a.Metadata); err == nil {
				rec.Metadata = string(b)
			}
		}
		records = append(records, rec)
	}
	return records
}

// MilestoneRecords converts milestones into cache rows tagged with their source
// ("server" for detector output, "client" for optimistic reports).
func MilestoneRecords(sessionID, propertyID, source string, milestones []models.Milestone) []models.MilestoneRecord {
	records := make([]models.MilestoneRecord, 0, len(milestones))
	for _, m := range milestones {
		records = append(records, models.MilestoneRecord{
			SessionID:        sessionID,
			PropertyID:       propertyID,
			Kind:             string(m.Kind),
			ValueScore:       uint8(m.Value),
			Room:             m.Room,
			DwellSeconds:     m.DwellSeconds,
			InteractionCount: uint32(m.InteractionCount),
			Source:           source,
			Timestamp:        m.Timestamp.UTC(),
		})
	}
	return records
}

func (s *AnalyticsStore) InsertActions(ctx context.Context, records []models.ActionRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO tour_actions (
			session_id, property_id, tour_kind, action_type, target, room, timestamp, dwell_ms, metadata
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, r := range records {
		err := batch.Append(
			r.SessionID,
			r.PropertyID,
			r.TourKind,
			r.ActionType,
			r.Target,
			r.Room,
			r.Timestamp,
			r.DwellMs,
			r.Metadata,
		)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("session_id", r.SessionID).Msg("error appending action to batch")
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Ctx(ctx).Debug().Int("count", len(records)).Msg("archived tour actions")
	return nil
}

func (s *AnalyticsStore) InsertMilestones(ctx context.Context, records []models.MilestoneRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO tour_milestones (
			session_id, property_id, kind, value_score, room, dwell_seconds, interaction_count, source, timestamp
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, r := range records {
		err := batch.Append(
			r.SessionID,
			r.PropertyID,
			r.Kind,
			r.ValueScore,
			r.Room,
			r.DwellSeconds,
			r.InteractionCount,
			r.Source,
			r.Timestamp,
		)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("session_id", r.SessionID).Msg("error appending milestone to batch")
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

func (s *AnalyticsStore) GetActionCountsOverTime(ctx context.Context, interval string, start, end time.Time, actionType, propertyID string) ([]models.ActionCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	args := []any{start, end}
	selectCols := fmt.Sprintf("toStartOf%s(timestamp) AS time_bucket, count() AS total_actions", interval)
	groupByCols := "time_bucket"
	whereClause := "WHERE timestamp >= ? AND timestamp <= ?"
	orderByCols := "time_bucket ASC"
	byType := actionType != ""

	if propertyID != "" {
		whereClause += " AND property_id = ?"
		args = append(args, propertyID)
	}
	if byType {
		selectCols += ", action_type"
		groupByCols += ", action_type"
		whereClause += " AND action_type = ?"
		args = append(args, actionType)
		orderByCols += ", action_type ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM tour_actions
		%s
		GROUP BY %s
		ORDER BY %s
	`, selectCols, whereClause, groupByCols, orderByCols)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query action counts over time: %w", err)
	}
	defer rows.Close()

	var results []models.ActionCountByTime
	for rows.Next() {
		var (
			bucket time.Time
			count  uint64
			kind   string
			result models.ActionCountByTime
		)
		if byType {
			if err := rows.Scan(&bucket, &count, &kind); err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("error scanning action count row")
				continue
			}
			result.ActionType = &kind
		} else if err := rows.Scan(&bucket, &count); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("error scanning action count row")
			continue
		}
		result.Time = bucket
		result.Count = count
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during action counts query: %w", err)
	}
	return results, nil
}

// GetAverageRoomDwell averages the dwell carried by room_exit actions, in seconds.
func (s *AnalyticsStore) GetAverageRoomDwell(ctx context.Context, room string, start, end time.Time) (float64, error) {
	query := `SELECT avg(dwell_ms) FROM tour_actions WHERE action_type = 'room_exit' AND timestamp >= ? AND timestamp <= ?`
	args := []any{start, end}
	if room != "" {
		query += ` AND room = ?`
		args = append(args, room)
	}

	var avgMs float64
	if err := s.DB.Conn.QueryRow(ctx, query, args...).Scan(&avgMs); err != nil {
		return 0, fmt.Errorf("failed to query average room dwell: %w", err)
	}
	// avg() over zero rows is NaN, which JSON cannot carry.
	if math.IsNaN(avgMs) {
		return 0, nil
	}
	return avgMs / 1000, nil
}

func (s *AnalyticsStore) GetTopRooms(ctx context.Context, start, end time.Time, propertyID string, limit uint64) ([]models.TopRoomResult, error) {
	if limit == 0 {
		limit = 10
	}

	query := `
		SELECT room, count() AS visits
		FROM tour_actions
		WHERE action_type = 'room_enter' AND timestamp >= ? AND timestamp <= ?`
	args := []any{start, end}
	if propertyID != "" {
		query += ` AND property_id = ?`
		args = append(args, propertyID)
	}
	query += `
		GROUP BY room
		ORDER BY visits DESC
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top rooms: %w", err)
	}
	defer rows.Close()

	var results []models.TopRoomResult
	for rows.Next() {
		var r models.TopRoomResult
		if err := rows.Scan(&r.Room, &r.Visits); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("error scanning top room row")
			continue
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top rooms: %w", err)
	}
	return results, nil
}
