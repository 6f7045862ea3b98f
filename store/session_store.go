package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"tourtrack/api/models"
)

var (
	ErrSessionNotFound  = errors.New("tour session not found")
	ErrSessionExists    = errors.New("tour session already exists")
	ErrSessionCompleted = errors.New("tour session already completed")
	ErrEventAlreadySent = errors.New("attribution event already sent")
)

// SessionStore persists tour sessions in Postgres. Rooms and actions are
// stored as JSONB in the order the client recorded them.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

const sessionColumns = `
	session_id, property_id, user_id, tour_type, user_info, start_time, end_time,
	total_duration, rooms_visited, actions_taken, completed, completion_reason,
	engagement_score, lead_quality_score, event_sent, event_id,
	fbclid, fbp, utm_source, utm_medium, utm_campaign, utm_content, utm_term,
	created_at, updated_at`

func (s *SessionStore) CreateSession(ctx context.Context, session *models.TourSession) error {
	userInfo, err := marshalNullable(session.UserInfo)
	if err != nil {
		return err
	}
	a := session.Attribution

	query := `
		INSERT INTO tour_sessions (
			session_id, property_id, user_id, tour_type, user_info, start_time,
			fbclid, fbp, utm_source, utm_medium, utm_campaign, utm_content, utm_term
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at;
	`
	err = s.db.QueryRowContext(ctx, query,
		session.SessionID,
		session.PropertyID,
		nullString(session.UserID),
		string(session.TourKind),
		userInfo,
		session.StartedAt,
		a.ClickID, a.BrowserID, a.UTMSource, a.UTMMedium, a.UTMCampaign, a.UTMContent, a.UTMTerm,
	).Scan(&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("session '%s': %w", session.SessionID, ErrSessionExists)
		}
		return fmt.Errorf("failed to create tour session: %w", err)
	}

	log.Ctx(ctx).Debug().Str("session_id", session.SessionID).Str("property_id", session.PropertyID).Msg("tour session created")
	return nil
}

func (s *SessionStore) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM tour_sessions WHERE session_id = $1)`, sessionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check tour session: %w", err)
	}
	return exists, nil
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (*models.TourSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM tour_sessions WHERE session_id = $1`
	session, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session '%s': %w", sessionID, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("failed to get tour session: %w", err)
	}
	return session, nil
}

// CompleteSession finalizes a session exactly once. A second call fails with
// ErrSessionCompleted and leaves the stored record untouched.
func (s *SessionStore) CompleteSession(ctx context.Context, session *models.TourSession) error {
	rooms, err := json.Marshal(nonNilRooms(session.RoomsVisited))
	if err != nil {
		return fmt.Errorf("failed to encode rooms: %w", err)
	}
	actions, err := json.Marshal(nonNilActions(session.ActionsTaken))
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}
	userInfo, err := marshalNullable(session.UserInfo)
	if err != nil {
		return err
	}

	query := `
		UPDATE tour_sessions SET
			end_time = $2,
			total_duration = $3,
			rooms_visited = $4,
			actions_taken = $5,
			completed = $6,
			completion_reason = $7,
			engagement_score = $8,
			lead_quality_score = $9,
			user_info = COALESCE($10, user_info),
			user_id = COALESCE($11, user_id),
			updated_at = now()
		WHERE session_id = $1 AND end_time IS NULL
	`
	res, err := s.db.ExecContext(ctx, query,
		session.SessionID,
		session.EndedAt,
		session.DurationSeconds,
		string(rooms),
		string(actions),
		session.Completed,
		session.CompletionReason,
		session.EngagementScore,
		session.LeadQualityScore,
		userInfo,
		nullString(session.UserID),
	)
	if err != nil {
		return fmt.Errorf("failed to complete tour session: %w", err)
	}
	return s.checkAffected(ctx, res, session.SessionID, ErrSessionCompleted)
}

// MarkEventSent records the attribution event id. The flag is only ever set
// once; a second call reports ErrEventAlreadySent.
func (s *SessionStore) MarkEventSent(ctx context.Context, sessionID, eventID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tour_sessions SET event_sent = true, event_id = $2, updated_at = now()
		WHERE session_id = $1 AND event_sent = false
	`, sessionID, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark attribution event: %w", err)
	}
	return s.checkAffected(ctx, res, sessionID, ErrEventAlreadySent)
}

func (s *SessionStore) checkAffected(ctx context.Context, res sql.Result, sessionID string, conflict error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}
	exists, err := s.SessionExists(ctx, sessionID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("session '%s': %w", sessionID, ErrSessionNotFound)
	}
	return fmt.Errorf("session '%s': %w", sessionID, conflict)
}

// Summary aggregates sessions started inside the filter's range and returns
// the most recent ones.
func (s *SessionStore) Summary(ctx context.Context, filter models.SummaryFilter) (*models.SessionSummary, error) {
	where, args := summaryWhere(filter)

	summary := &models.SessionSummary{}
	aggQuery := `
		SELECT
			count(*),
			count(*) FILTER (WHERE completed),
			COALESCE(avg(engagement_score), 0),
			count(*) FILTER (WHERE event_sent)
		FROM tour_sessions ` + where
	err := s.db.QueryRowContext(ctx, aggQuery, args...).Scan(
		&summary.TotalSessions,
		&summary.CompletedSessions,
		&summary.AverageEngagementScore,
		&summary.EventsSent,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate tour sessions: %w", err)
	}
	if summary.TotalSessions > 0 {
		summary.CompletionRate = float64(summary.CompletedSessions) / float64(summary.TotalSessions)
		summary.EventRate = float64(summary.EventsSent) / float64(summary.TotalSessions)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	listQuery := fmt.Sprintf(`SELECT %s FROM tour_sessions %s ORDER BY start_time DESC LIMIT $%d`,
		sessionColumns, where, len(args)+1)
	rows, err := s.db.QueryContext(ctx, listQuery, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent tour sessions: %w", err)
	}
	defer rows.Close()

	summary.RecentSessions = []models.TourSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("error scanning tour session row")
			continue
		}
		summary.RecentSessions = append(summary.RecentSessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error while listing tour sessions: %w", err)
	}
	return summary, nil
}

func summaryWhere(filter models.SummaryFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.PropertyID != "" {
		args = append(args, filter.PropertyID)
		clauses = append(clauses, fmt.Sprintf("property_id = $%d", len(args)))
	}
	if !filter.Start.IsZero() {
		args = append(args, filter.Start)
		clauses = append(clauses, fmt.Sprintf("start_time >= $%d", len(args)))
	}
	if !filter.End.IsZero() {
		args = append(args, filter.End)
		clauses = append(clauses, fmt.Sprintf("start_time <= $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.TourSession, error) {
	var (
		session         models.TourSession
		userID, eventID sql.NullString
		userInfo        []byte
		endTime         sql.NullTime
		rooms, actions  []byte
		tourType        string
	)
	a := &session.Attribution
	err := row.Scan(
		&session.SessionID, &session.PropertyID, &userID, &tourType, &userInfo,
		&session.StartedAt, &endTime, &session.DurationSeconds, &rooms, &actions,
		&session.Completed, &session.CompletionReason, &session.EngagementScore,
		&session.LeadQualityScore, &session.EventSent, &eventID,
		&a.ClickID, &a.BrowserID, &a.UTMSource, &a.UTMMedium, &a.UTMCampaign, &a.UTMContent, &a.UTMTerm,
		&session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	session.TourKind = models.TourKind(tourType)
	session.UserID = userID.String
	session.EventID = eventID.String
	if endTime.Valid {
		t := endTime.Time
		session.EndedAt = &t
	}
	if len(userInfo) > 0 {
		session.UserInfo = &models.UserInfo{}
		if err := json.Unmarshal(userInfo, session.UserInfo); err != nil {
			return nil, fmt.Errorf("failed to decode user info: %w", err)
		}
	}
	if err := json.Unmarshal(rooms, &session.RoomsVisited); err != nil {
		return nil, fmt.Errorf("failed to decode rooms: %w", err)
	}
	if err := json.Unmarshal(actions, &session.ActionsTaken); err != nil {
		return nil, fmt.Errorf("failed to decode actions: %w", err)
	}
	return &session, nil
}

// marshalNullable encodes user info for a JSONB column. lib/pq sends []byte
// as bytea, so JSON goes over the wire as text.
func marshalNullable(user *models.UserInfo) (sql.NullString, error) {
	if user == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(user)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode user info: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNilRooms(v []models.RoomVisit) []models.RoomVisit {
	if v == nil {
		return []models.RoomVisit{}
	}
	return v
}

func nonNilActions(v []models.TourAction) []models.TourAction {
	if v == nil {
		return []models.TourAction{}
	}
	return v
}
