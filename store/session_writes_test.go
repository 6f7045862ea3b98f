package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourtrack/api/models"
)

var (
	completeSQL = regexp.QuoteMeta(`WHERE session_id = $1 AND end_time IS NULL`)
	markSentSQL = regexp.QuoteMeta(`WHERE session_id = $1 AND event_sent = false`)
	existsSQL   = regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM tour_sessions WHERE session_id = $1)`)
)

func newMockStore(t *testing.T) (*SessionStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSessionStore(db), mock
}

func completedSession(id string) *models.TourSession {
	end := time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC)
	return &models.TourSession{
		SessionID:        id,
		EndedAt:          &end,
		DurationSeconds:  300,
		Completed:        true,
		CompletionReason: models.CompletionReasonUser,
		EngagementScore:  55,
	}
}

// completeArgs pins the session id and accepts any value for the ten
// completion columns.
func completeArgs(id string) []driver.Value {
	args := []driver.Value{id}
	for i := 0; i < 10; i++ {
		args = append(args, sqlmock.AnyArg())
	}
	return args
}

func TestCompleteSessionWritesOnce(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		exists   *bool
		wantErr  error
	}{
		{name: "first completion", affected: 1},
		{name: "already completed", affected: 0, exists: boolPtr(true), wantErr: ErrSessionCompleted},
		{name: "unknown session", affected: 0, exists: boolPtr(false), wantErr: ErrSessionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectExec(completeSQL).
				WithArgs(completeArgs("tour-s1")...).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			if tt.exists != nil {
				mock.ExpectQuery(existsSQL).
					WithArgs("tour-s1").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(*tt.exists))
			}

			err := s.CompleteSession(context.Background(), completedSession("tour-s1"))
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMarkEventSentWritesOnce(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		exists   *bool
		wantErr  error
	}{
		{name: "first event", affected: 1},
		{name: "event already sent", affected: 0, exists: boolPtr(true), wantErr: ErrEventAlreadySent},
		{name: "unknown session", affected: 0, exists: boolPtr(false), wantErr: ErrSessionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectExec(markSentSQL).
				WithArgs("tour-s1", "evt-1").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			if tt.exists != nil {
				mock.ExpectQuery(existsSQL).
					WithArgs("tour-s1").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(*tt.exists))
			}

			err := s.MarkEventSent(context.Background(), "tour-s1", "evt-1")
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCheckAffectedPropagatesLookupError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(markSentSQL).
		WithArgs("tour-s1", "evt-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(existsSQL).
		WithArgs("tour-s1").
		WillReturnError(sql.ErrConnDone)

	err := s.MarkEventSent(context.Background(), "tour-s1", "evt-1")
	require.ErrorIs(t, err, sql.ErrConnDone)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
	assert.NotErrorIs(t, err, ErrEventAlreadySent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSessionDuplicate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO tour_sessions`)).
		WillReturnError(&pq.Error{Code: uniqueViolation})

	err := s.CreateSession(context.Background(), &models.TourSession{
		SessionID:  "tour-dup",
		PropertyID: "prop-1",
		TourKind:   models.TourKindRealsee,
		StartedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, ErrSessionExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM tour_sessions WHERE session_id = $1`)).
		WithArgs("tour-missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetSession(context.Background(), "tour-missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func boolPtr(b bool) *bool { return &b }
