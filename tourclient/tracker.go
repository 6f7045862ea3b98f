// Package tourclient holds the client side of a tour session: a state
// machine that records room visits and actions while the visitor walks the
// tour, and submits the action log once when the tour ends.
package tourclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tourtrack/api/engagement"
	"tourtrack/api/models"
	"tourtrack/api/utils"
)

type State int

const (
	StateIdle State = iota
	StateCreating
	StateTracking
	StateCompleting
	StateCompleted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCreating:
		return "creating"
	case StateTracking:
		return "tracking"
	case StateCompleting:
		return "completing"
	case StateCompleted:
		return "completed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrNotTracking = errors.New("tour session is not being tracked")
	// ErrSessionNotPersisted means the server has no record of the session,
	// so completing it would write against nothing.
	ErrSessionNotPersisted = errors.New("tour session was not durably created")
	ErrFinished            = errors.New("tour tracker already finished")
)

type Options struct {
	PropertyID  string
	TourKind    models.TourKind
	UserInfo    *models.UserInfo
	Attribution *models.AttributionParams

	// Timeout bounds every call to the persistence collaborator.
	Timeout time.Duration
	// FlushOnTeardown sends the buffered action log when Close completes a
	// session. When false the teardown completion carries an empty payload.
	FlushOnTeardown bool

	Now          func() time.Time
	NewSessionID func() string
	Logger       *zerolog.Logger
}

// DefaultOptions returns options with a 10s timeout and teardown flushing on.
func DefaultOptions(propertyID string, kind models.TourKind) Options {
	return Options{
		PropertyID:      propertyID,
		TourKind:        kind,
		Timeout:         10 * time.Second,
		FlushOnTeardown: true,
	}
}

// Tracker owns one tour session from StartTracking until StopTracking or
// Close. It is safe for concurrent use; network calls run without holding
// the lock, and the creating/completing states reject re-entrant starts and
// stops while a request is outstanding.
type Tracker struct {
	store  Persistence
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	state   State
	created bool
	session models.TourSession
	// openRoom indexes the RoomVisit without an exit time, or -1.
	openRoom int
	result   *models.CompleteSessionResponse
}

func NewTracker(store Persistence, opts Options) *Tracker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewSessionID == nil {
		opts.NewSessionID = utils.GenerateSessionID
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Tracker{
		store:    store,
		opts:     opts,
		logger:   logger.With().Str("component", "tour_tracker").Str("property_id", opts.PropertyID).Logger(),
		openRoom: -1,
	}
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session.SessionID
}

// Result is the server's answer to the completion, once there is one.
func (t *Tracker) Result() *models.CompleteSessionResponse {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Snapshot returns a copy of the session for display.
func (t *Tracker) Snapshot() models.TourSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copySession(t.session)
}

func (t *Tracker) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.opts.Timeout)
}

func (t *Tracker) now() time.Time {
	return t.opts.Now().UTC()
}

// StartTracking creates the session on the server. Calling it while a start
// is in flight or the session is already tracked does nothing. On failure the
// tracker returns to idle and can be started again.
func (t *Tracker) StartTracking(ctx context.Context) error {
	t.mu.Lock()
	switch t.state {
	case StateCreating, StateTracking, StateCompleting:
		t.mu.Unlock()
		return nil
	case StateCompleted, StateClosed:
		t.mu.Unlock()
		return ErrFinished
	}
	t.state = StateCreating
	t.session = models.TourSession{
		SessionID:  t.opts.NewSessionID(),
		PropertyID: t.opts.PropertyID,
		TourKind:   t.opts.TourKind,
		UserInfo:   t.opts.UserInfo,
		StartedAt:  t.now(),
	}
	if t.opts.UserInfo != nil {
		t.session.UserID = t.opts.UserInfo.UserID
	}
	if t.opts.Attribution != nil {
		t.session.Attribution = *t.opts.Attribution
	}
	t.openRoom = -1
	req := models.CreateSessionRequest{
		SessionID:   t.session.SessionID,
		PropertyID:  t.session.PropertyID,
		TourKind:    t.session.TourKind,
		UserInfo:    t.opts.UserInfo,
		Attribution: t.opts.Attribution,
		StartedAt:   t.session.StartedAt,
	}
	t.mu.Unlock()

	logger := t.logger.With().Str("session_id", req.SessionID).Logger()

	cctx, cancel := t.withTimeout(ctx)
	defer cancel()
	err := t.store.Create(cctx, req)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		if t.state == StateCreating {
			t.state = StateIdle
			t.session = models.TourSession{}
		}
		logger.Error().Err(err).Msg("failed to create tour session")
		return fmt.Errorf("failed to start tour session: %w", err)
	}

	t.created = true
	if t.state != StateCreating {
		// Closed while the create was in flight; the server record stays open.
		logger.Warn().Str("state", t.state.String()).Msg("tour session created after tracker closed")
		return ErrFinished
	}
	t.state = StateTracking
	logger.Info().Msg("tour session tracking started")
	return nil
}

// TrackAction records a user action tagged with the current room.
func (t *Tracker) TrackAction(kind, target string, metadata map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateTracking {
		return ErrNotTracking
	}
	t.appendAction(models.TourAction{
		Type:      kind,
		Target:    target,
		Timestamp: t.now(),
		Metadata:  metadata,
	})
	return nil
}

// appendAction tags a with the open room and appends it to the session log
// and to the open visit. Callers hold t.mu.
func (t *Tracker) appendAction(a models.TourAction) {
	if a.Room == "" {
		a.Room = models.UnknownRoom
		if t.openRoom >= 0 {
			a.Room = t.session.RoomsVisited[t.openRoom].Room
		}
	}
	t.session.ActionsTaken = append(t.session.ActionsTaken, a)
	if t.openRoom >= 0 {
		visit := &t.session.RoomsVisited[t.openRoom]
		visit.Actions = append(visit.Actions, a)
	}
}

// EnterRoom opens a visit to name, closing the current one first.
func (t *Tracker) EnterRoom(ctx context.Context, name string) error {
	t.mu.Lock()
	if t.state != StateTracking {
		t.mu.Unlock()
		return ErrNotTracking
	}
	now := t.now()
	focus := t.exitRoomLocked(now)

	t.session.RoomsVisited = append(t.session.RoomsVisited, models.RoomVisit{Room: name, EnteredAt: now})
	t.openRoom = len(t.session.RoomsVisited) - 1
	t.appendAction(models.TourAction{Type: models.ActionRoomEnter, Room: name, Timestamp: now})
	t.mu.Unlock()

	t.reportFocus(ctx, focus)
	return nil
}

// ExitRoom closes the open visit, if any.
func (t *Tracker) ExitRoom(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateTracking {
		t.mu.Unlock()
		return ErrNotTracking
	}
	focus := t.exitRoomLocked(t.now())
	t.mu.Unlock()

	t.reportFocus(ctx, focus)
	return nil
}

// exitRoomLocked closes the open visit at now. It returns the room_focus
// report to send when the dwell crosses the focus threshold.
func (t *Tracker) exitRoomLocked(now time.Time) *models.RecordMilestoneRequest {
	if t.openRoom < 0 {
		return nil
	}
	focus := t.closeVisit(&t.session, t.openRoom, now)
	t.openRoom = -1
	return focus
}

// closeVisit stamps the exit of session.RoomsVisited[idx] and appends a
// room_exit action carrying its dwell to the visit and the session log.
func (t *Tracker) closeVisit(session *models.TourSession, idx int, now time.Time) *models.RecordMilestoneRequest {
	visit := &session.RoomsVisited[idx]
	exited := now
	visit.ExitedAt = &exited
	dwell := now.Sub(visit.EnteredAt)
	dwellSeconds := dwell.Seconds()

	exit := models.TourAction{
		Type:         models.ActionRoomExit,
		Room:         visit.Room,
		Timestamp:    now,
		DwellSeconds: &dwellSeconds,
	}
	session.ActionsTaken = append(session.ActionsTaken, exit)
	visit.Actions = append(visit.Actions, exit)

	if dwell <= engagement.RoomFocusThreshold {
		return nil
	}
	return &models.RecordMilestoneRequest{
		SessionID:     session.SessionID,
		MilestoneType: models.MilestoneRoomFocus,
		MilestoneData: models.MilestoneData{
			Room:             visit.Room,
			TimeSpent:        dwellSeconds,
			InteractionCount: len(visit.Actions) - 2,
		},
		UserInfo:    t.opts.UserInfo,
		PropertyID:  t.opts.PropertyID,
		Attribution: t.opts.Attribution,
		Timestamp:   now,
	}
}

// reportFocus sends an optimistic room_focus milestone. Failures are logged
// only; the server recomputes milestones at completion.
func (t *Tracker) reportFocus(ctx context.Context, req *models.RecordMilestoneRequest) {
	if req == nil {
		return
	}
	cctx, cancel := t.withTimeout(ctx)
	defer cancel()

	logger := t.logger.With().Str("session_id", req.SessionID).Str("room", req.MilestoneData.Room).Logger()
	resp, err := t.store.RecordMilestone(cctx, *req)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to record room focus milestone")
		return
	}
	logger.Debug().Int("value_score", resp.Milestone.ValueScore).Msg("room focus milestone recorded")
}

// StopTracking completes the session with the given reason. A second call
// while a completion is in flight returns (nil, nil) without a request. The
// session must be confirmed on the server first; if it is not, the
// completion is aborted with ErrSessionNotPersisted. Any failure returns the
// tracker to tracking so the caller can retry.
func (t *Tracker) StopTracking(ctx context.Context, reason string) (*models.CompleteSessionResponse, error) {
	t.mu.Lock()
	switch t.state {
	case StateCompleting:
		t.mu.Unlock()
		t.logger.Debug().Msg("tour completion already in flight")
		return nil, nil
	case StateTracking:
	default:
		t.mu.Unlock()
		return nil, ErrNotTracking
	}
	if !t.created {
		t.mu.Unlock()
		return nil, ErrSessionNotPersisted
	}
	t.state = StateCompleting
	sessionID := t.session.SessionID
	t.mu.Unlock()

	logger := t.logger.With().Str("session_id", sessionID).Str("reason", reason).Logger()

	cctx, cancel := t.withTimeout(ctx)
	defer cancel()

	exists, err := t.store.VerifyExists(cctx, sessionID)
	if err != nil || !exists {
		t.revert()
		if err == nil {
			err = ErrSessionNotPersisted
		} else {
			err = fmt.Errorf("failed to verify tour session: %w", err)
		}
		logger.Error().Err(err).Msg("tour completion aborted")
		return nil, err
	}

	t.mu.Lock()
	req, final, focus := t.completionRequest(reason, true)
	t.mu.Unlock()

	resp, err := t.store.Complete(cctx, req)
	if err != nil {
		t.revert()
		logger.Error().Err(err).Msg("failed to complete tour session")
		return nil, fmt.Errorf("failed to complete tour session: %w", err)
	}

	t.mu.Lock()
	t.session = final
	t.openRoom = -1
	t.result = resp
	if t.state == StateCompleting {
		t.state = StateCompleted
	}
	t.mu.Unlock()

	logger.Info().
		Int("engagement_score", resp.Session.EngagementScore).
		Int("milestones", len(resp.Milestones)).
		Msg("tour session completed")
	t.reportFocus(ctx, focus)
	return resp, nil
}

func (t *Tracker) revert() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateCompleting {
		t.state = StateTracking
	}
}

// Close tears the tracker down. A durably created session that is still
// being tracked is completed with reason component_unmount on a best-effort
// basis; nothing is sent for a session the server never acknowledged.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	prev := t.state
	t.state = StateClosed
	if prev != StateTracking || !t.created {
		t.mu.Unlock()
		return nil
	}
	req, final, focus := t.completionRequest(models.CompletionReasonUnmount, t.opts.FlushOnTeardown)
	t.mu.Unlock()

	logger := t.logger.With().Str("session_id", req.SessionID).Logger()

	cctx, cancel := t.withTimeout(ctx)
	defer cancel()
	resp, err := t.store.Complete(cctx, req)
	if err != nil {
		logger.Warn().Err(err).Msg("teardown completion failed")
		return fmt.Errorf("failed to complete tour session on teardown: %w", err)
	}

	t.mu.Lock()
	t.session = final
	t.openRoom = -1
	t.result = resp
	t.mu.Unlock()
	logger.Info().Bool("flushed", t.opts.FlushOnTeardown).Msg("tour session completed on teardown")
	if t.opts.FlushOnTeardown {
		t.reportFocus(ctx, focus)
	}
	return nil
}

// completionRequest builds the completion payload from a copy of the
// session with any open visit closed at now, along with that visit's
// room_focus report if one is due. The live session is left untouched so a
// failed completion can be retried. Callers hold t.mu.
func (t *Tracker) completionRequest(reason string, flush bool) (models.CompleteSessionRequest, models.TourSession, *models.RecordMilestoneRequest) {
	now := t.now()
	final := copySession(t.session)
	var focus *models.RecordMilestoneRequest
	if t.openRoom >= 0 {
		focus = t.closeVisit(&final, t.openRoom, now)
	}
	final.EndedAt = &now
	final.CompletionReason = reason
	final.Completed = reason != models.CompletionReasonUnmount
	final.DurationSeconds = int(now.Sub(final.StartedAt).Seconds())

	req := models.CompleteSessionRequest{
		SessionID:        final.SessionID,
		UserInfo:         t.opts.UserInfo,
		CompletionReason: reason,
		Attribution:      t.opts.Attribution,
		EndedAt:          now,
	}
	if flush {
		req.EngagementData = models.EngagementData{
			TotalDuration: final.DurationSeconds,
			RoomsVisited:  final.RoomsVisited,
			ActionsTaken:  final.ActionsTaken,
		}
	}
	return req, final, focus
}

func copySession(s models.TourSession) models.TourSession {
	out := s
	if s.UserInfo != nil {
		u := *s.UserInfo
		out.UserInfo = &u
	}
	if s.EndedAt != nil {
		e := *s.EndedAt
		out.EndedAt = &e
	}
	out.ActionsTaken = append([]models.TourAction(nil), s.ActionsTaken...)
	if s.RoomsVisited != nil {
		out.RoomsVisited = make([]models.RoomVisit, len(s.RoomsVisited))
		for i, v := range s.RoomsVisited {
			v.Actions = append([]models.TourAction(nil), v.Actions...)
			if v.ExitedAt != nil {
				e := *v.ExitedAt
				v.ExitedAt = &e
			}
			out.RoomsVisited[i] = v
		}
	}
	return out
}
