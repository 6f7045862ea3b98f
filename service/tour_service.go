// Package service runs the server side of a tour session: creation,
// completion (scoring, milestone detection, attribution dispatch), optimistic
// milestone reports and reporting summaries.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"tourtrack/api/engagement"
	"tourtrack/api/models"
	"tourtrack/api/store"
	"tourtrack/api/utils"
)

var (
	ErrInvalidSession      = errors.New("invalid tour session")
	ErrInvalidMilestone    = errors.New("invalid milestone")
	ErrSessionNotCompleted = errors.New("tour session has not been completed")
)

// SessionRepository is the durable record of tour sessions.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *models.TourSession) error
	SessionExists(ctx context.Context, sessionID string) (bool, error)
	GetSession(ctx context.Context, sessionID string) (*models.TourSession, error)
	CompleteSession(ctx context.Context, session *models.TourSession) error
	MarkEventSent(ctx context.Context, sessionID, eventID string) error
	Summary(ctx context.Context, filter models.SummaryFilter) (*models.SessionSummary, error)
}

// ActionArchive keeps the flat action log and milestone cache for reporting.
type ActionArchive interface {
	InsertActions(ctx context.Context, records []models.ActionRecord) error
	InsertMilestones(ctx context.Context, records []models.MilestoneRecord) error
}

type EventDispatcher interface {
	Dispatch(ctx context.Context, session *models.TourSession, milestones []models.Milestone) models.DispatchResult
}

type Options struct {
	RecentSessionLimit int
	// DiscardTeardownLog drops the action log submitted with a
	// component_unmount completion, keeping only its duration.
	DiscardTeardownLog bool
	Now                func() time.Time
}

type TourService struct {
	sessions   SessionRepository
	archive    ActionArchive
	dispatcher EventDispatcher
	opts       Options
}

// NewTourService wires the service. archive may be nil when no action-log
// archive is configured.
func NewTourService(sessions SessionRepository, archive ActionArchive, dispatcher EventDispatcher, opts Options) *TourService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RecentSessionLimit <= 0 {
		opts.RecentSessionLimit = 20
	}
	return &TourService{
		sessions:   sessions,
		archive:    archive,
		dispatcher: dispatcher,
		opts:       opts,
	}
}

func (s *TourService) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.TourSession, error) {
	if !utils.IsValidSessionID(req.SessionID) {
		return nil, fmt.Errorf("%w: malformed session id", ErrInvalidSession)
	}
	if !req.TourKind.Valid() {
		return nil, fmt.Errorf("%w: unknown tour type %q", ErrInvalidSession, req.TourKind)
	}

	session := &models.TourSession{
		SessionID:  req.SessionID,
		PropertyID: req.PropertyID,
		TourKind:   req.TourKind,
		UserInfo:   req.UserInfo,
		StartedAt:  req.StartedAt,
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = s.opts.Now().UTC()
	}
	if req.UserInfo != nil {
		session.UserID = req.UserInfo.UserID
	}
	if req.Attribution != nil {
		session.Attribution = *req.Attribution
	}

	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().
		Str("session_id", session.SessionID).
		Str("property_id", session.PropertyID).
		Str("tour_type", string(session.TourKind)).
		Msg("tour session started")
	return session, nil
}

func (s *TourService) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	return s.sessions.SessionExists(ctx, sessionID)
}

// CompleteSession finalizes a session from the client's action log, scores
// it, detects milestones and dispatches the attribution event. Completing an
// already finalized session returns the stored outcome without a second
// dispatch. A failed dispatch does not fail the completion.
func (s *TourService) CompleteSession(ctx context.Context, req models.CompleteSessionRequest) (*models.CompleteSessionResponse, error) {
	logger := log.Ctx(ctx).With().Str("session_id", req.SessionID).Logger()

	session, err := s.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.EndedAt != nil {
		logger.Info().Msg("tour session already finalized, returning stored result")
		return finalizedResponse(session), nil
	}

	s.applyCompletion(session, req)
	milestones := engagement.Detect(session)

	if err := s.sessions.CompleteSession(ctx, session); err != nil {
		if errors.Is(err, store.ErrSessionCompleted) {
			// Lost a race with a concurrent completion.
			stored, getErr := s.sessions.GetSession(ctx, req.SessionID)
			if getErr != nil {
				return nil, getErr
			}
			return finalizedResponse(stored), nil
		}
		return nil, err
	}
	logger.Info().
		Str("reason", session.CompletionReason).
		Int("engagement_score", session.EngagementScore).
		Int("lead_quality_score", session.LeadQualityScore).
		Int("milestones", len(milestones)).
		Msg("tour session completed")

	s.archiveSession(ctx, session, milestones)

	dispatch := s.dispatcher.Dispatch(ctx, session, milestones)
	return &models.CompleteSessionResponse{
		Success: true,
		Session: models.SessionScores{
			EngagementScore:  session.EngagementScore,
			LeadQualityScore: session.LeadQualityScore,
		},
		Milestones: nonNilMilestones(milestones),
		Dispatch:   &dispatch,
	}, nil
}

// applyCompletion moves the submitted engagement data onto the session and
// computes its scores. A forced teardown ends the session without marking it
// completed.
func (s *TourService) applyCompletion(session *models.TourSession, req models.CompleteSessionRequest) {
	ended := req.EndedAt
	if ended.IsZero() {
		ended = s.opts.Now().UTC()
	}
	session.EndedAt = &ended
	session.CompletionReason = req.CompletionReason
	session.Completed = req.CompletionReason != models.CompletionReasonUnmount
	session.DurationSeconds = req.EngagementData.TotalDuration
	if session.DurationSeconds <= 0 && ended.After(session.StartedAt) {
		session.DurationSeconds = int(ended.Sub(session.StartedAt).Seconds())
	}
	session.RoomsVisited = req.EngagementData.RoomsVisited
	session.ActionsTaken = req.EngagementData.ActionsTaken
	if !session.Completed && s.opts.DiscardTeardownLog {
		session.RoomsVisited, session.ActionsTaken = nil, nil
	}

	if req.UserInfo != nil {
		session.UserInfo = req.UserInfo
		if req.UserInfo.UserID != "" {
			session.UserID = req.UserInfo.UserID
		}
	}
	if req.Attribution != nil {
		mergeAttribution(&session.Attribution, *req.Attribution)
	}

	rooms := session.DistinctRooms()
	if rooms == 0 {
		rooms = len(engagement.ReconstructRoomTimes(session.ActionsTaken))
	}
	session.EngagementScore = engagement.BaseEngagementScore(
		session.DurationSeconds, rooms, len(session.ActionsTaken), session.Completed)
	session.LeadQualityScore = engagement.LeadQualityScore(session.UserInfo, session.EngagementScore)
}

func (s *TourService) archiveSession(ctx context.Context, session *models.TourSession, milestones []models.Milestone) {
	if s.archive == nil {
		return
	}
	logger := log.Ctx(ctx).With().Str("session_id", session.SessionID).Logger()
	if err := s.archive.InsertActions(ctx, store.ActionRecords(session)); err != nil {
		logger.Error().Err(err).Msg("failed to archive tour actions")
	}
	records := store.MilestoneRecords(session.SessionID, session.PropertyID, "server", milestones)
	if err := s.archive.InsertMilestones(ctx, records); err != nil {
		logger.Error().Err(err).Msg("failed to cache milestones")
	}
}

// RecordMilestone scores a milestone the client reported optimistically. The
// authoritative set is recomputed at completion.
func (s *TourService) RecordMilestone(ctx context.Context, req models.RecordMilestoneRequest) (int, error) {
	if !req.MilestoneType.Valid() {
		return 0, fmt.Errorf("%w: unknown milestone type %q", ErrInvalidMilestone, req.MilestoneType)
	}
	exists, err := s.sessions.SessionExists(ctx, req.SessionID)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("session '%s': %w", req.SessionID, store.ErrSessionNotFound)
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = s.opts.Now().UTC()
	}
	m := models.Milestone{
		Kind:             req.MilestoneType,
		Value:            engagement.ValueForReported(req.MilestoneType, req.MilestoneData),
		Timestamp:        ts,
		Room:             req.MilestoneData.Room,
		DwellSeconds:     req.MilestoneData.TimeSpent,
		InteractionCount: req.MilestoneData.InteractionCount,
	}

	if s.archive != nil {
		records := store.MilestoneRecords(req.SessionID, req.PropertyID, "client", []models.Milestone{m})
		if err := s.archive.InsertMilestones(ctx, records); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("session_id", req.SessionID).Msg("failed to cache reported milestone")
		}
	}
	log.Ctx(ctx).Debug().
		Str("session_id", req.SessionID).
		Str("milestone", string(m.Kind)).
		Int("value", m.Value).
		Msg("milestone recorded")
	return m.Value, nil
}

// RetryDispatch re-attempts the attribution event for a finalized session.
func (s *TourService) RetryDispatch(ctx context.Context, sessionID string) (models.DispatchResult, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return models.DispatchResult{}, err
	}
	if session.EndedAt == nil {
		return models.DispatchResult{}, fmt.Errorf("session '%s': %w", sessionID, ErrSessionNotCompleted)
	}
	return s.dispatcher.Dispatch(ctx, session, engagement.Detect(session)), nil
}

func (s *TourService) Summary(ctx context.Context, filter models.SummaryFilter) (*models.SessionSummary, error) {
	if filter.Limit <= 0 || filter.Limit > s.opts.RecentSessionLimit {
		filter.Limit = s.opts.RecentSessionLimit
	}
	return s.sessions.Summary(ctx, filter)
}

func finalizedResponse(session *models.TourSession) *models.CompleteSessionResponse {
	resp := &models.CompleteSessionResponse{
		Success: true,
		Session: models.SessionScores{
			EngagementScore:  session.EngagementScore,
			LeadQualityScore: session.LeadQualityScore,
		},
		Milestones: nonNilMilestones(engagement.Detect(session)),
	}
	if session.EventSent {
		resp.Dispatch = &models.DispatchResult{Success: true, Skipped: true, EventID: session.EventID}
	}
	return resp
}

func mergeAttribution(dst *models.AttributionParams, src models.AttributionParams) {
	fill := func(d *string, v string) {
		if *d == "" {
			*d = v
		}
	}
	fill(&dst.ClickID, src.ClickID)
	fill(&dst.BrowserID, src.BrowserID)
	fill(&dst.UTMSource, src.UTMSource)
	fill(&dst.UTMMedium, src.UTMMedium)
	fill(&dst.UTMCampaign, src.UTMCampaign)
	fill(&dst.UTMContent, src.UTMContent)
	fill(&dst.UTMTerm, src.UTMTerm)
}

func nonNilMilestones(ms []models.Milestone) []models.Milestone {
	if ms == nil {
		return []models.Milestone{}
	}
	return ms
}
