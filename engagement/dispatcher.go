package engagement

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"tourtrack/api/attribution"
	"tourtrack/api/models"
)

// EventSender delivers a conversion event to the ad platform.
type EventSender interface {
	SendEvent(ctx context.Context, eventName, contactHash string, data attribution.CustomData) error
}

// EventMarker persists the "already sent" flag for a session.
type EventMarker interface {
	MarkEventSent(ctx context.Context, sessionID, eventID string) error
}

// Dispatcher sends at most one conversion event per session, guarded by the
// session's persisted event_sent flag. The flag is read then written without
// a distributed lock, so two concurrent dispatches for one session can both
// reach the ad platform. Callers are expected to serialize per session.
type Dispatcher struct {
	sender  EventSender
	marker  EventMarker
	timeout time.Duration
	now     func() time.Time
}

func NewDispatcher(sender EventSender, marker EventMarker, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		sender:  sender,
		marker:  marker,
		timeout: timeout,
		now:     time.Now,
	}
}

// EventID builds the identifier recorded for a dispatched session event.
func EventID(sessionID string, at time.Time) string {
	return fmt.Sprintf("tour_%s_%d", sessionID, at.UnixMilli())
}

// Dispatch sends the session's conversion event unless one was already sent.
// It never returns an error: failures are reported in the result and leave
// the session eligible for a later retry.
func (d *Dispatcher) Dispatch(ctx context.Context, session *models.TourSession, milestones []models.Milestone) models.DispatchResult {
	logger := log.Ctx(ctx).With().Str("session_id", session.SessionID).Logger()

	if session.EventSent {
		logger.Debug().Str("event_id", session.EventID).Msg("attribution event already sent, skipping")
		return models.DispatchResult{Success: true, Skipped: true, EventID: session.EventID}
	}

	tier := TierFor(session, milestones)
	eventID := EventID(session.SessionID, d.now())
	data := buildCustomData(session, milestones, tier, eventID)

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	err := d.sender.SendEvent(sendCtx, tier.EventName(), attribution.HashContact(session.UserInfo), data)
	cancel()
	if err != nil {
		logger.Warn().Err(err).Str("tier", string(tier)).Msg("attribution event dispatch failed")
		return models.DispatchResult{Success: false, Tier: string(tier), Error: err.Error()}
	}

	markCtx, cancel := context.WithTimeout(ctx, d.timeout)
	err = d.marker.MarkEventSent(markCtx, session.SessionID, eventID)
	cancel()
	if err != nil {
		// The event left the building; a retry may duplicate it.
		logger.Error().Err(err).Str("event_id", eventID).Msg("attribution event sent but not recorded")
		return models.DispatchResult{
			Success: false,
			EventID: eventID,
			Tier:    string(tier),
			Error:   fmt.Sprintf("event sent but not recorded: %v", err),
		}
	}

	session.EventSent = true
	session.EventID = eventID
	logger.Info().Str("event_id", eventID).Str("tier", string(tier)).Msg("attribution event dispatched")
	return models.DispatchResult{Success: true, EventID: eventID, Tier: string(tier)}
}

func buildCustomData(session *models.TourSession, milestones []models.Milestone, tier Tier, eventID string) attribution.CustomData {
	return attribution.CustomData{
		EventID:         eventID,
		PropertyID:      session.PropertyID,
		TourKind:        string(session.TourKind),
		DurationSeconds: session.DurationSeconds,
		Completed:       session.Completed,
		EngagementScore: TotalScore(session, milestones),
		MilestoneCount:  len(milestones),
		Tier:            string(tier),
		Value:           tier.NominalValue(),
		Currency:        "USD",
		Attribution:     session.Attribution,
	}
}
