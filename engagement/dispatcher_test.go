package engagement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourtrack/api/attribution"
	"tourtrack/api/models"
)

type sentEvent struct {
	name        string
	contactHash string
	data        attribution.CustomData
}

type fakeSender struct {
	mu     sync.Mutex
	events []sentEvent
	err    error
}

func (f *fakeSender) SendEvent(_ context.Context, name, hash string, data attribution.CustomData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, sentEvent{name, hash, data})
	return nil
}

type fakeMarker struct {
	marked map[string]string
	err    error
}

func (f *fakeMarker) MarkEventSent(_ context.Context, sessionID, eventID string) error {
	if f.err != nil {
		return f.err
	}
	if f.marked == nil {
		f.marked = make(map[string]string)
	}
	f.marked[sessionID] = eventID
	return nil
}

func newTestDispatcher(sender EventSender, marker EventMarker) *Dispatcher {
	d := NewDispatcher(sender, marker, time.Second)
	d.now = func() time.Time { return time.UnixMilli(1700000000123) }
	return d
}

func TestDispatchSendsOnce(t *testing.T) {
	sender := &fakeSender{}
	marker := &fakeMarker{}
	d := newTestDispatcher(sender, marker)

	s := endToEndSession()
	s.UserInfo = &models.UserInfo{Email: "buyer@example.com"}
	ms := Detect(s)

	res := d.Dispatch(context.Background(), s, ms)
	require.True(t, res.Success)
	assert.False(t, res.Skipped)
	assert.Equal(t, "tour_s-e2e_1700000000123", res.EventID)
	assert.Equal(t, "high", res.Tier)
	assert.Equal(t, res.EventID, marker.marked["s-e2e"])
	assert.True(t, s.EventSent)
	assert.Equal(t, res.EventID, s.EventID)

	require.Len(t, sender.events, 1)
	ev := sender.events[0]
	assert.Equal(t, TierHigh.EventName(), ev.name)
	assert.Equal(t, attribution.HashContact(s.UserInfo), ev.contactHash)
	assert.Equal(t, 100, ev.data.Value)
	assert.Equal(t, "prop-1", ev.data.PropertyID)
	assert.Equal(t, res.EventID, ev.data.EventID)

	again := d.Dispatch(context.Background(), s, ms)
	assert.True(t, again.Success)
	assert.True(t, again.Skipped)
	assert.Len(t, sender.events, 1)
}

func TestDispatchSkipsAlreadySent(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDispatcher(sender, &fakeMarker{})
	s := &models.TourSession{SessionID: "s1", EventSent: true, EventID: "tour_s1_1"}

	for i := 0; i < 2; i++ {
		res := d.Dispatch(context.Background(), s, nil)
		assert.True(t, res.Success)
		assert.True(t, res.Skipped)
		assert.Equal(t, "tour_s1_1", res.EventID)
	}
	assert.Empty(t, sender.events)
}

func TestDispatchFailureLeavesSessionRetryable(t *testing.T) {
	sender := &fakeSender{err: errors.New("connection reset")}
	marker := &fakeMarker{}
	d := newTestDispatcher(sender, marker)
	s := &models.TourSession{SessionID: "s2", EngagementScore: 10}

	res := d.Dispatch(context.Background(), s, nil)
	assert.False(t, res.Success)
	assert.Equal(t, "low", res.Tier)
	assert.Contains(t, res.Error, "connection reset")
	assert.False(t, s.EventSent)
	assert.Empty(t, marker.marked)

	sender.err = nil
	res = d.Dispatch(context.Background(), s, nil)
	assert.True(t, res.Success)
	assert.Len(t, sender.events, 1)
}

func TestDispatchMarkFailure(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDispatcher(sender, &fakeMarker{err: errors.New("db down")})
	s := &models.TourSession{SessionID: "s3"}

	res := d.Dispatch(context.Background(), s, nil)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.EventID)
	assert.False(t, s.EventSent)
	assert.Len(t, sender.events, 1)
}
