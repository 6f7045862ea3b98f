package attribution

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourtrack/api/models"
)

func newTestClient(url string, attempts uint) *Client {
	return NewClient(ClientOptions{
		Endpoint:    url,
		PixelID:     "pixel-1",
		AccessToken: "secret",
		Attempts:    attempts,
		RetryDelay:  time.Millisecond,
	})
}

func sampleData() CustomData {
	return CustomData{
		EventID:         "tour_abc_1700000000000",
		PropertyID:      "prop-9",
		TourKind:        "virtual_3d",
		DurationSeconds: 240,
		Completed:       true,
		Tier:            "high",
		Value:           100,
		Currency:        "USD",
		Attribution:     models.AttributionParams{ClickID: "fb.1.abc", UTMSource: "facebook"},
	}
}

func TestSendEventPostsBatch(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pixel-1/events", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("access_token"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"events_received":1}`))
	}))
	defer srv.Close()

	err := newTestClient(srv.URL, 1).SendEvent(context.Background(), "VirtualTourHighIntent", "hash", sampleData())
	require.NoError(t, err)

	data := got["data"].([]any)
	require.Len(t, data, 1)
	ev := data[0].(map[string]any)
	assert.Equal(t, "VirtualTourHighIntent", ev["event_name"])
	assert.Equal(t, "tour_abc_1700000000000", ev["event_id"])
	user := ev["user_data"].(map[string]any)
	assert.Equal(t, []any{"hash"}, user["em"])
	assert.Equal(t, "fb.1.abc", user["fbc"])
	custom := ev["custom_data"].(map[string]any)
	assert.Equal(t, "facebook", custom["utm_source"])
	assert.EqualValues(t, 100, custom["value"])
}

func TestSendEventRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"events_received":1}`))
	}))
	defer srv.Close()

	err := newTestClient(srv.URL, 3).SendEvent(context.Background(), "VirtualTourLowIntent", "", sampleData())
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestSendEventDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Invalid parameter"}}`))
	}))
	defer srv.Close()

	err := newTestClient(srv.URL, 3).SendEvent(context.Background(), "VirtualTourLowIntent", "", sampleData())
	require.Error(t, err)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Equal(t, "Invalid parameter", httpErr.Message)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestSendEventRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"events_received":0}`))
	}))
	defer srv.Close()

	err := newTestClient(srv.URL, 2).SendEvent(context.Background(), "VirtualTourLowIntent", "", sampleData())
	assert.ErrorIs(t, err, ErrRejected)
}

func TestHashContact(t *testing.T) {
	assert.Empty(t, HashContact(nil))
	assert.Empty(t, HashContact(&models.UserInfo{Name: "Ana"}))

	a := HashContact(&models.UserInfo{Email: "  Ana@Example.com "})
	b := HashContact(&models.UserInfo{Email: "ana@example.com", Phone: "+1 555 0100"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	p1 := HashContact(&models.UserInfo{Phone: "+1 (555) 0100"})
	p2 := HashContact(&models.UserInfo{Phone: "15550100"})
	assert.Equal(t, p1, p2)
}
