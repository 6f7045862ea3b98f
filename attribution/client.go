package attribution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/tidwall/gjson"
)

var ErrRejected = errors.New("attribution event rejected")

// HTTPError is a non-2xx answer from the ad platform.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("attribution endpoint returned %d: %s", e.StatusCode, e.Message)
}

type ClientOptions struct {
	Endpoint      string
	PixelID       string
	AccessToken   string
	TestEventCode string
	Attempts      uint
	RetryDelay    time.Duration
	HTTPClient    *http.Client
}

// Client posts conversion events to a Conversions-API style endpoint:
// POST {endpoint}/{pixel}/events?access_token=...
type Client struct {
	opts       ClientOptions
	httpClient *http.Client
}

func NewClient(opts ClientOptions) *Client {
	if opts.Attempts == 0 {
		opts.Attempts = 1
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{opts: opts, httpClient: httpClient}
}

type userData struct {
	Email     []string `json:"em,omitempty"`
	ClickID   string   `json:"fbc,omitempty"`
	BrowserID string   `json:"fbp,omitempty"`
}

type serverEvent struct {
	EventName    string         `json:"event_name"`
	EventTime    int64          `json:"event_time"`
	EventID      string         `json:"event_id,omitempty"`
	ActionSource string         `json:"action_source"`
	UserData     userData       `json:"user_data"`
	CustomData   map[string]any `json:"custom_data"`
}

type eventBatch struct {
	Data          []serverEvent `json:"data"`
	TestEventCode string        `json:"test_event_code,omitempty"`
}

// SendEvent delivers one event, retrying transport failures and 5xx answers
// with backoff. 4xx answers are not retried.
func (c *Client) SendEvent(ctx context.Context, eventName, contactHash string, data CustomData) error {
	body, err := c.encode(eventName, contactHash, data)
	if err != nil {
		return err
	}
	target, err := c.eventsURL()
	if err != nil {
		return err
	}

	return retry.Do(func() error {
		return c.post(ctx, target, body)
	},
		retry.Context(ctx),
		retry.Attempts(c.opts.Attempts),
		retry.Delay(c.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

func (c *Client) encode(eventName, contactHash string, data CustomData) ([]byte, error) {
	custom := map[string]any{
		"content_ids":      []string{data.PropertyID},
		"content_type":     data.TourKind,
		"tour_duration":    data.DurationSeconds,
		"tour_completed":   data.Completed,
		"engagement_score": data.EngagementScore,
		"milestone_count":  data.MilestoneCount,
		"engagement_tier":  data.Tier,
		"value":            data.Value,
		"currency":         data.Currency,
	}
	for k, v := range map[string]string{
		"utm_source":   data.Attribution.UTMSource,
		"utm_medium":   data.Attribution.UTMMedium,
		"utm_campaign": data.Attribution.UTMCampaign,
		"utm_content":  data.Attribution.UTMContent,
		"utm_term":     data.Attribution.UTMTerm,
	} {
		if v != "" {
			custom[k] = v
		}
	}

	ev := serverEvent{
		EventName:    eventName,
		EventTime:    time.Now().Unix(),
		EventID:      data.EventID,
		ActionSource: "website",
		UserData: userData{
			ClickID:   data.Attribution.ClickID,
			BrowserID: data.Attribution.BrowserID,
		},
		CustomData: custom,
	}
	if contactHash != "" {
		ev.UserData.Email = []string{contactHash}
	}

	body, err := json.Marshal(eventBatch{Data: []serverEvent{ev}, TestEventCode: c.opts.TestEventCode})
	if err != nil {
		return nil, fmt.Errorf("failed to encode attribution event: %w", err)
	}
	return body, nil
}

func (c *Client) eventsURL() (string, error) {
	u, err := url.Parse(c.opts.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid attribution endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, c.opts.PixelID, "events")
	q := u.Query()
	q.Set("access_token", c.opts.AccessToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) post(ctx context.Context, target string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("attribution request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read attribution response: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := gjson.GetBytes(respBody, "error.message").String()
		if msg == "" {
			msg = string(respBody)
		}
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Message: msg}
		if resp.StatusCode < 500 {
			return retry.Unrecoverable(httpErr)
		}
		return httpErr
	}

	if received := gjson.GetBytes(respBody, "events_received"); received.Exists() && received.Int() < 1 {
		return retry.Unrecoverable(ErrRejected)
	}
	return nil
}
