package tourclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/tidwall/gjson"

	"tourtrack/api/models"
)

// Persistence is the server-side record of a tour session as seen by the
// tracker.
type Persistence interface {
	Create(ctx context.Context, req models.CreateSessionRequest) error
	VerifyExists(ctx context.Context, sessionID string) (bool, error)
	Complete(ctx context.Context, req models.CompleteSessionRequest) (*models.CompleteSessionResponse, error)
	RecordMilestone(ctx context.Context, req models.RecordMilestoneRequest) (*models.RecordMilestoneResponse, error)
}

// StatusError is a non-2xx answer from the tour API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tour api returned %d: %s", e.StatusCode, e.Message)
}

// HTTPPersistence talks to the tour API exposed under /api/tours/sessions.
type HTTPPersistence struct {
	baseURL     string
	client      *http.Client
	verifyTries uint
	verifyDelay time.Duration
}

// NewHTTPPersistence returns a Persistence for the API rooted at baseURL
// (e.g. "https://tours.example.com"). client may be nil.
func NewHTTPPersistence(baseURL string, client *http.Client) *HTTPPersistence {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPPersistence{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      client,
		verifyTries: 2,
		verifyDelay: 200 * time.Millisecond,
	}
}

func (p *HTTPPersistence) sessionURL(sessionID, action string) string {
	u := p.baseURL + "/api/tours/sessions"
	if sessionID != "" {
		u += "/" + url.PathEscape(sessionID)
	}
	if action != "" {
		u += "/" + action
	}
	return u
}

func (p *HTTPPersistence) Create(ctx context.Context, req models.CreateSessionRequest) error {
	_, err := p.do(ctx, http.MethodPost, p.sessionURL("", ""), req)
	return err
}

// VerifyExists is a read, so transient failures are retried once.
func (p *HTTPPersistence) VerifyExists(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := retry.Do(func() error {
		body, err := p.do(ctx, http.MethodGet, p.sessionURL(sessionID, "exists"), nil)
		if err != nil {
			return err
		}
		exists = gjson.GetBytes(body, "exists").Bool()
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(p.verifyTries),
		retry.Delay(p.verifyDelay),
		retry.LastErrorOnly(true),
	)
	return exists, err
}

func (p *HTTPPersistence) Complete(ctx context.Context, req models.CompleteSessionRequest) (*models.CompleteSessionResponse, error) {
	body, err := p.do(ctx, http.MethodPost, p.sessionURL(req.SessionID, "complete"), req)
	if err != nil {
		return nil, err
	}
	var resp models.CompleteSessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode completion response: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("session completion rejected: %s", resp.Error)
	}
	return &resp, nil
}

func (p *HTTPPersistence) RecordMilestone(ctx context.Context, req models.RecordMilestoneRequest) (*models.RecordMilestoneResponse, error) {
	body, err := p.do(ctx, http.MethodPost, p.sessionURL(req.SessionID, "milestones"), req)
	if err != nil {
		return nil, err
	}
	var resp models.RecordMilestoneResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode milestone response: %w", err)
	}
	return &resp, nil
}

// do sends payload as JSON and returns the response body. Client errors are
// marked unrecoverable for callers that retry.
func (p *HTTPPersistence) do(ctx context.Context, method, target string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, retry.Unrecoverable(fmt.Errorf("failed to encode request: %w", err))
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tour api request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tour api response: %w", err)
	}

	if resp.StatusCode >= 300 {
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		statusErr := &StatusError{StatusCode: resp.StatusCode, Message: msg}
		if resp.StatusCode < 500 {
			return nil, retry.Unrecoverable(statusErr)
		}
		return nil, statusErr
	}
	return body, nil
}
