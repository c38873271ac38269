package caselinesdk

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
)

// Client is a minimal Caseline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	ActorID     string // legacy header auth, dev servers only
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Case represents the API case model (partial).
type Case struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Summary     string              `json:"summary,omitempty"`
	InitiatorID string              `json:"initiator_id"`
	Status      string              `json:"status"`
	Version     int64               `json:"version"`
	Artifacts   map[string]Artifact `json:"artifacts,omitempty"`
	History     []Event             `json:"history,omitempty"`
	CreatedAt   string              `json:"created_at"`
	UpdatedAt   string              `json:"updated_at"`
}

// Artifact is one stage's content.
type Artifact struct {
	CaseID      string `json:"case_id"`
	Stage       string `json:"stage"`
	Content     string `json:"content"`
	Version     int    `json:"version"`
	GeneratedBy string `json:"generated_by,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Event is one history entry.
type Event struct {
	ID         int64  `json:"id"`
	CaseID     string `json:"case_id"`
	TS         string `json:"ts"`
	ActorID    string `json:"actor_id"`
	Action     string `json:"action"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Note       string `json:"note,omitempty"`
}

// Transition is the response to any case action.
type Transition struct {
	Status string `json:"status"`
	Case   Case   `json:"case"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateCase opens a new case in intake status.
func (c *Client) CreateCase(ctx context.Context, title, summary string) (Case, error) {
	body := map[string]any{
		"title":   title,
		"summary": summary,
	}
	var resp Case
	err := c.do(ctx, http.MethodPost, "v0/cases", body, &resp)
	return resp, err
}

// GetCase fetches a case with its artifacts and history.
func (c *Client) GetCase(ctx context.Context, id string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodGet, c.casePath(id, ""), nil, &resp)
	return resp, err
}

// ListCases returns cases, optionally filtered by status.
func (c *Client) ListCases(ctx context.Context, status string) ([]Case, error) {
	var resp struct {
		Items []Case `json:"items"`
	}
	endpoint := "v0/cases"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// History returns the case audit log.
func (c *Client) History(ctx context.Context, id string) ([]Event, error) {
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.casePath(id, "history"), nil, &resp)
	return resp.Items, err
}

// Artifact fetches one stage's content.
func (c *Client) Artifact(ctx context.Context, id, stage string) (Artifact, error) {
	var resp Artifact
	err := c.do(ctx, http.MethodGet, c.casePath(id, "artifacts/"+url.PathEscape(stage)), nil, &resp)
	return resp, err
}

// TriggerGeneration asks the current stage's producer for a draft.
func (c *Client) TriggerGeneration(ctx context.Context, id string) (Transition, error) {
	var resp Transition
	err := c.do(ctx, http.MethodPost, c.casePath(id, "generate"), map[string]any{}, &resp)
	return resp, err
}

// Edit replaces the current stage artifact content. expectedVersion of 0
// skips the staleness check.
func (c *Client) Edit(ctx context.Context, id, content string, expectedVersion int64) (Transition, error) {
	body := map[string]any{"content": content}
	if expectedVersion > 0 {
		body["expected_version"] = expectedVersion
	}
	var resp Transition
	err := c.do(ctx, http.MethodPost, c.casePath(id, "edit"), body, &resp)
	return resp, err
}

// SubmitDraft moves the current stage into review.
func (c *Client) SubmitDraft(ctx context.Context, id string) (Transition, error) {
	var resp Transition
	err := c.do(ctx, http.MethodPost, c.casePath(id, "submit"), map[string]any{}, &resp)
	return resp, err
}

// Approve accepts the pending review, advancing the case.
func (c *Client) Approve(ctx context.Context, id string) (Transition, error) {
	var resp Transition
	err := c.do(ctx, http.MethodPost, c.casePath(id, "approve"), map[string]any{}, &resp)
	return resp, err
}

// Reject sends the stage back to drafting, or closes the case when it is
// awaiting final approval.
func (c *Client) Reject(ctx context.Context, id, reason string) (Transition, error) {
	body := map[string]any{}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Transition
	err := c.do(ctx, http.MethodPost, c.casePath(id, "reject"), body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) casePath(id, p string) string {
	endpoint := "v0/cases/" + url.PathEscape(id)
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
