package presslinesdk

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

// Client is a minimal Pressline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
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

// Project represents the API project model (partial).
type Project struct {
	ID            string   `json:"id"`
	OrderID       string   `json:"order_id"`
	LineageID     string   `json:"lineage_id"`
	VersionNumber int      `json:"version_number"`
	ProjectType   string   `json:"project_type"`
	Priority      string   `json:"priority"`
	Status        string   `json:"status"`
	Item          string   `json:"item,omitempty"`
	Departments   []string `json:"departments,omitempty"`
}

// Reminder represents the API reminder model (partial).
type Reminder struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	Title       string   `json:"title"`
	TriggerMode string   `json:"trigger_mode"`
	RemindAt    *string  `json:"remind_at,omitempty"`
	Repeat      string   `json:"repeat"`
	WatchStatus *string  `json:"watch_status,omitempty"`
	Status      string   `json:"status"`
	IsActive    bool     `json:"is_active"`
	Recipients  []string `json:"recipients,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates an order project.
func (c *Client) CreateProject(ctx context.Context, projectType, item string, departments []string) (Project, error) {
	body := map[string]any{
		"project_type": projectType,
		"item":         item,
		"departments":  departments,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", body, &resp)
	return resp, err
}

// GetProject fetches one project.
func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "v0/projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Transition moves a project to another status.
func (c *Client) Transition(ctx context.Context, id, status string, force bool) (Project, error) {
	body := map[string]any{"status": status}
	if force {
		body["force"] = true
	}
	var resp Project
	err := c.do(ctx, http.MethodPatch, "v0/projects/"+url.PathEscape(id)+"/status", body, &resp)
	return resp, err
}

// Acknowledge records a department engagement acknowledgement.
func (c *Client) Acknowledge(ctx context.Context, id, department string) error {
	return c.do(ctx, http.MethodPost, "v0/projects/"+url.PathEscape(id)+"/acknowledge", map[string]any{"department": department}, nil)
}

// RecordPayment records a payment verification.
func (c *Client) RecordPayment(ctx context.Context, id, payType string) error {
	return c.do(ctx, http.MethodPost, "v0/projects/"+url.PathEscape(id)+"/payments", map[string]any{"type": payType}, nil)
}

// AttachMockup stores the mockup file reference.
func (c *Client) AttachMockup(ctx context.Context, id, fileURL, fileName string) error {
	body := map[string]any{"file_url": fileURL, "file_name": fileName}
	return c.do(ctx, http.MethodPut, "v0/projects/"+url.PathEscape(id)+"/mockup", body, nil)
}

// Finish archives a completed project.
func (c *Client) Finish(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects/"+url.PathEscape(id)+"/finish", map[string]any{}, &resp)
	return resp, err
}

// Reopen starts a new revision of a finished project.
func (c *Client) Reopen(ctx context.Context, id, reason string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPatch, "v0/projects/"+url.PathEscape(id)+"/reopen", map[string]any{"reason": reason}, &resp)
	return resp, err
}

// CreateReminder creates a reminder; body follows the API request shape.
func (c *Client) CreateReminder(ctx context.Context, body map[string]any) (Reminder, error) {
	var resp Reminder
	err := c.do(ctx, http.MethodPost, "v0/reminders", body, &resp)
	return resp, err
}

// Reminders lists a project's reminders.
func (c *Client) Reminders(ctx context.Context, projectID string, includeCompleted bool) ([]Reminder, error) {
	endpoint := fmt.Sprintf("v0/reminders?project_id=%s", url.QueryEscape(projectID))
	if includeCompleted {
		endpoint += "&include_completed=true"
	}
	var resp []Reminder
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Snooze pushes a reminder's trigger forward.
func (c *Client) Snooze(ctx context.Context, id string, minutes int) (Reminder, error) {
	var resp Reminder
	err := c.do(ctx, http.MethodPatch, "v0/reminders/"+url.PathEscape(id)+"/snooze", map[string]any{"minutes": minutes}, &resp)
	return resp, err
}

// Events returns a project's recent activity.
func (c *Client) Events(ctx context.Context, projectID string, limit int) ([]Event, error) {
	endpoint := "v0/projects/" + url.PathEscape(projectID) + "/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
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

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
