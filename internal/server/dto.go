package server

import (
	"encoding/json"

	"pressline/internal/domain"
	"pressline/internal/stage"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string            `json:"id,omitempty"`
	OrderID     string            `json:"order_id,omitempty"`
	ProjectType stage.ProjectType `json:"project_type,omitempty" enum:"Standard,Emergency,Quote,Corporate Job"`
	Priority    stage.Priority    `json:"priority,omitempty" enum:"Normal,Urgent"`
	Item        string            `json:"item,omitempty"`
	Departments []string          `json:"departments,omitempty"`
}

type TransitionRequest struct {
	Status string `json:"status"`
	Force  bool   `json:"force,omitempty"`
}

type AcknowledgeRequest struct {
	Department string `json:"department"`
}

type PaymentRequest struct {
	Type string `json:"type"`
}

type MockupRequest struct {
	FileURL  string `json:"file_url"`
	FileName string `json:"file_name"`
}

type FeedbackRequest struct {
	Type        string   `json:"type" enum:"Positive,Negative"`
	Notes       string   `json:"notes,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

type ReopenRequest struct {
	Reason string `json:"reason,omitempty"`
}

type ChannelsRequest struct {
	InApp bool `json:"in_app,omitempty"`
	Email bool `json:"email,omitempty"`
}

type CreateReminderRequest struct {
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Message     string `json:"message,omitempty"`
	TriggerMode string `json:"trigger_mode" enum:"absolute_time,stage_based"`
	// No format tag: the scheduler parses remind_at itself so a bad value
	// surfaces as invalid_time rather than a schema validation failure.
	RemindAt     string           `json:"remind_at,omitempty"`
	Repeat       string           `json:"repeat,omitempty" enum:"none,daily,weekly,monthly"`
	WatchStatus  string           `json:"watch_status,omitempty"`
	DelayMinutes int              `json:"delay_minutes,omitempty"`
	Channels     *ChannelsRequest `json:"channels,omitempty"`
	Recipients   []string         `json:"recipients,omitempty"`
}

type EditReminderRequest struct {
	Title        *string          `json:"title,omitempty"`
	Message      *string          `json:"message,omitempty"`
	RemindAt     *string          `json:"remind_at,omitempty"`
	Repeat       *string          `json:"repeat,omitempty" enum:"none,daily,weekly,monthly"`
	WatchStatus  *string          `json:"watch_status,omitempty"`
	DelayMinutes *int             `json:"delay_minutes,omitempty"`
	Channels     *ChannelsRequest `json:"channels,omitempty"`
	Recipients   []string         `json:"recipients,omitempty"`
}

type SnoozeRequest struct {
	Minutes int `json:"minutes,omitempty"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source,omitempty"`
}

// Responses reuse the domain structs; events get a JSON payload wrapper so
// clients never double-decode.

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, evt := range items {
		res = append(res, eventResponse(evt))
	}
	return res
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func mapDepartments(names []string) []stage.Department {
	res := make([]stage.Department, 0, len(names))
	for _, n := range names {
		res = append(res, stage.Department(n))
	}
	return res
}
