package domain

import "pressline/internal/stage"

type Project struct {
	ID            string             `json:"id"`
	OrderID       string             `json:"order_id"`
	LineageID     string             `json:"lineage_id"`
	VersionNumber int                `json:"version_number"`
	ProjectType   stage.ProjectType  `json:"project_type" enum:"Standard,Emergency,Quote,Corporate Job"`
	Priority      stage.Priority     `json:"priority" enum:"Normal,Urgent"`
	Status        stage.Status       `json:"status"`
	Item          string             `json:"item,omitempty"`
	Departments   []stage.Department `json:"departments,omitempty"`
	CreatedBy     string             `json:"created_by"`
	CreatedAt     string             `json:"created_at" format:"date-time"`
	UpdatedAt     string             `json:"updated_at" format:"date-time"`

	Acknowledgements     []Acknowledgement     `json:"acknowledgements,omitempty"`
	PaymentVerifications []PaymentVerification `json:"payment_verifications,omitempty"`
	Mockup               *Mockup               `json:"mockup,omitempty"`
	Feedbacks            []Feedback            `json:"feedbacks,omitempty"`
}

type Acknowledgement struct {
	ProjectID      string           `json:"project_id"`
	Department     stage.Department `json:"department"`
	AcknowledgedBy string           `json:"acknowledged_by"`
	AcknowledgedAt string           `json:"acknowledged_at" format:"date-time"`
}

type PaymentVerification struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	Type       string `json:"type"`
	RecordedBy string `json:"recorded_by"`
	RecordedAt string `json:"recorded_at" format:"date-time"`
}

type Mockup struct {
	ProjectID  string `json:"project_id"`
	FileURL    string `json:"file_url"`
	FileName   string `json:"file_name"`
	UploadedBy string `json:"uploaded_by"`
	UploadedAt string `json:"uploaded_at" format:"date-time"`
}

type FeedbackType string

const (
	FeedbackPositive FeedbackType = "Positive"
	FeedbackNegative FeedbackType = "Negative"
)

type Feedback struct {
	ID          string       `json:"id"`
	ProjectID   string       `json:"project_id"`
	Type        FeedbackType `json:"type" enum:"Positive,Negative"`
	Notes       string       `json:"notes,omitempty"`
	Attachments []string     `json:"attachments,omitempty"`
	CreatedBy   string       `json:"created_by"`
	CreatedAt   string       `json:"created_at" format:"date-time"`
}

// TriggerMode of a reminder.
type TriggerMode string

const (
	TriggerAbsoluteTime TriggerMode = "absolute_time"
	TriggerStageBased   TriggerMode = "stage_based"
)

// Repeat cadence of a reminder.
type Repeat string

const (
	RepeatNone    Repeat = "none"
	RepeatDaily   Repeat = "daily"
	RepeatWeekly  Repeat = "weekly"
	RepeatMonthly Repeat = "monthly"
)

// ReminderStatus of a reminder record.
type ReminderStatus string

const (
	ReminderScheduled ReminderStatus = "scheduled"
	ReminderCompleted ReminderStatus = "completed"
	ReminderCancelled ReminderStatus = "cancelled"
)

type Channels struct {
	InApp bool `json:"in_app"`
	Email bool `json:"email"`
}

type Reminder struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	Message   string `json:"message,omitempty"`

	TriggerMode TriggerMode `json:"trigger_mode" enum:"absolute_time,stage_based"`
	RemindAt    *string     `json:"remind_at,omitempty" format:"date-time"`
	Repeat      Repeat      `json:"repeat" enum:"none,daily,weekly,monthly"`

	WatchStatus    *stage.Status `json:"watch_status,omitempty"`
	DelayMinutes   int           `json:"delay_minutes,omitempty"`
	StageMatchedAt *string       `json:"stage_matched_at,omitempty" format:"date-time"`
	NextTriggerAt  *string       `json:"next_trigger_at,omitempty" format:"date-time"`

	Status     ReminderStatus `json:"status" enum:"scheduled,completed,cancelled"`
	IsActive   bool           `json:"is_active"`
	Channels   Channels       `json:"channels"`
	CreatedBy  string         `json:"created_by"`
	Recipients []string       `json:"recipients,omitempty"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
	UpdatedAt  string         `json:"updated_at" format:"date-time"`

	// Version guards the sweep's read-modify-write against concurrent API
	// mutations of the same reminder.
	Version int64 `json:"-"`
}

type Notification struct {
	ID         string  `json:"id"`
	ActorID    string  `json:"actor_id"`
	ProjectID  string  `json:"project_id,omitempty"`
	ReminderID string  `json:"reminder_id,omitempty"`
	Channel    string  `json:"channel"`
	Title      string  `json:"title"`
	Message    string  `json:"message,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	ReadAt     *string `json:"read_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
