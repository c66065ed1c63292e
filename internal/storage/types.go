package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by point lookups when the referenced row is absent.
	ErrNotFound = errors.New("not found")

	// ErrScheduleExists is returned when creating a schedule for a user+chat
	// that already has an active one.
	ErrScheduleExists = errors.New("active schedule already exists")

	// ErrQuizExists is returned when creating a quiz whose name is taken.
	ErrQuizExists = errors.New("quiz already exists")

	// ErrInvalidDelay is returned when a max-delay setting falls outside
	// [MinDelayMinutes, MaxDelayMinutes].
	ErrInvalidDelay = errors.New("delay outside allowed range")
)

// Bounds for the per-user max delay setting and its default.
const (
	MinDelayMinutes     = 5
	MaxDelayMinutes     = 1440
	DefaultDelayMinutes = 60
)

type ReminderStatus string

// Reminder lifecycle. Transitions are forward-only:
// pending -> processing (continuation claim, transitional) -> pending again
// once sent, then confirmed | missed | cancelled (all terminal).
const (
	StatusPending    ReminderStatus = "pending"
	StatusProcessing ReminderStatus = "processing"
	StatusConfirmed  ReminderStatus = "confirmed"
	StatusMissed     ReminderStatus = "missed"
	StatusCancelled  ReminderStatus = "cancelled"
)

type TemplateKind string

const (
	TemplateReminder TemplateKind = "reminder"
	TemplateReward   TemplateKind = "reward"
)

type User struct {
	ID              string
	TelegramID      int64
	Username        string
	FirstName       string
	LastName        string
	MaxDelayMinutes int
	SequentialMode  bool
	// CustomStatus is an admin-assigned vanity line, empty when unset.
	CustomStatus string
	CreatedAt    time.Time
}

type Schedule struct {
	ID         string
	UserID     string
	ChatID     int64
	Times      []string // ordered "HH:MM" trigger times
	Sequential bool
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Reminder struct {
	ID            string
	ScheduleID    string
	SequenceOrder int
	Status        ReminderStatus
	RetryCount    int
	// MessageID is the outbound chat message id (0 until sent). A pending
	// reminder with a message id is "sent but unconfirmed".
	MessageID         int
	ActualConfirmedAt *time.Time
	DelayMinutes      *int
	CreatedAt         time.Time
}

// Sent reports whether the reminder has an outbound message.
func (r *Reminder) Sent() bool { return r.MessageID != 0 }

type Template struct {
	ID        string
	Kind      TemplateKind
	Content   string
	IsActive  bool
	CreatedAt time.Time
}

type Quiz struct {
	ID            string
	Name          string
	Description   string
	IsActive      bool
	QuestionCount int
	CreatedAt     time.Time
}

type QuizOption struct {
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

type QuizQuestion struct {
	ID        string
	QuizID    string
	Text      string
	Options   []QuizOption
	CreatedAt time.Time
}

// PendingSend pairs a sent-but-unconfirmed reminder with the routing info
// needed to re-arm its retry chain after a restart.
type PendingSend struct {
	Reminder Reminder
	ChatID   int64
	UserID   string
}

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means sqlite default
}
