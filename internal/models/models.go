package models

import "time"

type User struct {
	ID           string
	Email        string
	Name         string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

type Session struct {
	ID            string
	UserID        string
	TokenHash     string
	IPHint        string
	UserAgentHash string
	ExpiresAt     time.Time
	IdleExpiresAt time.Time
	CreatedAt     time.Time
	LastSeenAt    time.Time
	RevokedAt     *time.Time
}

type Frequency string

const (
	FrequencyMonthly    Frequency = "monthly"
	FrequencyQuarterly  Frequency = "quarterly"
	FrequencySemiannual Frequency = "semiannual"
	FrequencyAnnual     Frequency = "annual"
	FrequencyOneTime    Frequency = "one_time"
)

func ValidFrequency(f Frequency) bool {
	switch f {
	case FrequencyMonthly, FrequencyQuarterly, FrequencySemiannual, FrequencyAnnual, FrequencyOneTime:
		return true
	}
	return false
}

// ComplianceRecord is a recurring legal obligation (license renewal, filing,
// registration). DueDate always refers to the current cycle; it advances by
// Frequency when a confirmation of type renewed/extended/completed lands.
type ComplianceRecord struct {
	ID                   string
	Name                 string
	Description          string
	DueDate              time.Time
	Frequency            Frequency
	LastConfirmedAt      *time.Time
	LastConfirmationType string
	CreatedBy            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Recipient is a notification target for one compliance record. Provenance is
// at most one of UserID (staff account) or ExternalID (directory contact);
// neither means a manual entry. Email and Name are always populated.
type Recipient struct {
	ID         string
	RecordID   string
	UserID     *string
	ExternalID *string
	Email      string
	Name       string
	Role       string
	CreatedAt  time.Time
}

func (r Recipient) Provenance() string {
	switch {
	case r.UserID != nil:
		return "internal"
	case r.ExternalID != nil:
		return "external"
	default:
		return "manual"
	}
}

type ReminderType string

const (
	ReminderTwoWeeks ReminderType = "two_weeks"
	ReminderOneWeek  ReminderType = "one_week"
	ReminderDueDate  ReminderType = "due_date"
	ReminderOverdue  ReminderType = "overdue"
)

type ReminderStatus string

const (
	ReminderPending    ReminderStatus = "pending"
	ReminderSent       ReminderStatus = "sent"
	ReminderConfirmed  ReminderStatus = "confirmed"
	ReminderFailed     ReminderStatus = "failed"
	ReminderSuperseded ReminderStatus = "superseded"
)

// Reminder is one scheduled notification instance. The confirmation token is
// generated at scheduling time but resolves through the public gateway only
// while the reminder is in status sent, and at most once.
type Reminder struct {
	ID            string
	RecordID      string
	RecipientID   string
	Type          ReminderType
	CycleDueDate  time.Time
	ScheduledDate time.Time
	Token         string
	Status        ReminderStatus
	SentAt        *time.Time
	Attempts      int
	LastError     *string
	ConfirmedAt   *time.Time
	ConfirmedBy   *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ConfirmationType string

const (
	ConfirmationSubmitted ConfirmationType = "submitted"
	ConfirmationRenewed   ConfirmationType = "renewed"
	ConfirmationExtended  ConfirmationType = "extended"
	ConfirmationCompleted ConfirmationType = "completed"
)

func ValidConfirmationType(t ConfirmationType) bool {
	switch t {
	case ConfirmationSubmitted, ConfirmationRenewed, ConfirmationExtended, ConfirmationCompleted:
		return true
	}
	return false
}

// AdvancesDueDate reports whether this confirmation type closes the current
// cycle and moves the record due date forward.
func (t ConfirmationType) AdvancesDueDate() bool {
	return t == ConfirmationRenewed || t == ConfirmationExtended || t == ConfirmationCompleted
}

// Confirmation is an immutable record of a completed confirmation action.
// Exactly one exists per consumed reminder token.
type Confirmation struct {
	ID               string
	RecordID         string
	ReminderID       string
	ConfirmedBy      string
	ConfirmedEmail   string
	ConfirmationType ConfirmationType
	Notes            string
	CreatedAt        time.Time
}

type AuditEntry struct {
	ID           string    `json:"id"`
	ActorUserID  string    `json:"actor_user_id"`
	Action       string    `json:"action"`
	Target       string    `json:"target"`
	MetadataJSON string    `json:"metadata_json"`
	CreatedAt    time.Time `json:"created_at"`
}
