package store

import "time"

type Profile struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type AllowedEmail struct {
	ID        string
	Email     string
	AddedBy   *string
	CreatedAt time.Time
}

const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in-progress"
	TaskStatusCompleted  = "completed"
)

const (
	TaskPriorityHigh   = "high"
	TaskPriorityMedium = "medium"
	TaskPriorityLow    = "low"
)

type Task struct {
	ID             string
	Title          string
	Description    string
	AssignedTo     string
	Deadline       time.Time
	Status         string
	Priority       string
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	AttachmentURL  *string
	CompletionNote *string
}

// TaskPatch is a partial update: nil fields are left untouched. The same
// per-field limits used at creation apply to whichever fields are present.
type TaskPatch struct {
	Title          *string
	Description    *string
	AssignedTo     *string
	Deadline       *time.Time
	Status         *string
	Priority       *string
	AttachmentURL  *string
	CompletionNote *string
}

type Comment struct {
	ID        string
	TaskID    string
	UserID    string
	UserName  string
	Content   string
	CreatedAt time.Time
}

const (
	NotificationTaskCreated         = "task-created"
	NotificationTaskUpdated         = "task-updated"
	NotificationTaskCompleted       = "task-completed"
	NotificationDeadlineApproaching = "deadline-approaching"
)

type Notification struct {
	ID        string
	UserID    string
	Message   string
	Type      string
	Read      bool
	CreatedAt time.Time
}

// MemberProgress is one row of the team progress aggregate.
type MemberProgress struct {
	UserID     string
	Name       string
	Total      int
	Pending    int
	InProgress int
	Completed  int
}

// Attachment is the admin-facing view of every uploaded completion file.
type Attachment struct {
	TaskID        string
	TaskTitle     string
	AssignedTo    string
	AttachmentURL string
	UpdatedAt     time.Time
}
