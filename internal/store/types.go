// Package store owns the durable state of the inspection program: tasks,
// invitations, guest contact mappings, and form sessions. All other
// components read and mutate this state only through the repositories here.
package store

import "time"

// Task lifecycle statuses.
const (
	StatusPending               = "pending"
	StatusAssigned              = "assigned"
	StatusWaitingForm           = "waiting_form"
	StatusCancelledDeadline     = "cancelled_deadline"
	StatusCancelledManual       = "cancelled_manual"
	StatusCompletedCompensation = "completed_compensation"
)

// Task is one inspection task mirrored from the CRM. Nomber is the external
// reference used for CRM API calls; TaskID is the CRM's numeric id.
type Task struct {
	TaskID              int64
	Nomber              string
	RestaurantName      string
	RestaurantAddress   string
	VisitDate           string
	Deadline            string
	Status              string
	AssignedGuestID     *int64
	AssignmentChatID    *int64
	AssignmentMessageID *int64
	CreatedAt           time.Time
}

// Ref returns the identifier to use for CRM API calls: the external
// reference when known, the numeric id otherwise.
func (t *Task) Ref() string {
	if t.Nomber != "" {
		return t.Nomber
	}
	return formatID(t.TaskID)
}

// Invitation is one delivered invite for a (task, guest) pair.
type Invitation struct {
	ID            int64
	TaskID        int64
	GuestID       int64
	TelegramID    int64
	ChatID        int64
	MessageID     *int64
	SentAt        time.Time
	WithdrawnAt   *time.Time
}

// GuestContact maps a CRM contact to the chat identity it registered with.
type GuestContact struct {
	ContactID  int64
	TelegramID int64
	Username   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// FormSession is one survey run for a (task, guest) pair.
type FormSession struct {
	SessionID   string
	TaskID      int64
	GuestID     int64
	Form        string
	StartedAt   time.Time
	CompletedAt *time.Time
	Score       *int
	Summary     string
	Payload     []byte
}

// Completed reports whether the survey for this session was submitted.
func (s *FormSession) Completed() bool {
	return s.CompletedAt != nil
}
