// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"github.com/mguest/inspectd/platform/events"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Task Lifecycle Events
// =============================================================================

// DeadlineExpired is published when a task's deadline passes without a
// completed inspection form.
type DeadlineExpired struct {
	BaseEvent
	TaskID int64 `json:"taskId"`
}

func (e DeadlineExpired) EventName() string { return "tasks.deadline.expired" }

// TaskCancelled is published when an operator manually cancels a task.
type TaskCancelled struct {
	BaseEvent
	TaskID int64  `json:"taskId"`
	Reason string `json:"reason,omitempty"`
}

func (e TaskCancelled) EventName() string { return "tasks.cancelled" }

// TaskCompleted is published when a task reaches the compensation stage.
type TaskCompleted struct {
	BaseEvent
	TaskID  int64 `json:"taskId"`
	GuestID int64 `json:"guestId,omitempty"`
}

func (e TaskCompleted) EventName() string { return "tasks.completed" }

// =============================================================================
// Invitation Events
// =============================================================================

// GuestsUnmapped is published when invitations could not be delivered
// because the guests have no chat registration.
type GuestsUnmapped struct {
	BaseEvent
	TaskID   int64   `json:"taskId"`
	GuestIDs []int64 `json:"guestIds"`
}

func (e GuestsUnmapped) EventName() string { return "invitations.guests.unmapped" }

// InvitationsExhausted is published when the last invited guest declines
// and nobody is left to take the task.
type InvitationsExhausted struct {
	BaseEvent
	TaskID int64 `json:"taskId"`
}

func (e InvitationsExhausted) EventName() string { return "invitations.exhausted" }

// =============================================================================
// Form Events
// =============================================================================

// FormReceived is published once a completed inspection form has been
// recorded and pushed to the CRM.
type FormReceived struct {
	BaseEvent
	TaskID  int64  `json:"taskId"`
	GuestID int64  `json:"guestId"`
	Form    string `json:"form"`
	Score   string `json:"score,omitempty"`
}

func (e FormReceived) EventName() string { return "forms.received" }

// =============================================================================
// Registration Events
// =============================================================================

// GuestRegistered is published when the registration wizard creates or
// relinks a CRM contact for a chat user.
type GuestRegistered struct {
	BaseEvent
	ContactID  int64  `json:"contactId"`
	TelegramID int64  `json:"telegramId"`
	Phone      string `json:"phone"`
	Username   string `json:"username,omitempty"`
	ContactURL string `json:"contactUrl,omitempty"`
}

func (e GuestRegistered) EventName() string { return "registration.guest.registered" }
