// Package registration implements the chat-driven guest registration
// wizard: a linear questionnaire that collects the guest's contact
// details, asks for confirmation, and writes the result to the CRM as
// a contact built from the configured contact template.
package registration

import (
	"sync"
	"time"
)

// Step is the wizard's position in the questionnaire.
type Step int

const (
	// StepGreeted means the greeting was sent and the registration
	// button is on screen.
	StepGreeted Step = iota
	StepPhone
	StepLastName
	StepFirstName
	StepPatronymic
	StepGender
	StepBirthdate
	StepCity
	StepConfirm
	StepDuplicate
)

// Session is the state collected from one chat while the wizard runs.
type Session struct {
	Step       Step
	TelegramID int64
	Username   string

	Phone      string
	LastName   string
	FirstName  string
	Patronymic string
	Gender     string
	Birthdate  time.Time
	City       string

	// ExistingContactID is set when confirmation found a CRM contact
	// with the same phone and the guest is deciding whether to update it.
	ExistingContactID int64
}

// Store keeps wizard sessions in memory, keyed by chat id. Sessions are
// passed by value; callers put the updated copy back.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[int64]Session)}
}

// Get returns the session for the chat and whether one is running.
func (s *Store) Get(chatID int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[chatID]
	return sess, ok
}

// Put stores or replaces the chat's session.
func (s *Store) Put(chatID int64, sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[chatID] = sess
}

// Delete ends the chat's session.
func (s *Store) Delete(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, chatID)
}
