// Package models defines session state structures for GuestPipe conversations.
package models

import "time"

// SessionTTL is the idle duration after which a session is considered
// expired. Expiry is evaluated lazily on load, not by a background task.
const SessionTTL = 5 * time.Hour

// ErrorThreshold is the number of consecutive invalid inputs that triggers a
// cooloff reset to the main menu.
const ErrorThreshold = 5

// ValidationOutcome classifies the engine's judgement of one inbound message
// against the current step. The unknown variant exists so callers never have
// to interpret a missing value.
type ValidationOutcome string

const (
	// OutcomeUnknown means validation has not been performed.
	OutcomeUnknown ValidationOutcome = "unknown"
	// OutcomeValid means the input was accepted for the current step.
	OutcomeValid ValidationOutcome = "valid"
	// OutcomeInvalid means the input did not match the step's options.
	OutcomeInvalid ValidationOutcome = "invalid"
)

// Session is the durable conversation state for one (user, hotel) pair. At
// most one active session exists per key; a terminal step deactivates the
// session rather than deleting it.
type Session struct {
	UserID       string `json:"user_id"`
	HotelID      string `json:"hotel_id"`
	FlowCategory string `json:"flow_category"`
	CurrentStep  string `json:"current_step"`
	// Collected maps data keys to validated answers. It survives main-menu
	// navigation and expiry resets so later flows can reuse known answers.
	Collected map[string]string `json:"collected,omitempty"`
	// History holds ids of steps passed through in forward direction, most
	// recent last. Back-navigation pops it.
	History      []string  `json:"history,omitempty"`
	ErrorCount   int       `json:"error_count"`
	LastActivity time.Time `json:"last_activity"`
	Active       bool      `json:"active"`
	// Version supports optimistic concurrency control in session stores.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionKey identifies a session. Typically the user id is a phone number.
type SessionKey struct {
	UserID  string
	HotelID string
}

// Key returns the session's identifying key.
func (s *Session) Key() SessionKey {
	return SessionKey{UserID: s.UserID, HotelID: s.HotelID}
}

// Expired reports whether the session has been idle longer than SessionTTL.
func (s *Session) Expired(now time.Time) bool {
	return now.Sub(s.LastActivity) > SessionTTL
}

// SetCollected upserts a collected data value, allocating the map on first use.
func (s *Session) SetCollected(key, value string) {
	if s.Collected == nil {
		s.Collected = make(map[string]string)
	}
	s.Collected[key] = value
}

// PushHistory appends a step id to the navigation history unless it is
// already the most recent entry, so informational re-visits never duplicate.
func (s *Session) PushHistory(stepID string) {
	if n := len(s.History); n > 0 && s.History[n-1] == stepID {
		return
	}
	s.History = append(s.History, stepID)
}

// PopHistory removes and returns the most recent history entry. The second
// return value is false when the stack is empty.
func (s *Session) PopHistory() (string, bool) {
	n := len(s.History)
	if n == 0 {
		return "", false
	}
	stepID := s.History[n-1]
	s.History = s.History[:n-1]
	return stepID, true
}

// Clone returns a deep copy so the engine can compute a transition without
// touching the persisted session until the store accepts the save.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Collected != nil {
		out.Collected = make(map[string]string, len(s.Collected))
		for k, v := range s.Collected {
			out.Collected[k] = v
		}
	}
	if s.History != nil {
		out.History = make([]string, len(s.History))
		copy(out.History, s.History)
	}
	return &out
}
