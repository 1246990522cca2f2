// Package store provides storage backends for GuestPipe.
//
// It defines the repositories the engine depends on (flow templates,
// customization overlays, sessions, inbound deduplication, guest context)
// and an in-memory implementation used in tests and demo mode. SQLite and
// PostgreSQL implementations live alongside in this package.
package store

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/GuestPipe/GuestPipe/internal/models"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string (file path for SQLite,
// connection URL for Postgres, address for Redis).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// TemplateRepo manages flow and step definitions. Read-heavy at runtime;
// writes come from the template administration API.
type TemplateRepo interface {
	SaveFlow(f models.FlowDefinition) error
	GetFlow(category string) (*models.FlowDefinition, error)
	ListFlows() ([]models.FlowDefinition, error)
	DeleteFlow(category string) error

	SaveStep(s models.StepDefinition) error
	// GetStep returns models.ErrStepNotFound when the step does not exist.
	GetStep(category, stepID string) (*models.StepDefinition, error)
	// GetRootStep returns the step with the lowest display order in the flow.
	GetRootStep(category string) (*models.StepDefinition, error)
	// ListSteps returns the flow's steps ordered by display order.
	ListSteps(category string) ([]models.StepDefinition, error)
	DeleteStep(category, stepID string) error
}

// OverlayRepo manages per-hotel customization overlays.
type OverlayRepo interface {
	SaveOverlay(o models.CustomizationOverlay) error
	// GetOverlay returns nil (no error) when the hotel has no overlay for
	// the flow.
	GetOverlay(hotelID, category string) (*models.CustomizationOverlay, error)
	ListOverlays(hotelID string) ([]models.CustomizationOverlay, error)
	DeleteOverlay(hotelID, category string) error
}

// SessionRepo manages conversation sessions. Saves use optimistic
// concurrency: SaveSession compares the caller's version against the stored
// one and returns models.ErrSessionConflict on mismatch.
type SessionRepo interface {
	// GetSession returns nil (no error) when no session exists for the key.
	GetSession(userID, hotelID string) (*models.Session, error)
	// CreateSession inserts a new session at version 1, replacing any
	// previous session for the key (a new trigger supersedes the old
	// conversation).
	CreateSession(s models.Session) (*models.Session, error)
	// SaveSession persists the session if the stored version still matches
	// s.Version, then returns the session with the incremented version.
	SaveSession(s models.Session) (*models.Session, error)
	// DeleteSessions removes all sessions for a user across hotels and
	// returns how many were deleted. Used by the admin reset command.
	DeleteSessions(userID string) (int, error)
}

// GuestContextRepo stores the read-only placeholder fields for a guest at a
// hotel (guest name, room number, wifi password and so on).
type GuestContextRepo interface {
	GetGuestContext(userID, hotelID string) (map[string]string, error)
	SaveGuestContext(userID, hotelID string, fields map[string]string) error
}

// Store is the composite persistence interface wired into the service.
type Store interface {
	TemplateRepo
	OverlayRepo
	SessionRepo
	DedupRepo
	GuestContextRepo
	Close() error
}

// InMemoryStore is a full in-memory Store used by tests and demo mode.
type InMemoryStore struct {
	mu       sync.RWMutex
	flows    map[string]models.FlowDefinition              // category -> flow
	steps    map[string]map[string]models.StepDefinition   // category -> step id -> step
	overlays map[string]map[string]models.CustomizationOverlay // hotel -> category -> overlay
	sessions map[models.SessionKey]models.Session
	dedup    map[string]DedupRecord // message id -> record
	guests   map[models.SessionKey]map[string]string
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		flows:    make(map[string]models.FlowDefinition),
		steps:    make(map[string]map[string]models.StepDefinition),
		overlays: make(map[string]map[string]models.CustomizationOverlay),
		sessions: make(map[models.SessionKey]models.Session),
		dedup:    make(map[string]DedupRecord),
		guests:   make(map[models.SessionKey]map[string]string),
	}
}

func (s *InMemoryStore) SaveFlow(f models.FlowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if existing, ok := s.flows[f.Category]; ok {
		f.CreatedAt = existing.CreatedAt
		f.Version = existing.Version + 1
	} else {
		f.CreatedAt = now
		f.Version = 1
	}
	f.UpdatedAt = now
	s.flows[f.Category] = f
	return nil
}

func (s *InMemoryStore) GetFlow(category string) (*models.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[category]
	if !ok {
		return nil, models.ErrFlowNotFound
	}
	return &f, nil
}

func (s *InMemoryStore) ListFlows() ([]models.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.FlowDefinition, 0, len(s.flows))
	for _, f := range s.flows {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

func (s *InMemoryStore) DeleteFlow(category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[category]; !ok {
		return models.ErrFlowNotFound
	}
	delete(s.flows, category)
	delete(s.steps, category)
	return nil
}

func (s *InMemoryStore) SaveStep(step models.StepDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.steps[step.FlowCategory] == nil {
		s.steps[step.FlowCategory] = make(map[string]models.StepDefinition)
	}
	s.steps[step.FlowCategory][step.ID] = step
	return nil
}

func (s *InMemoryStore) GetStep(category, stepID string) (*models.StepDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	step, ok := s.steps[category][stepID]
	if !ok {
		return nil, models.ErrStepNotFound
	}
	return &step, nil
}

func (s *InMemoryStore) GetRootStep(category string) (*models.StepDefinition, error) {
	steps, err := s.ListSteps(category)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, models.ErrStepNotFound
	}
	return &steps[0], nil
}

func (s *InMemoryStore) ListSteps(category string) ([]models.StepDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := s.steps[category]
	out := make([]models.StepDefinition, 0, len(byID))
	for _, step := range byID {
		out = append(out, step)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemoryStore) DeleteStep(category, stepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.steps[category][stepID]; !ok {
		return models.ErrStepNotFound
	}
	delete(s.steps[category], stepID)
	return nil
}

func (s *InMemoryStore) SaveOverlay(o models.CustomizationOverlay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overlays[o.HotelID] == nil {
		s.overlays[o.HotelID] = make(map[string]models.CustomizationOverlay)
	}
	o.UpdatedAt = time.Now()
	s.overlays[o.HotelID][o.FlowCategory] = o
	return nil
}

func (s *InMemoryStore) GetOverlay(hotelID, category string) (*models.CustomizationOverlay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.overlays[hotelID][category]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *InMemoryStore) ListOverlays(hotelID string) ([]models.CustomizationOverlay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CustomizationOverlay, 0, len(s.overlays[hotelID]))
	for _, o := range s.overlays[hotelID] {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FlowCategory < out[j].FlowCategory })
	return out, nil
}

func (s *InMemoryStore) DeleteOverlay(hotelID, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.overlays[hotelID][category]; !ok {
		return nil
	}
	delete(s.overlays[hotelID], category)
	return nil
}

func (s *InMemoryStore) GetSession(userID, hotelID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[models.SessionKey{UserID: userID, HotelID: hotelID}]
	if !ok {
		return nil, nil
	}
	return sess.Clone(), nil
}

func (s *InMemoryStore) CreateSession(sess models.Session) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	sess.Version = 1
	sess.CreatedAt = now
	sess.UpdatedAt = now
	s.sessions[sess.Key()] = sess
	slog.Debug("InMemoryStore.CreateSession: session created", "userID", sess.UserID, "hotelID", sess.HotelID, "flow", sess.FlowCategory)
	return sess.Clone(), nil
}

func (s *InMemoryStore) SaveSession(sess models.Session) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[sess.Key()]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	if existing.Version != sess.Version {
		slog.Debug("InMemoryStore.SaveSession: version conflict", "userID", sess.UserID, "hotelID", sess.HotelID, "expected", sess.Version, "stored", existing.Version)
		return nil, models.ErrSessionConflict
	}
	sess.Version++
	sess.CreatedAt = existing.CreatedAt
	sess.UpdatedAt = time.Now()
	s.sessions[sess.Key()] = sess
	return sess.Clone(), nil
}

func (s *InMemoryStore) DeleteSessions(userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for key := range s.sessions {
		if key.UserID == userID {
			delete(s.sessions, key)
			deleted++
		}
	}
	return deleted, nil
}

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, userID, hotelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{
		MessageID:  messageID,
		UserID:     userID,
		HotelID:    hotelID,
		ReceivedAt: time.Now(),
	}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.dedup[messageID] = rec
	return nil
}

func (s *InMemoryStore) GetGuestContext(userID, hotelID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields, ok := s.guests[models.SessionKey{UserID: userID, HotelID: hotelID}]
	if !ok {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out, nil
}

func (s *InMemoryStore) SaveGuestContext(userID, hotelID string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := models.SessionKey{UserID: userID, HotelID: hotelID}
	if s.guests[key] == nil {
		s.guests[key] = make(map[string]string, len(fields))
	}
	for k, v := range fields {
		s.guests[key][k] = v
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
