package store

import (
	"errors"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/GuestPipe/GuestPipe/internal/models"
)

func TestInMemoryStoreTemplates(t *testing.T) {
	s := NewInMemoryStore()

	flow := models.FlowDefinition{ID: "f1", Category: "demo", Name: "Demo", Active: true}
	if err := s.SaveFlow(flow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.GetFlow("demo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Version != 1 || !got.Active {
		t.Errorf("flow not stored correctly: %+v", got)
	}

	// Re-saving bumps the version.
	if err := s.SaveFlow(flow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ = s.GetFlow("demo")
	if got.Version != 2 {
		t.Errorf("expected version 2, got %d", got.Version)
	}

	if _, err := s.GetFlow("missing"); !errors.Is(err, models.ErrFlowNotFound) {
		t.Errorf("expected ErrFlowNotFound, got %v", err)
	}

	steps := []models.StepDefinition{
		{ID: "second", FlowCategory: "demo", DisplayOrder: 1, MessageTemplate: "b"},
		{ID: "first", FlowCategory: "demo", DisplayOrder: 0, MessageTemplate: "a"},
	}
	for _, step := range steps {
		if err := s.SaveStep(step); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	root, err := s.GetRootStep("demo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if root.ID != "first" {
		t.Errorf("expected root step 'first', got %q", root.ID)
	}
	listed, _ := s.ListSteps("demo")
	if len(listed) != 2 || listed[0].ID != "first" {
		t.Errorf("steps not ordered by display order: %+v", listed)
	}

	if _, err := s.GetStep("demo", "missing"); !errors.Is(err, models.ErrStepNotFound) {
		t.Errorf("expected ErrStepNotFound, got %v", err)
	}
}

func TestInMemoryStoreSessionCAS(t *testing.T) {
	s := NewInMemoryStore()
	sess := models.Session{
		UserID: "15551234567", HotelID: "hotel-1",
		FlowCategory: "demo", CurrentStep: "demo_intro",
		LastActivity: time.Now(), Active: true,
	}
	created, err := s.CreateSession(sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Version != 1 {
		t.Errorf("expected version 1, got %d", created.Version)
	}

	// First save succeeds and bumps the version.
	created.CurrentStep = "demo_service"
	saved, err := s.SaveSession(*created)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.Version != 2 {
		t.Errorf("expected version 2, got %d", saved.Version)
	}

	// A save with the stale version must conflict.
	created.CurrentStep = "demo_complete"
	if _, err := s.SaveSession(*created); !errors.Is(err, models.ErrSessionConflict) {
		t.Errorf("expected ErrSessionConflict, got %v", err)
	}

	// A stored session is isolated from caller mutation.
	loaded, _ := s.GetSession("15551234567", "hotel-1")
	loaded.CurrentStep = "mutated"
	reloaded, _ := s.GetSession("15551234567", "hotel-1")
	if reloaded.CurrentStep == "mutated" {
		t.Error("store must return isolated copies")
	}
}

func TestInMemoryStoreDedup(t *testing.T) {
	s := NewInMemoryStore()
	fresh, err := s.RecordInbound("wamid.1", "15551234567", "hotel-1")
	if err != nil || !fresh {
		t.Fatalf("expected fresh record, got fresh=%v err=%v", fresh, err)
	}
	fresh, err = s.RecordInbound("wamid.1", "15551234567", "hotel-1")
	if err != nil || fresh {
		t.Fatalf("expected duplicate, got fresh=%v err=%v", fresh, err)
	}
	dup, err := s.IsDuplicate("wamid.1")
	if err != nil || !dup {
		t.Fatalf("expected duplicate, got dup=%v err=%v", dup, err)
	}
	if err := s.MarkProcessed("wamid.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSeedDefaultFlows(t *testing.T) {
	s := NewInMemoryStore()
	if err := SeedDefaultFlows(s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Running twice must not fail or duplicate flows.
	if err := SeedDefaultFlows(s); err != nil {
		t.Fatalf("unexpected error on second seed: %v", err)
	}

	for _, category := range []string{models.FlowCategoryMainMenu, models.FlowCategoryDemo, models.FlowCategoryCheckin} {
		flow, err := s.GetFlow(category)
		if err != nil {
			t.Fatalf("flow %s not seeded: %v", category, err)
		}
		if !flow.Active {
			t.Errorf("flow %s should be active", category)
		}
		root, err := s.GetRootStep(category)
		if err != nil {
			t.Fatalf("flow %s has no root step: %v", category, err)
		}
		if root.ID == "" {
			t.Errorf("flow %s root step has empty id", category)
		}
	}

	// Every transition target of every seeded step must exist.
	for _, category := range []string{models.FlowCategoryMainMenu, models.FlowCategoryDemo, models.FlowCategoryCheckin} {
		steps, _ := s.ListSteps(category)
		ids := make(map[string]bool, len(steps))
		for _, step := range steps {
			ids[step.ID] = true
		}
		for _, step := range steps {
			if err := step.Validate(func(id string) bool { return ids[id] }); err != nil {
				t.Errorf("seeded step %s/%s invalid: %v", category, step.ID, err)
			}
		}
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "guestpipe.db")
	s, err := NewSQLiteStore(WithDSN(dsn))
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	defer s.Close()

	step := models.StepDefinition{
		ID:              "confirm_details",
		FlowCategory:    models.FlowCategoryCheckin,
		DisplayOrder:    4,
		MessageTemplate: "Confirm: {guest_name}",
		Options:         map[string]string{"1": "Confirm", "2": "Start over"},
		ConditionalNext: map[string]string{"1": "done", "2": "collect_full_name"},
		IsOptional:      false,
		DataKey:         "",
		IsCustomizable:  true,
	}
	if err := s.SaveStep(step); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.GetStep(models.FlowCategoryCheckin, "confirm_details")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Options["2"] != "Start over" || got.ConditionalNext["1"] != "done" {
		t.Errorf("step JSON columns not round-tripped: %+v", got)
	}

	sess := models.Session{
		UserID: "15551234567", HotelID: "hotel-1",
		FlowCategory: models.FlowCategoryCheckin, CurrentStep: "confirm_details",
		Collected:    map[string]string{"guest_name": "Asha"},
		History:      []string{"checkin_welcome", "collect_full_name"},
		LastActivity: time.Now(), Active: true,
	}
	created, err := s.CreateSession(sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	created.ErrorCount = 2
	saved, err := s.SaveSession(*created)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.SaveSession(*created); !errors.Is(err, models.ErrSessionConflict) {
		t.Errorf("expected ErrSessionConflict, got %v", err)
	}
	loaded, err := s.GetSession("15551234567", "hotel-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Version != saved.Version || loaded.ErrorCount != 2 || len(loaded.History) != 2 {
		t.Errorf("session not round-tripped: %+v", loaded)
	}
}

func TestPostgresStore(t *testing.T) {
	// This test requires a running PostgreSQL instance.
	// Set the DATABASE_URL environment variable for the connection string.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	pg, err := NewPostgresStore(WithDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer pg.Close()
	pg.db.Exec("DELETE FROM sessions WHERE user_id = 'pg-test-user'")

	sess := models.Session{
		UserID: "pg-test-user", HotelID: "hotel-1",
		FlowCategory: models.FlowCategoryDemo, CurrentStep: "demo_intro",
		LastActivity: time.Now(), Active: true,
	}
	created, err := pg.CreateSession(sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := pg.SaveSession(*created); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := pg.SaveSession(*created); !errors.Is(err, models.ErrSessionConflict) {
		t.Errorf("expected ErrSessionConflict, got %v", err)
	}
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
