package models

import (
	"errors"
	"testing"
	"time"
)

func TestStepDefinitionValidate(t *testing.T) {
	exists := func(id string) bool { return id == "menu" || id == "done" }

	step := StepDefinition{
		ID:              "ask_name",
		FlowCategory:    FlowCategoryCheckin,
		MessageTemplate: "What is your full name?",
		DefaultNext:     "done",
		DataKey:         "guest_name",
	}
	if err := step.Validate(exists); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	step.DefaultNext = "missing"
	if err := step.Validate(exists); !errors.Is(err, ErrUnknownNextStep) {
		t.Errorf("expected ErrUnknownNextStep, got %v", err)
	}

	step.DefaultNext = "done"
	step.ConditionalNext = map[string]string{"1": "nowhere"}
	if err := step.Validate(exists); !errors.Is(err, ErrUnknownNextStep) {
		t.Errorf("expected ErrUnknownNextStep for conditional target, got %v", err)
	}

	step.ConditionalNext = nil
	step.MessageTemplate = ""
	if err := step.Validate(exists); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestOverlayApplyTo(t *testing.T) {
	base := StepDefinition{
		ID:              "welcome",
		FlowCategory:    FlowCategoryMainMenu,
		MessageTemplate: "Welcome to {hotel_name}!",
		Options:         map[string]string{"1": "Room service"},
		IsCustomizable:  true,
	}
	overlay := &CustomizationOverlay{
		HotelID:      "hotel-1",
		FlowCategory: FlowCategoryMainMenu,
		Enabled:      true,
		Steps: map[string]StepOverride{
			"welcome": {MessageTemplate: "Namaste from {hotel_name}!"},
		},
	}

	effective := overlay.ApplyTo(base)
	if effective.MessageTemplate != "Namaste from {hotel_name}!" {
		t.Errorf("message not overridden: %q", effective.MessageTemplate)
	}
	if effective.Options["1"] != "Room service" {
		t.Error("options should be untouched when override has none")
	}
	if base.MessageTemplate != "Welcome to {hotel_name}!" {
		t.Error("base step must not be mutated")
	}

	overlay.Enabled = false
	if got := overlay.ApplyTo(base); got.MessageTemplate != base.MessageTemplate {
		t.Error("disabled overlay must not apply")
	}

	base.IsCustomizable = false
	overlay.Enabled = true
	if got := overlay.ApplyTo(base); got.MessageTemplate != base.MessageTemplate {
		t.Error("non-customizable step must not be overridden")
	}
}

func TestSessionHistory(t *testing.T) {
	s := &Session{UserID: "15551234567", HotelID: "hotel-1"}
	s.PushHistory("a")
	s.PushHistory("b")
	s.PushHistory("b") // duplicate top entry is ignored
	if len(s.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(s.History))
	}
	top, ok := s.PopHistory()
	if !ok || top != "b" {
		t.Errorf("expected to pop b, got %q ok=%v", top, ok)
	}
	if _, ok := s.PopHistory(); !ok {
		t.Error("expected to pop a")
	}
	if _, ok := s.PopHistory(); ok {
		t.Error("expected empty stack")
	}
}

func TestSessionExpiredAndClone(t *testing.T) {
	now := time.Now()
	s := &Session{LastActivity: now.Add(-SessionTTL - time.Minute)}
	if !s.Expired(now) {
		t.Error("session idle past TTL should be expired")
	}
	s.LastActivity = now
	if s.Expired(now) {
		t.Error("fresh session should not be expired")
	}

	s.SetCollected("room_number", "205")
	s.PushHistory("welcome")
	clone := s.Clone()
	clone.Collected["room_number"] = "999"
	clone.History[0] = "other"
	if s.Collected["room_number"] != "205" || s.History[0] != "welcome" {
		t.Error("clone must not share state with original")
	}
}
