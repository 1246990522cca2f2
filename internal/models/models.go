// Package models defines the core data structures for GuestPipe.
//
// It includes flow and step definitions, per-hotel customization overlays,
// conversation sessions, and the response types shared across modules.
package models

import (
	"errors"
	"fmt"
	"time"
)

// WildcardInput is the conditional-next key that matches any validated input.
const WildcardInput = "*"

// Flow categories seeded by default. Templates may define additional
// categories; these are the ones the engine itself needs to know about.
const (
	// FlowCategoryMainMenu is the distinguished root flow every hotel has.
	FlowCategoryMainMenu = "main_menu"
	// FlowCategoryDemo is the self-service demo flow started by the "demo" keyword.
	FlowCategoryDemo = "demo"
	// FlowCategoryCheckin is the guest check-in flow started by a QR deep link.
	FlowCategoryCheckin = "hotel_checkin"
)

// Validation constants for template authoring.
const (
	// MaxMessageTemplateLength defines the maximum allowed length for a step's message template.
	MaxMessageTemplateLength = 4096
	// MaxOptionLabelLength defines the maximum allowed length for option labels.
	MaxOptionLabelLength = 100
	// MaxOptionsCount defines the maximum number of options a step may offer.
	MaxOptionsCount = 10
	// MaxInteractiveButtons is the WhatsApp limit on reply buttons per message.
	MaxInteractiveButtons = 3
)

// Error variables for better error handling and testability
var (
	ErrFlowNotFound       = errors.New("flow definition not found")
	ErrStepNotFound       = errors.New("step definition not found")
	ErrFlowInactive       = errors.New("flow definition is not active")
	ErrFlowDisabled       = errors.New("flow is disabled for this hotel")
	ErrSessionNotFound    = errors.New("no session for this user and hotel")
	ErrSessionConflict    = errors.New("session was modified concurrently")
	ErrSessionInactive    = errors.New("session is no longer active")
	ErrLeaseUnavailable   = errors.New("session lease unavailable")
	ErrEmptyFlowCategory  = errors.New("flow category cannot be empty")
	ErrEmptyStepID        = errors.New("step id cannot be empty")
	ErrEmptyMessage       = errors.New("message template cannot be empty")
	ErrMessageTooLong     = errors.New("message template exceeds maximum length")
	ErrTooManyOptions     = errors.New("too many options")
	ErrEmptyOptionLabel   = errors.New("option label cannot be empty")
	ErrOptionLabelTooLong = errors.New("option label exceeds maximum length")
	ErrUnknownNextStep    = errors.New("transition references an unknown step id")
	ErrEmptyUserID        = errors.New("user id cannot be empty")
	ErrEmptyHotelID       = errors.New("hotel id cannot be empty")
)

// FlowDefinition is a named, versioned collection of steps. The category acts
// as the trigger key ("hotel_checkin", "main_menu"); at most one active
// definition exists per category.
type FlowDefinition struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks a flow definition for authoring errors.
func (f *FlowDefinition) Validate() error {
	if f.Category == "" {
		return ErrEmptyFlowCategory
	}
	return nil
}

// InteractiveType distinguishes structured interactive payload kinds.
type InteractiveType string

const (
	// InteractiveButtons renders up to three quick-reply buttons.
	InteractiveButtons InteractiveType = "buttons"
	// InteractiveList renders a selectable list of rows.
	InteractiveList InteractiveType = "list"
)

// InteractiveOption is one selectable button or list row.
type InteractiveOption struct {
	ID    string `json:"id"`    // input token reported back when selected
	Title string `json:"title"` // label shown to the guest
}

// InteractivePayload is the structured part of a step message (buttons or a
// list). Only the textual fields participate in placeholder rendering.
type InteractivePayload struct {
	Type    InteractiveType     `json:"type"`
	Header  string              `json:"header,omitempty"`
	Options []InteractiveOption `json:"options"`
}

// StepDefinition is one prompt/response unit within a flow.
type StepDefinition struct {
	ID              string              `json:"id"`
	FlowCategory    string              `json:"flow_category"`
	DisplayOrder    int                 `json:"display_order"`
	MessageTemplate string              `json:"message_template"`
	Interactive     *InteractivePayload `json:"interactive,omitempty"`
	// Options maps accepted input tokens to human labels. Empty means the
	// step accepts free text.
	Options map[string]string `json:"options,omitempty"`
	// DefaultNext is the linear successor step id; empty means terminal.
	DefaultNext string `json:"default_next,omitempty"`
	// ConditionalNext maps normalized input (or WildcardInput) to a successor id.
	ConditionalNext map[string]string `json:"conditional_next,omitempty"`
	// IsOptional marks steps that back-navigation may skip once their
	// DataKey is already collected.
	IsOptional bool `json:"is_optional"`
	// DataKey names the collected-data slot a valid answer is stored under.
	// Empty for purely informational steps.
	DataKey string `json:"data_key,omitempty"`
	// IsCustomizable allows hotels to override message and options.
	IsCustomizable bool `json:"is_customizable"`
}

// Validate checks a step definition for authoring errors. stepExists reports
// whether a step id is defined within the same flow; transition targets are
// validated against it so broken wiring is rejected at authoring time rather
// than discovered mid-conversation.
func (s *StepDefinition) Validate(stepExists func(id string) bool) error {
	if s.ID == "" {
		return ErrEmptyStepID
	}
	if s.FlowCategory == "" {
		return ErrEmptyFlowCategory
	}
	if s.MessageTemplate == "" && s.Interactive == nil {
		return ErrEmptyMessage
	}
	if len(s.MessageTemplate) > MaxMessageTemplateLength {
		return ErrMessageTooLong
	}
	if len(s.Options) > MaxOptionsCount {
		return ErrTooManyOptions
	}
	for key, label := range s.Options {
		if key == "" || label == "" {
			return ErrEmptyOptionLabel
		}
		if len(label) > MaxOptionLabelLength {
			return ErrOptionLabelTooLong
		}
	}
	if stepExists != nil {
		if s.DefaultNext != "" && !stepExists(s.DefaultNext) {
			return fmt.Errorf("default_next %q: %w", s.DefaultNext, ErrUnknownNextStep)
		}
		for input, target := range s.ConditionalNext {
			if !stepExists(target) {
				return fmt.Errorf("conditional_next[%q] %q: %w", input, target, ErrUnknownNextStep)
			}
		}
	}
	return nil
}

// StepOverride holds the hotel-customizable fields of a step. Zero-value
// fields leave the base definition untouched.
type StepOverride struct {
	MessageTemplate string            `json:"message_template,omitempty"`
	Options         map[string]string `json:"options,omitempty"`
}

// CustomizationOverlay is a per-hotel, per-flow customization record. It only
// overrides displayed content, never transition wiring.
type CustomizationOverlay struct {
	HotelID      string                  `json:"hotel_id"`
	FlowCategory string                  `json:"flow_category"`
	Enabled      bool                    `json:"enabled"`
	Steps        map[string]StepOverride `json:"steps,omitempty"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// ApplyTo merges the overlay onto a step and returns the effective step. The
// receiver and the input are not mutated.
func (o *CustomizationOverlay) ApplyTo(step StepDefinition) StepDefinition {
	if o == nil || !o.Enabled || !step.IsCustomizable {
		return step
	}
	override, ok := o.Steps[step.ID]
	if !ok {
		return step
	}
	if override.MessageTemplate != "" {
		step.MessageTemplate = override.MessageTemplate
	}
	if len(override.Options) > 0 {
		step.Options = override.Options
	}
	return step
}

// RenderedResponse is the engine's output for one inbound message: the text
// (and optional interactive payload) to deliver, plus whether the session
// reached a terminal step.
type RenderedResponse struct {
	Text        string              `json:"text"`
	Interactive *InteractivePayload `json:"interactive,omitempty"`
	Ended       bool                `json:"ended"`
}

// InboundMessage is one guest message as handed over by the transport layer.
// MessageID is the provider-assigned id used for deduplication.
type InboundMessage struct {
	UserID    string `json:"user_id"`
	HotelID   string `json:"hotel_id"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Validate checks an inbound message for required fields.
func (m *InboundMessage) Validate() error {
	if m.UserID == "" {
		return ErrEmptyUserID
	}
	if m.HotelID == "" {
		return ErrEmptyHotelID
	}
	return nil
}
