package store

import (
	"fmt"
	"log/slog"

	"github.com/GuestPipe/GuestPipe/internal/models"
	"github.com/google/uuid"
)

// SeedDefaultFlows upserts the built-in flow templates: the per-hotel main
// menu, the self-service demo flow and the guest check-in flow. Safe to run
// on every startup.
func SeedDefaultFlows(st Store) error {
	flows := []models.FlowDefinition{
		{ID: uuid.NewString(), Category: models.FlowCategoryMainMenu, Name: "Main menu", Active: true},
		{ID: uuid.NewString(), Category: models.FlowCategoryDemo, Name: "Demo", Active: true},
		{ID: uuid.NewString(), Category: models.FlowCategoryCheckin, Name: "Guest check-in", Active: true},
	}
	for _, f := range flows {
		if _, err := st.GetFlow(f.Category); err == nil {
			continue
		}
		if err := st.SaveFlow(f); err != nil {
			return fmt.Errorf("failed to seed flow %s: %w", f.Category, err)
		}
	}

	steps := defaultSteps()
	for _, step := range steps {
		if err := st.SaveStep(step); err != nil {
			return fmt.Errorf("failed to seed step %s/%s: %w", step.FlowCategory, step.ID, err)
		}
	}
	slog.Info("Default flows seeded", "flows", len(flows), "steps", len(steps))
	return nil
}

func defaultSteps() []models.StepDefinition {
	return []models.StepDefinition{
		// Main menu: the distinguished root every hotel shares, with
		// hotel-customizable wording.
		{
			ID:              "welcome",
			FlowCategory:    models.FlowCategoryMainMenu,
			DisplayOrder:    0,
			MessageTemplate: "Welcome to {hotel_name}! How can we help you today?",
			Options: map[string]string{
				"1": "Room service",
				"2": "Housekeeping",
				"3": "Hotel information",
			},
			ConditionalNext: map[string]string{
				"1": "room_service_request",
				"2": "housekeeping_request",
				"3": "hotel_info",
			},
			IsCustomizable: true,
		},
		{
			ID:              "room_service_request",
			FlowCategory:    models.FlowCategoryMainMenu,
			DisplayOrder:    1,
			MessageTemplate: "What would you like to order? Type your request and our kitchen will take it from there.",
			DataKey:         "room_service_request",
			DefaultNext:     "request_received",
			IsCustomizable:  true,
		},
		{
			ID:              "housekeeping_request",
			FlowCategory:    models.FlowCategoryMainMenu,
			DisplayOrder:    2,
			MessageTemplate: "What does room {room_number} need? (towels, cleaning, amenities...)",
			DataKey:         "housekeeping_request",
			DefaultNext:     "request_received",
			IsCustomizable:  true,
		},
		{
			ID:              "hotel_info",
			FlowCategory:    models.FlowCategoryMainMenu,
			DisplayOrder:    3,
			MessageTemplate: "You are staying at {hotel_name}. Wifi password: {wifi_password}. Checkout is at {checkout_time}. Type \"main menu\" anytime to go back.",
			DefaultNext:     "welcome",
			IsCustomizable:  true,
		},
		{
			ID:              "request_received",
			FlowCategory:    models.FlowCategoryMainMenu,
			DisplayOrder:    4,
			MessageTemplate: "Thank you {guest_name}, our team is on it. Anything else? Type \"main menu\" for more options.",
			DefaultNext:     "welcome",
			IsCustomizable:  true,
		},

		// Demo: the flow behind the "demo" keyword. Interactive service
		// menu modeled on the live demo conversation.
		{
			ID:              "demo_intro",
			FlowCategory:    models.FlowCategoryDemo,
			DisplayOrder:    0,
			MessageTemplate: "Welcome to the GuestPipe demo! Pick a service to see a live guest conversation.",
			Interactive: &models.InteractivePayload{
				Type:   models.InteractiveButtons,
				Header: "Hotel services",
				Options: []models.InteractiveOption{
					{ID: "restaurant", Title: "🍽️ Restaurant"},
					{ID: "management", Title: "👔 Management"},
					{ID: "housekeeping", Title: "🧹 Housekeeping"},
				},
			},
			Options: map[string]string{
				"restaurant":   "🍽️ Restaurant",
				"management":   "👔 Management",
				"housekeeping": "🧹 Housekeeping",
				"exit":         "🚪 Exit Demo",
			},
			ConditionalNext: map[string]string{
				"exit": "demo_complete",
				"*":    "demo_service",
			},
			DataKey: "demo_service",
		},
		{
			ID:              "demo_service",
			FlowCategory:    models.FlowCategoryDemo,
			DisplayOrder:    1,
			MessageTemplate: "You are now live connected to the {demo_service} team. Please place your order or make your request:",
			DataKey:         "demo_request",
			DefaultNext:     "demo_confirmation",
		},
		{
			ID:              "demo_confirmation",
			FlowCategory:    models.FlowCategoryDemo,
			DisplayOrder:    2,
			MessageTemplate: "Request received: \"{demo_request}\". In a real stay the {demo_service} team would confirm shortly. Reply 1 to try another service, 2 to finish.",
			Options: map[string]string{
				"1": "Try another service",
				"2": "Finish demo",
			},
			ConditionalNext: map[string]string{
				"1": "demo_intro",
				"2": "demo_complete",
			},
		},
		{
			ID:              "demo_complete",
			FlowCategory:    models.FlowCategoryDemo,
			DisplayOrder:    3,
			MessageTemplate: "That's the demo! Scan a hotel QR code or type \"demo\" to run it again.",
		},

		// Guest check-in: started by the QR deep link. Collect steps are
		// optional so back-navigation skips answers we already have.
		{
			ID:              "checkin_welcome",
			FlowCategory:    models.FlowCategoryCheckin,
			DisplayOrder:    0,
			MessageTemplate: "Welcome to {hotel_name}! Let's get you checked in. It only takes a minute.",
			DefaultNext:     "collect_full_name",
			IsCustomizable:  true,
		},
		{
			ID:              "collect_full_name",
			FlowCategory:    models.FlowCategoryCheckin,
			DisplayOrder:    1,
			MessageTemplate: "What is your full name?",
			DataKey:         "guest_name",
			DefaultNext:     "collect_email",
			IsOptional:      true,
		},
		{
			ID:              "collect_email",
			FlowCategory:    models.FlowCategoryCheckin,
			DisplayOrder:    2,
			MessageTemplate: "What email address should we send your receipt to?",
			DataKey:         "email",
			DefaultNext:     "collect_id_number",
			IsOptional:      true,
		},
		{
			ID:              "collect_id_number",
			FlowCategory:    models.FlowCategoryCheckin,
			DisplayOrder:    3,
			MessageTemplate: "Please type your government ID number for registration.",
			DataKey:         "id_number",
			DefaultNext:     "confirm_details",
			IsOptional:      true,
		},
		{
			ID:              "confirm_details",
			FlowCategory:    models.FlowCategoryCheckin,
			DisplayOrder:    4,
			MessageTemplate: "Please confirm your details:\nName: {guest_name}\nEmail: {email}\nID: {id_number}",
			Options: map[string]string{
				"1": "Confirm",
				"2": "Start over",
			},
			ConditionalNext: map[string]string{
				"1": "checkin_complete",
				"2": "collect_full_name",
			},
		},
		{
			ID:              "checkin_complete",
			FlowCategory:    models.FlowCategoryCheckin,
			DisplayOrder:    5,
			MessageTemplate: "You're checked in, {guest_name}! Room {room_number} is ready. Wifi password: {wifi_password}. Type \"hi\" anytime for hotel services.",
			IsCustomizable:  true,
		},
	}
}
