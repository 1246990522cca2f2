package placeholder

import (
	"testing"

	"github.com/GuestPipe/GuestPipe/internal/models"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name      string
		template  string
		collected map[string]string
		external  map[string]string
		want      string
	}{
		{
			name:     "external value",
			template: "Room: {room_number}",
			external: map[string]string{"room_number": "205"},
			want:     "Room: 205",
		},
		{
			name:      "collected wins over external",
			template:  "Hello {guest_name}",
			collected: map[string]string{"guest_name": "Asha"},
			external:  map[string]string{"guest_name": "Guest"},
			want:      "Hello Asha",
		},
		{
			name:     "unresolved renders empty",
			template: "Wifi: {wifi_password}!",
			want:     "Wifi: !",
		},
		{
			name:     "multiple tokens",
			template: "{guest_name}, room {room_number} at {hotel_name}",
			external: map[string]string{"guest_name": "Ben", "room_number": "12", "hotel_name": "Sea View"},
			want:     "Ben, room 12 at Sea View",
		},
		{
			name:     "no tokens",
			template: "plain text",
			want:     "plain text",
		},
		{
			name:     "literal braces preserved",
			template: "send {\"not\": \"a token\"} back",
			want:     "send {\"not\": \"a token\"} back",
		},
		{
			name:     "unterminated brace preserved",
			template: "dangling {guest_name",
			external: map[string]string{"guest_name": "x"},
			want:     "dangling {guest_name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Render(tt.template, tt.collected, tt.external)
			if got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

func TestRenderDoesNotMutateInputs(t *testing.T) {
	collected := map[string]string{"a": "1"}
	external := map[string]string{"b": "2"}
	Render("{a}{b}{c}", collected, external)
	if len(collected) != 1 || len(external) != 1 {
		t.Error("inputs were mutated")
	}
}

func TestRenderInteractive(t *testing.T) {
	payload := &models.InteractivePayload{
		Type:   models.InteractiveButtons,
		Header: "Services at {hotel_name}",
		Options: []models.InteractiveOption{
			{ID: "restaurant", Title: "🍽️ Restaurant"},
			{ID: "housekeeping", Title: "🧹 Housekeeping for room {room_number}"},
		},
	}
	external := map[string]string{"hotel_name": "Sea View", "room_number": "205"}

	got := RenderInteractive(payload, nil, external)
	if got.Header != "Services at Sea View" {
		t.Errorf("header not rendered: %q", got.Header)
	}
	if got.Options[1].Title != "🧹 Housekeeping for room 205" {
		t.Errorf("option title not rendered: %q", got.Options[1].Title)
	}
	if payload.Header != "Services at {hotel_name}" {
		t.Error("input payload must not be mutated")
	}
	if RenderInteractive(nil, nil, nil) != nil {
		t.Error("nil payload should render as nil")
	}
}
