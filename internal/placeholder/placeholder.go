// Package placeholder implements template placeholder resolution for GuestPipe.
//
// Templates contain {name} tokens which are resolved from the session's
// collected data first, then from the external context view (guest, stay and
// hotel fields). Resolution is a pure function over its inputs.
package placeholder

import (
	"strings"

	"github.com/GuestPipe/GuestPipe/internal/models"
)

// Well-known external placeholder names populated by the guest context
// provider. Templates are free to reference collected data keys as well.
const (
	GuestName    = "guest_name"
	RoomNumber   = "room_number"
	HotelName    = "hotel_name"
	WifiPassword = "wifi_password"
	CheckoutTime = "checkout_time"
)

// Render substitutes {name} tokens in template. Collected values take
// precedence over external values. Unresolved tokens render as empty strings;
// inputs are never mutated.
func Render(template string, collected, external map[string]string) string {
	var b strings.Builder
	b.Grow(len(template))
	for {
		open := strings.IndexByte(template, '{')
		if open < 0 {
			b.WriteString(template)
			return b.String()
		}
		close := strings.IndexByte(template[open:], '}')
		if close < 0 {
			b.WriteString(template)
			return b.String()
		}
		close += open
		name := template[open+1 : close]
		b.WriteString(template[:open])
		if isTokenName(name) {
			b.WriteString(lookup(name, collected, external))
		} else {
			// Not a well-formed token; keep the braces verbatim.
			b.WriteString(template[open : close+1])
		}
		template = template[close+1:]
	}
}

// RenderInteractive returns a copy of the payload with placeholders resolved
// in all textual fields. A nil payload renders as nil.
func RenderInteractive(p *models.InteractivePayload, collected, external map[string]string) *models.InteractivePayload {
	if p == nil {
		return nil
	}
	out := models.InteractivePayload{
		Type:    p.Type,
		Header:  Render(p.Header, collected, external),
		Options: make([]models.InteractiveOption, len(p.Options)),
	}
	for i, opt := range p.Options {
		out.Options[i] = models.InteractiveOption{
			ID:    opt.ID,
			Title: Render(opt.Title, collected, external),
		}
	}
	return &out
}

func lookup(name string, collected, external map[string]string) string {
	if v, ok := collected[name]; ok {
		return v
	}
	if v, ok := external[name]; ok {
		return v
	}
	return ""
}

// isTokenName reports whether s is a plausible placeholder name: non-empty,
// lowercase identifier characters only. Guards against swallowing literal
// brace content such as JSON snippets in templates.
func isTokenName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}
