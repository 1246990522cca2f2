package flow

// User-facing notices emitted by the engine. Step content comes from
// templates; these cover the engine's own control responses.
const (
	// MsgSessionExpired prefixes the main-menu message after an idle reset.
	MsgSessionExpired = "Your session has expired due to inactivity. Returning to the main menu."
	// MsgReturningToMenu prefixes the main-menu message on explicit navigation.
	MsgReturningToMenu = "Returning to the main menu."
	// MsgAtBeginning is sent when "back" runs out of history.
	MsgAtBeginning = "You are at the beginning. Returning to the main menu."
	// MsgCooloff prefixes the main-menu message after too many invalid inputs.
	MsgCooloff = "Too many consecutive errors. Let's start over from the main menu."
	// MsgStartOver is the reply to a message with no active session and no
	// recognized trigger. No session is created.
	MsgStartOver = "Your session has ended. Please start a new conversation by scanning a QR code or typing \"demo\"."
	// MsgCompleted closes a conversation whose step has no further transition.
	MsgCompleted = "Thank you. Conversation completed."
	// MsgServiceUnavailable is sent when a triggered flow is missing,
	// inactive or disabled for the hotel.
	MsgServiceUnavailable = "This service is currently unavailable."
	// MsgGenericError is the safe reply when template resolution fails
	// mid-conversation. The session is left untouched.
	MsgGenericError = "An error occurred. Please try again."
)
