package models

// StatusType represents the delivery status of an outbound message.
type StatusType string

const (
	StatusTypeSent      StatusType = "sent"
	StatusTypeDelivered StatusType = "delivered"
	StatusTypeRead      StatusType = "read"
	StatusTypeFailed    StatusType = "failed"
)

// Receipt is a delivery status event for a message we sent.
type Receipt struct {
	To     string     `json:"to"`
	Status StatusType `json:"status"`
	Time   int64      `json:"time"`
}

// Response is a raw inbound message as delivered by a transport, before hotel
// resolution. MessageID is the transport's id for the message and drives
// deduplication; transports that cannot supply one leave it empty and the
// processor synthesizes a deterministic id from sender, body and timestamp.
type Response struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	MessageID string `json:"message_id,omitempty"`
	Time      int64  `json:"time"`
}
