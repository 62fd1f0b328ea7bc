package domain

import "github.com/google/uuid"

// EventType defines the type of real-time event.
type EventType string

const (
	EventNewMessage EventType = "new_message"
	EventError      EventType = "error"
	EventPong       EventType = "pong"
)

// Event is the envelope sent over WebSocket.
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
	ChatID  uuid.UUID   `json:"-"` // room routing key
}

// ErrorPayload is the payload of an error event.
type ErrorPayload struct {
	Message string `json:"message"`
}
