package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"goflare.io/aegis/internal/models"
)

// Inbound message types.
const (
	TypeNotification     = "notification"
	TypeNotificationRead = "notification_read"
	TypeBulkRead         = "bulk_read"
)

var (
	// ErrUnknownType is returned for a message whose type has no handler.
	ErrUnknownType = errors.New("realtime: unknown message type")
	// ErrMalformed is returned for a message missing its payload.
	ErrMalformed = errors.New("realtime: malformed message")
)

// Handler receives decoded inbound messages.
type Handler interface {
	OnNotification(n models.Notification)
	OnRead(id string)
	OnBulkRead()
}

// Message is the inbound envelope.
type Message struct {
	Type           string               `json:"type"`
	Notification   *models.Notification `json:"notification,omitempty"`
	NotificationID string               `json:"notificationId,omitempty"`
}

// Dispatch decodes data and hands it to h.
func Dispatch(data []byte, h Handler) error {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}

	switch msg.Type {
	case TypeNotification:
		if msg.Notification == nil {
			return fmt.Errorf("%w: %s without notification", ErrMalformed, msg.Type)
		}
		h.OnNotification(*msg.Notification)
	case TypeNotificationRead:
		if msg.NotificationID == "" {
			return fmt.Errorf("%w: %s without notificationId", ErrMalformed, msg.Type)
		}
		h.OnRead(msg.NotificationID)
	case TypeBulkRead:
		h.OnBulkRead()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
	return nil
}
