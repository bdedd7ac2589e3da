package model

import "time"

// Channel identifies a notification delivery channel.
type Channel string

const (
	ChannelApp   Channel = "app"
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// DeliveryStatus tracks a notification from fan-out to response.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryResponded DeliveryStatus = "responded"
)

// NotificationRecord is the per (request, veterinarian) fan-out entry. One is
// created for every notified veterinarian; delivery confirmations and
// responses update it afterwards. Records are retained for audit even after
// the request reaches a terminal state.
type NotificationRecord struct {
	ID         string         `json:"id"`
	RequestID  string         `json:"request_id"`
	VetID      string         `json:"vet_id"`
	Channels   []Channel      `json:"channels"`
	DistanceKm float64        `json:"distance_km"`
	Status     DeliveryStatus `json:"status"`

	SentAt      time.Time  `json:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}
