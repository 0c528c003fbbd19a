// Package notify delivers committed trust lifecycle events to interested
// parties: the structured log, in-process SSE subscribers and Redis pub/sub.
package notify

import (
	"time"

	"tisp.org/internal/ids"
)

// Event is the envelope every sink receives.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent stamps an envelope for eventType.
func NewEvent(eventType string, payload map[string]any) Event {
	return Event{
		ID:        ids.New(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// orgKeys are the payload fields that name an organization.
var orgKeys = []string{"source_organization", "target_organization", "organization"}

// Involves reports whether org appears as a party in the payload.
func (e Event) Involves(org string) bool {
	for _, key := range orgKeys {
		if v, ok := e.Payload[key].(string); ok && v == org {
			return true
		}
	}
	return false
}
