package notify

import (
	"context"
	"fmt"
	"sync"
)

// MockGateway records sent notices for tests and can be configured to fail
// for specific recipients.
type MockGateway struct {
	mu      sync.Mutex
	sent    []Notice
	failFor map[string]bool
}

// NewMockGateway creates an empty MockGateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{failFor: make(map[string]bool)}
}

// FailFor makes Send return an error for the given recipient.
func (g *MockGateway) FailFor(recipientID string) {
	g.mu.Lock()
	g.failFor[recipientID] = true
	g.mu.Unlock()
}

// Send records the notice or fails if the recipient is marked.
func (g *MockGateway) Send(_ context.Context, n Notice) (DeliveryResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failFor[n.RecipientID] {
		return DeliveryResult{NoticeID: n.ID}, fmt.Errorf("delivery to %s failed", n.RecipientID)
	}
	g.sent = append(g.sent, n)
	return DeliveryResult{NoticeID: n.ID, Accepted: true}, nil
}

// Sent returns a copy of all recorded notices.
func (g *MockGateway) Sent() []Notice {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Notice(nil), g.sent...)
}

// SentTo returns the notices recorded for one recipient.
func (g *MockGateway) SentTo(recipientID string) []Notice {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Notice
	for _, n := range g.sent {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	return out
}
