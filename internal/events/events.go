// Package events publishes claim lifecycle events for analytics consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix is followed by the transition name, e.g. claims.approve.
const SubjectPrefix = "claims."

type ClaimEvent struct {
	ClaimID    string    `json:"claim_id"`
	ListingID  string    `json:"listing_id"`
	Transition string    `json:"transition"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status"`
	ActorID    string    `json:"actor_id"`
	Notified   bool      `json:"notified"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e ClaimEvent) Subject() string {
	return SubjectPrefix + e.Transition
}

type Publisher interface {
	Publish(ctx context.Context, event ClaimEvent) error
}

type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("rangeclaims-api"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, event ClaimEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode claim event: %w", err)
	}
	if err := p.conn.Publish(event.Subject(), data); err != nil {
		return fmt.Errorf("publish %s: %w", event.Subject(), err)
	}
	return nil
}

func (p *NATSPublisher) Close() {
	// Drain flushes buffered publishes before closing.
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// Nop discards events. Used when NATS is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, ClaimEvent) error { return nil }
