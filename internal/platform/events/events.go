// Package events carries queue lifecycle notifications to display boards and
// to other services. Publishing is best effort: callers log failures and move on.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is one notification. Topic addresses websocket subscribers; Type
// selects the message bus subject.
type Event struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Topic        string          `json:"topic"`
	FacilityID   string          `json:"facility_id,omitempty"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// New builds an event with a fresh id and data marshalled to JSON.
func New(eventType, topic, resourceType, resourceID string, data interface{}) (Event, error) {
	ev := Event{
		ID:           uuid.NewString(),
		Type:         eventType,
		Topic:        topic,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Timestamp:    time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s event data: %w", eventType, err)
		}
		ev.Data = raw
	}
	return ev, nil
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error { return f(ctx, event) }

// Fanout publishes to every publisher and joins their errors. One failing
// sink does not stop delivery to the others.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
