package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const subjectPrefix = "opd."

// Subject maps an event type such as "queue.called" to its bus subject.
func Subject(eventType string) string {
	return subjectPrefix + eventType
}

// Connect dials NATS with unlimited reconnects, logging connection changes.
func Connect(url string, logger zerolog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("opd-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// JetStreamPublisher persists queue events in a JetStream stream so other
// services (pharmacy, cashier displays) can replay the day's queue.
type JetStreamPublisher struct {
	js     jetstream.JetStream
	stream string
}

// NewJetStreamPublisher ensures the stream exists and returns a publisher on it.
func NewJetStreamPublisher(ctx context.Context, nc *nats.Conn, stream string) (*JetStreamPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        stream,
		Description: "Outpatient queue lifecycle events",
		Subjects:    []string{subjectPrefix + "queue.>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  2 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", stream, err)
	}

	return &JetStreamPublisher{js: js, stream: stream}, nil
}

// Publish stores the event under Subject(event.Type). The event id doubles as
// the JetStream message id, so a retried publish is deduplicated.
func (p *JetStreamPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := p.js.Publish(ctx, Subject(event.Type), data, jetstream.WithMsgID(event.ID)); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}
