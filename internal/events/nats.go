package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// messagePublisher is the part of *nats.Conn the publisher uses.
type messagePublisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher implements Publisher using NATS
type NATSPublisher struct {
	conn    *nats.Conn
	pub     messagePublisher
	subject string
	logger  zerolog.Logger
}

func newPublisher(pub messagePublisher, subject string, logger zerolog.Logger) *NATSPublisher {
	return &NATSPublisher{pub: pub, subject: subject, logger: logger}
}

// NewNATSPublisher connects to natsURL and publishes under subject.
func NewNATSPublisher(natsURL, subject string, logger zerolog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(natsURL,
		nats.Name("paddle-snapshotd"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}

	p := newPublisher(conn, subject, logger)
	p.conn = conn
	return p, nil
}

// Close flushes pending messages and closes the connection.
func (n *NATSPublisher) Close() {
	if n.conn != nil {
		n.conn.Drain()
	}
}

// PublishSnapshotAppended publishes on the base subject.
func (n *NATSPublisher) PublishSnapshotAppended(_ context.Context, event SnapshotAppendedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := n.pub.Publish(n.subject, data); err != nil {
		n.logger.Error().Err(err).Str("subject", n.subject).Msg("Failed to publish snapshot event")
		return err
	}

	n.logger.Debug().
		Str("id", event.ID).
		Float64("episode", event.Episode).
		Str("subject", n.subject).
		Msg("Published snapshot event")
	return nil
}

// PublishHistoryStatus publishes status changes, copying stale ones to an
// alerting subject.
func (n *NATSPublisher) PublishHistoryStatus(_ context.Context, event HistoryStatusEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	for _, subject := range statusSubjects(n.subject, event) {
		if err := n.pub.Publish(subject, data); err != nil {
			n.logger.Error().Err(err).Str("subject", subject).Msg("Failed to publish history status")
			return err
		}
	}

	n.logger.Debug().
		Str("status", event.Status).
		Float64("age_seconds", event.AgeSeconds).
		Msg("Published history status")
	return nil
}

func statusSubjects(base string, event HistoryStatusEvent) []string {
	subjects := []string{base + ".status"}
	if event.Status == StatusStale {
		subjects = append(subjects, base+".stale")
	}
	return subjects
}
