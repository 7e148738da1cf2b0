package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

type Publisher struct {
	js nats.JetStreamContext
}

func New(nc *nats.Conn) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{js: js}, nil
}

// EnsureStream creates the stream when it does not exist yet.
func (p *Publisher) EnsureStream(name string, subjects ...string) error {
	const op = "nats.EnsureStream"

	_, err := p.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: subjects,
	})
	if err != nil {
		slog.Error("creating stream", "op", op, "stream", name, "error", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	slog.Info("stream created", "stream", name)
	return nil
}

func (p *Publisher) Publish(ctx context.Context, subject string, msg interface{}) error {
	const op = "nats.Publish"

	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshalling message", "op", op, "error", err, "subject", subject)
		return fmt.Errorf("marshal %T: %w", msg, err)
	}

	_, err = p.js.Publish(subject, data, nats.Context(ctx))
	if err != nil {
		slog.Error("publishing message", "op", op, "error", err, "subject", subject)
		return fmt.Errorf("publishing message: %w", err)
	}

	slog.Debug("message published", "subject", subject)
	return nil
}
