// Package nats publishes LSP events to NATS JetStream so other processes
// can follow server status and diagnostics.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/forgelsp/internal/logger"
	"github.com/Strob0t/forgelsp/internal/port/broadcast"
)

const (
	streamName      = "FORGELSP"
	headerRequestID = "X-Request-ID"

	closeFlushTimeout = 2 * time.Second
)

var _ broadcast.Broadcaster = (*Publisher)(nil)

// Handler processes one message. A returned error naks the message.
type Handler func(ctx context.Context, subject string, data []byte) error

// Publisher implements broadcast.Broadcaster on a JetStream stream.
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
	logger *slog.Logger
}

// Connect establishes a connection to NATS and ensures the stream capturing
// "<prefix>.>" exists.
func Connect(ctx context.Context, url, prefix string, log *slog.Logger) (*Publisher, error) {
	if log == nil {
		log = slog.Default()
	}
	if prefix == "" {
		prefix = "lsp"
	}

	nc, err := nats.Connect(url, nats.Name("forgelsp"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{prefix + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	log.Info("nats connected", "url", url, "stream", streamName, "prefix", prefix)
	return &Publisher{nc: nc, js: js, prefix: prefix, logger: log}, nil
}

// Subject maps an event type such as "lsp.status" onto this publisher's
// subject namespace.
func (p *Publisher) Subject(eventType string) string {
	return subjectFor(p.prefix, eventType)
}

func subjectFor(prefix, eventType string) string {
	name := strings.TrimPrefix(eventType, "lsp.")
	return prefix + "." + name
}

// Publish sends data to subject and waits for the stream acknowledgement.
func (p *Publisher) Publish(ctx context.Context, subject string, data []byte) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	if reqID := logger.RequestID(ctx); reqID != "" {
		msg.Header.Set(headerRequestID, reqID)
	}
	if _, err := p.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// BroadcastEvent publishes payload without waiting for the acknowledgement.
func (p *Publisher) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("marshal nats event payload", "type", eventType, "error", err)
		return
	}
	msg := nats.NewMsg(p.Subject(eventType))
	msg.Data = data
	if reqID := logger.RequestID(ctx); reqID != "" {
		msg.Header.Set(headerRequestID, reqID)
	}
	if _, err := p.js.PublishMsgAsync(msg); err != nil {
		p.logger.Warn("nats publish failed", "subject", msg.Subject, "error", err)
	}
}

// Subscribe consumes messages on subject until the returned stop function
// is called. Only messages published after the call are delivered.
func (p *Publisher) Subscribe(ctx context.Context, subject string, handler Handler) (func(), error) {
	consumer, err := p.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		msgCtx := context.Background()
		if reqID := msg.Headers().Get(headerRequestID); reqID != "" {
			msgCtx = logger.WithRequestID(msgCtx, reqID)
		}
		if err := handler(msgCtx, msg.Subject(), msg.Data()); err != nil {
			p.logger.Error("message handler failed", "subject", msg.Subject(), "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				p.logger.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			p.logger.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

// Close flushes pending publishes and closes the connection.
func (p *Publisher) Close() error {
	select {
	case <-p.js.PublishAsyncComplete():
	case <-time.After(closeFlushTimeout):
		p.logger.Warn("nats close: pending publishes not acknowledged")
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}
