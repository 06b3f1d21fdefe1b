// Package pubsub relays conversation notifications between API nodes over
// NATS JetStream so a websocket joined on one node sees events produced on
// another.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Jefrey13/customerSupport/internal/infrastructure/config"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

const (
	headerOrigin = "Support-Origin"
	headerEvent  = "Support-Event"
)

// LocalPublisher receives envelopes that originated on other nodes.
type LocalPublisher interface {
	Publish(ctx context.Context, topic string, event string, payload []byte) error
}

// NATSRelay publishes every notification to `<prefix>.<conversationID>` and
// replays envelopes from other nodes into the local publisher.
type NATSRelay struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string
	prefix string
	origin string
	local  LocalPublisher
	log    *zap.Logger
}

// NewNATSRelay connects and makes sure the stream exists.
func NewNATSRelay(ctx context.Context, cfg config.NATSConfig, local LocalPublisher, logger *zap.Logger) (*NATSRelay, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("nats: url is empty")
	}
	log := logger.With(zap.String("component", "nats_relay"))

	nc, err := nats.Connect(cfg.URL, nats.Name("customer-support"))
	if err != nil {
		return nil, fmt.Errorf("nats: connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats: jetstream context: %w", err)
	}

	r := &NATSRelay{
		nc:     nc,
		js:     js,
		stream: cfg.Stream,
		prefix: strings.TrimSuffix(cfg.SubjectPrefix, "."),
		origin: uuid.NewString(),
		local:  local,
		log:    log,
	}
	if err := r.ensureStream(ctx, cfg.MaxAge); err != nil {
		nc.Close()
		return nil, err
	}
	return r, nil
}

func (r *NATSRelay) ensureStream(ctx context.Context, maxAge time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stream, err := r.js.Stream(ctx, r.stream)
	if err == nil {
		r.log.Info("using existing stream", zap.String("stream", stream.CachedInfo().Config.Name))
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("nats: lookup stream %q: %w", r.stream, err)
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	_, err = r.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        r.stream,
		Description: "Conversation notifications",
		Subjects:    []string{r.prefix + ".*"},
		MaxAge:      maxAge,
		Storage:     jetstream.FileStorage,
		Duplicates:  2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("nats: create stream %q: %w", r.stream, err)
	}
	r.log.Info("stream created", zap.String("stream", r.stream))
	return nil
}

// Publish appends one envelope to the conversation subject. The envelope id
// becomes Nats-Msg-Id so JetStream drops repeated publishes.
func (r *NATSRelay) Publish(ctx context.Context, topic string, event string, payload []byte) error {
	msg := nats.NewMsg(subjectFor(r.prefix, topic))
	msg.Data = payload
	msg.Header.Set(headerOrigin, r.origin)
	msg.Header.Set(headerEvent, event)
	if id := envelopeID(payload); id != "" {
		msg.Header.Set(nats.MsgIdHdr, id)
	}
	if _, err := r.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats: publish to %s: %w", msg.Subject, err)
	}
	return nil
}

// Run consumes envelopes published by other nodes until ctx is cancelled.
func (r *NATSRelay) Run(ctx context.Context) error {
	cons, err := r.js.CreateOrUpdateConsumer(ctx, r.stream, jetstream.ConsumerConfig{
		Name:              "relay-" + r.origin,
		FilterSubject:     r.prefix + ".*",
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckNonePolicy,
		InactiveThreshold: 5 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("nats: create consumer: %w", err)
	}

	cc, err := cons.Consume(func(m jetstream.Msg) {
		if m.Headers().Get(headerOrigin) == r.origin {
			return
		}
		topic := topicFromSubject(r.prefix, m.Subject())
		if topic == "" {
			return
		}
		if err := r.local.Publish(ctx, topic, m.Headers().Get(headerEvent), m.Data()); err != nil {
			r.log.Warn("relay to local subscribers failed", zap.String("subject", m.Subject()), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("nats: consume: %w", err)
	}
	r.log.Info("relay consuming", zap.String("stream", r.stream), zap.String("origin", r.origin))

	<-ctx.Done()
	cc.Stop()
	return nil
}

func (r *NATSRelay) Close() {
	if r.nc != nil {
		_ = r.nc.Drain()
	}
}

func subjectFor(prefix, conversationID string) string {
	return prefix + "." + conversationID
}

func topicFromSubject(prefix, subject string) string {
	topic, ok := strings.CutPrefix(subject, prefix+".")
	if !ok {
		return ""
	}
	return topic
}

func envelopeID(payload []byte) string {
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return ""
	}
	return head.ID
}
