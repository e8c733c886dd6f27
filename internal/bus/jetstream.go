package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/unisonfm/unison/internal/room/events"
)

// JetStreamConfig holds configuration for the NATS JetStream bus
type JetStreamConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectPrefix string // e.g. "room.events"
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultJetStreamConfig returns default JetStream bus configuration
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:           nats.DefaultURL,
		StreamName:    "ROOM_EVENTS",
		ConsumerName:  "room-gateway",
		SubjectPrefix: "room.events",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// JetStreamBus publishes room events to a JetStream stream and consumes them
// back for broadcast. One subject per room keeps per-room ordering while
// rooms stay independent.
type JetStreamBus struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	config JetStreamConfig
}

// NewJetStreamBus connects to NATS and creates the stream if needed.
func NewJetStreamBus(config JetStreamConfig) (*JetStreamBus, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(context.Background(), jetstream.StreamConfig{
		Name:      config.StreamName,
		Subjects:  []string{config.SubjectPrefix + ".>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return &JetStreamBus{nc: nc, js: js, stream: stream, config: config}, nil
}

// Publish sends one event to the room's subject.
func (b *JetStreamBus) Publish(ctx context.Context, event *events.RoomEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal room event: %w", err)
	}
	if _, err := b.js.Publish(ctx, b.subject(event.RoomID), data); err != nil {
		return fmt.Errorf("publish room event: %w", err)
	}
	return nil
}

// Consume delivers events to h until ctx is cancelled. Events are processed
// one at a time, so per-subject order is preserved for the handler.
func (b *JetStreamBus) Consume(ctx context.Context, h Handler) error {
	consumer, err := b.ensureConsumer(ctx)
	if err != nil {
		return err
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		var event events.RoomEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to unmarshal room event")
			msg.Term()
			return
		}
		h(&event)
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("start JetStream consumer: %w", err)
	}
	defer consumeCtx.Stop()

	log.Info().
		Str("stream", b.config.StreamName).
		Str("consumer", b.config.ConsumerName).
		Msg("JetStream bus consuming")

	<-ctx.Done()
	return nil
}

// ensureConsumer creates or gets the durable consumer for this gateway.
func (b *JetStreamBus) ensureConsumer(ctx context.Context) (jetstream.Consumer, error) {
	consumerConfig := jetstream.ConsumerConfig{
		Name:          b.config.ConsumerName,
		Durable:       b.config.ConsumerName,
		Description:   "Room gateway broadcast consumer",
		FilterSubject: b.config.SubjectPrefix + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    b.config.MaxDeliver,
		AckWait:       b.config.AckWait,
		MaxAckPending: b.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	consumer, err := b.stream.Consumer(ctx, b.config.ConsumerName)
	if err != nil {
		consumer, err = b.stream.CreateConsumer(ctx, consumerConfig)
		if err != nil {
			return nil, fmt.Errorf("create consumer: %w", err)
		}
		log.Info().Msg("created JetStream consumer for room gateway")
	}
	return consumer, nil
}

// Close drains the NATS connection.
func (b *JetStreamBus) Close() {
	b.nc.Close()
}

// subject maps a room id onto a single subject token.
func (b *JetStreamBus) subject(roomID string) string {
	return b.config.SubjectPrefix + "." + strings.ReplaceAll(roomID, ".", "_")
}
