package ingestion

import (
	"TroveLedger/internal/core"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const EventSubjectPrefix = "trove.events"

// StreamPublisher is the slice of jetstream.JetStream the publisher uses.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes applied commands to NATS for downstream
// consumers on trove.events.{event_type}. The message id is the sequence,
// so JetStream drops republished outputs.
type OutboundPublisher struct {
	js        StreamPublisher
	inputChan <-chan PublishableEvent
	logger    zerolog.Logger
}

// PublishableEvent is the outbound JSON shape of one applied command.
type PublishableEvent struct {
	Sequence     int64           `json:"sequence"`
	EventType    string          `json:"event_type"`
	RequestID    string          `json:"request_id"`
	Timestamp    int64           `json:"timestamp"`
	Price        string          `json:"price,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	Result       json.RawMessage `json:"result,omitempty"`
	StateHash    string          `json:"state_hash"`
	PrevHash     string          `json:"prev_hash"`
	Liquidations int             `json:"liquidations,omitempty"`
}

func NewPublishableEvent(out core.CoreOutput) PublishableEvent {
	env := out.Envelope
	evt := PublishableEvent{
		Sequence:     env.Sequence,
		EventType:    env.EventType.String(),
		RequestID:    env.IdempotencyKey,
		Timestamp:    env.Timestamp,
		Payload:      env.Payload,
		Result:       env.Result,
		StateHash:    hex.EncodeToString(env.StateHash[:]),
		PrevHash:     hex.EncodeToString(env.PrevHash[:]),
		Liquidations: len(out.Liquidations),
	}
	if env.Price != nil {
		evt.Price = env.Price.Dec()
	}
	return evt
}

func (e PublishableEvent) Subject() string {
	return fmt.Sprintf("%s.%s", EventSubjectPrefix, e.EventType)
}

func NewOutboundPublisher(js StreamPublisher, inputChan <-chan PublishableEvent, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: downstream consumers can read the event log.
				op.logger.Warn().Err(err).Int64("seq", evt.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = op.js.Publish(ctx, evt.Subject(), data, jetstream.WithMsgID(fmt.Sprintf("trove-%d", evt.Sequence)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       "TROVE_EVENTS",
		Subjects:   []string{EventSubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream TROVE_EVENTS")
	return nil
}
