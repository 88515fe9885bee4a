package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	CommandSubjectPrefix = "trove.commands"
	DefaultPriceSubject  = "trove.prices"
)

// NATSSubscriber runs durable JetStream consumers and feeds their messages
// to the Router.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	logger    zerolog.Logger
	consumers []jetstream.ConsumeContext
}

// RawEvent is an undecoded message plus its acknowledgement hooks.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ACK once the message is handed on or known bad
	NakFunc   func() // NAK to have it redelivered
}

func (r RawEvent) ack() {
	if r.AckFunc != nil {
		r.AckFunc()
	}
}

func (r RawEvent) nak() {
	if r.NakFunc != nil {
		r.NakFunc()
	}
}

// SubjectConfig maps a NATS subject filter to its durable consumer.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string

	DeliverPolicy jetstream.DeliverPolicy
	AckWait       time.Duration
	MaxDeliver    int
}

// DefaultSubjects returns the command and price consumers. priceSubject
// is usually DefaultPriceSubject. Commands are delivered in full and
// retried; a restarted price consumer only needs the newest observation,
// and a lost price is superseded by the next one.
func DefaultSubjects(priceSubject string) []SubjectConfig {
	return []SubjectConfig{
		{
			Subject:       CommandSubjectPrefix + ".>",
			ConsumerName:  "ledger-commands",
			StreamName:    "TROVE_COMMANDS",
			DeliverPolicy: jetstream.DeliverAllPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
		},
		{
			Subject:       priceSubject,
			ConsumerName:  "ledger-prices",
			StreamName:    "TROVE_PRICES",
			DeliverPolicy: jetstream.DeliverLastPolicy,
			AckWait:       5 * time.Second,
			MaxDeliver:    1,
		},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    logger,
	}
}

// Subscribe creates a consumer per subject and starts consuming. Messages
// block on eventChan, so a slow engine holds back delivery rather than
// piling up in memory.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       cfg.AckWait,
			MaxDeliver:    cfg.MaxDeliver,
			DeliverPolicy: cfg.DeliverPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
			ns.logger.Warn().Err(err).Str("consumer", cfg.ConsumerName).Msg("consume error")
		}))
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the inbound streams if they don't exist. Prices
// only matter while fresh, so their stream keeps an hour.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, priceSubject string) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "TROVE_COMMANDS",
			Subjects:  []string{CommandSubjectPrefix + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "TROVE_PRICES",
			Subjects:  []string{priceSubject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured stream %s", cfg.Name)
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Int("consumers", len(ns.consumers)).Msg("subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
// onState, when set, is told about disconnects and reconnects; main wires it
// to the readiness check.
func ConnectNATS(url string, onState func(connected bool)) (*nats.Conn, jetstream.JetStream, error) {
	notify := func(connected bool) {
		if onState != nil {
			onState(connected)
		}
	}
	nc, err := nats.Connect(url,
		nats.Name("troveledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
			notify(false)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
			notify(true)
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
