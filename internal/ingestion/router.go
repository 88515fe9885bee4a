package ingestion

import (
	"TroveLedger/internal/core"
	"TroveLedger/internal/event"
	"TroveLedger/internal/oracle"
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// Submission is one command on its way to the engine. Reply, when set,
// receives the outcome; it must be buffered.
type Submission struct {
	Event event.Event
	Reply chan<- SubmitResult
}

type SubmitResult struct {
	Receipt *core.Receipt
	Err     error
}

// Processor applies commands. *core.Engine implements it.
type Processor interface {
	Process(evt event.Event) (*core.Receipt, error)
}

// PriceSink takes price observations. *oracle.FeedCache implements it.
type PriceSink interface {
	Update(u oracle.PriceUpdate) (oracle.UpdateOutcome, error)
}

// Router sorts raw NATS messages: prices go straight to the price cache,
// commands are decoded and queued for the engine. A message is ACKed once
// it has been handed on, or when it can never succeed.
type Router struct {
	priceSubject string
	prices       PriceSink
	commands     chan<- Submission
	logger       zerolog.Logger
}

func NewRouter(priceSubject string, prices PriceSink, commands chan<- Submission, logger zerolog.Logger) *Router {
	return &Router{
		priceSubject: priceSubject,
		prices:       prices,
		commands:     commands,
		logger:       logger,
	}
}

// Run handles messages until ctx is cancelled or in is closed.
func (r *Router) Run(ctx context.Context, in <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			r.Handle(ctx, raw)
		}
	}
}

func (r *Router) Handle(ctx context.Context, raw RawEvent) {
	switch {
	case raw.Subject == r.priceSubject:
		r.handlePrice(raw)
	case strings.HasPrefix(raw.Subject, CommandSubjectPrefix+"."):
		r.handleCommand(ctx, raw)
	default:
		r.logger.Warn().Str("subject", raw.Subject).Msg("unknown subject")
		raw.ack()
	}
}

func (r *Router) handlePrice(raw RawEvent) {
	u, err := ParsePriceUpdate(raw.Data)
	if err != nil {
		r.logger.Warn().Err(err).Msg("bad price update")
		raw.ack()
		return
	}
	outcome, err := r.prices.Update(u)
	if err != nil {
		r.logger.Warn().Err(err).Int64("price_seq", u.Sequence).Msg("price update rejected")
	} else if outcome != oracle.OutcomeAccepted {
		r.logger.Debug().Str("outcome", outcome.String()).Int64("price_seq", u.Sequence).Msg("price update")
	}
	raw.ack()
}

func (r *Router) handleCommand(ctx context.Context, raw RawEvent) {
	evt, err := ParseCommand(raw)
	if err != nil {
		// Redelivery cannot fix a bad payload.
		r.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse command failed")
		raw.ack()
		return
	}

	// Blocking send: back-pressure reaches NATS through unacked messages.
	select {
	case r.commands <- Submission{Event: evt}:
		raw.ack()
	case <-ctx.Done():
		raw.nak()
	}
}

// RunCommandLoop feeds queued commands to the engine one at a time, in
// arrival order. Rejections are logged and replied; they are never retried.
func RunCommandLoop(ctx context.Context, in <-chan Submission, p Processor, logger zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub, ok := <-in:
			if !ok {
				return nil
			}
			receipt, err := p.Process(sub.Event)
			if err != nil {
				lvl := zerolog.InfoLevel
				switch core.Classify(err) {
				case core.ClassUnavailable, core.ClassInternal:
					lvl = zerolog.WarnLevel
				}
				logger.WithLevel(lvl).Err(err).
					Str("command", sub.Event.EventType().String()).
					Str("request_id", sub.Event.IdempotencyKey()).
					Msg("command rejected")
			}
			if sub.Reply != nil {
				sub.Reply <- SubmitResult{Receipt: receipt, Err: err}
			}
		}
	}
}
