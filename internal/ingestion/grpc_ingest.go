package ingestion

import (
	"TroveLedger/internal/core"
	"TroveLedger/internal/event"
	"TroveLedger/internal/oracle"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GRPCIngestService is the synchronous ingest path behind the gRPC and
// HTTP APIs. Commands share the NATS queue, so both paths are applied in
// one order.
type GRPCIngestService struct {
	commands chan<- Submission
	prices   PriceSink
	now      func() time.Time
}

func NewGRPCIngestService(commands chan<- Submission, prices PriceSink) *GRPCIngestService {
	return &GRPCIngestService{commands: commands, prices: prices, now: time.Now}
}

// Submit queues evt and waits for the engine's answer. A request id is
// generated when the caller sends none, and a zero timestamp is filled
// with the current time; both are then fixed in the log.
func (s *GRPCIngestService) Submit(ctx context.Context, evt event.Event) (*core.Receipt, error) {
	if m := metaOf(evt); m != nil {
		if m.RequestID == "" {
			m.RequestID = uuid.NewString()
		}
		if m.Timestamp == 0 {
			m.Timestamp = s.now().Unix()
		}
	}
	if err := event.Validate(evt); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidCommand, err)
	}

	reply := make(chan SubmitResult, 1)
	select {
	case s.commands <- Submission{Event: evt, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-reply:
		return res.Receipt, res.Err
	case <-ctx.Done():
		// The command is queued and will still be applied.
		return nil, ctx.Err()
	}
}

// SubmitJSON decodes a command by type name and submits it.
func (s *GRPCIngestService) SubmitJSON(ctx context.Context, typeName string, data []byte) (*core.Receipt, error) {
	et, err := event.ParseEventType(typeName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidCommand, err)
	}
	evt, err := event.Decode(et, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidCommand, err)
	}
	return s.Submit(ctx, evt)
}

// InjectPrice pushes a price observation straight into the price cache,
// for operators and test networks without a feed.
func (s *GRPCIngestService) InjectPrice(ctx context.Context, data []byte) (oracle.UpdateOutcome, error) {
	u, err := ParsePriceUpdate(data)
	if err != nil {
		return oracle.OutcomeRejected, fmt.Errorf("%w: %v", core.ErrInvalidCommand, err)
	}
	return s.prices.Update(u)
}

// metaOf reaches the embedded Meta of any command.
func metaOf(evt event.Event) *event.Meta {
	if m, ok := evt.(interface{ Metadata() *event.Meta }); ok {
		return m.Metadata()
	}
	return nil
}
