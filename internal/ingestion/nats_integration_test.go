package ingestion_test

import (
	"TroveLedger/internal/ingestion"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/testutil"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test: JetStream round trip (INTEGRATION_TEST=1)
// ============================================================================

func TestNATS_PriceFeedAndOutboundEvents(t *testing.T) {
	testutil.RequireIntegration(t)

	nc, js, err := ingestion.ConnectNATS(testutil.TestNATSURL(), nil)
	if err != nil {
		t.Skipf("test nats not available: %v", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, ingestion.EnsureStreams(ctx, js, ingestion.DefaultPriceSubject))
	require.NoError(t, ingestion.EnsureOutboundStream(ctx, js))
	purgeStream(ctx, t, js, "TROVE_PRICES")
	purgeStream(ctx, t, js, "TROVE_EVENTS")

	// --- inbound price ---
	raw := make(chan ingestion.RawEvent, 4)
	sub := ingestion.NewNATSSubscriber(js, raw, zerolog.Nop())
	require.NoError(t, sub.Subscribe(ctx, ingestion.DefaultSubjects(ingestion.DefaultPriceSubject)[1:]))
	defer sub.Stop()

	sink := &fakePriceSink{}
	router := ingestion.NewRouter(ingestion.DefaultPriceSubject, sink, nil, zerolog.Nop())
	go router.Run(ctx, raw)

	_, err = js.Publish(ctx, ingestion.DefaultPriceSubject,
		[]byte(`{"price":"1500","sequence":1,"timestamp":1700000000}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.updates) == 1
	}, 10*time.Second, 50*time.Millisecond)
	sink.mu.Lock()
	assert.True(t, sink.updates[0].Price.Eq(fpmath.Dec(1500)))
	sink.mu.Unlock()

	// --- outbound events ---
	h := testutil.NewEngineHarness(t)
	h.RunScenario(t)
	outputs := testutil.Drain(h.Persist)

	in := make(chan ingestion.PublishableEvent, len(outputs))
	for _, out := range outputs {
		in <- ingestion.NewPublishableEvent(out)
	}
	close(in)
	require.NoError(t, ingestion.NewOutboundPublisher(js, in, zerolog.Nop()).Run(ctx))

	stream, err := js.Stream(ctx, "TROVE_EVENTS")
	require.NoError(t, err)
	msg, err := stream.GetLastMsgForSubject(ctx, "trove.events.Liquidate")
	require.NoError(t, err)

	var liq ingestion.PublishableEvent
	require.NoError(t, json.Unmarshal(msg.Data, &liq))
	assert.Equal(t, int64(6), liq.Sequence)
	assert.Equal(t, 1, liq.Liquidations)
}

// --- Test helpers ---

func purgeStream(ctx context.Context, t *testing.T, js jetstream.JetStream, name string) {
	t.Helper()
	stream, err := js.Stream(ctx, name)
	require.NoError(t, err)
	require.NoError(t, stream.Purge(ctx))
}
