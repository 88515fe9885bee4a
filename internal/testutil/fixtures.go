package testutil

import (
	"TroveLedger/internal/core"
	"TroveLedger/internal/event"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/oracle"
	"TroveLedger/internal/state"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var (
	Alice      = common.HexToAddress("0x1000000000000000000000000000000000000001")
	Bob        = common.HexToAddress("0x1000000000000000000000000000000000000002")
	Carol      = common.HexToAddress("0x1000000000000000000000000000000000000003")
	Liquidator = common.HexToAddress("0x2000000000000000000000000000000000000001")
)

// T0 is the first command timestamp, in unix seconds.
const T0 int64 = 1_700_000_000

// Dec returns n whole units.
func Dec(n uint64) *uint256.Int { return fpmath.Dec(n) }

// ZeroFeeParams drops the borrowing-fee floor so debts come out round.
func ZeroFeeParams() *state.SystemParams {
	p := state.DefaultSystemParams()
	p.BorrowingFeeFloor = fpmath.Zero()
	return p
}

// EngineHarness is an engine with a settable price and buffered outputs.
type EngineHarness struct {
	Engine     *core.Engine
	Feed       *oracle.FixedPriceFeed
	Persist    chan core.CoreOutput
	Projection chan core.CoreOutput
	Metrics    *observability.Metrics

	next int
}

// NewEngineHarness builds an engine at price 200 with zero-fee params.
func NewEngineHarness(t *testing.T) *EngineHarness {
	t.Helper()
	h := &EngineHarness{
		Feed:       oracle.NewFixedPriceFeed(Dec(200)),
		Persist:    make(chan core.CoreOutput, 256),
		Projection: make(chan core.CoreOutput, 256),
		Metrics:    observability.NewMetrics(prometheus.NewRegistry()),
	}
	e, err := core.NewEngine(core.Config{
		Params:              ZeroFeeParams(),
		IdempotencyCapacity: 1024,
		Oracle:              h.Feed,
		PersistChan:         h.Persist,
		ProjectionChan:      h.Projection,
		Metrics:             h.Metrics,
		Logger:              zerolog.Nop(),
	})
	require.NoError(t, err)
	h.Engine = e
	return h
}

// NewReplica builds an engine with no price feed and no outputs, for
// replaying or restoring another engine's log.
func NewReplica(t *testing.T) *core.Engine {
	t.Helper()
	e, err := core.NewEngine(core.Config{
		Params:              ZeroFeeParams(),
		IdempotencyCapacity: 1024,
		Oracle:              oracle.NewFixedPriceFeed(nil),
		Logger:              zerolog.Nop(),
	})
	require.NoError(t, err)
	return e
}

// Meta returns a fresh request id, a minute after the previous one.
func (h *EngineHarness) Meta() event.Meta {
	h.next++
	return event.Meta{RequestID: fmt.Sprintf("req-%04d", h.next), Timestamp: T0 + int64(h.next)*60}
}

func (h *EngineHarness) Open(t *testing.T, owner common.Address, coll, debt *uint256.Int) {
	t.Helper()
	_, err := h.Engine.OpenPosition(&event.OpenPosition{
		Meta:        h.Meta(),
		Owner:       owner,
		Coll:        coll,
		DebtRequest: debt,
		MaxFee:      Dec(1),
	})
	require.NoError(t, err)
}

// RunScenario opens three positions, funds the stability pool, drops the
// price to 100, liquidates Alice and repays some of Bob's debt. Seven
// commands in all.
func (h *EngineHarness) RunScenario(t *testing.T) {
	t.Helper()
	h.Open(t, Alice, Dec(20), Dec(2000))
	h.Open(t, Bob, Dec(200), Dec(2000))
	h.Open(t, Carol, Dec(50), Dec(2000))

	_, err := h.Engine.AddColl(h.Meta(), Alice, Dec(1), state.Hints{})
	require.NoError(t, err)
	_, err = h.Engine.ProvideToStabilityPool(&event.ProvideToStabilityPool{Meta: h.Meta(), Depositor: Carol, Amount: Dec(1000)})
	require.NoError(t, err)

	h.Feed.Set(Dec(100))
	_, err = h.Engine.Liquidate(&event.Liquidate{Meta: h.Meta(), Owner: Alice, Liquidator: Liquidator})
	require.NoError(t, err)

	_, err = h.Engine.RepayDebt(h.Meta(), Bob, Dec(100), state.Hints{})
	require.NoError(t, err)
}

// Drain empties a channel without blocking.
func Drain(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case out := <-ch:
			outputs = append(outputs, out)
		default:
			return outputs
		}
	}
}
