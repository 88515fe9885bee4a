package core

import (
	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/pool"
	"TroveLedger/internal/state"
	"TroveLedger/internal/token"
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

const DefaultIdempotencyCapacity = 1_000_000

// PriceOracle supplies the collateral price, in stablecoin per unit of
// collateral, as an 18-decimal value.
type PriceOracle interface {
	GetPrice() (*uint256.Int, error)
}

// CoreOutput is everything downstream workers need about one applied
// command.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch

	// Positions touched by the command, as they stand afterwards. Closed
	// positions are included with their final status.
	Positions    []*state.Position
	Liquidations []state.LiquidationRecord
	StateDelta   []byte
}

// Receipt is returned to the caller of an applied command.
type Receipt struct {
	Sequence  int64
	StateHash [32]byte
	Result    any
}

type Config struct {
	Params              *state.SystemParams // nil means state.DefaultSystemParams()
	MaxPositions        uint64              // zero leaves the index unbounded
	IdempotencyCapacity int
	Oracle              PriceOracle
	DBChecker           DBIdempotencyChecker

	// PersistChan receives every output with a blocking send. ProjectionChan
	// receives them best-effort. Either may be nil.
	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// Engine is the single writer over one trove ledger. Every command runs to
// completion under mu: validate, apply, hash, emit. Time is taken from the
// command, never from the wall clock, so replaying the log reproduces the
// state hash chain exactly.
type Engine struct {
	mu sync.Mutex

	sequence  int64 // next sequence to assign
	chain     *HashChain
	tracker   *ledger.BalanceTracker
	rec       *ledger.Recorder
	validator *ledger.InvariantValidator
	stable    *token.Stablecoin
	fees      *pool.FeeCollector
	positions *state.PositionLedger
	ops       *state.PositionOperations
	oracle    PriceOracle
	dedup     *RequestDeduper

	metrics *observability.Metrics
	logger  zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

func NewEngine(cfg Config) (*Engine, error) {
	params := cfg.Params
	if params == nil {
		params = state.DefaultSystemParams()
	}
	system, err := state.NewSystemState(params)
	if err != nil {
		return nil, err
	}
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("engine: price oracle is required")
	}
	capacity := cfg.IdempotencyCapacity
	if capacity <= 0 {
		capacity = DefaultIdempotencyCapacity
	}

	tracker := ledger.NewBalanceTracker()
	rec := ledger.NewRecorder(tracker)
	stable := token.NewStablecoin(rec)
	fees := pool.NewFeeCollector(rec)
	positions := state.NewPositionLedger(system, rec, stable, fees, cfg.MaxPositions)

	return &Engine{
		sequence:       1,
		chain:          NewHashChain(),
		tracker:        tracker,
		rec:            rec,
		validator:      ledger.NewInvariantValidator(tracker),
		stable:         stable,
		fees:           fees,
		positions:      positions,
		ops:            state.NewPositionOperations(positions),
		oracle:         cfg.Oracle,
		dedup:          NewRequestDeduper(capacity, cfg.DBChecker, cfg.Metrics),
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		persistChan:    cfg.PersistChan,
		projectionChan: cfg.ProjectionChan,
	}, nil
}

// Process applies one command. Rejected commands change nothing and are
// not logged.
func (e *Engine) Process(evt event.Event) (*Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.apply(evt, nil, true)
}

// Replay re-applies a command from the event log at its recorded price and
// checks that it lands on the recorded state hash. Replayed outputs go to
// the projection channel only; they are already persisted.
func (e *Engine) Replay(env *event.EventEnvelope) error {
	evt, err := event.Decode(env.EventType, env.Payload)
	if err != nil {
		return fmt.Errorf("replay sequence %d: %w", env.Sequence, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if env.Sequence != e.sequence {
		return fmt.Errorf("%w: log has %d, engine expects %d", ErrReplayOutOfOrder, env.Sequence, e.sequence)
	}
	if env.EventType.NeedsPrice() && env.Price == nil {
		return fmt.Errorf("replay sequence %d: %w: no recorded price", env.Sequence, ErrPriceUnavailable)
	}

	receipt, err := e.apply(evt, env.Price, false)
	if err != nil {
		return fmt.Errorf("replay sequence %d: %w", env.Sequence, err)
	}
	if receipt.StateHash != env.StateHash {
		return fmt.Errorf("%w: sequence %d", ErrReplayDivergence, env.Sequence)
	}
	if e.metrics != nil {
		e.metrics.ReplayEventsTotal.Inc()
	}
	return nil
}

// outcome is what a handler hands back to the pipeline
type outcome struct {
	result       any
	owners       []common.Address
	liquidations []state.LiquidationRecord
}

func (e *Engine) apply(evt event.Event, price *uint256.Int, live bool) (*Receipt, error) {
	start := time.Now()

	if err := event.Validate(evt); err != nil {
		command := "Unknown"
		if evt != nil {
			command = evt.EventType().String()
		}
		e.reject(command, ClassInvalidArgument)
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	eventType := evt.EventType()
	command := eventType.String()
	requestID := evt.IdempotencyKey()

	// Step 1: Idempotency check
	if live {
		dup, err := e.dedup.IsDuplicate(command, requestID)
		if err != nil {
			e.reject(command, ClassUnavailable)
			return nil, err
		}
		if dup {
			e.reject(command, ClassDuplicate)
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, requestID)
		}
	}

	// Step 2: Price
	if eventType.NeedsPrice() {
		if price == nil {
			p, err := e.oracle.GetPrice()
			if err != nil {
				e.reject(command, ClassUnavailable)
				return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
			}
			price = p
		}
	} else {
		price = nil
	}

	// Step 3: Dispatch. Handlers validate before they post, so a rejected
	// command leaves the batch empty.
	e.rec.Begin(requestID, e.sequence, evt.EventTimestamp())
	out, err := e.dispatch(evt, price)
	batch := e.rec.Commit()
	if err != nil {
		if len(batch.Journals) > 0 {
			e.fatal(fmt.Sprintf("rejected %s %s posted %d journals", command, requestID, len(batch.Journals)))
		}
		e.reject(command, Classify(err))
		return nil, err
	}

	// Step 4: Batch balance and post-checks
	if err := e.validator.ValidateBatchBalance(batch); err != nil {
		e.fatal(fmt.Sprintf("unbalanced batch for %s: %v", requestID, err))
	}
	if err := e.postCheckInvariants(batch); err != nil {
		e.fatal(fmt.Sprintf("invariant violated by %s: %v", requestID, err))
	}

	// Step 5: Hash
	positions := e.touchedPositions(out.owners)
	digest := e.computeStateDigest(batch, positions)
	prevHash := e.chain.Head()
	stateHash := e.chain.Append(e.sequence, digest)

	payload, err := json.Marshal(evt)
	if err != nil {
		e.fatal(fmt.Sprintf("encode %s payload: %v", command, err))
	}
	result, err := json.Marshal(out.result)
	if err != nil {
		e.fatal(fmt.Sprintf("encode %s result: %v", command, err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       e.sequence,
		IdempotencyKey: requestID,
		EventType:      eventType,
		Timestamp:      evt.EventTimestamp(),
		Payload:        payload,
		Result:         result,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	if price != nil {
		envelope.Price = price.Clone()
	}

	output := CoreOutput{
		Envelope:     envelope,
		Batch:        batch,
		Positions:    positions,
		Liquidations: out.liquidations,
		StateDelta:   digest,
	}
	e.sequence++

	// Step 6: Emit. Persistence blocks for back-pressure; projections are
	// best-effort and rebuild from the log.
	if live && e.persistChan != nil {
		e.persistChan <- output
	}
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.WithLabelValues("engine").Inc()
			}
			e.logger.Warn().
				Int64("sequence", envelope.Sequence).
				Str("command", command).
				Msg("projection channel full, output dropped")
		}
	}

	// Step 7: Mark processed
	e.dedup.MarkProcessed(requestID)

	e.observe(command, start, batch, price, out)
	e.logOutcome(envelope, out)

	return &Receipt{
		Sequence:  envelope.Sequence,
		StateHash: stateHash,
		Result:    out.result,
	}, nil
}

func (e *Engine) dispatch(evt event.Event, price *uint256.Int) (outcome, error) {
	switch c := evt.(type) {
	case *event.OpenPosition:
		res, err := e.ops.OpenPosition(state.OpenRequest{
			Owner:       c.Owner,
			Coll:        c.Coll,
			DebtRequest: c.DebtRequest,
			MaxFee:      c.MaxFee,
			Hints:       state.Hints{Upper: c.UpperHint, Lower: c.LowerHint},
			Timestamp:   c.Timestamp,
		}, price)
		return outcome{result: res, owners: []common.Address{c.Owner}}, err

	case *event.AdjustPosition:
		res, err := e.ops.AdjustPosition(state.AdjustRequest{
			Owner:          c.Owner,
			CollDeposit:    fpmath.OrZero(c.CollDeposit),
			CollWithdrawal: fpmath.OrZero(c.CollWithdrawal),
			DebtChange:     fpmath.OrZero(c.DebtChange),
			IsDebtIncrease: c.IsDebtIncrease,
			MaxFee:         fpmath.OrZero(c.MaxFee),
			Hints:          state.Hints{Upper: c.UpperHint, Lower: c.LowerHint},
			Timestamp:      c.Timestamp,
		}, price)
		return outcome{result: res, owners: []common.Address{c.Owner}}, err

	case *event.ClosePosition:
		res, err := e.ops.ClosePosition(c.Owner, price)
		return outcome{result: res, owners: []common.Address{c.Owner}}, err

	case *event.ClaimCollateral:
		amount, err := e.ops.ClaimCollateral(c.Owner)
		if err != nil {
			return outcome{}, err
		}
		return outcome{result: &ClaimResult{Amount: amount}}, nil

	case *event.Liquidate:
		res, err := e.positions.Liquidate(c.Owner, price, c.Liquidator)
		return liquidationOutcome(res, err)

	case *event.LiquidateBatch:
		res, err := e.positions.LiquidateBatch(c.Owners, price, c.Liquidator)
		return liquidationOutcome(res, err)

	case *event.LiquidatePositions:
		res, err := e.positions.LiquidatePositions(c.Count, price, c.Liquidator)
		return liquidationOutcome(res, err)

	case *event.RedeemCollateral:
		res, err := e.positions.RedeemCollateral(state.RedemptionRequest{
			Redeemer:      c.Redeemer,
			Amount:        c.Amount,
			FirstHint:     c.FirstHint,
			UpperHint:     c.UpperHint,
			LowerHint:     c.LowerHint,
			MaxIterations: c.MaxIterations,
			MaxFee:        c.MaxFee,
			Timestamp:     c.Timestamp,
		}, price)
		if err != nil {
			return outcome{}, err
		}
		owners := make([]common.Address, 0, len(res.Redeemed))
		for _, r := range res.Redeemed {
			owners = append(owners, r.Owner)
		}
		return outcome{result: res, owners: owners}, nil

	case *event.ProvideToStabilityPool:
		sp := e.positions.StabilityPool()
		gain, err := sp.Provide(c.Depositor, c.Amount)
		if err != nil {
			return outcome{}, err
		}
		return outcome{result: &StabilityResult{
			Deposited: c.Amount.Clone(),
			Withdrawn: fpmath.Zero(),
			CollGain:  gain,
			Deposit:   sp.GetCompoundedDeposit(c.Depositor),
		}}, nil

	case *event.WithdrawFromStabilityPool:
		sp := e.positions.StabilityPool()
		withdrawn, gain, err := sp.Withdraw(c.Depositor, c.Amount, price)
		if err != nil {
			return outcome{}, err
		}
		return outcome{result: &StabilityResult{
			Deposited: fpmath.Zero(),
			Withdrawn: withdrawn,
			CollGain:  gain,
			Deposit:   sp.GetCompoundedDeposit(c.Depositor),
		}}, nil

	case *event.WithdrawGainToPosition:
		res, err := e.ops.WithdrawGainToPosition(c.Depositor, state.Hints{Upper: c.UpperHint, Lower: c.LowerHint}, price, c.Timestamp)
		return outcome{result: res, owners: []common.Address{c.Depositor}}, err

	case *event.UpdateSystemParams:
		if err := e.positions.System().UpdateParams(c.Params); err != nil {
			return outcome{}, err
		}
		return outcome{result: e.positions.System().Params()}, nil

	default:
		return outcome{}, fmt.Errorf("%w: unknown event type %T", ErrInvalidCommand, evt)
	}
}

func liquidationOutcome(res *state.LiquidationResult, err error) (outcome, error) {
	if err != nil {
		return outcome{}, err
	}
	owners := make([]common.Address, 0, len(res.Liquidated))
	for _, l := range res.Liquidated {
		owners = append(owners, l.Owner)
	}
	return outcome{result: res, owners: owners, liquidations: res.Liquidated}, nil
}

// touchedPositions returns copies of the named positions, deduplicated, in
// owner order.
func (e *Engine) touchedPositions(owners []common.Address) []*state.Position {
	seen := make(map[common.Address]bool, len(owners))
	out := make([]*state.Position, 0, len(owners))
	for _, owner := range owners {
		if seen[owner] {
			continue
		}
		seen[owner] = true
		if p := e.positions.GetPosition(owner); p != nil {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Owner.Bytes(), out[j].Owner.Bytes()) < 0
	})
	return out
}

// computeStateDigest creates canonical bytes for the state hash: the
// balances of every account the batch touched, the touched positions and
// the global accumulators.
func (e *Engine) computeStateDigest(batch *ledger.Batch, positions []*state.Position) []byte {
	affected := make(map[ledger.AccountKey]bool)
	for _, j := range batch.Journals {
		affected[j.DebitAccount] = true
		affected[j.CreditAccount] = true
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*96+len(positions)*200+256)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendSigned(digest, e.tracker.GetBalance(key))
	}

	for _, p := range positions {
		digest = append(digest, p.CanonicalBytes()...)
	}

	rewards := e.positions.RewardState()
	sp := e.positions.StabilityPool()
	for _, v := range []*uint256.Int{
		rewards.TotalStakes,
		rewards.LColl,
		rewards.LDebt,
		e.positions.BaseRate().Rate(),
		sp.P(),
		sp.GetTotalDeposits(),
	} {
		b := v.Bytes32()
		digest = append(digest, b[:]...)
	}
	digest = appendUint64LE(digest, sp.CurrentEpoch())
	digest = appendUint64LE(digest, sp.CurrentScale())
	digest = appendUint64LE(digest, uint64(e.positions.BaseRate().LastFeeOperationTime()))
	digest = appendUint64LE(digest, uint64(e.positions.System().Params().Version))

	return digest
}

func appendSigned(buf []byte, v *big.Int) []byte {
	sign := byte(0)
	if v.Sign() < 0 {
		sign = 1
	}
	abs := new(big.Int).Abs(v).Bytes()
	buf = append(buf, sign, byte(len(abs)))
	return append(buf, abs...)
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates the accounts a batch touched and that the
// recorded system debt matches the stablecoin supply.
func (e *Engine) postCheckInvariants(batch *ledger.Batch) error {
	for _, j := range batch.Journals {
		for _, key := range []ledger.AccountKey{j.DebitAccount, j.CreditAccount} {
			if key.Scope == ledger.AccountScopeExternal {
				continue
			}
			if err := e.tracker.ValidateNonNegative(key); err != nil {
				return err
			}
		}
	}

	debt := e.positions.GetEntireSystemDebt()
	supply := e.stable.TotalSupply()
	if !debt.Eq(supply) {
		return fmt.Errorf("system debt %s != stablecoin supply %s", debt.Dec(), supply.Dec())
	}
	return nil
}

// CheckInvariants runs the full ledger checks: global zero-sum per asset,
// no overdrawn holder, and debt equal to supply.
func (e *Engine) CheckInvariants() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkAllInvariants()
}

func (e *Engine) checkAllInvariants() error {
	if err := e.validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	if err := e.validator.ValidateHoldingsNonNegative(); err != nil {
		return err
	}
	debt := e.positions.GetEntireSystemDebt()
	supply := e.stable.TotalSupply()
	if !debt.Eq(supply) {
		return fmt.Errorf("system debt %s != stablecoin supply %s", debt.Dec(), supply.Dec())
	}
	return nil
}

func (e *Engine) fatal(msg string) {
	e.logger.Error().Int64("sequence", e.sequence).Msg(msg)
	panic("FATAL: " + msg)
}

func (e *Engine) reject(command string, class ErrorClass) {
	if e.metrics != nil {
		e.metrics.CommandsRejected.WithLabelValues(command, class.String()).Inc()
	}
}

func (e *Engine) observe(command string, start time.Time, batch *ledger.Batch, price *uint256.Int, out outcome) {
	if e.metrics == nil {
		return
	}
	m := e.metrics
	m.CommandsApplied.WithLabelValues(command).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
	m.EngineSequence.Set(float64(e.sequence))
	for _, j := range batch.Journals {
		m.JournalsPosted.WithLabelValues(j.JournalType.String()).Inc()
	}

	m.ActivePositions.Set(float64(e.positions.ActivePositionCount()))
	m.BaseRate.Set(fpmath.ToFloat(e.positions.BaseRate().Rate()))
	m.StabilityDeposit.Set(fpmath.ToFloat(e.positions.StabilityPool().GetTotalDeposits()))
	if price != nil {
		m.TCR.Set(fpmath.ToFloat(e.positions.GetTCR(price)))
		if e.positions.CheckRecoveryMode(price) {
			m.RecoveryMode.Set(1)
		} else {
			m.RecoveryMode.Set(0)
		}
	}

	for _, l := range out.liquidations {
		m.Liquidations.WithLabelValues(l.Mode.String()).Inc()
		m.DebtOffset.Add(fpmath.ToFloat(l.Values.DebtToOffset))
		m.DebtRedistributed.Add(fpmath.ToFloat(l.Values.DebtToRedistribute))
	}
	if res, ok := out.result.(*state.RedemptionResult); ok {
		m.Redemptions.Inc()
		m.RedemptionPosition.Add(float64(len(res.Redeemed)))
	}
}

func (e *Engine) logOutcome(env *event.EventEnvelope, out outcome) {
	switch res := out.result.(type) {
	case *state.LiquidationResult:
		for _, l := range res.Liquidated {
			e.logger.Info().
				Int64("sequence", env.Sequence).
				Str("request_id", env.IdempotencyKey).
				Str("owner", l.Owner.Hex()).
				Str("mode", l.Mode.String()).
				Str("icr", fpmath.FormatDec(l.ICR)).
				Str("debt_offset", fpmath.FormatDec(l.Values.DebtToOffset)).
				Str("debt_redistributed", fpmath.FormatDec(l.Values.DebtToRedistribute)).
				Bool("recovery_mode", res.RecoveryModeAtStart).
				Msg("position liquidated")
		}
	case *state.RedemptionResult:
		e.logger.Info().
			Int64("sequence", env.Sequence).
			Str("request_id", env.IdempotencyKey).
			Int("positions", len(res.Redeemed)).
			Str("debt_redeemed", fpmath.FormatDec(res.TotalDebtRedeemed)).
			Str("coll_drawn", fpmath.FormatDec(res.TotalCollDrawn)).
			Str("fee", fpmath.FormatDec(res.Fee)).
			Str("base_rate", fpmath.FormatDec(res.BaseRate)).
			Msg("redemption applied")
	case *state.SystemParams:
		e.logger.Info().
			Int64("sequence", env.Sequence).
			Int64("version", res.Version).
			Str("mcr", fpmath.FormatDec(res.MCR)).
			Str("ccr", fpmath.FormatDec(res.CCR)).
			Msg("system parameters updated")
	default:
		e.logger.Debug().
			Int64("sequence", env.Sequence).
			Str("command", env.EventType.String()).
			Str("request_id", env.IdempotencyKey).
			Msg("command applied")
	}
}
