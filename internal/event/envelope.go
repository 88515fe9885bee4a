package event

import (
	fpmath "TroveLedger/internal/math"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/holiman/uint256"
)

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeOpenPosition
	EventTypeAdjustPosition
	EventTypeClosePosition
	EventTypeClaimCollateral
	EventTypeLiquidate
	EventTypeLiquidateBatch
	EventTypeLiquidatePositions
	EventTypeRedeemCollateral
	EventTypeProvideToStabilityPool
	EventTypeWithdrawFromStabilityPool
	EventTypeWithdrawGainToPosition
	EventTypeUpdateSystemParams
)

var eventTypeNames = map[EventType]string{
	EventTypeOpenPosition:              "OpenPosition",
	EventTypeAdjustPosition:            "AdjustPosition",
	EventTypeClosePosition:             "ClosePosition",
	EventTypeClaimCollateral:           "ClaimCollateral",
	EventTypeLiquidate:                 "Liquidate",
	EventTypeLiquidateBatch:            "LiquidateBatch",
	EventTypeLiquidatePositions:        "LiquidatePositions",
	EventTypeRedeemCollateral:          "RedeemCollateral",
	EventTypeProvideToStabilityPool:    "ProvideToStabilityPool",
	EventTypeWithdrawFromStabilityPool: "WithdrawFromStabilityPool",
	EventTypeWithdrawGainToPosition:    "WithdrawGainToPosition",
	EventTypeUpdateSystemParams:        "UpdateSystemParams",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType is the inverse of String.
func ParseEventType(name string) (EventType, error) {
	for t, n := range eventTypeNames {
		if n == name {
			return t, nil
		}
	}
	return EventTypeUnknown, fmt.Errorf("unknown event type: %s", name)
}

// NeedsPrice reports whether the command is evaluated against the oracle
// price.
func (et EventType) NeedsPrice() bool {
	switch et {
	case EventTypeClaimCollateral, EventTypeProvideToStabilityPool, EventTypeUpdateSystemParams:
		return false
	default:
		return true
	}
}

// EventEnvelope wraps every applied command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Caller-supplied request id
	IdempotencyKey string

	EventType EventType

	// Versioned input timestamp in unix seconds (never wall-clock)
	Timestamp int64

	// Oracle price the command was evaluated at; nil for price-free commands.
	// Replay feeds it back so the outcome is reproduced exactly.
	Price *uint256.Int

	// JSON-encoded command
	Payload []byte

	// JSON-encoded operation result
	Result []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface every command implements
type Event interface {
	// IdempotencyKey returns the caller's request id
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// EventTimestamp returns the versioned input time in unix seconds
	EventTimestamp() int64
}

// Meta carries the fields every command has.
type Meta struct {
	RequestID string `json:"request_id" validate:"required,max=128"`
	Timestamp int64  `json:"timestamp" validate:"gte=0"`
}

func (m *Meta) IdempotencyKey() string {
	return m.RequestID
}

func (m *Meta) EventTimestamp() int64 {
	return m.Timestamp
}

// Metadata gives edge code write access to the shared fields.
func (m *Meta) Metadata() *Meta {
	return m
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("amount", validAmount); err != nil {
		panic(err)
	}
	return v
}

// validAmount bounds a uint256 field by fpmath.MaxAmount. The validator
// hands over the dereferenced value for pointer fields.
func validAmount(fl validator.FieldLevel) bool {
	switch v := fl.Field().Interface().(type) {
	case uint256.Int:
		return !v.Gt(fpmath.MaxAmount())
	case *uint256.Int:
		return v == nil || !v.Gt(fpmath.MaxAmount())
	default:
		return false
	}
}

// Validate checks a command's shape: a request id and the fields its type
// requires. Business rules are enforced by the engine.
func Validate(evt Event) error {
	if evt == nil {
		return fmt.Errorf("nil event")
	}
	if err := validate.Struct(evt); err != nil {
		return fmt.Errorf("invalid %s: %w", evt.EventType(), err)
	}
	return nil
}

// New returns an empty command of the given type, ready to be decoded into.
func New(t EventType) (Event, error) {
	switch t {
	case EventTypeOpenPosition:
		return &OpenPosition{}, nil
	case EventTypeAdjustPosition:
		return &AdjustPosition{}, nil
	case EventTypeClosePosition:
		return &ClosePosition{}, nil
	case EventTypeClaimCollateral:
		return &ClaimCollateral{}, nil
	case EventTypeLiquidate:
		return &Liquidate{}, nil
	case EventTypeLiquidateBatch:
		return &LiquidateBatch{}, nil
	case EventTypeLiquidatePositions:
		return &LiquidatePositions{}, nil
	case EventTypeRedeemCollateral:
		return &RedeemCollateral{}, nil
	case EventTypeProvideToStabilityPool:
		return &ProvideToStabilityPool{}, nil
	case EventTypeWithdrawFromStabilityPool:
		return &WithdrawFromStabilityPool{}, nil
	case EventTypeWithdrawGainToPosition:
		return &WithdrawGainToPosition{}, nil
	case EventTypeUpdateSystemParams:
		return &UpdateSystemParams{}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %d", t)
	}
}

// Decode rebuilds a command from its JSON payload.
func Decode(t EventType, payload []byte) (Event, error) {
	evt, err := New(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return evt, nil
}
