package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Status is a position's lifecycle state
type Status uint8

const (
	StatusNonExistent Status = iota
	StatusActive
	StatusClosedByOwner
	StatusClosedByLiquidation
	StatusClosedByRedemption
)

func (s Status) String() string {
	switch s {
	case StatusNonExistent:
		return "NonExistent"
	case StatusActive:
		return "Active"
	case StatusClosedByOwner:
		return "ClosedByOwner"
	case StatusClosedByLiquidation:
		return "ClosedByLiquidation"
	case StatusClosedByRedemption:
		return "ClosedByRedemption"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates state transitions. Closed states are terminal
// for the position's current life but the owner may open again.
func (s Status) CanTransitionTo(next Status) bool {
	validTransitions := map[Status][]Status{
		StatusNonExistent: {
			StatusActive,
		},
		StatusActive: {
			StatusActive,
			StatusClosedByOwner,
			StatusClosedByLiquidation,
			StatusClosedByRedemption,
		},
		StatusClosedByOwner: {
			StatusActive,
		},
		StatusClosedByLiquidation: {
			StatusActive,
		},
		StatusClosedByRedemption: {
			StatusActive,
		},
	}

	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}

	for _, allowedState := range allowed {
		if next == allowedState {
			return true
		}
	}

	return false
}

// IsClosed reports whether s is one of the terminal closed states.
func (s Status) IsClosed() bool {
	return s == StatusClosedByOwner || s == StatusClosedByLiquidation || s == StatusClosedByRedemption
}

// RewardSnapshot records L_coll and L_debt at the position's last touch.
type RewardSnapshot struct {
	Coll *uint256.Int `json:"coll"`
	Debt *uint256.Int `json:"debt"`
}

// Position is a single owner's collateralized debt position
type Position struct {
	Owner      common.Address `json:"owner"`
	Coll       *uint256.Int   `json:"coll"`
	Debt       *uint256.Int   `json:"debt"` // includes the gas-compensation reserve
	Stake      *uint256.Int   `json:"stake"`
	Status     Status         `json:"status"`
	Snapshot   RewardSnapshot `json:"snapshot"`
	ArrayIndex uint64         `json:"array_index"`
	Version    int64          `json:"version"` // bumped on every mutation
}

func newPosition(owner common.Address) *Position {
	return &Position{
		Owner: owner,
		Coll:  new(uint256.Int),
		Debt:  new(uint256.Int),
		Stake: new(uint256.Int),
		Snapshot: RewardSnapshot{
			Coll: new(uint256.Int),
			Debt: new(uint256.Int),
		},
	}
}

func (p *Position) Clone() *Position {
	c := *p
	c.Coll = p.Coll.Clone()
	c.Debt = p.Debt.Clone()
	c.Stake = p.Stake.Clone()
	c.Snapshot = RewardSnapshot{Coll: p.Snapshot.Coll.Clone(), Debt: p.Snapshot.Debt.Clone()}
	return &c
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 20+32*5+1+8)

	buf = append(buf, p.Owner.Bytes()...)
	buf = appendWord(buf, p.Coll)
	buf = appendWord(buf, p.Debt)
	buf = appendWord(buf, p.Stake)
	buf = appendWord(buf, p.Snapshot.Coll)
	buf = appendWord(buf, p.Snapshot.Debt)
	buf = append(buf, byte(p.Status))
	buf = appendInt64LE(buf, p.Version)

	return buf
}

func appendWord(buf []byte, v *uint256.Int) []byte {
	w := v.Bytes32()
	return append(buf, w[:]...)
}

func appendInt64LE(buf []byte, v int64) []byte {
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
