package projection

import (
	"TroveLedger/internal/core"
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"math/big"
	"sort"
)

// BalanceDelta is the net change to one account within a single output.
// Debits add, credits subtract, so external accounts run negative.
type BalanceDelta struct {
	AccountPath string
	AssetID     ledger.AssetID
	Delta       *big.Int
}

// PositionRow is the read-side copy of a position after a command.
type PositionRow struct {
	Owner      string
	Coll       string
	Debt       string
	Stake      string
	Status     string
	ArrayIndex uint64
	Version    int64
}

// Update is everything one engine output changes in the projection tables.
type Update struct {
	Sequence     int64
	Timestamp    int64
	Balances     []BalanceDelta
	Positions    []PositionRow
	Liquidations []LiquidationRow
}

// NewUpdate derives the projection changes for one output. It is pure:
// the same output always yields the same update.
func NewUpdate(out core.CoreOutput) Update {
	u := Update{}
	if out.Envelope != nil {
		u.Sequence = out.Envelope.Sequence
		u.Timestamp = out.Envelope.Timestamp
	}

	if out.Batch != nil {
		type slot struct {
			asset ledger.AssetID
			delta *big.Int
		}
		acc := make(map[string]*slot)
		get := func(k ledger.AccountKey) *slot {
			path := k.AccountPath()
			s, ok := acc[path]
			if !ok {
				s = &slot{asset: k.AssetID, delta: new(big.Int)}
				acc[path] = s
			}
			return s
		}
		for _, j := range out.Batch.Journals {
			amount := j.Amount.ToBig()
			d := get(j.DebitAccount)
			d.delta.Add(d.delta, amount)
			c := get(j.CreditAccount)
			c.delta.Sub(c.delta, amount)
		}

		paths := make([]string, 0, len(acc))
		for p, s := range acc {
			if s.delta.Sign() != 0 {
				paths = append(paths, p)
			}
		}
		sort.Strings(paths)
		for _, p := range paths {
			u.Balances = append(u.Balances, BalanceDelta{AccountPath: p, AssetID: acc[p].asset, Delta: acc[p].delta})
		}
	}

	for _, p := range out.Positions {
		if p == nil {
			continue
		}
		u.Positions = append(u.Positions, PositionRow{
			Owner:      p.Owner.Hex(),
			Coll:       fpmath.OrZero(p.Coll).Dec(),
			Debt:       fpmath.OrZero(p.Debt).Dec(),
			Stake:      fpmath.OrZero(p.Stake).Dec(),
			Status:     p.Status.String(),
			ArrayIndex: p.ArrayIndex,
			Version:    p.Version,
		})
	}

	for _, rec := range out.Liquidations {
		u.Liquidations = append(u.Liquidations, NewLiquidationRow(u.Sequence, u.Timestamp, rec))
	}
	return u
}

// Empty reports whether the update touches no projection rows.
func (u Update) Empty() bool {
	return len(u.Balances) == 0 && len(u.Positions) == 0 && len(u.Liquidations) == 0
}
