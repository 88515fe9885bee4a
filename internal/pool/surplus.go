package pool

import (
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ErrNoCollateralToClaim = errors.New("surplus pool: no collateral available to claim")

// SurplusPool holds collateral left over after a capped liquidation or a
// full redemption, claimable by the former owner.
type SurplusPool struct {
	*Pool
	claimable map[common.Address]*uint256.Int
}

func NewSurplusPool(rec *ledger.Recorder) *SurplusPool {
	return &SurplusPool{
		Pool:      &Pool{name: "surplus", address: ledger.SurplusPoolAddress, subType: ledger.SubTypeSurplusPool, rec: rec},
		claimable: make(map[common.Address]*uint256.Int),
	}
}

// AccountSurplus records that owner may claim amount more. The collateral
// itself must already have been sent to the pool.
func (sp *SurplusPool) AccountSurplus(owner common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	claim := fpmath.Add(sp.Claimable(owner), amount)
	if bal := sp.CollateralBalance(); claim.Gt(bal) {
		panic(fmt.Sprintf("FATAL: surplus claim %s exceeds pool collateral %s", claim.Dec(), bal.Dec()))
	}
	sp.claimable[owner] = claim
}

func (sp *SurplusPool) Claimable(owner common.Address) *uint256.Int {
	if v, ok := sp.claimable[owner]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// Claim pays the owner's whole surplus out to their wallet.
func (sp *SurplusPool) Claim(owner common.Address) (*uint256.Int, error) {
	amount := sp.Claimable(owner)
	if amount.IsZero() {
		return nil, ErrNoCollateralToClaim
	}
	delete(sp.claimable, owner)
	sp.SendCollateral(owner, amount)
	return amount, nil
}

// Claims returns a copy of every outstanding claim.
func (sp *SurplusPool) Claims() map[common.Address]*uint256.Int {
	out := make(map[common.Address]*uint256.Int, len(sp.claimable))
	for k, v := range sp.claimable {
		out[k] = v.Clone()
	}
	return out
}

// RestoreClaims replaces the claim table from a snapshot.
func (sp *SurplusPool) RestoreClaims(claims map[common.Address]*uint256.Int) {
	sp.claimable = make(map[common.Address]*uint256.Int, len(claims))
	for k, v := range claims {
		sp.claimable[k] = v.Clone()
	}
}
