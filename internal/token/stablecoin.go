package token

import (
	"TroveLedger/internal/ledger"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ErrInsufficientBalance = errors.New("stablecoin: insufficient balance")

// Stablecoin is the in-process stablecoin ledger. Balances are the STABLE
// accounts of the shared double-entry ledger; supply is the negated balance
// of the external issuance account.
type Stablecoin struct {
	rec *ledger.Recorder
}

func NewStablecoin(rec *ledger.Recorder) *Stablecoin {
	return &Stablecoin{rec: rec}
}

func issuanceKey() ledger.AccountKey {
	return ledger.NewExternalAccountKey(ledger.SubTypeExternalIssuance, ledger.AssetStable)
}

func (s *Stablecoin) Mint(to common.Address, amount *uint256.Int) {
	s.rec.Post(ledger.HolderKey(to, ledger.AssetStable), issuanceKey(), amount, ledger.JournalTypeStableMint)
}

func (s *Stablecoin) Burn(from common.Address, amount *uint256.Int) error {
	if bal := s.BalanceOf(from); bal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, burn %s", ErrInsufficientBalance, from.Hex(), bal.Dec(), amount.Dec())
	}
	s.rec.Post(issuanceKey(), ledger.HolderKey(from, ledger.AssetStable), amount, ledger.JournalTypeStableBurn)
	return nil
}

func (s *Stablecoin) Transfer(from, to common.Address, amount *uint256.Int) error {
	if from == to {
		return nil
	}
	if bal := s.BalanceOf(from); bal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, transfer %s", ErrInsufficientBalance, from.Hex(), bal.Dec(), amount.Dec())
	}
	s.rec.Post(ledger.HolderKey(to, ledger.AssetStable), ledger.HolderKey(from, ledger.AssetStable), amount, ledger.JournalTypeStableTransfer)
	return nil
}

func (s *Stablecoin) BalanceOf(addr common.Address) *uint256.Int {
	return s.rec.Tracker().GetWalletBalance(addr, ledger.AssetStable)
}

func (s *Stablecoin) TotalSupply() *uint256.Int {
	supply := s.rec.Tracker().GetBalance(issuanceKey())
	supply.Neg(supply)
	v, overflow := uint256.FromBig(supply)
	if overflow || supply.Sign() < 0 {
		panic(fmt.Sprintf("FATAL: stablecoin supply out of range: %s", supply.String()))
	}
	return v
}
