package pool

import (
	"TroveLedger/internal/ledger"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// CollateralCustodian is the shape shared by the active, default and surplus
// pools. Each holds collateral and tracks a debt figure in the shared ledger.
type CollateralCustodian interface {
	Address() common.Address
	CollateralBalance() *uint256.Int
	DebtBalance() *uint256.Int
	SendCollateral(to common.Address, amount *uint256.Int)
	IncreaseDebt(amount *uint256.Int)
	DecreaseDebt(amount *uint256.Int)
}

// Pool is a custodian whose balances live in the double-entry ledger under
// its system accounts.
type Pool struct {
	name    string
	address common.Address
	subType ledger.AccountSubType
	rec     *ledger.Recorder
}

var _ CollateralCustodian = (*Pool)(nil)

// NewActivePool holds collateral and debt backing active positions.
func NewActivePool(rec *ledger.Recorder) *Pool {
	return &Pool{name: "active", address: ledger.ActivePoolAddress, subType: ledger.SubTypeActivePool, rec: rec}
}

// NewDefaultPool holds redistributed collateral and debt not yet pulled
// into individual positions.
func NewDefaultPool(rec *ledger.Recorder) *Pool {
	return &Pool{name: "default", address: ledger.DefaultPoolAddress, subType: ledger.SubTypeDefaultPool, rec: rec}
}

// NewStabilityVault holds the collateral the stability pool has absorbed
// and not yet paid to depositors. It carries no debt.
func NewStabilityVault(rec *ledger.Recorder) *Pool {
	return &Pool{name: "stability", address: ledger.StabilityPoolAddress, subType: ledger.SubTypeStabilityPool, rec: rec}
}

func (p *Pool) Name() string {
	return p.name
}

func (p *Pool) Address() common.Address {
	return p.address
}

func (p *Pool) collKey() ledger.AccountKey {
	return ledger.NewSystemAccountKey(p.subType, ledger.AssetCollateral)
}

func (p *Pool) debtKey() ledger.AccountKey {
	return ledger.NewSystemAccountKey(p.subType, ledger.AssetDebt)
}

func (p *Pool) CollateralBalance() *uint256.Int {
	return p.rec.Tracker().Holding(p.collKey())
}

func (p *Pool) DebtBalance() *uint256.Int {
	return p.rec.Tracker().Holding(p.debtKey())
}

// ReceiveCollateral books collateral arriving from outside the ledger.
func (p *Pool) ReceiveCollateral(amount *uint256.Int) {
	p.rec.Post(
		p.collKey(),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalCollateral, ledger.AssetCollateral),
		amount, ledger.JournalTypeCollateralDeposit,
	)
}

// SendCollateral moves collateral to another holder: a pool when to is a
// system address, otherwise the owner's wallet.
func (p *Pool) SendCollateral(to common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	if bal := p.CollateralBalance(); bal.Lt(amount) {
		panic(fmt.Sprintf("FATAL: %s pool collateral %s below send amount %s", p.name, bal.Dec(), amount.Dec()))
	}

	jt := ledger.JournalTypeCollateralWithdrawal
	if ledger.IsSystemAddress(to) {
		jt = ledger.JournalTypeCollateralTransfer
	}
	p.rec.Post(ledger.HolderKey(to, ledger.AssetCollateral), p.collKey(), amount, jt)
}

func (p *Pool) IncreaseDebt(amount *uint256.Int) {
	p.rec.Post(
		p.debtKey(),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalIssuance, ledger.AssetDebt),
		amount, ledger.JournalTypeDebtIncrease,
	)
}

func (p *Pool) DecreaseDebt(amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	if bal := p.DebtBalance(); bal.Lt(amount) {
		panic(fmt.Sprintf("FATAL: %s pool debt %s below decrease %s", p.name, bal.Dec(), amount.Dec()))
	}
	p.rec.Post(
		ledger.NewExternalAccountKey(ledger.SubTypeExternalIssuance, ledger.AssetDebt),
		p.debtKey(),
		amount, ledger.JournalTypeDebtDecrease,
	)
}

// MoveDebtTo transfers a debt figure between pools in one entry.
func (p *Pool) MoveDebtTo(dst *Pool, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	if bal := p.DebtBalance(); bal.Lt(amount) {
		panic(fmt.Sprintf("FATAL: %s pool debt %s below move %s", p.name, bal.Dec(), amount.Dec()))
	}
	p.rec.Post(dst.debtKey(), p.debtKey(), amount, ledger.JournalTypeDebtTransfer)
}
