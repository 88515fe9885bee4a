package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// StablecoinLedger is the token the positions borrow. Mint never fails;
// Burn and Transfer fail when the holder's balance is short.
type StablecoinLedger interface {
	Mint(to common.Address, amount *uint256.Int)
	Burn(from common.Address, amount *uint256.Int) error
	Transfer(from, to common.Address, amount *uint256.Int) error
	BalanceOf(addr common.Address) *uint256.Int
	TotalSupply() *uint256.Int
}

// FeeRecipient receives borrowing fees in stablecoin and redemption fees
// in collateral. The tokens are moved to Address() before the call.
type FeeRecipient interface {
	Address() common.Address
	ReceiveFee(amount *uint256.Int)
	ReceiveCollateralFee(amount *uint256.Int)
}
