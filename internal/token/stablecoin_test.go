package token_test

import (
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/token"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x1000000000000000000000000000000000000001")
	bob   = common.HexToAddress("0x1000000000000000000000000000000000000002")
)

func newCoin() (*token.Stablecoin, *ledger.InvariantValidator) {
	bt := ledger.NewBalanceTracker()
	return token.NewStablecoin(ledger.NewRecorder(bt)), ledger.NewInvariantValidator(bt)
}

func TestStablecoin_MintBurnSupply(t *testing.T) {
	coin, v := newCoin()

	coin.Mint(alice, fpmath.Dec(500))
	coin.Mint(ledger.GasPoolAddress, fpmath.Dec(200))
	assert.True(t, coin.TotalSupply().Eq(fpmath.Dec(700)))
	assert.True(t, coin.BalanceOf(ledger.GasPoolAddress).Eq(fpmath.Dec(200)))

	require.NoError(t, coin.Burn(alice, fpmath.Dec(100)))
	assert.True(t, coin.BalanceOf(alice).Eq(fpmath.Dec(400)))
	assert.True(t, coin.TotalSupply().Eq(fpmath.Dec(600)))

	require.NoError(t, v.ValidateGlobalBalance())
}

func TestStablecoin_BurnInsufficient(t *testing.T) {
	coin, _ := newCoin()
	coin.Mint(alice, fpmath.Dec(1))

	err := coin.Burn(alice, fpmath.Dec(2))
	assert.ErrorIs(t, err, token.ErrInsufficientBalance)
	assert.True(t, coin.BalanceOf(alice).Eq(fpmath.Dec(1)))
}

func TestStablecoin_Transfer(t *testing.T) {
	coin, v := newCoin()
	coin.Mint(alice, fpmath.Dec(10))

	require.NoError(t, coin.Transfer(alice, bob, fpmath.Dec(4)))
	assert.True(t, coin.BalanceOf(alice).Eq(fpmath.Dec(6)))
	assert.True(t, coin.BalanceOf(bob).Eq(fpmath.Dec(4)))

	assert.ErrorIs(t, coin.Transfer(bob, alice, fpmath.Dec(5)), token.ErrInsufficientBalance)
	require.NoError(t, v.ValidateHoldingsNonNegative())
}
