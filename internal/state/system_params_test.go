package state_test

import (
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSystemParams(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *state.SystemParams)
		wantErr bool
	}{
		{"defaults", func(p *state.SystemParams) {}, false},
		{"mcr at 100%", func(p *state.SystemParams) { p.MCR = fpmath.Dec(1) }, true},
		{"ccr below mcr", func(p *state.SystemParams) { p.CCR = df(105, 100) }, true},
		{"zero min net debt", func(p *state.SystemParams) { p.MinNetDebt = fpmath.Zero() }, true},
		{"floor above ceiling", func(p *state.SystemParams) { p.BorrowingFeeFloor = df(10, 100) }, true},
		{"ceiling above 100%", func(p *state.SystemParams) { p.MaxBorrowingFee = fpmath.Dec(2) }, true},
		{"redemption floor above 100%", func(p *state.SystemParams) { p.RedemptionFeeFloor = fpmath.Dec(2) }, true},
		{"decay factor of one", func(p *state.SystemParams) { p.MinuteDecayFactor = fpmath.Dec(1) }, true},
		{"zero decay factor", func(p *state.SystemParams) { p.MinuteDecayFactor = fpmath.Zero() }, true},
		{"zero divisor", func(p *state.SystemParams) { p.PercentDivisor = 0 }, true},
		{"zero beta", func(p *state.SystemParams) { p.Beta = 0 }, true},
		{"missing gas compensation", func(p *state.SystemParams) { p.GasCompensation = nil }, true},
		{"zero fee floor", func(p *state.SystemParams) { p.BorrowingFeeFloor = fpmath.Zero() }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := state.DefaultSystemParams()
			tt.mutate(p)
			err := state.ValidateSystemParams(p)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSystemState_RejectsInvalidParams(t *testing.T) {
	p := state.DefaultSystemParams()
	p.Beta = 0

	_, err := state.NewSystemState(p)

	assert.ErrorIs(t, err, state.ErrInvalidParams)
}

func TestSystemState_UpdateParamsBumpsVersion(t *testing.T) {
	sys, err := state.NewSystemState(state.DefaultSystemParams())
	require.NoError(t, err)

	next := sys.Params()
	next.MinNetDebt = fpmath.Dec(2000)
	require.NoError(t, sys.UpdateParams(next))

	assert.Equal(t, int64(1), sys.Params().Version)
	assert.True(t, sys.MinNetDebt().Eq(fpmath.Dec(2000)))

	bad := sys.Params()
	bad.CCR = fpmath.Dec(1)
	assert.ErrorIs(t, sys.UpdateParams(bad), state.ErrInvalidParams)
	assert.Equal(t, int64(1), sys.Params().Version)
}

func TestSystemState_DebtHelpers(t *testing.T) {
	sys, err := state.NewSystemState(state.DefaultSystemParams())
	require.NoError(t, err)

	assert.True(t, sys.GetCompositeDebt(fpmath.Dec(2010)).Eq(fpmath.Dec(2210)))
	assert.True(t, sys.GetNetDebt(fpmath.Dec(2210)).Eq(fpmath.Dec(2010)))
	assert.True(t, sys.CollGasCompensation(fpmath.Dec(20)).Eq(df(1, 10)))
}

func TestSystemState_ParamsAreCopied(t *testing.T) {
	p := state.DefaultSystemParams()
	sys, err := state.NewSystemState(p)
	require.NoError(t, err)

	p.MCR.SetUint64(0)

	assert.True(t, sys.MCR().Eq(df(110, 100)))
}
