package event_test

import (
	"TroveLedger/internal/event"
	fpmath "TroveLedger/internal/math"
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var owner = common.HexToAddress("0x1000000000000000000000000000000000000001")

func TestEventType_NamesRoundTrip(t *testing.T) {
	for et := event.EventTypeOpenPosition; et <= event.EventTypeUpdateSystemParams; et++ {
		parsed, err := event.ParseEventType(et.String())
		require.NoError(t, err, et.String())
		assert.Equal(t, et, parsed)

		evt, err := event.New(et)
		require.NoError(t, err)
		assert.Equal(t, et, evt.EventType())
	}

	_, err := event.ParseEventType("TradeFill")
	assert.Error(t, err)
	assert.Equal(t, "Unknown", event.EventType(99).String())
}

func TestEventType_NeedsPrice(t *testing.T) {
	assert.True(t, event.EventTypeOpenPosition.NeedsPrice())
	assert.True(t, event.EventTypeRedeemCollateral.NeedsPrice())
	assert.False(t, event.EventTypeClaimCollateral.NeedsPrice())
	assert.False(t, event.EventTypeUpdateSystemParams.NeedsPrice())
}

func TestDecode_RestoresCommand(t *testing.T) {
	in := &event.OpenPosition{
		Meta:        event.Meta{RequestID: "req-1", Timestamp: 1_700_000_000},
		Owner:       owner,
		Coll:        fpmath.Dec(10),
		DebtRequest: fpmath.Dec(2000),
		MaxFee:      fpmath.DecFrac(5, 100),
	}
	payload, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"request_id":"req-1"`)

	out, err := event.Decode(event.EventTypeOpenPosition, payload)
	require.NoError(t, err)

	open, ok := out.(*event.OpenPosition)
	require.True(t, ok)
	assert.Equal(t, "req-1", open.IdempotencyKey())
	assert.Equal(t, int64(1_700_000_000), open.EventTimestamp())
	assert.Equal(t, owner, open.Owner)
	assert.True(t, open.Coll.Eq(fpmath.Dec(10)))
	assert.True(t, open.MaxFee.Eq(fpmath.DecFrac(5, 100)))
}

func TestDecode_Errors(t *testing.T) {
	_, err := event.Decode(event.EventTypeUnknown, []byte(`{}`))
	assert.Error(t, err)

	_, err = event.Decode(event.EventTypeClosePosition, []byte(`{not json`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		evt     event.Event
		wantErr bool
	}{
		{
			name: "complete close",
			evt:  &event.ClosePosition{Meta: event.Meta{RequestID: "r"}, Owner: owner},
		},
		{
			name:    "missing request id",
			evt:     &event.ClosePosition{Owner: owner},
			wantErr: true,
		},
		{
			name:    "zero owner",
			evt:     &event.ClosePosition{Meta: event.Meta{RequestID: "r"}},
			wantErr: true,
		},
		{
			name:    "missing amount",
			evt:     &event.ProvideToStabilityPool{Meta: event.Meta{RequestID: "r"}, Depositor: owner},
			wantErr: true,
		},
		{
			name:    "empty batch",
			evt:     &event.LiquidateBatch{Meta: event.Meta{RequestID: "r"}, Liquidator: owner},
			wantErr: true,
		},
		{
			name:    "zero count",
			evt:     &event.LiquidatePositions{Meta: event.Meta{RequestID: "r"}, Liquidator: owner},
			wantErr: true,
		},
		{
			name: "adjust without amounts",
			evt:  &event.AdjustPosition{Meta: event.Meta{RequestID: "r"}, Owner: owner},
		},
		{
			name: "open at max amount",
			evt: &event.OpenPosition{Meta: event.Meta{RequestID: "r"}, Owner: owner,
				Coll: fpmath.MaxAmount(), DebtRequest: fpmath.Dec(2000), MaxFee: fpmath.Dec(1)},
		},
		{
			name: "open above max amount",
			evt: &event.OpenPosition{Meta: event.Meta{RequestID: "r"}, Owner: owner,
				Coll: fpmath.Max256(), DebtRequest: fpmath.Dec(2000), MaxFee: fpmath.Dec(1)},
			wantErr: true,
		},
		{
			name:    "adjust debt above max amount",
			evt:     &event.AdjustPosition{Meta: event.Meta{RequestID: "r"}, Owner: owner, DebtChange: fpmath.Max256(), IsDebtIncrease: true},
			wantErr: true,
		},
		{
			name:    "deposit above max amount",
			evt:     &event.ProvideToStabilityPool{Meta: event.Meta{RequestID: "r"}, Depositor: owner, Amount: fpmath.Max256()},
			wantErr: true,
		},
		{
			name: "redeem above max amount",
			evt: &event.RedeemCollateral{Meta: event.Meta{RequestID: "r"}, Redeemer: owner,
				Amount: fpmath.Max256(), MaxFee: fpmath.Dec(1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := event.Validate(tt.evt)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
