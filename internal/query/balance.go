package query

import (
	"TroveLedger/internal/ledger"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceResponse holds an address's wallet balances from the balance
// projection.
type BalanceResponse struct {
	Owner        string `json:"owner"`
	Stable       string `json:"stable"`
	Collateral   string `json:"collateral"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// AccountBalance is one row of projections.balances.
type AccountBalance struct {
	AccountPath  string `json:"account_path"`
	AssetID      uint16 `json:"asset_id"`
	Balance      string `json:"balance"`
	LastSequence int64  `json:"last_sequence"`
}

// GetBalance returns the owner's stablecoin and collateral wallet balances.
// Accounts the projection has never seen read as zero.
func (qs *QueryService) GetBalance(ctx context.Context, owner common.Address) (resp *BalanceResponse, err error) {
	defer qs.observe("GetBalance", qs.now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	stable, err := qs.getProjectedBalance(ctx, ledger.HolderKey(owner, ledger.AssetStable).AccountPath())
	if err != nil {
		return nil, err
	}
	coll, err := qs.getProjectedBalance(ctx, ledger.HolderKey(owner, ledger.AssetCollateral).AccountPath())
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		Owner:        owner.Hex(),
		Stable:       stable,
		Collateral:   coll,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetSystemBalances lists every system and external account, which is
// where pool totals and outstanding issuance show up.
func (qs *QueryService) GetSystemBalances(ctx context.Context) (out []AccountBalance, err error) {
	defer qs.observe("GetSystemBalances", qs.now(), &err)

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, asset_id, balance, last_sequence
		FROM projections.balances
		WHERE account_path NOT LIKE 'user:%'
		ORDER BY account_path
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var b AccountBalance
		if err := rows.Scan(&b.AccountPath, &b.AssetID, &b.Balance, &b.LastSequence); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (string, error) {
	var balance string
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance FROM projections.balances WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return "0", nil
	}
	return balance, err
}
