package query

// Amounts are decimal strings of 18-decimal fixed-point values, as stored.

// PositionResponse represents a position for API queries.
type PositionResponse struct {
	Owner        string `json:"owner"`
	Coll         string `json:"coll"`
	Debt         string `json:"debt"`
	Stake        string `json:"stake"`
	Status       string `json:"status"`
	ArrayIndex   int64  `json:"array_index"`
	Version      int64  `json:"version"`
	LastSequence int64  `json:"last_sequence"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// LiquidationResponse is one row of liquidation history.
type LiquidationResponse struct {
	Sequence          int64  `json:"sequence"`
	Owner             string `json:"owner"`
	Mode              string `json:"mode"`
	ICR               string `json:"icr"`
	EntireDebt        string `json:"entire_debt"`
	EntireColl        string `json:"entire_coll"`
	DebtOffset        string `json:"debt_offset"`
	CollToSP          string `json:"coll_to_sp"`
	DebtRedistributed string `json:"debt_redistributed"`
	CollRedistributed string `json:"coll_redistributed"`
	CollSurplus       string `json:"coll_surplus"`
	GasCompensation   string `json:"gas_compensation"`
	CollGasComp       string `json:"coll_gas_compensation"`
	Timestamp         int64  `json:"timestamp"`
	AsOfSequence      int64  `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        string `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	AsOfSequence     int64             `json:"as_of_sequence"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance string `json:"imbalance"`
}
