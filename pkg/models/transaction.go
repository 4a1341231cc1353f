package models

// SetupTransaction is a bounded ERC-20 approval that must land before
// the main call when the route cannot use a Permit2 signature.
type SetupTransaction struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
	Gas   uint64 `json:"gas"`
}

// BuiltTransaction is the terminal artifact of the pipeline. Once
// produced it is handed to an external wallet for signing and broadcast;
// the pipeline's responsibility ends here.
type BuiltTransaction struct {
	To      string `json:"to"`
	Data    string `json:"data"`
	Value   string `json:"value"`
	Gas     uint64 `json:"gas"`
	ChainID int64  `json:"chain_id"`

	// Legacy or EIP-1559 fee fields; exactly one scheme is populated
	GasPrice             string `json:"gas_price,omitempty"`
	MaxFeePerGas         string `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas string `json:"max_priority_fee_per_gas,omitempty"`

	// Permit2Signature is the typed-data digest the wallet must sign
	// when the route supports an off-chain permit
	Permit2Signature string `json:"permit2_signature,omitempty"`

	// SetupTransaction is the bounded allowance grant used as the
	// fallback when Permit2 is unavailable; never an unlimited approval
	SetupTransaction *SetupTransaction `json:"setup_transaction,omitempty"`
}

// TransactionStatus values reported back by the broadcast monitor.
const (
	TxStatusConfirmed = "confirmed"
	TxStatusFailed    = "failed"
	TxStatusReverted  = "reverted"
)

// IsValidTransactionStatus reports whether s is a monitor-reportable status.
func IsValidTransactionStatus(s string) bool {
	switch s {
	case TxStatusConfirmed, TxStatusFailed, TxStatusReverted:
		return true
	default:
		return false
	}
}
