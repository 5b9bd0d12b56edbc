package request

import "github.com/shopspring/decimal"

// InitiateDepositRequest 发起入金
type InitiateDepositRequest struct {
	VaultID         uint64          `json:"vault_id" binding:"required"`
	UserSolAddress  string          `json:"user_sol_address" binding:"required"`
	UserEvmAddress  string          `json:"user_evm_address"`
	AmountUsd       decimal.Decimal `json:"amount_usd" binding:"required"`
	PayoutFrequency string          `json:"payout_frequency" binding:"required"`
	WantBoost       bool            `json:"want_boost"`
	BoostTokenMint  string          `json:"boost_token_mint"`
	BoostAmount     decimal.Decimal `json:"boost_amount"`
}

// ConfirmStepRequest carries the transaction hash of one completed
// lifecycle step.
type ConfirmStepRequest struct {
	TxHash string `json:"tx_hash" binding:"required"`
	// WexelID is required only for the mint confirmation.
	WexelID uint64 `json:"wexel_id,string"`
	// The boost confirmation additionally records the observed lock:
	// the locked token, its amount and its price at lock time.
	TokenMint string          `json:"token_mint"`
	Amount    decimal.Decimal `json:"amount"`
	PriceUsd  decimal.Decimal `json:"price_usd"`
}

// BoostQuoteRequest 加成估值
type BoostQuoteRequest struct {
	WexelID   uint64          `json:"wexel_id,string" binding:"required"`
	TokenMint string          `json:"token_mint" binding:"required"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
}
