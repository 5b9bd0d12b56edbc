package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Chain identifiers used for (chain, tx_hash) de-duplication.
const (
	ChainSolana   = "solana"
	ChainEthereum = "ethereum"
)

// Deposit lifecycle statuses. Transitions are guarded by conditional
// updates (WHERE status = expected predecessor), see service.DepositService.
const (
	DepositStatusInitial         = "INITIAL"
	DepositStatusPendingBoost    = "PENDING_BOOST"
	DepositStatusPendingMint     = "PENDING_MINT"
	DepositStatusActive          = "ACTIVE"
	DepositStatusMatured         = "MATURED"
	DepositStatusRedeemed        = "REDEEMED"
	DepositStatusExpired         = "EXPIRED"
	DepositStatusPrincipalFailed = "PRINCIPAL_FAILED"
	DepositStatusBoostFailed     = "BOOST_FAILED"
	DepositStatusMintFailed      = "MINT_FAILED"
)

// Payout frequencies accepted by InitiateDeposit.
const (
	FrequencyMonthly   = "MONTHLY"
	FrequencyQuarterly = "QUARTERLY"
	FrequencyYearly    = "YEARLY"
)

// Vault 收益池配置表
// Soft-disabled via Active, never deleted.
type Vault struct {
	ID             uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Title          string          `gorm:"type:varchar(255);not null" json:"title"`
	BaseApyBps     int             `gorm:"not null" json:"base_apy_bps"`
	BoostApyBps    int             `gorm:"not null" json:"boost_apy_bps"`
	MinDepositUsd  decimal.Decimal `gorm:"type:decimal(32,6);not null;default:0" json:"min_deposit_usd"`
	BoostTokenMint string          `gorm:"type:varchar(64)" json:"boost_token_mint"`
	DurationMonths int             `gorm:"not null" json:"duration_months"`
	LiquidityUsd   decimal.Decimal `gorm:"type:decimal(32,6);not null;default:0" json:"liquidity_usd"`
	PositionsCount int64           `gorm:"not null;default:0" json:"positions_count"`
	BatchCounter   int64           `gorm:"not null;default:0" json:"batch_counter"`
	Active         bool            `gorm:"not null;default:true" json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Deposit 用户入金表
// APY parameters are frozen at creation; later vault edits never touch
// existing rows. UpdatedAt doubles as the state-entry timestamp consumed
// by the expiry sweep.
type Deposit struct {
	ID              uint64          `gorm:"primaryKey;autoIncrement" json:"id,string"`
	VaultID         uint64          `gorm:"not null;index" json:"vault_id"`
	UserSolAddress  string          `gorm:"type:varchar(64);not null;index" json:"user_sol_address"`
	UserEvmAddress  string          `gorm:"type:varchar(64);index" json:"user_evm_address"`
	AmountUsd       decimal.Decimal `gorm:"type:decimal(32,6);not null" json:"amount_usd"`
	BaseApyBps      int             `gorm:"not null" json:"base_apy_bps"`
	BoostApyBps     int             `gorm:"not null" json:"boost_apy_bps"`
	TotalApyBps     int             `gorm:"not null" json:"total_apy_bps"`
	EffectiveApyBps int             `gorm:"not null" json:"effective_apy_bps"`
	PayoutFrequency string          `gorm:"type:varchar(16);not null" json:"payout_frequency"`
	WantBoost       bool            `gorm:"not null;default:false" json:"want_boost"`
	BoostTokenMint  string          `gorm:"type:varchar(64)" json:"boost_token_mint"`
	BoostAmount     decimal.Decimal `gorm:"type:decimal(32,9);not null;default:0" json:"boost_amount"`
	BoostPriceUsd   decimal.Decimal `gorm:"type:decimal(32,9);not null;default:0" json:"boost_price_usd"`
	LockStart       *time.Time      `json:"lock_start,omitempty"`
	LockEnd         *time.Time      `json:"lock_end,omitempty"`
	Status          string          `gorm:"type:varchar(24);not null;index" json:"status"`
	PrincipalTxHash string          `gorm:"type:varchar(128)" json:"principal_tx_hash"`
	BoostTxHash     string          `gorm:"type:varchar(128)" json:"boost_tx_hash"`
	MintTxHash      string          `gorm:"type:varchar(128)" json:"mint_tx_hash"`
	WexelID         *uint64         `gorm:"index" json:"wexel_id,omitempty"`
	ClaimsCount     int             `gorm:"not null;default:0" json:"claims_count"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `gorm:"index" json:"updated_at"`
}

// Wexel 链上确认后的收益凭证 (Position)
// ID is the on-chain position id, not auto-incremented.
type Wexel struct {
	ID             uint64          `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	DepositID      *uint64         `gorm:"index" json:"deposit_id,omitempty"`
	OwnerAddress   string          `gorm:"type:varchar(64);not null;index" json:"owner_address"`
	MintAddress    string          `gorm:"type:varchar(64)" json:"mint_address"`
	MetadataURI    string          `gorm:"type:varchar(255)" json:"metadata_uri"`
	PrincipalUsd   decimal.Decimal `gorm:"type:decimal(32,6);not null" json:"principal_usd"`
	BaseApyBps     int             `gorm:"not null" json:"base_apy_bps"`
	BoostApyBps    int             `gorm:"not null;default:0" json:"boost_apy_bps"`
	StartTime      time.Time       `gorm:"not null" json:"start_time"`
	EndTime        time.Time       `gorm:"not null" json:"end_time"`
	Collateralized bool            `gorm:"not null;default:false" json:"collateralized"`
	Redeemed       bool            `gorm:"not null;default:false" json:"redeemed"`
	ClaimedTotal   decimal.Decimal `gorm:"type:decimal(32,6);not null;default:0" json:"claimed_total"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Boost 加成代币锁仓记录 (append-only)
// Unique (wexel_id, tx_hash) keeps replays from double-applying APY.
type Boost struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	WexelID     uint64          `gorm:"not null;uniqueIndex:idx_boost_wexel_tx" json:"wexel_id,string"`
	TokenMint   string          `gorm:"type:varchar(64);not null" json:"token_mint"`
	Amount      decimal.Decimal `gorm:"type:decimal(32,9);not null" json:"amount"`
	UsdValue    decimal.Decimal `gorm:"type:decimal(32,6);not null" json:"usd_value"`
	ApyBoostBps int             `gorm:"not null" json:"apy_boost_bps"`
	PriceUsd    decimal.Decimal `gorm:"type:decimal(32,9);not null" json:"price_usd"`
	TxHash      string          `gorm:"type:varchar(128);not null;uniqueIndex:idx_boost_wexel_tx" json:"tx_hash"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CollateralPosition 抵押借款表
// At most one unrepaid row per wexel.
type CollateralPosition struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	WexelID   uint64          `gorm:"not null;index" json:"wexel_id,string"`
	LoanUsd   decimal.Decimal `gorm:"type:decimal(32,6);not null" json:"loan_usd"`
	StartedAt time.Time       `gorm:"not null" json:"started_at"`
	Repaid    bool            `gorm:"not null;default:false;index" json:"repaid"`
	RepaidAt  *time.Time      `json:"repaid_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Claim 收益提取记录 (append-only)
// TxHash is optional (off-chain accruals carry none); NULL hashes never
// collide on the unique index, so hashless claims all record.
type Claim struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	WexelID   uint64          `gorm:"not null;uniqueIndex:idx_claim_wexel_tx" json:"wexel_id,string"`
	AmountUsd decimal.Decimal `gorm:"type:decimal(32,6);not null" json:"amount_usd"`
	Type      string          `gorm:"type:varchar(24);not null" json:"type"`
	TxHash    *string         `gorm:"type:varchar(128);uniqueIndex:idx_claim_wexel_tx" json:"tx_hash,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// BlockchainEvent 原始链上交易记录
// The (chain, tx_hash) unique index is the idempotency gate for both
// indexers: re-ingesting the same transaction is a no-op.
type BlockchainEvent struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Chain     string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_chain_tx" json:"chain"`
	TxHash    string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_chain_tx" json:"tx_hash"`
	Slot      uint64    `gorm:"not null;default:0" json:"slot"`
	Payload   []byte    `gorm:"type:text" json:"payload"`
	Processed bool      `gorm:"not null;default:false;index" json:"processed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TokenPrice 代币价格缓存表
// The aggregator writes back here after every successful aggregation and
// treats rows older than its max age as stale.
type TokenPrice struct {
	TokenMint string          `gorm:"type:varchar(64);primaryKey" json:"token_mint"`
	PriceUsd  decimal.Decimal `gorm:"type:decimal(32,9);not null" json:"price_usd"`
	Source    string          `gorm:"type:varchar(32);not null" json:"source"`
	UpdatedAt time.Time       `gorm:"not null" json:"updated_at"`
}

// SourceDeposit 合约链入金台账
// One row per confirmed principal transfer on the contract chain, kept
// current by a raw upsert on every delivered confirmation, replays
// included.
type SourceDeposit struct {
	DepositID   uint64          `gorm:"primaryKey;autoIncrement:false" json:"deposit_id,string"`
	Payer       string          `gorm:"type:varchar(64);not null" json:"payer"`
	AmountUsd   decimal.Decimal `gorm:"type:decimal(32,6);not null" json:"amount_usd"`
	TxHash      string          `gorm:"type:varchar(128);not null" json:"tx_hash"`
	BlockNumber uint64          `gorm:"not null;default:0" json:"block_number"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Bridge intent statuses.
const (
	BridgeIntentPending   = "PENDING"
	BridgeIntentConfirmed = "CONFIRMED"
)

// BridgeIntent 跨链桥意向记录
// Confirmations are validator bookkeeping; the confirmation protocol
// itself runs outside this service.
type BridgeIntent struct {
	ID                    uint64    `gorm:"primaryKey;autoIncrement" json:"id,string"`
	SourceChain           string    `gorm:"type:varchar(20);not null" json:"source_chain"`
	TargetChain           string    `gorm:"type:varchar(20);not null" json:"target_chain"`
	DepositID             uint64    `gorm:"not null;uniqueIndex" json:"deposit_id,string"`
	Payload               []byte    `gorm:"type:text" json:"payload"`
	Status                string    `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	Confirmations         int       `gorm:"not null;default:0" json:"confirmations"`
	RequiredConfirmations int       `gorm:"not null" json:"required_confirmations"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// IndexerCursor 区块扫描游标
// One row per polled chain; advanced only after a whole batch completes.
type IndexerCursor struct {
	Chain              string    `gorm:"type:varchar(20);primaryKey" json:"chain"`
	LastProcessedBlock uint64    `gorm:"not null" json:"last_processed_block"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// OutboxMessage 本地消息表 (Transactional Outbox)
type OutboxMessage struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Topic     string    `gorm:"type:varchar(255);not null" json:"topic"`
	Key       string    `gorm:"type:varchar(128)" json:"key"`
	Payload   []byte    `gorm:"type:text;not null" json:"payload"`
	Status    string    `gorm:"type:varchar(50);not null;default:'PENDING';index" json:"status"` // PENDING, SENT, FAILED
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Vault) TableName() string              { return "vaults" }
func (Deposit) TableName() string            { return "deposits" }
func (Wexel) TableName() string              { return "wexels" }
func (Boost) TableName() string              { return "boosts" }
func (CollateralPosition) TableName() string { return "collateral_positions" }
func (Claim) TableName() string              { return "claims" }
func (BlockchainEvent) TableName() string    { return "blockchain_events" }
func (TokenPrice) TableName() string         { return "token_prices" }
func (SourceDeposit) TableName() string      { return "source_deposits" }
func (BridgeIntent) TableName() string       { return "bridge_intents" }
func (IndexerCursor) TableName() string      { return "indexer_cursors" }
func (OutboxMessage) TableName() string      { return "outbox_messages" }

// IsTerminalStatus reports whether a deposit status can never change again.
func IsTerminalStatus(status string) bool {
	switch status {
	case DepositStatusRedeemed, DepositStatusExpired,
		DepositStatusPrincipalFailed, DepositStatusBoostFailed, DepositStatusMintFailed:
		return true
	}
	return false
}
