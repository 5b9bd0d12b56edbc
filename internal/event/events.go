package event

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Event names as they appear on-chain. Parsing maps them onto the closed
// Payload union below; names outside this set are dropped by the parser.
const (
	NameWexelMinted      = "WexelMinted"
	NameBoostApplied     = "BoostApplied"
	NameRewardClaimed    = "RewardClaimed"
	NameCollateralOpened = "CollateralOpened"
	NameCollateralRepaid = "CollateralRepaid"
	NameWexelRedeemed    = "WexelRedeemed"
	NameDepositConfirmed = "DepositConfirmed"
)

// Payload is the closed union of domain event payloads. The processor
// type-switches over the concrete types, so adding an event kind is a
// compile-time-checked change.
type Payload interface {
	EventName() string
}

// WexelMinted 链上铸造了一张新的收益凭证
type WexelMinted struct {
	WexelID     uint64          `json:"wexel_id"`
	DepositID   uint64          `json:"deposit_id"`
	Owner       string          `json:"owner"`
	MintAddress string          `json:"mint_address"`
	MetadataURI string          `json:"metadata_uri"`
	AmountUsd   decimal.Decimal `json:"amount_usd"`
	BaseApyBps  int             `json:"base_apy_bps"`
	BoostApyBps int             `json:"boost_apy_bps"`
	LockMonths  int             `json:"lock_months"`
}

// BoostApplied 加成代币锁仓
type BoostApplied struct {
	WexelID   uint64          `json:"wexel_id"`
	TokenMint string          `json:"token_mint"`
	Amount    decimal.Decimal `json:"amount"`
}

// RewardClaimed 收益提取
type RewardClaimed struct {
	WexelID   uint64          `json:"wexel_id"`
	AmountUsd decimal.Decimal `json:"amount_usd"`
	ClaimType string          `json:"claim_type"`
}

// CollateralOpened 开启抵押借款
type CollateralOpened struct {
	WexelID uint64 `json:"wexel_id"`
}

// CollateralRepaid 抵押借款已还清
type CollateralRepaid struct {
	WexelID uint64 `json:"wexel_id"`
}

// WexelRedeemed 凭证赎回
type WexelRedeemed struct {
	WexelID uint64 `json:"wexel_id"`
}

// DepositConfirmed 合约链上的入金确认 (vault 合约事件)
type DepositConfirmed struct {
	DepositID uint64          `json:"deposit_id"`
	Payer     string          `json:"payer"`
	Amount    decimal.Decimal `json:"amount"`
}

func (WexelMinted) EventName() string      { return NameWexelMinted }
func (BoostApplied) EventName() string     { return NameBoostApplied }
func (RewardClaimed) EventName() string    { return NameRewardClaimed }
func (CollateralOpened) EventName() string { return NameCollateralOpened }
func (CollateralRepaid) EventName() string { return NameCollateralRepaid }
func (WexelRedeemed) EventName() string    { return NameWexelRedeemed }
func (DepositConfirmed) EventName() string { return NameDepositConfirmed }

// Event is one structured domain event extracted from a confirmed
// transaction, tagged with its origin for de-duplication.
type Event struct {
	Chain   string
	TxHash  string
	Slot    uint64
	Payload Payload
}

// logPrefix is what the runtime prepends to program output lines.
const logPrefix = "Program log: "

// ParseLogs extracts structured events from raw transaction log lines.
// Recognized lines look like:
//
//	Program log: <marker>: <EventName>: <json-payload>
//
// Lines without the marker, with an unknown event name, or with a payload
// that fails to decode are skipped; the skipped names are returned so the
// caller can log them.
func ParseLogs(marker string, logs []string) (events []Payload, skipped []string) {
	prefix := logPrefix + marker + ": "
	for _, line := range logs {
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		rest := strings.TrimPrefix(line, prefix)
		name, body, found := strings.Cut(rest, ": ")
		if !found {
			skipped = append(skipped, rest)
			continue
		}

		payload := newPayload(name)
		if payload == nil {
			// Forward-compatible: unknown event names are dropped.
			skipped = append(skipped, name)
			continue
		}
		if err := json.Unmarshal([]byte(body), payload); err != nil {
			skipped = append(skipped, name)
			continue
		}
		events = append(events, deref(payload))
	}
	return events, skipped
}

func newPayload(name string) interface{} {
	switch name {
	case NameWexelMinted:
		return &WexelMinted{}
	case NameBoostApplied:
		return &BoostApplied{}
	case NameRewardClaimed:
		return &RewardClaimed{}
	case NameCollateralOpened:
		return &CollateralOpened{}
	case NameCollateralRepaid:
		return &CollateralRepaid{}
	case NameWexelRedeemed:
		return &WexelRedeemed{}
	case NameDepositConfirmed:
		return &DepositConfirmed{}
	}
	return nil
}

func deref(p interface{}) Payload {
	switch v := p.(type) {
	case *WexelMinted:
		return *v
	case *BoostApplied:
		return *v
	case *RewardClaimed:
		return *v
	case *CollateralOpened:
		return *v
	case *CollateralRepaid:
		return *v
	case *WexelRedeemed:
		return *v
	case *DepositConfirmed:
		return *v
	}
	return nil
}
