package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/olegin77/TUSD-sub001/internal/event"
	"github.com/olegin77/TUSD-sub001/internal/model"
	"github.com/olegin77/TUSD-sub001/pkg/errno"
	"github.com/olegin77/TUSD-sub001/pkg/logger"
	"github.com/olegin77/TUSD-sub001/pkg/monitor"
)

const (
	// collateralLtvPercent is the loan-to-value ratio for collateral
	// loans against a wexel.
	collateralLtvPercent = 60
	// lockMonth approximates one lock month on-chain style.
	lockMonth = 30 * 24 * time.Hour
)

// EventProcessor 链上事件处理器
// Takes one structured domain event and applies the corresponding
// mutation. Every handler is an upsert so replays are safe; the indexers
// already de-duplicate whole transactions by (chain, tx_hash).
type EventProcessor struct {
	db    *gorm.DB
	boost *BoostService
}

func NewEventProcessor(db *gorm.DB, boost *BoostService) *EventProcessor {
	return &EventProcessor{db: db, boost: boost}
}

// Process routes one event to its handler. The payload union is closed,
// so this switch is exhaustive; unknown names never reach it (they are
// dropped at parse time).
func (p *EventProcessor) Process(ctx context.Context, ev event.Event) error {
	var err error
	switch payload := ev.Payload.(type) {
	case event.WexelMinted:
		err = p.handleWexelMinted(ctx, ev, payload)
	case event.BoostApplied:
		err = p.handleBoostApplied(ctx, ev, payload)
	case event.RewardClaimed:
		err = p.handleRewardClaimed(ctx, ev, payload)
	case event.CollateralOpened:
		err = p.handleCollateralOpened(ctx, ev, payload)
	case event.CollateralRepaid:
		err = p.handleCollateralRepaid(ctx, payload)
	case event.WexelRedeemed:
		err = p.handleWexelRedeemed(ctx, payload)
	case event.DepositConfirmed:
		// Vault-contract confirmations are routed to the bridge relay by
		// the polling indexer; nothing to mutate here.
	default:
		logger.Warn("processor: unhandled event payload",
			zap.String("chain", ev.Chain), zap.String("tx", ev.TxHash))
	}

	if monitor.Business != nil && ev.Payload != nil {
		if err != nil {
			monitor.Business.EventsFailedTotal.WithLabelValues(ev.Chain, ev.Payload.EventName()).Inc()
		} else {
			monitor.Business.EventsProcessedTotal.WithLabelValues(ev.Chain, ev.Payload.EventName()).Inc()
		}
	}
	return err
}

// handleWexelMinted creates the position if absent. The deposit itself is
// advanced by the lifecycle orchestrator on its own confirmation path;
// here we only link the freshly minted wexel to it.
func (p *EventProcessor) handleWexelMinted(ctx context.Context, ev event.Event, e event.WexelMinted) error {
	now := time.Now().UTC()
	wexel := model.Wexel{
		ID:           e.WexelID,
		OwnerAddress: e.Owner,
		MintAddress:  e.MintAddress,
		MetadataURI:  e.MetadataURI,
		PrincipalUsd: e.AmountUsd,
		BaseApyBps:   e.BaseApyBps,
		BoostApyBps:  e.BoostApyBps,
		StartTime:    now,
		EndTime:      now.Add(time.Duration(e.LockMonths) * lockMonth),
		ClaimedTotal: decimal.Zero,
	}
	if e.DepositID != 0 {
		depositID := e.DepositID
		wexel.DepositID = &depositID
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&wexel)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // replay
		}
		if e.DepositID != 0 {
			if err := tx.Model(&model.Deposit{}).
				Where("id = ?", e.DepositID).
				UpdateColumn("wexel_id", e.WexelID).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// handleBoostApplied re-quotes the lock and applies it. An already
// applied transaction is skipped before quoting: the quote counts
// existing boosts against the headroom, so near the target a replay
// would reject its own earlier application.
func (p *EventProcessor) handleBoostApplied(ctx context.Context, ev event.Event, e event.BoostApplied) error {
	var applied int64
	if err := p.db.WithContext(ctx).Model(&model.Boost{}).
		Where("wexel_id = ? AND tx_hash = ?", e.WexelID, ev.TxHash).
		Count(&applied).Error; err != nil {
		return err
	}
	if applied > 0 {
		return nil // replay
	}

	quote, err := p.boost.Quote(ctx, e.WexelID, e.TokenMint, e.Amount)
	if err != nil {
		return fmt.Errorf("boost quote for wexel %d: %w", e.WexelID, err)
	}
	return p.boost.Apply(ctx, quote, ev.TxHash)
}

// handleRewardClaimed appends the claim and bumps the cumulative counter
// with an in-place increment, all in one transaction.
func (p *EventProcessor) handleRewardClaimed(ctx context.Context, ev event.Event, e event.RewardClaimed) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim := model.Claim{
			WexelID:   e.WexelID,
			AmountUsd: e.AmountUsd,
			Type:      e.ClaimType,
		}
		// A NULL hash opts out of the unique index, so hashless claims
		// are never silently dropped.
		if ev.TxHash != "" {
			hash := ev.TxHash
			claim.TxHash = &hash
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&claim)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // replay
		}

		if err := tx.Model(&model.Wexel{}).
			Where("id = ?", e.WexelID).
			UpdateColumn("claimed_total", gorm.Expr("claimed_total + ?", e.AmountUsd)).Error; err != nil {
			return err
		}
		return tx.Model(&model.Deposit{}).
			Where("wexel_id = ?", e.WexelID).
			UpdateColumn("claims_count", gorm.Expr("claims_count + ?", 1)).Error
	})
}

func (p *EventProcessor) handleCollateralOpened(ctx context.Context, ev event.Event, e event.CollateralOpened) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var wexel model.Wexel
		if err := tx.First(&wexel, "id = ?", e.WexelID).Error; err != nil {
			return errno.ErrWexelNotFound
		}

		var open int64
		if err := tx.Model(&model.CollateralPosition{}).
			Where("wexel_id = ? AND repaid = ?", e.WexelID, false).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return errno.ErrCollateralOpen
		}

		pos := model.CollateralPosition{
			WexelID:   e.WexelID,
			LoanUsd:   CollateralLoanUsd(wexel.PrincipalUsd),
			StartedAt: time.Now().UTC(),
		}
		if err := tx.Create(&pos).Error; err != nil {
			return err
		}
		return tx.Model(&model.Wexel{}).
			Where("id = ?", e.WexelID).
			UpdateColumn("collateralized", true).Error
	})
}

func (p *EventProcessor) handleCollateralRepaid(ctx context.Context, e event.CollateralRepaid) error {
	now := time.Now().UTC()
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.CollateralPosition{}).
			Where("wexel_id = ? AND repaid = ?", e.WexelID, false).
			Updates(map[string]interface{}{"repaid": true, "repaid_at": &now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // nothing open, replay or out-of-order
		}
		return tx.Model(&model.Wexel{}).
			Where("id = ?", e.WexelID).
			UpdateColumn("collateralized", false).Error
	})
}

func (p *EventProcessor) handleWexelRedeemed(ctx context.Context, e event.WexelRedeemed) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Wexel{}).
			Where("id = ?", e.WexelID).
			UpdateColumn("redeemed", true).Error; err != nil {
			return err
		}
		// Guarded edge MATURED -> REDEEMED; a mismatch leaves the
		// deposit untouched.
		return tx.Model(&model.Deposit{}).
			Where("wexel_id = ? AND status = ?", e.WexelID, model.DepositStatusMatured).
			Update("status", model.DepositStatusRedeemed).Error
	})
}

// CollateralLoanUsd computes the loan for a collateralized wexel at the
// configured LTV (60%).
func CollateralLoanUsd(principalUsd decimal.Decimal) decimal.Decimal {
	return principalUsd.Mul(decimal.NewFromInt(collateralLtvPercent)).Div(decimal.NewFromInt(100))
}
