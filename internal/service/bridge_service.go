package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/olegin77/TUSD-sub001/internal/event"
	"github.com/olegin77/TUSD-sub001/internal/model"
	"github.com/olegin77/TUSD-sub001/pkg/config"
	"github.com/olegin77/TUSD-sub001/pkg/errno"
	"github.com/olegin77/TUSD-sub001/pkg/logger"
	"github.com/olegin77/TUSD-sub001/pkg/monitor"
)

// TopicBridgeIntents carries newly recorded mint intents to downstream
// validators.
const TopicBridgeIntents = "vault.bridge.intents"

// bridgeIntentMessage is the outbox payload for one recorded intent.
type bridgeIntentMessage struct {
	IntentID    uint64    `json:"intent_id"`
	DepositID   uint64    `json:"deposit_id"`
	SourceChain string    `json:"source_chain"`
	TargetChain string    `json:"target_chain"`
	Payer       string    `json:"payer"`
	AmountUsd   string    `json:"amount_usd"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// BridgeService 跨链桥接服务
// Turns a confirmed principal transfer on the contract chain into a mint
// intent for the account chain. The intent row plus its outbox message
// commit atomically; the actual cross-chain confirmation protocol runs in
// external validators, this service only keeps the books.
type BridgeService struct {
	db        *gorm.DB
	deposits  *DepositService
	processor *EventProcessor
	cfg       *config.BridgeConfig
}

func NewBridgeService(db *gorm.DB, deposits *DepositService, processor *EventProcessor, cfg *config.BridgeConfig) *BridgeService {
	return &BridgeService{db: db, deposits: deposits, processor: processor, cfg: cfg}
}

// HandleDepositConfirmed reacts to the vault contract acknowledging a
// principal transfer: it advances the deposit, records the mint intent
// and queues the relay message. Re-delivery of the same confirmation is
// a no-op (one intent per deposit).
func (s *BridgeService) HandleDepositConfirmed(ctx context.Context, ev event.Event, e event.DepositConfirmed) error {
	if _, err := s.deposits.ConfirmPrincipal(ctx, e.DepositID, ev.TxHash); err != nil {
		// A replayed confirmation finds the deposit already past INITIAL;
		// anything else is a real failure.
		if !errors.Is(err, errno.ErrDepositState) {
			return fmt.Errorf("confirm principal for deposit %d: %w", e.DepositID, err)
		}
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	intent := model.BridgeIntent{
		SourceChain:           model.ChainEthereum,
		TargetChain:           model.ChainSolana,
		DepositID:             e.DepositID,
		Payload:               payload,
		Status:                model.BridgeIntentPending,
		RequiredConfirmations: s.cfg.RequiredConfirmations,
	}

	created := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Source-chain deposit ledger: the raw upsert keeps the row
		// current even for re-delivered confirmations.
		now := time.Now().UTC()
		if err := tx.Exec(
			`INSERT INTO source_deposits (deposit_id, payer, amount_usd, tx_hash, block_number, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (deposit_id) DO UPDATE SET
			   payer = excluded.payer,
			   amount_usd = excluded.amount_usd,
			   tx_hash = excluded.tx_hash,
			   block_number = excluded.block_number,
			   updated_at = excluded.updated_at`,
			e.DepositID, e.Payer, e.Amount, ev.TxHash, ev.Slot, now, now).Error; err != nil {
			return err
		}

		// Upsert keyed by deposit_id: one intent per deposit, ever.
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "deposit_id"}},
			DoNothing: true,
		}).Create(&intent)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // already recorded
		}
		created = true

		msg := bridgeIntentMessage{
			IntentID:    intent.ID,
			DepositID:   e.DepositID,
			SourceChain: intent.SourceChain,
			TargetChain: intent.TargetChain,
			Payer:       e.Payer,
			AmountUsd:   e.Amount.String(),
			RecordedAt:  time.Now().UTC(),
		}
		return model.CreateOutboxMessage(tx, TopicBridgeIntents, fmt.Sprintf("%d", e.DepositID), msg)
	})
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	if monitor.Business != nil {
		monitor.Business.BridgeIntentsTotal.Inc()
	}
	logger.Info("bridge intent recorded",
		zap.Uint64("intent_id", intent.ID),
		zap.Uint64("deposit_id", e.DepositID))

	if s.cfg.SimulateMint {
		return s.simulateMint(ctx, e)
	}
	return nil
}

// simulateMint short-circuits the bridge in development: instead of
// waiting for validators and the on-chain mint, it feeds a synthetic
// WexelMinted event through the regular processing path.
func (s *BridgeService) simulateMint(ctx context.Context, e event.DepositConfirmed) error {
	deposit, err := s.deposits.GetDeposit(ctx, e.DepositID)
	if err != nil {
		return err
	}

	var vault model.Vault
	if err := s.db.WithContext(ctx).First(&vault, "id = ?", deposit.VaultID).Error; err != nil {
		return err
	}

	synthetic := event.Event{
		Chain:  model.ChainSolana,
		TxHash: fmt.Sprintf("sim-mint-%d", e.DepositID),
		Payload: event.WexelMinted{
			// Deposit ids and on-chain position ids live in disjoint
			// ranges in dev, offsetting avoids collisions.
			WexelID:     1_000_000 + e.DepositID,
			DepositID:   e.DepositID,
			Owner:       deposit.UserSolAddress,
			AmountUsd:   deposit.AmountUsd,
			BaseApyBps:  deposit.BaseApyBps,
			BoostApyBps: deposit.BoostApyBps,
			LockMonths:  vault.DurationMonths,
		},
	}
	logger.Warn("bridge: simulating target-chain mint",
		zap.Uint64("deposit_id", e.DepositID))
	return s.processor.Process(ctx, synthetic)
}

// IntentStatus is the boundary view of one intent's confirmation
// progress.
type IntentStatus struct {
	Intent    *model.BridgeIntent `json:"intent"`
	Remaining int                 `json:"confirmations_remaining"`
}

func (s *BridgeService) getIntent(ctx context.Context, intentID uint64) (*model.BridgeIntent, error) {
	var intent model.BridgeIntent
	if err := s.db.WithContext(ctx).First(&intent, "id = ?", intentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrIntentNotFound
		}
		return nil, err
	}
	return &intent, nil
}

// Status returns one intent plus how many validator confirmations it
// still needs.
func (s *BridgeService) Status(ctx context.Context, intentID uint64) (*IntentStatus, error) {
	intent, err := s.getIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	remaining := intent.RequiredConfirmations - intent.Confirmations
	if remaining < 0 {
		remaining = 0
	}
	return &IntentStatus{Intent: intent, Remaining: remaining}, nil
}

// ConfirmIntent records one validator confirmation and flips the intent
// to CONFIRMED once the threshold is met.
func (s *BridgeService) ConfirmIntent(ctx context.Context, intentID uint64) (*model.BridgeIntent, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.BridgeIntent{}).
			Where("id = ? AND status = ?", intentID, model.BridgeIntentPending).
			UpdateColumn("confirmations", gorm.Expr("confirmations + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errno.ErrIntentNotFound.WithMessagef("intent %d is not pending", intentID)
		}
		return tx.Model(&model.BridgeIntent{}).
			Where("id = ? AND confirmations >= required_confirmations", intentID).
			Update("status", model.BridgeIntentConfirmed).Error
	})
	if err != nil {
		return nil, err
	}
	return s.getIntent(ctx, intentID)
}
