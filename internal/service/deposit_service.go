package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/olegin77/TUSD-sub001/internal/model"
	"github.com/olegin77/TUSD-sub001/pkg/config"
	"github.com/olegin77/TUSD-sub001/pkg/errno"
	"github.com/olegin77/TUSD-sub001/pkg/logger"
	"github.com/olegin77/TUSD-sub001/pkg/monitor"
)

// Payout frequency multipliers applied to the total APY, in percent.
// Rarer payouts compound less often and are compensated with a higher
// effective rate.
var frequencyMultiplierPercent = map[string]int64{
	model.FrequencyMonthly:   100,
	model.FrequencyQuarterly: 115,
	model.FrequencyYearly:    130,
}

// InitiateDepositRequest carries the user's intent to open a deposit.
type InitiateDepositRequest struct {
	VaultID         uint64
	UserSolAddress  string
	UserEvmAddress  string
	AmountUsd       decimal.Decimal
	PayoutFrequency string
	WantBoost       bool
	BoostTokenMint  string
	BoostAmount     decimal.Decimal
}

// DepositInstructions tells the caller what to do next and by when.
type DepositInstructions struct {
	Deposit      *model.Deposit `json:"deposit"`
	PayToAddress string         `json:"pay_to_address"`
	NextStep     string         `json:"next_step"`
	Deadline     time.Time      `json:"deadline"`
}

// DepositService 入金生命周期编排
// Owns every deposit state transition. Edges are enforced with
// conditional updates (WHERE id AND status), so a concurrent or replayed
// confirmation loses the race cleanly instead of corrupting state.
type DepositService struct {
	db  *gorm.DB
	cfg *config.DepositConfig
}

func NewDepositService(db *gorm.DB, cfg *config.DepositConfig) *DepositService {
	return &DepositService{db: db, cfg: cfg}
}

// InitiateDeposit validates the request against the vault and creates the
// deposit in INITIAL. All APY parameters are copied from the vault now;
// later vault edits never change this deposit.
func (s *DepositService) InitiateDeposit(ctx context.Context, req *InitiateDepositRequest) (*DepositInstructions, error) {
	if _, ok := frequencyMultiplierPercent[req.PayoutFrequency]; !ok {
		return nil, errno.ErrBadFrequency
	}

	var vault model.Vault
	if err := s.db.WithContext(ctx).First(&vault, "id = ?", req.VaultID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrVaultNotFound
		}
		return nil, err
	}
	if !vault.Active {
		return nil, errno.ErrVaultInactive
	}
	if req.AmountUsd.LessThan(vault.MinDepositUsd) {
		return nil, errno.ErrAmountTooSmall.WithMessagef(
			"minimum deposit is %s USD", vault.MinDepositUsd.StringFixed(2))
	}

	boostBps := 0
	if req.WantBoost {
		boostBps = vault.BoostApyBps
	}
	totalBps := vault.BaseApyBps + boostBps

	deposit := model.Deposit{
		VaultID:         vault.ID,
		UserSolAddress:  req.UserSolAddress,
		UserEvmAddress:  req.UserEvmAddress,
		AmountUsd:       req.AmountUsd,
		BaseApyBps:      vault.BaseApyBps,
		BoostApyBps:     boostBps,
		TotalApyBps:     totalBps,
		EffectiveApyBps: EffectiveApyBps(totalBps, req.PayoutFrequency),
		PayoutFrequency: req.PayoutFrequency,
		WantBoost:       req.WantBoost,
		BoostTokenMint:  req.BoostTokenMint,
		BoostAmount:     req.BoostAmount,
		Status:          model.DepositStatusInitial,
	}
	if err := s.db.WithContext(ctx).Create(&deposit).Error; err != nil {
		return nil, err
	}

	if monitor.Business != nil {
		monitor.Business.DepositsInitiatedTotal.Inc()
	}
	logger.Info("deposit initiated",
		zap.Uint64("deposit_id", deposit.ID),
		zap.Uint64("vault_id", vault.ID),
		zap.String("amount_usd", req.AmountUsd.String()))

	return &DepositInstructions{
		Deposit:      &deposit,
		PayToAddress: s.cfg.PayToAddress,
		NextStep:     "principal_transfer",
		Deadline:     deposit.CreatedAt.Add(s.cfg.PrincipalTimeout),
	}, nil
}

// ConfirmPrincipal records the principal transfer. INITIAL moves to
// PENDING_BOOST when the deposit wants a boost lock, straight to
// PENDING_MINT otherwise.
func (s *DepositService) ConfirmPrincipal(ctx context.Context, depositID uint64, txHash string) (*model.Deposit, error) {
	deposit, err := s.GetDeposit(ctx, depositID)
	if err != nil {
		return nil, err
	}

	next := model.DepositStatusPendingMint
	if deposit.WantBoost {
		next = model.DepositStatusPendingBoost
	}
	return s.advance(ctx, depositID, model.DepositStatusInitial, next, map[string]interface{}{
		"principal_tx_hash": txHash,
	})
}

// BoostLockConfirmation is the observed lock: the tx hash plus the
// locked token, its amount and its oracle price at lock time.
type BoostLockConfirmation struct {
	TxHash    string
	TokenMint string
	Amount    decimal.Decimal
	PriceUsd  decimal.Decimal
}

// ConfirmBoostLock records the boost-token lock: PENDING_BOOST ->
// PENDING_MINT. The lock-time price is frozen on the deposit row; token
// and amount fall back to the initiation quote when omitted.
func (s *DepositService) ConfirmBoostLock(ctx context.Context, depositID uint64, conf *BoostLockConfirmation) (*model.Deposit, error) {
	if !conf.PriceUsd.IsPositive() {
		return nil, errno.ErrBadPrice.WithMessagef(
			"boost lock price must be positive, got %s", conf.PriceUsd)
	}

	updates := map[string]interface{}{
		"boost_tx_hash":   conf.TxHash,
		"boost_price_usd": conf.PriceUsd,
	}
	if conf.TokenMint != "" {
		updates["boost_token_mint"] = conf.TokenMint
	}
	if conf.Amount.IsPositive() {
		updates["boost_amount"] = conf.Amount
	}
	return s.advance(ctx, depositID, model.DepositStatusPendingBoost, model.DepositStatusPendingMint, updates)
}

// ConfirmPositionMint completes the lifecycle happy path:
// PENDING_MINT -> ACTIVE. The wexel row, the deposit update and the vault
// counters land in one transaction.
func (s *DepositService) ConfirmPositionMint(ctx context.Context, depositID uint64, txHash string, wexelID uint64) (*model.Deposit, error) {
	deposit, err := s.GetDeposit(ctx, depositID)
	if err != nil {
		return nil, err
	}

	var vault model.Vault
	if err := s.db.WithContext(ctx).First(&vault, "id = ?", deposit.VaultID).Error; err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	lockEnd := now.Add(time.Duration(vault.DurationMonths) * lockMonth)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Deposit{}).
			Where("id = ? AND status = ?", depositID, model.DepositStatusPendingMint).
			Updates(map[string]interface{}{
				"status":       model.DepositStatusActive,
				"mint_tx_hash": txHash,
				"wexel_id":     wexelID,
				"lock_start":   now,
				"lock_end":     lockEnd,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if monitor.Business != nil {
				monitor.Business.DepositStateRejects.Inc()
			}
			return errno.ErrDepositState.WithMessagef(
				"deposit %d is not awaiting mint", depositID)
		}

		wexel := model.Wexel{
			ID:           wexelID,
			DepositID:    &depositID,
			OwnerAddress: deposit.UserSolAddress,
			PrincipalUsd: deposit.AmountUsd,
			BaseApyBps:   deposit.BaseApyBps,
			BoostApyBps:  deposit.BoostApyBps,
			StartTime:    now,
			EndTime:      lockEnd,
			ClaimedTotal: decimal.Zero,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&wexel).Error; err != nil {
			return err
		}

		// In-place increments keep concurrent activations correct.
		return tx.Model(&model.Vault{}).
			Where("id = ?", vault.ID).
			UpdateColumns(map[string]interface{}{
				"liquidity_usd":   gorm.Expr("liquidity_usd + ?", deposit.AmountUsd),
				"positions_count": gorm.Expr("positions_count + ?", 1),
				"batch_counter":   gorm.Expr("batch_counter + ?", 1),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetDeposit(ctx, depositID)
}

// MarkStepFailed moves a deposit from a waiting state to the matching
// terminal failure state.
func (s *DepositService) MarkStepFailed(ctx context.Context, depositID uint64) (*model.Deposit, error) {
	deposit, err := s.GetDeposit(ctx, depositID)
	if err != nil {
		return nil, err
	}

	var failed string
	switch deposit.Status {
	case model.DepositStatusInitial:
		failed = model.DepositStatusPrincipalFailed
	case model.DepositStatusPendingBoost:
		failed = model.DepositStatusBoostFailed
	case model.DepositStatusPendingMint:
		failed = model.DepositStatusMintFailed
	default:
		return nil, errno.ErrDepositState.WithMessagef(
			"deposit %d is not in a failable state", depositID)
	}
	return s.advance(ctx, depositID, deposit.Status, failed, nil)
}

// ExpireStaleDeposits moves deposits stuck in a waiting state past their
// step timeout to EXPIRED. UpdatedAt is the state-entry timestamp, so the
// window restarts on every transition. Returns the number expired.
func (s *DepositService) ExpireStaleDeposits(ctx context.Context, now time.Time) (int64, error) {
	windows := []struct {
		status  string
		timeout time.Duration
	}{
		{model.DepositStatusInitial, s.cfg.PrincipalTimeout},
		{model.DepositStatusPendingBoost, s.cfg.BoostTimeout},
		{model.DepositStatusPendingMint, s.cfg.MintTimeout},
	}

	var total int64
	for _, w := range windows {
		res := s.db.WithContext(ctx).Model(&model.Deposit{}).
			Where("status = ? AND updated_at < ?", w.status, now.Add(-w.timeout)).
			Update("status", model.DepositStatusExpired)
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
	}

	if total > 0 {
		if monitor.Business != nil {
			monitor.Business.DepositsExpiredTotal.Add(float64(total))
		}
		logger.Info("expired stale deposits", zap.Int64("count", total))
	}
	return total, nil
}

// MatureDeposits moves ACTIVE deposits past their lock end to MATURED.
func (s *DepositService) MatureDeposits(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Deposit{}).
		Where("status = ? AND lock_end IS NOT NULL AND lock_end <= ?", model.DepositStatusActive, now).
		Update("status", model.DepositStatusMatured)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		logger.Info("matured deposits", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

func (s *DepositService) GetDeposit(ctx context.Context, depositID uint64) (*model.Deposit, error) {
	var deposit model.Deposit
	if err := s.db.WithContext(ctx).First(&deposit, "id = ?", depositID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrDepositNotFound
		}
		return nil, err
	}
	return &deposit, nil
}

// ListUserDeposits returns the user's deposits, newest first.
func (s *DepositService) ListUserDeposits(ctx context.Context, solAddress string) ([]model.Deposit, error) {
	var deposits []model.Deposit
	err := s.db.WithContext(ctx).
		Where("user_sol_address = ?", solAddress).
		Order("id DESC").
		Find(&deposits).Error
	return deposits, err
}

// advance performs one guarded state transition. A zero-row update means
// the deposit was not in the expected state.
func (s *DepositService) advance(ctx context.Context, depositID uint64, from, to string, extra map[string]interface{}) (*model.Deposit, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}

	res := s.db.WithContext(ctx).Model(&model.Deposit{}).
		Where("id = ? AND status = ?", depositID, from).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if monitor.Business != nil {
			monitor.Business.DepositStateRejects.Inc()
		}
		deposit, err := s.GetDeposit(ctx, depositID)
		if err != nil {
			return nil, err
		}
		return nil, errno.ErrDepositState.WithMessagef(
			"deposit %d is %s, expected %s", depositID, deposit.Status, from)
	}
	return s.GetDeposit(ctx, depositID)
}

// EffectiveApyBps applies the payout frequency multiplier to the total
// APY using integer percent arithmetic (840 bps yearly -> 1092 bps).
func EffectiveApyBps(totalBps int, frequency string) int {
	mult, ok := frequencyMultiplierPercent[frequency]
	if !ok {
		return totalBps
	}
	return int(int64(totalBps) * mult / 100)
}
