package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/olegin77/TUSD-sub001/internal/model"
	"github.com/olegin77/TUSD-sub001/pkg/config"
	"github.com/olegin77/TUSD-sub001/pkg/errno"
)

func testDepositConfig() *config.DepositConfig {
	return &config.DepositConfig{
		PrincipalTimeout: 30 * time.Minute,
		BoostTimeout:     60 * time.Minute,
		MintTimeout:      15 * time.Minute,
		PayToAddress:     "0xVaultContract",
	}
}

func createTestVault(t *testing.T, db *gorm.DB) *model.Vault {
	t.Helper()
	vault := &model.Vault{
		Title:          "12m USDT",
		BaseApyBps:     840,
		BoostApyBps:    300,
		MinDepositUsd:  decimal.NewFromInt(100),
		DurationMonths: 12,
		Active:         true,
	}
	require.NoError(t, db.Create(vault).Error)
	return vault
}

func initiate(t *testing.T, svc *DepositService, vaultID uint64, wantBoost bool, frequency string) *DepositInstructions {
	t.Helper()
	instructions, err := svc.InitiateDeposit(context.Background(), &InitiateDepositRequest{
		VaultID:         vaultID,
		UserSolAddress:  "SoLUser",
		UserEvmAddress:  "0xUser",
		AmountUsd:       decimal.NewFromInt(1000),
		PayoutFrequency: frequency,
		WantBoost:       wantBoost,
	})
	require.NoError(t, err)
	return instructions
}

func TestInitiateDepositFreezesTerms(t *testing.T) {
	db := newTestDB(t)
	vault := createTestVault(t, db)
	svc := NewDepositService(db, testDepositConfig())

	instructions := initiate(t, svc, vault.ID, true, model.FrequencyYearly)
	deposit := instructions.Deposit

	assert.Equal(t, model.DepositStatusInitial, deposit.Status)
	assert.Equal(t, 840, deposit.BaseApyBps)
	assert.Equal(t, 300, deposit.BoostApyBps)
	assert.Equal(t, 1140, deposit.TotalApyBps)
	// 1140 * 130% = 1482
	assert.Equal(t, 1482, deposit.EffectiveApyBps)
	assert.Equal(t, "0xVaultContract", instructions.PayToAddress)
	assert.Equal(t, "principal_transfer", instructions.NextStep)
	assert.WithinDuration(t, deposit.CreatedAt.Add(30*time.Minute), instructions.Deadline, time.Second)

	// Later vault edits must not reach existing deposits.
	require.NoError(t, db.Model(&model.Vault{}).Where("id = ?", vault.ID).Update("base_apy_bps", 100).Error)
	got, err := svc.GetDeposit(context.Background(), deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, 840, got.BaseApyBps)
}

func TestInitiateDepositValidation(t *testing.T) {
	db := newTestDB(t)
	vault := createTestVault(t, db)
	svc := NewDepositService(db, testDepositConfig())
	ctx := context.Background()

	_, err := svc.InitiateDeposit(ctx, &InitiateDepositRequest{
		VaultID: vault.ID, AmountUsd: decimal.NewFromInt(1000), PayoutFrequency: "WEEKLY",
	})
	assert.ErrorIs(t, err, errno.ErrBadFrequency)

	_, err = svc.InitiateDeposit(ctx, &InitiateDepositRequest{
		VaultID: vault.ID, AmountUsd: decimal.NewFromInt(50), PayoutFrequency: model.FrequencyMonthly,
	})
	assert.ErrorIs(t, err, errno.ErrAmountTooSmall)

	_, err = svc.InitiateDeposit(ctx, &InitiateDepositRequest{
		VaultID: 999, AmountUsd: decimal.NewFromInt(1000), PayoutFrequency: model.FrequencyMonthly,
	})
	assert.ErrorIs(t, err, errno.ErrVaultNotFound)

	require.NoError(t, db.Model(&model.Vault{}).Where("id = ?", vault.ID).Update("active", false).Error)
	_, err = svc.InitiateDeposit(ctx, &InitiateDepositRequest{
		VaultID: vault.ID, AmountUsd: decimal.NewFromInt(1000), PayoutFrequency: model.FrequencyMonthly,
	})
	assert.ErrorIs(t, err, errno.ErrVaultInactive)
}

func TestDepositLifecycleWithBoost(t *testing.T) {
	db := newTestDB(t)
	vault := createTestVault(t, db)
	svc := NewDepositService(db, testDepositConfig())
	ctx := context.Background()

	deposit := initiate(t, svc, vault.ID, true, model.FrequencyMonthly).Deposit

	got, err := svc.ConfirmPrincipal(ctx, deposit.ID, "tx-principal")
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusPendingBoost, got.Status)
	assert.Equal(t, "tx-principal", got.PrincipalTxHash)

	got, err = svc.ConfirmBoostLock(ctx, deposit.ID, &BoostLockConfirmation{
		TxHash:    "tx-boost",
		TokenMint: "MintA",
		Amount:    decimal.NewFromInt(150),
		PriceUsd:  decimal.NewFromFloat(1.25),
	})
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusPendingMint, got.Status)
	assert.Equal(t, "tx-boost", got.BoostTxHash)
	assert.Equal(t, "MintA", got.BoostTokenMint)
	assert.True(t, got.BoostAmount.Equal(decimal.NewFromInt(150)))
	assert.True(t, got.BoostPriceUsd.Equal(decimal.NewFromFloat(1.25)), "got %s", got.BoostPriceUsd)

	got, err = svc.ConfirmPositionMint(ctx, deposit.ID, "tx-mint", 42)
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusActive, got.Status)
	require.NotNil(t, got.WexelID)
	assert.Equal(t, uint64(42), *got.WexelID)
	require.NotNil(t, got.LockEnd)
	assert.WithinDuration(t, got.LockStart.Add(12*30*24*time.Hour), *got.LockEnd, time.Second)

	// The wexel row exists and the vault counters moved.
	var wexel model.Wexel
	require.NoError(t, db.First(&wexel, "id = ?", 42).Error)
	assert.True(t, wexel.PrincipalUsd.Equal(decimal.NewFromInt(1000)))

	var gotVault model.Vault
	require.NoError(t, db.First(&gotVault, "id = ?", vault.ID).Error)
	assert.Equal(t, int64(1), gotVault.PositionsCount)
	assert.True(t, gotVault.LiquidityUsd.Equal(decimal.NewFromInt(1000)))
}

func TestConfirmBoostLockRequiresPrice(t *testing.T) {
	db := newTestDB(t)
	vault := createTestVault(t, db)
	svc := NewDepositService(db, testDepositConfig())
	ctx := context.Background()

	deposit := initiate(t, svc, vault.ID, true, model.FrequencyMonthly).Deposit
	_, err := svc.ConfirmPrincipal(ctx, deposit.ID, "tx-principal")
	require.NoError(t, err)

	_, err = svc.ConfirmBoostLock(ctx, deposit.ID, &BoostLockConfirmation{TxHash: "tx-boost"})
	assert.ErrorIs(t, err, errno.ErrBadPrice)

	// Token and amount default to the initiation quote when omitted.
	got, err := svc.ConfirmBoostLock(ctx, deposit.ID, &BoostLockConfirmation{
		TxHash: "tx-boost", PriceUsd: decimal.NewFromFloat(0.5),
	})
	require.NoError(t, err)
	assert.True(t, got.BoostPriceUsd.Equal(decimal.NewFromFloat(0.5)))
}

func TestDepositSkipsBoostStepWhenNotWanted(t *testing.T) {
	db := newTestDB(t)
	vault := createTestVault(t, db)
	svc := NewDepositService(db, testDepositConfig())

	deposit := initiate(t, svc, vault.ID, false, model.FrequencyMonthly).Deposit

	got, err := svc.ConfirmPrincipal(context.Background(), deposit.ID, "tx-principal")
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusPendingMint, got.Status)
}

func TestConfirmRejectsWrongState(t *testing.T) {
	db := newTestDB(t)
	vault := createTestVault(t, db)
	svc := NewDepositService(db, testDepositConfig())
	ctx := context.Background()

	deposit := initiate(t, svc, vault.ID, true, model.FrequencyMonthly).Deposit

	// Boost confirmation before principal confirmation.
	_, err := svc.ConfirmBoostLock(ctx, deposit.ID, &BoostLockConfirmation{
		TxHash: "tx-boost", PriceUsd: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, errno.ErrDepositState)

	// Replaying the principal confirmation loses the guarded update.
	_, err = svc.ConfirmPrincipal(ctx, deposit.ID, "tx-principal")
	require.NoError(t, err)
	_, err = svc.ConfirmPrincipal(ctx, deposit.ID, "tx-principal")
	assert.ErrorIs(t, err, errno.ErrDepositState)
}

func TestMarkStepFailed(t *testing.T) {
	db := newTestDB(t)
	vault := createTestVault(t, db)
	svc := NewDepositService(db, testDepositConfig())
	ctx := context.Background()

	deposit := initiate(t, svc, vault.ID, true, model.FrequencyMonthly).Deposit
	_, err := svc.ConfirmPrincipal(ctx, deposit.ID, "tx-principal")
	require.NoError(t, err)

	got, err := svc.MarkStepFailed(ctx, deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusBoostFailed, got.Status)

	// Terminal states cannot fail again.
	_, err = svc.MarkStepFailed(ctx, deposit.ID)
	assert.ErrorIs(t, err, errno.ErrDepositState)
}

func TestExpireStaleDeposits(t *testing.T) {
	db := newTestDB(t)
	vault := createTestVault(t, db)
	svc := NewDepositService(db, testDepositConfig())
	ctx := context.Background()
	now := time.Now().UTC()

	stale := initiate(t, svc, vault.ID, false, model.FrequencyMonthly).Deposit
	fresh := initiate(t, svc, vault.ID, false, model.FrequencyMonthly).Deposit

	// 31 minutes in INITIAL: past the 30 minute window.
	require.NoError(t, db.Model(&model.Deposit{}).Where("id = ?", stale.ID).
		UpdateColumn("updated_at", now.Add(-31*time.Minute)).Error)
	// 29 minutes: still inside the window.
	require.NoError(t, db.Model(&model.Deposit{}).Where("id = ?", fresh.ID).
		UpdateColumn("updated_at", now.Add(-29*time.Minute)).Error)

	expired, err := svc.ExpireStaleDeposits(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	got, _ := svc.GetDeposit(ctx, stale.ID)
	assert.Equal(t, model.DepositStatusExpired, got.Status)
	got, _ = svc.GetDeposit(ctx, fresh.ID)
	assert.Equal(t, model.DepositStatusInitial, got.Status)
}

func TestExpiryWindowRestartsPerState(t *testing.T) {
	db := newTestDB(t)
	vault := createTestVault(t, db)
	svc := NewDepositService(db, testDepositConfig())
	ctx := context.Background()
	now := time.Now().UTC()

	deposit := initiate(t, svc, vault.ID, true, model.FrequencyMonthly).Deposit
	_, err := svc.ConfirmPrincipal(ctx, deposit.ID, "tx-principal")
	require.NoError(t, err)

	// 45 minutes in PENDING_BOOST: inside its 60 minute window even
	// though the principal window is only 30.
	require.NoError(t, db.Model(&model.Deposit{}).Where("id = ?", deposit.ID).
		UpdateColumn("updated_at", now.Add(-45*time.Minute)).Error)

	expired, err := svc.ExpireStaleDeposits(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), expired)
}

func TestMatureDeposits(t *testing.T) {
	db := newTestDB(t)
	vault := createTestVault(t, db)
	svc := NewDepositService(db, testDepositConfig())
	ctx := context.Background()

	deposit := initiate(t, svc, vault.ID, false, model.FrequencyMonthly).Deposit
	_, err := svc.ConfirmPrincipal(ctx, deposit.ID, "tx-principal")
	require.NoError(t, err)
	_, err = svc.ConfirmPositionMint(ctx, deposit.ID, "tx-mint", 7)
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.Model(&model.Deposit{}).Where("id = ?", deposit.ID).
		UpdateColumn("lock_end", past).Error)

	matured, err := svc.MatureDeposits(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), matured)

	got, _ := svc.GetDeposit(ctx, deposit.ID)
	assert.Equal(t, model.DepositStatusMatured, got.Status)
}

func TestEffectiveApyBps(t *testing.T) {
	tests := []struct {
		frequency string
		total     int
		want      int
	}{
		{model.FrequencyMonthly, 840, 840},
		{model.FrequencyQuarterly, 840, 966},
		{model.FrequencyYearly, 840, 1092},
		{model.FrequencyYearly, 1140, 1482},
	}

	for _, tt := range tests {
		t.Run(tt.frequency, func(t *testing.T) {
			assert.Equal(t, tt.want, EffectiveApyBps(tt.total, tt.frequency))
		})
	}
}
