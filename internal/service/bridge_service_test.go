package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/olegin77/TUSD-sub001/internal/event"
	"github.com/olegin77/TUSD-sub001/internal/model"
	"github.com/olegin77/TUSD-sub001/internal/service/mq"
	"github.com/olegin77/TUSD-sub001/pkg/config"
	"github.com/olegin77/TUSD-sub001/pkg/errno"
)

func newTestBridge(t *testing.T, db *gorm.DB, simulate bool) (*BridgeService, *DepositService) {
	t.Helper()
	deposits := NewDepositService(db, testDepositConfig())
	processor := NewEventProcessor(db, NewBoostService(db, &fakePrices{price: decimal.NewFromInt(1)}))
	bridge := NewBridgeService(db, deposits, processor, &config.BridgeConfig{
		RequiredConfirmations: 3,
		SimulateMint:          simulate,
	})
	return bridge, deposits
}

func confirmedEvent(depositID uint64, tx string) (event.Event, event.DepositConfirmed) {
	payload := event.DepositConfirmed{
		DepositID: depositID,
		Payer:     "0xPayer",
		Amount:    decimal.NewFromInt(1000),
	}
	return event.Event{Chain: model.ChainEthereum, TxHash: tx, Payload: payload}, payload
}

func TestHandleDepositConfirmed(t *testing.T) {
	db := newTestDB(t)
	vault := createTestVault(t, db)
	bridge, deposits := newTestBridge(t, db, false)
	ctx := context.Background()

	deposit := initiate(t, deposits, vault.ID, false, model.FrequencyMonthly).Deposit

	ev, payload := confirmedEvent(deposit.ID, "0xtx")
	require.NoError(t, bridge.HandleDepositConfirmed(ctx, ev, payload))

	// Deposit advanced past INITIAL.
	got, err := deposits.GetDeposit(ctx, deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusPendingMint, got.Status)

	// One intent and one queued outbox message.
	var intent model.BridgeIntent
	require.NoError(t, db.First(&intent, "deposit_id = ?", deposit.ID).Error)
	assert.Equal(t, model.BridgeIntentPending, intent.Status)
	assert.Equal(t, model.ChainEthereum, intent.SourceChain)
	assert.Equal(t, model.ChainSolana, intent.TargetChain)
	assert.Equal(t, 3, intent.RequiredConfirmations)

	var outbox model.OutboxMessage
	require.NoError(t, db.First(&outbox, "topic = ?", TopicBridgeIntents).Error)
	assert.Equal(t, "PENDING", outbox.Status)

	// The source-chain ledger row mirrors the confirmation.
	var ledger model.SourceDeposit
	require.NoError(t, db.First(&ledger, "deposit_id = ?", deposit.ID).Error)
	assert.Equal(t, "0xPayer", ledger.Payer)
	assert.True(t, ledger.AmountUsd.Equal(payload.Amount))
	assert.Equal(t, "0xtx", ledger.TxHash)

	// Re-delivery of the same confirmation is a no-op for the intent and
	// outbox but refreshes the ledger row.
	require.NoError(t, bridge.HandleDepositConfirmed(ctx, ev, payload))

	var intents, messages, ledgerRows int64
	db.Model(&model.BridgeIntent{}).Count(&intents)
	db.Model(&model.OutboxMessage{}).Count(&messages)
	db.Model(&model.SourceDeposit{}).Count(&ledgerRows)
	assert.Equal(t, int64(1), intents)
	assert.Equal(t, int64(1), messages)
	assert.Equal(t, int64(1), ledgerRows)
}

func TestHandleDepositConfirmedSimulatesMint(t *testing.T) {
	db := newTestDB(t)
	vault := createTestVault(t, db)
	bridge, deposits := newTestBridge(t, db, true)
	ctx := context.Background()

	deposit := initiate(t, deposits, vault.ID, false, model.FrequencyMonthly).Deposit

	ev, payload := confirmedEvent(deposit.ID, "0xtx")
	require.NoError(t, bridge.HandleDepositConfirmed(ctx, ev, payload))

	// The synthetic mint produced a wexel linked to the deposit.
	var wexel model.Wexel
	require.NoError(t, db.First(&wexel, "deposit_id = ?", deposit.ID).Error)
	assert.True(t, wexel.PrincipalUsd.Equal(deposit.AmountUsd))
	assert.Equal(t, vault.BaseApyBps, wexel.BaseApyBps)
}

func TestConfirmIntent(t *testing.T) {
	db := newTestDB(t)
	vault := createTestVault(t, db)
	bridge, deposits := newTestBridge(t, db, false)
	ctx := context.Background()

	deposit := initiate(t, deposits, vault.ID, false, model.FrequencyMonthly).Deposit
	ev, payload := confirmedEvent(deposit.ID, "0xtx")
	require.NoError(t, bridge.HandleDepositConfirmed(ctx, ev, payload))

	var intent model.BridgeIntent
	require.NoError(t, db.First(&intent, "deposit_id = ?", deposit.ID).Error)

	status, err := bridge.Status(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Remaining)

	for i := 0; i < 2; i++ {
		got, err := bridge.ConfirmIntent(ctx, intent.ID)
		require.NoError(t, err)
		assert.Equal(t, model.BridgeIntentPending, got.Status)
	}

	got, err := bridge.ConfirmIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BridgeIntentConfirmed, got.Status)
	assert.Equal(t, 3, got.Confirmations)

	status, err = bridge.Status(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Remaining)

	// Confirmed intents accept no further confirmations.
	_, err = bridge.ConfirmIntent(ctx, intent.ID)
	assert.ErrorIs(t, err, errno.ErrIntentNotFound)
}

func TestBridgeStatusNotFound(t *testing.T) {
	db := newTestDB(t)
	bridge, _ := newTestBridge(t, db, false)

	_, err := bridge.Status(context.Background(), 404)
	assert.ErrorIs(t, err, errno.ErrIntentNotFound)
}

func TestConfirmationConsumerHandle(t *testing.T) {
	db := newTestDB(t)
	vault := createTestVault(t, db)
	bridge, deposits := newTestBridge(t, db, false)
	ctx := context.Background()

	deposit := initiate(t, deposits, vault.ID, false, model.FrequencyMonthly).Deposit
	ev, payload := confirmedEvent(deposit.ID, "0xtx")
	require.NoError(t, bridge.HandleDepositConfirmed(ctx, ev, payload))

	var intent model.BridgeIntent
	require.NoError(t, db.First(&intent, "deposit_id = ?", deposit.ID).Error)

	consumer := NewConfirmationConsumer(bridge, nil)
	msg := func(validator string) *mq.Message {
		body := fmt.Sprintf(`{"intent_id": %d, "validator": %q}`, intent.ID, validator)
		return &mq.Message{ID: "1-0", Topic: TopicBridgeConfirmations, Payload: []byte(body)}
	}

	require.NoError(t, consumer.handle(ctx, msg("val-1")))
	require.NoError(t, consumer.handle(ctx, msg("val-2")))
	require.NoError(t, consumer.handle(ctx, msg("val-3")))

	require.NoError(t, db.First(&intent, intent.ID).Error)
	assert.Equal(t, model.BridgeIntentConfirmed, intent.Status)
	assert.Equal(t, 3, intent.Confirmations)

	// A late vote and a poison payload are both acked without error.
	assert.NoError(t, consumer.handle(ctx, msg("val-4")))
	assert.NoError(t, consumer.handle(ctx, &mq.Message{ID: "1-1", Payload: []byte("not json")}))
	require.NoError(t, db.First(&intent, intent.ID).Error)
	assert.Equal(t, 3, intent.Confirmations)
}
