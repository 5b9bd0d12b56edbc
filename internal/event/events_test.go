package event

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestParseLogs(t *testing.T) {
	logs := []string{
		"Program 11111 invoke [1]",
		`Program log: wexel: WexelMinted: {"wexel_id":42,"deposit_id":7,"owner":"SoL1","amount_usd":"1000","base_apy_bps":840,"boost_apy_bps":0,"lock_months":12}`,
		"Program log: unrelated output",
		`Program log: wexel: BoostApplied: {"wexel_id":42,"token_mint":"MintA","amount":"15.5"}`,
		"Program 11111 success",
	}

	events, skipped := ParseLogs("wexel", logs)

	assert.Len(t, events, 2)
	assert.Empty(t, skipped)

	minted, ok := events[0].(WexelMinted)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), minted.WexelID)
	assert.Equal(t, uint64(7), minted.DepositID)
	assert.True(t, minted.AmountUsd.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 840, minted.BaseApyBps)
	assert.Equal(t, 12, minted.LockMonths)

	boost, ok := events[1].(BoostApplied)
	assert.True(t, ok)
	assert.Equal(t, "MintA", boost.TokenMint)
	assert.True(t, boost.Amount.Equal(decimal.RequireFromString("15.5")))
}

func TestParseLogsUnknownEventSkipped(t *testing.T) {
	logs := []string{
		`Program log: wexel: SomeFutureEvent: {"foo":1}`,
		`Program log: wexel: WexelRedeemed: {"wexel_id":3}`,
	}

	events, skipped := ParseLogs("wexel", logs)

	assert.Len(t, events, 1)
	assert.Equal(t, []string{"SomeFutureEvent"}, skipped)
	assert.Equal(t, NameWexelRedeemed, events[0].EventName())
}

func TestParseLogsBadPayloadSkipped(t *testing.T) {
	logs := []string{
		`Program log: wexel: WexelRedeemed: {not-json`,
		`Program log: wexel: NoSeparatorHere`,
	}

	events, skipped := ParseLogs("wexel", logs)

	assert.Empty(t, events)
	assert.Len(t, skipped, 2)
}

func TestParseLogsWrongMarkerIgnored(t *testing.T) {
	logs := []string{
		`Program log: other: WexelRedeemed: {"wexel_id":3}`,
	}

	events, skipped := ParseLogs("wexel", logs)

	assert.Empty(t, events)
	assert.Empty(t, skipped)
}
