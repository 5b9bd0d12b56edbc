package oracle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/olegin77/TUSD-sub001/internal/model"
	"github.com/olegin77/TUSD-sub001/pkg/errno"
)

// fakeSource returns a fixed price or a fixed error.
type fakeSource struct {
	name  string
	price decimal.Decimal
	err   error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Quote(ctx context.Context, tokenMint string) (Quote, error) {
	if f.err != nil {
		return Quote{}, f.err
	}
	return Quote{Price: f.price, Source: f.name, AsOf: time.Now()}, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))
	return db
}

func newTestAggregator(db *gorm.DB, sources ...Source) *Aggregator {
	return NewWithSources(db, nil, sources, 150, 5*time.Minute, 30*time.Second)
}

func TestGetPriceMedianOfTwoSources(t *testing.T) {
	db := newTestDB(t)
	agg := newTestAggregator(db,
		&fakeSource{name: SourcePyth, price: decimal.RequireFromString("1.00")},
		&fakeSource{name: SourceDexTwap, price: decimal.RequireFromString("1.01")},
	)

	price, err := agg.GetPrice(context.Background(), "MintA")
	require.NoError(t, err)

	assert.True(t, price.Value.Equal(decimal.RequireFromString("1.005")), "got %s", price.Value)
	assert.Equal(t, ConfidenceAggregated, price.Confidence)
	assert.ElementsMatch(t, []string{SourcePyth, SourceDexTwap}, price.Sources)

	// Write-back to the durable cache.
	var row model.TokenPrice
	require.NoError(t, db.First(&row, "token_mint = ?", "MintA").Error)
	assert.True(t, row.PriceUsd.Equal(decimal.RequireFromString("1.005")))
	assert.Equal(t, "aggregated", row.Source)
}

func TestGetPriceDeviationRejected(t *testing.T) {
	db := newTestDB(t)
	agg := newTestAggregator(db,
		&fakeSource{name: SourcePyth, price: decimal.RequireFromString("1.00")},
		&fakeSource{name: SourceDexTwap, price: decimal.RequireFromString("1.20")},
	)

	_, err := agg.GetPrice(context.Background(), "MintA")
	assert.ErrorIs(t, err, errno.ErrPriceDeviation)

	// Rejected aggregations must not poison the cache.
	var count int64
	db.Model(&model.TokenPrice{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestGetPriceSingleSourceLowConfidence(t *testing.T) {
	db := newTestDB(t)
	agg := newTestAggregator(db,
		&fakeSource{name: SourcePyth, price: decimal.RequireFromString("2.50")},
		&fakeSource{name: SourceDexTwap, err: errors.New("connection refused")},
	)

	price, err := agg.GetPrice(context.Background(), "MintA")
	require.NoError(t, err)

	assert.True(t, price.Value.Equal(decimal.RequireFromString("2.50")))
	assert.Equal(t, ConfidenceSingle, price.Confidence)
}

func TestGetPriceStaleCacheFallback(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&model.TokenPrice{
		TokenMint: "MintA",
		PriceUsd:  decimal.RequireFromString("3.33"),
		Source:    "aggregated",
		UpdatedAt: time.Now().Add(-time.Hour), // well past max age
	}).Error)

	agg := newTestAggregator(db,
		&fakeSource{name: SourcePyth, err: errors.New("down")},
	)

	price, err := agg.GetPrice(context.Background(), "MintA")
	require.NoError(t, err)

	assert.True(t, price.Value.Equal(decimal.RequireFromString("3.33")))
	assert.Equal(t, ConfidenceStale, price.Confidence)
	assert.Equal(t, []string{SourceCache}, price.Sources)
}

func TestGetPriceNoSources(t *testing.T) {
	db := newTestDB(t)
	agg := newTestAggregator(db,
		&fakeSource{name: SourcePyth, err: errors.New("down")},
	)

	_, err := agg.GetPrice(context.Background(), "Unknown")
	assert.ErrorIs(t, err, errno.ErrNoPrice)
}

func TestCacheSourceRejectsStaleRows(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&model.TokenPrice{
		TokenMint: "MintA",
		PriceUsd:  decimal.NewFromInt(1),
		Source:    "aggregated",
		UpdatedAt: time.Now().Add(-10 * time.Minute),
	}).Error)

	cs := NewCacheSource(db, 5*time.Minute)
	_, err := cs.Quote(context.Background(), "MintA")
	assert.Error(t, err)

	// LastKnown ignores age.
	q, err := cs.LastKnown(context.Background(), "MintA")
	assert.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(1)))
}

func TestDeviationBps(t *testing.T) {
	tests := []struct {
		prices []string
		want   int64
	}{
		{[]string{"1.00", "1.01"}, 100},
		{[]string{"1.00", "1.015"}, 150},
		{[]string{"1.00", "1.20"}, 2000},
		{[]string{"2.00", "2.00"}, 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v", tt.prices), func(t *testing.T) {
			quotes := make([]Quote, len(tt.prices))
			for i, p := range tt.prices {
				quotes[i] = Quote{Price: decimal.RequireFromString(p)}
			}
			assert.Equal(t, tt.want, deviationBps(quotes))
		})
	}
}

func TestMedian(t *testing.T) {
	quotes := []Quote{
		{Price: decimal.NewFromInt(3)},
		{Price: decimal.NewFromInt(1)},
		{Price: decimal.NewFromInt(2)},
	}
	assert.True(t, median(quotes).Equal(decimal.NewFromInt(2)))

	even := []Quote{
		{Price: decimal.NewFromInt(1)},
		{Price: decimal.NewFromInt(2)},
	}
	assert.True(t, median(even).Equal(decimal.RequireFromString("1.5")))
}
