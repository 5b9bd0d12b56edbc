package oracle

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/olegin77/TUSD-sub001/internal/model"
	"github.com/olegin77/TUSD-sub001/pkg/cache"
	"github.com/olegin77/TUSD-sub001/pkg/config"
	"github.com/olegin77/TUSD-sub001/pkg/errno"
	"github.com/olegin77/TUSD-sub001/pkg/logger"
	"github.com/olegin77/TUSD-sub001/pkg/monitor"
)

// Confidence levels returned by the aggregator.
const (
	ConfidenceAggregated = 0.95
	ConfidenceSingle     = 0.5
	ConfidenceStale      = 0.2
)

// Price is the aggregated, trusted value for one token mint.
type Price struct {
	TokenMint  string          `json:"token_mint"`
	Value      decimal.Decimal `json:"value"`
	Confidence float64         `json:"confidence"`
	Sources    []string        `json:"sources"`
	AsOf       time.Time       `json:"as_of"`
}

// Aggregator 多源价格聚合器
// Queries the sources in fixed priority order, tolerates any subset being
// unavailable, rejects disagreement beyond the deviation threshold, and
// returns the median of the responders. Results are written back into the
// token_prices table and the hot cache.
type Aggregator struct {
	db          *gorm.DB
	hot         cache.Cache
	sources     []Source
	cacheSource *CacheSource
	maxDevBps   int64
	hotTTL      time.Duration
}

// New builds the production aggregator: pyth, dex TWAP, fresh DB cache.
func New(db *gorm.DB, hot cache.Cache, cfg *config.OracleConfig) *Aggregator {
	cs := NewCacheSource(db, cfg.CacheMaxAge)
	sources := make([]Source, 0, 3)
	if cfg.PythURL != "" {
		sources = append(sources, NewPythSource(cfg.PythURL, cfg.RequestTimeout))
	}
	if cfg.DexTwapURL != "" {
		sources = append(sources, NewDexTwapSource(cfg.DexTwapURL, cfg.RequestTimeout))
	}
	sources = append(sources, cs)
	return &Aggregator{
		db:          db,
		hot:         hot,
		sources:     sources,
		cacheSource: cs,
		maxDevBps:   cfg.MaxDeviationBps,
		hotTTL:      cfg.HotCacheTTL,
	}
}

// NewWithSources wires an explicit source list (tests).
func NewWithSources(db *gorm.DB, hot cache.Cache, sources []Source, maxDevBps int64, cacheMaxAge, hotTTL time.Duration) *Aggregator {
	return &Aggregator{
		db:          db,
		hot:         hot,
		sources:     sources,
		cacheSource: NewCacheSource(db, cacheMaxAge),
		maxDevBps:   maxDevBps,
		hotTTL:      hotTTL,
	}
}

// GetPrice returns the trusted USD price for a token mint.
func (a *Aggregator) GetPrice(ctx context.Context, tokenMint string) (*Price, error) {
	if a.hot != nil {
		var cached Price
		if err := a.hot.Get(ctx, hotKey(tokenMint), &cached); err == nil {
			return &cached, nil
		}
	}

	quotes := a.collect(ctx, tokenMint)
	if len(quotes) == 0 {
		// Absolute last resort: the stale cache.
		if q, err := a.cacheSource.LastKnown(ctx, tokenMint); err == nil {
			logger.Warn("oracle: all live sources silent, using stale cache",
				zap.String("mint", tokenMint), zap.Time("as_of", q.AsOf))
			return &Price{
				TokenMint:  tokenMint,
				Value:      q.Price,
				Confidence: ConfidenceStale,
				Sources:    []string{SourceCache},
				AsOf:       q.AsOf,
			}, nil
		}
		return nil, errno.ErrNoPrice
	}

	price := &Price{
		TokenMint: tokenMint,
		AsOf:      time.Now().UTC(),
	}
	for _, q := range quotes {
		price.Sources = append(price.Sources, q.Source)
	}

	if len(quotes) == 1 {
		price.Value = quotes[0].Price
		price.Confidence = ConfidenceSingle
	} else {
		if dev := deviationBps(quotes); dev > a.maxDevBps {
			if monitor.Business != nil {
				monitor.Business.OracleDeviationRejects.Inc()
			}
			logger.Error("oracle: sources deviate beyond tolerance",
				zap.String("mint", tokenMint), zap.Int64("deviation_bps", dev))
			return nil, errno.ErrPriceDeviation.WithMessagef(
				"price sources deviate by %d bps (max %d)", dev, a.maxDevBps)
		}
		price.Value = median(quotes)
		price.Confidence = ConfidenceAggregated
	}

	a.writeBack(ctx, price, quotes)
	return price, nil
}

func (a *Aggregator) collect(ctx context.Context, tokenMint string) []Quote {
	var quotes []Quote
	for _, src := range a.sources {
		q, err := src.Quote(ctx, tokenMint)
		if err != nil {
			if monitor.Business != nil {
				monitor.Business.OracleRequestsTotal.WithLabelValues(src.Name(), "error").Inc()
			}
			logger.Debug("oracle: source unavailable",
				zap.String("source", src.Name()), zap.String("mint", tokenMint), zap.Error(err))
			continue
		}
		if monitor.Business != nil {
			monitor.Business.OracleRequestsTotal.WithLabelValues(src.Name(), "ok").Inc()
		}
		quotes = append(quotes, q)
	}
	return quotes
}

// writeBack refreshes the durable and hot caches. Skipped when the only
// responder was the cache itself, so the freshness timestamp is honest.
func (a *Aggregator) writeBack(ctx context.Context, price *Price, quotes []Quote) {
	live := false
	for _, q := range quotes {
		if q.Source != SourceCache {
			live = true
			break
		}
	}
	if !live {
		return
	}

	row := model.TokenPrice{
		TokenMint: price.TokenMint,
		PriceUsd:  price.Value,
		Source:    "aggregated",
		UpdatedAt: price.AsOf,
	}
	err := a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token_mint"}},
		DoUpdates: clause.AssignmentColumns([]string{"price_usd", "source", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		logger.Error("oracle: cache write-back failed", zap.Error(err))
	}

	if a.hot != nil {
		_ = a.hot.Set(ctx, hotKey(price.TokenMint), price, a.hotTTL)
	}
}

// deviationBps computes (max-min)/min in basis points, floored.
func deviationBps(quotes []Quote) int64 {
	min, max := quotes[0].Price, quotes[0].Price
	for _, q := range quotes[1:] {
		if q.Price.LessThan(min) {
			min = q.Price
		}
		if q.Price.GreaterThan(max) {
			max = q.Price
		}
	}
	if min.IsZero() {
		return 0
	}
	return max.Sub(min).Div(min).Mul(decimal.NewFromInt(10000)).IntPart()
}

// median resists single-outlier skew; for an even count it is the mean of
// the two middle values.
func median(quotes []Quote) decimal.Decimal {
	prices := make([]decimal.Decimal, len(quotes))
	for i, q := range quotes {
		prices[i] = q.Price
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })

	mid := len(prices) / 2
	if len(prices)%2 == 1 {
		return prices[mid]
	}
	return prices[mid-1].Add(prices[mid]).Div(decimal.NewFromInt(2))
}

func hotKey(tokenMint string) string {
	return "price:" + tokenMint
}
