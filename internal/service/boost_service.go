package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/olegin77/TUSD-sub001/internal/model"
	"github.com/olegin77/TUSD-sub001/internal/service/oracle"
	"github.com/olegin77/TUSD-sub001/pkg/errno"
)

const (
	// MaxBoostBps caps a wexel's APY boost contribution.
	MaxBoostBps = 300
	// boostTargetPercent is the fraction of principal that boost locks
	// may cover, in percent.
	boostTargetPercent = 30
)

// PriceGetter is the slice of the oracle aggregator the valuator needs.
type PriceGetter interface {
	GetPrice(ctx context.Context, tokenMint string) (*oracle.Price, error)
}

// BoostQuote is a side-effect-free valuation of a proposed boost lock.
// Applying it is a separate, explicit step.
type BoostQuote struct {
	WexelID     uint64          `json:"wexel_id,string"`
	TokenMint   string          `json:"token_mint"`
	Amount      decimal.Decimal `json:"amount"`
	PriceUsd    decimal.Decimal `json:"price_usd"`
	UsdValue    decimal.Decimal `json:"usd_value"`
	NewBoostBps int             `json:"new_boost_bps"`
	HeadroomUsd decimal.Decimal `json:"headroom_usd"`
}

// BoostService 计算并应用收益加成
type BoostService struct {
	db     *gorm.DB
	prices PriceGetter
}

func NewBoostService(db *gorm.DB, prices PriceGetter) *BoostService {
	return &BoostService{db: db, prices: prices}
}

// Quote values a proposed boost-token lock against the wexel's boost
// target (30% of principal). It rejects when existing+proposed exceeds
// the target, reporting the remaining headroom, and never mutates state.
func (s *BoostService) Quote(ctx context.Context, wexelID uint64, tokenMint string, amount decimal.Decimal) (*BoostQuote, error) {
	var wexel model.Wexel
	if err := s.db.WithContext(ctx).First(&wexel, "id = ?", wexelID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrWexelNotFound
		}
		return nil, err
	}

	price, err := s.prices.GetPrice(ctx, tokenMint)
	if err != nil {
		return nil, fmt.Errorf("boost valuation price: %w", err)
	}

	proposedUsd := amount.Mul(price.Value)

	var existingUsd decimal.Decimal
	err = s.db.WithContext(ctx).Model(&model.Boost{}).
		Where("wexel_id = ?", wexelID).
		Select("COALESCE(SUM(usd_value), 0)").
		Scan(&existingUsd).Error
	if err != nil {
		return nil, err
	}

	target := wexel.PrincipalUsd.Mul(decimal.NewFromInt(boostTargetPercent)).Div(decimal.NewFromInt(100))
	headroom := target.Sub(existingUsd)
	if existingUsd.Add(proposedUsd).GreaterThan(target) {
		return nil, errno.ErrBoostTargetExceeded.WithMessagef(
			"boost target exceeded: %s USD headroom remaining", headroom.StringFixed(2))
	}

	return &BoostQuote{
		WexelID:     wexelID,
		TokenMint:   tokenMint,
		Amount:      amount,
		PriceUsd:    price.Value,
		UsdValue:    proposedUsd,
		NewBoostBps: ContributionBps(existingUsd.Add(proposedUsd), wexel.PrincipalUsd),
		HeadroomUsd: headroom.Sub(proposedUsd),
	}, nil
}

// Apply performs the Boost insert and the wexel APY update inside one
// transaction. The (wexel_id, tx_hash) unique index makes replays a
// no-op: the APY is only bumped when the insert landed.
func (s *BoostService) Apply(ctx context.Context, quote *BoostQuote, txHash string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		boost := model.Boost{
			WexelID:     quote.WexelID,
			TokenMint:   quote.TokenMint,
			Amount:      quote.Amount,
			UsdValue:    quote.UsdValue,
			ApyBoostBps: quote.NewBoostBps,
			PriceUsd:    quote.PriceUsd,
			TxHash:      txHash,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&boost)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Already applied by an earlier ingestion of the same tx.
			return nil
		}
		return tx.Model(&model.Wexel{}).
			Where("id = ?", quote.WexelID).
			Update("boost_apy_bps", quote.NewBoostBps).Error
	})
}

// ContributionBps converts the cumulative boost ratio into APY basis
// points: min(floor(totalBoost/principal * 10000), MaxBoostBps).
func ContributionBps(totalBoostUsd, principalUsd decimal.Decimal) int {
	if principalUsd.IsZero() {
		return 0
	}
	bps := totalBoostUsd.Div(principalUsd).Mul(decimal.NewFromInt(10000)).IntPart()
	if bps > MaxBoostBps {
		return MaxBoostBps
	}
	return int(bps)
}
