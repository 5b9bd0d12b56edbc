package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/olegin77/TUSD-sub001/internal/model"
)

// Source names, in priority order.
const (
	SourcePyth    = "pyth"
	SourceDexTwap = "dex-twap"
	SourceCache   = "cache"
)

// Quote is one source's answer for one token mint.
type Quote struct {
	Price  decimal.Decimal `json:"price"`
	Source string          `json:"source"`
	AsOf   time.Time       `json:"as_of"`
}

// Source is a single independent price feed. Implementations must return
// an error instead of a zero quote when unavailable; the aggregator
// catches per-source failures and never propagates them.
type Source interface {
	Name() string
	Quote(ctx context.Context, tokenMint string) (Quote, error)
}

// PythSource 主预言机网络 (HTTP)
type PythSource struct {
	baseURL string
	client  *http.Client
}

func NewPythSource(baseURL string, timeout time.Duration) *PythSource {
	return &PythSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *PythSource) Name() string { return SourcePyth }

func (s *PythSource) Quote(ctx context.Context, tokenMint string) (Quote, error) {
	var resp struct {
		Price       decimal.Decimal `json:"price"`
		Conf        decimal.Decimal `json:"conf"`
		PublishTime int64           `json:"publish_time"`
	}
	if err := getJSON(ctx, s.client, s.baseURL, tokenMint, &resp); err != nil {
		return Quote{}, err
	}
	if resp.Price.IsZero() {
		return Quote{}, fmt.Errorf("pyth: empty price for %s", tokenMint)
	}
	return Quote{
		Price:  resp.Price,
		Source: SourcePyth,
		AsOf:   time.Unix(resp.PublishTime, 0),
	}, nil
}

// DexTwapSource 去中心化交易所时间加权均价 (HTTP)
type DexTwapSource struct {
	baseURL string
	client  *http.Client
}

func NewDexTwapSource(baseURL string, timeout time.Duration) *DexTwapSource {
	return &DexTwapSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *DexTwapSource) Name() string { return SourceDexTwap }

func (s *DexTwapSource) Quote(ctx context.Context, tokenMint string) (Quote, error) {
	var resp struct {
		Twap          decimal.Decimal `json:"twap"`
		WindowSeconds int64           `json:"window_s"`
	}
	if err := getJSON(ctx, s.client, s.baseURL, tokenMint, &resp); err != nil {
		return Quote{}, err
	}
	if resp.Twap.IsZero() {
		return Quote{}, fmt.Errorf("dex-twap: empty price for %s", tokenMint)
	}
	return Quote{Price: resp.Twap, Source: SourceDexTwap, AsOf: time.Now()}, nil
}

func getJSON(ctx context.Context, client *http.Client, baseURL, tokenMint string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Add("mint", tokenMint)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request price source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("price source returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// CacheSource serves the last-known price from the token_prices table. It
// only answers while the row is younger than maxAge, so a stale cache
// drops out of aggregation (the aggregator may still use it as a last
// resort through LastKnown).
type CacheSource struct {
	db     *gorm.DB
	maxAge time.Duration
}

func NewCacheSource(db *gorm.DB, maxAge time.Duration) *CacheSource {
	return &CacheSource{db: db, maxAge: maxAge}
}

func (s *CacheSource) Name() string { return SourceCache }

func (s *CacheSource) Quote(ctx context.Context, tokenMint string) (Quote, error) {
	row, err := s.lookup(ctx, tokenMint)
	if err != nil {
		return Quote{}, err
	}
	if time.Since(row.UpdatedAt) > s.maxAge {
		return Quote{}, fmt.Errorf("cached price for %s is stale", tokenMint)
	}
	return Quote{Price: row.PriceUsd, Source: SourceCache, AsOf: row.UpdatedAt}, nil
}

// LastKnown returns the cached price regardless of age.
func (s *CacheSource) LastKnown(ctx context.Context, tokenMint string) (Quote, error) {
	row, err := s.lookup(ctx, tokenMint)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Price: row.PriceUsd, Source: SourceCache, AsOf: row.UpdatedAt}, nil
}

func (s *CacheSource) lookup(ctx context.Context, tokenMint string) (*model.TokenPrice, error) {
	var row model.TokenPrice
	if err := s.db.WithContext(ctx).First(&row, "token_mint = ?", tokenMint).Error; err != nil {
		return nil, err
	}
	return &row, nil
}
