package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/olegin77/TUSD-sub001/internal/service/oracle"
	"github.com/olegin77/TUSD-sub001/pkg/config"
	"github.com/olegin77/TUSD-sub001/pkg/logger"
	"github.com/olegin77/TUSD-sub001/pkg/utils/lock"
)

// CronService 定时任务调度
// Every job grabs a redis lock first, so the sweeps run exactly once
// across all instances.
type CronService struct {
	cron     *cron.Cron
	redis    *redis.Client
	deposits *DepositService
	prices   *oracle.Aggregator
	tokens   []string
}

func NewCronService(rdb *redis.Client, deposits *DepositService, prices *oracle.Aggregator, oracleCfg *config.OracleConfig) *CronService {
	return &CronService{
		cron:     cron.New(),
		redis:    rdb,
		deposits: deposits,
		prices:   prices,
		tokens:   oracleCfg.RefreshTokens,
	}
}

func (s *CronService) Start() {
	_, _ = s.cron.AddFunc("@every 1m", s.ExpireStaleDeposits)
	_, _ = s.cron.AddFunc("@every 5m", s.MatureDeposits)
	_, _ = s.cron.AddFunc("@every 1m", s.RefreshPrices)

	s.cron.Start()
	logger.Info("cron service started")
}

func (s *CronService) Stop() {
	s.cron.Stop()
	logger.Info("cron service stopped")
}

// ExpireStaleDeposits sweeps deposits stuck past their step timeout.
func (s *CronService) ExpireStaleDeposits() {
	ctx := context.Background()
	if !s.tryLock(ctx, "cron:lock:expire_deposits", 50*time.Second) {
		return
	}
	defer s.unlock(ctx, "cron:lock:expire_deposits")

	if _, err := s.deposits.ExpireStaleDeposits(ctx, time.Now().UTC()); err != nil {
		logger.Error("expiry sweep failed", zap.Error(err))
	}
}

// MatureDeposits moves active deposits past their lock end to MATURED.
func (s *CronService) MatureDeposits() {
	ctx := context.Background()
	if !s.tryLock(ctx, "cron:lock:mature_deposits", 4*time.Minute) {
		return
	}
	defer s.unlock(ctx, "cron:lock:mature_deposits")

	if _, err := s.deposits.MatureDeposits(ctx, time.Now().UTC()); err != nil {
		logger.Error("maturity sweep failed", zap.Error(err))
	}
}

// RefreshPrices keeps the durable price cache warm for the configured
// boost tokens, so boost valuation still works through short oracle
// outages.
func (s *CronService) RefreshPrices() {
	if len(s.tokens) == 0 {
		return
	}
	ctx := context.Background()
	if !s.tryLock(ctx, "cron:lock:refresh_prices", 50*time.Second) {
		return
	}
	defer s.unlock(ctx, "cron:lock:refresh_prices")

	for _, mint := range s.tokens {
		if _, err := s.prices.GetPrice(ctx, mint); err != nil {
			logger.Warn("price refresh failed",
				zap.String("mint", mint), zap.Error(err))
		}
	}
}

func (s *CronService) tryLock(ctx context.Context, key string, ttl time.Duration) bool {
	locker := lock.NewRedisLock(s.redis)
	locked, err := locker.Acquire(ctx, key, ttl)
	if err != nil || !locked {
		logger.Debug("cron job skipped, lock held elsewhere", zap.String("key", key))
		return false
	}
	return true
}

func (s *CronService) unlock(ctx context.Context, key string) {
	lock.NewRedisLock(s.redis).Release(ctx, key)
}
