package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/olegin77/TUSD-sub001/internal/event"
	"github.com/olegin77/TUSD-sub001/internal/model"
	"github.com/olegin77/TUSD-sub001/internal/service"
	"github.com/olegin77/TUSD-sub001/pkg/config"
	"github.com/olegin77/TUSD-sub001/pkg/errno"
	"github.com/olegin77/TUSD-sub001/pkg/logger"
	"github.com/olegin77/TUSD-sub001/pkg/monitor"
)

// usdTokenDecimals is the fixed-point scale of on-chain USD amounts.
const usdTokenDecimals = 6

// depositConfirmedTopic is topic0 of the vault contract's confirmation
// event: DepositConfirmed(uint256 indexed depositId, address indexed
// payer, uint256 amount).
var (
	depositConfirmedTopic = crypto.Keccak256Hash(
		[]byte("DepositConfirmed(uint256,address,uint256)"))
	uint256Type, _        = abi.NewType("uint256", "", nil)
	depositConfirmedData  = abi.Arguments{{Name: "amount", Type: uint256Type}}
)

// EvmIndexer 合约链区块轮询索引器
// Advances a durable cursor in bounded batches, staying a configurable
// number of confirmations below the head so reorged blocks are never
// ingested. The cursor moves only after every configured contract has
// been scanned for the whole range.
type EvmIndexer struct {
	cfg    *config.EvmConfig
	db     *gorm.DB
	bridge *service.BridgeService

	client *ethclient.Client
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEvmIndexer(cfg *config.EvmConfig, db *gorm.DB, bridge *service.BridgeService) *EvmIndexer {
	return &EvmIndexer{cfg: cfg, db: db, bridge: bridge}
}

// Start connects to the RPC node and launches the polling loop.
func (s *EvmIndexer) Start(ctx context.Context) error {
	if s.cfg.RpcURL == "" {
		return errno.ErrNotConfigured.WithMessagef("evm rpc_url is empty")
	}

	client, err := ethclient.DialContext(ctx, s.cfg.RpcURL)
	if err != nil {
		return fmt.Errorf("dial evm rpc: %w", err)
	}
	s.client = client

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.pollLoop(runCtx)

	logger.Info("evm indexer started",
		zap.String("url", s.cfg.RpcURL), zap.Int("contracts", len(s.cfg.Contracts)))
	return nil
}

func (s *EvmIndexer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if s.client != nil {
		s.client.Close()
	}
}

func (s *EvmIndexer) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				logger.Error("evm indexer tick failed", zap.Error(err))
			}
		}
	}
}

// tick scans one bounded batch of finalized blocks across all contracts.
func (s *EvmIndexer) tick(ctx context.Context) error {
	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("fetch head: %w", err)
	}

	cursor, err := s.loadCursor(ctx)
	if err != nil {
		return err
	}

	from, to, ok := nextRange(cursor, head, s.cfg.Confirmations, s.cfg.MaxBlocksPerTick)
	if !ok {
		return nil // caught up
	}

	for name, address := range s.cfg.Contracts {
		if err := s.scanContract(ctx, name, address, from, to); err != nil {
			// Cursor untouched: the whole range is retried next tick.
			return fmt.Errorf("scan %s [%d,%d]: %w", name, from, to, err)
		}
	}

	if err := s.saveCursor(ctx, to); err != nil {
		return err
	}
	if monitor.Business != nil {
		monitor.Business.IndexerCursorHeight.WithLabelValues(model.ChainEthereum).Set(float64(to))
	}
	logger.Debug("evm range indexed",
		zap.Uint64("from", from), zap.Uint64("to", to), zap.Uint64("head", head))
	return nil
}

func (s *EvmIndexer) scanContract(ctx context.Context, name, address string, from, to uint64) error {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{common.HexToAddress(address)},
	}
	logs, err := s.client.FilterLogs(ctx, query)
	if err != nil {
		return err
	}

	for _, lg := range logs {
		if err := s.handleLog(ctx, name, lg); err != nil {
			// The raw row is already persisted unprocessed, so the
			// transaction stays replayable; the batch continues.
			logger.Error("evm log processing failed",
				zap.String("contract", name), zap.String("tx", lg.TxHash.Hex()), zap.Error(err))
		}
	}
	return nil
}

// handleLog decodes one contract log and routes it. Only the vault
// contract's confirmation event is acted on today; unknown topics are
// skipped so contract upgrades do not wedge the cursor.
func (s *EvmIndexer) handleLog(ctx context.Context, contract string, lg types.Log) error {
	if len(lg.Topics) == 0 || lg.Topics[0] != depositConfirmedTopic {
		return nil
	}
	if len(lg.Topics) < 3 {
		logger.Warn("evm: malformed confirmation log",
			zap.String("tx", lg.TxHash.Hex()), zap.Int("topics", len(lg.Topics)))
		return nil
	}

	unpacked, err := depositConfirmedData.Unpack(lg.Data)
	if err != nil {
		logger.Warn("evm: undecodable confirmation data",
			zap.String("tx", lg.TxHash.Hex()), zap.Error(err))
		return nil
	}
	amount, ok := unpacked[0].(*big.Int)
	if !ok {
		return nil
	}

	payload := event.DepositConfirmed{
		DepositID: lg.Topics[1].Big().Uint64(),
		Payer:     common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
		Amount:    decimal.NewFromBigInt(amount, -usdTokenDecimals),
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	row := model.BlockchainEvent{
		Chain:   model.ChainEthereum,
		TxHash:  lg.TxHash.Hex(),
		Slot:    lg.BlockNumber,
		Payload: raw,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil // seen before
	}

	ev := event.Event{
		Chain:   model.ChainEthereum,
		TxHash:  lg.TxHash.Hex(),
		Slot:    lg.BlockNumber,
		Payload: payload,
	}
	if err := s.bridge.HandleDepositConfirmed(ctx, ev, payload); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Model(&model.BlockchainEvent{}).
		Where("id = ?", row.ID).
		Update("processed", true).Error
}

func (s *EvmIndexer) loadCursor(ctx context.Context) (uint64, error) {
	var cursor model.IndexerCursor
	err := s.db.WithContext(ctx).First(&cursor, "chain = ?", model.ChainEthereum).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, err
	}
	return cursor.LastProcessedBlock, nil
}

func (s *EvmIndexer) saveCursor(ctx context.Context, block uint64) error {
	cursor := model.IndexerCursor{
		Chain:              model.ChainEthereum,
		LastProcessedBlock: block,
		UpdatedAt:          time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chain"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_processed_block", "updated_at"}),
	}).Create(&cursor).Error
}

// nextRange picks the next block window: starting after the cursor,
// never above head minus the confirmation depth, at most maxBatch blocks.
// A zero cursor starts at the first safe block.
func nextRange(cursor, head, confirmations, maxBatch uint64) (from, to uint64, ok bool) {
	if head <= confirmations {
		return 0, 0, false
	}
	safe := head - confirmations

	from = cursor + 1
	if from > safe {
		return 0, 0, false
	}

	to = safe
	if maxBatch > 0 && to-from+1 > maxBatch {
		to = from + maxBatch - 1
	}
	return from, to, true
}
