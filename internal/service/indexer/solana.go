package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/olegin77/TUSD-sub001/internal/event"
	"github.com/olegin77/TUSD-sub001/internal/model"
	"github.com/olegin77/TUSD-sub001/internal/service"
	"github.com/olegin77/TUSD-sub001/pkg/config"
	"github.com/olegin77/TUSD-sub001/pkg/errno"
	"github.com/olegin77/TUSD-sub001/pkg/logger"
)

// subscribeRequest is the JSON-RPC frame for logsSubscribe.
type subscribeRequest struct {
	JsonRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// logsNotification is the server-push frame carrying one confirmed
// transaction's log lines.
type logsNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Signature string          `json:"signature"`
				Err       json.RawMessage `json:"err"`
				Logs      []string        `json:"logs"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

// rawTransaction is what gets persisted before processing, so failed
// transactions can be replayed later.
type rawTransaction struct {
	Signature string   `json:"signature"`
	Slot      uint64   `json:"slot"`
	Logs      []string `json:"logs"`
}

// maxReconnectBackoff bounds the redial delay after websocket failures.
const maxReconnectBackoff = 30 * time.Second

// SolanaIndexer 账户链日志订阅索引器
// One websocket listener feeds a single consumer goroutine, so database
// writes are strictly serialized. The listener owns the connection and
// redials with backoff on any failure; the (chain, tx_hash) unique index
// makes reconnect-replays no-ops.
type SolanaIndexer struct {
	cfg       *config.SolanaConfig
	db        *gorm.DB
	processor *service.EventProcessor

	mu     sync.Mutex
	conn   *websocket.Conn
	txs    chan rawTransaction
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSolanaIndexer(cfg *config.SolanaConfig, db *gorm.DB, processor *service.EventProcessor) *SolanaIndexer {
	return &SolanaIndexer{
		cfg:       cfg,
		db:        db,
		processor: processor,
		txs:       make(chan rawTransaction, 256),
	}
}

// Start launches the listener and consumer goroutines. Connection
// failures are not fatal: the listener keeps redialing until Stop.
// Restartable after Stop.
func (s *SolanaIndexer) Start(ctx context.Context) error {
	if s.cfg.WsURL == "" {
		return errno.ErrNotConfigured.WithMessagef("solana ws_url is empty")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.txs = make(chan rawTransaction, 256)

	s.wg.Add(2)
	go s.listen(runCtx)
	go s.consume(runCtx)

	logger.Info("solana indexer started",
		zap.String("url", s.cfg.WsURL), zap.Int("programs", len(s.cfg.Programs)))
	return nil
}

// Stop tears down the connection and waits for both goroutines.
func (s *SolanaIndexer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.closeConn()
	s.wg.Wait()
}

func (s *SolanaIndexer) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// closeConn unblocks a pending read; the listener owns the redial.
func (s *SolanaIndexer) closeConn() {
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
}

// listen owns the websocket: dial, subscribe, read, and on any failure
// redial with backoff. RPC node unavailability therefore never kills the
// indexer. It never touches the database.
func (s *SolanaIndexer) listen(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.txs)

	backoff := time.Second
	for ctx.Err() == nil {
		conn, err := s.subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("solana ws connect failed",
				zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxReconnectBackoff {
				backoff *= 2
			}
			continue
		}

		backoff = time.Second
		s.setConn(conn)
		s.readPump(ctx, conn)
		conn.Close()
	}
}

// subscribe dials the node and issues one logsSubscribe per program.
func (s *SolanaIndexer) subscribe(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.WsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial solana ws: %w", err)
	}

	for i, program := range s.cfg.Programs {
		req := subscribeRequest{
			JsonRPC: "2.0",
			ID:      i + 1,
			Method:  "logsSubscribe",
			Params: []interface{}{
				map[string]interface{}{"mentions": []string{program}},
				map[string]interface{}{"commitment": "finalized"},
			},
		}
		if err := conn.WriteJSON(req); err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscribe to program %s: %w", program, err)
		}
	}
	return conn, nil
}

// readPump forwards transactions to the consumer channel until the
// connection breaks.
func (s *SolanaIndexer) readPump(ctx context.Context, conn *websocket.Conn) {
	for {
		var note logsNotification
		if err := conn.ReadJSON(&note); err != nil {
			if ctx.Err() == nil {
				logger.Error("solana ws read failed, reconnecting", zap.Error(err))
			}
			return
		}
		if note.Method != "logsNotification" {
			continue // subscription acks etc.
		}
		v := note.Params.Result.Value
		if len(v.Err) > 0 && string(v.Err) != "null" {
			continue // failed transactions carry no state
		}

		select {
		case s.txs <- rawTransaction{
			Signature: v.Signature,
			Slot:      note.Params.Result.Context.Slot,
			Logs:      v.Logs,
		}:
		case <-ctx.Done():
			return
		}
	}
}

// consume is the single writer: dedupe, persist, parse, process.
func (s *SolanaIndexer) consume(ctx context.Context) {
	defer s.wg.Done()

	for tx := range s.txs {
		if err := s.ingest(ctx, tx); err != nil {
			logger.Error("solana ingest failed",
				zap.String("signature", tx.Signature), zap.Error(err))
		}
	}
}

// ingest stores the raw transaction and runs its events through the
// processor. The raw row is kept even on processing failure so the
// transaction can be replayed.
func (s *SolanaIndexer) ingest(ctx context.Context, tx rawTransaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return err
	}

	row := model.BlockchainEvent{
		Chain:   model.ChainSolana,
		TxHash:  tx.Signature,
		Slot:    tx.Slot,
		Payload: payload,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil // seen before
	}

	return s.process(ctx, row.ID, tx)
}

func (s *SolanaIndexer) process(ctx context.Context, rowID uint64, tx rawTransaction) error {
	payloads, skipped := event.ParseLogs(s.cfg.LogMarker, tx.Logs)
	for _, name := range skipped {
		logger.Debug("solana: skipped log entry",
			zap.String("signature", tx.Signature), zap.String("entry", name))
	}

	for _, p := range payloads {
		ev := event.Event{
			Chain:   model.ChainSolana,
			TxHash:  tx.Signature,
			Slot:    tx.Slot,
			Payload: p,
		}
		if err := s.processor.Process(ctx, ev); err != nil {
			return fmt.Errorf("process %s from %s: %w", p.EventName(), tx.Signature, err)
		}
	}

	return s.db.WithContext(ctx).Model(&model.BlockchainEvent{}).
		Where("id = ?", rowID).
		Updates(map[string]interface{}{"processed": true, "updated_at": time.Now().UTC()}).Error
}

// ReplayTransaction re-runs a stored transaction through the processor.
// All handlers are idempotent, so replaying a processed transaction is
// harmless.
func (s *SolanaIndexer) ReplayTransaction(ctx context.Context, signature string) error {
	var row model.BlockchainEvent
	err := s.db.WithContext(ctx).
		First(&row, "chain = ? AND tx_hash = ?", model.ChainSolana, signature).Error
	if err != nil {
		return fmt.Errorf("transaction %s not indexed: %w", signature, err)
	}

	var tx rawTransaction
	if err := json.Unmarshal(row.Payload, &tx); err != nil {
		return fmt.Errorf("stored payload for %s: %w", signature, err)
	}
	return s.process(ctx, row.ID, tx)
}
