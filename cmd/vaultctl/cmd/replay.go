package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/olegin77/TUSD-sub001/internal/event"
	"github.com/olegin77/TUSD-sub001/internal/model"
	"github.com/olegin77/TUSD-sub001/internal/service"
	"github.com/olegin77/TUSD-sub001/internal/service/indexer"
	"github.com/olegin77/TUSD-sub001/internal/service/oracle"
	"github.com/olegin77/TUSD-sub001/pkg/cache"
	"github.com/olegin77/TUSD-sub001/pkg/config"
)

// replayCmd 重放一笔已索引的链上交易
var replayCmd = &cobra.Command{
	Use:   "replay <chain> <tx>",
	Short: "Re-run a stored on-chain transaction through its processing path",
	Long: `replay loads a raw indexed transaction from the database and feeds it
back through the same path the indexer used, picking up events that
failed on first delivery. <chain> is "solana" or "ethereum".`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := connect()
		if err != nil {
			return err
		}
		ctx := context.Background()

		switch args[0] {
		case model.ChainSolana:
			err = replaySolana(ctx, cfg, db, args[1])
		case model.ChainEthereum:
			err = replayEthereum(ctx, cfg, db, args[1])
		default:
			return fmt.Errorf("unknown chain %q", args[0])
		}
		if err != nil {
			return err
		}
		fmt.Printf("replayed %s %s\n", args[0], args[1])
		return nil
	},
}

func replaySolana(ctx context.Context, cfg *config.Config, db *gorm.DB, signature string) error {
	prices := oracle.New(db, cache.NewMemoryCache(cfg.Oracle.HotCacheTTL, cfg.Oracle.HotCacheTTL), &cfg.Oracle)
	boost := service.NewBoostService(db, prices)
	processor := service.NewEventProcessor(db, boost)

	idx := indexer.NewSolanaIndexer(&cfg.Solana, db, processor)
	return idx.ReplayTransaction(ctx, signature)
}

func replayEthereum(ctx context.Context, cfg *config.Config, db *gorm.DB, txHash string) error {
	var row model.BlockchainEvent
	if err := db.WithContext(ctx).
		First(&row, "chain = ? AND tx_hash = ?", model.ChainEthereum, txHash).Error; err != nil {
		return fmt.Errorf("load stored transaction %s: %w", txHash, err)
	}

	var payload event.DepositConfirmed
	if err := json.Unmarshal(row.Payload, &payload); err != nil {
		return fmt.Errorf("decode stored payload: %w", err)
	}

	prices := oracle.New(db, cache.NewMemoryCache(cfg.Oracle.HotCacheTTL, cfg.Oracle.HotCacheTTL), &cfg.Oracle)
	boost := service.NewBoostService(db, prices)
	deposits := service.NewDepositService(db, &cfg.Deposit)
	processor := service.NewEventProcessor(db, boost)
	bridge := service.NewBridgeService(db, deposits, processor, &cfg.Bridge)

	ev := event.Event{
		Chain:   model.ChainEthereum,
		TxHash:  row.TxHash,
		Slot:    row.Slot,
		Payload: payload,
	}
	if err := bridge.HandleDepositConfirmed(ctx, ev, payload); err != nil {
		return err
	}
	return db.WithContext(ctx).Model(&model.BlockchainEvent{}).
		Where("id = ?", row.ID).
		Update("processed", true).Error
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
