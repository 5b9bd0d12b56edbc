package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/olegin77/TUSD-sub001/internal/service"
)

// expireCmd 手动执行超时清扫
var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Run the stale-deposit expiry sweep once",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := connect()
		if err != nil {
			return err
		}

		deposits := service.NewDepositService(db, &cfg.Deposit)
		expired, err := deposits.ExpireStaleDeposits(context.Background(), time.Now().UTC())
		if err != nil {
			return err
		}
		fmt.Printf("expired %d deposits\n", expired)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(expireCmd)
}
