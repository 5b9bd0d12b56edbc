package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/olegin77/TUSD-sub001/internal/service"
)

// depositCmd 查询入金状态
var depositCmd = &cobra.Command{
	Use:   "deposit <id>",
	Short: "Print one deposit's current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid deposit id %q", args[0])
		}

		cfg, db, err := connect()
		if err != nil {
			return err
		}

		deposits := service.NewDepositService(db, &cfg.Deposit)
		deposit, err := deposits.GetDeposit(context.Background(), id)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(deposit, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(depositCmd)
}
