package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/olegin77/TUSD-sub001/pkg/config"
	"github.com/olegin77/TUSD-sub001/pkg/database"
	"github.com/olegin77/TUSD-sub001/pkg/logger"
)

// rootCmd 运维命令行工具
var rootCmd = &cobra.Command{
	Use:   "vaultctl",
	Short: "Operational tooling for the vault deposit backend",
	Long: `vaultctl runs one-off operational tasks against the vault
deposit backend: replaying indexed transactions, sweeping expired
deposits and inspecting deposit state.`,
}

// Execute 将所有子命令添加到根命令并设置标志
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// connect loads config and opens the database for a subcommand.
func connect() (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger.Init(cfg.App.Env)

	db, err := database.ConnectPostgres(cfg.DB.DSN())
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}
