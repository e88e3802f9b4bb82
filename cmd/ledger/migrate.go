package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	mysqladapter "github.com/JoeShih716/go-credit-ledger/internal/app/credit/adapter/out/mysql"
	"github.com/JoeShih716/go-credit-ledger/pkg/logger"
	"github.com/JoeShih716/go-credit-ledger/pkg/mysql"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	client, err := mysql.NewClient(cfg.MySQL, log)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer client.Close()

	if err := mysqladapter.Migrate(client.DB()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("migration completed", zap.String("driver", cfg.MySQL.Driver))
	return nil
}
