package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	mysqladapter "github.com/JoeShih716/go-credit-ledger/internal/app/credit/adapter/out/mysql"
	redisadapter "github.com/JoeShih716/go-credit-ledger/internal/app/credit/adapter/out/redis"
	"github.com/JoeShih716/go-credit-ledger/internal/config"
	"github.com/JoeShih716/go-credit-ledger/pkg/mysql"
	"github.com/JoeShih716/go-credit-ledger/pkg/redis"
)

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(setRateCmd)
	settingsCmd.AddCommand(getRateCmd)
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage runtime settings",
}

var setRateCmd = &cobra.Command{
	Use:   "set-rate RATE",
	Short: "Set the token to audit credit conversion rate",
	Long: `Write the conversion rate to the configured rate source (mysql or redis).
Running servers pick up the new value once their rate cache expires.`,
	Args: cobra.ExactArgs(1),
	RunE: runSetRate,
}

var getRateCmd = &cobra.Command{
	Use:   "get-rate",
	Short: "Show the configured conversion rate",
	RunE:  runGetRate,
}

// rateStore 可讀寫的轉換率來源
type rateStore interface {
	ConversionRate(ctx context.Context) (int64, bool, error)
	SetConversionRate(ctx context.Context, rate int64) error
}

// openRateStore 回傳的 close 需由呼叫端執行
func openRateStore(cfg *config.Config) (rateStore, func(), error) {
	switch cfg.Ledger.RateSource {
	case config.RateSourceMySQL:
		client, err := mysql.NewClient(cfg.MySQL, nil)
		if err != nil {
			return nil, nil, err
		}
		if err := mysqladapter.Migrate(client.DB()); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return mysqladapter.NewSettingsSource(client), func() { _ = client.Close() }, nil
	case config.RateSourceRedis:
		client, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return redisadapter.NewRateSource(client, cfg.Ledger.RateKey), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("rate source %q is not writable", cfg.Ledger.RateSource)
	}
}

func runSetRate(cmd *cobra.Command, args []string) error {
	rate, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid rate %q: %w", args[0], err)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, closeFn, err := openRateStore(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := store.SetConversionRate(cmd.Context(), rate); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "conversion rate set to %d (%s)\n", rate, cfg.Ledger.RateSource)
	return nil
}

func runGetRate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, closeFn, err := openRateStore(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	rate, ok, err := store.ConversionRate(cmd.Context())
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "not set, default %d\n", cfg.Ledger.DefaultRate)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d\n", rate)
	return nil
}
