package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JoeShih716/go-credit-ledger/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Multi-tenant credit ledger for call-center audits",
	Long: `ledger tracks audit credits and AI token credits per tenant.
Every balance change is written to an append-only ledger in the same
atomic unit as the account update. Run "ledger serve" to start the gRPC
service, and use the account commands to operate on a running server.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultPath, "Path to config file")
}

// loadConfig 讀取 --config 指定的設定檔
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
