package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	grpcadapter "github.com/JoeShih716/go-credit-ledger/internal/app/credit/adapter/in/grpc"
	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/domain"
	"github.com/JoeShih716/go-credit-ledger/pkg/grpc"
)

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.PersistentFlags().String("addr", "localhost:50051", "Ledger gRPC server address")
	accountCmd.PersistentFlags().Duration("timeout", 5*time.Second, "Request timeout")

	accountCmd.AddCommand(accountInitCmd, accountAddCmd, accountPurchaseCmd, accountRefundCmd,
		accountUseCmd, accountAdjustCmd, accountExpireCmd, accountSetTypeCmd, accountAlertsCmd,
		accountSummaryCmd, accountTransactionsCmd, accountReconcileCmd)

	d := domain.DefaultInitOptions()
	registerInitFlags(accountInitCmd)

	for _, c := range []*cobra.Command{accountAddCmd, accountPurchaseCmd, accountUseCmd, accountAdjustCmd} {
		c.Flags().StringP("type", "t", domain.CreditTypeAudit.String(), "Credit type: audit or token")
	}
	for _, c := range []*cobra.Command{accountAddCmd, accountRefundCmd, accountAdjustCmd} {
		c.Flags().String("reason", "", "Reason recorded on the ledger entry")
	}
	for _, c := range []*cobra.Command{accountPurchaseCmd, accountRefundCmd, accountUseCmd} {
		c.Flags().String("reference", "", "External reference (call id, invoice)")
	}
	for _, c := range []*cobra.Command{accountAddCmd, accountPurchaseCmd, accountAdjustCmd, accountExpireCmd, accountSetTypeCmd} {
		c.Flags().String("actor", "cli", "Operator recorded on the ledger entry")
	}
	accountAdjustCmd.Flags().Int64("delta", 0, "Signed balance change")
	accountAlertsCmd.Flags().Int64("threshold", d.AlertThreshold, "Low credit alert threshold (percent)")
	accountAlertsCmd.Flags().Bool("block", d.BlockOnExhausted, "Reject debits once credits are exhausted")
	accountTransactionsCmd.Flags().StringP("type", "t", "", "Filter by credit type")
	accountTransactionsCmd.Flags().Int("page", 1, "Page number")
	accountTransactionsCmd.Flags().Int("page-size", 20, "Page size (max 100)")
	accountTransactionsCmd.Flags().String("from", "", "Start time (RFC3339, inclusive)")
	accountTransactionsCmd.Flags().String("to", "", "End time (RFC3339, exclusive)")
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Operate on tenant credit accounts through a running server",
}

var accountInitCmd = &cobra.Command{
	Use:   "init TENANT_ID",
	Short: "Initialize a tenant account (idempotent)",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(ctx context.Context, cmd *cobra.Command, c *grpcadapter.Client, args []string) (any, error) {
		return c.Initialize(ctx, &grpcadapter.InitializeRequest{
			TenantID: args[0],
			Options:  initOptionsFromFlags(cmd),
		})
	}),
}

// registerInitFlags 未指定的 init flag 不送出，改用伺服器的 ledger.init_defaults
func registerInitFlags(c *cobra.Command) {
	c.Flags().String("instance-type", "", "trial, standard or enterprise (server default when omitted)")
	c.Flags().Int("trial-days", 0, "Trial length in days (server default when omitted)")
	c.Flags().Int64("audits", 0, "Initial audit credits (server default when omitted)")
	c.Flags().Int64("tokens", 0, "Initial token credits (server default when omitted)")
	c.Flags().Int64("threshold", 0, "Low credit alert threshold in percent (server default when omitted)")
	c.Flags().Bool("block", false, "Reject debits once credits are exhausted (server default when omitted)")
}

// initOptionsFromFlags 只帶有指定的 flag，其餘由伺服器的 init_defaults 決定
func initOptionsFromFlags(cmd *cobra.Command) *grpcadapter.InitOptions {
	flags := cmd.Flags()
	var (
		opts grpcadapter.InitOptions
		set  bool
	)
	if flags.Changed("instance-type") {
		v, _ := flags.GetString("instance-type")
		opts.InstanceType, set = &v, true
	}
	if flags.Changed("trial-days") {
		v, _ := flags.GetInt("trial-days")
		opts.TrialDays, set = &v, true
	}
	if flags.Changed("audits") {
		v, _ := flags.GetInt64("audits")
		opts.AuditCredits, set = &v, true
	}
	if flags.Changed("tokens") {
		v, _ := flags.GetInt64("tokens")
		opts.TokenCredits, set = &v, true
	}
	if flags.Changed("threshold") {
		v, _ := flags.GetInt64("threshold")
		opts.AlertThreshold, set = &v, true
	}
	if flags.Changed("block") {
		v, _ := flags.GetBool("block")
		opts.BlockOnExhausted, set = &v, true
	}
	if !set {
		return nil
	}
	return &opts
}

var accountAddCmd = &cobra.Command{
	Use:   "add TENANT_ID AMOUNT",
	Short: "Add credits and reset the low credit alert",
	Args:  cobra.ExactArgs(2),
	RunE: withClient(func(ctx context.Context, cmd *cobra.Command, c *grpcadapter.Client, args []string) (any, error) {
		amount, err := parseAmount(args[1])
		if err != nil {
			return nil, err
		}
		ct, _ := cmd.Flags().GetString("type")
		reason, _ := cmd.Flags().GetString("reason")
		actor, _ := cmd.Flags().GetString("actor")
		return c.AddCredits(ctx, &grpcadapter.AddCreditsRequest{
			TenantID: args[0], CreditType: ct, Amount: amount, Reason: reason, Actor: actor,
		})
	}),
}

var accountPurchaseCmd = &cobra.Command{
	Use:   "purchase TENANT_ID AMOUNT",
	Short: "Record a credit purchase",
	Args:  cobra.ExactArgs(2),
	RunE: withClient(func(ctx context.Context, cmd *cobra.Command, c *grpcadapter.Client, args []string) (any, error) {
		amount, err := parseAmount(args[1])
		if err != nil {
			return nil, err
		}
		ct, _ := cmd.Flags().GetString("type")
		ref, _ := cmd.Flags().GetString("reference")
		actor, _ := cmd.Flags().GetString("actor")
		return c.PurchaseCredits(ctx, &grpcadapter.PurchaseCreditsRequest{
			TenantID: args[0], CreditType: ct, Amount: amount, Reference: ref, Actor: actor,
		})
	}),
}

var accountRefundCmd = &cobra.Command{
	Use:   "refund TENANT_ID AMOUNT",
	Short: "Refund audit credits",
	Args:  cobra.ExactArgs(2),
	RunE: withClient(func(ctx context.Context, cmd *cobra.Command, c *grpcadapter.Client, args []string) (any, error) {
		amount, err := parseAmount(args[1])
		if err != nil {
			return nil, err
		}
		ref, _ := cmd.Flags().GetString("reference")
		reason, _ := cmd.Flags().GetString("reason")
		return c.RefundAuditCredits(ctx, &grpcadapter.RefundRequest{
			TenantID: args[0], Amount: amount, Reference: ref, Reason: reason,
		})
	}),
}

var accountUseCmd = &cobra.Command{
	Use:   "use TENANT_ID AMOUNT",
	Short: "Debit audit credits or tokens",
	Args:  cobra.ExactArgs(2),
	RunE: withClient(func(ctx context.Context, cmd *cobra.Command, c *grpcadapter.Client, args []string) (any, error) {
		amount, err := parseAmount(args[1])
		if err != nil {
			return nil, err
		}
		ct, _ := cmd.Flags().GetString("type")
		ref, _ := cmd.Flags().GetString("reference")
		req := &grpcadapter.UseCreditsRequest{TenantID: args[0], Amount: amount, Reference: ref}
		switch domain.CreditType(ct) {
		case domain.CreditTypeAudit:
			return c.UseAuditCredits(ctx, req)
		case domain.CreditTypeToken:
			return c.UseTokenCredits(ctx, req)
		default:
			return nil, fmt.Errorf("%w: %q", domain.ErrInvalidCreditType, ct)
		}
	}),
}

var accountAdjustCmd = &cobra.Command{
	Use:   "adjust TENANT_ID --delta N",
	Short: "Apply a signed administrative adjustment",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(ctx context.Context, cmd *cobra.Command, c *grpcadapter.Client, args []string) (any, error) {
		ct, _ := cmd.Flags().GetString("type")
		delta, _ := cmd.Flags().GetInt64("delta")
		reason, _ := cmd.Flags().GetString("reason")
		actor, _ := cmd.Flags().GetString("actor")
		return c.AdjustCredits(ctx, &grpcadapter.AdjustCreditsRequest{
			TenantID: args[0], CreditType: ct, Delta: delta, Reason: reason, Actor: actor,
		})
	}),
}

var accountExpireCmd = &cobra.Command{
	Use:   "expire TENANT_ID",
	Short: "Zero the balances of an expired trial",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(ctx context.Context, cmd *cobra.Command, c *grpcadapter.Client, args []string) (any, error) {
		actor, _ := cmd.Flags().GetString("actor")
		return c.ExpireTrialCredits(ctx, &grpcadapter.ExpireTrialRequest{TenantID: args[0], Actor: actor})
	}),
}

var accountSetTypeCmd = &cobra.Command{
	Use:   "set-type TENANT_ID INSTANCE_TYPE",
	Short: "Change the instance type (trial, standard, enterprise)",
	Args:  cobra.ExactArgs(2),
	RunE: withClient(func(ctx context.Context, cmd *cobra.Command, c *grpcadapter.Client, args []string) (any, error) {
		actor, _ := cmd.Flags().GetString("actor")
		return c.UpdateInstanceType(ctx, &grpcadapter.UpdateInstanceTypeRequest{
			TenantID: args[0], InstanceType: args[1], Actor: actor,
		})
	}),
}

var accountAlertsCmd = &cobra.Command{
	Use:   "alerts TENANT_ID",
	Short: "Update the alert threshold and exhaustion blocking",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(ctx context.Context, cmd *cobra.Command, c *grpcadapter.Client, args []string) (any, error) {
		threshold, _ := cmd.Flags().GetInt64("threshold")
		block, _ := cmd.Flags().GetBool("block")
		return c.UpdateAlertSettings(ctx, &grpcadapter.UpdateAlertSettingsRequest{
			TenantID: args[0], Threshold: threshold, BlockOnExhausted: block,
		})
	}),
}

var accountSummaryCmd = &cobra.Command{
	Use:   "summary TENANT_ID",
	Short: "Show the usage summary",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(ctx context.Context, _ *cobra.Command, c *grpcadapter.Client, args []string) (any, error) {
		return c.GetUsageSummary(ctx, &grpcadapter.TenantRequest{TenantID: args[0]})
	}),
}

var accountTransactionsCmd = &cobra.Command{
	Use:   "transactions TENANT_ID",
	Short: "List ledger entries, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(ctx context.Context, cmd *cobra.Command, c *grpcadapter.Client, args []string) (any, error) {
		flags := cmd.Flags()
		ct, _ := flags.GetString("type")
		page, _ := flags.GetInt("page")
		size, _ := flags.GetInt("page-size")
		req := &grpcadapter.GetTransactionsRequest{TenantID: args[0], CreditType: ct, Page: page, PageSize: size}

		var err error
		if req.From, err = parseTimeFlag(cmd, "from"); err != nil {
			return nil, err
		}
		if req.To, err = parseTimeFlag(cmd, "to"); err != nil {
			return nil, err
		}
		return c.GetTransactions(ctx, req)
	}),
}

var accountReconcileCmd = &cobra.Command{
	Use:   "reconcile TENANT_ID",
	Short: "Replay the ledger and compare with the stored balances",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(ctx context.Context, _ *cobra.Command, c *grpcadapter.Client, args []string) (any, error) {
		resp, err := c.Reconcile(ctx, &grpcadapter.TenantRequest{TenantID: args[0]})
		if err != nil {
			return nil, err
		}
		if !resp.Consistent {
			return resp, fmt.Errorf("%w: tenant %s", errLedgerMismatch, args[0])
		}
		return resp, nil
	}),
}

// errLedgerMismatch 對帳不一致，仍輸出報告
var errLedgerMismatch = errors.New("ledger mismatch")

type clientFunc func(ctx context.Context, cmd *cobra.Command, c *grpcadapter.Client, args []string) (any, error)

// withClient 建立連線、套用 timeout，並把回應以 JSON 輸出
func withClient(fn clientFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		pool := grpc.NewPool()
		defer pool.Close()
		conn, err := pool.GetConnection(addr)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		resp, err := fn(ctx, cmd, grpcadapter.NewClient(conn), args)
		if err == nil || errors.Is(err, errLedgerMismatch) {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(resp); encErr != nil && err == nil {
				err = encErr
			}
		}
		return err
	}
}

func parseAmount(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, s)
	}
	return n, nil
}

func parseTimeFlag(cmd *cobra.Command, name string) (*time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &t, nil
}
