package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	grpcadapter "github.com/JoeShih716/go-credit-ledger/internal/app/credit/adapter/in/grpc"
	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/domain"
	"github.com/JoeShih716/go-credit-ledger/pkg/grpc"
	"github.com/JoeShih716/go-credit-ledger/pkg/logger"
)

// result 壓測統計
type result struct {
	successes  int64
	rejections int64
	failures   int64
	elapsed    time.Duration
}

var rootCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Fire concurrent audit debits at one tenant and verify nothing is over-spent",
	Long: `loadtest initializes a fresh tenant with a fixed number of audit credits,
then sends more concurrent debits than the balance can cover. The run fails
if more debits succeed than credits existed or if the ledger does not
reconcile afterwards.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.String("addr", "localhost:50051", "Ledger gRPC server address")
	f.String("tenant", "", "Tenant id (default: random)")
	f.Int64("credits", 1000, "Audit credits to allocate")
	f.Int("requests", 5000, "Number of debit requests")
	f.Int("concurrency", 200, "Concurrent in-flight requests")
	f.Duration("timeout", 2*time.Minute, "Overall timeout")
}

func run(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	addr, _ := flags.GetString("addr")
	tenant, _ := flags.GetString("tenant")
	credits, _ := flags.GetInt64("credits")
	requests, _ := flags.GetInt("requests")
	concurrency, _ := flags.GetInt("concurrency")
	timeout, _ := flags.GetDuration("timeout")
	if tenant == "" {
		tenant = "loadtest-" + uuid.NewString()
	}

	log, err := logger.New(logger.DefaultConfig())
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	pool := grpc.NewPool(grpc.WithInterceptor(grpc.LoggingInterceptor(log)))
	defer pool.Close()
	conn, err := pool.GetConnection(addr)
	if err != nil {
		return err
	}
	client := grpcadapter.NewClient(conn)

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	// 1. 建立租戶
	if _, err := client.Initialize(ctx, &grpcadapter.InitializeRequest{
		TenantID: tenant,
		Options: &grpcadapter.InitOptions{
			InstanceType:     grpcadapter.Ptr(domain.InstanceTypeStandard.String()),
			AuditCredits:     grpcadapter.Ptr(credits),
			BlockOnExhausted: grpcadapter.Ptr(true),
		},
	}); err != nil {
		return fmt.Errorf("initialize %s: %w", tenant, err)
	}

	// 2. 併發扣款
	res := fire(ctx, client, tenant, requests, concurrency)
	fmt.Printf("Completed %d requests in %v\n", requests, res.elapsed)
	fmt.Printf("TPS: %.2f\n", float64(requests)/res.elapsed.Seconds())
	fmt.Printf("success=%d rejected=%d failed=%d\n", res.successes, res.rejections, res.failures)

	// 3. 驗證
	summary, err := client.GetUsageSummary(ctx, &grpcadapter.TenantRequest{TenantID: tenant})
	if err != nil {
		return err
	}
	rep, err := client.Reconcile(ctx, &grpcadapter.TenantRequest{TenantID: tenant})
	if err != nil {
		return err
	}
	log.Info("loadtest finished",
		zap.String("tenant_id", tenant),
		zap.Int64("remaining", summary.Summary.Audit.Remaining),
		zap.Bool("consistent", rep.Consistent),
	)

	if res.successes > credits {
		return fmt.Errorf("over-spent: %d debits succeeded with %d credits", res.successes, credits)
	}
	// 失敗的請求可能已在伺服器端提交，只在全部有回應時比對餘額
	if res.failures == 0 && summary.Summary.Audit.Remaining != credits-res.successes {
		return fmt.Errorf("balance %d does not match %d - %d", summary.Summary.Audit.Remaining, credits, res.successes)
	}
	if !rep.Consistent {
		return fmt.Errorf("ledger does not reconcile for %s", tenant)
	}
	return nil
}

func fire(ctx context.Context, client *grpcadapter.Client, tenant string, requests, concurrency int) result {
	var (
		res result
		wg  sync.WaitGroup
	)
	sem := make(chan struct{}, max(concurrency, 1))
	start := time.Now()

	for i := 0; i < requests; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			resp, err := client.UseAuditCredits(ctx, &grpcadapter.UseCreditsRequest{
				TenantID:  tenant,
				Amount:    1,
				Reference: fmt.Sprintf("call-%d", idx),
			})
			switch {
			case err != nil:
				atomic.AddInt64(&res.failures, 1)
			case resp.Success:
				atomic.AddInt64(&res.successes, 1)
			default:
				atomic.AddInt64(&res.rejections, 1)
			}
		}(i)
	}
	wg.Wait()
	res.elapsed = time.Since(start)
	return res
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
