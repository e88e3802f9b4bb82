package grpc

import (
	"context"

	"google.golang.org/grpc"
)

// Client LedgerService 的 gRPC 客戶端 (JSON codec)
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.conn.Invoke(ctx, fullMethod(method), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Initialize(ctx context.Context, req *InitializeRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, c, "Initialize", req, opts...)
}

func (c *Client) GetAccount(ctx context.Context, req *TenantRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, c, "GetAccount", req, opts...)
}

func (c *Client) AddCredits(ctx context.Context, req *AddCreditsRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, c, "AddCredits", req, opts...)
}

func (c *Client) PurchaseCredits(ctx context.Context, req *PurchaseCreditsRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, c, "PurchaseCredits", req, opts...)
}

func (c *Client) RefundAuditCredits(ctx context.Context, req *RefundRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, c, "RefundAuditCredits", req, opts...)
}

func (c *Client) UseAuditCredits(ctx context.Context, req *UseCreditsRequest, opts ...grpc.CallOption) (*DebitResponse, error) {
	return invoke[DebitResponse](ctx, c, "UseAuditCredits", req, opts...)
}

func (c *Client) UseTokenCredits(ctx context.Context, req *UseCreditsRequest, opts ...grpc.CallOption) (*TokenDebitResponse, error) {
	return invoke[TokenDebitResponse](ctx, c, "UseTokenCredits", req, opts...)
}

func (c *Client) AdjustCredits(ctx context.Context, req *AdjustCreditsRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, c, "AdjustCredits", req, opts...)
}

func (c *Client) ExpireTrialCredits(ctx context.Context, req *ExpireTrialRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, c, "ExpireTrialCredits", req, opts...)
}

func (c *Client) UpdateInstanceType(ctx context.Context, req *UpdateInstanceTypeRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, c, "UpdateInstanceType", req, opts...)
}

func (c *Client) UpdateAlertSettings(ctx context.Context, req *UpdateAlertSettingsRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, c, "UpdateAlertSettings", req, opts...)
}

func (c *Client) GetUsageSummary(ctx context.Context, req *TenantRequest, opts ...grpc.CallOption) (*SummaryResponse, error) {
	return invoke[SummaryResponse](ctx, c, "GetUsageSummary", req, opts...)
}

func (c *Client) GetTransactions(ctx context.Context, req *GetTransactionsRequest, opts ...grpc.CallOption) (*TransactionsResponse, error) {
	return invoke[TransactionsResponse](ctx, c, "GetTransactions", req, opts...)
}

func (c *Client) Reconcile(ctx context.Context, req *TenantRequest, opts ...grpc.CallOption) (*ReconcileResponse, error) {
	return invoke[ReconcileResponse](ctx, c, "Reconcile", req, opts...)
}
