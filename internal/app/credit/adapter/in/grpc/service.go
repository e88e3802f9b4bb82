package grpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName gRPC 服務全名
const ServiceName = "creditledger.v1.LedgerService"

// LedgerServiceServer gRPC 服務端介面，由 Server 實作
type LedgerServiceServer interface {
	Initialize(context.Context, *InitializeRequest) (*AccountResponse, error)
	GetAccount(context.Context, *TenantRequest) (*AccountResponse, error)
	AddCredits(context.Context, *AddCreditsRequest) (*AccountResponse, error)
	PurchaseCredits(context.Context, *PurchaseCreditsRequest) (*AccountResponse, error)
	RefundAuditCredits(context.Context, *RefundRequest) (*AccountResponse, error)
	UseAuditCredits(context.Context, *UseCreditsRequest) (*DebitResponse, error)
	UseTokenCredits(context.Context, *UseCreditsRequest) (*TokenDebitResponse, error)
	AdjustCredits(context.Context, *AdjustCreditsRequest) (*AccountResponse, error)
	ExpireTrialCredits(context.Context, *ExpireTrialRequest) (*AccountResponse, error)
	UpdateInstanceType(context.Context, *UpdateInstanceTypeRequest) (*AccountResponse, error)
	UpdateAlertSettings(context.Context, *UpdateAlertSettingsRequest) (*AccountResponse, error)
	GetUsageSummary(context.Context, *TenantRequest) (*SummaryResponse, error)
	GetTransactions(context.Context, *GetTransactionsRequest) (*TransactionsResponse, error)
	Reconcile(context.Context, *TenantRequest) (*ReconcileResponse, error)
}

// ServiceDesc 手寫的服務描述，訊息以 JSON codec 編碼
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Initialize", LedgerServiceServer.Initialize),
		unary("GetAccount", LedgerServiceServer.GetAccount),
		unary("AddCredits", LedgerServiceServer.AddCredits),
		unary("PurchaseCredits", LedgerServiceServer.PurchaseCredits),
		unary("RefundAuditCredits", LedgerServiceServer.RefundAuditCredits),
		unary("UseAuditCredits", LedgerServiceServer.UseAuditCredits),
		unary("UseTokenCredits", LedgerServiceServer.UseTokenCredits),
		unary("AdjustCredits", LedgerServiceServer.AdjustCredits),
		unary("ExpireTrialCredits", LedgerServiceServer.ExpireTrialCredits),
		unary("UpdateInstanceType", LedgerServiceServer.UpdateInstanceType),
		unary("UpdateAlertSettings", LedgerServiceServer.UpdateAlertSettings),
		unary("GetUsageSummary", LedgerServiceServer.GetUsageSummary),
		unary("GetTransactions", LedgerServiceServer.GetTransactions),
		unary("Reconcile", LedgerServiceServer.Reconcile),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "creditledger/v1/ledger.json",
}

// RegisterLedgerServiceServer 註冊服務到 grpc.Server
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary 產生單一方法的 handler，解碼請求後經過 interceptor 呼叫 call
func unary[Req, Resp any](method string, call func(LedgerServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod(method),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}
