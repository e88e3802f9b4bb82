package grpc

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/usecase"
)

// Server gRPC 入口，把請求轉給 LedgerService
type Server struct {
	ledger *usecase.LedgerService
	logger *zap.Logger
}

func NewServer(ledger *usecase.LedgerService, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		ledger: ledger,
		logger: logger.Named("grpc"),
	}
}

func (s *Server) Initialize(ctx context.Context, req *InitializeRequest) (*AccountResponse, error) {
	acc, err := s.ledger.Initialize(ctx, req.TenantID, req.Options.toDomain(s.ledger.InitDefaults()))
	return s.account(acc, err)
}

func (s *Server) GetAccount(ctx context.Context, req *TenantRequest) (*AccountResponse, error) {
	acc, err := s.ledger.GetAccount(ctx, req.TenantID)
	return s.account(acc, err)
}

func (s *Server) AddCredits(ctx context.Context, req *AddCreditsRequest) (*AccountResponse, error) {
	ct, err := domain.ParseCreditType(req.CreditType)
	if err != nil {
		return nil, s.toStatus(err)
	}
	var acc *domain.CreditAccount
	if ct == domain.CreditTypeAudit {
		acc, err = s.ledger.AddAuditCredits(ctx, req.TenantID, req.Amount, req.Reason, req.Actor)
	} else {
		acc, err = s.ledger.AddTokenCredits(ctx, req.TenantID, req.Amount, req.Reason, req.Actor)
	}
	return s.account(acc, err)
}

func (s *Server) PurchaseCredits(ctx context.Context, req *PurchaseCreditsRequest) (*AccountResponse, error) {
	ct, err := domain.ParseCreditType(req.CreditType)
	if err != nil {
		return nil, s.toStatus(err)
	}
	acc, err := s.ledger.PurchaseCredits(ctx, req.TenantID, ct, req.Amount, req.Reference, req.Actor)
	return s.account(acc, err)
}

func (s *Server) RefundAuditCredits(ctx context.Context, req *RefundRequest) (*AccountResponse, error) {
	acc, err := s.ledger.RefundAuditCredits(ctx, req.TenantID, req.Amount, req.Reference, req.Reason)
	return s.account(acc, err)
}

// UseAuditCredits 餘額不足時回傳 Success=false 與訊息，不回傳 RPC 錯誤
func (s *Server) UseAuditCredits(ctx context.Context, req *UseCreditsRequest) (*DebitResponse, error) {
	res, err := s.ledger.UseAuditCredits(ctx, req.TenantID, req.Amount, req.Reference)
	if err != nil {
		return nil, s.toStatus(err)
	}
	resp := &DebitResponse{Success: res.Success, Remaining: res.Remaining}
	if err := res.Err(); err != nil {
		resp.Message = err.Error()
	}
	return resp, nil
}

func (s *Server) UseTokenCredits(ctx context.Context, req *UseCreditsRequest) (*TokenDebitResponse, error) {
	res, err := s.ledger.UseTokenCredits(ctx, req.TenantID, req.Amount, req.Reference)
	if err != nil {
		return nil, s.toStatus(err)
	}
	resp := &TokenDebitResponse{
		Success:         res.Success,
		Remaining:       res.Remaining,
		CreditsConsumed: res.CreditsConsumed,
	}
	if err := res.Err(); err != nil {
		resp.Message = err.Error()
	}
	return resp, nil
}

func (s *Server) AdjustCredits(ctx context.Context, req *AdjustCreditsRequest) (*AccountResponse, error) {
	ct, err := domain.ParseCreditType(req.CreditType)
	if err != nil {
		return nil, s.toStatus(err)
	}
	acc, err := s.ledger.AdjustCredits(ctx, req.TenantID, ct, req.Delta, req.Reason, req.Actor)
	return s.account(acc, err)
}

func (s *Server) ExpireTrialCredits(ctx context.Context, req *ExpireTrialRequest) (*AccountResponse, error) {
	acc, err := s.ledger.ExpireTrialCredits(ctx, req.TenantID, req.Actor)
	return s.account(acc, err)
}

func (s *Server) UpdateInstanceType(ctx context.Context, req *UpdateInstanceTypeRequest) (*AccountResponse, error) {
	t, err := domain.ParseInstanceType(req.InstanceType)
	if err != nil {
		return nil, s.toStatus(err)
	}
	acc, err := s.ledger.UpdateInstanceType(ctx, req.TenantID, t, req.Actor)
	return s.account(acc, err)
}

func (s *Server) UpdateAlertSettings(ctx context.Context, req *UpdateAlertSettingsRequest) (*AccountResponse, error) {
	acc, err := s.ledger.UpdateAlertSettings(ctx, req.TenantID, req.Threshold, req.BlockOnExhausted)
	return s.account(acc, err)
}

func (s *Server) GetUsageSummary(ctx context.Context, req *TenantRequest) (*SummaryResponse, error) {
	summary, err := s.ledger.GetUsageSummary(ctx, req.TenantID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return &SummaryResponse{Summary: summary}, nil
}

func (s *Server) GetTransactions(ctx context.Context, req *GetTransactionsRequest) (*TransactionsResponse, error) {
	page, err := s.ledger.GetTransactions(ctx, req.toFilter())
	if err != nil {
		return nil, s.toStatus(err)
	}
	return &TransactionsResponse{
		Items:    page.Items,
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}, nil
}

func (s *Server) Reconcile(ctx context.Context, req *TenantRequest) (*ReconcileResponse, error) {
	report, err := s.ledger.Reconcile(ctx, req.TenantID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return &ReconcileResponse{Report: report, Consistent: report.Consistent()}, nil
}

func (s *Server) account(acc *domain.CreditAccount, err error) (*AccountResponse, error) {
	if err != nil {
		return nil, s.toStatus(err)
	}
	return &AccountResponse{Account: acc}, nil
}

// toStatus 把 domain 錯誤轉為 gRPC status
func (s *Server) toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidTenantID),
		errors.Is(err, domain.ErrInvalidCreditType),
		errors.Is(err, domain.ErrInvalidInstanceType),
		errors.Is(err, domain.ErrInvalidThreshold):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrTrialNotExpired):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		s.logger.Error("ledger call failed", zap.Error(err))
		return status.Error(codes.Internal, err.Error())
	}
}

var _ LedgerServiceServer = (*Server)(nil)
