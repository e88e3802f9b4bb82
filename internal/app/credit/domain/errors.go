package domain

import "errors"

var (
	// ErrInsufficientCredits 餘額不足且帳戶設定為耗盡即阻擋
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrAccountNotFound 找不到租戶帳戶 (與餘額為 0 不同)
	ErrAccountNotFound = errors.New("credit account not found")

	// ErrAccountAlreadyExists 帳戶已存在 (store 層唯一鍵衝突)
	ErrAccountAlreadyExists = errors.New("credit account already exists")

	// ErrInvalidAmount 金額不合法
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidTenantID 租戶 ID 為空
	ErrInvalidTenantID = errors.New("invalid tenant id")

	// ErrInvalidCreditType 未知的額度種類
	ErrInvalidCreditType = errors.New("invalid credit type")

	// ErrInvalidInstanceType 未知的方案
	ErrInvalidInstanceType = errors.New("invalid instance type")

	// ErrInvalidThreshold 警示門檻必須介於 0~100
	ErrInvalidThreshold = errors.New("invalid alert threshold")

	// ErrTrialNotExpired 試用尚未到期 (或非試用帳戶)
	ErrTrialNotExpired = errors.New("trial not expired")

	// ErrConversionRateUnavailable 取不到轉換率，呼叫端改用預設值
	ErrConversionRateUnavailable = errors.New("conversion rate unavailable")

	// ErrSyncFailure 推送用量到租戶目錄失敗，不影響帳本
	ErrSyncFailure = errors.New("instance sync failure")
)
