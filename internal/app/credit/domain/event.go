package domain

import "time"

// EventName 帳本對外發出的事件名稱
type EventName string

const (
	EventLowCreditAlert   EventName = "low_credit_alert"
	EventCreditsExhausted EventName = "credits_exhausted"
)

// Event 帳本事件，傳遞方式由 EventSink 決定
type Event struct {
	Name       EventName      `json:"name"`
	TenantID   string         `json:"tenant_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewLowCreditAlert 低額度警示事件
func NewLowCreditAlert(tenantID string, percentage float64, threshold int64, now time.Time) Event {
	return Event{
		Name:     EventLowCreditAlert,
		TenantID: tenantID,
		Payload: map[string]any{
			"percentage": percentage,
			"threshold":  threshold,
		},
		OccurredAt: now,
	}
}

// NewCreditsExhausted 額度耗盡事件
func NewCreditsExhausted(tenantID string, ct CreditType, now time.Time) Event {
	return Event{
		Name:     EventCreditsExhausted,
		TenantID: tenantID,
		Payload: map[string]any{
			"credit_type": ct.String(),
		},
		OccurredAt: now,
	}
}
