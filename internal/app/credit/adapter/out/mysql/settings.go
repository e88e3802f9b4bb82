package mysql

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/usecase"
	"github.com/JoeShih716/go-credit-ledger/pkg/mysql"
)

// ConversionRateKey settings 表中 token 轉換率的 key
const ConversionRateKey = "audit_token_conversion_rate"

// SettingsSource 從 settings 表讀取轉換率
type SettingsSource struct {
	client *mysql.Client
}

func NewSettingsSource(client *mysql.Client) *SettingsSource {
	return &SettingsSource{client: client}
}

// ConversionRate 未設定時回傳 ok=false；值無法解析時回傳錯誤
func (s *SettingsSource) ConversionRate(ctx context.Context) (int64, bool, error) {
	var row sqlSetting
	err := s.client.DB().WithContext(ctx).Where(&sqlSetting{Key: ConversionRateKey}).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	rate, err := strconv.ParseInt(row.Value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s=%q: %w", ConversionRateKey, row.Value, err)
	}
	return rate, true, nil
}

// SetConversionRate 寫入轉換率 (upsert)
func (s *SettingsSource) SetConversionRate(ctx context.Context, rate int64) error {
	if rate <= 0 {
		return fmt.Errorf("conversion rate must be positive: %d", rate)
	}
	row := sqlSetting{Key: ConversionRateKey, Value: strconv.FormatInt(rate, 10), UpdatedAt: time.Now().UTC()}
	return s.client.DB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&row).Error
}

var _ usecase.RateSource = (*SettingsSource)(nil)
