package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is the persisted row of a payment record.
type Payment struct {
	ID            string          `gorm:"column:id;primaryKey"`
	Status        string          `gorm:"column:status;not null;default:pending"`
	StatusDetail  string          `gorm:"column:status_detail"`
	PaymentMethod string          `gorm:"column:payment_method"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(12,2)"`
	CreatedAt     time.Time       `gorm:"column:created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}
