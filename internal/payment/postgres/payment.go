package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/pix-payments/internal/core/datamodel/payment"
	paymentpkg "github.com/frahmantamala/pix-payments/internal/payment"
)

// PaymentStore keeps payment records in a SQL table through gorm. It serves
// both postgres and sqlite.
type PaymentStore struct {
	db *gorm.DB
}

func NewPaymentStore(db *gorm.DB) *PaymentStore {
	return &PaymentStore{
		db: db,
	}
}

func (r *PaymentStore) Put(ctx context.Context, record *paymentpkg.Record) error {
	row := toRow(record)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "status_detail", "payment_method", "amount", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert payment %s: %w", record.ID, err)
	}
	return nil
}

func (r *PaymentStore) Get(ctx context.Context, id string) (*paymentpkg.Record, error) {
	var p payment.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, paymentpkg.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to load payment %s: %w", id, err)
	}
	return fromRow(&p), nil
}

func toRow(r *paymentpkg.Record) payment.Payment {
	return payment.Payment{
		ID:            r.ID,
		Status:        string(r.Status),
		StatusDetail:  r.StatusDetail,
		PaymentMethod: r.Method,
		Amount:        r.Amount,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func fromRow(p *payment.Payment) *paymentpkg.Record {
	return &paymentpkg.Record{
		ID:           p.ID,
		Status:       paymentpkg.Status(p.Status),
		StatusDetail: p.StatusDetail,
		Method:       p.PaymentMethod,
		Amount:       p.Amount,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}
