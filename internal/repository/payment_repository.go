package repository

import (
	"context"
	"errors"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain"
	paymentDomain "github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/payment"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentRepositoryImpl is the GORM-based implementation of PaymentRepository.
type PaymentRepositoryImpl struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new GORM-based payment repository.
func NewPaymentRepository(db *gorm.DB) *PaymentRepositoryImpl {
	return &PaymentRepositoryImpl{db: db}
}

func preloadTransactions(db *gorm.DB) *gorm.DB {
	return db.Preload("Transactions", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("position ASC")
	})
}

// GetPayment retrieves a payment and its transactions by ID.
func (r *PaymentRepositoryImpl) GetPayment(ctx context.Context, id uuid.UUID) (*paymentDomain.Payment, error) {
	var model PaymentModel
	if err := preloadTransactions(r.db.WithContext(ctx)).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("payment", id.String())
		}
		return nil, err
	}
	return toDomain(&model), nil
}

// CreatePayment persists a new payment built from the draft.
func (r *PaymentRepositoryImpl) CreatePayment(ctx context.Context, draft paymentDomain.PaymentDraft) (*paymentDomain.Payment, error) {
	p := paymentDomain.NewPayment(draft)
	model := toModel(p)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePayment applies one transaction to the stored payment. The payment
// row is written only while its version is unchanged; otherwise a CONFLICT
// error is returned and the caller reloads.
func (r *PaymentRepositoryImpl) UpdatePayment(ctx context.Context, update paymentDomain.PaymentUpdate) (*paymentDomain.Payment, error) {
	var updated *paymentDomain.Payment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model PaymentModel
		if err := preloadTransactions(tx).Where("id = ?", update.ID).First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NewNotFoundError("payment", update.ID.String())
			}
			return err
		}

		p := toDomain(&model)
		previousVersion := p.Version()
		if !p.Apply(update) {
			updated = p
			return nil
		}
		p.IncrementVersion()

		next := toModel(p)
		result := tx.Model(&PaymentModel{}).
			Where("id = ? AND version = ?", next.ID, previousVersion).
			Updates(map[string]interface{}{
				"interface_id":   next.InterfaceID,
				"payment_method": next.PaymentMethod,
				"version":        next.Version,
				"updated_at":     next.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.NewConflictError("payment was modified by another transaction")
		}

		if len(next.Transactions) == 0 {
			updated = p
			return nil
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "interaction_id", "timestamp"}),
		}).Create(&next.Transactions).Error; err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// FindPaymentsByInterfaceID returns all payments whose PSP reference equals interfaceID.
func (r *PaymentRepositoryImpl) FindPaymentsByInterfaceID(ctx context.Context, interfaceID string) ([]*paymentDomain.Payment, error) {
	var models []PaymentModel
	if err := preloadTransactions(r.db.WithContext(ctx)).
		Where("interface_id = ?", interfaceID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	payments := make([]*paymentDomain.Payment, len(models))
	for i := range models {
		payments[i] = toDomain(&models[i])
	}
	return payments, nil
}

// toDomain maps a PaymentModel to the domain Payment aggregate.
func toDomain(model *PaymentModel) *paymentDomain.Payment {
	txs := make([]paymentDomain.Transaction, len(model.Transactions))
	for i, t := range model.Transactions {
		txs[i] = paymentDomain.Transaction{
			ID:            t.ID,
			Type:          paymentDomain.TransactionType(t.Type),
			State:         paymentDomain.TransactionState(t.State),
			Amount:        paymentDomain.Money{CurrencyCode: t.Currency, CentAmount: t.AmountCents},
			InteractionID: t.InteractionID,
			Timestamp:     t.Timestamp,
		}
	}
	return paymentDomain.Reconstitute(
		model.ID,
		paymentDomain.Money{CurrencyCode: model.Currency, CentAmount: model.AmountCents},
		model.InterfaceID,
		paymentDomain.PaymentMethodInfo{PaymentInterface: model.PaymentInterface, Method: model.PaymentMethod},
		model.CustomerID,
		model.AnonymousID,
		txs,
		model.Version,
		model.CreatedAt,
		model.UpdatedAt,
	)
}

// toModel maps a domain Payment aggregate to a PaymentModel for persistence.
func toModel(p *paymentDomain.Payment) *PaymentModel {
	txs := p.Transactions()
	models := make([]TransactionModel, len(txs))
	for i, t := range txs {
		models[i] = TransactionModel{
			ID:            t.ID,
			PaymentID:     p.ID(),
			Position:      i,
			Type:          string(t.Type),
			State:         string(t.State),
			AmountCents:   t.Amount.CentAmount,
			Currency:      t.Amount.CurrencyCode,
			InteractionID: t.InteractionID,
			Timestamp:     t.Timestamp,
		}
	}
	return &PaymentModel{
		ID:               p.ID(),
		AmountCents:      p.AmountPlanned().CentAmount,
		Currency:         p.AmountPlanned().CurrencyCode,
		InterfaceID:      p.InterfaceID(),
		PaymentInterface: p.PaymentMethodInfo().PaymentInterface,
		PaymentMethod:    p.PaymentMethodInfo().Method,
		CustomerID:       p.CustomerID(),
		AnonymousID:      p.AnonymousID(),
		Version:          p.Version(),
		CreatedAt:        p.CreatedAt(),
		UpdatedAt:        p.UpdatedAt(),
		Transactions:     models,
	}
}
