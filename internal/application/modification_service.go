package application

import (
	"context"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/adapter"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/payment"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/metrics"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/saga"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ModificationAction is the closed set of payment modifications.
type ModificationAction string

const (
	ActionCapturePayment ModificationAction = "capturePayment"
	ActionCancelPayment  ModificationAction = "cancelPayment"
	ActionRefundPayment  ModificationAction = "refundPayment"
)

// ParseModificationAction rejects unknown action strings with an InvalidOperation error.
func ParseModificationAction(s string) (ModificationAction, error) {
	switch a := ModificationAction(s); a {
	case ActionCapturePayment, ActionCancelPayment, ActionRefundPayment:
		return a, nil
	default:
		return "", domain.NewInvalidOperationError(s)
	}
}

// TransactionType is the transaction a modification records.
func (a ModificationAction) TransactionType() payment.TransactionType {
	switch a {
	case ActionCapturePayment:
		return payment.TransactionCharge
	case ActionCancelPayment:
		return payment.TransactionCancelAuthorization
	default:
		return payment.TransactionRefund
	}
}

// Outcome is how the PSP resolved a modification.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeReceived Outcome = "received"
	OutcomeRejected Outcome = "rejected"
)

// State maps an outcome onto the transaction state it is recorded with.
func (o Outcome) State() payment.TransactionState {
	switch o {
	case OutcomeApproved:
		return payment.StateSuccess
	case OutcomeReceived:
		return payment.StatePending
	default:
		return payment.StateFailure
	}
}

// resolveOutcome maps a PSP object status for the given action. Anything
// not recognised is rejected.
func resolveOutcome(action ModificationAction, status string) Outcome {
	switch action {
	case ActionCapturePayment:
		switch status {
		case "succeeded":
			return OutcomeApproved
		case "processing":
			return OutcomeReceived
		}
	case ActionCancelPayment:
		switch status {
		case "canceled":
			return OutcomeApproved
		case "processing":
			return OutcomeReceived
		}
	case ActionRefundPayment:
		switch status {
		case "succeeded":
			return OutcomeApproved
		case "pending", "requires_action":
			return OutcomeReceived
		}
	}
	return OutcomeRejected
}

// ModificationService drives capture, cancel and refund against the PSP and
// mirrors their outcome onto the platform Payment.
type ModificationService struct {
	payments payment.PaymentRepository
	psp      adapter.StripeAdapter
	logger   *zap.Logger
}

// NewModificationService creates a new ModificationService.
func NewModificationService(payments payment.PaymentRepository, psp adapter.StripeAdapter, logger *zap.Logger) *ModificationService {
	return &ModificationService{payments: payments, psp: psp, logger: logger}
}

// ModifyPayment records an Initial transaction, calls the PSP and records the
// resolved transaction. Cancel always uses the planned amount.
func (s *ModificationService) ModifyPayment(ctx context.Context, req ModifyPaymentRequest) (*ModifyPaymentResult, error) {
	action, err := ParseModificationAction(req.Action)
	if err != nil {
		return nil, err
	}

	p, err := s.payments.GetPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if p.InterfaceID() == "" {
		return nil, domain.NewInvalidStateError("unlinked", string(action))
	}

	var amount payment.Money
	if action == ActionCancelPayment {
		amount = p.AmountPlanned()
	} else {
		if req.Amount == nil || req.Amount.CentAmount <= 0 {
			return nil, domain.NewValidationError(string(action) + " requires a positive amount")
		}
		amount = *req.Amount
	}

	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	txType := action.TransactionType()

	var outcome Outcome
	var interactionID string
	var updated *payment.Payment

	// The Initial is keyed by the idempotency key and the resolved transaction
	// by the PSP object id, so the attempt stays on record next to its outcome.
	sg := saga.NewSaga("modify_payment", s.logger)
	sg.AddStep(saga.SagaStep{
		Name: "record_initial_transaction",
		Execute: func(ctx context.Context) error {
			_, err := applyUpdate(ctx, s.payments, payment.PaymentUpdate{
				ID:          p.ID(),
				Transaction: payment.TransactionDraft{Type: txType, State: payment.StateInitial, Amount: amount, InteractionID: key},
			})
			return err
		},
		Compensate: func(ctx context.Context) error {
			_, err := applyUpdate(ctx, s.payments, payment.PaymentUpdate{
				ID:          p.ID(),
				Transaction: payment.TransactionDraft{Type: txType, State: payment.StateFailure, Amount: amount},
			})
			return err
		},
	})
	sg.AddStep(saga.SagaStep{
		Name: "call_psp",
		Execute: func(ctx context.Context) error {
			var status string
			var err error
			interactionID, status, err = s.callPSP(ctx, action, p.InterfaceID(), amount, key)
			if err != nil {
				return err
			}
			outcome = resolveOutcome(action, status)
			return nil
		},
	})
	sg.AddStep(saga.SagaStep{
		Name: "record_resolved_transaction",
		Execute: func(ctx context.Context) error {
			var err error
			updated, err = applyUpdate(ctx, s.payments, payment.PaymentUpdate{
				ID: p.ID(),
				Transaction: payment.TransactionDraft{
					Type:          txType,
					State:         outcome.State(),
					Amount:        amount,
					InteractionID: interactionID,
				},
			})
			return err
		},
	})

	if err := sg.Execute(ctx); err != nil {
		metrics.RecordModification(string(action), string(payment.StateFailure))
		return nil, err
	}

	metrics.RecordModification(string(action), string(outcome.State()))
	s.logger.Info("payment modified",
		zap.String("payment_id", p.ID().String()),
		zap.String("action", string(action)),
		zap.String("outcome", string(outcome)),
		zap.String("interaction_id", interactionID),
		zap.Int64("cent_amount", amount.CentAmount),
	)
	return &ModifyPaymentResult{Outcome: outcome, Payment: toPaymentDTO(updated)}, nil
}

// callPSP issues the PSP call for an action and returns the interaction id
// and the raw status of the resulting object.
func (s *ModificationService) callPSP(ctx context.Context, action ModificationAction, paymentIntentID string, amount payment.Money, key string) (string, string, error) {
	switch action {
	case ActionCapturePayment:
		pi, err := s.psp.CapturePaymentIntent(ctx, paymentIntentID, amount.CentAmount, key)
		if err != nil {
			return "", "", err
		}
		return pi.ID, string(pi.Status), nil
	case ActionCancelPayment:
		pi, err := s.psp.CancelPaymentIntent(ctx, paymentIntentID, key)
		if err != nil {
			return "", "", err
		}
		return pi.ID, string(pi.Status), nil
	case ActionRefundPayment:
		r, err := s.psp.CreateRefund(ctx, paymentIntentID, amount.CentAmount, key)
		if err != nil {
			return "", "", err
		}
		return r.ID, string(r.Status), nil
	default:
		return "", "", domain.NewInvalidOperationError(string(action))
	}
}
