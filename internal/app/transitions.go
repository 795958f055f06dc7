package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/escrow-service/internal/domain"
	"github.com/transfa/escrow-service/internal/store"
)

// PaymentSummary describes how escrow was funded.
type PaymentSummary struct {
	Method      domain.PaymentMethod `json:"method"`
	Amount      int64                `json:"amount"`
	EscrowHeld  int64                `json:"escrowHeld"`
	PlatformFee int64                `json:"platformFee"`
}

// PaymentResult is returned by Pay and ConfirmExternalPayment.
type PaymentResult struct {
	Order         *domain.Order  `json:"order"`
	WalletBalance int64          `json:"walletBalance"`
	Payment       PaymentSummary `json:"payment"`
}

// Pay moves the order total from the client's wallet into escrow.
func (s *Service) Pay(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*PaymentResult, error) {
	if err := s.consumeRateLimit(ctx, "pay", actor.UserID, s.settings.PayRateLimitPerMinute); err != nil {
		return nil, err
	}

	var walletBalance int64
	order, err := s.transition(ctx, "pay", orderID, func(tx store.Tx, order *domain.Order, now time.Time) error {
		if order.ClientID != actor.UserID {
			return ErrForbidden
		}
		if order.Status != domain.OrderStatusPendingPayment {
			return &TransitionError{Action: "pay", Status: order.Status, Err: ErrNotAwaitingPayment}
		}

		client := domain.UserAccount(order.ClientID)
		balances, err := s.post(ctx, tx, order.ID.String(),
			debit(client, order.AmountTotal, "Escrow payment for freelancer order"),
			credit(domain.EscrowHoldingAccount(), order.AmountTotal, "Escrow held for freelancer order"),
		)
		if err != nil {
			return err
		}
		walletBalance = balances[client.Key()].AvailableBalance

		s.holdEscrow(order, domain.PaymentMethodWallet, nil, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventOrderPaid, order, string(domain.PaymentMethodWallet))
	return s.paymentResult(order, walletBalance), nil
}

// ConfirmExternalPayment funds escrow from a payment an upstream gateway has
// already captured. The captured amount is first credited to the client and
// then moved into escrow so the client ledger still replays to its balance.
func (s *Service) ConfirmExternalPayment(ctx context.Context, orderID uuid.UUID, req domain.ExternalPaymentRequest) (*PaymentResult, error) {
	provider := strings.TrimSpace(req.Provider)
	reference := strings.TrimSpace(req.ProviderReference)
	if provider == "" {
		return nil, invalidField("provider", "is required")
	}
	if reference == "" {
		return nil, invalidField("providerReference", "is required")
	}

	var walletBalance int64
	order, err := s.transition(ctx, "confirm_external_payment", orderID, func(tx store.Tx, order *domain.Order, now time.Time) error {
		if order.Status != domain.OrderStatusPendingPayment {
			return &TransitionError{Action: "confirm payment for", Status: order.Status, Err: ErrNotAwaitingPayment}
		}

		client := domain.UserAccount(order.ClientID)
		metadata := map[string]string{"provider": provider, "providerReference": reference}
		balances, err := s.post(ctx, tx, order.ID.String(),
			credit(client, order.AmountTotal, fmt.Sprintf("Payment received via %s", provider)).with(metadata),
			debit(client, order.AmountTotal, "Escrow payment for freelancer order").with(metadata),
			credit(domain.EscrowHoldingAccount(), order.AmountTotal, "Escrow held for freelancer order").with(metadata),
		)
		if err != nil {
			return err
		}
		walletBalance = balances[client.Key()].AvailableBalance

		s.holdEscrow(order, domain.PaymentMethodExternal, &reference, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventOrderPaid, order, provider)
	return s.paymentResult(order, walletBalance), nil
}

func (s *Service) holdEscrow(order *domain.Order, method domain.PaymentMethod, reference *string, now time.Time) {
	held := order.AmountTotal
	order.EscrowHeldAmount = &held
	order.Status = domain.OrderStatusActive
	order.PaidAt = &now
	order.PaymentMethod = &method
	order.PaymentReference = reference
}

func (s *Service) paymentResult(order *domain.Order, walletBalance int64) *PaymentResult {
	method := domain.PaymentMethodWallet
	if order.PaymentMethod != nil {
		method = *order.PaymentMethod
	}
	return &PaymentResult{
		Order:         order,
		WalletBalance: walletBalance,
		Payment: PaymentSummary{
			Method:      method,
			Amount:      order.AmountTotal,
			EscrowHeld:  order.HeldAmount(),
			PlatformFee: order.PlatformFeeAmount,
		},
	}
}

// DeliveryResult is returned by Deliver.
type DeliveryResult struct {
	Order         *domain.Order       `json:"order"`
	Deliverable   *domain.Deliverable `json:"deliverable"`
	AutoReleaseAt time.Time           `json:"autoReleaseAt"`
}

func validateDelivery(req domain.DeliverRequest) error {
	if runeLen(req.Message) > MaxDeliveryMessageLen {
		return invalidField("message", fmt.Sprintf("must be at most %d characters", MaxDeliveryMessageLen))
	}
	for i, f := range req.Files {
		if strings.TrimSpace(f.URL) == "" {
			return invalidField(fmt.Sprintf("files[%d].url", i), "is required")
		}
		if strings.TrimSpace(f.Name) == "" {
			return invalidField(fmt.Sprintf("files[%d].name", i), "is required")
		}
		if f.Size != nil && *f.Size < 0 {
			return invalidField(fmt.Sprintf("files[%d].size", i), "must not be negative")
		}
	}
	return nil
}

// Deliver records submitted work and starts the auto-release clock.
func (s *Service) Deliver(ctx context.Context, actor domain.Actor, orderID uuid.UUID, req domain.DeliverRequest) (*DeliveryResult, error) {
	if err := validateDelivery(req); err != nil {
		return nil, err
	}

	var deliverable *domain.Deliverable
	order, err := s.transition(ctx, "deliver", orderID, func(tx store.Tx, order *domain.Order, now time.Time) error {
		if order.FreelancerID != actor.UserID {
			return ErrForbidden
		}
		if order.Status != domain.OrderStatusActive && order.Status != domain.OrderStatusRevisionRequested {
			return rejectTransition("deliver", order.Status)
		}

		deliverable = &domain.Deliverable{
			ID:         uuid.New(),
			OrderID:    order.ID,
			Message:    req.Message,
			Files:      req.Files,
			IsRevision: order.Status == domain.OrderStatusRevisionRequested,
			CreatedAt:  now,
		}
		if err := tx.InsertDeliverable(ctx, deliverable); err != nil {
			return err
		}

		releaseAt := now.Add(s.settings.AutoReleaseAfter)
		order.Status = domain.OrderStatusDelivered
		order.DeliveredAt = &now
		order.AutoReleaseAt = &releaseAt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventOrderDelivered, order, "freelancer")
	return &DeliveryResult{Order: order, Deliverable: deliverable, AutoReleaseAt: *order.AutoReleaseAt}, nil
}

// RevisionResult is returned by RequestRevision.
type RevisionResult struct {
	Order              *domain.Order `json:"order"`
	RevisionsRemaining int           `json:"revisionsRemaining"`
}

// RequestRevision sends a delivered order back to the freelancer and stops the
// auto-release clock.
func (s *Service) RequestRevision(ctx context.Context, actor domain.Actor, orderID uuid.UUID, reason string) (*RevisionResult, error) {
	if runeLen(reason) > MaxReasonLength {
		return nil, invalidField("reason", fmt.Sprintf("must be at most %d characters", MaxReasonLength))
	}

	order, err := s.transition(ctx, "request_revision", orderID, func(tx store.Tx, order *domain.Order, now time.Time) error {
		if order.ClientID != actor.UserID {
			return ErrForbidden
		}
		if order.Status != domain.OrderStatusDelivered {
			return rejectTransition("request revision on", order.Status)
		}
		if order.RevisionsRemaining() <= 0 {
			return &TransitionError{Action: "request revision on", Status: order.Status, Err: ErrNoRevisionsRemaining}
		}

		order.RevisionCount++
		order.Status = domain.OrderStatusRevisionRequested
		order.AutoReleaseAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventOrderRevisionRequested, order, "client")
	return &RevisionResult{Order: order, RevisionsRemaining: order.RevisionsRemaining()}, nil
}

// Cancel abandons an unpaid order. Nothing was captured, so no money moves.
func (s *Service) Cancel(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.transition(ctx, "cancel", orderID, func(tx store.Tx, order *domain.Order, now time.Time) error {
		if order.ClientID != actor.UserID && !actor.IsAdmin() {
			return ErrForbidden
		}
		if order.Status != domain.OrderStatusPendingPayment {
			return rejectTransition("cancel", order.Status)
		}
		order.Status = domain.OrderStatusCancelled
		order.CancelledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventOrderCancelled, order, actor.Role)
	return order, nil
}

// Dispute freezes a funded order until an admin resolves it. The auto-release
// clock is cleared so the sweep never settles a disputed order.
func (s *Service) Dispute(ctx context.Context, actor domain.Actor, orderID uuid.UUID, reason string) (*domain.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalidField("reason", "is required")
	}
	if runeLen(reason) > MaxReasonLength {
		return nil, invalidField("reason", fmt.Sprintf("must be at most %d characters", MaxReasonLength))
	}

	order, err := s.transition(ctx, "dispute", orderID, func(tx store.Tx, order *domain.Order, now time.Time) error {
		if !order.IsParty(actor.UserID) {
			return ErrForbidden
		}
		switch order.Status {
		case domain.OrderStatusActive, domain.OrderStatusDelivered, domain.OrderStatusRevisionRequested:
		default:
			return rejectTransition("dispute", order.Status)
		}
		order.Status = domain.OrderStatusDisputed
		order.DisputedAt = &now
		order.DisputeReason = &reason
		order.AutoReleaseAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	raisedBy := "freelancer"
	if order.ClientID == actor.UserID {
		raisedBy = "client"
	}
	s.publish(ctx, domain.EventOrderDisputed, order, raisedBy)
	return order, nil
}
