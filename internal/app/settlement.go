package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/escrow-service/internal/domain"
	"github.com/transfa/escrow-service/internal/store"
)

// Settlement triggers.
const (
	TriggerClientApproval    = "client_approval"
	TriggerAutoRelease       = "auto_release"
	TriggerDisputeResolution = "dispute_resolution"
)

// ReleaseResult is returned by the operations that settle escrow.
type ReleaseResult struct {
	Order         *domain.Order         `json:"order"`
	EscrowRelease *domain.EscrowRelease `json:"escrowRelease,omitempty"`
}

// settle pays out a locked order inside the caller's transaction: the held
// amount leaves escrow, the freelancer receives it minus the platform fee and
// the platform receives the fee. The caller persists the completed order.
func (s *Service) settle(ctx context.Context, tx store.Tx, order *domain.Order, now time.Time) (*domain.EscrowRelease, error) {
	held := order.HeldAmount()
	earnings := held - order.PlatformFeeAmount
	if held <= 0 || earnings < 0 {
		return nil, ErrInvalidEscrow
	}

	reference := order.ID.String()
	_, err := s.post(ctx, tx, reference,
		debit(domain.EscrowHoldingAccount(), held, "Escrow released for freelancer order"),
		credit(domain.UserAccount(order.FreelancerID), earnings, "Earnings from freelancer order").asEarnings(),
		credit(domain.PlatformFeeAccount(), order.PlatformFeeAmount, "Platform fee from freelancer order").asEarnings(),
	)
	if err != nil {
		return nil, err
	}

	order.Status = domain.OrderStatusCompleted
	order.CompletedAt = &now

	return &domain.EscrowRelease{
		TotalReleased:      held,
		FreelancerEarnings: earnings,
		PlatformFee:        order.PlatformFeeAmount,
	}, nil
}

// releaseGuard rejects settlement of anything but a delivered order. A second
// release of a completed order reports ErrAlreadySettled.
func releaseGuard(action string, order *domain.Order, allowed domain.OrderStatus) error {
	if order.Status == domain.OrderStatusCompleted {
		return &TransitionError{Action: action, Status: order.Status, Err: ErrAlreadySettled}
	}
	if order.Status != allowed {
		return rejectTransition(action, order.Status)
	}
	return nil
}

func (s *Service) release(ctx context.Context, action, trigger string, orderID uuid.UUID, guard func(order *domain.Order, now time.Time) error) (*ReleaseResult, error) {
	var release *domain.EscrowRelease
	order, err := s.transition(ctx, action, orderID, func(tx store.Tx, order *domain.Order, now time.Time) error {
		if err := guard(order, now); err != nil {
			return err
		}
		var err error
		release, err = s.settle(ctx, tx, order, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.observeSettlement(trigger, release.FreelancerEarnings, release.PlatformFee)
	s.publish(ctx, domain.EventOrderCompleted, order, trigger)
	return &ReleaseResult{Order: order, EscrowRelease: release}, nil
}

// Approve accepts a delivery and settles escrow.
func (s *Service) Approve(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*ReleaseResult, error) {
	return s.release(ctx, "approve", TriggerClientApproval, orderID, func(order *domain.Order, now time.Time) error {
		if order.ClientID != actor.UserID {
			return ErrForbidden
		}
		return releaseGuard("approve", order, domain.OrderStatusDelivered)
	})
}

// AutoRelease settles a delivered order whose grace period has elapsed.
func (s *Service) AutoRelease(ctx context.Context, orderID uuid.UUID) (*ReleaseResult, error) {
	return s.release(ctx, "auto_release", TriggerAutoRelease, orderID, func(order *domain.Order, now time.Time) error {
		if err := releaseGuard("auto-release", order, domain.OrderStatusDelivered); err != nil {
			return err
		}
		if order.AutoReleaseAt == nil || now.Before(*order.AutoReleaseAt) {
			return &TransitionError{Action: "auto-release", Status: order.Status, Err: ErrAutoReleaseNotDue}
		}
		return nil
	})
}

// refundable lists the funded states an admin may refund from.
func refundable(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderStatusActive, domain.OrderStatusDelivered, domain.OrderStatusRevisionRequested, domain.OrderStatusDisputed:
		return true
	}
	return false
}

// refund returns the full held amount to the client inside the caller's transaction.
func (s *Service) refund(ctx context.Context, tx store.Tx, order *domain.Order, now time.Time) error {
	held := order.HeldAmount()
	if held <= 0 {
		return ErrInvalidEscrow
	}
	_, err := s.post(ctx, tx, order.ID.String(),
		debit(domain.EscrowHoldingAccount(), held, "Escrow refunded for freelancer order"),
		credit(domain.UserAccount(order.ClientID), held, "Refund for freelancer order"),
	)
	if err != nil {
		return err
	}
	order.Status = domain.OrderStatusRefunded
	order.RefundedAt = &now
	order.AutoReleaseAt = nil
	return nil
}

// Refund returns escrow to the client. Admin only.
func (s *Service) Refund(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	order, err := s.transition(ctx, "refund", orderID, func(tx store.Tx, order *domain.Order, now time.Time) error {
		if !refundable(order.Status) {
			return rejectTransition("refund", order.Status)
		}
		return s.refund(ctx, tx, order, now)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.observeRefund(order.HeldAmount())
	s.publish(ctx, domain.EventOrderRefunded, order, "admin")
	return order, nil
}

// ResolveDispute closes a disputed order by releasing or refunding escrow. Admin only.
func (s *Service) ResolveDispute(ctx context.Context, actor domain.Actor, orderID uuid.UUID, outcome domain.DisputeOutcome) (*ReleaseResult, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	switch outcome {
	case domain.DisputeOutcomeRelease:
		return s.release(ctx, "resolve_dispute", TriggerDisputeResolution, orderID, func(order *domain.Order, now time.Time) error {
			return releaseGuard("resolve dispute on", order, domain.OrderStatusDisputed)
		})
	case domain.DisputeOutcomeRefund:
		order, err := s.transition(ctx, "resolve_dispute", orderID, func(tx store.Tx, order *domain.Order, now time.Time) error {
			if order.Status != domain.OrderStatusDisputed {
				return rejectTransition("resolve dispute on", order.Status)
			}
			return s.refund(ctx, tx, order, now)
		})
		if err != nil {
			return nil, err
		}
		s.metrics.observeRefund(order.HeldAmount())
		s.publish(ctx, domain.EventOrderRefunded, order, TriggerDisputeResolution)
		return &ReleaseResult{Order: order}, nil
	default:
		return nil, invalidField("outcome", "must be release or refund")
	}
}
