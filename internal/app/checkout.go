package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/transfa/escrow-service/internal/domain"
	"github.com/transfa/escrow-service/internal/store"
)

// CheckoutResult is the created order with the pricing shown to the client.
type CheckoutResult struct {
	Order     *domain.Order           `json:"order"`
	Breakdown domain.PricingBreakdown `json:"breakdown"`
}

// Checkout prices a selection against a published service and records a
// pending_payment order. No money moves.
func (s *Service) Checkout(ctx context.Context, actor domain.Actor, serviceID uuid.UUID, req domain.CheckoutRequest) (*CheckoutResult, error) {
	if err := validateCheckout(req); err != nil {
		return nil, err
	}
	if err := s.consumeRateLimit(ctx, "checkout", actor.UserID, s.settings.CheckoutRateLimitPerMinute); err != nil {
		return nil, err
	}

	svc, err := s.repo.FindServiceByID(ctx, serviceID)
	if err != nil {
		if errors.Is(err, store.ErrServiceNotFound) {
			return nil, ErrServiceUnavailable
		}
		return nil, fmt.Errorf("failed to load service: %w", err)
	}
	if svc.Status != domain.ServiceStatusPublished {
		return nil, ErrServiceUnavailable
	}
	if svc.FreelancerID == actor.UserID {
		return nil, ErrSelfOrder
	}

	now := s.clock()
	quote, err := QuoteOrder(svc, req.SelectedPackage, req.SelectedAddOnTitles, s.pricing, now)
	if err != nil {
		return nil, err
	}

	order := &domain.Order{
		ID:                uuid.New(),
		ServiceID:         svc.ID,
		ClientID:          actor.UserID,
		FreelancerID:      svc.FreelancerID,
		SelectedPackage:   req.SelectedPackage,
		PackageDetails:    quote.Package,
		AddOns:            quote.AddOns,
		AmountSubtotal:    quote.Breakdown.Subtotal,
		PlatformFeeAmount: quote.Breakdown.PlatformFee,
		AmountTotal:       quote.Breakdown.Total,
		Currency:          s.settings.Currency,
		Status:            domain.OrderStatusPendingPayment,
		RequirementsText:  req.RequirementsText,
		DeliveryDueAt:     quote.Breakdown.DeliveryDueAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		s.metrics.observeTransition("checkout", err)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	s.metrics.observeTransition("checkout", nil)

	log.Printf("level=info component=service msg=\"order created\" order_id=%s service_id=%s client_id=%s total=%d", order.ID, svc.ID, actor.UserID, order.AmountTotal)
	s.publish(ctx, domain.EventOrderCreated, order, "checkout")

	return &CheckoutResult{Order: order, Breakdown: quote.Breakdown}, nil
}
