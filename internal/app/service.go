/**
 * @description
 * This file contains the core business logic for the escrow-service. The `Service`
 * drives the freelancer order lifecycle: checkout, escrow funding, delivery,
 * revisions, settlement, disputes and refunds. Every state change runs inside one
 * repository transaction that first locks the order row, then evaluates the guard,
 * then applies the effect.
 *
 * @dependencies
 * - internal/store: For the database repository interface.
 * - internal/domain: For the service's domain models.
 * - pkg/rabbitmq: For publishing order lifecycle events.
 * - github.com/shopspring/decimal: For percentage fee arithmetic.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/escrow-service/internal/domain"
	"github.com/transfa/escrow-service/internal/store"
	"github.com/transfa/escrow-service/pkg/rabbitmq"
)

const (
	MaxRequirementsLength = 5000
	MaxDeliveryMessageLen = 5000
	MaxReasonLength       = 2000
	MaxReviewCommentLen   = 2000
	MaxSellerResponseLen  = 1000
	DefaultListLimit      = 50
	MaxListLimit          = 100

	eventPublishTimeout = 5 * time.Second
	rateLimitWindow     = time.Minute
)

// Settings are the tunables the Service is built with.
type Settings struct {
	PlatformFeePercent         float64
	AutoReleaseAfter           time.Duration
	DefaultDeliveryDays        int
	Currency                   string
	AutoReleaseBatchSize       int
	EventsExchange             string
	CheckoutRateLimitPerMinute int
	PayRateLimitPerMinute      int
}

// Service provides the escrow operations.
type Service struct {
	repo     store.Repository
	producer rabbitmq.Publisher
	limiter  RateLimiter
	metrics  *Metrics
	pricing  PricingPolicy
	settings Settings
	now      func() time.Time
}

// NewService creates a new instance of the application service.
func NewService(repo store.Repository, producer rabbitmq.Publisher, settings Settings) *Service {
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{}
	}
	if settings.Currency == "" {
		settings.Currency = "USD"
	}
	if settings.DefaultDeliveryDays <= 0 {
		settings.DefaultDeliveryDays = 7
	}
	if settings.AutoReleaseAfter <= 0 {
		settings.AutoReleaseAfter = 72 * time.Hour
	}
	if settings.AutoReleaseBatchSize <= 0 {
		settings.AutoReleaseBatchSize = 100
	}
	if settings.EventsExchange == "" {
		settings.EventsExchange = "marketplace.events"
	}

	return &Service{
		repo:     repo,
		producer: producer,
		metrics:  NewMetrics(),
		pricing: PricingPolicy{
			FeePercent:          decimal.NewFromFloat(settings.PlatformFeePercent),
			DefaultDeliveryDays: settings.DefaultDeliveryDays,
			Currency:            settings.Currency,
		},
		settings: settings,
		now:      time.Now,
	}
}

// SetRateLimiter enables per-user limits on checkout and pay.
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.limiter = limiter
}

// SetNowFunc overrides the clock.
func (s *Service) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// Metrics returns the service collectors.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func runeLen(v string) int {
	return utf8.RuneCountInString(v)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// consumeRateLimit fails open when Redis is unreachable.
func (s *Service) consumeRateLimit(ctx context.Context, scope string, subject uuid.UUID, limit int) error {
	if s.limiter == nil || limit <= 0 {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, scope, subject.String(), limit, rateLimitWindow)
	if err != nil {
		log.Printf("level=warn component=service msg=\"rate limiter unavailable; allowing request\" scope=%s user_id=%s err=%v", scope, subject, err)
		return nil
	}
	if count > limit {
		return &RateLimitError{Scope: scope, RetryAfterSeconds: retryAfter}
	}
	return nil
}

// publish sends an order event after commit. Failures are logged only.
func (s *Service) publish(ctx context.Context, routingKey string, order *domain.Order, trigger string) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishTimeout)
	defer cancel()

	event := domain.NewOrderEvent(order, trigger, s.clock())
	if err := s.producer.Publish(pubCtx, s.settings.EventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=service msg=\"order event publish failed\" routing_key=%s order_id=%s err=%v", routingKey, order.ID, err)
	}
}

// transition locks the order, runs apply and persists the order in one transaction.
func (s *Service) transition(ctx context.Context, action string, orderID uuid.UUID, apply func(tx store.Tx, order *domain.Order, now time.Time) error) (*domain.Order, error) {
	var updated *domain.Order
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		now := s.clock()
		if err := apply(tx, order, now); err != nil {
			return err
		}
		order.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	s.metrics.observeTransition(action, err)
	if err != nil {
		if !isRejection(err) {
			log.Printf("level=error component=service msg=\"order transition failed\" action=%s order_id=%s err=%v", action, orderID, err)
		}
		return nil, err
	}
	log.Printf("level=info component=service msg=\"order transition committed\" action=%s order_id=%s status=%s", action, orderID, updated.Status)
	return updated, nil
}

// ResolveActor maps an authenticated Clerk subject to the internal user.
func (s *Service) ResolveActor(ctx context.Context, clerkUserID, role string) (domain.Actor, error) {
	userID, err := s.repo.FindUserIDByClerkUserID(ctx, clerkUserID)
	if err != nil {
		return domain.Actor{}, err
	}
	return domain.Actor{UserID: userID, Role: role}, nil
}

// GetOrder returns an order visible to its parties and admins.
func (s *Service) GetOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParty(actor.UserID) && !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return order, nil
}

// ListClientOrders returns the orders the actor bought.
func (s *Service) ListClientOrders(ctx context.Context, actor domain.Actor, limit int) ([]domain.Order, error) {
	return s.repo.ListOrdersByClient(ctx, actor.UserID, clampLimit(limit))
}

// ListFreelancerOrders returns the orders the actor is selling.
func (s *Service) ListFreelancerOrders(ctx context.Context, actor domain.Actor, limit int) ([]domain.Order, error) {
	return s.repo.ListOrdersByFreelancer(ctx, actor.UserID, clampLimit(limit))
}

// ListDeliverables returns the delivery history of an order.
func (s *Service) ListDeliverables(ctx context.Context, actor domain.Actor, orderID uuid.UUID) ([]domain.Deliverable, error) {
	if _, err := s.GetOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListDeliverables(ctx, orderID)
}

// GetWalletBalance returns the actor's wallet.
func (s *Service) GetWalletBalance(ctx context.Context, actor domain.Actor) (*domain.WalletBalance, error) {
	balance, err := s.repo.GetBalance(ctx, domain.UserAccount(actor.UserID))
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet balance: %w", err)
	}
	currency := balance.Currency
	if currency == "" {
		currency = s.settings.Currency
	}
	return &domain.WalletBalance{
		AvailableBalance: balance.AvailableBalance,
		TotalEarnings:    balance.TotalEarnings,
		Currency:         currency,
	}, nil
}

// ListWalletTransactions returns the actor's newest ledger entries.
func (s *Service) ListWalletTransactions(ctx context.Context, actor domain.Actor, limit int) ([]domain.Transaction, error) {
	return s.repo.ListTransactions(ctx, domain.UserAccount(actor.UserID), clampLimit(limit))
}
