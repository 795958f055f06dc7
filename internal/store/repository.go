/**
 * @description
 * This file defines the `Repository` and `Tx` interfaces used by the escrow
 * engine. Reads that need no lock go through `Repository`; every state change
 * runs inside `WithinTx`, where the callback receives a `Tx` whose `Lock*`
 * methods take row locks that are held until commit or rollback.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/escrow-service/internal/domain"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrServiceNotFound = errors.New("service not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrReviewNotFound  = errors.New("review not found")
	ErrReviewExists    = errors.New("review already exists for order")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// User methods
	FindUserIDByClerkUserID(ctx context.Context, clerkUserID string) (uuid.UUID, error)

	// Catalog methods
	FindServiceByID(ctx context.Context, serviceID uuid.UUID) (*domain.Service, error)

	// Order methods
	CreateOrder(ctx context.Context, order *domain.Order) error
	FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	ListOrdersByClient(ctx context.Context, clientID uuid.UUID, limit int) ([]domain.Order, error)
	ListOrdersByFreelancer(ctx context.Context, freelancerID uuid.UUID, limit int) ([]domain.Order, error)
	ListDeliverables(ctx context.Context, orderID uuid.UUID) ([]domain.Deliverable, error)
	// Delivered orders whose auto-release time is at or before `now`, oldest first.
	ListDueAutoReleaseOrderIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	// Ledger methods
	GetBalance(ctx context.Context, account domain.LedgerAccount) (*domain.Balance, error)
	ListTransactions(ctx context.Context, account domain.LedgerAccount, limit int) ([]domain.Transaction, error)

	// Review methods
	ListServiceReviews(ctx context.Context, serviceID uuid.UUID, limit int) ([]domain.Review, error)
	ServiceReviewStats(ctx context.Context, serviceID uuid.UUID) (domain.ReviewStats, error)

	// WithinTx runs fn in one database transaction. A non-nil error from fn
	// rolls back every write fn made.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write surface available inside WithinTx.
type Tx interface {
	// LockOrder loads the order with an exclusive row lock.
	LockOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	UpdateOrder(ctx context.Context, order *domain.Order) error
	InsertDeliverable(ctx context.Context, deliverable *domain.Deliverable) error

	// LockBalance loads, creating at zero when missing, the balance row with an
	// exclusive lock.
	LockBalance(ctx context.Context, account domain.LedgerAccount, currency string) (*domain.Balance, error)
	SaveBalance(ctx context.Context, balance *domain.Balance) error
	InsertTransaction(ctx context.Context, entry *domain.Transaction) error

	FindReviewByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Review, error)
	InsertReview(ctx context.Context, review *domain.Review) error
	LockReview(ctx context.Context, reviewID uuid.UUID) (*domain.Review, error)
	UpdateReview(ctx context.Context, review *domain.Review) error
}
