package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/escrow-service/internal/domain"
)

func seedOrder(t *testing.T, repo *MemoryRepository) *domain.Order {
	t.Helper()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	order := &domain.Order{
		ID:                uuid.New(),
		ServiceID:         uuid.New(),
		ClientID:          uuid.New(),
		FreelancerID:      uuid.New(),
		SelectedPackage:   domain.PackageBasic,
		PackageDetails:    domain.PackageTerms{Title: "Basic", Price: 5000, DeliveryDays: 3, Revisions: 1},
		AmountSubtotal:    5000,
		PlatformFeeAmount: 300,
		AmountTotal:       5300,
		Currency:          "USD",
		Status:            domain.OrderStatusPendingPayment,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := repo.CreateOrder(context.Background(), order); err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	return order
}

func TestMemoryRepository_WithinTxRollsBackOnError(t *testing.T) {
	repo := NewMemoryRepository()
	order := seedOrder(t, repo)
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.WithinTx(ctx, func(tx Tx) error {
		locked, err := tx.LockOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		locked.Status = domain.OrderStatusActive
		if err := tx.UpdateOrder(ctx, locked); err != nil {
			return err
		}
		balance, err := tx.LockBalance(ctx, domain.UserAccount(order.ClientID), "USD")
		if err != nil {
			return err
		}
		balance.AvailableBalance = 100
		if err := tx.SaveBalance(ctx, balance); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	stored, err := repo.FindOrderByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("FindOrderByID returned error: %v", err)
	}
	if stored.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("expected status to stay pending_payment, got %s", stored.Status)
	}
	if balances := repo.Balances(); len(balances) != 0 {
		t.Fatalf("expected no balance rows after rollback, got %d", len(balances))
	}
}

func TestMemoryRepository_InjectFaultFailsAfterCount(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	boom := errors.New("disk full")
	repo.InjectFault("InsertTransaction", 1, boom)

	err := repo.WithinTx(ctx, func(tx Tx) error {
		for i := 0; i < 2; i++ {
			entry := &domain.Transaction{ID: uuid.New(), Account: domain.PlatformFeeAccount(), Type: domain.EntryCredit, Amount: 1}
			if err := tx.InsertTransaction(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected injected fault on second insert, got %v", err)
	}
	if entries := repo.AllTransactions(); len(entries) != 0 {
		t.Fatalf("expected ledger to be empty after rollback, got %d entries", len(entries))
	}

	// The fault fires once.
	err = repo.WithinTx(ctx, func(tx Tx) error {
		return tx.InsertTransaction(ctx, &domain.Transaction{ID: uuid.New(), Account: domain.PlatformFeeAccount(), Type: domain.EntryCredit, Amount: 1})
	})
	if err != nil {
		t.Fatalf("expected second transaction to succeed, got %v", err)
	}
}

func TestMemoryRepository_ListDueAutoReleaseOrderIDs(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	makeDelivered := func(releaseAt time.Time, status domain.OrderStatus) uuid.UUID {
		order := seedOrder(t, repo)
		err := repo.WithinTx(ctx, func(tx Tx) error {
			locked, err := tx.LockOrder(ctx, order.ID)
			if err != nil {
				return err
			}
			locked.Status = status
			locked.AutoReleaseAt = &releaseAt
			return tx.UpdateOrder(ctx, locked)
		})
		if err != nil {
			t.Fatalf("failed to update order: %v", err)
		}
		return order.ID
	}

	older := makeDelivered(now.Add(-48*time.Hour), domain.OrderStatusDelivered)
	newer := makeDelivered(now.Add(-time.Hour), domain.OrderStatusDelivered)
	makeDelivered(now.Add(time.Hour), domain.OrderStatusDelivered)
	makeDelivered(now.Add(-time.Hour), domain.OrderStatusDisputed)

	ids, err := repo.ListDueAutoReleaseOrderIDs(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListDueAutoReleaseOrderIDs returned error: %v", err)
	}
	if len(ids) != 2 || ids[0] != older || ids[1] != newer {
		t.Fatalf("expected [%s %s], got %v", older, newer, ids)
	}

	limited, _ := repo.ListDueAutoReleaseOrderIDs(ctx, now, 1)
	if len(limited) != 1 || limited[0] != older {
		t.Fatalf("expected limit to keep oldest order, got %v", limited)
	}
}

func TestMemoryRepository_InsertReviewRejectsSecondReviewForOrder(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	orderID := uuid.New()

	insert := func() error {
		return repo.WithinTx(ctx, func(tx Tx) error {
			return tx.InsertReview(ctx, &domain.Review{ID: uuid.New(), OrderID: orderID, Rating: 5, IsPublic: true})
		})
	}
	if err := insert(); err != nil {
		t.Fatalf("first insert returned error: %v", err)
	}
	if err := insert(); !errors.Is(err, ErrReviewExists) {
		t.Fatalf("expected ErrReviewExists, got %v", err)
	}
}

func TestMemoryRepository_ServiceReviewStatsCountsPublicReviews(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	serviceID := uuid.New()

	reviews := []domain.Review{
		{ID: uuid.New(), OrderID: uuid.New(), ServiceID: serviceID, Rating: 5, IsPublic: true},
		{ID: uuid.New(), OrderID: uuid.New(), ServiceID: serviceID, Rating: 2, IsPublic: true},
		{ID: uuid.New(), OrderID: uuid.New(), ServiceID: serviceID, Rating: 1, IsPublic: false},
		{ID: uuid.New(), OrderID: uuid.New(), ServiceID: uuid.New(), Rating: 4, IsPublic: true},
	}
	err := repo.WithinTx(ctx, func(tx Tx) error {
		for i := range reviews {
			if err := tx.InsertReview(ctx, &reviews[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seeding reviews returned error: %v", err)
	}

	stats, err := repo.ServiceReviewStats(ctx, serviceID)
	if err != nil {
		t.Fatalf("ServiceReviewStats returned error: %v", err)
	}
	if stats.Count != 2 || stats.RatingSum != 7 {
		t.Fatalf("expected 2 reviews summing to 7, got %+v", stats)
	}

	empty, err := repo.ServiceReviewStats(ctx, uuid.New())
	if err != nil || empty.Count != 0 || empty.RatingSum != 0 {
		t.Fatalf("expected empty stats, got %+v err=%v", empty, err)
	}
}
