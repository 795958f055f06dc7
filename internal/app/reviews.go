package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/escrow-service/internal/domain"
	"github.com/transfa/escrow-service/internal/store"
)

// SubmitReview stores the client's rating of a completed order. One review per order.
func (s *Service) SubmitReview(ctx context.Context, actor domain.Actor, orderID uuid.UUID, req domain.ReviewRequest) (*domain.Review, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return nil, invalidField("rating", "must be between 1 and 5")
	}
	comment := strings.TrimSpace(req.Comment)
	if runeLen(comment) > MaxReviewCommentLen {
		return nil, invalidField("comment", fmt.Sprintf("must be at most %d characters", MaxReviewCommentLen))
	}

	var review *domain.Review
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.ClientID != actor.UserID {
			return ErrForbidden
		}
		if order.Status != domain.OrderStatusCompleted {
			return rejectTransition("review", order.Status)
		}
		if _, err := tx.FindReviewByOrderID(ctx, orderID); err == nil {
			return ErrAlreadyReviewed
		} else if !errors.Is(err, store.ErrReviewNotFound) {
			return err
		}

		review = &domain.Review{
			ID:           uuid.New(),
			OrderID:      order.ID,
			ServiceID:    order.ServiceID,
			ReviewerID:   actor.UserID,
			FreelancerID: order.FreelancerID,
			Rating:       req.Rating,
			Comment:      comment,
			IsPublic:     true,
			CreatedAt:    s.clock(),
		}
		if err := tx.InsertReview(ctx, review); err != nil {
			if errors.Is(err, store.ErrReviewExists) {
				return ErrAlreadyReviewed
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return review, nil
}

// RespondToReview lets the reviewed freelancer reply once.
func (s *Service) RespondToReview(ctx context.Context, actor domain.Actor, reviewID uuid.UUID, response string) (*domain.Review, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, invalidField("response", "is required")
	}
	if runeLen(response) > MaxSellerResponseLen {
		return nil, invalidField("response", fmt.Sprintf("must be at most %d characters", MaxSellerResponseLen))
	}

	var review *domain.Review
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		rv, err := tx.LockReview(ctx, reviewID)
		if err != nil {
			return err
		}
		if rv.FreelancerID != actor.UserID {
			return ErrForbidden
		}
		if rv.SellerResponse != nil {
			return ErrAlreadyResponded
		}
		now := s.clock()
		rv.SellerResponse = &response
		rv.SellerRespondedAt = &now
		if err := tx.UpdateReview(ctx, rv); err != nil {
			return err
		}
		review = rv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return review, nil
}

// ListServiceReviews returns a page of public reviews. The average, rounded to
// one decimal, and the total cover every public review of the service.
func (s *Service) ListServiceReviews(ctx context.Context, serviceID uuid.UUID, limit int) (*domain.ServiceReviews, error) {
	reviews, err := s.repo.ListServiceReviews(ctx, serviceID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	if reviews == nil {
		reviews = []domain.Review{}
	}
	stats, err := s.repo.ServiceReviewStats(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	result := &domain.ServiceReviews{Reviews: reviews, TotalReviews: stats.Count}
	if stats.Count > 0 {
		result.AverageRating = decimal.NewFromInt(stats.RatingSum).Div(decimal.NewFromInt(int64(stats.Count))).Round(1).InexactFloat64()
	}
	return result, nil
}
