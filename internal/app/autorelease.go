package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// AutoReleaseResult captures the summary of one sweep.
type AutoReleaseResult struct {
	Due       int `json:"due"`
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	Skipped   int `json:"skipped"`
}

// ProcessAutoReleaseOrders settles every delivered order whose grace period has
// elapsed. Each order settles in its own transaction; a failure on one order is
// counted and the sweep moves on. Orders that changed state between listing and
// locking are counted as skipped.
func (s *Service) ProcessAutoReleaseOrders(ctx context.Context) (AutoReleaseResult, error) {
	started := time.Now()
	var result AutoReleaseResult

	ids, err := s.repo.ListDueAutoReleaseOrderIDs(ctx, s.clock(), s.settings.AutoReleaseBatchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list auto-release orders: %w", err)
	}
	result.Due = len(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.AutoRelease(ctx, id); err != nil {
			if errors.Is(err, ErrAlreadySettled) || errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrAutoReleaseNotDue) {
				result.Skipped++
				log.Printf("level=info component=auto_release msg=\"order skipped\" order_id=%s reason=%q", id, err.Error())
				continue
			}
			result.Errors++
			log.Printf("level=error component=auto_release msg=\"order release failed\" order_id=%s err=%v", id, err)
			continue
		}
		result.Processed++
	}

	s.metrics.observeSweep(result, time.Since(started))
	log.Printf("level=info component=auto_release msg=\"sweep finished\" due=%d processed=%d errors=%d skipped=%d",
		result.Due, result.Processed, result.Errors, result.Skipped)
	return result, ctx.Err()
}
