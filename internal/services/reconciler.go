package services

import (
	"context"

	"example.com/urban/services/attendance/internal/metrics"
	"example.com/urban/services/attendance/internal/repositories"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const balanceEpsilon = 1e-6

// LedgerReconciler verifies that every user's stored balance equals the sum
// of their redemptions minus their non-cancelled purchase debits. It is a
// fallback detector: the transactional write paths should make drift
// impossible, so any hit here is worth an alert.
type LedgerReconciler struct {
	userRepo       repositories.UserRepository
	redemptionRepo repositories.RedemptionRepository
	purchaseRepo   repositories.PurchaseRepository
	collector      *metrics.Metrics
}

// NewLedgerReconciler creates a new ledger reconciler
func NewLedgerReconciler(
	userRepo repositories.UserRepository,
	redemptionRepo repositories.RedemptionRepository,
	purchaseRepo repositories.PurchaseRepository,
	collector *metrics.Metrics,
) *LedgerReconciler {
	return &LedgerReconciler{
		userRepo:       userRepo,
		redemptionRepo: redemptionRepo,
		purchaseRepo:   purchaseRepo,
		collector:      collector,
	}
}

// Reconcile checks every user's balance against the redemption and purchase
// records, logging and counting any drift found.
func (r *LedgerReconciler) Reconcile(ctx context.Context) error {
	ids, err := r.userRepo.ListIDs(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list users for reconciliation")
	}

	drifted := 0
	for _, id := range ids {
		user, err := r.userRepo.GetByID(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("user_id", id.String()).Msg("Failed to load user during reconciliation")
			continue
		}

		hours, coins, err := r.redemptionRepo.SumByUser(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("user_id", id.String()).Msg("Failed to sum redemptions during reconciliation")
			continue
		}

		debits, err := r.purchaseRepo.SumDebitsByUser(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("user_id", id.String()).Msg("Failed to sum purchases during reconciliation")
			continue
		}

		expectedCoins := coins - debits
		coinDrift := user.Coins - expectedCoins
		if user.Hours != hours || coinDrift > balanceEpsilon || coinDrift < -balanceEpsilon {
			drifted++
			r.collector.IncrementCounter(metrics.LedgerDrift)
			log.Error().
				Str("user_id", id.String()).
				Int64("stored_hours", user.Hours).
				Int64("expected_hours", hours).
				Float64("stored_coins", user.Coins).
				Float64("expected_coins", expectedCoins).
				Msg("Ledger balance drift detected")
		}
	}

	if drifted == 0 {
		log.Debug().Int("users", len(ids)).Msg("Ledger reconciliation clean")
	}
	return nil
}
