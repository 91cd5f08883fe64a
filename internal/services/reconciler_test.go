package services

import (
	"context"
	"testing"

	"example.com/urban/services/attendance/internal/metrics"
	"example.com/urban/services/attendance/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileCleanLedger(t *testing.T) {
	store := newMemStore()
	shop := newMemShop()
	collector := metrics.NewMetrics()

	userID := uuid.New()
	eventID := uuid.New()
	store.users[userID] = models.User{ID: userID, Hours: 3, Coins: 5}
	store.redemptions[redemptionKey(userID, eventID)] = models.Redemption{
		UserID: userID, EventID: eventID, HoursCredited: 3, CoinsCredited: 15,
	}
	shop.purchases["AAAAAA"] = models.Purchase{
		UserID: userID, Price: 10, Status: models.PurchaseStatusPending, PickupCode: "AAAAAA",
	}

	reconciler := NewLedgerReconciler(userRepoView{store}, store, shop, collector)
	require.NoError(t, reconciler.Reconcile(context.Background()))

	assert.Zero(t, collector.Snapshot().Counters[metrics.LedgerDrift])
}

func TestReconcileDetectsDrift(t *testing.T) {
	store := newMemStore()
	shop := newMemShop()
	collector := metrics.NewMetrics()

	userID := uuid.New()
	eventID := uuid.New()
	// Stored balance says 10 hours, the records only support 3.
	store.users[userID] = models.User{ID: userID, Hours: 10, Coins: 15}
	store.redemptions[redemptionKey(userID, eventID)] = models.Redemption{
		UserID: userID, EventID: eventID, HoursCredited: 3, CoinsCredited: 15,
	}

	reconciler := NewLedgerReconciler(userRepoView{store}, store, shop, collector)
	require.NoError(t, reconciler.Reconcile(context.Background()))

	assert.Equal(t, int64(1), collector.Snapshot().Counters[metrics.LedgerDrift])
}

func TestReconcileCancelledPurchasesDoNotDebit(t *testing.T) {
	store := newMemStore()
	shop := newMemShop()
	collector := metrics.NewMetrics()

	userID := uuid.New()
	eventID := uuid.New()
	store.users[userID] = models.User{ID: userID, Hours: 3, Coins: 15}
	store.redemptions[redemptionKey(userID, eventID)] = models.Redemption{
		UserID: userID, EventID: eventID, HoursCredited: 3, CoinsCredited: 15,
	}
	// The refund already went back into the stored balance.
	shop.purchases["BBBBBB"] = models.Purchase{
		UserID: userID, Price: 10, Status: models.PurchaseStatusCancelled, PickupCode: "BBBBBB",
	}

	reconciler := NewLedgerReconciler(userRepoView{store}, store, shop, collector)
	require.NoError(t, reconciler.Reconcile(context.Background()))

	assert.Zero(t, collector.Snapshot().Counters[metrics.LedgerDrift])
}
