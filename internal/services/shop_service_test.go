package services

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"example.com/urban/services/attendance/internal/metrics"
	"example.com/urban/services/attendance/internal/models"
	"example.com/urban/services/attendance/internal/repositories"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memShop is an in-memory stand-in for the shop and purchase repositories.
// It mirrors the transactional semantics of the real implementation: the
// debit is conditional on the balance and the stock decrement on quantity.
type memShop struct {
	mu        sync.Mutex
	items     map[uuid.UUID]models.ShopItem
	purchases map[string]models.Purchase
	balances  map[uuid.UUID]float64
}

func newMemShop() *memShop {
	return &memShop{
		items:     make(map[uuid.UUID]models.ShopItem),
		purchases: make(map[string]models.Purchase),
		balances:  make(map[uuid.UUID]float64),
	}
}

func (s *memShop) CreateItem(ctx context.Context, item *models.ShopItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = *item
	return nil
}

func (s *memShop) GetItem(ctx context.Context, id uuid.UUID) (*models.ShopItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &item, nil
}

func (s *memShop) ListItems(ctx context.Context) ([]models.ShopItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]models.ShopItem, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	return items, nil
}

func (s *memShop) PlacePurchase(ctx context.Context, purchase *models.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.balances[purchase.UserID]
	if !ok {
		return repositories.ErrNotFound
	}
	if balance < purchase.Price {
		return repositories.ErrInsufficientCoins
	}

	item := s.items[purchase.ItemID]
	if item.Quantity <= 0 {
		return repositories.ErrOutOfStock
	}

	s.balances[purchase.UserID] = balance - purchase.Price
	item.Quantity--
	s.items[purchase.ItemID] = item
	s.purchases[purchase.PickupCode] = *purchase
	return nil
}

func (s *memShop) GetByCode(ctx context.Context, code string) (*models.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purchase, ok := s.purchases[code]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &purchase, nil
}

func (s *memShop) ListPendingByUser(ctx context.Context, userID uuid.UUID) ([]models.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []models.Purchase
	for _, p := range s.purchases {
		if p.UserID == userID && p.Status == models.PurchaseStatusPending {
			pending = append(pending, p)
		}
	}
	return pending, nil
}

func (s *memShop) Complete(ctx context.Context, code string) (*models.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purchase, ok := s.purchases[code]
	if !ok || purchase.Status != models.PurchaseStatusPending {
		return nil, repositories.ErrNotFound
	}
	purchase.Status = models.PurchaseStatusCompleted
	s.purchases[code] = purchase
	return &purchase, nil
}

func (s *memShop) Cancel(ctx context.Context, code string) (*models.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purchase, ok := s.purchases[code]
	if !ok || purchase.Status != models.PurchaseStatusPending {
		return nil, repositories.ErrNotFound
	}
	purchase.Status = models.PurchaseStatusCancelled
	s.purchases[code] = purchase
	s.balances[purchase.UserID] += purchase.Price
	item := s.items[purchase.ItemID]
	item.Quantity++
	s.items[purchase.ItemID] = item
	return &purchase, nil
}

func (s *memShop) SumDebitsByUser(ctx context.Context, userID uuid.UUID) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, p := range s.purchases {
		if p.UserID == userID && p.Status != models.PurchaseStatusCancelled {
			total += p.Price
		}
	}
	return total, nil
}

func newTestShop(store *memShop) *ShopService {
	return NewShopService(store, store, metrics.NewMetrics())
}

func seedItemAndBuyer(store *memShop, price float64, quantity int, balance float64) (uuid.UUID, uuid.UUID) {
	itemID := uuid.New()
	buyerID := uuid.New()
	store.items[itemID] = models.ShopItem{ID: itemID, Name: "Tote bag", Price: price, Quantity: quantity}
	store.balances[buyerID] = balance
	return itemID, buyerID
}

var pickupCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

func TestPurchaseDebitsCoinsAndReservesStock(t *testing.T) {
	store := newMemShop()
	shop := newTestShop(store)
	itemID, buyerID := seedItemAndBuyer(store, 10, 3, 25)

	purchase, err := shop.Purchase(context.Background(), buyerID, itemID)
	require.NoError(t, err)

	assert.Regexp(t, pickupCodePattern, purchase.PickupCode)
	assert.Equal(t, models.PurchaseStatusPending, purchase.Status)
	assert.Equal(t, 10.0, purchase.Price)
	assert.Equal(t, 15.0, store.balances[buyerID])
	assert.Equal(t, 2, store.items[itemID].Quantity)
}

func TestPurchaseInsufficientCoins(t *testing.T) {
	store := newMemShop()
	shop := newTestShop(store)
	itemID, buyerID := seedItemAndBuyer(store, 50, 3, 25)

	_, err := shop.Purchase(context.Background(), buyerID, itemID)
	assert.ErrorIs(t, err, ErrInsufficientCoins)
	assert.Equal(t, 25.0, store.balances[buyerID], "a failed purchase must not debit")
	assert.Equal(t, 3, store.items[itemID].Quantity)
}

func TestPurchaseOutOfStock(t *testing.T) {
	store := newMemShop()
	shop := newTestShop(store)
	itemID, buyerID := seedItemAndBuyer(store, 10, 0, 25)

	_, err := shop.Purchase(context.Background(), buyerID, itemID)
	assert.ErrorIs(t, err, ErrItemOutOfStock)
	assert.Equal(t, 25.0, store.balances[buyerID])
}

func TestPurchaseUnknownItem(t *testing.T) {
	store := newMemShop()
	shop := newTestShop(store)

	_, err := shop.Purchase(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestPurchaseUnknownUser(t *testing.T) {
	store := newMemShop()
	shop := newTestShop(store)
	itemID, _ := seedItemAndBuyer(store, 10, 3, 25)

	_, err := shop.Purchase(context.Background(), uuid.New(), itemID)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCancelRefundsCoinsAndRestoresStock(t *testing.T) {
	store := newMemShop()
	shop := newTestShop(store)
	itemID, buyerID := seedItemAndBuyer(store, 10, 1, 25)

	purchase, err := shop.Purchase(context.Background(), buyerID, itemID)
	require.NoError(t, err)
	require.Equal(t, 0, store.items[itemID].Quantity)

	cancelled, err := shop.Cancel(context.Background(), purchase.PickupCode)
	require.NoError(t, err)

	assert.Equal(t, models.PurchaseStatusCancelled, cancelled.Status)
	assert.Equal(t, 25.0, store.balances[buyerID], "cancellation must refund the snapshotted price")
	assert.Equal(t, 1, store.items[itemID].Quantity)
}

func TestCancelTwiceFails(t *testing.T) {
	store := newMemShop()
	shop := newTestShop(store)
	itemID, buyerID := seedItemAndBuyer(store, 10, 1, 25)

	purchase, err := shop.Purchase(context.Background(), buyerID, itemID)
	require.NoError(t, err)

	_, err = shop.Cancel(context.Background(), purchase.PickupCode)
	require.NoError(t, err)

	// The second cancel must not refund a second time.
	_, err = shop.Cancel(context.Background(), purchase.PickupCode)
	assert.ErrorIs(t, err, ErrPurchaseNotFound)
	assert.Equal(t, 25.0, store.balances[buyerID])
}

func TestCompleteMarksPurchaseCollected(t *testing.T) {
	store := newMemShop()
	shop := newTestShop(store)
	itemID, buyerID := seedItemAndBuyer(store, 10, 1, 25)

	purchase, err := shop.Purchase(context.Background(), buyerID, itemID)
	require.NoError(t, err)

	completed, err := shop.Complete(context.Background(), purchase.PickupCode)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStatusCompleted, completed.Status)

	// Completed orders cannot be cancelled for a refund.
	_, err = shop.Cancel(context.Background(), purchase.PickupCode)
	assert.ErrorIs(t, err, ErrPurchaseNotFound)
}

func TestCompleteUnknownCode(t *testing.T) {
	store := newMemShop()
	shop := newTestShop(store)

	_, err := shop.Complete(context.Background(), "ZZZZZZ")
	assert.ErrorIs(t, err, ErrPurchaseNotFound)
}

func TestGeneratePickupCodeShape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := generatePickupCode()
		require.NoError(t, err)
		assert.Regexp(t, pickupCodePattern, code)
		seen[code] = true
	}
	// 50 draws from a 36^6 space colliding down to a handful would mean a
	// broken generator.
	assert.Greater(t, len(seen), 45)
}
