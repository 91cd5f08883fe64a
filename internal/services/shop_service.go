package services

import (
	"context"
	"crypto/rand"
	"math/big"

	"example.com/urban/services/attendance/internal/metrics"
	"example.com/urban/services/attendance/internal/models"
	"example.com/urban/services/attendance/internal/repositories"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Expected shop outcomes.
var (
	ErrItemNotFound      = errors.New("shop item not found")
	ErrItemOutOfStock    = errors.New("shop item is out of stock")
	ErrInsufficientCoins = errors.New("coin balance does not cover the price")
	ErrPurchaseNotFound  = errors.New("no pending purchase with this code")
)

const (
	pickupCodeLength  = 6
	pickupCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// ShopService runs the coin shop: purchases debit the ledger, cancellations
// refund it.
type ShopService struct {
	shopRepo     repositories.ShopRepository
	purchaseRepo repositories.PurchaseRepository
	collector    *metrics.Metrics
}

// NewShopService creates a new shop service
func NewShopService(
	shopRepo repositories.ShopRepository,
	purchaseRepo repositories.PurchaseRepository,
	collector *metrics.Metrics,
) *ShopService {
	return &ShopService{
		shopRepo:     shopRepo,
		purchaseRepo: purchaseRepo,
		collector:    collector,
	}
}

// generatePickupCode draws a 6-character code the buyer shows at pickup.
// Uniqueness is enforced by the database index, not by this function.
func generatePickupCode() (string, error) {
	code := make([]byte, pickupCodeLength)
	max := big.NewInt(int64(len(pickupCodeCharset)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "failed to draw pickup code character")
		}
		code[i] = pickupCodeCharset[n.Int64()]
	}
	return string(code), nil
}

// Purchase buys one unit of an item for a user. The coin debit, the stock
// decrement and the purchase record are a single transaction; the balance
// can never go negative.
func (s *ShopService) Purchase(ctx context.Context, userID, itemID uuid.UUID) (*models.Purchase, error) {
	item, err := s.shopRepo.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, errors.Wrap(err, "failed to look up shop item")
	}

	code, err := generatePickupCode()
	if err != nil {
		return nil, err
	}

	purchase := &models.Purchase{
		ID:         uuid.New(),
		UserID:     userID,
		ItemID:     item.ID,
		PickupCode: code,
		Price:      item.Price,
		Status:     models.PurchaseStatusPending,
	}

	if err := s.purchaseRepo.PlacePurchase(ctx, purchase); err != nil {
		switch {
		case errors.Is(err, repositories.ErrInsufficientCoins):
			return nil, ErrInsufficientCoins
		case errors.Is(err, repositories.ErrOutOfStock):
			return nil, ErrItemOutOfStock
		case errors.Is(err, repositories.ErrNotFound):
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrap(err, "failed to place purchase")
	}

	s.collector.IncrementCounter(metrics.PurchasesPlaced)
	log.Info().
		Str("user_id", userID.String()).
		Str("item", item.Name).
		Float64("price", item.Price).
		Msg("Purchase placed")

	return purchase, nil
}

// Complete marks a pending purchase as handed out
func (s *ShopService) Complete(ctx context.Context, pickupCode string) (*models.Purchase, error) {
	purchase, err := s.purchaseRepo.Complete(ctx, pickupCode)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrPurchaseNotFound
		}
		return nil, errors.Wrap(err, "failed to complete purchase")
	}
	return purchase, nil
}

// Cancel cancels a pending purchase, returning the coins to the buyer and
// the unit to stock.
func (s *ShopService) Cancel(ctx context.Context, pickupCode string) (*models.Purchase, error) {
	purchase, err := s.purchaseRepo.Cancel(ctx, pickupCode)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrPurchaseNotFound
		}
		return nil, errors.Wrap(err, "failed to cancel purchase")
	}

	s.collector.IncrementCounter(metrics.PurchasesCancelled)
	log.Info().
		Str("purchase_id", purchase.ID.String()).
		Float64("refund", purchase.Price).
		Msg("Purchase cancelled, coins refunded")

	return purchase, nil
}

// CreateItem adds an item to the shop
func (s *ShopService) CreateItem(ctx context.Context, item *models.ShopItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	return s.shopRepo.CreateItem(ctx, item)
}

// ListItems returns all shop items
func (s *ShopService) ListItems(ctx context.Context) ([]models.ShopItem, error) {
	return s.shopRepo.ListItems(ctx)
}

// PendingPurchases returns a user's pending orders
func (s *ShopService) PendingPurchases(ctx context.Context, userID uuid.UUID) ([]models.Purchase, error) {
	return s.purchaseRepo.ListPendingByUser(ctx, userID)
}
