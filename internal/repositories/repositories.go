package repositories

import (
	"context"

	"example.com/urban/services/attendance/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sentinel errors the service layer maps onto caller-facing outcomes.
var (
	ErrDuplicateRedemption = errors.New("database: redemption already exists for user and event")
	ErrInsufficientCoins   = errors.New("database: coin balance below purchase price")
	ErrOutOfStock          = errors.New("database: shop item out of stock")
	ErrNotFound            = errors.New("database: record not found")
)

// EventRepository provides access to event data. Events are read-only to
// the redemption path; reward amounts never change after creation.
type EventRepository interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	List(ctx context.Context) ([]models.Event, error)
	ListActive(ctx context.Context) ([]models.Event, error)
}

// UserRepository provides access to user and ledger balance data
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
}

// RedemptionRepository provides access to redemption records. The credit
// operation is the idempotency guard for the whole check-out flow.
type RedemptionRepository interface {
	Exists(ctx context.Context, userID, eventID uuid.UUID) (bool, error)
	// CreditRedemption inserts the redemption record and credits the user's
	// balance in one transaction. A second insert for the same (user, event)
	// pair fails with ErrDuplicateRedemption and leaves the balance
	// untouched. Returns the user with the post-credit balance.
	CreditRedemption(ctx context.Context, redemption *models.Redemption) (*models.User, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Redemption, error)
	SumByUser(ctx context.Context, userID uuid.UUID) (int64, float64, error)
}

// ShopRepository provides access to shop items
type ShopRepository interface {
	CreateItem(ctx context.Context, item *models.ShopItem) error
	GetItem(ctx context.Context, id uuid.UUID) (*models.ShopItem, error)
	ListItems(ctx context.Context) ([]models.ShopItem, error)
}

// PurchaseRepository provides access to purchases and the debit side of the
// ledger.
type PurchaseRepository interface {
	// PlacePurchase debits the user's coins, decrements the item's stock and
	// inserts the purchase row in one transaction. The debit is conditional
	// on the balance covering the price, so the balance can never go
	// negative.
	PlacePurchase(ctx context.Context, purchase *models.Purchase) error
	GetByCode(ctx context.Context, code string) (*models.Purchase, error)
	ListPendingByUser(ctx context.Context, userID uuid.UUID) ([]models.Purchase, error)
	Complete(ctx context.Context, code string) (*models.Purchase, error)
	// Cancel flips a pending purchase to cancelled, refunds the coins and
	// restores the item's stock in one transaction.
	Cancel(ctx context.Context, code string) (*models.Purchase, error)
	SumDebitsByUser(ctx context.Context, userID uuid.UUID) (float64, error)
}

// GormEventRepository implements EventRepository using GORM
type GormEventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *gorm.DB) *GormEventRepository {
	return &GormEventRepository{db: db}
}

// Create creates a new event
func (r *GormEventRepository) Create(ctx context.Context, event *models.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return errors.Wrap(r.db.WithContext(ctx).Create(event).Error, "failed to create event")
}

// GetByID gets an event by ID
func (r *GormEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get event by ID")
	}
	return &event, nil
}

// List returns all events, newest first
func (r *GormEventRepository) List(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&events).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list events")
	}
	return events, nil
}

// ListActive returns events whose codes should currently be displayed
func (r *GormEventRepository) ListActive(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Find(&events).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active events")
	}
	return events, nil
}

// GormUserRepository implements UserRepository using GORM
type GormUserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

// Create creates a new user
func (r *GormUserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	return errors.Wrap(r.db.WithContext(ctx).Create(user).Error, "failed to create user")
}

// GetByID gets a user by ID
func (r *GormUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get user by ID")
	}
	return &user, nil
}

// ListIDs returns the ids of all users, for the ledger reconciler
func (r *GormUserRepository) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.User{}).Pluck("id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list user ids")
	}
	return ids, nil
}

// GormRedemptionRepository implements RedemptionRepository using GORM
type GormRedemptionRepository struct {
	db *gorm.DB
}

// NewRedemptionRepository creates a new redemption repository
func NewRedemptionRepository(db *gorm.DB) *GormRedemptionRepository {
	return &GormRedemptionRepository{db: db}
}

// Exists reports whether a redemption already exists for (user, event)
func (r *GormRedemptionRepository) Exists(ctx context.Context, userID, eventID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Redemption{}).
		Where("user_id = ? AND event_id = ?", userID, eventID).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to check for existing redemption")
	}
	return count > 0, nil
}

// CreditRedemption inserts the redemption record and applies the balance
// credit in one transaction. Concurrency control is the unique index on
// (user_id, event_id): the insert uses ON CONFLICT DO NOTHING, and a
// zero-row insert means another call already redeemed this pair.
func (r *GormRedemptionRepository) CreditRedemption(ctx context.Context, redemption *models.Redemption) (*models.User, error) {
	if redemption.ID == uuid.Nil {
		redemption.ID = uuid.New()
	}

	var user models.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "event_id"}},
			DoNothing: true,
		}).Create(redemption)
		if res.Error != nil {
			return errors.Wrap(res.Error, "failed to insert redemption")
		}
		if res.RowsAffected == 0 {
			return ErrDuplicateRedemption
		}

		credit := tx.Model(&models.User{}).
			Where("id = ?", redemption.UserID).
			Updates(map[string]interface{}{
				"hours": gorm.Expr("hours + ?", redemption.HoursCredited),
				"coins": gorm.Expr("coins + ?", redemption.CoinsCredited),
			})
		if credit.Error != nil {
			return errors.Wrap(credit.Error, "failed to credit ledger balance")
		}
		if credit.RowsAffected == 0 {
			return ErrNotFound
		}

		return errors.Wrap(tx.First(&user, "id = ?", redemption.UserID).Error,
			"failed to read post-credit balance")
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ListByUser returns a user's redemptions, newest first
func (r *GormRedemptionRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Redemption, error) {
	var redemptions []models.Redemption
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("redeemed_at DESC").
		Find(&redemptions).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list redemptions")
	}
	return redemptions, nil
}

// SumByUser returns the total hours and coins a user has been credited
func (r *GormRedemptionRepository) SumByUser(ctx context.Context, userID uuid.UUID) (int64, float64, error) {
	var totals struct {
		Hours int64
		Coins float64
	}
	err := r.db.WithContext(ctx).
		Model(&models.Redemption{}).
		Select("COALESCE(SUM(hours_credited), 0) AS hours, COALESCE(SUM(coins_credited), 0) AS coins").
		Where("user_id = ?", userID).
		Scan(&totals).Error
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to sum redemptions")
	}
	return totals.Hours, totals.Coins, nil
}

// GormShopRepository implements ShopRepository using GORM
type GormShopRepository struct {
	db *gorm.DB
}

// NewShopRepository creates a new shop repository
func NewShopRepository(db *gorm.DB) *GormShopRepository {
	return &GormShopRepository{db: db}
}

// CreateItem creates a new shop item
func (r *GormShopRepository) CreateItem(ctx context.Context, item *models.ShopItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	return errors.Wrap(r.db.WithContext(ctx).Create(item).Error, "failed to create shop item")
}

// GetItem gets a shop item by ID
func (r *GormShopRepository) GetItem(ctx context.Context, id uuid.UUID) (*models.ShopItem, error) {
	var item models.ShopItem
	err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get shop item")
	}
	return &item, nil
}

// ListItems returns all shop items, newest first
func (r *GormShopRepository) ListItems(ctx context.Context) ([]models.ShopItem, error) {
	var items []models.ShopItem
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&items).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list shop items")
	}
	return items, nil
}

// GormPurchaseRepository implements PurchaseRepository using GORM
type GormPurchaseRepository struct {
	db *gorm.DB
}

// NewPurchaseRepository creates a new purchase repository
func NewPurchaseRepository(db *gorm.DB) *GormPurchaseRepository {
	return &GormPurchaseRepository{db: db}
}

// PlacePurchase debits coins, decrements stock and records the purchase in
// one transaction. Both updates are conditional so two concurrent purchases
// cannot overdraw the balance or oversell the item.
func (r *GormPurchaseRepository) PlacePurchase(ctx context.Context, purchase *models.Purchase) error {
	if purchase.ID == uuid.Nil {
		purchase.ID = uuid.New()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		debit := tx.Model(&models.User{}).
			Where("id = ? AND coins >= ?", purchase.UserID, purchase.Price).
			Update("coins", gorm.Expr("coins - ?", purchase.Price))
		if debit.Error != nil {
			return errors.Wrap(debit.Error, "failed to debit coins")
		}
		if debit.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.User{}).Where("id = ?", purchase.UserID).Count(&count).Error; err != nil {
				return errors.Wrap(err, "failed to check user existence")
			}
			if count == 0 {
				return ErrNotFound
			}
			return ErrInsufficientCoins
		}

		stock := tx.Model(&models.ShopItem{}).
			Where("id = ? AND quantity > 0", purchase.ItemID).
			Update("quantity", gorm.Expr("quantity - 1"))
		if stock.Error != nil {
			return errors.Wrap(stock.Error, "failed to decrement stock")
		}
		if stock.RowsAffected == 0 {
			return ErrOutOfStock
		}

		return errors.Wrap(tx.Create(purchase).Error, "failed to insert purchase")
	})
}

// GetByCode gets a purchase by its pickup code
func (r *GormPurchaseRepository) GetByCode(ctx context.Context, code string) (*models.Purchase, error) {
	var purchase models.Purchase
	err := r.db.WithContext(ctx).First(&purchase, "pickup_code = ?", code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get purchase by code")
	}
	return &purchase, nil
}

// ListPendingByUser returns a user's pending purchases
func (r *GormPurchaseRepository) ListPendingByUser(ctx context.Context, userID uuid.UUID) ([]models.Purchase, error) {
	var purchases []models.Purchase
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.PurchaseStatusPending).
		Order("created_at DESC").
		Find(&purchases).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending purchases")
	}
	return purchases, nil
}

// Complete marks a pending purchase as handed out
func (r *GormPurchaseRepository) Complete(ctx context.Context, code string) (*models.Purchase, error) {
	var purchase models.Purchase
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Purchase{}).
			Where("pickup_code = ? AND status = ?", code, models.PurchaseStatusPending).
			Update("status", models.PurchaseStatusCompleted)
		if res.Error != nil {
			return errors.Wrap(res.Error, "failed to complete purchase")
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return errors.Wrap(tx.First(&purchase, "pickup_code = ?", code).Error,
			"failed to read completed purchase")
	})
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

// Cancel flips a pending purchase to cancelled and returns the coins and
// the stock. The purchase row stays for the audit trail.
func (r *GormPurchaseRepository) Cancel(ctx context.Context, code string) (*models.Purchase, error) {
	var purchase models.Purchase
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&purchase, "pickup_code = ?", code).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return errors.Wrap(err, "failed to load purchase")
		}

		res := tx.Model(&models.Purchase{}).
			Where("id = ? AND status = ?", purchase.ID, models.PurchaseStatusPending).
			Update("status", models.PurchaseStatusCancelled)
		if res.Error != nil {
			return errors.Wrap(res.Error, "failed to cancel purchase")
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		refund := tx.Model(&models.User{}).
			Where("id = ?", purchase.UserID).
			Update("coins", gorm.Expr("coins + ?", purchase.Price))
		if refund.Error != nil {
			return errors.Wrap(refund.Error, "failed to refund coins")
		}

		restock := tx.Model(&models.ShopItem{}).
			Where("id = ?", purchase.ItemID).
			Update("quantity", gorm.Expr("quantity + 1"))
		return errors.Wrap(restock.Error, "failed to restore stock")
	})
	if err != nil {
		return nil, err
	}
	purchase.Status = models.PurchaseStatusCancelled
	return &purchase, nil
}

// SumDebitsByUser returns the coin total of a user's non-cancelled purchases
func (r *GormPurchaseRepository) SumDebitsByUser(ctx context.Context, userID uuid.UUID) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Select("COALESCE(SUM(price), 0)").
		Where("user_id = ? AND status != ?", userID, models.PurchaseStatusCancelled).
		Scan(&total).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to sum purchase debits")
	}
	return total, nil
}
