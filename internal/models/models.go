package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Purchase lifecycle states. Cancelled purchases are kept for the audit
// trail; the coins and stock are returned when the status flips.
const (
	PurchaseStatusPending   = "pending"
	PurchaseStatusCompleted = "completed"
	PurchaseStatusCancelled = "cancelled"
)

// User represents a community member and carries the running ledger balance.
// Hours and coins must always equal the sum over the user's redemptions
// minus completed purchase debits.
type User struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Email     string         `gorm:"not null;uniqueIndex" json:"email"`
	Name      string         `gorm:"not null" json:"name"`
	Hours     int64          `gorm:"not null;default:0" json:"hours"`
	Coins     float64        `gorm:"not null;default:0" json:"coins"`
}

// Event represents a community event. Reward amounts are fixed at creation
// and never change once check-out codes may have been issued for it.
type Event struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	Title       string         `gorm:"not null" json:"title"`
	Description string         `json:"description"`
	Location    string         `json:"location"`
	RewardHours int64          `gorm:"not null;default:0" json:"reward_hours"`
	RewardCoins float64        `gorm:"not null;default:0" json:"reward_coins"`
	StartTime   *time.Time     `json:"start_time"`
	EndTime     *time.Time     `json:"end_time"`
	IsActive    bool           `gorm:"not null;default:true" json:"is_active"`
	Redemptions []Redemption   `gorm:"foreignKey:EventID" json:"-"`
}

// Redemption records one user's completed check-out for one event. The
// composite unique index is the idempotency guard: at most one row per
// (user, event) pair. Rows are never updated or deleted.
type Redemption struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
	UserID        uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_redemptions_user_event" json:"user_id"`
	EventID       uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_redemptions_user_event" json:"event_id"`
	RedeemedAt    time.Time      `gorm:"not null" json:"redeemed_at"`
	HoursCredited int64          `gorm:"not null" json:"hours_credited"`
	CoinsCredited float64        `gorm:"not null" json:"coins_credited"`
}

// ShopItem represents an item purchasable with coins
type ShopItem struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	Name        string         `gorm:"not null" json:"name"`
	Description string         `json:"description"`
	ImageURL    string         `json:"image_url"`
	Price       float64        `gorm:"not null" json:"price"`
	Quantity    int            `gorm:"not null;default:0" json:"quantity"`
}

// Purchase represents one shop order. Price is snapshotted at purchase time
// so later item edits cannot change the refund amount.
type Purchase struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
	UserID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	ItemID     uuid.UUID      `gorm:"type:uuid;not null" json:"item_id"`
	PickupCode string         `gorm:"not null;uniqueIndex" json:"pickup_code"`
	Price      float64        `gorm:"not null" json:"price"`
	Status     string         `gorm:"not null;default:pending" json:"status"`
	Item       ShopItem       `gorm:"foreignKey:ItemID" json:"-"`
}

// ScanPayload represents a scan submission relayed from a kiosk device
type ScanPayload struct {
	EventID   uuid.UUID `json:"event_id"`
	UserID    uuid.UUID `json:"user_id"`
	Code      string    `json:"code"`
	DeviceTag string    `json:"device"`
	Time      int64     `json:"t"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	// Apply all migrations
	err := db.AutoMigrate(
		&User{},
		&Event{},
		&Redemption{},
		&ShopItem{},
		&Purchase{},
	)

	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
