package handlers

import (
	"net/http"

	"example.com/urban/services/attendance/internal/models"
	"example.com/urban/services/attendance/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ShopHandler handles coin shop HTTP requests
type ShopHandler struct {
	shop *services.ShopService
}

// NewShopHandler creates a new shop handler
func NewShopHandler(shop *services.ShopService) *ShopHandler {
	return &ShopHandler{shop: shop}
}

// CreateItemRequest represents a shop item creation request
type CreateItemRequest struct {
	Name     string  `json:"name" binding:"required"`
	Price    float64 `json:"price" binding:"min=0"`
	Quantity int     `json:"quantity" binding:"min=0"`
}

// PurchaseRequest represents a purchase request
type PurchaseRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

// HandleCreateItem adds a new item to the shop
func (h *ShopHandler) HandleCreateItem(c *gin.Context) {
	var req CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item := &models.ShopItem{
		ID:       uuid.New(),
		Name:     req.Name,
		Price:    req.Price,
		Quantity: req.Quantity,
	}
	if err := h.shop.CreateItem(c, item); err != nil {
		log.Error().Err(err).Msg("Failed to create shop item")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create item"})
		return
	}
	c.JSON(http.StatusCreated, item)
}

// HandleListItems lists shop items
func (h *ShopHandler) HandleListItems(c *gin.Context) {
	items, err := h.shop.ListItems(c)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list shop items")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list items"})
		return
	}
	c.JSON(http.StatusOK, items)
}

// HandlePurchase debits the buyer's coins, reserves stock and returns the
// pickup code for collection.
func (h *ShopHandler) HandlePurchase(c *gin.Context) {
	itemID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return
	}

	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	purchase, err := h.shop.Purchase(c, req.UserID, itemID)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, purchase)
	case errors.Is(err, services.ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
	case errors.Is(err, services.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, services.ErrItemOutOfStock):
		c.JSON(http.StatusConflict, gin.H{"error": "item is out of stock"})
	case errors.Is(err, services.ErrInsufficientCoins):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "not enough coins"})
	default:
		log.Error().Err(err).Msg("Purchase failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong, try again"})
	}
}

// HandleListOrders lists a user's pending purchases
func (h *ShopHandler) HandleListOrders(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	orders, err := h.shop.PendingPurchases(c, userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list orders")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list orders"})
		return
	}
	c.JSON(http.StatusOK, orders)
}

// HandleCompleteOrder marks a purchase as collected
func (h *ShopHandler) HandleCompleteOrder(c *gin.Context) {
	purchase, err := h.shop.Complete(c, c.Param("code"))
	if err != nil {
		if errors.Is(err, services.ErrPurchaseNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found or not pending"})
			return
		}
		log.Error().Err(err).Msg("Failed to complete order")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to complete order"})
		return
	}
	c.JSON(http.StatusOK, purchase)
}

// HandleCancelOrder cancels a pending purchase, refunding coins and
// restoring stock.
func (h *ShopHandler) HandleCancelOrder(c *gin.Context) {
	purchase, err := h.shop.Cancel(c, c.Param("code"))
	if err != nil {
		if errors.Is(err, services.ErrPurchaseNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found or not pending"})
			return
		}
		log.Error().Err(err).Msg("Failed to cancel order")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel order"})
		return
	}
	c.JSON(http.StatusOK, purchase)
}

// RegisterRoutes registers the handler's routes
func (h *ShopHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")

	shop := api.Group("/shop")
	shop.GET("/items", h.HandleListItems)
	shop.POST("/items", h.HandleCreateItem)
	shop.POST("/items/:id/purchase", h.HandlePurchase)
	shop.POST("/orders/:code/complete", h.HandleCompleteOrder)
	shop.POST("/orders/:code/cancel", h.HandleCancelOrder)

	api.GET("/users/:id/orders", h.HandleListOrders)
}
