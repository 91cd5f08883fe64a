package handlers

import (
	"net/http"

	"example.com/urban/services/attendance/internal/models"
	"example.com/urban/services/attendance/internal/services"
	"example.com/urban/services/attendance/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// AttendanceHandler handles event, code and redemption HTTP requests
type AttendanceHandler struct {
	attendance *services.AttendanceService
	tracer     tracing.Tracer
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(attendance *services.AttendanceService, tracer tracing.Tracer) *AttendanceHandler {
	return &AttendanceHandler{
		attendance: attendance,
		tracer:     tracer,
	}
}

// CreateEventRequest represents an event creation request
type CreateEventRequest struct {
	Title       string  `json:"title" binding:"required"`
	Description string  `json:"description"`
	Location    string  `json:"location"`
	RewardHours int64   `json:"reward_hours" binding:"min=0"`
	RewardCoins float64 `json:"reward_coins" binding:"min=0"`
}

// RedeemRequest represents a code redemption request
type RedeemRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
	Code   string    `json:"code" binding:"required"`
}

// RedeemResponse represents a successful redemption
type RedeemResponse struct {
	Success       bool    `json:"success"`
	Message       string  `json:"message"`
	HoursCredited int64   `json:"hours_credited"`
	CoinsCredited float64 `json:"coins_credited"`
	TotalHours    int64   `json:"total_hours"`
	TotalCoins    float64 `json:"total_coins"`
}

// CreateUserRequest represents a user registration request
type CreateUserRequest struct {
	Email string `json:"email" binding:"required,email"`
	Name  string `json:"name" binding:"required"`
}

// HandleCreateEvent creates a new event
func (h *AttendanceHandler) HandleCreateEvent(c *gin.Context) {
	var req CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event := &models.Event{
		ID:          uuid.New(),
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		RewardHours: req.RewardHours,
		RewardCoins: req.RewardCoins,
		IsActive:    true,
	}

	if err := h.attendance.CreateEvent(c, event); err != nil {
		log.Error().Err(err).Msg("Failed to create event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create event"})
		return
	}

	c.JSON(http.StatusCreated, event)
}

// HandleListEvents lists all events
func (h *AttendanceHandler) HandleListEvents(c *gin.Context) {
	events, err := h.attendance.ListEvents(c)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}
	c.JSON(http.StatusOK, events)
}

// HandleGetEvent returns one event
func (h *AttendanceHandler) HandleGetEvent(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	event, err := h.attendance.GetEvent(c, eventID)
	if err != nil {
		if errors.Is(err, services.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		log.Error().Err(err).Msg("Failed to get event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get event"})
		return
	}
	c.JSON(http.StatusOK, event)
}

// HandleIssueCode returns the current check-out code and its QR rendering
// for an event. Display surfaces poll this endpoint.
func (h *AttendanceHandler) HandleIssueCode(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	issued, err := h.attendance.IssueCode(c, eventID)
	if err != nil {
		if errors.Is(err, services.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		log.Error().Err(err).Msg("Failed to issue code")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue code"})
		return
	}

	c.JSON(http.StatusOK, issued)
}

// HandleRedeem validates a presented code and credits the ledger. Every
// expected outcome maps to its own status so the client can render the
// right message.
func (h *AttendanceHandler) HandleRedeem(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.attendance.Redeem(c, eventID, req.UserID, req.Code)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, RedeemResponse{
			Success:       true,
			Message:       "Checked out successfully",
			HoursCredited: result.HoursCredited,
			CoinsCredited: result.CoinsCredited,
			TotalHours:    result.TotalHours,
			TotalCoins:    result.TotalCoins,
		})
	case errors.Is(err, services.ErrInvalidCodeFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": "code must be 4 characters"})
	case errors.Is(err, services.ErrCodeExpired):
		c.JSON(http.StatusGone, gin.H{"error": "code expired or invalid, refresh and try again"})
	case errors.Is(err, services.ErrAlreadyRedeemed):
		c.JSON(http.StatusConflict, gin.H{"error": "already checked out of this event"})
	case errors.Is(err, services.ErrEventNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
	case errors.Is(err, services.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	default:
		log.Error().Err(err).Msg("Redemption failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong, try again"})
	}
}

// HandleCreateUser registers a new community member
func (h *AttendanceHandler) HandleCreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := &models.User{
		ID:    uuid.New(),
		Email: req.Email,
		Name:  req.Name,
	}
	if err := h.attendance.CreateUser(c, user); err != nil {
		log.Error().Err(err).Msg("Failed to create user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusCreated, user)
}

// HandleGetBalance returns a user's ledger balance
func (h *AttendanceHandler) HandleGetBalance(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	user, err := h.attendance.Balance(c, userID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		log.Error().Err(err).Msg("Failed to get balance")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get balance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": user.ID,
		"hours":   user.Hours,
		"coins":   user.Coins,
	})
}

// HandleGetHistory returns a user's redemption history
func (h *AttendanceHandler) HandleGetHistory(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	redemptions, err := h.attendance.History(c, userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get history"})
		return
	}
	c.JSON(http.StatusOK, redemptions)
}

// HandleSearchRedemptions queries the analytics index with optional
// event_id and user_id filters.
func (h *AttendanceHandler) HandleSearchRedemptions(c *gin.Context) {
	var eventID, userID uuid.UUID
	var err error

	if raw := c.Query("event_id"); raw != "" {
		if eventID, err = uuid.Parse(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event_id"})
			return
		}
	}
	if raw := c.Query("user_id"); raw != "" {
		if userID, err = uuid.Parse(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
	}

	docs, err := h.attendance.SearchRedemptions(c, eventID, userID, 0)
	if err != nil {
		if errors.Is(err, services.ErrSearchUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search is not available"})
			return
		}
		log.Error().Err(err).Msg("Failed to search redemptions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to search redemptions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": docs})
}

// RegisterRoutes registers the handler's routes
func (h *AttendanceHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")

	events := api.Group("/events")
	events.POST("", h.HandleCreateEvent)
	events.GET("", h.HandleListEvents)
	events.GET("/:id", h.HandleGetEvent)
	events.GET("/:id/code", h.HandleIssueCode)
	events.POST("/:id/redeem", h.HandleRedeem)

	users := api.Group("/users")
	users.POST("", h.HandleCreateUser)
	users.GET("/:id/balance", h.HandleGetBalance)
	users.GET("/:id/history", h.HandleGetHistory)

	api.GET("/redemptions/search", h.HandleSearchRedemptions)
}
