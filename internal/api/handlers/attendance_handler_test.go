package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"example.com/urban/services/attendance/config"
	"example.com/urban/services/attendance/internal/authority"
	"example.com/urban/services/attendance/internal/metrics"
	"example.com/urban/services/attendance/internal/models"
	"example.com/urban/services/attendance/internal/repositories"
	"example.com/urban/services/attendance/internal/services"
	"example.com/urban/services/attendance/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore backs the handler tests with in-memory event, user and
// redemption repositories.
type fakeStore struct {
	mu          sync.Mutex
	events      map[uuid.UUID]models.Event
	users       map[uuid.UUID]models.User
	redemptions map[string]models.Redemption
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:      make(map[uuid.UUID]models.Event),
		users:       make(map[uuid.UUID]models.User),
		redemptions: make(map[string]models.Redemption),
	}
}

func pairKey(userID, eventID uuid.UUID) string {
	return userID.String() + "|" + eventID.String()
}

type fakeEvents struct{ *fakeStore }

func (f fakeEvents) Create(ctx context.Context, event *models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[event.ID] = *event
	return nil
}

func (f fakeEvents) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &event, nil
}

func (f fakeEvents) List(ctx context.Context) ([]models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]models.Event, 0, len(f.events))
	for _, e := range f.events {
		events = append(events, e)
	}
	return events, nil
}

func (f fakeEvents) ListActive(ctx context.Context) ([]models.Event, error) {
	return f.List(ctx)
}

type fakeUsers struct{ *fakeStore }

func (f fakeUsers) Create(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = *user
	return nil
}

func (f fakeUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &user, nil
}

func (f fakeUsers) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(f.users))
	for id := range f.users {
		ids = append(ids, id)
	}
	return ids, nil
}

type fakeRedemptions struct{ *fakeStore }

func (f fakeRedemptions) Exists(ctx context.Context, userID, eventID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.redemptions[pairKey(userID, eventID)]
	return ok, nil
}

func (f fakeRedemptions) CreditRedemption(ctx context.Context, redemption *models.Redemption) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pairKey(redemption.UserID, redemption.EventID)
	if _, ok := f.redemptions[key]; ok {
		return nil, repositories.ErrDuplicateRedemption
	}
	user, ok := f.users[redemption.UserID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	f.redemptions[key] = *redemption
	user.Hours += redemption.HoursCredited
	user.Coins += redemption.CoinsCredited
	f.users[redemption.UserID] = user
	return &user, nil
}

func (f fakeRedemptions) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Redemption, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Redemption
	for _, r := range f.redemptions {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f fakeRedemptions) SumByUser(ctx context.Context, userID uuid.UUID) (int64, float64, error) {
	return 0, 0, nil
}

func setupTestRouter(t *testing.T, store *fakeStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tracer, err := tracing.NewTracer(config.TracingConfig{})
	require.NoError(t, err)

	svc := services.NewAttendanceService(
		authority.New(),
		fakeEvents{store},
		fakeUsers{store},
		fakeRedemptions{store},
		nil,
		nil,
		metrics.NewMetrics(),
		tracer,
	)

	router := gin.New()
	NewAttendanceHandler(svc, tracer).RegisterRoutes(router)
	return router
}

func performRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleIssueCodeReturnsArtifact(t *testing.T) {
	store := newFakeStore()
	eventID := uuid.New()
	store.events[eventID] = models.Event{ID: eventID, Title: "Cleanup", IsActive: true}
	router := setupTestRouter(t, store)

	w := performRequest(router, http.MethodGet, "/api/v1/events/"+eventID.String()+"/code", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var issued authority.IssuedCode
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
	assert.Len(t, issued.Code, authority.CodeLength)
	assert.NotEmpty(t, issued.QRCodePNG)
	assert.True(t, issued.ExpiresAt.After(time.Now()))
}

func TestHandleIssueCodeUnknownEvent(t *testing.T) {
	router := setupTestRouter(t, newFakeStore())

	w := performRequest(router, http.MethodGet, "/api/v1/events/"+uuid.NewString()+"/code", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleRedeemStatusMapping(t *testing.T) {
	store := newFakeStore()
	eventID := uuid.New()
	userID := uuid.New()
	store.events[eventID] = models.Event{ID: eventID, Title: "Cleanup", RewardHours: 2, IsActive: true}
	store.users[userID] = models.User{ID: userID, Email: "vol@example.org"}
	router := setupTestRouter(t, store)

	validCode := authority.CodeForBucket(eventID, authority.Bucket(time.Now()))
	redeemPath := "/api/v1/events/" + eventID.String() + "/redeem"

	// Malformed shape.
	w := performRequest(router, http.MethodPost, redeemPath, gin.H{"user_id": userID, "code": "TOOLONG"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown event.
	w = performRequest(router, http.MethodPost, "/api/v1/events/"+uuid.NewString()+"/redeem",
		gin.H{"user_id": userID, "code": validCode})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// First valid redemption.
	w = performRequest(router, http.MethodPost, redeemPath, gin.H{"user_id": userID, "code": validCode})
	require.Equal(t, http.StatusOK, w.Code)

	var resp RedeemResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(2), resp.HoursCredited)

	// Repeat is a conflict.
	w = performRequest(router, http.MethodPost, redeemPath, gin.H{"user_id": userID, "code": validCode})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleRedeemExpiredCodeIsGone(t *testing.T) {
	store := newFakeStore()
	eventID := uuid.New()
	userID := uuid.New()
	store.events[eventID] = models.Event{ID: eventID, Title: "Cleanup", IsActive: true}
	store.users[userID] = models.User{ID: userID}
	router := setupTestRouter(t, store)

	stale := authority.CodeForBucket(eventID, authority.Bucket(time.Now())-10)
	now := authority.Bucket(time.Now())
	if stale == authority.CodeForBucket(eventID, now) || stale == authority.CodeForBucket(eventID, now-1) {
		t.Skip("code collided across buckets")
	}

	w := performRequest(router, http.MethodPost, "/api/v1/events/"+eventID.String()+"/redeem",
		gin.H{"user_id": userID, "code": stale})
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestHandleGetBalance(t *testing.T) {
	store := newFakeStore()
	userID := uuid.New()
	store.users[userID] = models.User{ID: userID, Hours: 7, Coins: 32.5}
	router := setupTestRouter(t, store)

	w := performRequest(router, http.MethodGet, "/api/v1/users/"+userID.String()+"/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Hours int64   `json:"hours"`
		Coins float64 `json:"coins"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(7), resp.Hours)
	assert.Equal(t, 32.5, resp.Coins)
}

func TestHandleGetBalanceBadID(t *testing.T) {
	router := setupTestRouter(t, newFakeStore())

	w := performRequest(router, http.MethodGet, "/api/v1/users/not-a-uuid/balance", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSearchRedemptionsWithoutIndex(t *testing.T) {
	// The test service has no Elasticsearch client configured.
	router := setupTestRouter(t, newFakeStore())

	w := performRequest(router, http.MethodGet, "/api/v1/redemptions/search", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = performRequest(router, http.MethodGet, "/api/v1/redemptions/search?event_id=junk", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleCreateEventValidation(t *testing.T) {
	router := setupTestRouter(t, newFakeStore())

	// Missing required title.
	w := performRequest(router, http.MethodPost, "/api/v1/events", gin.H{"location": "Park"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performRequest(router, http.MethodPost, "/api/v1/events",
		gin.H{"title": "Tree planting", "reward_hours": 2, "reward_coins": 10})
	assert.Equal(t, http.StatusCreated, w.Code)
}
