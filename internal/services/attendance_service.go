package services

import (
	"context"
	"encoding/json"
	"time"

	"example.com/urban/services/attendance/internal/authority"
	"example.com/urban/services/attendance/internal/cache"
	"example.com/urban/services/attendance/internal/metrics"
	"example.com/urban/services/attendance/internal/models"
	"example.com/urban/services/attendance/internal/repositories"
	"example.com/urban/services/attendance/internal/search"
	"example.com/urban/services/attendance/internal/tracing"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Expected redemption outcomes. Everything else coming out of Redeem is an
// infrastructure failure and must not be masked: a swallowed storage error
// could report success for a credit that never persisted.
var (
	ErrInvalidCodeFormat = errors.New("code must be a 4-character alphanumeric string")
	// ErrCodeExpired covers both a wrong code and a code older than the
	// two-bucket window; the two cases are deliberately indistinguishable.
	ErrCodeExpired     = errors.New("code is expired or not valid for this event")
	ErrAlreadyRedeemed = errors.New("user has already checked out of this event")
	ErrEventNotFound   = errors.New("event not found")
	ErrUserNotFound    = errors.New("user not found")

	// ErrSearchUnavailable reports that the analytics index is not
	// configured for this deployment.
	ErrSearchUnavailable = errors.New("redemption search is not available")
)

// RedemptionResult reports a successful check-out credit
type RedemptionResult struct {
	Redemption    *models.Redemption `json:"redemption"`
	HoursCredited int64              `json:"hours_credited"`
	CoinsCredited float64            `json:"coins_credited"`
	TotalHours    int64              `json:"total_hours"`
	TotalCoins    float64            `json:"total_coins"`
}

// AttendanceService issues check-out codes and credits the ledger on
// redemption, exactly once per (user, event) pair.
type AttendanceService struct {
	authority      *authority.Authority
	eventRepo      repositories.EventRepository
	userRepo       repositories.UserRepository
	redemptionRepo repositories.RedemptionRepository
	cache          *cache.RedisCache
	elasticClient  *search.ElasticClient
	collector      *metrics.Metrics
	tracer         tracing.Tracer
	now            func() time.Time
}

// NewAttendanceService creates a new attendance service. The cache and the
// Elasticsearch client are optional; without them codes are derived on
// every call and redemptions are not indexed.
func NewAttendanceService(
	auth *authority.Authority,
	eventRepo repositories.EventRepository,
	userRepo repositories.UserRepository,
	redemptionRepo repositories.RedemptionRepository,
	redisCache *cache.RedisCache,
	elasticClient *search.ElasticClient,
	collector *metrics.Metrics,
	tracer tracing.Tracer,
) *AttendanceService {
	return &AttendanceService{
		authority:      auth,
		eventRepo:      eventRepo,
		userRepo:       userRepo,
		redemptionRepo: redemptionRepo,
		cache:          redisCache,
		elasticClient:  elasticClient,
		collector:      collector,
		tracer:         tracer,
		now:            time.Now,
	}
}

// IssueCode derives the current check-out code for an event, serving the
// pre-rendered artifact from cache when the worker has one for this bucket.
func (s *AttendanceService) IssueCode(ctx context.Context, eventID uuid.UUID) (*authority.IssuedCode, error) {
	txn := s.tracer.StartTransaction("issue-code")
	defer s.tracer.EndTransaction(txn)

	if _, err := s.eventRepo.GetByID(ctx, eventID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrEventNotFound
		}
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to look up event")
	}

	bucket := authority.Bucket(s.now())
	if s.cache.Enabled() {
		var cached authority.IssuedCode
		if err := s.cache.Get(ctx, cache.GetIssuedCodeCacheKey(eventID, bucket), &cached); err == nil {
			return &cached, nil
		}
	}

	issued, err := s.authority.Issue(eventID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.cacheIssuedCode(ctx, issued)
	s.collector.IncrementCounter(metrics.CodesIssued)
	return issued, nil
}

// RefreshDisplayCodes pre-renders the current code artifact for every
// active event into the cache. The worker runs this on a short interval so
// polling display surfaces mostly hit redis.
func (s *AttendanceService) RefreshDisplayCodes(ctx context.Context) error {
	if !s.cache.Enabled() {
		return nil
	}

	events, err := s.eventRepo.ListActive(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list active events")
	}

	for _, event := range events {
		issued, err := s.authority.Issue(event.ID)
		if err != nil {
			log.Error().Err(err).Str("event_id", event.ID.String()).Msg("Failed to render display code")
			continue
		}
		s.cacheIssuedCode(ctx, issued)
	}

	log.Debug().Int("events", len(events)).Msg("Display codes refreshed")
	return nil
}

func (s *AttendanceService) cacheIssuedCode(ctx context.Context, issued *authority.IssuedCode) {
	if !s.cache.Enabled() {
		return
	}
	key := cache.GetIssuedCodeCacheKey(issued.EventID, issued.Bucket)
	// The artifact is only served for its own bucket, so the TTL just has
	// to outlive the bucket.
	if err := s.cache.Set(ctx, key, issued, 2*authority.BucketSeconds*time.Second); err != nil {
		log.Warn().Err(err).Msg("Failed to cache issued code")
	}
}

// Redeem validates a presented code for an event and credits the user's
// ledger exactly once. The check order is fixed: shape, event, code window,
// prior redemption, then the transactional credit.
func (s *AttendanceService) Redeem(ctx context.Context, eventID, userID uuid.UUID, rawCode string) (*RedemptionResult, error) {
	txn := s.tracer.StartTransaction("redeem-code")
	defer s.tracer.EndTransaction(txn)
	s.tracer.AddAttribute(txn, "event_id", eventID.String())
	s.tracer.AddAttribute(txn, "user_id", userID.String())

	// Shape check happens before any store access.
	code, err := authority.Normalize(rawCode)
	if err != nil {
		return nil, ErrInvalidCodeFormat
	}

	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrEventNotFound
		}
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to look up event")
	}

	if !s.authority.Verify(eventID, code) {
		s.collector.IncrementCounter(metrics.RedemptionsRejected)
		return nil, ErrCodeExpired
	}

	exists, err := s.redemptionRepo.Exists(ctx, userID, eventID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to check for prior redemption")
	}
	if exists {
		s.collector.IncrementCounter(metrics.RedemptionsDuplicate)
		return nil, ErrAlreadyRedeemed
	}

	redemption := &models.Redemption{
		ID:            uuid.New(),
		UserID:        userID,
		EventID:       eventID,
		RedeemedAt:    s.now(),
		HoursCredited: event.RewardHours,
		CoinsCredited: event.RewardCoins,
	}

	user, err := s.redemptionRepo.CreditRedemption(ctx, redemption)
	if err != nil {
		// A concurrent redemption can slip between the existence check and
		// the insert; the unique index turns that race into a duplicate.
		if errors.Is(err, repositories.ErrDuplicateRedemption) {
			s.collector.IncrementCounter(metrics.RedemptionsDuplicate)
			return nil, ErrAlreadyRedeemed
		}
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to credit redemption")
	}

	s.collector.IncrementCounter(metrics.RedemptionsAccepted)
	log.Info().
		Str("user_id", userID.String()).
		Str("event_id", eventID.String()).
		Int64("hours", redemption.HoursCredited).
		Float64("coins", redemption.CoinsCredited).
		Msg("Redemption credited")

	s.indexRedemption(ctx, redemption, event)

	return &RedemptionResult{
		Redemption:    redemption,
		HoursCredited: redemption.HoursCredited,
		CoinsCredited: redemption.CoinsCredited,
		TotalHours:    user.Hours,
		TotalCoins:    user.Coins,
	}, nil
}

// indexRedemption ships the redemption to Elasticsearch for analytics. The
// credit has already committed, so indexing failures only cost search
// freshness and are logged rather than surfaced.
func (s *AttendanceService) indexRedemption(ctx context.Context, redemption *models.Redemption, event *models.Event) {
	if s.elasticClient == nil {
		return
	}
	if err := s.elasticClient.IndexRedemption(ctx, redemption, event); err != nil {
		log.Warn().
			Err(err).
			Str("redemption_id", redemption.ID.String()).
			Msg("Failed to index redemption")
	}
}

// ProcessScanMessage processes one queued scan payload relayed by a kiosk
// device, feeding it through the same redemption path as the HTTP surface.
func (s *AttendanceService) ProcessScanMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	var payload models.ScanPayload
	if err := json.Unmarshal(message.Body, &payload); err != nil {
		// A malformed payload will never parse on redelivery either.
		log.Error().Err(err).Str("message_id", message.MessageID).Msg("Dropping unparseable scan payload")
		return nil
	}

	_, err := s.Redeem(ctx, payload.EventID, payload.UserID, payload.Code)
	switch {
	case err == nil:
		log.Info().
			Str("device", payload.DeviceTag).
			Str("user_id", payload.UserID.String()).
			Msg("Queued scan redeemed")
		return nil
	case errors.Is(err, ErrInvalidCodeFormat),
		errors.Is(err, ErrCodeExpired),
		errors.Is(err, ErrAlreadyRedeemed),
		errors.Is(err, ErrEventNotFound),
		errors.Is(err, ErrUserNotFound):
		// Terminal outcomes; redelivery cannot change them.
		log.Info().
			Err(err).
			Str("device", payload.DeviceTag).
			Str("user_id", payload.UserID.String()).
			Msg("Queued scan rejected")
		return nil
	default:
		return err
	}
}

// SearchRedemptions queries the analytics index. Filters are optional; a
// nil uuid matches everything. Results come from Elasticsearch, so they can
// trail the transactional store by however long indexing lagged.
func (s *AttendanceService) SearchRedemptions(ctx context.Context, eventID, userID uuid.UUID, size int) ([]map[string]interface{}, error) {
	if s.elasticClient == nil {
		return nil, ErrSearchUnavailable
	}
	if size <= 0 || size > 100 {
		size = 20
	}

	var must []map[string]interface{}
	if eventID != uuid.Nil {
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{"event_id": eventID.String()},
		})
	}
	if userID != uuid.Nil {
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{"user_id": userID.String()},
		})
	}
	if must == nil {
		must = []map[string]interface{}{{"match_all": map[string]interface{}{}}}
	}

	query := map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"must": must},
		},
		"sort": []map[string]interface{}{
			{"redeemed_at": map[string]interface{}{"order": "desc"}},
		},
	}

	docs, err := s.elasticClient.SearchRedemptions(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search redemptions")
	}
	return docs, nil
}

// Balance returns a user's current ledger balance
func (s *AttendanceService) Balance(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrap(err, "failed to look up user")
	}
	return user, nil
}

// History returns a user's redemptions, newest first
func (s *AttendanceService) History(ctx context.Context, userID uuid.UUID) ([]models.Redemption, error) {
	return s.redemptionRepo.ListByUser(ctx, userID)
}

// CreateEvent records a new event. Reward amounts are final from this point
// on; the authority will derive codes from the event id alone.
func (s *AttendanceService) CreateEvent(ctx context.Context, event *models.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return s.eventRepo.Create(ctx, event)
}

// ListEvents returns all events
func (s *AttendanceService) ListEvents(ctx context.Context) ([]models.Event, error) {
	return s.eventRepo.List(ctx)
}

// GetEvent returns one event by id
func (s *AttendanceService) GetEvent(ctx context.Context, eventID uuid.UUID) (*models.Event, error) {
	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return event, nil
}

// CreateUser registers a new community member with a zero balance
func (s *AttendanceService) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	return s.userRepo.Create(ctx, user)
}
