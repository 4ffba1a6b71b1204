package events

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/steelhaus/shopsync/internal/apperr"
	"github.com/steelhaus/shopsync/internal/metrics"
)

const (
	opNewService = "events.new_service"
	opCreate     = "events.create"
	opClose      = "events.close"
	opGet        = "events.get"
	opList       = "events.list"
)

const (
	reasonMissingDatabase = "missing_database"
	reasonMissingEntity   = "missing_entity"
	reasonMissingAction   = "missing_action"
	reasonHashFailed      = "hash_failed"
	reasonInsertFailed    = "insert_failed"
	reasonLookupFailed    = "lookup_failed"
	reasonUpdateFailed    = "update_failed"
	reasonQueryFailed     = "query_failed"
	reasonNotFound        = "not_found"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

const (
	outcomeRecorded  = "recorded"
	outcomeDuplicate = "duplicate"
)

var (
	errMissingDatabase = errors.New("events: database handle is required")
	errMissingEntity   = errors.New("events: entity type and key are required")
	errMissingAction   = errors.New("events: action is required")
)

// NewEvent describes one transition to record.
type NewEvent struct {
	EntityType string
	EntityKey  string
	Action     string
	Source     string
	Payload    Transition
}

// Outcome reports the ledger row serving a Create call and whether it was
// freshly written or already present.
type Outcome struct {
	EventID   int64
	Duplicate bool
}

// ServiceConfig wires the dependencies for a Service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service owns the domain event ledger.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.New(opNewService, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// WithTx returns a Service bound to the supplied transaction handle, so event
// writes can join a caller-owned transaction.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	scoped := *s
	scoped.db = tx
	return &scoped
}

// Create records a transition. A payload hash collision means the identical
// transition was already recorded; the existing row is returned with
// Duplicate set and nothing is written.
func (s *Service) Create(ctx context.Context, input NewEvent) (Outcome, error) {
	if input.EntityType == "" || input.EntityKey == "" {
		return Outcome{}, apperr.New(opCreate, reasonMissingEntity, errMissingEntity)
	}
	if input.Action == "" {
		return Outcome{}, apperr.New(opCreate, reasonMissingAction, errMissingAction)
	}

	canonical, err := CanonicalJSON(input.Payload)
	if err != nil {
		return Outcome{}, apperr.New(opCreate, reasonHashFailed, err)
	}
	hash, err := PayloadHash(input.Action, input.EntityKey, input.Payload)
	if err != nil {
		return Outcome{}, apperr.New(opCreate, reasonHashFailed, err)
	}

	event := DomainEvent{
		EntityType:       input.EntityType,
		EntityKey:        input.EntityKey,
		Action:           input.Action,
		Source:           input.Source,
		PayloadJSON:      string(canonical),
		PayloadHash:      hash,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&event)
	if result.Error != nil {
		s.logger.Error("event insert failed",
			zap.String("entity", input.EntityKey),
			zap.String("action", input.Action),
			zap.Error(result.Error))
		return Outcome{}, apperr.New(opCreate, reasonInsertFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		var existing DomainEvent
		err := s.db.WithContext(ctx).
			Select("event_id").
			Where("payload_hash = ?", hash).
			Take(&existing).Error
		if err != nil {
			return Outcome{}, apperr.New(opCreate, reasonLookupFailed, err)
		}
		metrics.EventsRecorded.WithLabelValues(input.EntityType, outcomeDuplicate).Inc()
		return Outcome{EventID: existing.EventID, Duplicate: true}, nil
	}

	metrics.EventsRecorded.WithLabelValues(input.EntityType, outcomeRecorded).Inc()
	return Outcome{EventID: event.EventID}, nil
}

// Close stamps the event as applied. Closing an already-applied event is a
// no-op, so retried deliveries can confirm without clobbering the first stamp.
func (s *Service) Close(ctx context.Context, eventID int64) error {
	result := s.db.WithContext(ctx).Model(&DomainEvent{}).
		Where("event_id = ? AND applied_at_s IS NULL", eventID).
		Update("applied_at_s", s.clock().UTC().Unix())
	if result.Error != nil {
		s.logger.Error("event close failed", zap.Int64("event_id", eventID), zap.Error(result.Error))
		return apperr.New(opClose, reasonUpdateFailed, result.Error)
	}
	return nil
}

// Get loads one event by id.
func (s *Service) Get(ctx context.Context, eventID int64) (*DomainEvent, error) {
	var event DomainEvent
	err := s.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(opGet, reasonNotFound, err)
	}
	if err != nil {
		return nil, apperr.New(opGet, reasonQueryFailed, err)
	}
	return &event, nil
}

// Filter narrows List results. Zero fields are ignored.
type Filter struct {
	From       time.Time
	To         time.Time
	EntityType string
	EntityKey  string
	Source     string
	Limit      int
}

// List returns events newest-first.
func (s *Service) List(ctx context.Context, filter Filter) ([]DomainEvent, error) {
	query := s.db.WithContext(ctx).Model(&DomainEvent{})
	if !filter.From.IsZero() {
		query = query.Where("created_at_s >= ?", filter.From.UTC().Unix())
	}
	if !filter.To.IsZero() {
		query = query.Where("created_at_s <= ?", filter.To.UTC().Unix())
	}
	if filter.EntityType != "" {
		query = query.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityKey != "" {
		query = query.Where("entity_key = ?", filter.EntityKey)
	}
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var events []DomainEvent
	if err := query.Order("event_id DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, apperr.New(opList, reasonQueryFailed, err)
	}
	return events, nil
}
