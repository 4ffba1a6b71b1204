package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/steelhaus/shopsync/internal/apperr"
	"github.com/steelhaus/shopsync/internal/events"
	"github.com/steelhaus/shopsync/internal/metrics"
)

const (
	opNewDispatcher = "outbox.new_dispatcher"
	opEnqueue       = "outbox.enqueue"
	opAttempt       = "outbox.attempt"
)

const (
	reasonMissingDatabase  = "missing_database"
	reasonMissingEvents    = "missing_events"
	reasonMissingPayloads  = "missing_payloads"
	reasonMissingDeliverer = "missing_deliverer"
	reasonMissingEvent     = "missing_event"
	reasonInsertFailed     = "insert_failed"
	reasonClaimFailed      = "claim_failed"
	reasonLoadFailed       = "load_failed"
	reasonUpdateFailed     = "update_failed"
)

// Attempt outcomes, also used as metric labels.
const (
	OutcomeCompleted   = "completed"
	OutcomeRescheduled = "rescheduled"
	OutcomeFailed      = "failed"
	OutcomeSkipped     = "skipped"
)

const defaultMaxRetries = 5

var (
	errMissingDatabase  = errors.New("outbox: database handle is required")
	errMissingEvents    = errors.New("outbox: event service is required")
	errMissingPayloads  = errors.New("outbox: payload source is required")
	errMissingDeliverer = errors.New("outbox: deliverer is required")
)

// Delivery carries everything a connector needs for one external call.
type Delivery struct {
	Destination string
	Action      string
	EntityType  string
	EntityKey   string
	Payload     map[string]any
}

// Deliverer performs the external side effect. Implementations wrap the
// vendor connectors; an error return means the call did not take effect and
// may be retried.
type Deliverer interface {
	Deliver(ctx context.Context, delivery Delivery) error
}

// PayloadSource resolves the current stored entity state for a delivery.
// found=false reports a permanently missing entity; an error reports a
// transient lookup failure.
type PayloadSource interface {
	DeliveryPayload(ctx context.Context, entityType string, entityKey string) (payload map[string]any, found bool, err error)
}

// DispatcherConfig wires the dependencies for a Dispatcher.
type DispatcherConfig struct {
	Database        *gorm.DB
	Events          *events.Service
	Payloads        PayloadSource
	Deliverer       Deliverer
	Clock           func() time.Time
	Logger          *zap.Logger
	MaxRetries      int
	DeliveryTimeout time.Duration
}

// Dispatcher owns the outbox queue: enqueueing items for recorded events and
// running individual delivery attempts.
type Dispatcher struct {
	db              *gorm.DB
	events          *events.Service
	payloads        PayloadSource
	deliverer       Deliverer
	clock           func() time.Time
	logger          *zap.Logger
	maxRetries      int
	deliveryTimeout time.Duration
}

// NewDispatcher validates the configuration and returns a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Database == nil {
		return nil, apperr.New(opNewDispatcher, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.Events == nil {
		return nil, apperr.New(opNewDispatcher, reasonMissingEvents, errMissingEvents)
	}
	if cfg.Payloads == nil {
		return nil, apperr.New(opNewDispatcher, reasonMissingPayloads, errMissingPayloads)
	}
	if cfg.Deliverer == nil {
		return nil, apperr.New(opNewDispatcher, reasonMissingDeliverer, errMissingDeliverer)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Dispatcher{
		db:              cfg.Database,
		events:          cfg.Events,
		payloads:        cfg.Payloads,
		deliverer:       cfg.Deliverer,
		clock:           clock,
		logger:          logger,
		maxRetries:      maxRetries,
		deliveryTimeout: cfg.DeliveryTimeout,
	}, nil
}

// WithTx returns a Dispatcher whose queue writes join the supplied
// transaction, so an event and its outbox item can commit together.
func (d *Dispatcher) WithTx(tx *gorm.DB) *Dispatcher {
	scoped := *d
	scoped.db = tx
	return &scoped
}

// Enqueue queues a delivery for the event. The new item is due immediately.
func (d *Dispatcher) Enqueue(ctx context.Context, eventID int64, destination string, action string) (*OutboxItem, error) {
	if eventID <= 0 {
		return nil, apperr.New(opEnqueue, reasonMissingEvent, fmt.Errorf("outbox: event id %d", eventID))
	}

	now := d.clock().UTC().Unix()
	item := &OutboxItem{
		EventID:            eventID,
		Destination:        destination,
		Action:             action,
		Status:             StatusPending,
		MaxRetries:         d.maxRetries,
		NextRetryAtSeconds: now,
		CreatedAtSeconds:   now,
		UpdatedAtSeconds:   now,
	}
	if err := d.db.WithContext(ctx).Create(item).Error; err != nil {
		d.logger.Error("outbox enqueue failed", zap.Int64("event_id", eventID), zap.Error(err))
		return nil, apperr.New(opEnqueue, reasonInsertFailed, err)
	}
	return item, nil
}

// Attempt runs one delivery attempt for the item. The item is claimed with a
// conditional update so concurrent sweeps and inline attempts never run the
// same delivery twice; a lost claim returns OutcomeSkipped.
func (d *Dispatcher) Attempt(ctx context.Context, itemID int64) (string, error) {
	now := d.clock().UTC().Unix()
	claim := d.db.WithContext(ctx).Model(&OutboxItem{}).
		Where("item_id = ? AND status = ?", itemID, StatusPending).
		Updates(map[string]any{"status": StatusProcessing, "updated_at_s": now})
	if claim.Error != nil {
		return "", apperr.New(opAttempt, reasonClaimFailed, claim.Error)
	}
	if claim.RowsAffected == 0 {
		return OutcomeSkipped, nil
	}

	var item OutboxItem
	if err := d.db.WithContext(ctx).Where("item_id = ?", itemID).Take(&item).Error; err != nil {
		return "", apperr.New(opAttempt, reasonLoadFailed, err)
	}

	if !Supported(item.Destination, item.Action) {
		return d.failPermanently(ctx, &item, fmt.Sprintf("unsupported destination/action %s/%s", item.Destination, item.Action))
	}

	event, err := d.events.Get(ctx, item.EventID)
	if err != nil {
		return d.recordFailure(ctx, &item, fmt.Sprintf("event lookup: %v", err))
	}

	payload, found, err := d.payloads.DeliveryPayload(ctx, event.EntityType, event.EntityKey)
	if err != nil {
		return d.recordFailure(ctx, &item, fmt.Sprintf("payload lookup: %v", err))
	}
	if !found {
		return d.failPermanently(ctx, &item, fmt.Sprintf("entity %s/%s no longer exists", event.EntityType, event.EntityKey))
	}

	deliveryCtx := ctx
	if d.deliveryTimeout > 0 {
		var cancel context.CancelFunc
		deliveryCtx, cancel = context.WithTimeout(ctx, d.deliveryTimeout)
		defer cancel()
	}

	startedAt := time.Now()
	deliverErr := d.deliverer.Deliver(deliveryCtx, Delivery{
		Destination: item.Destination,
		Action:      item.Action,
		EntityType:  event.EntityType,
		EntityKey:   event.EntityKey,
		Payload:     payload,
	})
	metrics.DeliveryDuration.WithLabelValues(item.Destination).Observe(time.Since(startedAt).Seconds())

	if deliverErr != nil {
		return d.recordFailure(ctx, &item, deliverErr.Error())
	}
	return d.complete(ctx, &item)
}

// complete marks the item delivered and stamps its event applied in the same
// transaction.
func (d *Dispatcher) complete(ctx context.Context, item *OutboxItem) (string, error) {
	now := d.clock().UTC().Unix()
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"status":         StatusCompleted,
			"completed_at_s": now,
			"updated_at_s":   now,
			"error_message":  "",
		}
		if err := tx.Model(&OutboxItem{}).Where("item_id = ?", item.ItemID).Updates(updates).Error; err != nil {
			return err
		}
		return d.events.WithTx(tx).Close(ctx, item.EventID)
	})
	if err != nil {
		d.logger.Error("outbox completion failed", zap.Int64("item_id", item.ItemID), zap.Error(err))
		return "", apperr.New(opAttempt, reasonUpdateFailed, err)
	}

	metrics.OutboxAttempts.WithLabelValues(item.Destination, OutcomeCompleted).Inc()
	d.logger.Info("outbox delivery completed",
		zap.Int64("item_id", item.ItemID),
		zap.Int64("event_id", item.EventID),
		zap.String("destination", item.Destination),
		zap.String("action", item.Action))
	return OutcomeCompleted, nil
}

// recordFailure consumes one retry. While retries remain the item goes back
// to pending with next_retry_at pushed out exponentially (2^retry_count
// seconds after the attempt); once they run out it fails for good.
func (d *Dispatcher) recordFailure(ctx context.Context, item *OutboxItem, message string) (string, error) {
	retryCount := item.RetryCount + 1
	now := d.clock().UTC()

	if retryCount < item.MaxRetries {
		delay := time.Duration(1<<uint(retryCount)) * time.Second
		updates := map[string]any{
			"status":          StatusPending,
			"retry_count":     retryCount,
			"next_retry_at_s": now.Add(delay).Unix(),
			"error_message":   message,
			"updated_at_s":    now.Unix(),
		}
		if err := d.db.WithContext(ctx).Model(&OutboxItem{}).Where("item_id = ?", item.ItemID).Updates(updates).Error; err != nil {
			return "", apperr.New(opAttempt, reasonUpdateFailed, err)
		}
		metrics.OutboxAttempts.WithLabelValues(item.Destination, OutcomeRescheduled).Inc()
		d.logger.Warn("outbox delivery failed, rescheduled",
			zap.Int64("item_id", item.ItemID),
			zap.Int("retry_count", retryCount),
			zap.Duration("delay", delay),
			zap.String("error", message))
		return OutcomeRescheduled, nil
	}

	updates := map[string]any{
		"status":        StatusFailed,
		"retry_count":   retryCount,
		"error_message": message,
		"updated_at_s":  now.Unix(),
	}
	if err := d.db.WithContext(ctx).Model(&OutboxItem{}).Where("item_id = ?", item.ItemID).Updates(updates).Error; err != nil {
		return "", apperr.New(opAttempt, reasonUpdateFailed, err)
	}
	metrics.OutboxAttempts.WithLabelValues(item.Destination, OutcomeFailed).Inc()
	d.logger.Error("outbox delivery failed permanently",
		zap.Int64("item_id", item.ItemID),
		zap.Int64("event_id", item.EventID),
		zap.Int("retry_count", retryCount),
		zap.String("error", message))
	return OutcomeFailed, nil
}

// failPermanently marks a configuration-level failure without consuming the
// retry budget.
func (d *Dispatcher) failPermanently(ctx context.Context, item *OutboxItem, message string) (string, error) {
	updates := map[string]any{
		"status":        StatusFailed,
		"error_message": message,
		"updated_at_s":  d.clock().UTC().Unix(),
	}
	if err := d.db.WithContext(ctx).Model(&OutboxItem{}).Where("item_id = ?", item.ItemID).Updates(updates).Error; err != nil {
		return "", apperr.New(opAttempt, reasonUpdateFailed, err)
	}
	metrics.OutboxAttempts.WithLabelValues(item.Destination, OutcomeFailed).Inc()
	d.logger.Error("outbox item misconfigured",
		zap.Int64("item_id", item.ItemID),
		zap.String("destination", item.Destination),
		zap.String("action", item.Action),
		zap.String("error", message))
	return OutcomeFailed, nil
}
