package outbox

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/steelhaus/shopsync/internal/apperr"
	"github.com/steelhaus/shopsync/internal/metrics"
)

const (
	opNewSweeper = "outbox.new_sweeper"
	opSweep      = "outbox.sweep"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultBatchSize     = 50
)

var errMissingDispatcher = errors.New("outbox: dispatcher is required")

// SweeperConfig wires the dependencies for a Sweeper.
type SweeperConfig struct {
	Database   *gorm.DB
	Dispatcher *Dispatcher
	Clock      func() time.Time
	Logger     *zap.Logger
	Interval   time.Duration
	BatchSize  int
}

// Sweeper periodically retries due pending outbox items, oldest due first,
// bounded to a batch per pass so a backlog cannot monopolize the database.
type Sweeper struct {
	db         *gorm.DB
	dispatcher *Dispatcher
	clock      func() time.Time
	logger     *zap.Logger
	interval   time.Duration
	batchSize  int
}

// NewSweeper validates the configuration and returns a Sweeper.
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	if cfg.Database == nil {
		return nil, apperr.New(opNewSweeper, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.Dispatcher == nil {
		return nil, apperr.New(opNewSweeper, "missing_dispatcher", errMissingDispatcher)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Sweeper{
		db:         cfg.Database,
		dispatcher: cfg.Dispatcher,
		clock:      clock,
		logger:     logger,
		interval:   interval,
		batchSize:  batchSize,
	}, nil
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("outbox sweeper stopping")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("outbox sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce attempts every due pending item up to the batch size and returns
// how many attempts ran.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.clock().UTC().Unix()

	var due []OutboxItem
	err := s.db.WithContext(ctx).
		Select("item_id").
		Where("status = ? AND next_retry_at_s <= ?", StatusPending, now).
		Order("next_retry_at_s ASC").
		Limit(s.batchSize).
		Find(&due).Error
	if err != nil {
		return 0, apperr.New(opSweep, reasonLoadFailed, err)
	}

	attempted := 0
	for _, item := range due {
		if ctx.Err() != nil {
			break
		}
		outcome, err := s.dispatcher.Attempt(ctx, item.ItemID)
		if err != nil {
			s.logger.Error("outbox attempt failed", zap.Int64("item_id", item.ItemID), zap.Error(err))
			continue
		}
		if outcome != OutcomeSkipped {
			attempted++
		}
	}

	var pending int64
	if err := s.db.WithContext(ctx).Model(&OutboxItem{}).Where("status = ?", StatusPending).Count(&pending).Error; err == nil {
		metrics.OutboxPending.Set(float64(pending))
	}

	if attempted > 0 {
		s.logger.Info("outbox sweep finished", zap.Int("attempted", attempted))
	}
	return attempted, nil
}
