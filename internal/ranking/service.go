package ranking

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/steelhaus/shopsync/internal/apperr"
	"github.com/steelhaus/shopsync/internal/records"
)

const (
	opNewService = "ranking.new_service"
	opSetOrder   = "ranking.set_order"
	opPromote    = "ranking.promote"
	opNormalize  = "ranking.normalize"
)

const (
	reasonMissingDatabase = "missing_database"
	reasonEmptyGroup      = "empty_group"
	reasonGroupMismatch   = "group_mismatch"
	reasonUnassigned      = "unassigned"
	reasonNotFound        = "not_found"
	reasonQueryFailed     = "query_failed"
	reasonUpdateFailed    = "update_failed"
	reasonRejected        = "rejected"
)

var errMissingDatabase = errors.New("ranking: database handle is required")

// ServiceConfig wires the dependencies for a Service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service executes ranking operations over one assignment group at a time.
// Every operation locks the group's rows, plans the movements in memory, and
// writes them back in the same transaction, so concurrent operations on one
// group serialize.
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

// SetOrder assigns an explicit order value to a submittal within its
// assignment group and returns every movement the assignment caused,
// including the target's own.
func (s *Service) SetOrder(ctx context.Context, submittalID records.SubmittalID, value *float64) ([]OrderChange, error) {
	var changes []OrderChange
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := s.lockTarget(tx, opSetOrder, submittalID)
		if err != nil {
			return err
		}
		items, err := s.lockGroup(tx, opSetOrder, group)
		if err != nil {
			return err
		}
		planned, err := planSetOrder(items, submittalID.String(), value)
		if err != nil {
			return apperr.New(opSetOrder, reasonRejected, err)
		}
		if err := s.applyChanges(tx, opSetOrder, planned); err != nil {
			return err
		}
		changes = planned
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return changes, nil
}

// PromoteToUrgent moves a submittal into the most-urgent slot of its
// assignment group's ladder. A non-empty group asserts which ladder the
// caller expects to touch; a mismatch rejects the operation. Promoting an
// already-urgent submittal changes nothing.
func (s *Service) PromoteToUrgent(ctx context.Context, submittalID records.SubmittalID, group string) ([]OrderChange, error) {
	expected := strings.TrimSpace(group)

	var changes []OrderChange
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		derived, err := s.lockTarget(tx, opPromote, submittalID)
		if err != nil {
			return err
		}
		if expected != "" && expected != derived {
			return apperr.New(opPromote, reasonGroupMismatch, nil)
		}
		items, err := s.lockGroup(tx, opPromote, derived)
		if err != nil {
			return err
		}
		planned, err := planPromote(items, submittalID.String())
		if err != nil {
			return apperr.New(opPromote, reasonRejected, err)
		}
		if err := s.applyChanges(tx, opPromote, planned); err != nil {
			return err
		}
		changes = planned
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return changes, nil
}

// ReorderGroupFromOne renumbers an assignment group's regular tier to the
// clean sequence 1..N, closing any gaps that accumulated. Urgent and unranked
// submittals are untouched.
func (s *Service) ReorderGroupFromOne(ctx context.Context, group string) ([]OrderChange, error) {
	trimmed := strings.TrimSpace(group)
	if trimmed == "" {
		return nil, apperr.New(opNormalize, reasonEmptyGroup, nil)
	}

	var changes []OrderChange
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		items, err := s.lockGroup(tx, opNormalize, trimmed)
		if err != nil {
			return err
		}
		planned := planNormalize(items)
		if err := s.applyChanges(tx, opNormalize, planned); err != nil {
			return err
		}
		changes = planned
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return changes, nil
}

// lockTarget locks the target submittal's row and returns its assignment
// group.
func (s *Service) lockTarget(tx *gorm.DB, operation string, submittalID records.SubmittalID) (string, error) {
	var target records.Submittal
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("submittal_id = ?", submittalID.String()).
		Take(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperr.New(operation, reasonNotFound, ErrUnknownSubmittal)
	}
	if err != nil {
		return "", apperr.New(operation, reasonQueryFailed, err)
	}
	if strings.TrimSpace(target.AssignmentGroup) == "" {
		return "", apperr.New(operation, reasonUnassigned, nil)
	}
	return target.AssignmentGroup, nil
}

func (s *Service) lockGroup(tx *gorm.DB, operation string, group string) ([]rankedItem, error) {
	var rows []records.Submittal
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("assignment_group = ?", group).
		Order("order_number ASC, submittal_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, apperr.New(operation, reasonQueryFailed, err)
	}
	items := make([]rankedItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, rankedItem{id: row.SubmittalID, cardID: row.BoardCardID, order: row.OrderNumber})
	}
	return items, nil
}

func (s *Service) applyChanges(tx *gorm.DB, operation string, changes []OrderChange) error {
	if len(changes) == 0 {
		return nil
	}
	now := s.clock().UTC().Unix()
	for _, change := range changes {
		var orderColumn any
		if change.NewOrder != nil {
			orderColumn = *change.NewOrder
		}
		result := tx.Model(&records.Submittal{}).
			Where("submittal_id = ?", change.SubmittalID).
			Updates(map[string]any{
				"order_number":       orderColumn,
				"order_updated_at_s": now,
				"updated_at_s":       now,
			})
		if result.Error != nil {
			s.logger.Error("order update failed",
				zap.String("submittal", change.SubmittalID),
				zap.Error(result.Error))
			return apperr.New(operation, reasonUpdateFailed, result.Error)
		}
		if result.RowsAffected == 0 {
			return apperr.New(operation, reasonNotFound, ErrUnknownSubmittal)
		}
	}
	return nil
}
