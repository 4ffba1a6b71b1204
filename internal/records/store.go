package records

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/steelhaus/shopsync/internal/apperr"
	"github.com/steelhaus/shopsync/internal/resolver"
)

// Entity type names shared with the event ledger and outbox payloads.
const (
	EntityJob       = "job"
	EntitySubmittal = "submittal"
)

const (
	opNewStore            = "records.new_store"
	opCreateJob           = "records.create_job"
	opCreateSubmittal     = "records.create_submittal"
	opJobLookup           = "records.job_lookup"
	opSubmittalLookup     = "records.submittal_lookup"
	opApplyJobGroups      = "records.apply_job_groups"
	opApplySubmittalStage = "records.apply_submittal_stage"
	opDeliveryPayload     = "records.delivery_payload"
)

const (
	reasonMissingDatabase = "missing_database"
	reasonQueryFailed     = "query_failed"
	reasonInsertFailed    = "insert_failed"
	reasonUpdateFailed    = "update_failed"
	reasonNotFound        = "not_found"
	reasonEmptyPatch      = "empty_patch"
)

var errMissingDatabase = errors.New("records: database handle is required")

// JobPatch carries the accepted values for one job field group together with
// the conflict stamp to record.
type JobPatch struct {
	Group      resolver.FieldGroup
	Stage      string
	StartDate  string
	DueDate    string
	Notes      string
	Source     string
	ObservedAt time.Time
}

// StagePatch carries an accepted submittal stage change.
type StagePatch struct {
	Stage      string
	Source     string
	ObservedAt time.Time
}

// StoreConfig wires the dependencies for a Store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store persists jobs and submittals.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore validates the configuration and returns a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, apperr.New(opNewStore, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// CreateJob inserts a new job row, stamping creation time.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	now := s.clock().UTC().Unix()
	job.CreatedAtSeconds = now
	job.UpdatedAtSeconds = now
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		s.logger.Error("job insert failed", zap.String("job", job.Key()), zap.Error(err))
		return apperr.New(opCreateJob, reasonInsertFailed, err)
	}
	return nil
}

// CreateSubmittal inserts a new submittal row, stamping creation time.
func (s *Store) CreateSubmittal(ctx context.Context, submittal *Submittal) error {
	now := s.clock().UTC().Unix()
	submittal.CreatedAtSeconds = now
	submittal.UpdatedAtSeconds = now
	if err := s.db.WithContext(ctx).Create(submittal).Error; err != nil {
		s.logger.Error("submittal insert failed", zap.String("submittal", submittal.SubmittalID), zap.Error(err))
		return apperr.New(opCreateSubmittal, reasonInsertFailed, err)
	}
	return nil
}

// JobByRef loads a job by its validated identity. Missing rows return nil
// without an error.
func (s *Store) JobByRef(ctx context.Context, ref JobRef) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).
		Where("job_number = ? AND release = ?", ref.Number, ref.Release).
		Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.New(opJobLookup, reasonQueryFailed, err)
	}
	return &job, nil
}

// JobByCardID loads the job linked to a board card. Missing rows return nil
// without an error.
func (s *Store) JobByCardID(ctx context.Context, cardID string) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).
		Where("board_card_id = ?", cardID).
		Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.New(opJobLookup, reasonQueryFailed, err)
	}
	return &job, nil
}

// SubmittalByID loads a submittal by identifier. Missing rows return nil
// without an error.
func (s *Store) SubmittalByID(ctx context.Context, id SubmittalID) (*Submittal, error) {
	var submittal Submittal
	err := s.db.WithContext(ctx).
		Where("submittal_id = ?", id.String()).
		Take(&submittal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.New(opSubmittalLookup, reasonQueryFailed, err)
	}
	return &submittal, nil
}

// SubmittalByCardID loads the submittal linked to a board card. Missing rows
// return nil without an error.
func (s *Store) SubmittalByCardID(ctx context.Context, cardID string) (*Submittal, error) {
	var submittal Submittal
	err := s.db.WithContext(ctx).
		Where("board_card_id = ?", cardID).
		Take(&submittal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.New(opSubmittalLookup, reasonQueryFailed, err)
	}
	return &submittal, nil
}

// ApplyJobGroups writes the accepted field groups and their conflict stamps
// in one transaction. Either every group lands or none does.
func (s *Store) ApplyJobGroups(ctx context.Context, ref JobRef, patches []JobPatch) error {
	if len(patches) == 0 {
		return apperr.New(opApplyJobGroups, reasonEmptyPatch, nil)
	}

	updates := map[string]any{"updated_at_s": s.clock().UTC().Unix()}
	for _, patch := range patches {
		stamp := patch.ObservedAt.UTC().Unix()
		switch patch.Group {
		case resolver.GroupStage:
			updates["stage"] = patch.Stage
			updates["stage_source"] = patch.Source
			updates["stage_updated_at_s"] = stamp
		case resolver.GroupSchedule:
			updates["start_date"] = patch.StartDate
			updates["due_date"] = patch.DueDate
			updates["schedule_source"] = patch.Source
			updates["schedule_updated_at_s"] = stamp
		case resolver.GroupNotes:
			updates["notes"] = patch.Notes
			updates["notes_source"] = patch.Source
			updates["notes_updated_at_s"] = stamp
		}
	}

	result := s.db.WithContext(ctx).Model(&Job{}).
		Where("job_number = ? AND release = ?", ref.Number, ref.Release).
		Updates(updates)
	if result.Error != nil {
		s.logger.Error("job group update failed", zap.String("job", ref.Key()), zap.Error(result.Error))
		return apperr.New(opApplyJobGroups, reasonUpdateFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.New(opApplyJobGroups, reasonNotFound, nil)
	}
	return nil
}

// ApplySubmittalStage writes an accepted stage change and its conflict stamp.
func (s *Store) ApplySubmittalStage(ctx context.Context, id SubmittalID, patch StagePatch) error {
	updates := map[string]any{
		"stage":              patch.Stage,
		"stage_source":       patch.Source,
		"stage_updated_at_s": patch.ObservedAt.UTC().Unix(),
		"updated_at_s":       s.clock().UTC().Unix(),
	}

	result := s.db.WithContext(ctx).Model(&Submittal{}).
		Where("submittal_id = ?", id.String()).
		Updates(updates)
	if result.Error != nil {
		s.logger.Error("submittal stage update failed", zap.String("submittal", id.String()), zap.Error(result.Error))
		return apperr.New(opApplySubmittalStage, reasonUpdateFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.New(opApplySubmittalStage, reasonNotFound, nil)
	}
	return nil
}

// DeliveryPayload resolves the current stored state for an outbound delivery.
// Payloads always come from the store, never from the trigger that caused the
// change, so retries ship fresh values. The second return reports whether the
// entity exists.
func (s *Store) DeliveryPayload(ctx context.Context, entityType string, entityKey string) (map[string]any, bool, error) {
	switch entityType {
	case EntityJob:
		ref, err := splitJobKey(entityKey)
		if err != nil {
			return nil, false, nil
		}
		job, err := s.JobByRef(ctx, ref)
		if err != nil {
			return nil, false, apperr.New(opDeliveryPayload, reasonQueryFailed, err)
		}
		if job == nil {
			return nil, false, nil
		}
		return jobPayload(job), true, nil
	case EntitySubmittal:
		id, err := NewSubmittalID(entityKey)
		if err != nil {
			return nil, false, nil
		}
		submittal, err := s.SubmittalByID(ctx, id)
		if err != nil {
			return nil, false, apperr.New(opDeliveryPayload, reasonQueryFailed, err)
		}
		if submittal == nil {
			return nil, false, nil
		}
		return submittalPayload(submittal), true, nil
	default:
		return nil, false, nil
	}
}

func jobPayload(job *Job) map[string]any {
	return map[string]any{
		"job_number":    job.JobNumber,
		"release":       job.Release,
		"customer":      job.Customer,
		"description":   job.Description,
		"stage":         job.Stage,
		"start_date":    job.StartDate,
		"due_date":      job.DueDate,
		"notes":         job.Notes,
		"board_card_id": job.BoardCardID,
		"sheet_row_ref": job.SheetRowRef,
	}
}

func submittalPayload(submittal *Submittal) map[string]any {
	payload := map[string]any{
		"submittal_id":     submittal.SubmittalID,
		"job_number":       submittal.JobNumber,
		"release":          submittal.Release,
		"title":            submittal.Title,
		"stage":            submittal.Stage,
		"assignment_group": submittal.AssignmentGroup,
		"board_card_id":    submittal.BoardCardID,
	}
	if submittal.OrderNumber != nil {
		payload["order_number"] = *submittal.OrderNumber
	}
	return payload
}

// splitJobKey splits "number-release" at the last dash; job numbers may
// contain dashes, releases may not.
func splitJobKey(key string) (JobRef, error) {
	for i := len(key) - 1; i > 0; i-- {
		if key[i] == '-' {
			return NewJobRef(key[:i], key[i+1:])
		}
	}
	return JobRef{}, ErrInvalidJobRef
}
