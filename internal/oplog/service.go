package oplog

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/steelhaus/shopsync/internal/apperr"
)

const (
	opNewService     = "oplog.new_service"
	opOpen           = "oplog.open"
	opClose          = "oplog.close"
	opListOperations = "oplog.list_operations"
	opListLogs       = "oplog.list_logs"
)

const (
	reasonMissingDatabase = "missing_database"
	reasonMissingToken    = "missing_token"
	reasonMissingType     = "missing_type"
	reasonInsertFailed    = "insert_failed"
	reasonUpdateFailed    = "update_failed"
	reasonQueryFailed     = "query_failed"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

var (
	errMissingDatabase = errors.New("oplog: database handle is required")
	errMissingToken    = errors.New("oplog: operation token is required")
	errMissingType     = errors.New("oplog: operation type is required")
)

// ServiceConfig wires the dependencies for a Service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service records sync operations and their log entries.
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

// Open records the start of a sync attempt under the supplied token and moves
// it straight to IN_PROGRESS.
func (s *Service) Open(ctx context.Context, token string, opType string, sourceSystem string, sourceID string) (*SyncOperation, error) {
	if token == "" {
		return nil, apperr.New(opOpen, reasonMissingToken, errMissingToken)
	}
	if opType == "" {
		return nil, apperr.New(opOpen, reasonMissingType, errMissingType)
	}

	operation := &SyncOperation{
		Token:            token,
		Type:             opType,
		Status:           StatusPending,
		SourceSystem:     sourceSystem,
		SourceID:         sourceID,
		StartedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(operation).Error; err != nil {
		s.logger.Error("operation open failed", zap.String("token", token), zap.Error(err))
		return nil, apperr.New(opOpen, reasonInsertFailed, err)
	}

	result := s.db.WithContext(ctx).Model(&SyncOperation{}).
		Where("token = ? AND status = ?", token, StatusPending).
		Update("status", StatusInProgress)
	if result.Error != nil {
		s.logger.Error("operation start failed", zap.String("token", token), zap.Error(result.Error))
		return nil, apperr.New(opOpen, reasonUpdateFailed, result.Error)
	}
	operation.Status = StatusInProgress
	return operation, nil
}

// Close finalizes an operation with its terminal status, counts, and error
// details. Terminal rows are immutable: closing an already-closed operation
// changes nothing. A nil operation is accepted so degraded passes can call
// Close unconditionally.
func (s *Service) Close(ctx context.Context, operation *SyncOperation, status Status, counts Counts, errorKind string, errorMessage string) error {
	if operation == nil {
		return nil
	}

	now := s.clock().UTC()
	completed := now.Unix()
	durationMillis := (completed - operation.StartedAtSeconds) * 1000
	if durationMillis < 0 {
		durationMillis = 0
	}

	updates := map[string]any{
		"status":            status,
		"completed_at_s":    completed,
		"duration_ms":       durationMillis,
		"records_processed": counts.Processed,
		"records_created":   counts.Created,
		"records_updated":   counts.Updated,
		"records_failed":    counts.Failed,
		"error_kind":        errorKind,
		"error_message":     errorMessage,
	}
	result := s.db.WithContext(ctx).Model(&SyncOperation{}).
		Where("token = ? AND status IN ?", operation.Token, []Status{StatusPending, StatusInProgress}).
		Updates(updates)
	if result.Error != nil {
		s.logger.Error("operation close failed", zap.String("token", operation.Token), zap.Error(result.Error))
		return apperr.New(opClose, reasonUpdateFailed, result.Error)
	}
	if result.RowsAffected > 0 {
		operation.Status = status
		operation.CompletedAtSeconds = &completed
		operation.DurationMillis = &durationMillis
		operation.RecordsProcessed = counts.Processed
		operation.RecordsCreated = counts.Created
		operation.RecordsUpdated = counts.Updated
		operation.RecordsFailed = counts.Failed
		operation.ErrorKind = errorKind
		operation.ErrorMessage = errorMessage
	}
	return nil
}

// Log appends one detail entry to the operation. Logging never fails the
// caller: storage errors are reported through the process logger and the
// pass carries on. A nil operation degrades to process-level logging only.
func (s *Service) Log(ctx context.Context, operation *SyncOperation, level Level, message string, details map[string]any) {
	entry := SyncLogEntry{
		LoggedAtSeconds: s.clock().UTC().Unix(),
		Level:           level,
		Message:         message,
		DetailsJSON:     encodeDetails(details),
	}
	if jobKey, ok := details["job_key"].(string); ok {
		entry.JobKey = jobKey
	}
	if submittalID, ok := details["submittal_id"].(string); ok {
		entry.SubmittalID = submittalID
	}

	if operation == nil {
		s.logger.Info("operation log entry without ledger row",
			zap.String("message", message),
			zap.String("details", entry.DetailsJSON))
		return
	}
	entry.OperationToken = operation.Token

	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logger.Warn("operation log write failed",
			zap.String("token", operation.Token),
			zap.String("message", message),
			zap.Error(err))
	}
}

// OperationFilter narrows ListOperations results. Zero fields are ignored.
type OperationFilter struct {
	From     time.Time
	To       time.Time
	Type     string
	SourceID string
	Limit    int
}

// ListOperations returns operations newest-first.
func (s *Service) ListOperations(ctx context.Context, filter OperationFilter) ([]SyncOperation, error) {
	query := s.db.WithContext(ctx).Model(&SyncOperation{})
	if !filter.From.IsZero() {
		query = query.Where("started_at_s >= ?", filter.From.UTC().Unix())
	}
	if !filter.To.IsZero() {
		query = query.Where("started_at_s <= ?", filter.To.UTC().Unix())
	}
	if filter.Type != "" {
		query = query.Where("op_type = ?", filter.Type)
	}
	if filter.SourceID != "" {
		query = query.Where("source_id = ?", filter.SourceID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var operations []SyncOperation
	if err := query.Order("started_at_s DESC").Limit(limit).Find(&operations).Error; err != nil {
		return nil, apperr.New(opListOperations, reasonQueryFailed, err)
	}
	return operations, nil
}

// ListLogs returns the detail entries for one operation in write order.
func (s *Service) ListLogs(ctx context.Context, token string) ([]SyncLogEntry, error) {
	if token == "" {
		return nil, apperr.New(opListLogs, reasonMissingToken, errMissingToken)
	}
	var entries []SyncLogEntry
	err := s.db.WithContext(ctx).
		Where("operation_token = ?", token).
		Order("entry_id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, apperr.New(opListLogs, reasonQueryFailed, err)
	}
	return entries, nil
}
