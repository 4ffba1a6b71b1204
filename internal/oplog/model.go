// Package oplog keeps the audit trail of sync passes: one operation row per
// attempt plus its detail log entries.
package oplog

// Status enumerates the lifecycle states of a sync operation.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusSkipped    Status = "SKIPPED"
)

// Level enumerates log entry severities.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// SyncOperation is one sync attempt. The token doubles as the correlation id
// callers receive when a trigger is accepted.
type SyncOperation struct {
	Token              string `gorm:"column:token;primaryKey;size:32;not null"`
	Type               string `gorm:"column:op_type;size:64;not null;index:idx_sync_operations_type_started,priority:1"`
	Status             Status `gorm:"column:status;size:16;not null"`
	SourceSystem       string `gorm:"column:source_system;size:32;not null;default:''"`
	SourceID           string `gorm:"column:source_id;size:190;not null;default:'';index:idx_sync_operations_source"`
	StartedAtSeconds   int64  `gorm:"column:started_at_s;not null;index:idx_sync_operations_type_started,priority:2"`
	CompletedAtSeconds *int64 `gorm:"column:completed_at_s"`
	DurationMillis     *int64 `gorm:"column:duration_ms"`
	RecordsProcessed   int    `gorm:"column:records_processed;not null;default:0"`
	RecordsCreated     int    `gorm:"column:records_created;not null;default:0"`
	RecordsUpdated     int    `gorm:"column:records_updated;not null;default:0"`
	RecordsFailed      int    `gorm:"column:records_failed;not null;default:0"`
	ErrorKind          string `gorm:"column:error_kind;size:64;not null;default:''"`
	ErrorMessage       string `gorm:"column:error_message;type:text;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (SyncOperation) TableName() string {
	return "sync_operations"
}

// Closed reports whether the operation has reached a terminal status.
func (o SyncOperation) Closed() bool {
	switch o.Status {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// SyncLogEntry is one detail line tied to an operation. Entity keys are
// denormalized into their own columns so per-job and per-submittal history
// can be queried without JSON scans.
type SyncLogEntry struct {
	EntryID         int64  `gorm:"column:entry_id;primaryKey;autoIncrement"`
	OperationToken  string `gorm:"column:operation_token;size:32;not null;index:idx_sync_log_entries_token"`
	LoggedAtSeconds int64  `gorm:"column:logged_at_s;not null"`
	Level           Level  `gorm:"column:level;size:8;not null"`
	Message         string `gorm:"column:message;type:text;not null"`
	DetailsJSON     string `gorm:"column:details_json;type:text;not null;default:'{}'"`
	JobKey          string `gorm:"column:job_key;size:190;not null;default:'';index:idx_sync_log_entries_job"`
	SubmittalID     string `gorm:"column:submittal_id;size:190;not null;default:'';index:idx_sync_log_entries_submittal"`
}

// TableName provides the explicit table binding for GORM.
func (SyncLogEntry) TableName() string {
	return "sync_log_entries"
}

// Counts aggregates per-record results for an operation.
type Counts struct {
	Processed int
	Created   int
	Updated   int
	Failed    int
}
