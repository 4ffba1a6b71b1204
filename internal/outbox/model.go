// Package outbox queues the external deliveries that mirror recorded events
// to the board and the sheet, and retries them with exponential backoff.
package outbox

// Status enumerates outbox item lifecycle states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Destinations the dispatcher knows how to reach.
const (
	DestinationBoard = "board"
	DestinationSheet = "sheet"
)

// Actions the dispatcher knows how to perform.
const (
	ActionMove          = "move"
	ActionFieldUpdate   = "field_update"
	ActionCommentAppend = "comment_append"
	ActionCellWrite     = "cell_write"
)

// supportedActions is the fixed destination/action registry. Anything outside
// it is a configuration error, not a delivery failure: such items fail
// immediately without consuming retries.
var supportedActions = map[string]map[string]bool{
	DestinationBoard: {
		ActionMove:          true,
		ActionFieldUpdate:   true,
		ActionCommentAppend: true,
	},
	DestinationSheet: {
		ActionCellWrite: true,
	},
}

// Supported reports whether the destination/action pair is registered.
func Supported(destination string, action string) bool {
	return supportedActions[destination][action]
}

// OutboxItem is one queued external delivery, tied 1:1 to the domain event it
// serves.
type OutboxItem struct {
	ItemID             int64  `gorm:"column:item_id;primaryKey;autoIncrement"`
	EventID            int64  `gorm:"column:event_id;not null;uniqueIndex:idx_outbox_items_event"`
	Destination        string `gorm:"column:destination;size:32;not null"`
	Action             string `gorm:"column:action;size:32;not null"`
	Status             Status `gorm:"column:status;size:16;not null;default:'pending';index:idx_outbox_items_due,priority:1"`
	RetryCount         int    `gorm:"column:retry_count;not null;default:0"`
	MaxRetries         int    `gorm:"column:max_retries;not null"`
	NextRetryAtSeconds int64  `gorm:"column:next_retry_at_s;not null;default:0;index:idx_outbox_items_due,priority:2"`
	ErrorMessage       string `gorm:"column:error_message;type:text;not null;default:''"`
	CompletedAtSeconds *int64 `gorm:"column:completed_at_s"`
	CreatedAtSeconds   int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds   int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (OutboxItem) TableName() string {
	return "outbox_items"
}
