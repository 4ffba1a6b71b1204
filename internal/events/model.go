// Package events keeps the append-only ledger of semantic state transitions
// and deduplicates retried deliveries of the same transition by payload hash.
package events

// Event actions recorded by the sync engine.
const (
	ActionStageChanged    = "stage_changed"
	ActionScheduleChanged = "schedule_changed"
	ActionNotesChanged    = "notes_changed"
	ActionOrderChanged    = "order_changed"
	ActionCreated         = "created"
)

// DomainEvent is one recorded transition. PayloadHash is unique: writing the
// same action, entity, and payload twice lands on the first row.
type DomainEvent struct {
	EventID          int64  `gorm:"column:event_id;primaryKey;autoIncrement"`
	EntityType       string `gorm:"column:entity_type;size:32;not null;index:idx_domain_events_entity,priority:1"`
	EntityKey        string `gorm:"column:entity_key;size:190;not null;index:idx_domain_events_entity,priority:2"`
	Action           string `gorm:"column:action;size:64;not null"`
	Source           string `gorm:"column:source;size:190;not null;default:''"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	PayloadHash      string `gorm:"column:payload_hash;size:64;not null;uniqueIndex:idx_domain_events_payload_hash"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_domain_events_created"`
	AppliedAtSeconds *int64 `gorm:"column:applied_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (DomainEvent) TableName() string {
	return "domain_events"
}

// Applied reports whether the event's external effects are confirmed.
func (e DomainEvent) Applied() bool {
	return e.AppliedAtSeconds != nil
}

// Transition is the before/after payload recorded with every event.
type Transition struct {
	From any `json:"from"`
	To   any `json:"to"`
}
