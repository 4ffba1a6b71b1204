// Package syncer runs sync passes: it normalizes inbound triggers, serializes
// them behind the sync lock, resolves conflicts per field group, and feeds
// accepted changes into the event ledger and outbox.
package syncer

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTrigger indicates an inbound trigger missing required fields.
var ErrInvalidTrigger = errors.New("syncer: invalid trigger")

// ActorRef identifies the external account behind a board push.
type ActorRef struct {
	ID          string
	DisplayName string
}

// BoardFields carries the field values a board push observed. Nil means the
// push did not mention the field.
type BoardFields struct {
	Stage     *string
	StartDate *string
	DueDate   *string
	Notes     *string
}

// BoardPush is a normalized board webhook notification.
type BoardPush struct {
	CardID     string
	ChangeType string
	ObservedAt time.Time
	Actor      ActorRef
	Fields     BoardFields
}

// Validate checks the push carries enough to run a pass.
func (p BoardPush) Validate() error {
	if strings.TrimSpace(p.CardID) == "" {
		return fmt.Errorf("%w: card id is required", ErrInvalidTrigger)
	}
	if p.ObservedAt.IsZero() {
		return fmt.Errorf("%w: observed_at is required", ErrInvalidTrigger)
	}
	if p.Fields.Stage == nil && p.Fields.StartDate == nil && p.Fields.DueDate == nil && p.Fields.Notes == nil {
		return fmt.Errorf("%w: push carries no fields", ErrInvalidTrigger)
	}
	return nil
}

// SheetRow is one job row as read from the sheet. Customer and description
// only matter when the row creates a job; they are not conflict-resolved.
type SheetRow struct {
	Job         string
	Release     string
	Customer    string
	Description string
	Stage       string
	StartDate   string
	DueDate     string
	Notes       string
	RowRef      string
}

// SheetPoll is a normalized sheet poll result.
type SheetPoll struct {
	LastModified time.Time
	Rows         []SheetRow
}

// Validate checks the poll carries enough to run a pass. An empty row set is
// valid; the pass simply has nothing to reconcile.
func (p SheetPoll) Validate() error {
	if p.LastModified.IsZero() {
		return fmt.Errorf("%w: last_modified_time is required", ErrInvalidTrigger)
	}
	return nil
}
