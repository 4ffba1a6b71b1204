// Package records stores the synchronized shop entities: jobs and their
// submittals, together with the per-field-group conflict metadata the
// resolver reads.
package records

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/steelhaus/shopsync/internal/resolver"
)

// Source system names as they appear in conflict stamps and event sources.
const (
	SystemBoard    = "board"
	SystemSheet    = "sheet"
	SystemInternal = "internal"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidJobRef indicates an empty or oversized job number or release.
	ErrInvalidJobRef = errors.New("records: invalid job reference")
	// ErrInvalidSubmittalID indicates an empty or oversized submittal identifier.
	ErrInvalidSubmittalID = errors.New("records: invalid submittal id")
)

// JobRef is a validated job identity: the job number plus its release.
type JobRef struct {
	Number  string
	Release string
}

// NewJobRef validates raw input and returns a JobRef.
func NewJobRef(rawNumber string, rawRelease string) (JobRef, error) {
	number := strings.TrimSpace(rawNumber)
	release := strings.TrimSpace(rawRelease)
	if number == "" {
		return JobRef{}, fmt.Errorf("%w: empty job number", ErrInvalidJobRef)
	}
	if release == "" {
		return JobRef{}, fmt.Errorf("%w: empty release", ErrInvalidJobRef)
	}
	if len(number)+len(release) > maxIdentifierLength {
		return JobRef{}, fmt.Errorf("%w: exceeds %d characters", ErrInvalidJobRef, maxIdentifierLength)
	}
	return JobRef{Number: number, Release: release}, nil
}

// Key returns the canonical "number-release" entity key.
func (r JobRef) Key() string {
	return r.Number + "-" + r.Release
}

// SubmittalID is a validated submittal identifier.
type SubmittalID string

// NewSubmittalID validates raw input and returns a SubmittalID.
func NewSubmittalID(rawInput string) (SubmittalID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSubmittalID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidSubmittalID, maxIdentifierLength)
	}
	return SubmittalID(trimmed), nil
}

// String returns the underlying string identifier.
func (id SubmittalID) String() string {
	return string(id)
}

// Job models one job release row with per-group conflict stamps. Dates are
// kept in the sheet's YYYY-MM-DD form; ordering and equality on them is
// lexicographic, which matches chronological order for that layout.
type Job struct {
	JobNumber   string `gorm:"column:job_number;primaryKey;size:64;not null"`
	Release     string `gorm:"column:release;primaryKey;size:64;not null"`
	Customer    string `gorm:"column:customer;size:190;not null;default:''"`
	Description string `gorm:"column:description;type:text;not null;default:''"`

	Stage     string `gorm:"column:stage;size:64;not null;default:''"`
	StartDate string `gorm:"column:start_date;size:10;not null;default:''"`
	DueDate   string `gorm:"column:due_date;size:10;not null;default:''"`
	Notes     string `gorm:"column:notes;type:text;not null;default:''"`

	BoardCardID string `gorm:"column:board_card_id;size:190;not null;default:'';index:idx_jobs_board_card"`
	SheetRowRef string `gorm:"column:sheet_row_ref;size:64;not null;default:''"`

	StageSource              string `gorm:"column:stage_source;size:190;not null;default:''"`
	StageUpdatedAtSeconds    int64  `gorm:"column:stage_updated_at_s;not null;default:0"`
	ScheduleSource           string `gorm:"column:schedule_source;size:190;not null;default:''"`
	ScheduleUpdatedAtSeconds int64  `gorm:"column:schedule_updated_at_s;not null;default:0"`
	NotesSource              string `gorm:"column:notes_source;size:190;not null;default:''"`
	NotesUpdatedAtSeconds    int64  `gorm:"column:notes_updated_at_s;not null;default:0"`

	CreatedAtSeconds int64 `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64 `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Job) TableName() string {
	return "jobs"
}

// Ref returns the job's validated identity.
func (j Job) Ref() JobRef {
	return JobRef{Number: j.JobNumber, Release: j.Release}
}

// Key returns the canonical entity key used in events and audit rows.
func (j Job) Key() string {
	return j.Ref().Key()
}

// GroupState returns the stored conflict metadata for one field group.
func (j Job) GroupState(group resolver.FieldGroup) resolver.FieldState {
	switch group {
	case resolver.GroupStage:
		return fieldState(j.StageSource, j.StageUpdatedAtSeconds)
	case resolver.GroupSchedule:
		return fieldState(j.ScheduleSource, j.ScheduleUpdatedAtSeconds)
	case resolver.GroupNotes:
		return fieldState(j.NotesSource, j.NotesUpdatedAtSeconds)
	default:
		return resolver.FieldState{}
	}
}

// Submittal models one submittal row. Submittals carry the stage group for
// conflict resolution plus the fractional/integer order slot the ranking
// engine manages. A nil OrderNumber means the submittal is unranked.
type Submittal struct {
	SubmittalID string `gorm:"column:submittal_id;primaryKey;size:190;not null"`
	JobNumber   string `gorm:"column:job_number;size:64;not null;index:idx_submittals_job,priority:1"`
	Release     string `gorm:"column:release;size:64;not null;index:idx_submittals_job,priority:2"`
	Title       string `gorm:"column:title;size:190;not null;default:''"`

	Stage string `gorm:"column:stage;size:64;not null;default:''"`

	AssignmentGroup string   `gorm:"column:assignment_group;size:190;not null;default:'';index:idx_submittals_group_order,priority:1"`
	OrderNumber     *float64 `gorm:"column:order_number;index:idx_submittals_group_order,priority:2"`

	BoardCardID string `gorm:"column:board_card_id;size:190;not null;default:'';index:idx_submittals_board_card"`

	StageSource           string `gorm:"column:stage_source;size:190;not null;default:''"`
	StageUpdatedAtSeconds int64  `gorm:"column:stage_updated_at_s;not null;default:0"`
	OrderUpdatedAtSeconds int64  `gorm:"column:order_updated_at_s;not null;default:0"`

	CreatedAtSeconds int64 `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64 `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Submittal) TableName() string {
	return "submittals"
}

// GroupState returns the stored conflict metadata for one field group.
func (s Submittal) GroupState(group resolver.FieldGroup) resolver.FieldState {
	switch group {
	case resolver.GroupStage:
		return fieldState(s.StageSource, s.StageUpdatedAtSeconds)
	default:
		return resolver.FieldState{}
	}
}

func fieldState(source string, updatedAtSeconds int64) resolver.FieldState {
	state := resolver.FieldState{LastSource: source}
	if updatedAtSeconds > 0 {
		state.LastUpdatedAt = unixTime(updatedAtSeconds)
	}
	return state
}

func unixTime(seconds int64) time.Time {
	return time.Unix(seconds, 0).UTC()
}
