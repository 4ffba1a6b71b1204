// Package resolver decides whether an observed external change is applied to
// the stored record or skipped. Resolution is last-writer-wins per field
// group, with suppression of changes that echo back from a mirror this
// service produced.
package resolver

import "time"

// FieldGroup names an independently-resolved slice of an entity. Groups
// conflict as a unit: a newer schedule never blocks an older notes edit.
type FieldGroup string

const (
	GroupStage    FieldGroup = "stage"
	GroupSchedule FieldGroup = "schedule"
	GroupNotes    FieldGroup = "notes"
)

// Decision is the outcome of conflict resolution for one observation.
type Decision int

const (
	// DecisionApply accepts the observation as the new truth for the group.
	DecisionApply Decision = iota
	// DecisionSkipOlder rejects an observation at or before the stored write.
	DecisionSkipOlder
	// DecisionSkipEcho rejects a same-source observation inside the echo
	// window, treating it as the reflection of our own mirror write.
	DecisionSkipEcho
)

func (d Decision) String() string {
	switch d {
	case DecisionApply:
		return "apply"
	case DecisionSkipOlder:
		return "skip_older"
	case DecisionSkipEcho:
		return "skip_echo"
	default:
		return "unknown"
	}
}

// Observation is one normalized external claim about a field group.
type Observation struct {
	Source     string
	ObservedAt time.Time
}

// FieldState is the stored conflict metadata for one entity field group. A
// zero LastUpdatedAt means the group has never been written.
type FieldState struct {
	LastSource    string
	LastUpdatedAt time.Time
}

// Decide resolves one observation against the stored state. Ties lose: an
// observation stamped exactly at the stored write is treated as older.
func Decide(incoming Observation, stored FieldState, echoWindow time.Duration) Decision {
	if !stored.LastUpdatedAt.IsZero() && !incoming.ObservedAt.After(stored.LastUpdatedAt) {
		return DecisionSkipOlder
	}
	if echoWindow > 0 && stored.LastSource != "" && stored.LastSource == incoming.Source {
		if incoming.ObservedAt.Sub(stored.LastUpdatedAt) <= echoWindow {
			return DecisionSkipEcho
		}
	}
	return DecisionApply
}
