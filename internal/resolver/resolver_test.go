package resolver

import (
	"testing"
	"time"
)

func TestDecideTableCases(t *testing.T) {
	base := time.Date(2026, time.February, 10, 8, 0, 0, 0, time.UTC)
	window := 120 * time.Second

	cases := []struct {
		name     string
		incoming Observation
		stored   FieldState
		expected Decision
	}{
		{
			name:     "first write applies",
			incoming: Observation{Source: "board", ObservedAt: base},
			stored:   FieldState{},
			expected: DecisionApply,
		},
		{
			name:     "newer cross-source write applies",
			incoming: Observation{Source: "sheet", ObservedAt: base.Add(time.Minute)},
			stored:   FieldState{LastSource: "board", LastUpdatedAt: base},
			expected: DecisionApply,
		},
		{
			name:     "older write is skipped",
			incoming: Observation{Source: "sheet", ObservedAt: base.Add(-time.Minute)},
			stored:   FieldState{LastSource: "board", LastUpdatedAt: base},
			expected: DecisionSkipOlder,
		},
		{
			name:     "equal timestamp loses the tie",
			incoming: Observation{Source: "sheet", ObservedAt: base},
			stored:   FieldState{LastSource: "board", LastUpdatedAt: base},
			expected: DecisionSkipOlder,
		},
		{
			name:     "same source inside window is an echo",
			incoming: Observation{Source: "board", ObservedAt: base.Add(30 * time.Second)},
			stored:   FieldState{LastSource: "board", LastUpdatedAt: base},
			expected: DecisionSkipEcho,
		},
		{
			name:     "same source at window boundary is an echo",
			incoming: Observation{Source: "board", ObservedAt: base.Add(window)},
			stored:   FieldState{LastSource: "board", LastUpdatedAt: base},
			expected: DecisionSkipEcho,
		},
		{
			name:     "same source beyond window applies",
			incoming: Observation{Source: "board", ObservedAt: base.Add(window + time.Second)},
			stored:   FieldState{LastSource: "board", LastUpdatedAt: base},
			expected: DecisionApply,
		},
		{
			name:     "different source inside window applies",
			incoming: Observation{Source: "sheet", ObservedAt: base.Add(30 * time.Second)},
			stored:   FieldState{LastSource: "board", LastUpdatedAt: base},
			expected: DecisionApply,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := Decide(tc.incoming, tc.stored, window)
			if decision != tc.expected {
				t.Fatalf("expected %s, got %s", tc.expected, decision)
			}
		})
	}
}

func TestDecideZeroWindowDisablesEchoSuppression(t *testing.T) {
	base := time.Date(2026, time.February, 10, 8, 0, 0, 0, time.UTC)

	decision := Decide(
		Observation{Source: "board", ObservedAt: base.Add(10 * time.Second)},
		FieldState{LastSource: "board", LastUpdatedAt: base},
		0,
	)
	if decision != DecisionApply {
		t.Fatalf("expected apply with suppression disabled, got %s", decision)
	}
}

func TestDecideGroupsAreIndependent(t *testing.T) {
	base := time.Date(2026, time.February, 10, 8, 0, 0, 0, time.UTC)
	window := 120 * time.Second

	// A stale schedule observation must not shadow a fresh notes observation
	// arriving in the same trigger.
	schedule := Decide(
		Observation{Source: "sheet", ObservedAt: base.Add(-time.Hour)},
		FieldState{LastSource: "board", LastUpdatedAt: base},
		window,
	)
	notes := Decide(
		Observation{Source: "sheet", ObservedAt: base.Add(time.Hour)},
		FieldState{LastSource: "board", LastUpdatedAt: base.Add(-2 * time.Hour)},
		window,
	)

	if schedule != DecisionSkipOlder {
		t.Fatalf("expected stale schedule skip, got %s", schedule)
	}
	if notes != DecisionApply {
		t.Fatalf("expected fresh notes apply, got %s", notes)
	}
}
