package events

import (
	"encoding/json"
	"testing"
)

func TestCanonicalJSONOrdersKeys(t *testing.T) {
	first, err := CanonicalJSON(map[string]any{"b": 2, "a": 1})
	if err != nil {
		t.Fatalf("failed to canonicalize: %v", err)
	}
	if string(first) != `{"a":1,"b":2}` {
		t.Fatalf("unexpected canonical form %s", first)
	}
}

func TestPayloadHashIgnoresConstructionOrder(t *testing.T) {
	left := Transition{
		From: map[string]any{"stage": "Fabrication", "owner": "jdoe"},
		To:   map[string]any{"stage": "Paint", "owner": "jdoe"},
	}
	right := Transition{
		From: map[string]any{"owner": "jdoe", "stage": "Fabrication"},
		To:   map[string]any{"owner": "jdoe", "stage": "Paint"},
	}

	leftHash, err := PayloadHash("stage_changed", "4512-001", left)
	if err != nil {
		t.Fatalf("failed to hash: %v", err)
	}
	rightHash, err := PayloadHash("stage_changed", "4512-001", right)
	if err != nil {
		t.Fatalf("failed to hash: %v", err)
	}

	if leftHash != rightHash {
		t.Fatalf("expected identical hashes, got %s vs %s", leftHash, rightHash)
	}
	if len(leftHash) != 64 {
		t.Fatalf("unexpected hash length %d", len(leftHash))
	}
}

func TestPayloadHashSeparatesActionAndEntity(t *testing.T) {
	payload := Transition{From: "Fabrication", To: "Paint"}

	base, err := PayloadHash("stage_changed", "4512-001", payload)
	if err != nil {
		t.Fatalf("failed to hash: %v", err)
	}
	otherAction, err := PayloadHash("notes_changed", "4512-001", payload)
	if err != nil {
		t.Fatalf("failed to hash: %v", err)
	}
	otherEntity, err := PayloadHash("stage_changed", "4512-002", payload)
	if err != nil {
		t.Fatalf("failed to hash: %v", err)
	}

	if base == otherAction {
		t.Fatal("expected action to contribute to the hash")
	}
	if base == otherEntity {
		t.Fatal("expected entity key to contribute to the hash")
	}
}

func TestTransitionSerializesFromTo(t *testing.T) {
	canonical, err := CanonicalJSON(Transition{From: "Fabrication", To: "Paint"})
	if err != nil {
		t.Fatalf("failed to canonicalize: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(canonical, &decoded); err != nil {
		t.Fatalf("canonical payload is not valid JSON: %v", err)
	}
	if decoded["from"] != "Fabrication" || decoded["to"] != "Paint" {
		t.Fatalf("unexpected transition payload %v", decoded)
	}
}

func TestFormatSource(t *testing.T) {
	cases := []struct {
		system   string
		actor    string
		expected string
	}{
		{"board", "J. Doe", "Board - J. Doe"},
		{"sheet", "", "Sheet"},
		{"internal", "scheduler-ui", "Internal - scheduler-ui"},
		{"", "", ""},
	}
	for _, tc := range cases {
		if got := FormatSource(tc.system, tc.actor); got != tc.expected {
			t.Fatalf("FormatSource(%q, %q) = %q, expected %q", tc.system, tc.actor, got, tc.expected)
		}
	}
}
