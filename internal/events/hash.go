package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// CanonicalJSON renders a payload with deterministic key ordering, so two
// semantically identical payloads built in different field orders serialize
// to the same bytes.
func CanonicalJSON(payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(encoded, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// PayloadHash computes the dedup hash over the action, entity key, and
// canonical payload for one intended transition.
func PayloadHash(action string, entityKey string, payload any) (string, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(action + ":" + entityKey + ":" + string(canonical)))
	return hex.EncodeToString(sum[:]), nil
}

// FormatSource renders the event source as "System - actor", or just the
// system name when the actor is unknown.
func FormatSource(system string, actor string) string {
	system = capitalize(strings.TrimSpace(system))
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return system
	}
	return system + " - " + actor
}

func capitalize(value string) string {
	if value == "" {
		return value
	}
	return strings.ToUpper(value[:1]) + value[1:]
}
