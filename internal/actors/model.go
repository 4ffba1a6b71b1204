// Package actors tracks the people behind mirrored changes so event sources
// can carry a stable display name per external system account.
package actors

import "strings"

// Actor maps one external system account to the display name shown in event
// sources and audit rows.
type Actor struct {
	System             string `gorm:"column:system;primaryKey;size:32;not null"`
	ExternalID         string `gorm:"column:external_id;primaryKey;size:190;not null"`
	DisplayName        string `gorm:"column:display_name;size:190;not null;default:''"`
	FirstSeenAtSeconds int64  `gorm:"column:first_seen_at_s;not null"`
	LastSeenAtSeconds  int64  `gorm:"column:last_seen_at_s;not null"`
}

// TableName exposes the table backing the actor registry.
func (Actor) TableName() string {
	return "actors"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
