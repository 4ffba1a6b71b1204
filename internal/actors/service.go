package actors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// ErrInvalidActor indicates the external account lacked a usable identifier.
var ErrInvalidActor = errors.New("actors: external id is required")

const defaultSystem = "board"

// ServiceConfig describes the dependencies for actor resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service resolves external account identifiers to display names, keeping the
// registry current as names change upstream.
type Service struct {
	db    *gorm.DB
	clock func() time.Time
	cache sync.Map
}

// NewService constructs the actor registry service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("actors: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, clock: clock}, nil
}

// Resolve returns the display name to attribute to an actor, registering the
// account on first sight and refreshing the stored name when the caller
// supplies a changed one. Accounts with no known name resolve to their
// external id.
func (s *Service) Resolve(ctx context.Context, system string, externalID string, displayName string) (string, error) {
	system = normalize(system)
	if system == "" {
		system = defaultSystem
	}
	externalID = normalize(externalID)
	if externalID == "" {
		return "", ErrInvalidActor
	}
	displayName = normalize(displayName)

	cacheKey := system + ":" + externalID
	if cached, ok := s.cache.Load(cacheKey); ok {
		cachedName, ok := cached.(string)
		if ok && (displayName == "" || displayName == cachedName) {
			return cachedName, nil
		}
	}

	now := s.clock().UTC().Unix()

	var actor Actor
	err := s.db.WithContext(ctx).
		Where("system = ? AND external_id = ?", system, externalID).
		First(&actor).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		actor = Actor{
			System:             system,
			ExternalID:         externalID,
			DisplayName:        displayName,
			FirstSeenAtSeconds: now,
			LastSeenAtSeconds:  now,
		}
		if actor.DisplayName == "" {
			actor.DisplayName = externalID
		}
		if err := s.db.WithContext(ctx).Create(&actor).Error; err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	} else {
		updates := map[string]any{"last_seen_at_s": now}
		if displayName != "" && displayName != actor.DisplayName {
			updates["display_name"] = displayName
			actor.DisplayName = displayName
		}
		_ = s.db.WithContext(ctx).Model(&Actor{}).
			Where("system = ? AND external_id = ?", system, externalID).
			Updates(updates).
			Error
	}

	s.cache.Store(cacheKey, actor.DisplayName)
	return actor.DisplayName, nil
}
