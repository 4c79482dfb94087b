package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/lobbyboard/internal/auth"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidIdentity indicates the actor did not carry a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

const defaultTouchInterval = time.Minute

// ServiceConfig describes the dependencies of the user directory.
type ServiceConfig struct {
	Database      *gorm.DB
	Clock         func() time.Time
	TouchInterval time.Duration
}

// Service records the actors that reach the API so member listings can show usernames.
type Service struct {
	db       *gorm.DB
	now      func() time.Time
	interval time.Duration
	cache    sync.Map
}

// NewService constructs the user directory.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	interval := cfg.TouchInterval
	if interval <= 0 {
		interval = defaultTouchInterval
	}
	return &Service{
		db:       cfg.Database,
		now:      clock,
		interval: interval,
		cache:    sync.Map{},
	}, nil
}

// Touch upserts the actor. Writes are skipped while the cached entry is fresh and unchanged.
func (s *Service) Touch(ctx context.Context, actor auth.Actor) error {
	userID := normalize(actor.ID)
	if userID == "" {
		return ErrInvalidIdentity
	}
	now := s.now().UTC()
	username := normalize(actor.Username)
	role := normalize(actor.Role)

	if cached, ok := s.cache.Load(userID); ok {
		entry, ok := cached.(cachedUser)
		if ok && entry.username == username && entry.role == role && now.Sub(entry.seenAt) < s.interval {
			return nil
		}
	}

	user := User{
		ID:         userID,
		Username:   username,
		Role:       role,
		LastSeenAt: now,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "role", "last_seen_at"}),
		}).
		Create(&user).Error
	if err != nil {
		return err
	}

	s.cache.Store(userID, cachedUser{username: username, role: role, seenAt: now})
	return nil
}

// Get returns the stored user.
func (s *Service) Get(ctx context.Context, userID string) (User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where("id = ?", normalize(userID)).Take(&user).Error; err != nil {
		return User{}, err
	}
	return user, nil
}
