// Package users resolves and repairs the local user identity.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scottteague/indentr/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidUsername indicates an empty username.
	ErrInvalidUsername = errors.New("users: invalid username")
	// ErrUserNotFound indicates that no local user has the username.
	ErrUserNotFound = errors.New("users: user not found")
	// ErrRemoteUserNotFound indicates that the remote store has no user with the username.
	ErrRemoteUserNotFound = errors.New("users: remote user not found")
	// ErrRemoteNotConfigured indicates that adoption was requested without a remote store.
	ErrRemoteNotConfigured = errors.New("users: remote store not configured")
)

// ServiceConfig describes the dependencies required for identity management.
type ServiceConfig struct {
	Local  *gorm.DB
	Remote *gorm.DB
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service looks up and re-derives local user identities.
type Service struct {
	local  *gorm.DB
	remote *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the identity service. Remote may be nil.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Local == nil {
		return nil, fmt.Errorf("users: local database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		local:  cfg.Local,
		remote: cfg.Remote,
		now:    clock,
		logger: logger,
	}, nil
}

// LocalUser returns the local user with the given username.
func (s *Service) LocalUser(ctx context.Context, username string) (store.User, error) {
	username = normalize(username)
	if username == "" {
		return store.User{}, ErrInvalidUsername
	}
	user, err := findByUsername(s.local.WithContext(ctx), username)
	if err != nil {
		return store.User{}, err
	}
	if user == nil {
		return store.User{}, ErrUserNotFound
	}
	return *user, nil
}

func findByUsername(db *gorm.DB, username string) (*store.User, error) {
	var user store.User
	err := db.Where("username = ?", username).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
