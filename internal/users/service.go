package users

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

// ErrUnknownUser indicates the requested account does not exist.
var ErrUnknownUser = errors.New("users: unknown user")

// ServiceConfig describes the dependencies required for account lookups.
type ServiceConfig struct {
	Database *gorm.DB
}

// Service resolves platform accounts for other components. Lookups are
// cached per process; accounts are written by the administration surface,
// not by this service.
type Service struct {
	db    *gorm.DB
	cache sync.Map
}

// NewService constructs the account lookup service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	return &Service{db: cfg.Database}, nil
}

// GetByID returns the account with the given identifier.
func (s *Service) GetByID(ctx context.Context, userID string) (User, error) {
	if cached, ok := s.cache.Load(userID); ok {
		if account, ok := cached.(User); ok {
			return account, nil
		}
	}

	var account User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUnknownUser
	}
	if err != nil {
		return User{}, err
	}

	s.cache.Store(userID, account)
	return account, nil
}
