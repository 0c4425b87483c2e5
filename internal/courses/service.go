package courses

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrUnknownCourse indicates the requested course does not exist.
	ErrUnknownCourse = errors.New("courses: unknown course")
	// ErrNotMember indicates the user holds no membership in the course.
	ErrNotMember = errors.New("courses: user is not a course member")
)

// ServiceConfig describes the dependencies required for course lookups.
type ServiceConfig struct {
	Database *gorm.DB
}

// Service resolves courses and membership roles. Enrollment itself is owned
// by the administration surface; the question engine only consults it.
type Service struct {
	db *gorm.DB
}

// NewService constructs the course lookup service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("courses: database connection required")
	}
	return &Service{db: cfg.Database}, nil
}

// GetByID returns the course with the given identifier.
func (s *Service) GetByID(ctx context.Context, courseID string) (Course, error) {
	var course Course
	err := s.db.WithContext(ctx).Where("id = ?", courseID).Take(&course).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Course{}, ErrUnknownCourse
	}
	if err != nil {
		return Course{}, err
	}
	return course, nil
}

// RoleOf returns the role the user holds in the course.
func (s *Service) RoleOf(ctx context.Context, courseID, userID string) (Role, error) {
	var membership Membership
	err := s.db.WithContext(ctx).
		Where("course_id = ? AND user_id = ?", courseID, userID).
		Take(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotMember
	}
	if err != nil {
		return "", err
	}
	return membership.Role, nil
}

// MemberCount returns the number of members enrolled in the course.
func (s *Service) MemberCount(ctx context.Context, courseID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Membership{}).
		Where("course_id = ?", courseID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
