package users

import "time"

// User is a platform account. Accounts are provisioned by the organization
// administration surface; the engine only reads them.
type User struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	Email       string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// Public is the externally-visible projection of a user: no email, no
// audit timestamps.
type Public struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
}

// PublicView returns the externally-visible projection of the user.
func (u User) PublicView() Public {
	return Public{ID: u.ID, DisplayName: u.DisplayName}
}
