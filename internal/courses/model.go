package courses

import "time"

// Role enumerates the course membership roles.
type Role string

const (
	RoleStudent   Role = "student"
	RoleTA        Role = "ta"
	RoleProfessor Role = "professor"
)

// Staff reports whether the role carries elevated course privileges.
func (r Role) Staff() bool {
	return r == RoleTA || r == RoleProfessor
}

// Valid reports whether the role is one of the known membership roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTA, RoleProfessor:
		return true
	}
	return false
}

// StaffRoles lists the roles treated as course staff.
func StaffRoles() []Role {
	return []Role{RoleTA, RoleProfessor}
}

// Course is a single offering students ask questions in.
type Course struct {
	ID   string `gorm:"column:id;primaryKey;size:190;not null"`
	Name string `gorm:"column:name;size:320;not null"`
	// AllowsAuthorPublic controls whether askers may publish their own
	// questions or staff hold the only visibility switch.
	AllowsAuthorPublic bool      `gorm:"column:allows_author_public;not null;default:false"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Course) TableName() string {
	return "courses"
}

// Membership ties a user to a course with a role.
type Membership struct {
	CourseID  string    `gorm:"column:course_id;primaryKey;size:190;not null"`
	UserID    string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Role      Role      `gorm:"column:role;size:32;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Membership) TableName() string {
	return "course_memberships"
}
