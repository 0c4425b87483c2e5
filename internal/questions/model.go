package questions

import (
	"time"

	"github.com/ubco-db/helpme-sub002/internal/users"
)

// Status enumerates the lifecycle states of an asynchronous question.
type Status string

const (
	// StatusAIAnswered is the default state: the model answered, the asker
	// has not weighed in yet.
	StatusAIAnswered Status = "AIAnswered"
	// StatusAIAnsweredResolved means the asker accepted the AI answer.
	StatusAIAnsweredResolved Status = "AIAnsweredResolved"
	// StatusAIAnsweredNeedsAttention means the asker flagged the question
	// for course staff.
	StatusAIAnsweredNeedsAttention Status = "AIAnsweredNeedsAttention"
	// StatusHumanAnswered means a staff member answered the question.
	StatusHumanAnswered Status = "HumanAnswered"
	// StatusStudentDeleted and StatusTADeleted are terminal; the row
	// persists but leaves every feed.
	StatusStudentDeleted Status = "StudentDeleted"
	StatusTADeleted      Status = "TADeleted"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusAIAnswered, StatusAIAnsweredResolved, StatusAIAnsweredNeedsAttention,
		StatusHumanAnswered, StatusStudentDeleted, StatusTADeleted:
		return true
	}
	return false
}

// Deleting reports whether the status removes the question from feeds.
// Deleting statuses are terminal: no further transitions are permitted.
func (s Status) Deleting() bool {
	return s == StatusStudentDeleted || s == StatusTADeleted
}

// Closing reports whether the status stamps the question's closedAt.
func (s Status) Closing() bool {
	return s == StatusHumanAnswered || s == StatusAIAnsweredResolved
}

// Question is a long-lived asynchronous Q&A post tied to a course.
type Question struct {
	ID       string `gorm:"column:id;primaryKey;size:190;not null"`
	CourseID string `gorm:"column:course_id;size:190;not null;index"`
	// CreatorID is the asking student; HelperID is stamped when staff answer.
	CreatorID string  `gorm:"column:creator_id;size:190;not null;index"`
	HelperID  *string `gorm:"column:helper_id;size:190"`

	Abstract    string   `gorm:"column:abstract;size:320;not null"`
	Body        string   `gorm:"column:body;type:text"`
	AIAnswer    string   `gorm:"column:ai_answer;type:text"`
	HumanAnswer string   `gorm:"column:human_answer;type:text"`
	Tags        []string `gorm:"column:tags;type:text;serializer:json"`

	Status Status `gorm:"column:status;size:64;not null"`
	// AuthorSetVisible is the asker's own publish request; StaffSetVisible is
	// the staff override, nil meaning no decision has been made.
	AuthorSetVisible bool  `gorm:"column:author_set_visible;not null;default:false"`
	StaffSetVisible  *bool `gorm:"column:staff_set_visible"`
	Anonymous        bool  `gorm:"column:is_anonymous;not null;default:false"`
	Verified         bool  `gorm:"column:verified;not null;default:false"`

	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	ClosedAt  *time.Time `gorm:"column:closed_at"`

	// VoteTotal is derived from vote rows at load time, never persisted.
	VoteTotal int `gorm:"-"`
}

// TableName provides the explicit table binding for GORM.
func (Question) TableName() string {
	return "async_questions"
}

// Vote is a single user's directional opinion on a question. The stored
// value is always in {-1, 0, 1} and there is at most one row per
// (user, question) pair.
type Vote struct {
	QuestionID string    `gorm:"column:question_id;primaryKey;size:190;not null"`
	UserID     string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Value      int       `gorm:"column:value;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`

	Question *Question `gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
}

// TableName provides the explicit table binding for GORM.
func (Vote) TableName() string {
	return "async_question_votes"
}

// Comment is a reply on a question, owned by it and removed with it.
type Comment struct {
	ID         string    `gorm:"column:id;primaryKey;size:190;not null"`
	QuestionID string    `gorm:"column:question_id;size:190;not null;index"`
	CreatorID  string    `gorm:"column:creator_id;size:190;not null"`
	Text       string    `gorm:"column:text;type:text;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`

	Question *Question `gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "async_question_comments"
}

// UnreadMarker tracks whether one course member has seen the latest state of
// one question. A row exists for every (member, question) pair from the
// moment the question is created.
type UnreadMarker struct {
	CourseID   string `gorm:"column:course_id;primaryKey;size:190;not null"`
	UserID     string `gorm:"column:user_id;primaryKey;size:190;not null"`
	QuestionID string `gorm:"column:question_id;primaryKey;size:190;not null"`
	ReadLatest bool   `gorm:"column:read_latest;not null;default:false"`

	Question *Question `gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
}

// TableName provides the explicit table binding for GORM.
func (UnreadMarker) TableName() string {
	return "unread_async_questions"
}

// CreateRequest carries the caller-supplied fields for a new question.
type CreateRequest struct {
	Abstract         string
	Body             string
	AIAnswer         string
	Tags             []string
	Status           Status // zero value defaults to StatusAIAnswered
	AuthorSetVisible bool
	Anonymous        bool
}

// Patch names the mutable subset of a question. Only non-nil fields are
// applied; arbitrary keys can never reach a column that is not listed here.
type Patch struct {
	Abstract         *string
	Body             *string
	AIAnswer         *string
	HumanAnswer      *string
	Tags             *[]string
	Status           *Status
	AuthorSetVisible *bool
	StaffSetVisible  *bool
	Anonymous        *bool
	Verified         *bool
}

// View is the externally-visible projection of a question, mirrored into the
// cache. Relations are nested; internal foreign-key columns are not exposed.
type View struct {
	ID          string        `json:"id"`
	CourseID    string        `json:"course_id"`
	Creator     *users.Public `json:"creator,omitempty"`
	Helper      *users.Public `json:"helper,omitempty"`
	Abstract    string        `json:"abstract"`
	Body        string        `json:"body,omitempty"`
	AIAnswer    string        `json:"ai_answer,omitempty"`
	HumanAnswer string        `json:"human_answer,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	Status      Status        `json:"status"`
	Visible     bool          `json:"visible"`
	Anonymous   bool          `json:"anonymous"`
	Verified    bool          `json:"verified"`
	VoteTotal   int           `json:"votes"`
	Comments    int           `json:"comments"`
	CreatedAt   int64         `json:"created_at_s"`
	ClosedAt    *int64        `json:"closed_at_s,omitempty"`
}

// VoteReceipt reports the outcome of a vote: the value now stored for the
// voter and the question's recomputed aggregate.
type VoteReceipt struct {
	StoredValue int
	Aggregate   int
}
