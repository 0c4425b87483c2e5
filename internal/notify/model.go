package notify

import "time"

// ServiceType identifies one notification service a user can opt into.
// Every send is gated on an explicit (user, service) subscription row.
type ServiceType string

const (
	ServiceCommentOnOwnPost    ServiceType = "async_question_comment_on_own_post"
	ServiceCommentOnOthersPost ServiceType = "async_question_comment_on_others_post"
	ServiceNeedsAttention      ServiceType = "async_question_needs_attention"
	ServiceHumanAnswered       ServiceType = "async_question_human_answered"
	ServiceStatusChanged       ServiceType = "async_question_status_changed"
	ServiceUpvoted             ServiceType = "async_question_upvoted"
)

// Subscription is a per-user opt-in for one notification service. A missing
// row suppresses the send just like an explicit opt-out.
type Subscription struct {
	UserID       string      `gorm:"column:user_id;primaryKey;size:190;not null"`
	Service      ServiceType `gorm:"column:service;primaryKey;size:64;not null"`
	IsSubscribed bool        `gorm:"column:is_subscribed;not null;default:true"`
	CreatedAt    time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Subscription) TableName() string {
	return "notification_subscriptions"
}

// Record logs a sent notification. The human-answered follow-up uses it to
// find the recipients of earlier needs-attention notices for a question.
type Record struct {
	ID         int64       `gorm:"column:id;primaryKey;autoIncrement"`
	UserID     string      `gorm:"column:user_id;size:190;not null;index"`
	QuestionID string      `gorm:"column:question_id;size:190;not null;index"`
	Service    ServiceType `gorm:"column:service;size:64;not null"`
	Subject    string      `gorm:"column:subject;size:320;not null"`
	SentAt     time.Time   `gorm:"column:sent_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "notification_log"
}
