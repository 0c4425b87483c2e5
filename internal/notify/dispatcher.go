package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ubco-db/helpme-sub002/internal/courses"
	"github.com/ubco-db/helpme-sub002/internal/questions"
	"github.com/ubco-db/helpme-sub002/internal/users"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingMailer   = errors.New("mailer is required")
)

// DispatcherConfig describes the dependencies of the dispatcher.
type DispatcherConfig struct {
	Database *gorm.DB
	Mailer   Mailer
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Dispatcher turns question lifecycle events into emails. Every event is
// fire-and-forget: recipients are filtered by their opt-in subscriptions,
// failed sends are logged and dropped, and nothing propagates back to the
// mutation that triggered the event.
type Dispatcher struct {
	db     *gorm.DB
	mailer Mailer
	clock  func() time.Time
	logger *zap.Logger
}

var _ questions.Notifier = (*Dispatcher)(nil)

// NewDispatcher constructs the dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("notify: %w", errMissingDatabase)
	}
	if cfg.Mailer == nil {
		return nil, fmt.Errorf("notify: %w", errMissingMailer)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		db:     cfg.Database,
		mailer: cfg.Mailer,
		clock:  clock,
		logger: logger,
	}, nil
}

// AttentionRequested notifies all subscribed course staff that a question
// needs a human look.
func (d *Dispatcher) AttentionRequested(ctx context.Context, question *questions.Question) {
	staff, err := d.staffIDs(ctx, question.CourseID)
	if err != nil {
		d.logFailure("needs_attention", question.ID, err)
		return
	}
	subject := fmt.Sprintf("Question needs attention: %s", question.Abstract)
	body := fmt.Sprintf("A student flagged %q for staff review.", question.Abstract)
	d.sendTo(ctx, staff, ServiceNeedsAttention, question.ID, subject, body)
}

// QuestionAnswered notifies the asker that staff answered, and follows up
// with everyone who received an earlier needs-attention notice for the
// same question.
func (d *Dispatcher) QuestionAnswered(ctx context.Context, question *questions.Question) {
	subject := fmt.Sprintf("Your question was answered: %s", question.Abstract)
	body := fmt.Sprintf("Course staff posted an answer to %q.", question.Abstract)
	d.sendTo(ctx, []string{question.CreatorID}, ServiceHumanAnswered, question.ID, subject, body)

	var earlier []string
	err := d.db.WithContext(ctx).
		Model(&Record{}).
		Distinct("user_id").
		Where("question_id = ? AND service = ?", question.ID, ServiceNeedsAttention).
		Pluck("user_id", &earlier).Error
	if err != nil {
		d.logFailure("human_answered_followup", question.ID, err)
		return
	}
	if len(earlier) == 0 {
		return
	}
	followUp := fmt.Sprintf("Re: Question needs attention: %s", question.Abstract)
	d.sendTo(ctx, earlier, ServiceNeedsAttention, question.ID, followUp,
		fmt.Sprintf("%q has been answered; no further attention is needed.", question.Abstract))
}

// StatusChanged notifies the asker about a generic lifecycle change.
// Deleting statuses are silent.
func (d *Dispatcher) StatusChanged(ctx context.Context, question *questions.Question, status questions.Status) {
	if status.Deleting() {
		return
	}
	subject := fmt.Sprintf("Question status changed: %s", question.Abstract)
	body := fmt.Sprintf("The status of %q is now %s.", question.Abstract, status)
	d.sendTo(ctx, []string{question.CreatorID}, ServiceStatusChanged, question.ID, subject, body)
}

// QuestionUpvoted notifies the asker of an upvote. Self-votes are silent.
func (d *Dispatcher) QuestionUpvoted(ctx context.Context, question *questions.Question, voterID string) {
	if voterID == question.CreatorID {
		return
	}
	subject := fmt.Sprintf("Your question was upvoted: %s", question.Abstract)
	body := fmt.Sprintf("%q now has a score of %d.", question.Abstract, question.VoteTotal)
	d.sendTo(ctx, []string{question.CreatorID}, ServiceUpvoted, question.ID, subject, body)
}

// CommentAdded notifies the asker about comments on their post and fans out
// to every prior distinct commenter, excluding the new commenter and the
// asker themselves.
func (d *Dispatcher) CommentAdded(ctx context.Context, question *questions.Question, comment *questions.Comment) {
	subject := fmt.Sprintf("New comment on: %s", question.Abstract)

	if comment.CreatorID != question.CreatorID {
		d.sendTo(ctx, []string{question.CreatorID}, ServiceCommentOnOwnPost, question.ID, subject,
			fmt.Sprintf("Someone commented on your question %q.", question.Abstract))
	}

	var commenters []string
	err := d.db.WithContext(ctx).
		Model(&questions.Comment{}).
		Distinct("creator_id").
		Where("question_id = ? AND creator_id NOT IN ?",
			question.ID, []string{comment.CreatorID, question.CreatorID}).
		Pluck("creator_id", &commenters).Error
	if err != nil {
		d.logFailure("comment_fanout", question.ID, err)
		return
	}
	d.sendTo(ctx, commenters, ServiceCommentOnOthersPost, question.ID, subject,
		fmt.Sprintf("A question you commented on, %q, has a new comment.", question.Abstract))
}

// sendTo filters candidates by subscription, delivers to each, and records
// successful sends. Failures are captured in the log and dropped.
func (d *Dispatcher) sendTo(ctx context.Context, candidateIDs []string, service ServiceType, questionID, subject, body string) {
	if len(candidateIDs) == 0 {
		return
	}

	var subscribed []string
	err := d.db.WithContext(ctx).
		Model(&Subscription{}).
		Where("service = ? AND is_subscribed = ? AND user_id IN ?", service, true, candidateIDs).
		Pluck("user_id", &subscribed).Error
	if err != nil {
		d.logFailure(string(service), questionID, err)
		return
	}
	if len(subscribed) == 0 {
		return
	}

	var recipients []users.User
	if err := d.db.WithContext(ctx).Where("id IN ?", subscribed).Find(&recipients).Error; err != nil {
		d.logFailure(string(service), questionID, err)
		return
	}

	for _, recipient := range recipients {
		msg := Message{
			ToName:    recipient.DisplayName,
			ToAddress: recipient.Email,
			Subject:   subject,
			Body:      body,
		}
		if err := d.mailer.Send(ctx, msg); err != nil {
			d.logger.Error("notification send failed",
				zap.String("service", string(service)),
				zap.String("question_id", questionID),
				zap.String("user_id", recipient.ID),
				zap.Error(err))
			continue
		}
		record := Record{
			UserID:     recipient.ID,
			QuestionID: questionID,
			Service:    service,
			Subject:    subject,
			SentAt:     d.clock().UTC(),
		}
		if err := d.db.WithContext(ctx).Create(&record).Error; err != nil {
			d.logger.Error("notification record failed",
				zap.String("service", string(service)),
				zap.String("question_id", questionID),
				zap.Error(err))
		}
	}
}

func (d *Dispatcher) staffIDs(ctx context.Context, courseID string) ([]string, error) {
	roles := courses.StaffRoles()
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}

	var ids []string
	err := d.db.WithContext(ctx).
		Model(&courses.Membership{}).
		Where("course_id = ? AND role IN ?", courseID, names).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (d *Dispatcher) logFailure(event, questionID string, err error) {
	d.logger.Error("notification dispatch failed",
		zap.String("event", event),
		zap.String("question_id", questionID),
		zap.Error(err))
}
