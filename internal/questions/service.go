package questions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ubco-db/helpme-sub002/internal/courses"
	"github.com/ubco-db/helpme-sub002/internal/users"
)

var (
	// ErrNotFound indicates the question (or its course) does not exist.
	ErrNotFound = errors.New("questions: not found")
	// ErrForbidden indicates a role or ownership violation.
	ErrForbidden = errors.New("questions: forbidden")
	// ErrInvalidStatus indicates an unknown lifecycle status was supplied.
	ErrInvalidStatus = errors.New("questions: invalid status")
	// ErrEmptyComment indicates a comment with no text.
	ErrEmptyComment = errors.New("questions: comment text is required")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingMirror     = errors.New("cache mirror is required")
	errMissingNotifier   = errors.New("notifier is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingCourses    = errors.New("course service is required")
	errMissingUsers      = errors.New("user service is required")

	noOpLogger = zap.NewNop()
)

// ServiceError carries a stable machine-readable code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "questions.service.new"
	opCreate      = "questions.create"
	opPatch       = "questions.patch"
	opVote        = "questions.vote"
	opComment     = "questions.comment"
	opList        = "questions.list"
	opMarkRead    = "questions.mark_read"
	opUnreadCount = "questions.unread_count"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Mirror is the compressed key-value cache the engine mirrors question
// projections into. It is write-only for the engine: never read back for
// decisions, so a stale entry can only lag behind the relational truth.
type Mirror interface {
	Set(ctx context.Context, key string, payload []byte) error
	Delete(ctx context.Context, key string) error
	GetAll(ctx context.Context, prefix string) ([][]byte, error)
}

// Notifier receives lifecycle events after the triggering mutation has
// committed. Implementations must never fail the mutation path.
type Notifier interface {
	AttentionRequested(ctx context.Context, question *Question)
	QuestionAnswered(ctx context.Context, question *Question)
	StatusChanged(ctx context.Context, question *Question, status Status)
	QuestionUpvoted(ctx context.Context, question *Question, voterID string)
	CommentAdded(ctx context.Context, question *Question, comment *Comment)
}

// IDProvider issues identifiers for new questions and comments.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the question service.
type ServiceConfig struct {
	Database   *gorm.DB
	Mirror     Mirror
	Notifier   Notifier
	Courses    *courses.Service
	Users      *users.Service
	IDProvider IDProvider
	Clock      func() time.Time
	// Async runs notification fan-out off the request path. Defaults to a
	// plain goroutine; tests inject a synchronous runner.
	Async  func(func())
	Logger *zap.Logger
}

// Service owns the asynchronous-question lifecycle: status transitions,
// votes, visibility, unread fan-out, cache mirroring, and notification
// triggering. The relational store is the only source of truth; mirror and
// notifier calls happen after commit and never roll it back.
type Service struct {
	db         *gorm.DB
	mirror     Mirror
	notifier   Notifier
	courses    *courses.Service
	users      *users.Service
	idProvider IDProvider
	clock      func() time.Time
	async      func(func())
	logger     *zap.Logger
}

// NewService constructs the question service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Mirror == nil {
		return nil, newServiceError(opServiceNew, "missing_mirror", errMissingMirror)
	}
	if cfg.Notifier == nil {
		return nil, newServiceError(opServiceNew, "missing_notifier", errMissingNotifier)
	}
	if cfg.Courses == nil {
		return nil, newServiceError(opServiceNew, "missing_courses", errMissingCourses)
	}
	if cfg.Users == nil {
		return nil, newServiceError(opServiceNew, "missing_users", errMissingUsers)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	async := cfg.Async
	if async == nil {
		async = func(fn func()) { go fn() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		mirror:     cfg.Mirror,
		notifier:   cfg.Notifier,
		courses:    cfg.Courses,
		users:      cfg.Users,
		idProvider: cfg.IDProvider,
		clock:      clock,
		async:      async,
		logger:     logger,
	}, nil
}

// CollectionKey returns the course-scoped mirror collection key.
func CollectionKey(courseID string) string {
	return "c:" + courseID + ":aq"
}

func entryKey(courseID, questionID string) string {
	return CollectionKey(courseID) + "/" + questionID
}

// CreateQuestion stores a new question, seeds unread markers for every
// current course member in one statement, mirrors the projection, and flags
// staff when the initial status already requests attention.
func (s *Service) CreateQuestion(ctx context.Context, courseID, creatorID string, req CreateRequest) (*Question, error) {
	course, err := s.courses.GetByID(ctx, courseID)
	if errors.Is(err, courses.ErrUnknownCourse) {
		return nil, newServiceError(opCreate, "course_not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(opCreate, "course_lookup_failed", err, zap.String("course_id", courseID))
		return nil, newServiceError(opCreate, "course_lookup_failed", err)
	}

	role, err := s.courses.RoleOf(ctx, courseID, creatorID)
	if errors.Is(err, courses.ErrNotMember) {
		return nil, newServiceError(opCreate, "not_a_member", ErrForbidden)
	}
	if err != nil {
		s.logError(opCreate, "role_lookup_failed", err, zap.String("course_id", courseID))
		return nil, newServiceError(opCreate, "role_lookup_failed", err)
	}
	if role != courses.RoleStudent {
		return nil, newServiceError(opCreate, "not_a_student",
			fmt.Errorf("%w: only students may create questions", ErrForbidden))
	}

	status := req.Status
	if status == "" {
		status = StatusAIAnswered
	}
	if !status.Valid() || status.Deleting() {
		return nil, newServiceError(opCreate, "invalid_status",
			fmt.Errorf("%w: %s", ErrInvalidStatus, status))
	}
	if strings.TrimSpace(req.Abstract) == "" {
		return nil, newServiceError(opCreate, "missing_abstract", errors.New("abstract is required"))
	}

	questionID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return nil, newServiceError(opCreate, "id_generation_failed", err)
	}

	question := &Question{
		ID:               questionID,
		CourseID:         courseID,
		CreatorID:        creatorID,
		Abstract:         req.Abstract,
		Body:             req.Body,
		AIAnswer:         req.AIAnswer,
		Tags:             req.Tags,
		Status:           status,
		AuthorSetVisible: req.AuthorSetVisible,
		Anonymous:        req.Anonymous,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(question).Error; err != nil {
			return newServiceError(opCreate, "question_insert_failed", err)
		}
		return seedUnreadMarkers(tx, question)
	})
	if txErr != nil {
		s.logError(opCreate, "transaction_failed", txErr, zap.String("course_id", courseID))
		return nil, txErr
	}

	s.writeMirror(ctx, question, course.AllowsAuthorPublic)

	if question.Status == StatusAIAnsweredNeedsAttention {
		s.dispatch(func(ctx context.Context) { s.notifier.AttentionRequested(ctx, question) })
	}

	s.logger.Info("question created",
		zap.String("question_id", question.ID),
		zap.String("course_id", courseID),
		zap.String("status", string(question.Status)))
	return question, nil
}

// PatchQuestion applies the caller-supplied optional fields after role and
// ownership checks, stamps closing metadata at most once, fans out unread
// markers, and synchronizes the mirror. Deleting transitions remove the
// mirror entry instead of updating it.
func (s *Service) PatchQuestion(ctx context.Context, questionID, actorID string, patch Patch) (*Question, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, newServiceError(opPatch, "invalid_status",
			fmt.Errorf("%w: %s", ErrInvalidStatus, *patch.Status))
	}

	var (
		question      Question
		statusChanged bool
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", questionID).Take(&question).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newServiceError(opPatch, "question_not_found", ErrNotFound)
			}
			return newServiceError(opPatch, "question_select_failed", err)
		}

		isCreator := question.CreatorID == actorID
		role, err := s.courses.RoleOf(ctx, question.CourseID, actorID)
		if errors.Is(err, courses.ErrNotMember) {
			return newServiceError(opPatch, "not_a_member", ErrForbidden)
		}
		if err != nil {
			return newServiceError(opPatch, "role_lookup_failed", err)
		}

		if err := authorizePatch(&question, role, isCreator, patch); err != nil {
			return newServiceError(opPatch, "forbidden", err)
		}

		applyFields(&question, patch)
		if patch.Status != nil && *patch.Status != question.Status {
			applyStatus(&question, *patch.Status, actorID, s.clock())
			statusChanged = true
		}

		if err := tx.Save(&question).Error; err != nil {
			return newServiceError(opPatch, "question_save_failed", err)
		}

		return s.fanOutUnread(tx, &question, actorID, statusChanged)
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrNotFound) && !errors.Is(txErr, ErrForbidden) {
			s.logError(opPatch, "transaction_failed", txErr, zap.String("question_id", questionID))
		}
		return nil, txErr
	}

	question.VoteTotal = s.loadAggregate(ctx, question.ID)

	if question.Status.Deleting() {
		s.deleteMirror(ctx, &question)
	} else {
		s.mirrorQuestion(ctx, &question)
	}

	if statusChanged {
		s.notifyStatus(&question)
	}

	return &question, nil
}

// applyFields copies each named optional field onto the question. Fields
// outside this whitelist can never be patched.
func applyFields(question *Question, patch Patch) {
	if patch.Abstract != nil {
		question.Abstract = *patch.Abstract
	}
	if patch.Body != nil {
		question.Body = *patch.Body
	}
	if patch.AIAnswer != nil {
		question.AIAnswer = *patch.AIAnswer
	}
	if patch.HumanAnswer != nil {
		question.HumanAnswer = *patch.HumanAnswer
	}
	if patch.Tags != nil {
		question.Tags = *patch.Tags
	}
	if patch.AuthorSetVisible != nil {
		question.AuthorSetVisible = *patch.AuthorSetVisible
	}
	if patch.StaffSetVisible != nil {
		value := *patch.StaffSetVisible
		question.StaffSetVisible = &value
	}
	if patch.Anonymous != nil {
		question.Anonymous = *patch.Anonymous
	}
	if patch.Verified != nil {
		question.Verified = *patch.Verified
	}
}

func (s *Service) fanOutUnread(tx *gorm.DB, question *Question, actorID string, statusChanged bool) error {
	if !statusChanged {
		return markUnreadForAll(tx, question, actorID)
	}
	switch {
	case question.Status == StatusAIAnsweredNeedsAttention:
		return markUnreadForRoles(tx, question, courses.StaffRoles(), actorID)
	case question.Status == StatusHumanAnswered:
		return markUnreadForCreator(tx, question)
	case question.Status.Deleting():
		return nil
	default:
		return markUnreadForAll(tx, question, actorID)
	}
}

func (s *Service) notifyStatus(question *Question) {
	switch {
	case question.Status == StatusAIAnsweredNeedsAttention:
		s.dispatch(func(ctx context.Context) { s.notifier.AttentionRequested(ctx, question) })
	case question.Status == StatusHumanAnswered:
		s.dispatch(func(ctx context.Context) { s.notifier.QuestionAnswered(ctx, question) })
	case question.Status.Deleting():
		// deletions are silent
	default:
		s.dispatch(func(ctx context.Context) { s.notifier.StatusChanged(ctx, question, question.Status) })
	}
}

// CastVote records a directional vote. A candidate value outside [-1, 1] is
// rejected, not saturated: the stored value and aggregate are returned
// unchanged and no error is surfaced. Upvote notifications fire only when a
// non-creator vote raises the aggregate above zero.
func (s *Service) CastVote(ctx context.Context, questionID, userID string, delta int) (VoteReceipt, error) {
	var (
		question Question
		receipt  VoteReceipt
		accepted bool
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", questionID).Take(&question).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newServiceError(opVote, "question_not_found", ErrNotFound)
			}
			return newServiceError(opVote, "question_select_failed", err)
		}

		existing := 0
		exists := false
		var vote Vote
		err := tx.Where("question_id = ? AND user_id = ?", questionID, userID).Take(&vote).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			vote = Vote{QuestionID: questionID, UserID: userID}
		case err != nil:
			return newServiceError(opVote, "vote_select_failed", err)
		default:
			existing = vote.Value
			exists = true
		}

		candidate := existing + delta
		if candidate < -1 || candidate > 1 {
			// Clamp by rejection: the prior value stands.
			receipt.StoredValue = existing
			return nil
		}

		vote.Value = candidate
		if exists {
			err = tx.Model(&Vote{}).
				Where("question_id = ? AND user_id = ?", questionID, userID).
				Update("value", candidate).Error
		} else {
			err = tx.Create(&vote).Error
		}
		if err != nil {
			return newServiceError(opVote, "vote_save_failed", err)
		}
		receipt.StoredValue = candidate
		accepted = true
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrNotFound) {
			s.logError(opVote, "transaction_failed", txErr, zap.String("question_id", questionID))
		}
		return VoteReceipt{}, txErr
	}

	receipt.Aggregate = s.loadAggregate(ctx, questionID)
	question.VoteTotal = receipt.Aggregate

	if accepted {
		s.mirrorQuestion(ctx, &question)
		if delta > 0 && receipt.Aggregate > 0 && userID != question.CreatorID {
			voterID := userID
			q := question
			s.dispatch(func(ctx context.Context) { s.notifier.QuestionUpvoted(ctx, &q, voterID) })
		}
	}

	return receipt, nil
}

// AddComment appends a comment, flips every other member's unread marker,
// refreshes the mirror, and triggers the comment notification fan-out.
func (s *Service) AddComment(ctx context.Context, questionID, actorID, text string) (*Comment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, newServiceError(opComment, "missing_text", ErrEmptyComment)
	}

	commentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opComment, "id_generation_failed", err)
		return nil, newServiceError(opComment, "id_generation_failed", err)
	}

	var (
		question Question
		comment  Comment
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", questionID).Take(&question).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newServiceError(opComment, "question_not_found", ErrNotFound)
			}
			return newServiceError(opComment, "question_select_failed", err)
		}

		if _, err := s.courses.RoleOf(ctx, question.CourseID, actorID); err != nil {
			if errors.Is(err, courses.ErrNotMember) {
				return newServiceError(opComment, "not_a_member", ErrForbidden)
			}
			return newServiceError(opComment, "role_lookup_failed", err)
		}

		comment = Comment{
			ID:         commentID,
			QuestionID: questionID,
			CreatorID:  actorID,
			Text:       text,
		}
		if err := tx.Create(&comment).Error; err != nil {
			return newServiceError(opComment, "comment_insert_failed", err)
		}

		return markUnreadForAll(tx, &question, actorID)
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrNotFound) && !errors.Is(txErr, ErrForbidden) {
			s.logError(opComment, "transaction_failed", txErr, zap.String("question_id", questionID))
		}
		return nil, txErr
	}

	question.VoteTotal = s.loadAggregate(ctx, questionID)
	s.mirrorQuestion(ctx, &question)

	q := question
	c := comment
	s.dispatch(func(ctx context.Context) { s.notifier.CommentAdded(ctx, &q, &c) })

	return &comment, nil
}

// ListQuestions serves the course feed from the mirror. Staff see every
// mirrored question; other members see visible questions plus their own,
// with creators stripped from anonymous posts they do not own.
func (s *Service) ListQuestions(ctx context.Context, courseID, actorID string) ([]View, error) {
	role, err := s.courses.RoleOf(ctx, courseID, actorID)
	if errors.Is(err, courses.ErrNotMember) {
		return nil, newServiceError(opList, "not_a_member", ErrForbidden)
	}
	if err != nil {
		s.logError(opList, "role_lookup_failed", err, zap.String("course_id", courseID))
		return nil, newServiceError(opList, "role_lookup_failed", err)
	}

	payloads, err := s.mirror.GetAll(ctx, CollectionKey(courseID)+"/")
	if err != nil {
		s.logError(opList, "mirror_read_failed", err, zap.String("course_id", courseID))
		return nil, newServiceError(opList, "mirror_read_failed", err)
	}

	views := make([]View, 0, len(payloads))
	for _, payload := range payloads {
		var view View
		if err := json.Unmarshal(payload, &view); err != nil {
			s.logError(opList, "mirror_decode_failed", err, zap.String("course_id", courseID))
			continue
		}

		owns := view.Creator != nil && view.Creator.ID == actorID
		if !role.Staff() && !view.Visible && !owns {
			continue
		}
		if view.Anonymous && !role.Staff() && !owns {
			view.Creator = nil
		}
		views = append(views, view)
	}

	sort.Slice(views, func(i, j int) bool { return views[i].CreatedAt > views[j].CreatedAt })
	return views, nil
}

// MarkRead records that the user has seen the question's latest state.
func (s *Service) MarkRead(ctx context.Context, questionID, userID string) error {
	var question Question
	if err := s.db.WithContext(ctx).Where("id = ?", questionID).Take(&question).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opMarkRead, "question_not_found", ErrNotFound)
		}
		return newServiceError(opMarkRead, "question_select_failed", err)
	}
	if err := markRead(s.db.WithContext(ctx), questionID, userID); err != nil {
		s.logError(opMarkRead, "marker_update_failed", err, zap.String("question_id", questionID))
		return newServiceError(opMarkRead, "marker_update_failed", err)
	}
	return nil
}

// UnreadCount returns how many questions in the course carry an unseen
// update for the user.
func (s *Service) UnreadCount(ctx context.Context, courseID, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&UnreadMarker{}).
		Where("course_id = ? AND user_id = ? AND read_latest = ?", courseID, userID, false).
		Count(&count).Error
	if err != nil {
		s.logError(opUnreadCount, "count_failed", err, zap.String("course_id", courseID))
		return 0, newServiceError(opUnreadCount, "count_failed", err)
	}
	return count, nil
}

func (s *Service) loadAggregate(ctx context.Context, questionID string) int {
	var total int
	err := s.db.WithContext(ctx).
		Raw("SELECT COALESCE(SUM(value), 0) FROM async_question_votes WHERE question_id = ?", questionID).
		Scan(&total).Error
	if err != nil {
		s.logError(opVote, "aggregate_failed", err, zap.String("question_id", questionID))
		return 0
	}
	return total
}

// mirrorQuestion refreshes the mirror entry using the course's current
// visibility setting. Mirror failures are logged and dropped: the cache is
// rebuildable and never consulted for writes.
func (s *Service) mirrorQuestion(ctx context.Context, question *Question) {
	course, err := s.courses.GetByID(ctx, question.CourseID)
	if err != nil {
		s.logError(opPatch, "mirror_course_lookup_failed", err, zap.String("question_id", question.ID))
		return
	}
	s.writeMirror(ctx, question, course.AllowsAuthorPublic)
}

func (s *Service) writeMirror(ctx context.Context, question *Question, allowsAuthorPublic bool) {
	if question.Status.Deleting() {
		return
	}

	view, err := s.buildView(ctx, question, allowsAuthorPublic)
	if err != nil {
		s.logError(opPatch, "mirror_view_failed", err, zap.String("question_id", question.ID))
		return
	}
	payload, err := json.Marshal(view)
	if err != nil {
		s.logError(opPatch, "mirror_marshal_failed", err, zap.String("question_id", question.ID))
		return
	}
	if err := s.mirror.Set(ctx, entryKey(question.CourseID, question.ID), payload); err != nil {
		s.logError(opPatch, "mirror_write_failed", err, zap.String("question_id", question.ID))
	}
}

func (s *Service) deleteMirror(ctx context.Context, question *Question) {
	if err := s.mirror.Delete(ctx, entryKey(question.CourseID, question.ID)); err != nil {
		s.logError(opPatch, "mirror_delete_failed", err, zap.String("question_id", question.ID))
	}
}

func (s *Service) buildView(ctx context.Context, question *Question, allowsAuthorPublic bool) (View, error) {
	view := View{
		ID:          question.ID,
		CourseID:    question.CourseID,
		Abstract:    question.Abstract,
		Body:        question.Body,
		AIAnswer:    question.AIAnswer,
		HumanAnswer: question.HumanAnswer,
		Tags:        question.Tags,
		Status:      question.Status,
		Visible:     Visible(question, allowsAuthorPublic),
		Anonymous:   question.Anonymous,
		Verified:    question.Verified,
		VoteTotal:   question.VoteTotal,
		CreatedAt:   question.CreatedAt.UTC().Unix(),
	}
	if question.ClosedAt != nil {
		closedAt := question.ClosedAt.UTC().Unix()
		view.ClosedAt = &closedAt
	}

	creator, err := s.users.GetByID(ctx, question.CreatorID)
	if err != nil {
		return View{}, err
	}
	creatorView := creator.PublicView()
	view.Creator = &creatorView

	if question.HelperID != nil {
		helper, err := s.users.GetByID(ctx, *question.HelperID)
		if err != nil {
			return View{}, err
		}
		helperView := helper.PublicView()
		view.Helper = &helperView
	}

	var comments int64
	if err := s.db.WithContext(ctx).
		Model(&Comment{}).
		Where("question_id = ?", question.ID).
		Count(&comments).Error; err != nil {
		return View{}, err
	}
	view.Comments = int(comments)

	return view, nil
}

// dispatch hands a notification callback to the async runner with a fresh
// context: the request context may already be canceled by the time the
// fan-out runs.
func (s *Service) dispatch(fn func(context.Context)) {
	s.async(func() { fn(context.Background()) })
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("question service error", attrs...)
}
