package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ubco-db/helpme-sub002/internal/questions"
)

const userIDContextKey = "helpme_user_id"

var (
	errMissingTokenManager    = errors.New("token manager dependency required")
	errMissingQuestionService = errors.New("question service dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

// SessionTokenManager validates bearer tokens and returns the acting user id.
type SessionTokenManager interface {
	ValidateToken(token string) (string, error)
}

// Dependencies carries the collaborators the HTTP layer needs.
type Dependencies struct {
	TokenManager SessionTokenManager
	Questions    *questions.Service
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router for the question engine endpoints.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Questions == nil {
		return nil, errMissingQuestionService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:    deps.TokenManager,
		questions: deps.Questions,
		logger:    logger,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/courses/:courseID/questions", handler.handleCreateQuestion)
	protected.GET("/courses/:courseID/questions", handler.handleListQuestions)
	protected.GET("/courses/:courseID/questions/unread_count", handler.handleUnreadCount)
	protected.PATCH("/questions/:questionID", handler.handlePatchQuestion)
	protected.POST("/questions/:questionID/vote", handler.handleVote)
	protected.POST("/questions/:questionID/comments", handler.handleAddComment)
	protected.POST("/questions/:questionID/read", handler.handleMarkRead)

	return router, nil
}

type httpHandler struct {
	tokens    SessionTokenManager
	questions *questions.Service
	logger    *zap.Logger
}

type createQuestionPayload struct {
	Abstract         string   `json:"abstract"`
	Body             string   `json:"body"`
	AIAnswer         string   `json:"ai_answer"`
	Tags             []string `json:"tags"`
	Status           string   `json:"status"`
	AuthorSetVisible bool     `json:"author_set_visible"`
	Anonymous        bool     `json:"anonymous"`
}

type patchQuestionPayload struct {
	Abstract         *string   `json:"abstract"`
	Body             *string   `json:"body"`
	AIAnswer         *string   `json:"ai_answer"`
	HumanAnswer      *string   `json:"human_answer"`
	Tags             *[]string `json:"tags"`
	Status           *string   `json:"status"`
	AuthorSetVisible *bool     `json:"author_set_visible"`
	StaffSetVisible  *bool     `json:"staff_set_visible"`
	Anonymous        *bool     `json:"anonymous"`
	Verified         *bool     `json:"verified"`
}

type votePayload struct {
	Delta int `json:"delta"`
}

type commentPayload struct {
	Text string `json:"text"`
}

type questionResponsePayload struct {
	ID               string   `json:"id"`
	CourseID         string   `json:"course_id"`
	Abstract         string   `json:"abstract"`
	Body             string   `json:"body,omitempty"`
	AIAnswer         string   `json:"ai_answer,omitempty"`
	HumanAnswer      string   `json:"human_answer,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	Status           string   `json:"status"`
	AuthorSetVisible bool     `json:"author_set_visible"`
	StaffSetVisible  *bool    `json:"staff_set_visible,omitempty"`
	Anonymous        bool     `json:"anonymous"`
	Verified         bool     `json:"verified"`
	VoteTotal        int      `json:"votes"`
	CreatedAtSeconds int64    `json:"created_at_s"`
	ClosedAtSeconds  *int64   `json:"closed_at_s,omitempty"`
}

func questionResponse(question *questions.Question) questionResponsePayload {
	payload := questionResponsePayload{
		ID:               question.ID,
		CourseID:         question.CourseID,
		Abstract:         question.Abstract,
		Body:             question.Body,
		AIAnswer:         question.AIAnswer,
		HumanAnswer:      question.HumanAnswer,
		Tags:             question.Tags,
		Status:           string(question.Status),
		AuthorSetVisible: question.AuthorSetVisible,
		StaffSetVisible:  question.StaffSetVisible,
		Anonymous:        question.Anonymous,
		Verified:         question.Verified,
		VoteTotal:        question.VoteTotal,
		CreatedAtSeconds: question.CreatedAt.UTC().Unix(),
	}
	if question.ClosedAt != nil {
		closedAt := question.ClosedAt.UTC().Unix()
		payload.ClosedAtSeconds = &closedAt
	}
	return payload
}

func (h *httpHandler) handleCreateQuestion(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	courseID := c.Param("courseID")

	var request createQuestionPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Abstract) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	question, err := h.questions.CreateQuestion(c.Request.Context(), courseID, userID, questions.CreateRequest{
		Abstract:         request.Abstract,
		Body:             request.Body,
		AIAnswer:         request.AIAnswer,
		Tags:             request.Tags,
		Status:           questions.Status(request.Status),
		AuthorSetVisible: request.AuthorSetVisible,
		Anonymous:        request.Anonymous,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, questionResponse(question))
}

func (h *httpHandler) handleListQuestions(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	courseID := c.Param("courseID")

	views, err := h.questions.ListQuestions(c.Request.Context(), courseID, userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"questions": views})
}

func (h *httpHandler) handleUnreadCount(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	courseID := c.Param("courseID")

	count, err := h.questions.UnreadCount(c.Request.Context(), courseID, userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"unread": count})
}

func (h *httpHandler) handlePatchQuestion(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	questionID := c.Param("questionID")

	var request patchQuestionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	patch := questions.Patch{
		Abstract:         request.Abstract,
		Body:             request.Body,
		AIAnswer:         request.AIAnswer,
		HumanAnswer:      request.HumanAnswer,
		Tags:             request.Tags,
		AuthorSetVisible: request.AuthorSetVisible,
		StaffSetVisible:  request.StaffSetVisible,
		Anonymous:        request.Anonymous,
		Verified:         request.Verified,
	}
	if request.Status != nil {
		status := questions.Status(*request.Status)
		patch.Status = &status
	}

	question, err := h.questions.PatchQuestion(c.Request.Context(), questionID, userID, patch)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, questionResponse(question))
}

func (h *httpHandler) handleVote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	questionID := c.Param("questionID")

	var request votePayload
	if err := c.ShouldBindJSON(&request); err != nil || (request.Delta != 1 && request.Delta != -1) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_delta"})
		return
	}

	receipt, err := h.questions.CastVote(c.Request.Context(), questionID, userID, request.Delta)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"aggregate": receipt.Aggregate, "stored": receipt.StoredValue})
}

func (h *httpHandler) handleAddComment(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	questionID := c.Param("questionID")

	var request commentPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	comment, err := h.questions.AddComment(c.Request.Context(), questionID, userID, request.Text)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":           comment.ID,
		"question_id":  comment.QuestionID,
		"text":         comment.Text,
		"created_at_s": comment.CreatedAt.UTC().Unix(),
	})
}

func (h *httpHandler) handleMarkRead(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	questionID := c.Param("questionID")

	if err := h.questions.MarkRead(c.Request.Context(), questionID, userID); err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"read": true})
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, questions.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, questions.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "detail": err.Error()})
	case errors.Is(err, questions.ErrInvalidStatus), errors.Is(err, questions.ErrEmptyComment):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
	default:
		h.logger.Error("question request failed", zap.Error(err))
		var serviceError *questions.ServiceError
		if errors.As(err, &serviceError) {
			c.JSON(http.StatusInternalServerError, gin.H{"code": serviceError.Code()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
