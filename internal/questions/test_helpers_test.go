package questions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/ubco-db/helpme-sub002/internal/courses"
	"github.com/ubco-db/helpme-sub002/internal/users"
)

func stringPtr(v string) *string {
	return &v
}

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

type fakeMirror struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
	deletes int
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{entries: make(map[string][]byte)}
}

func (m *fakeMirror) Set(_ context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(payload))
	copy(stored, payload)
	m.entries[key] = stored
	m.sets++
	return nil
}

func (m *fakeMirror) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	m.deletes++
	return nil
}

func (m *fakeMirror) GetAll(_ context.Context, prefix string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var payloads [][]byte
	for key, payload := range m.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			payloads = append(payloads, payload)
		}
	}
	return payloads, nil
}

func (m *fakeMirror) view(t *testing.T, key string) View {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	payload, ok := m.entries[key]
	if !ok {
		t.Fatalf("expected mirror entry for key %s", key)
	}
	var view View
	if err := json.Unmarshal(payload, &view); err != nil {
		t.Fatalf("failed to decode mirror entry: %v", err)
	}
	return view
}

func (m *fakeMirror) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

func (m *fakeMirror) setCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

type notifierEvent struct {
	kind       string
	questionID string
	actorID    string
	status     Status
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifierEvent
}

func (n *recordingNotifier) record(event notifierEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) AttentionRequested(_ context.Context, question *Question) {
	n.record(notifierEvent{kind: "attention", questionID: question.ID})
}

func (n *recordingNotifier) QuestionAnswered(_ context.Context, question *Question) {
	n.record(notifierEvent{kind: "answered", questionID: question.ID})
}

func (n *recordingNotifier) StatusChanged(_ context.Context, question *Question, status Status) {
	n.record(notifierEvent{kind: "status", questionID: question.ID, status: status})
}

func (n *recordingNotifier) QuestionUpvoted(_ context.Context, question *Question, voterID string) {
	n.record(notifierEvent{kind: "upvoted", questionID: question.ID, actorID: voterID})
}

func (n *recordingNotifier) CommentAdded(_ context.Context, question *Question, comment *Comment) {
	n.record(notifierEvent{kind: "comment", questionID: question.ID, actorID: comment.CreatorID})
}

func (n *recordingNotifier) ofKind(kind string) []notifierEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var matched []notifierEvent
	for _, event := range n.events {
		if event.kind == kind {
			matched = append(matched, event)
		}
	}
	return matched
}

type testEnv struct {
	service  *Service
	db       *gorm.DB
	mirror   *fakeMirror
	notifier *recordingNotifier
}

var testClock = func() time.Time { return time.Unix(1750000000, 0).UTC() }

func newTestEnv(t *testing.T, ids []string) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:helpme_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&users.User{},
		&courses.Course{},
		&courses.Membership{},
		&Question{},
		&Vote{},
		&Comment{},
		&UnreadMarker{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	courseService, err := courses.NewService(courses.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct course service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct user service: %v", err)
	}

	mirror := newFakeMirror()
	notifier := &recordingNotifier{}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Mirror:     mirror,
		Notifier:   notifier,
		Courses:    courseService,
		Users:      userService,
		IDProvider: &staticIDGenerator{ids: ids},
		Clock:      testClock,
		Async:      func(fn func()) { fn() },
	})
	if err != nil {
		t.Fatalf("failed to construct question service: %v", err)
	}

	return &testEnv{service: service, db: db, mirror: mirror, notifier: notifier}
}

func (env *testEnv) seedCourse(t *testing.T, courseID string, allowsAuthorPublic bool) {
	t.Helper()
	course := courses.Course{ID: courseID, Name: "Operating Systems", AllowsAuthorPublic: allowsAuthorPublic}
	if err := env.db.Create(&course).Error; err != nil {
		t.Fatalf("failed to seed course: %v", err)
	}
}

func (env *testEnv) seedMember(t *testing.T, courseID, userID string, role courses.Role) {
	t.Helper()
	account := users.User{
		ID:          userID,
		Email:       userID + "@example.edu",
		DisplayName: userID,
	}
	if err := env.db.Create(&account).Error; err != nil {
		t.Fatalf("failed to seed user %s: %v", userID, err)
	}
	membership := courses.Membership{CourseID: courseID, UserID: userID, Role: role}
	if err := env.db.Create(&membership).Error; err != nil {
		t.Fatalf("failed to seed membership for %s: %v", userID, err)
	}
}

// seedStandardCourse sets up course-1 with a student creator, a second
// student, a TA, and a professor.
func (env *testEnv) seedStandardCourse(t *testing.T, allowsAuthorPublic bool) {
	t.Helper()
	env.seedCourse(t, "course-1", allowsAuthorPublic)
	env.seedMember(t, "course-1", "alice", courses.RoleStudent)
	env.seedMember(t, "course-1", "bob", courses.RoleStudent)
	env.seedMember(t, "course-1", "tina", courses.RoleTA)
	env.seedMember(t, "course-1", "pat", courses.RoleProfessor)
}

func (env *testEnv) markerFor(t *testing.T, questionID, userID string) UnreadMarker {
	t.Helper()
	var marker UnreadMarker
	err := env.db.
		Where("question_id = ? AND user_id = ?", questionID, userID).
		Take(&marker).Error
	if err != nil {
		t.Fatalf("failed to load marker for %s: %v", userID, err)
	}
	return marker
}

func (env *testEnv) createQuestion(t *testing.T, creatorID string, req CreateRequest) *Question {
	t.Helper()
	question, err := env.service.CreateQuestion(context.Background(), "course-1", creatorID, req)
	if err != nil {
		t.Fatalf("failed to create question: %v", err)
	}
	return question
}
