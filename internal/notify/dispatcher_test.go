package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/ubco-db/helpme-sub002/internal/courses"
	"github.com/ubco-db/helpme-sub002/internal/questions"
	"github.com/ubco-db/helpme-sub002/internal/users"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []Message
	fail map[string]bool
}

func (m *fakeMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[msg.ToAddress] {
		return errors.New("delivery refused")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) addresses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	addrs := make([]string, 0, len(m.sent))
	for _, msg := range m.sent {
		addrs = append(addrs, msg.ToAddress)
	}
	sort.Strings(addrs)
	return addrs
}

func newDispatcherEnv(t *testing.T) (*Dispatcher, *gorm.DB, *fakeMailer) {
	t.Helper()

	dsn := fmt.Sprintf("file:notify_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&users.User{},
		&courses.Membership{},
		&questions.Question{},
		&questions.Comment{},
		&Subscription{},
		&Record{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	mailer := &fakeMailer{fail: make(map[string]bool)}
	dispatcher, err := NewDispatcher(DispatcherConfig{
		Database: db,
		Mailer:   mailer,
		Clock:    func() time.Time { return time.Unix(1750000000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to construct dispatcher: %v", err)
	}
	return dispatcher, db, mailer
}

func seedUser(t *testing.T, db *gorm.DB, userID string) {
	t.Helper()
	account := users.User{ID: userID, Email: userID + "@example.edu", DisplayName: userID}
	if err := db.Create(&account).Error; err != nil {
		t.Fatalf("failed to seed user %s: %v", userID, err)
	}
}

func seedMembership(t *testing.T, db *gorm.DB, userID string, role courses.Role) {
	t.Helper()
	membership := courses.Membership{CourseID: "course-1", UserID: userID, Role: role}
	if err := db.Create(&membership).Error; err != nil {
		t.Fatalf("failed to seed membership for %s: %v", userID, err)
	}
}

func subscribe(t *testing.T, db *gorm.DB, userID string, service ServiceType, subscribed bool) {
	t.Helper()
	row := Subscription{UserID: userID, Service: service, IsSubscribed: subscribed}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("failed to seed subscription for %s: %v", userID, err)
	}
}

func testQuestion() *questions.Question {
	return &questions.Question{
		ID:        "q-1",
		CourseID:  "course-1",
		CreatorID: "alice",
		Abstract:  "deadlock in lab 3",
		Status:    questions.StatusAIAnsweredNeedsAttention,
	}
}

func recordCount(t *testing.T, db *gorm.DB, service ServiceType) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&Record{}).Where("service = ?", service).Count(&count).Error; err != nil {
		t.Fatalf("failed to count records: %v", err)
	}
	return count
}

func TestAttentionRequestedMailsSubscribedStaff(t *testing.T) {
	dispatcher, db, mailer := newDispatcherEnv(t)

	for _, userID := range []string{"alice", "bob", "tina", "pat"} {
		seedUser(t, db, userID)
	}
	seedMembership(t, db, "alice", courses.RoleStudent)
	seedMembership(t, db, "bob", courses.RoleStudent)
	seedMembership(t, db, "tina", courses.RoleTA)
	seedMembership(t, db, "pat", courses.RoleProfessor)

	// Only tina opted in; bob's subscription is irrelevant because he is
	// not staff.
	subscribe(t, db, "tina", ServiceNeedsAttention, true)
	subscribe(t, db, "bob", ServiceNeedsAttention, true)

	dispatcher.AttentionRequested(context.Background(), testQuestion())

	expected := []string{"tina@example.edu"}
	if got := mailer.addresses(); len(got) != 1 || got[0] != expected[0] {
		t.Fatalf("expected sends to %v, got %v", expected, got)
	}
	if count := recordCount(t, db, ServiceNeedsAttention); count != 1 {
		t.Fatalf("expected one logged notification, got %d", count)
	}
}

func TestQuestionAnsweredFollowsUpEarlierRecipients(t *testing.T) {
	dispatcher, db, mailer := newDispatcherEnv(t)

	for _, userID := range []string{"alice", "tina", "pat"} {
		seedUser(t, db, userID)
	}
	subscribe(t, db, "alice", ServiceHumanAnswered, true)
	subscribe(t, db, "tina", ServiceNeedsAttention, true)
	// pat received the earlier notice but has since opted out.
	subscribe(t, db, "pat", ServiceNeedsAttention, false)

	for _, userID := range []string{"tina", "pat"} {
		record := Record{
			UserID:     userID,
			QuestionID: "q-1",
			Service:    ServiceNeedsAttention,
			Subject:    "Question needs attention: deadlock in lab 3",
			SentAt:     time.Unix(1749990000, 0).UTC(),
		}
		if err := db.Create(&record).Error; err != nil {
			t.Fatalf("failed to seed record: %v", err)
		}
	}

	dispatcher.QuestionAnswered(context.Background(), testQuestion())

	expected := []string{"alice@example.edu", "tina@example.edu"}
	got := mailer.addresses()
	if len(got) != len(expected) || got[0] != expected[0] || got[1] != expected[1] {
		t.Fatalf("expected sends to %v, got %v", expected, got)
	}
}

func TestQuestionAnsweredWithoutEarlierNotices(t *testing.T) {
	dispatcher, db, mailer := newDispatcherEnv(t)

	seedUser(t, db, "alice")
	subscribe(t, db, "alice", ServiceHumanAnswered, true)

	dispatcher.QuestionAnswered(context.Background(), testQuestion())

	if got := mailer.addresses(); len(got) != 1 || got[0] != "alice@example.edu" {
		t.Fatalf("expected a single send to the asker, got %v", got)
	}
}

func TestStatusChangedDeletingIsSilent(t *testing.T) {
	dispatcher, db, mailer := newDispatcherEnv(t)

	seedUser(t, db, "alice")
	subscribe(t, db, "alice", ServiceStatusChanged, true)

	dispatcher.StatusChanged(context.Background(), testQuestion(), questions.StatusTADeleted)

	if got := mailer.addresses(); len(got) != 0 {
		t.Fatalf("expected no sends for a deleting status, got %v", got)
	}
}

func TestStatusChangedMailsSubscribedAsker(t *testing.T) {
	dispatcher, db, mailer := newDispatcherEnv(t)

	seedUser(t, db, "alice")
	subscribe(t, db, "alice", ServiceStatusChanged, true)

	dispatcher.StatusChanged(context.Background(), testQuestion(), questions.StatusAIAnsweredResolved)

	if got := mailer.addresses(); len(got) != 1 || got[0] != "alice@example.edu" {
		t.Fatalf("expected a single send to the asker, got %v", got)
	}
}

func TestQuestionUpvotedSelfVoteIsSilent(t *testing.T) {
	dispatcher, db, mailer := newDispatcherEnv(t)

	seedUser(t, db, "alice")
	subscribe(t, db, "alice", ServiceUpvoted, true)

	dispatcher.QuestionUpvoted(context.Background(), testQuestion(), "alice")

	if got := mailer.addresses(); len(got) != 0 {
		t.Fatalf("expected no sends for a self-vote, got %v", got)
	}
}

func TestCommentAddedFansOutToPriorCommenters(t *testing.T) {
	dispatcher, db, mailer := newDispatcherEnv(t)

	for _, userID := range []string{"alice", "bob", "carol", "dave"} {
		seedUser(t, db, userID)
	}
	subscribe(t, db, "alice", ServiceCommentOnOwnPost, true)
	subscribe(t, db, "bob", ServiceCommentOnOthersPost, true)
	subscribe(t, db, "carol", ServiceCommentOnOthersPost, true)
	subscribe(t, db, "dave", ServiceCommentOnOthersPost, true)

	// Earlier thread: the asker replied once, bob and carol each commented.
	seedComments := []questions.Comment{
		{ID: "cm-1", QuestionID: "q-1", CreatorID: "alice", Text: "more detail"},
		{ID: "cm-2", QuestionID: "q-1", CreatorID: "bob", Text: "same here"},
		{ID: "cm-3", QuestionID: "q-1", CreatorID: "carol", Text: "try valgrind"},
		{ID: "cm-4", QuestionID: "q-1", CreatorID: "bob", Text: "no luck"},
	}
	for i := range seedComments {
		if err := db.Create(&seedComments[i]).Error; err != nil {
			t.Fatalf("failed to seed comment: %v", err)
		}
	}
	newComment := questions.Comment{ID: "cm-5", QuestionID: "q-1", CreatorID: "dave", Text: "found it"}
	if err := db.Create(&newComment).Error; err != nil {
		t.Fatalf("failed to seed comment: %v", err)
	}

	dispatcher.CommentAdded(context.Background(), testQuestion(), &newComment)

	// The asker gets the own-post mail; bob and carol get the others-post
	// mail once each despite bob's two comments; dave gets nothing.
	expected := []string{"alice@example.edu", "bob@example.edu", "carol@example.edu"}
	got := mailer.addresses()
	if len(got) != len(expected) {
		t.Fatalf("expected sends to %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("expected sends to %v, got %v", expected, got)
		}
	}
}

func TestCommentAddedByAskerSkipsOwnPostMail(t *testing.T) {
	dispatcher, db, mailer := newDispatcherEnv(t)

	seedUser(t, db, "alice")
	subscribe(t, db, "alice", ServiceCommentOnOwnPost, true)

	comment := questions.Comment{ID: "cm-1", QuestionID: "q-1", CreatorID: "alice", Text: "self reply"}
	if err := db.Create(&comment).Error; err != nil {
		t.Fatalf("failed to seed comment: %v", err)
	}

	dispatcher.CommentAdded(context.Background(), testQuestion(), &comment)

	if got := mailer.addresses(); len(got) != 0 {
		t.Fatalf("expected no sends when the asker comments, got %v", got)
	}
}

func TestSendToSuppressesMissingAndOptedOutSubscriptions(t *testing.T) {
	dispatcher, db, mailer := newDispatcherEnv(t)

	seedUser(t, db, "alice")
	seedUser(t, db, "bob")
	// alice opted out; bob never subscribed at all.
	subscribe(t, db, "alice", ServiceUpvoted, false)

	dispatcher.sendTo(context.Background(), []string{"alice", "bob"}, ServiceUpvoted, "q-1", "subject", "body")

	if got := mailer.addresses(); len(got) != 0 {
		t.Fatalf("expected suppression without an opt-in, got %v", got)
	}
	if count := recordCount(t, db, ServiceUpvoted); count != 0 {
		t.Fatalf("expected no logged notifications, got %d", count)
	}
}

func TestSendToFailedDeliveryIsNotRecorded(t *testing.T) {
	dispatcher, db, mailer := newDispatcherEnv(t)

	seedUser(t, db, "alice")
	seedUser(t, db, "tina")
	subscribe(t, db, "alice", ServiceNeedsAttention, true)
	subscribe(t, db, "tina", ServiceNeedsAttention, true)
	mailer.fail["alice@example.edu"] = true

	dispatcher.sendTo(context.Background(), []string{"alice", "tina"}, ServiceNeedsAttention, "q-1", "subject", "body")

	if got := mailer.addresses(); len(got) != 1 || got[0] != "tina@example.edu" {
		t.Fatalf("expected only the successful delivery, got %v", got)
	}

	var records []Record
	if err := db.Where("service = ?", ServiceNeedsAttention).Find(&records).Error; err != nil {
		t.Fatalf("failed to load records: %v", err)
	}
	if len(records) != 1 || records[0].UserID != "tina" {
		t.Fatalf("expected a single record for tina, got %+v", records)
	}
}

func TestNewDispatcherValidatesDependencies(t *testing.T) {
	if _, err := NewDispatcher(DispatcherConfig{Mailer: &fakeMailer{}}); err == nil {
		t.Fatalf("expected missing database to be rejected")
	}
	_, db, _ := newDispatcherEnv(t)
	if _, err := NewDispatcher(DispatcherConfig{Database: db}); err == nil {
		t.Fatalf("expected missing mailer to be rejected")
	}
}
