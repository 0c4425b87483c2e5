package questions

import (
	"gorm.io/gorm"

	"github.com/ubco-db/helpme-sub002/internal/courses"
)

// All fan-out writes are set-based: one statement regardless of course size.

// seedUnreadMarkers inserts one marker per current course member. Staff
// start unread so new questions surface in their feed; the creator and
// plain students start read (the question is not staff-visible to them
// yet). A staff member who created the question gets the creator exception.
func seedUnreadMarkers(tx *gorm.DB, question *Question) error {
	return tx.Exec(
		`INSERT INTO unread_async_questions (course_id, user_id, question_id, read_latest)
		 SELECT m.course_id, m.user_id, ?,
		        CASE WHEN m.user_id = ? THEN 1 WHEN m.role = ? THEN 1 ELSE 0 END
		 FROM course_memberships m
		 WHERE m.course_id = ?`,
		question.ID, question.CreatorID, string(courses.RoleStudent), question.CourseID,
	).Error
}

// markUnreadForRoles flips the markers of members holding one of the given
// roles, excluding the acting user.
func markUnreadForRoles(tx *gorm.DB, question *Question, roles []courses.Role, excludeUserID string) error {
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}
	return tx.Exec(
		`UPDATE unread_async_questions SET read_latest = 0
		 WHERE question_id = ? AND user_id <> ?
		   AND user_id IN (
		     SELECT user_id FROM course_memberships
		     WHERE course_id = ? AND role IN ?)`,
		question.ID, excludeUserID, question.CourseID, names,
	).Error
}

// markUnreadForAll flips every member's marker except the acting user's.
func markUnreadForAll(tx *gorm.DB, question *Question, excludeUserID string) error {
	return tx.Exec(
		`UPDATE unread_async_questions SET read_latest = 0
		 WHERE question_id = ? AND user_id <> ?`,
		question.ID, excludeUserID,
	).Error
}

// markUnreadForCreator flips only the creator's marker, used on staff
// answers so the asker is nudged without re-notifying other staff.
func markUnreadForCreator(tx *gorm.DB, question *Question) error {
	return tx.Exec(
		`UPDATE unread_async_questions SET read_latest = 0
		 WHERE question_id = ? AND user_id = ?`,
		question.ID, question.CreatorID,
	).Error
}

// markRead records that one member has seen the question's latest state.
func markRead(tx *gorm.DB, questionID, userID string) error {
	return tx.Exec(
		`UPDATE unread_async_questions SET read_latest = 1
		 WHERE question_id = ? AND user_id = ?`,
		questionID, userID,
	).Error
}
