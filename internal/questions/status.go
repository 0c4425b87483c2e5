package questions

import (
	"fmt"
	"time"

	"github.com/ubco-db/helpme-sub002/internal/courses"
)

// authorizePatch enforces the patch contract: the creator may change
// anything except setting the status to HumanAnswered or TADeleted; every
// other actor must hold a staff role in the course. Questions already in a
// deleting status accept no further patches.
func authorizePatch(question *Question, actorRole courses.Role, isCreator bool, patch Patch) error {
	if question.Status.Deleting() {
		return fmt.Errorf("%w: question status %s is terminal", ErrForbidden, question.Status)
	}

	if isCreator {
		if patch.Status != nil && (*patch.Status == StatusHumanAnswered || *patch.Status == StatusTADeleted) {
			return fmt.Errorf("%w: creator may not set status %s", ErrForbidden, *patch.Status)
		}
		return nil
	}

	if !actorRole.Staff() {
		return fmt.Errorf("%w: only course staff may modify another member's question", ErrForbidden)
	}
	return nil
}

// applyStatus transitions the question to the target status and stamps the
// closing metadata. closedAt is written exactly once; repeating a closing
// transition leaves it untouched. The helper stamp follows the same rule.
func applyStatus(question *Question, target Status, actorID string, now time.Time) {
	previous := question.Status
	question.Status = target

	if target.Closing() && question.ClosedAt == nil {
		closedAt := now.UTC()
		question.ClosedAt = &closedAt
	}
	if target == StatusHumanAnswered && previous != StatusHumanAnswered {
		helper := actorID
		question.HelperID = &helper
	}
}
