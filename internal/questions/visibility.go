package questions

// Visible computes whether a question is publicly listed. It is a pure
// function of the author's request, the staff override, and the course
// setting, re-evaluated on every read so that retroactive course setting
// changes take effect without a backfill.
//
// When the course disallows author-controlled visibility the staff override
// is the only switch (no decision yet means hidden). When the course allows
// it, an explicit staff decision still wins; otherwise the author's own
// flag applies.
func Visible(question *Question, courseAllowsAuthorPublic bool) bool {
	if !courseAllowsAuthorPublic {
		return question.StaffSetVisible != nil && *question.StaffSetVisible
	}
	if question.StaffSetVisible != nil {
		return *question.StaffSetVisible
	}
	return question.AuthorSetVisible
}
