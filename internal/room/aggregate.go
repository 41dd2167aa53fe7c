package room

import "github.com/jason-s-yu/liveroom/internal/models"

// Aggregate builds the result view of a room from its members in join order.
// It reports false, with no view, while any member has yet to submit or when
// there are no members at all.
func Aggregate(members []models.Member) ([]models.ResultUser, bool) {
	if len(members) == 0 || Pending(members) > 0 {
		return nil, false
	}
	view := make([]models.ResultUser, 0, len(members))
	for _, m := range members {
		view = append(view, models.ResultUser{
			UserID:      m.UserID,
			JudgeCounts: m.Result.JudgeCounts,
			Score:       m.Result.Score,
		})
	}
	return view, true
}

// Pending counts the members without a result.
func Pending(members []models.Member) int {
	n := 0
	for _, m := range members {
		if m.Result == nil {
			n++
		}
	}
	return n
}
