package room

import (
	"testing"

	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/stretchr/testify/assert"
)

func member(userID int64, res *models.Result) models.Member {
	return models.Member{RoomID: 1, UserID: userID, Seq: userID, Result: res}
}

func TestAggregate(t *testing.T) {
	done := func(score int64) *models.Result {
		return &models.Result{Score: score, JudgeCounts: models.JudgeCounts{1, 2, 3, 4, 5}}
	}

	tests := []struct {
		name     string
		members  []models.Member
		complete bool
		pending  int
		want     []models.ResultUser
	}{
		{name: "no members", members: nil, complete: false},
		{
			name:     "one pending",
			members:  []models.Member{member(1, done(10)), member(2, nil)},
			complete: false,
			pending:  1,
		},
		{
			name:     "all submitted",
			members:  []models.Member{member(3, done(30)), member(1, done(10))},
			complete: true,
			want: []models.ResultUser{
				{UserID: 3, Score: 30, JudgeCounts: models.JudgeCounts{1, 2, 3, 4, 5}},
				{UserID: 1, Score: 10, JudgeCounts: models.JudgeCounts{1, 2, 3, 4, 5}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view, ok := Aggregate(tt.members)
			assert.Equal(t, tt.complete, ok)
			assert.Equal(t, tt.want, view)
			assert.Equal(t, tt.pending, Pending(tt.members))
		})
	}
}
