package reward

import (
	"fmt"
	"sort"

	"github.com/fhayvy/Nexcredis/internal/sentinel"
	"github.com/fhayvy/Nexcredis/internal/units"
)

// Achievement kinds recognized by AwardTokens.
const (
	CourseCompletion        = "course_completion"
	PerfectQuiz             = "perfect_quiz"
	LearningStreak          = "learning_streak"
	PeerReview              = "peer_review"
	StudyGuide              = "study_guide"
	Referral                = "referral"
	BugReport               = "bug_report"
	CourseReview            = "course_review"
	InstructorCertification = "instructor_certification"
)

// whole tokens per achievement
var achievementTable = map[string]uint64{
	CourseCompletion:        50,
	PerfectQuiz:             25,
	LearningStreak:          10,
	PeerReview:              15,
	StudyGuide:              100,
	Referral:                200,
	BugReport:               50,
	CourseReview:            20,
	InstructorCertification: 100,
}

// AchievementReward returns the base amount of kind in base units.
func AchievementReward(kind string) (units.Amount, error) {
	n, ok := achievementTable[kind]
	if !ok {
		return 0, fmt.Errorf("%w: achievement %q", sentinel.ErrNotFound, kind)
	}
	return units.Whole(n, units.TokenDecimals), nil
}

// Achievements lists the known kinds in lexical order.
func Achievements() []string {
	out := make([]string, 0, len(achievementTable))
	for k := range achievementTable {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
