// Package summary folds per-turn feedback into session statistics.
package summary

import (
	"math"
	"time"

	"github.com/aexy-app/aexy/internal/domain"
)

// Compute derives the session summary from a message log.
//
// A zero startedAt yields a zero duration. Fluency is the midpoint of the
// grammar and pronunciation averages, not an independently scored value.
func Compute(messages []domain.Message, startedAt, now time.Time) domain.Summary {
	var (
		userMessages     int
		grammarSum       int
		pronunciationSum int
		feedbackCount    int
	)

	for _, m := range messages {
		switch m.Role {
		case domain.RoleUser:
			userMessages++
		case domain.RoleAssistant:
			if !m.Feedback.Scored() {
				continue
			}
			feedbackCount++
			if m.Feedback.Grammar != nil {
				grammarSum += m.Feedback.Grammar.Score
			}
			if m.Feedback.Pronunciation != nil {
				pronunciationSum += m.Feedback.Pronunciation.Score
			}
		}
	}

	grammarAvg := average(grammarSum, feedbackCount)
	pronunciationAvg := average(pronunciationSum, feedbackCount)

	return domain.Summary{
		TotalMessages: userMessages,
		Duration:      duration(startedAt, now),
		Scores: domain.Scores{
			Fluency:       roundHalfUp(float64(grammarAvg+pronunciationAvg) / 2),
			Grammar:       grammarAvg,
			Pronunciation: pronunciationAvg,
		},
	}
}

func average(sum, count int) int {
	if count == 0 {
		return 0
	}
	return roundHalfUp(float64(sum) / float64(count))
}

func duration(startedAt, now time.Time) float64 {
	if startedAt.IsZero() {
		return 0
	}
	return now.Sub(startedAt).Seconds()
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
