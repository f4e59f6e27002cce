package scoring

import (
	"context"
	"testing"

	"rentpipeline/config"
	"rentpipeline/models"
)

func TestParseScoreGroupRequiresExactlyFour(t *testing.T) {
	text := "quality:7, experience:6, amenities:8, total:14.0\nquality:8, experience:7, amenities:7, total:14.7\nquality:6, experience:8, amenities:9, total:15.3\nquality:9, experience:6, amenities:7, total:14.7"
	group := parseScoreGroup(text)
	want := [4]float64{14.0, 14.7, 15.3, 14.7}
	if group != want {
		t.Errorf("got %v want %v", group, want)
	}
}

func TestParseScoreGroupWrongCountIsZero(t *testing.T) {
	text := "total:14.0\ntotal:14.7"
	if group := parseScoreGroup(text); group != ([4]float64{}) {
		t.Errorf("expected zero group, got %v", group)
	}
}

func TestScoreDescriptionEmptyIsZero(t *testing.T) {
	svc := New(config.ScoringConfig{NumCalls: 2, ScoresPerCall: 4, MaxWorkers: 1})
	scores, avg := svc.ScoreDescription(context.Background(), "")
	if avg != 0 || scores != ([models.NumScores]float64{}) {
		t.Errorf("expected all-zero result for empty description")
	}
}

func TestScoreDescriptionAllZeroYieldsSentinel(t *testing.T) {
	// With an unreachable endpoint, callModel fails every attempt, so every
	// call's group is zero, and the all-zero path must yield the sentinel.
	svc := New(config.ScoringConfig{NumCalls: 2, ScoresPerCall: 4, MaxWorkers: 1, RetryCount: 1, Endpoint: "http://127.0.0.1:0"})
	_, avg := svc.ScoreDescription(context.Background(), "a description")
	if avg != models.SentinelScore {
		t.Errorf("got %v want sentinel %v", avg, models.SentinelScore)
	}
}
