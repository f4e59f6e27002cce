package commute

import (
	"testing"
	"time"

	"rentpipeline/config"
	"rentpipeline/models"
)

func TestOriginAddressJoinsAndReplacesHyphens(t *testing.T) {
	p := models.NewProperty(models.SourcePortalD, "1")
	p.AddressLine1 = "12 Anzac-Parade"
	p.AddressLine2 = "kensington-nsw"
	got := originAddress(p)
	want := "12 Anzac Parade, kensington nsw, Australia"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestOriginAddressEmptyWhenNoLines(t *testing.T) {
	p := models.NewProperty(models.SourcePortalD, "1")
	if got := originAddress(p); got != "" {
		t.Errorf("got %q want empty", got)
	}
}

func TestTomorrowDepartureIsNextDayAt0830(t *testing.T) {
	now := time.Date(2026, 7, 29, 14, 0, 0, 0, time.UTC)
	got := tomorrowDeparture(now)
	want := time.Date(2026, 7, 30, 8, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestRoundMinutes(t *testing.T) {
	cases := map[int]int{0: 0, 29: 0, 30: 1, 90: 2, 3600: 60}
	for seconds, want := range cases {
		if got := roundMinutes(seconds); got != want {
			t.Errorf("roundMinutes(%d) = %d want %d", seconds, got, want)
		}
	}
}

func TestCalculateCommuteTimeUnknownUniversity(t *testing.T) {
	svc := New(mockCfg())
	p := models.NewProperty(models.SourcePortalD, "1")
	p.AddressLine1 = "1 Test St"
	if got := svc.CalculateCommuteTime(nil, p, models.University("XXX")); got != nil {
		t.Errorf("expected nil for unknown university, got %v", *got)
	}
}

func mockCfg() config.CommuteConfig {
	return config.CommuteConfig{MaxWorkers: 1, RequestDelay: time.Millisecond}
}
