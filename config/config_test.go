package config

import (
	"os"
	"testing"

	"rentpipeline/models"
)

func TestLoadAppliesDefaults(t *testing.T) {
	os.Clearenv()
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Scraper.MaxPages != 7 {
		t.Errorf("MaxPages: got %d want 7", cfg.Scraper.MaxPages)
	}
	if cfg.Scoring.NumCalls != 2 || cfg.Scoring.ScoresPerCall != 4 {
		t.Errorf("scoring defaults: got %+v", cfg.Scoring)
	}
	if cfg.Commute.MaxWorkers != 5 {
		t.Errorf("CommuteMaxWorkers: got %d want 5", cfg.Commute.MaxWorkers)
	}
	if cfg.Scoring.Enabled() {
		t.Error("scoring should be disabled with no API key set")
	}
	if cfg.Commute.Enabled() {
		t.Error("commute should be disabled with no API key set")
	}
}

func TestLoadPicksUpPortalDefaults(t *testing.T) {
	os.Clearenv()
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := cfg.Portals[models.SourcePortalD]; !ok {
		t.Fatal("expected default portal-d config")
	}
	if len(cfg.Portals[models.SourcePortalD].Areas[models.UniversityUNSW]) == 0 {
		t.Fatal("expected default UNSW areas for portal-d")
	}
}

func TestScoringAPIKeyPrefersPropertyRatingKey(t *testing.T) {
	os.Clearenv()
	os.Setenv("PROPERTY_RATING_API_KEY", "rating-key")
	os.Setenv("DASHSCOPE_API_KEY", "dashscope-key")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scoring.APIKey != "rating-key" {
		t.Fatalf("got %q want %q", cfg.Scoring.APIKey, "rating-key")
	}
}
