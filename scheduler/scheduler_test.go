package scheduler

import (
	"context"
	"testing"

	"rentpipeline/config"
	"rentpipeline/models"
)

func TestPairsFromConfigEnumeratesAllAreas(t *testing.T) {
	cfg := &config.Config{
		Portals: map[models.Source]*config.PortalConfig{
			models.SourcePortalD: {
				Areas: map[models.University][]string{
					models.UniversityUNSW: {"kensington-nsw-2033"},
					models.UniversityUSYD: {"camperdown-nsw-2050"},
				},
			},
		},
	}

	pairs := pairsFromConfig(cfg)
	if len(pairs) != 2 {
		t.Fatalf("got %d pairs, want 2", len(pairs))
	}
}

func TestHandleCommandPauseResumeTogglesState(t *testing.T) {
	s := &Scheduler{ops: nil}
	ctx := context.Background()

	if err := s.handleCommand(ctx, &models.Command{Command: models.CmdPause}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !s.paused.Load() {
		t.Error("expected paused=true after CmdPause")
	}

	if err := s.handleCommand(ctx, &models.Command{Command: models.CmdResume}); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if s.paused.Load() {
		t.Error("expected paused=false after CmdResume")
	}
}

func TestHandleCommandUnknownReturnsError(t *testing.T) {
	s := &Scheduler{}
	if err := s.handleCommand(context.Background(), &models.Command{Command: "bogus"}); err == nil {
		t.Error("expected error for unknown command")
	}
}
