// Package scheduler runs sweeps on a cron schedule and polls the
// operational command queue for ad hoc scrape_now/scrape_site/pause/
// resume requests (§FULL-SCHED). It also re-arms any sweep left in a
// failed/partial state after a 15-minute cool-off.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"rentpipeline/config"
	"rentpipeline/models"
	"rentpipeline/pipeline"
	"rentpipeline/storage"
)

const (
	commandPollInterval = 2 * time.Second
	resumePollInterval  = 1 * time.Minute
	resumeCoolOff       = 15 * time.Minute
)

// pair is one (source, university) combination the scheduler drives
// sweeps for, derived from the loaded portal configs.
type pair struct {
	source     models.Source
	university models.University
}

type Scheduler struct {
	cfg          *config.Config
	orchestrator *pipeline.Orchestrator
	ops          *storage.SQLiteStore
	cron         *cron.Cron
	stopCh       chan struct{}
	paused       atomic.Bool
	pairs        []pair
}

func New(cfg *config.Config, orchestrator *pipeline.Orchestrator, ops *storage.SQLiteStore) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		orchestrator: orchestrator,
		ops:          ops,
		cron:         cron.New(),
		stopCh:       make(chan struct{}),
		pairs:        pairsFromConfig(cfg),
	}
}

func pairsFromConfig(cfg *config.Config) []pair {
	var pairs []pair
	for source, portal := range cfg.Portals {
		for university := range portal.Areas {
			pairs = append(pairs, pair{source: source, university: university})
		}
	}
	return pairs
}

// Start launches the command-poll and resume-poll loops, and registers
// the cron job if SCRAPE_CRON is set.
func (s *Scheduler) Start(ctx context.Context) error {
	go s.pollCommands(ctx)
	go s.pollResumes(ctx)

	if s.cfg.Scheduler.Cron != "" {
		log.Printf("scheduler: cron schedule %q", s.cfg.Scheduler.Cron)
		_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, func() {
			s.runAll(ctx)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else {
		log.Println("scheduler: no SCRAPE_CRON set, daemon only responds to commands")
	}

	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	close(s.stopCh)
}

func (s *Scheduler) runAll(ctx context.Context) {
	if s.paused.Load() {
		log.Println("scheduler: skipping scheduled run, paused")
		return
	}
	for _, p := range s.pairs {
		if _, err := s.orchestrator.RunSweep(ctx, p.source, p.university, pipeline.Options{}); err != nil {
			log.Printf("scheduler: sweep %s/%s error: %v", p.source, p.university, err)
		}
	}
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(commandPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cmds, err := s.ops.GetPendingCommands()
			if err != nil {
				log.Printf("scheduler: error fetching commands: %v", err)
				continue
			}
			for _, cmd := range cmds {
				if err := s.handleCommand(ctx, &cmd); err != nil {
					log.Printf("scheduler: command %s error: %v", cmd.Command, err)
				}
				if err := s.ops.MarkCommandProcessed(cmd.ID); err != nil {
					log.Printf("scheduler: error marking command processed: %v", err)
				}
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	switch cmd.Command {
	case models.CmdPause:
		s.paused.Store(true)
		log.Println("scheduler: paused via command")
		return nil
	case models.CmdResume:
		s.paused.Store(false)
		log.Println("scheduler: resumed via command")
		return nil
	case models.CmdScrapeNow:
		log.Println("scheduler: scrape_now command received")
		go s.runAll(ctx)
		return nil
	case models.CmdScrapeSite:
		params, err := s.ops.ParseCommandParams(cmd)
		if err != nil {
			return fmt.Errorf("decode params: %w", err)
		}
		if params.Source == "" || params.University == "" {
			return fmt.Errorf("scrape_site command missing source/university")
		}
		log.Printf("scheduler: scrape_site command for %s/%s", params.Source, params.University)
		go func() {
			if _, err := s.orchestrator.RunSweep(ctx, params.Source, params.University, pipeline.Options{}); err != nil {
				log.Printf("scheduler: sweep %s/%s error: %v", params.Source, params.University, err)
			}
		}()
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}
}

// pollResumes re-triggers any (source, university) pair whose most recent
// run ended failed or partial more than resumeCoolOff ago (§FULL-SCHED).
func (s *Scheduler) pollResumes(ctx context.Context) {
	ticker := time.NewTicker(resumePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.paused.Load() {
				continue
			}
			for _, p := range s.pairs {
				run, err := s.ops.LastRunFor(p.source, p.university)
				if err != nil {
					log.Printf("scheduler: error fetching last run for %s/%s: %v", p.source, p.university, err)
					continue
				}
				if run == nil || run.FinishedAt == nil {
					continue
				}
				if run.Status != models.RunStatusFailed && run.Status != models.RunStatusPartial {
					continue
				}
				if time.Since(*run.FinishedAt) < resumeCoolOff {
					continue
				}
				log.Printf("scheduler: re-arming %s sweep for %s/%s", run.Status, p.source, p.university)
				go func(p pair) {
					if _, err := s.orchestrator.RunSweep(ctx, p.source, p.university, pipeline.Options{}); err != nil {
						log.Printf("scheduler: resumed sweep %s/%s error: %v", p.source, p.university, err)
					}
				}(p)
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
