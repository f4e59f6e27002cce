package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"rentpipeline/browser"
	"rentpipeline/commute"
	"rentpipeline/config"
	"rentpipeline/logging"
	"rentpipeline/models"
	"rentpipeline/pipeline"
	"rentpipeline/scheduler"
	"rentpipeline/scoring"
	"rentpipeline/storage"
	"rentpipeline/vpn"
	"rentpipeline/workers"
)

// stringList is a repeatable flag.Value collecting comma-separated or
// repeated --flag values into a slice (§6 CLI surface).
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logFile, err := logging.Setup("daemon.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	subcommand := os.Args[1]
	args := os.Args[2:]

	switch subcommand {
	case "run":
		runSweeps(args, sweepOptions{})
	case "scrape-only":
		runSweeps(args, sweepOptions{noScoring: true, noCommute: true, noDatabase: true})
	case "process-csv":
		runProcessCSV(args)
	case "serve":
		runServe(args)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "rentpipeline: unknown subcommand %q\n", subcommand)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `rentpipeline subcommands:
  run          scrape, score, compute commute, and persist a sweep
  scrape-only  scrape and export only, skipping scoring/commute/database
  process-csv  replay SCORE..EXPORT stages from a checkpoint/export CSV
  serve        run as a daemon: cron-scheduled sweeps + command queue (§FULL-SCHED)`)
}

type sweepOptions struct {
	noScoring, noCommute, noDatabase, noDetails bool
}

// commonFlags registers the shared §6 flag set on fs and returns the
// backing values; every subcommand but process-csv's --csv shares this.
type commonFlags struct {
	universities stringList
	scrapers     stringList
	noScoring    *bool
	noCommute    *bool
	noDatabase   *bool
	noDetails    *bool
	debug        *bool
}

func registerCommonFlags(fs *flag.FlagSet) *commonFlags {
	cf := &commonFlags{}
	fs.Var(&cf.universities, "universities", "comma-separated universities to sweep (default: all configured)")
	fs.Var(&cf.scrapers, "scrapers", "comma-separated sources to sweep: portal-d,portal-r (default: all configured)")
	cf.noScoring = fs.Bool("no-scoring", false, "skip the SCORE stage")
	cf.noCommute = fs.Bool("no-commute", false, "skip the COMMUTE stage")
	cf.noDatabase = fs.Bool("no-database", false, "skip the PERSIST stage")
	cf.noDetails = fs.Bool("no-details", false, "skip the DETAIL stage, export list data only")
	cf.debug = fs.Bool("debug", false, "verbose logging")
	return cf
}

func runSweeps(args []string, base sweepOptions) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cf := registerCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}
	if *cf.debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile | log.Lmicroseconds)
	}

	cfg, _, _, orch, cleanup := bootstrap()
	defer cleanup()
	orch.ConfirmDelist = delistConfirmer(cfg)

	opts := pipeline.Options{
		NoScoring:  base.noScoring || *cf.noScoring,
		NoCommute:  base.noCommute || *cf.noCommute,
		NoDatabase: base.noDatabase || *cf.noDatabase,
		NoDetails:  base.noDetails || *cf.noDetails,
	}

	ctx := context.Background()
	failures := 0
	for _, pair := range pairsToRun(cfg, cf) {
		run, err := orch.RunSweep(ctx, pair.source, pair.university, opts)
		if err != nil {
			log.Printf("sweep %s/%s failed: %v", pair.source, pair.university, err)
			failures++
			continue
		}
		log.Printf("sweep %s/%s complete: %+v", pair.source, pair.university, run.Summary())
	}

	if failures > 0 {
		os.Exit(1)
	}
}

func runProcessCSV(args []string) {
	fs := flag.NewFlagSet("process-csv", flag.ExitOnError)
	cf := registerCommonFlags(fs)
	csvPath := fs.String("csv", "", "checkpoint or export CSV to resume from")
	university := fs.String("university", "", "university the CSV belongs to (required)")
	source := fs.String("scraper", "", "source the CSV belongs to (required)")
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}
	if *csvPath == "" || *university == "" || *source == "" {
		fmt.Fprintln(os.Stderr, "process-csv requires --csv, --university, and --scraper")
		os.Exit(2)
	}

	cfg, _, _, orch, cleanup := bootstrap()
	defer cleanup()
	orch.ConfirmDelist = delistConfirmer(cfg)

	opts := pipeline.Options{
		NoScoring:  *cf.noScoring,
		NoCommute:  *cf.noCommute,
		NoDatabase: *cf.noDatabase,
	}

	ctx := context.Background()
	run, err := orch.RunFromCSV(ctx, *csvPath, models.Source(*source), models.University(*university), opts)
	if err != nil {
		log.Printf("process-csv failed: %v", err)
		os.Exit(1)
	}
	log.Printf("process-csv complete: %+v", run.Summary())
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}

	cfg, ops, db, orch, cleanup := bootstrap()
	defer cleanup()
	// The daemon never blocks on a terminal: unless AUTO_DELETE_DELISTED
	// is set, pending-delete rows are skipped and wait for the next
	// sweep's re-diff.
	orch.ConfirmDelist = func(int) bool { return cfg.AutoDeleteDelisted }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(cfg, orch, ops)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	if cfg.MediaS3.Enabled() && db != nil {
		uploader, err := storage.NewS3Uploader(ctx, storage.S3ConfigFromMedia(cfg.MediaS3))
		if err != nil {
			log.Printf("media worker disabled, s3 setup failed: %v", err)
		} else {
			mediaWorker := workers.NewMediaWorker(db, uploader, storage.S3ConfigFromMedia(cfg.MediaS3), cfg.Proxy.URL)
			mediaWorker.SetLogger(func(level models.LogLevel, source, message string) {
				_ = ops.Log(nil, level, message, models.Source(source))
			})
			go mediaWorker.Run(ctx, mediaWorkerInterval)
			log.Println("media worker started")
		}
	} else {
		log.Println("media worker disabled (MEDIA_S3_* not configured)")
	}

	if cfg.Scraper.ScrapingBeeAPIKey != "" && db != nil {
		enrichmentWorker := workers.NewEnrichmentWorker(db, cfg.Scraper.ScrapingBeeAPIKey)
		enrichmentWorker.SetLogger(func(level models.LogLevel, source, message string) {
			_ = ops.Log(nil, level, message, models.Source(source))
		})
		go enrichmentWorker.Run(ctx, enrichmentWorkerInterval)
		log.Println("enrichment worker started")
	}

	log.Println("daemon running, press Ctrl+C to stop")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down...")
	sched.Stop()
}

type pair struct {
	source     models.Source
	university models.University
}

func pairsToRun(cfg *config.Config, cf *commonFlags) []pair {
	var pairs []pair
	for source, portal := range cfg.Portals {
		if len(cf.scrapers) > 0 && !containsSource(cf.scrapers, source) {
			continue
		}
		for university := range portal.Areas {
			if len(cf.universities) > 0 && !containsUniversity(cf.universities, university) {
				continue
			}
			pairs = append(pairs, pair{source: source, university: university})
		}
	}
	return pairs
}

func containsSource(list stringList, s models.Source) bool {
	for _, v := range list {
		if models.Source(v) == s {
			return true
		}
	}
	return false
}

func containsUniversity(list stringList, u models.University) bool {
	for _, v := range list {
		if models.University(v) == u {
			return true
		}
	}
	return false
}

// delistConfirmer wires the TTY confirmation gate for the delisting
// sweep (§7): AUTO_DELETE_DELISTED=true bypasses it, a non-TTY stdin
// defaults to skip, otherwise the operator is prompted.
func delistConfirmer(cfg *config.Config) func(pendingCount int) bool {
	return func(pendingCount int) bool {
		if cfg.AutoDeleteDelisted {
			return true
		}
		if !isatty.IsTerminal(os.Stdin.Fd()) {
			log.Printf("delisting sweep: %d properties pending removal, skipping (non-interactive, set AUTO_DELETE_DELISTED=true to auto-confirm)", pendingCount)
			return false
		}
		fmt.Printf("delisting sweep: %d properties no longer listed. Delete them? [y/N] ", pendingCount)
		var answer string
		fmt.Scanln(&answer)
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes"
	}
}

// bootstrap wires config, both stores, the browser driver, and the
// scoring/commute services shared by every subcommand.
func bootstrap() (*config.Config, *storage.SQLiteStore, *storage.PostgresStore, *pipeline.Orchestrator, func()) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Printf("loaded %d portal configs", len(cfg.Portals))

	ops, err := storage.NewSQLiteStore(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open sqlite store: %v", err)
	}

	closers := []func(){func() { ops.Close() }}
	db, err := storage.NewPostgresStore(context.Background(), cfg.DB.ConnString())
	if err != nil {
		log.Printf("warning: postgres unavailable, PERSIST stage will be skipped: %v", err)
		db = nil
	} else {
		closers = append(closers, func() { db.Close() })
	}

	var rotator browser.EgressRotator
	if cfg.VPN.Enabled() {
		rotator = vpn.NewExpressVPN(&vpn.Config{AutoConnect: cfg.VPN.AutoConnect, Region: cfg.VPN.Region})
	}
	driver := browser.New(cfg.Headless, rotator)

	scoringSvc := scoring.New(cfg.Scoring)
	commuteSvc := commute.New(cfg.Commute)

	orch := pipeline.New(cfg, ops, db, scoringSvc, commuteSvc, driver)

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return cfg, ops, db, orch, cleanup
}

const (
	mediaWorkerInterval      = 2 * time.Minute
	enrichmentWorkerInterval = 5 * time.Minute
)
