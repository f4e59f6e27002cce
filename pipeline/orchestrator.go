// Package pipeline implements the sweep orchestrator (C8): the staged
// state machine LIST -> LIST_MERGE -> REUSE -> DETAIL -> SCORE -> COMMUTE
// -> PERSIST -> EXPORT that drives a single (source, university) sweep.
package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"rentpipeline/browser"
	"rentpipeline/commute"
	"rentpipeline/config"
	"rentpipeline/errs"
	"rentpipeline/historycache"
	"rentpipeline/identity"
	"rentpipeline/models"
	"rentpipeline/scoring"
	"rentpipeline/siteadapter"
	"rentpipeline/storage"
)

// chunkSize is how many LIST rows accumulate before an intermediate CSV
// segment is flushed (§4.8).
const chunkSize = 100

// Options toggles individual stages, mirroring the CLI's --no-* flags.
type Options struct {
	NoScoring  bool
	NoCommute  bool
	NoDatabase bool
	NoDetails  bool
}

// Orchestrator runs sweeps sequentially across stages; within a stage,
// LIST/DETAIL drive a single non-thread-safe browser driver, SCORE/
// COMMUTE use their own bounded worker pools (§5).
type Orchestrator struct {
	cfg     *config.Config
	ops     *storage.SQLiteStore
	db      *storage.PostgresStore
	scoring *scoring.Service
	commute *commute.Service
	driver  *browser.Driver

	// ConfirmDelist optionally gates the delisting sweep behind
	// confirmation before rows are removed (§7). nil means always
	// proceed.
	ConfirmDelist func(pendingCount int) bool
}

func New(cfg *config.Config, ops *storage.SQLiteStore, db *storage.PostgresStore, scoringSvc *scoring.Service, commuteSvc *commute.Service, driver *browser.Driver) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		ops:     ops,
		db:      db,
		scoring: scoringSvc,
		commute: commuteSvc,
		driver:  driver,
	}
}

// RunSweep runs one full sweep for (source, university), dispatching to
// the shared-source sibling shortcut when the university is configured
// as a sibling of another (§4.8).
func (o *Orchestrator) RunSweep(ctx context.Context, source models.Source, university models.University, opts Options) (*models.SweepRun, error) {
	run := &models.SweepRun{Source: source, University: university, StartedAt: time.Now(), Status: models.RunStatusRunning}
	runID, err := o.ops.CreateRun(run)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	run.ID = runID
	o.logf(run, models.LogLevelInfo, "sweep started: %s/%s", source, university)

	var runErr error
	if sibling, ok := config.SiblingSource[university]; ok {
		runErr = o.runSiblingSweep(ctx, run, source, university, sibling, opts)
	} else {
		runErr = o.runFullSweep(ctx, run, source, university, opts)
	}

	finished := time.Now()
	run.FinishedAt = &finished
	if runErr != nil {
		run.Status = models.RunStatusFailed
		run.Errors++
		o.logf(run, models.LogLevelError, "sweep failed: %v", runErr)
	} else {
		run.Status = models.RunStatusCompleted
		o.logf(run, models.LogLevelInfo, "sweep complete: %+v", run.Summary())
	}
	if err := o.ops.UpdateRun(run); err != nil {
		log.Printf("pipeline: failed to persist run summary: %v", err)
	}
	return run, runErr
}

func (o *Orchestrator) runFullSweep(ctx context.Context, run *models.SweepRun, source models.Source, university models.University, opts Options) error {
	portal, ok := o.cfg.Portals[source]
	if !ok {
		return errs.Config(fmt.Sprintf("no portal config for source %s", source))
	}
	areas := portal.Areas[university]
	if len(areas) == 0 {
		return errs.Config(fmt.Sprintf("no target areas configured for %s/%s", source, university))
	}

	adapter, err := siteadapter.New(source)
	if err != nil {
		return errs.Config(err.Error())
	}

	profilePath := filepath.Join(o.cfg.Scraper.ProfileBaseDir, string(source))
	if err := o.driver.Open(profilePath); err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	defer o.driver.Close()

	properties, err := o.stageList(ctx, run, adapter, source, university, areas)
	if err != nil {
		o.checkpoint(properties, source, university, "list_failed")
		return err
	}
	run.Scraped = len(properties)

	cache, err := historycache.Load(o.cfg.OutputDir, university)
	if err != nil {
		log.Printf("pipeline: history cache load failed, proceeding without reuse: %v", err)
		cache = nil
	}
	counts := o.stageReuse(properties, cache)
	run.Reused = counts.DescriptionReused + counts.ScoreReused + counts.CommuteReused
	o.writeListMerged(properties, source, university)

	if !opts.NoDetails {
		o.stageDetail(ctx, run, adapter, properties)
	}
	for _, p := range properties {
		if p.DescriptionEN != "" {
			run.WithDetails++
		}
	}

	return o.processLoadedProperties(ctx, run, source, university, properties, opts)
}

// RunFromCSV replays the SCORE..EXPORT stages against properties loaded
// from an existing checkpoint or export CSV; LIST, REUSE and DETAIL are
// not run. This is the `process-csv` CLI path: a manual resume from a
// stage failure's checkpoint file (§4.8, §6).
func (o *Orchestrator) RunFromCSV(ctx context.Context, path string, source models.Source, university models.University, opts Options) (*models.SweepRun, error) {
	properties, err := readPropertiesCSV(path)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	run := &models.SweepRun{Source: source, University: university, StartedAt: time.Now(), Status: models.RunStatusRunning}
	runID, err := o.ops.CreateRun(run)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	run.ID = runID
	o.logf(run, models.LogLevelInfo, "resuming %s/%s from %s (%d rows)", source, university, path, len(properties))
	run.Scraped = len(properties)

	runErr := o.processLoadedProperties(ctx, run, source, university, properties, opts)

	finished := time.Now()
	run.FinishedAt = &finished
	if runErr != nil {
		run.Status = models.RunStatusFailed
		run.Errors++
		o.logf(run, models.LogLevelError, "resumed sweep failed: %v", runErr)
	} else {
		run.Status = models.RunStatusCompleted
		o.logf(run, models.LogLevelInfo, "resumed sweep complete: %+v", run.Summary())
	}
	if err := o.ops.UpdateRun(run); err != nil {
		log.Printf("pipeline: failed to persist run summary: %v", err)
	}
	return run, runErr
}

// processLoadedProperties runs SCORE..EXPORT against an already-fetched
// property set, shared by the full-sweep and CSV-resume paths.
func (o *Orchestrator) processLoadedProperties(ctx context.Context, run *models.SweepRun, source models.Source, university models.University, properties []*models.Property, opts Options) error {
	if !opts.NoScoring && o.scoring != nil && o.scoring.Enabled() {
		o.scoring.ProcessBatch(ctx, properties, true)
		for _, p := range properties {
			if p.DescriptionEN != "" && p.AverageScore != nil {
				run.Scored++
			}
		}
	}

	if !opts.NoCommute && o.commute != nil && o.commute.Enabled() {
		o.commute.ProcessAllUniversities(ctx, properties, true)
		for _, p := range properties {
			if p.CommuteTimes[university] != nil {
				run.WithCommute++
			}
		}
	}

	if !opts.NoDatabase && o.db != nil {
		delisted, err := o.stagePersist(ctx, run, source, university, properties)
		if err != nil {
			o.checkpoint(properties, source, university, "persist_failed")
			return err
		}
		run.Delisted = delisted
	}

	if err := o.stageExport(properties, university); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	run.Saved = len(properties)
	return nil
}

// readPropertiesCSV loads a checkpoint or export CSV back into memory,
// stripping the leading UTF-8 BOM the writer side emits (§6).
func readPropertiesCSV(path string) ([]*models.Property, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, 3)
	n, _ := f.Read(buf)
	if n < 3 || buf[0] != 0xEF || buf[1] != 0xBB || buf[2] != 0xBF {
		f.Seek(0, 0)
	}
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	properties := make([]*models.Property, 0, len(records)-1)
	for _, row := range records[1:] {
		p, err := models.FromRow(header, row)
		if err != nil {
			return nil, fmt.Errorf("parse row: %w", err)
		}
		properties = append(properties, p)
	}
	return properties, nil
}

// runSiblingSweep implements the shared-source path: UTS reuses USYD's
// already-scraped, already-scored property set, computing only the
// missing UTS commute times before writing its own export and DB rows
// (§4.8).
func (o *Orchestrator) runSiblingSweep(ctx context.Context, run *models.SweepRun, source models.Source, university, sibling models.University, opts Options) error {
	properties, err := historycache.LoadProperties(o.cfg.OutputDir, sibling, source)
	if err != nil {
		return fmt.Errorf("load sibling export for %s: %w", sibling, err)
	}
	if len(properties) == 0 {
		return errs.Config(fmt.Sprintf("sibling export for %s has no rows to reuse for %s", sibling, university))
	}
	run.Scraped = len(properties)
	run.WithDetails = len(properties)
	run.Scored = len(properties)

	if !opts.NoCommute && o.commute != nil && o.commute.Enabled() {
		o.commute.ProcessProperties(ctx, properties, university, true)
	}
	for _, p := range properties {
		if p.CommuteTimes[university] != nil {
			run.WithCommute++
		}
	}

	if !opts.NoDatabase && o.db != nil {
		delisted, err := o.stagePersist(ctx, run, source, university, properties)
		if err != nil {
			o.checkpoint(properties, source, university, "persist_failed")
			return err
		}
		run.Delisted = delisted
	}

	if err := o.stageExport(properties, university); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	run.Saved = len(properties)
	return nil
}

// stageList crawls every configured area for source up to the portal's
// page cap, writing chunked intermediate CSVs every chunkSize rows per
// area. List-fetch failures for an individual area are swallowed and
// counted, not fatal to the sweep (§4.8, §7).
func (o *Orchestrator) stageList(ctx context.Context, run *models.SweepRun, adapter siteadapter.Adapter, source models.Source, university models.University, areas []string) ([]*models.Property, error) {
	var all []*models.Property

	for i, area := range areas {
		if err := ctx.Err(); err != nil {
			return all, fmt.Errorf("sweep cancelled before area %s: %w", area, err)
		}

		areaProps, err := o.listArea(ctx, adapter, area)
		if err != nil {
			o.logf(run, models.LogLevelWarn, "list failed for area %s: %v", area, err)
			run.Errors++
			continue
		}
		o.writeChunks(areaProps, source, university, area)
		all = append(all, areaProps...)

		if i < len(areas)-1 {
			if err := o.driver.ResetProfile(); err != nil {
				o.logf(run, models.LogLevelWarn, "profile reset failed after area %s: %v", area, err)
			}
		}
	}

	return all, nil
}

func (o *Orchestrator) listArea(ctx context.Context, adapter siteadapter.Adapter, area string) ([]*models.Property, error) {
	var props []*models.Property
	url := adapter.SearchURL(area)
	consecutiveBlocks := 0

	for page := 1; page <= o.cfg.Scraper.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return props, fmt.Errorf("sweep cancelled in area %s: %w", area, err)
		}

		if page > 1 {
			url = adapter.Paginate(url, page)
		}

		ok, err := o.driver.Goto(url, 10000)
		if err != nil {
			return props, errs.TransientNetwork("goto "+url, err)
		}
		if !ok {
			consecutiveBlocks++
			if consecutiveBlocks >= 3 {
				return props, errs.AntiBotBlock(fmt.Sprintf("abandoning area %s after 3 consecutive blocks", area))
			}
			continue
		}
		consecutiveBlocks = 0

		html, err := o.driver.PageSource()
		if err != nil {
			return props, errs.TransientNetwork("page source", err)
		}

		pageProps, err := adapter.ParseList(html)
		if err != nil {
			return props, errs.Parse("parse list page "+url, err)
		}
		for _, p := range pageProps {
			if p.HouseID == "" {
				p.HouseID = identity.FallbackHouseID(p.AddressLine1, p.Postcode)
			}
			if p.IsDropCandidate() {
				continue
			}
			props = append(props, p)
		}

		if !adapter.HasNext(html) {
			break
		}
		o.driver.Wait(int(browser.JitterDelay(o.cfg.Scraper.PageDelay, o.cfg.Scraper.RequestDelayMin, o.cfg.Scraper.RequestDelayMax).Milliseconds()))
	}

	return props, nil
}

// writeChunks persists intermediate segments every chunkSize rows,
// following the `{UNIVERSITY}_rentdata_list_{source}_{YYMMDD}_part{N}.csv`
// naming convention (§6).
func (o *Orchestrator) writeChunks(props []*models.Property, source models.Source, university models.University, area string) {
	if len(props) == 0 {
		return
	}
	datestamp := time.Now().Format("060102")
	for i := 0; i < len(props); i += chunkSize {
		end := i + chunkSize
		if end > len(props) {
			end = len(props)
		}
		part := i/chunkSize + 1
		name := fmt.Sprintf("%s_rentdata_list_%s_%s_part%d.csv", university, source, datestamp, part)
		if err := writePropertiesCSV(filepath.Join(o.cfg.OutputDir, name), props[i:end]); err != nil {
			log.Printf("pipeline: failed to write list chunk %s: %v", name, err)
		}
	}
}

// stageReuse merges every scraped property against the history cache,
// annotating has_history_detail and tallying per-category reuse counts
// (LIST_MERGE + REUSE, §4.8/§4.4).
func (o *Orchestrator) stageReuse(properties []*models.Property, cache *historycache.Cache) historycache.Counts {
	var counts historycache.Counts
	for _, p := range properties {
		cache.Merge(p, &counts)
	}
	return counts
}

// stageDetail fetches the detail page for every property still missing
// description_en after REUSE, resetting the browser profile every
// ProfileResetEvery fetches. Per-property failures are swallowed and
// counted (§4.8, §7).
func (o *Orchestrator) stageDetail(ctx context.Context, run *models.SweepRun, adapter siteadapter.Adapter, properties []*models.Property) {
	fetches := 0
	resetEvery := o.cfg.Scraper.ProfileResetEvery
	if resetEvery <= 0 {
		resetEvery = 30
	}

	for _, p := range properties {
		if err := ctx.Err(); err != nil {
			o.logf(run, models.LogLevelWarn, "detail stage cancelled: %v", err)
			return
		}

		if p.DescriptionEN != "" {
			continue
		}

		url := adapter.DetailURL(p)
		ok, err := o.driver.Goto(url, 10000)
		if err != nil || !ok {
			run.Errors++
			o.logf(run, models.LogLevelWarn, "detail fetch failed for %s: %v", p.HouseID, err)
			continue
		}

		html, err := o.driver.PageSource()
		if err != nil {
			run.Errors++
			continue
		}

		if _, err := adapter.ParseDetail(html, p); err != nil {
			run.Errors++
			o.logf(run, models.LogLevelWarn, "detail parse failed for %s: %v", p.HouseID, err)
			continue
		}

		fetches++
		if fetches%resetEvery == 0 {
			if err := o.driver.ResetProfile(); err != nil {
				log.Printf("pipeline: profile reset failed: %v", err)
			}
		}
		o.driver.Wait(int(browser.JitterDelay(o.cfg.Scraper.PageDelay, o.cfg.Scraper.RequestDelayMin, o.cfg.Scraper.RequestDelayMax).Milliseconds()))
	}
}

// stagePersist writes every property to the relational sink and runs the
// source-scoped delisting sweep for (source, school) afterwards (§4.7).
// Every property passed in counts as observed for the sweep, whether or
// not its own write succeeded.
func (o *Orchestrator) stagePersist(ctx context.Context, run *models.SweepRun, source models.Source, university models.University, properties []*models.Property) (int, error) {
	schoolID, err := o.db.EnsureSchool(ctx, string(university))
	if err != nil {
		return 0, err
	}

	batch := storage.NewBatchUpserter(o.db)
	liveHouseIDs := make(map[string]bool, len(properties))

	for _, p := range properties {
		liveHouseIDs[p.HouseID] = true
		regionID, err := o.db.EnsureRegion(ctx, p.Suburb, p.State, p.Postcode)
		if err != nil {
			run.Errors++
			o.logf(run, models.LogLevelWarn, "region lookup failed for %s: %v", p.HouseID, err)
			continue
		}

		commuteTime := p.CommuteTimes[university]
		if _, _, err := batch.Put(ctx, p, regionID, schoolID, commuteTime); err != nil {
			if errs.Is(err, errs.ClassDBIntegrity) {
				run.Errors++
				o.logf(run, models.LogLevelWarn, "batch write failed for %s: %v", p.HouseID, err)
				continue
			}
			return 0, err
		}
	}

	if o.ConfirmDelist != nil {
		pending, err := o.db.PendingDelistingCount(ctx, source, schoolID, liveHouseIDs)
		if err != nil {
			return 0, err
		}
		if pending > 0 && !o.ConfirmDelist(pending) {
			o.logf(run, models.LogLevelInfo, "delisting sweep skipped (%d pending)", pending)
			return 0, nil
		}
	}

	delisted, err := o.db.DelistingSweep(ctx, source, schoolID, liveHouseIDs)
	if err != nil {
		return delisted, err
	}
	return delisted, nil
}

// stageExport writes the canonical `{UNIVERSITY}_rentdata_{YYMMDD}.csv`
// export (§4.8, §6).
func (o *Orchestrator) stageExport(properties []*models.Property, university models.University) error {
	name := fmt.Sprintf("%s_rentdata_%s.csv", university, time.Now().Format("060102"))
	return writePropertiesCSV(filepath.Join(o.cfg.OutputDir, name), properties)
}

// checkpoint writes a best-effort CSV of in-memory state on stage
// failure, named after the failure reason, so a manual stage replay can
// resume from it (§4.8, §7).
func (o *Orchestrator) checkpoint(properties []*models.Property, source models.Source, university models.University, reason string) {
	if len(properties) == 0 {
		return
	}
	name := fmt.Sprintf("%s_checkpoint_%s_%s_%s.csv", university, source, reason, time.Now().Format("060102_1504"))
	if err := writePropertiesCSV(filepath.Join(o.cfg.OutputDir, name), properties); err != nil {
		log.Printf("pipeline: checkpoint write failed: %v", err)
	}
}

func writePropertiesCSV(path string, properties []*models.Property) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	return models.WriteCSV(w, f, properties)
}

// writeListMerged emits the LIST_MERGE checkpoint
// `{UNIVERSITY}_list_merged_{source}_{YYMMDD}_{HHMM}.csv`, every scraped
// row annotated with has_history_detail (§4.8, §6).
func (o *Orchestrator) writeListMerged(properties []*models.Property, source models.Source, university models.University) {
	if len(properties) == 0 {
		return
	}
	name := fmt.Sprintf("%s_list_merged_%s_%s.csv", university, source, time.Now().Format("060102_1504"))
	path := filepath.Join(o.cfg.OutputDir, name)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Printf("pipeline: list_merged dir create failed: %v", err)
		return
	}
	f, err := os.Create(path)
	if err != nil {
		log.Printf("pipeline: list_merged create failed: %v", err)
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := models.WriteMergedListCSV(w, f, properties); err != nil {
		log.Printf("pipeline: list_merged write failed: %v", err)
	}
}

func (o *Orchestrator) logf(run *models.SweepRun, level models.LogLevel, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[%s] %s/%s: %s", level, run.Source, run.University, msg)
	if err := o.ops.Log(&run.ID, level, msg, run.Source); err != nil {
		log.Printf("pipeline: failed to persist log line: %v", err)
	}
}
