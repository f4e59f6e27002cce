// Package storage implements the durable sinks: PostgresStore for the
// relational property/region/school data (C7), SQLiteStore for the
// operational store (sweep runs, logs, commands), and an S3 thumbnail
// mirror (§FULL-MEDIA).
package storage

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rentpipeline/errs"
	"rentpipeline/models"
)

// PostgresStore is the C7 relational sink: one pooled connection scope
// shared across a sweep, region/school lookups, property upserts, and
// the delisting diff.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// migrate applies the relational schema (§6) against a fresh database.
// There is no separate migration tool (§1); the sink owns its own
// bootstrap, same as SQLiteStore's operational schema.
func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS regions (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		state TEXT NOT NULL,
		postcode TEXT NOT NULL,
		UNIQUE (name, state, postcode)
	);

	CREATE TABLE IF NOT EXISTS schools (
		id SERIAL PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		canonical_name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS properties (
		id SERIAL PRIMARY KEY,
		source TEXT NOT NULL,
		house_id TEXT NOT NULL,
		region_id INTEGER NOT NULL REFERENCES regions(id),
		price_per_week INTEGER NOT NULL DEFAULT 0,
		address_line1 TEXT NOT NULL DEFAULT '',
		address_line2 TEXT NOT NULL DEFAULT '',
		bedroom_count INTEGER NOT NULL DEFAULT 0,
		bathroom_count INTEGER NOT NULL DEFAULT 0,
		parking_count INTEGER NOT NULL DEFAULT 0,
		property_type INTEGER NOT NULL DEFAULT 5,
		description_en TEXT NOT NULL DEFAULT '',
		description_cn TEXT NOT NULL DEFAULT '',
		keywords TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		thumbnail_url TEXT NOT NULL DEFAULT '',
		available_date DATE,
		published_at TIMESTAMPTZ,
		scraped_at TIMESTAMPTZ,
		average_score DOUBLE PRECISION,
		scores DOUBLE PRECISION[] NOT NULL DEFAULT '{}',
		UNIQUE (source, house_id)
	);

	CREATE TABLE IF NOT EXISTS property_school (
		id SERIAL PRIMARY KEY,
		property_id INTEGER NOT NULL REFERENCES properties(id),
		school_id INTEGER NOT NULL REFERENCES schools(id),
		commute_time INTEGER,
		UNIQUE (property_id, school_id)
	);

	CREATE TABLE IF NOT EXISTS property_images (
		id SERIAL PRIMARY KEY,
		property_id INTEGER NOT NULL REFERENCES properties(id),
		url TEXT NOT NULL,
		display_order INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_properties_source ON properties(source);
	CREATE INDEX IF NOT EXISTS idx_property_images_property ON property_images(property_id);
	`
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return errs.DBIntegrity("apply schema", err)
	}
	return nil
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// Regions
// =============================================================================

// EnsureRegion looks up the (name, state, postcode) triple and inserts it
// lazily if absent (§3). If no exact triple match is found but a region
// exists whose name has suburb as a prefix, that region is returned
// instead and a fuzzy-match line is logged; callers only reach this path
// when postcode is unknown, so the inserted fallback row defaults
// state=NSW, postcode=0 (flagged lossy per §9's open question).
func (s *PostgresStore) EnsureRegion(ctx context.Context, suburb, state, postcode string) (int64, error) {
	suburb = strings.ToLower(strings.TrimSpace(suburb))

	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM regions WHERE name = $1 AND state = $2 AND postcode = $3`,
		suburb, state, postcode,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != pgx.ErrNoRows {
		return 0, errs.DBIntegrity("ensure_region lookup", err)
	}

	if postcode == "" {
		if fuzzyID, ok, ferr := s.fuzzyRegionMatch(ctx, suburb); ferr == nil && ok {
			log.Printf("region fuzzy match: suburb=%q matched region_id=%d (no postcode supplied)", suburb, fuzzyID)
			return fuzzyID, nil
		}
		state = "NSW"
		postcode = "0"
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO regions (name, state, postcode) VALUES ($1, $2, $3)
		 ON CONFLICT (name, state, postcode) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`,
		suburb, state, postcode,
	).Scan(&id)
	if err != nil {
		return 0, errs.DBIntegrity("ensure_region insert", err)
	}
	return id, nil
}

func (s *PostgresStore) fuzzyRegionMatch(ctx context.Context, suburb string) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM regions WHERE name LIKE $1 ORDER BY length(name) ASC LIMIT 1`,
		suburb+"%",
	).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// =============================================================================
// Schools
// =============================================================================

// EnsureSchool looks up a school by its closed-enum code (normalising
// long-form names like "University of New South Wales" to "UNSW" on
// ingress) and inserts it if absent. Schools are created-only, never
// deleted by the pipeline.
func (s *PostgresStore) EnsureSchool(ctx context.Context, raw string) (int64, error) {
	code, ok := models.NormaliseSchoolCode(raw)
	if !ok {
		return 0, errs.Parse("unrecognised school code: "+raw, nil)
	}

	var id int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM schools WHERE code = $1`, string(code)).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != pgx.ErrNoRows {
		return 0, errs.DBIntegrity("ensure_school lookup", err)
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO schools (code, canonical_name) VALUES ($1, $2)
		 ON CONFLICT (code) DO UPDATE SET code = EXCLUDED.code
		 RETURNING id`,
		string(code), models.SchoolCanonicalName[code],
	).Scan(&id)
	if err != nil {
		return 0, errs.DBIntegrity("ensure_school insert", err)
	}
	return id, nil
}

// SchoolSourceCount is one (school, source) row count, for the monitor
// dashboard's per-source/per-school breakdown (§FULL-MONITOR).
type SchoolSourceCount struct {
	SchoolCode string
	Source     models.Source
	Count      int
}

// SchoolSourceCounts returns the live property count grouped by school
// and source.
func (s *PostgresStore) SchoolSourceCounts(ctx context.Context) ([]SchoolSourceCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sc.code, p.source, COUNT(*)
		FROM property_school ps
		JOIN properties p ON p.id = ps.property_id
		JOIN schools sc ON sc.id = ps.school_id
		GROUP BY sc.code, p.source
		ORDER BY sc.code, p.source`)
	if err != nil {
		return nil, fmt.Errorf("query school/source counts: %w", err)
	}
	defer rows.Close()

	var out []SchoolSourceCount
	for rows.Next() {
		var c SchoolSourceCount
		var source string
		if err := rows.Scan(&c.SchoolCode, &source, &c.Count); err != nil {
			return nil, err
		}
		c.Source = models.Source(source)
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// Properties
// =============================================================================

// significantFieldsChanged reports whether any field that matters for an
// update (as opposed to a no-op re-sighting) differs between the
// incoming and stored row.
func significantFieldsChanged(existing, incoming *models.Property) bool {
	if existing.PricePerWeek != incoming.PricePerWeek {
		return true
	}
	if existing.DescriptionEN != incoming.DescriptionEN {
		return true
	}
	if existing.ThumbnailURL != incoming.ThumbnailURL {
		return true
	}
	if existing.BedroomCount != incoming.BedroomCount || existing.BathroomCount != incoming.BathroomCount || existing.ParkingCount != incoming.ParkingCount {
		return true
	}
	if (existing.AvailableDate == nil) != (incoming.AvailableDate == nil) {
		return true
	}
	if existing.AvailableDate != nil && incoming.AvailableDate != nil && !existing.AvailableDate.Equal(*incoming.AvailableDate) {
		return true
	}
	return false
}

// UpsertProperty inserts p keyed on (source, house_id), or updates it in
// place when significant fields changed. Returns the row id and whether
// a write occurred (false for an unchanged re-sighting).
func (s *PostgresStore) UpsertProperty(ctx context.Context, p *models.Property, regionID, schoolID int64) (int64, bool, error) {
	var id int64
	var existing models.Property
	err := s.pool.QueryRow(ctx,
		`SELECT id, price_per_week, description_en, thumbnail_url, bedroom_count, bathroom_count, parking_count, available_date
		 FROM properties WHERE source = $1 AND house_id = $2`,
		string(p.Source), p.HouseID,
	).Scan(&id, &existing.PricePerWeek, &existing.DescriptionEN, &existing.ThumbnailURL,
		&existing.BedroomCount, &existing.BathroomCount, &existing.ParkingCount, &existing.AvailableDate)

	switch err {
	case pgx.ErrNoRows:
		insertErr := s.pool.QueryRow(ctx,
			`INSERT INTO properties (
				source, house_id, region_id, price_per_week, address_line1, address_line2,
				bedroom_count, bathroom_count, parking_count, property_type,
				description_en, description_cn, keywords, url, thumbnail_url,
				available_date, published_at, scraped_at, average_score
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
			RETURNING id`,
			string(p.Source), p.HouseID, regionID, p.PricePerWeek, p.AddressLine1, p.AddressLine2,
			p.BedroomCount, p.BathroomCount, p.ParkingCount, int(p.PropType),
			p.DescriptionEN, p.DescriptionCN, p.Keywords, p.URL, p.ThumbnailURL,
			p.AvailableDate, p.PublishedAt, p.ScrapedAt, p.AverageScore,
		).Scan(&id)
		if insertErr != nil {
			return 0, false, errs.DBIntegrity("insert property "+p.HouseID, insertErr)
		}
		if err := s.replacePropertyScores(ctx, id, p.Scores); err != nil {
			return id, true, err
		}
		return id, true, nil

	case nil:
		if !significantFieldsChanged(&existing, p) {
			return id, false, nil
		}
		_, updateErr := s.pool.Exec(ctx,
			`UPDATE properties SET
				region_id = $2, price_per_week = $3, address_line1 = $4, address_line2 = $5,
				bedroom_count = $6, bathroom_count = $7, parking_count = $8, property_type = $9,
				description_en = $10, description_cn = $11, keywords = $12, url = $13, thumbnail_url = $14,
				available_date = $15, average_score = $16, scraped_at = $17
			 WHERE id = $1`,
			id, regionID, p.PricePerWeek, p.AddressLine1, p.AddressLine2,
			p.BedroomCount, p.BathroomCount, p.ParkingCount, int(p.PropType),
			p.DescriptionEN, p.DescriptionCN, p.Keywords, p.URL, p.ThumbnailURL,
			p.AvailableDate, p.AverageScore, p.ScrapedAt,
		)
		if updateErr != nil {
			return 0, false, errs.DBIntegrity("update property "+p.HouseID, updateErr)
		}
		if err := s.replacePropertyScores(ctx, id, p.Scores); err != nil {
			return id, true, err
		}
		return id, true, nil

	default:
		return 0, false, errs.DBIntegrity("lookup property "+p.HouseID, err)
	}
}

func (s *PostgresStore) replacePropertyScores(ctx context.Context, propertyID int64, scores [models.NumScores]float64) error {
	_, err := s.pool.Exec(ctx, `UPDATE properties SET scores = $2 WHERE id = $1`, propertyID, scores[:])
	if err != nil {
		return errs.DBIntegrity("write scores vector", err)
	}
	return nil
}

// DetailRetryCandidate is a property whose detail fetch never succeeded
// during its sweep (description_en empty) and so is eligible for the
// background re-enrichment worker (§FULL-ENRICH).
type DetailRetryCandidate struct {
	PropertyID int64
	Source     models.Source
	URL        string
}

// PropertiesMissingDescription returns up to limit properties with an
// empty description_en and a non-empty url, oldest (lowest id) first,
// for retry by the background enrichment worker.
func (s *PostgresStore) PropertiesMissingDescription(ctx context.Context, limit int) ([]DetailRetryCandidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source, url FROM properties
		WHERE description_en = '' AND url != ''
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query detail retry candidates: %w", err)
	}
	defer rows.Close()

	var out []DetailRetryCandidate
	for rows.Next() {
		var c DetailRetryCandidate
		var source string
		if err := rows.Scan(&c.PropertyID, &source, &c.URL); err != nil {
			return nil, err
		}
		c.Source = models.Source(source)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateDescription writes the re-enriched description/keyword fields
// for a property recovered by the background retry worker.
func (s *PostgresStore) UpdateDescription(ctx context.Context, propertyID int64, descriptionEN, descriptionCN, keywords string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE properties SET description_en = $2, description_cn = $3, keywords = $4 WHERE id = $1`,
		propertyID, descriptionEN, descriptionCN, keywords)
	if err != nil {
		return errs.DBIntegrity("update description for retry", err)
	}
	return nil
}

// UpsertPropertySchool writes the (property, school, commute_time) join
// row, deleting any prior row for the pair first (§4.7's
// delete-then-insert rule).
func (s *PostgresStore) UpsertPropertySchool(ctx context.Context, propertyID, schoolID int64, commuteTime *int) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM property_school WHERE property_id = $1 AND school_id = $2`, propertyID, schoolID)
	if err != nil {
		return errs.DBIntegrity("clear property_school", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO property_school (property_id, school_id, commute_time) VALUES ($1, $2, $3)`,
		propertyID, schoolID, commuteTime,
	)
	if err != nil {
		return errs.DBIntegrity("insert property_school", err)
	}
	return nil
}

// ReplacePropertyImages deletes and reinserts a property's image rows in
// order (§FULL's PropertyImage, populated by the §FULL-MEDIA mirror).
func (s *PostgresStore) ReplacePropertyImages(ctx context.Context, propertyID int64, urls []string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM property_images WHERE property_id = $1`, propertyID)
	if err != nil {
		return errs.DBIntegrity("clear property_images", err)
	}
	for i, u := range urls {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO property_images (property_id, url, display_order) VALUES ($1, $2, $3)`,
			propertyID, u, i,
		); err != nil {
			return errs.DBIntegrity("insert property_images", err)
		}
	}
	return nil
}

// MediaMirrorCandidate is a property whose source-hosted thumbnail has
// not yet been mirrored into object storage.
type MediaMirrorCandidate struct {
	PropertyID   int64
	ThumbnailURL string
}

// PropertiesNeedingMediaMirror returns up to limit properties with a
// non-empty thumbnail_url that do not yet have a display_order=1 row in
// property_images (§FULL-MEDIA).
func (s *PostgresStore) PropertiesNeedingMediaMirror(ctx context.Context, limit int) ([]MediaMirrorCandidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.thumbnail_url
		FROM properties p
		WHERE p.thumbnail_url != ''
		  AND NOT EXISTS (
		      SELECT 1 FROM property_images pi
		      WHERE pi.property_id = p.id AND pi.display_order = 1
		  )
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query media mirror candidates: %w", err)
	}
	defer rows.Close()

	var out []MediaMirrorCandidate
	for rows.Next() {
		var c MediaMirrorCandidate
		if err := rows.Scan(&c.PropertyID, &c.ThumbnailURL); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// Delisting sweep (§4.7, Invariant 3)
// =============================================================================

// PendingDelistingCount reports how many rows DelistingSweep would remove
// for (source, schoolID) without deleting anything, for the CLI's
// confirmation prompt (§7).
func (s *PostgresStore) PendingDelistingCount(ctx context.Context, source models.Source, schoolID int64, liveHouseIDs map[string]bool) (int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.house_id
		 FROM properties p
		 JOIN property_school ps ON ps.property_id = p.id
		 WHERE ps.school_id = $1 AND p.source = $2`,
		schoolID, string(source),
	)
	if err != nil {
		return 0, errs.DBIntegrity("query db_for_pair", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var houseID string
		if err := rows.Scan(&houseID); err != nil {
			return 0, errs.DBIntegrity("scan db_for_pair", err)
		}
		if !liveHouseIDs[houseID] {
			count++
		}
	}
	return count, rows.Err()
}

// DelistingSweep computes, for a given (source, school), the set of
// house_ids present in the DB but absent from liveHouseIDs (the current
// run's observed set for that source), and removes exactly the
// property_school row for that school — cascading to property_images and
// the property itself only when no property_school rows remain. Runs as
// its own transaction. The orchestrator calls it after the sweep's
// upserts, not before them.
func (s *PostgresStore) DelistingSweep(ctx context.Context, source models.Source, schoolID int64, liveHouseIDs map[string]bool) (expiredCount int, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, errs.DBIntegrity("begin delisting sweep tx", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT p.id, p.house_id
		 FROM properties p
		 JOIN property_school ps ON ps.property_id = p.id
		 WHERE ps.school_id = $1 AND p.source = $2`,
		schoolID, string(source),
	)
	if err != nil {
		return 0, errs.DBIntegrity("query db_for_pair", err)
	}

	type row struct {
		id      int64
		houseID string
	}
	var expired []row
	for rows.Next() {
		var r row
		if scanErr := rows.Scan(&r.id, &r.houseID); scanErr != nil {
			rows.Close()
			return 0, errs.DBIntegrity("scan db_for_pair", scanErr)
		}
		if !liveHouseIDs[r.houseID] {
			expired = append(expired, r)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, errs.DBIntegrity("iterate db_for_pair", err)
	}

	for _, r := range expired {
		if _, err := tx.Exec(ctx, `DELETE FROM property_school WHERE property_id = $1 AND school_id = $2`, r.id, schoolID); err != nil {
			return expiredCount, errs.DBIntegrity("delete property_school in sweep", err)
		}

		var remaining int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM property_school WHERE property_id = $1`, r.id).Scan(&remaining); err != nil {
			return expiredCount, errs.DBIntegrity("count remaining property_school", err)
		}
		if remaining == 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM property_images WHERE property_id = $1`, r.id); err != nil {
				return expiredCount, errs.DBIntegrity("delete property_images in sweep", err)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM properties WHERE id = $1`, r.id); err != nil {
				return expiredCount, errs.DBIntegrity("delete property in sweep", err)
			}
		}
		expiredCount++
	}

	if err := tx.Commit(ctx); err != nil {
		return expiredCount, errs.DBIntegrity("commit delisting sweep", err)
	}
	return expiredCount, nil
}

// =============================================================================
// Batch commit helper
// =============================================================================

// BatchUpserter performs property upserts one at a time and counts them
// in groups of 100 (§4.7). It opens no transaction: each statement
// commits on its own, and nothing is rolled back on a DB failure.
type BatchUpserter struct {
	store     *PostgresStore
	batchSize int
	pending   int
}

func NewBatchUpserter(store *PostgresStore) *BatchUpserter {
	return &BatchUpserter{store: store, batchSize: 100}
}

// Put performs one property+property_school upsert. commuteTime is the
// minutes from p to the school identified by schoolID, already resolved
// by the caller (the orchestrator knows the University for each
// schoolID it's iterating). Returns whether UpsertProperty wrote the
// property row, and the row count so far in the current 100-row group
// (§4.7), which goes back to 0 when the group fills.
func (b *BatchUpserter) Put(ctx context.Context, p *models.Property, regionID, schoolID int64, commuteTime *int) (wrote bool, batchCount int, err error) {
	propertyID, wrote, err := b.store.UpsertProperty(ctx, p, regionID, schoolID)
	if err != nil {
		return false, b.pending, err
	}
	if err := b.store.UpsertPropertySchool(ctx, propertyID, schoolID, commuteTime); err != nil {
		return false, b.pending, err
	}
	b.pending++
	if b.pending >= b.batchSize {
		b.pending = 0
	}
	return wrote, b.pending, nil
}
