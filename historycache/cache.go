// Package historycache implements the history reuse cache (C4): loading
// the newest prior canonical export for a university and merging its
// values into freshly scraped properties so scoring/commute/detail work
// already done in a previous run isn't repeated.
package historycache

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"rentpipeline/models"
)

// maxAge is the staleness cutoff past which a prior export is treated as
// absent (§4.4).
const maxAge = 7 * 24 * time.Hour

// canonicalNamePattern matches `{UNIVERSITY}_rentdata_{YYMMDD}.csv`,
// excluding list-segment checkpoints such as
// `{UNIVERSITY}_list_merged_{source}_{YYMMDD}_{HHMM}.csv` and
// `{UNIVERSITY}_rentdata_list_{source}_{YYMMDD}_part{N}.csv`.
var canonicalNamePattern = regexp.MustCompile(`^([A-Za-z]+)_rentdata_(\d{6})\.csv$`)

// Entry is the subset of a cached property's fields eligible for reuse.
type Entry struct {
	DescriptionEN string
	DescriptionCN string
	Keywords      string
	AverageScore  *float64
	Scores        [models.NumScores]float64
	AvailableDate *time.Time
	ThumbnailURL  string
	CommuteTimes  map[models.University]*int
}

// Cache indexes a prior export's reusable rows by house_id.
type Cache struct {
	bySource map[models.Source]map[string]Entry
	loadedAt time.Time
	empty    bool
}

// Counts tallies how many properties in a run were satisfied from cache
// versus required fresh work, per category (§4.4's "per-category
// reused-vs-new counts").
type Counts struct {
	DescriptionReused int
	ScoreReused       int
	CommuteReused     int
	New               int
}

// Load locates the newest canonical export for university under dir and
// indexes it. A missing or >7-day-old export yields an empty, non-nil
// Cache so callers can merge unconditionally.
func Load(dir string, university models.University) (*Cache, error) {
	path, foundAt, err := newestCanonicalExport(dir, university)
	if err != nil {
		return nil, err
	}
	if path == "" || time.Since(foundAt) > maxAge {
		return &Cache{empty: true}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return &Cache{empty: true}, nil
	}
	defer f.Close()

	rows, err := readCSVSkippingBOM(f)
	if err != nil || len(rows) == 0 {
		return &Cache{empty: true}, nil
	}
	header := rows[0]

	c := &Cache{bySource: make(map[models.Source]map[string]Entry), loadedAt: foundAt}
	for _, row := range rows[1:] {
		prop, err := models.FromRow(header, row)
		if err != nil || prop.DescriptionEN == "" {
			continue
		}
		if c.bySource[prop.Source] == nil {
			c.bySource[prop.Source] = make(map[string]Entry)
		}
		c.bySource[prop.Source][prop.HouseID] = Entry{
			DescriptionEN: prop.DescriptionEN,
			DescriptionCN: prop.DescriptionCN,
			Keywords:      prop.Keywords,
			AverageScore:  prop.AverageScore,
			Scores:        prop.Scores,
			AvailableDate: prop.AvailableDate,
			ThumbnailURL:  prop.ThumbnailURL,
			CommuteTimes:  prop.CommuteTimes,
		}
	}
	return c, nil
}

// LoadProperties reads the newest canonical export for source university
// and returns every row as a full Property, filtered to source. Used by
// the shared-source sibling sweep path (§4.8), which reuses a sibling
// university's already-scraped, already-scored rows wholesale rather
// than the reuse-by-field Entry view Load/Merge expose.
func LoadProperties(dir string, university models.University, source models.Source) ([]*models.Property, error) {
	path, _, err := newestCanonicalExport(dir, university)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := readCSVSkippingBOM(f)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	header := rows[0]

	var out []*models.Property
	for _, row := range rows[1:] {
		prop, err := models.FromRow(header, row)
		if err != nil || prop.Source != source {
			continue
		}
		out = append(out, prop)
	}
	return out, nil
}

// newestCanonicalExport returns the path and the YYMMDD date (as a
// time.Time at midnight) of the most recent canonical export for
// university under dir, or ("", zero, nil) if none exists.
func newestCanonicalExport(dir string, university models.University) (string, time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", time.Time{}, nil
		}
		return "", time.Time{}, err
	}

	type candidate struct {
		path string
		date time.Time
	}
	var candidates []candidate

	prefix := strings.ToUpper(string(university)) + "_rentdata_"
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(strings.ToUpper(name), strings.ToUpper(prefix)) {
			continue
		}
		m := canonicalNamePattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		date, err := time.Parse("060102", m[2])
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{path: filepath.Join(dir, name), date: date})
	}

	if len(candidates) == 0 {
		return "", time.Time{}, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].date.After(candidates[j].date) })
	return candidates[0].path, candidates[0].date, nil
}

// Merge fills missing/zero fields on prop from the cached entry matching
// its (Source, HouseID), if any, and marks HasHistoryDetail when a
// description was reused. It updates counts for whichever categories it
// touched.
func (c *Cache) Merge(prop *models.Property, counts *Counts) {
	if c == nil || c.empty {
		counts.New++
		return
	}
	entries, ok := c.bySource[prop.Source]
	if !ok {
		counts.New++
		return
	}
	entry, ok := entries[prop.HouseID]
	if !ok {
		counts.New++
		return
	}

	reusedAny := false
	if prop.DescriptionEN == "" && entry.DescriptionEN != "" {
		prop.DescriptionEN = entry.DescriptionEN
		prop.DescriptionCN = entry.DescriptionCN
		prop.Keywords = entry.Keywords
		prop.HasHistoryDetail = true
		counts.DescriptionReused++
		reusedAny = true
	}
	if prop.AverageScore == nil && entry.AverageScore != nil {
		prop.AverageScore = entry.AverageScore
		prop.Scores = entry.Scores
		counts.ScoreReused++
		reusedAny = true
	}
	if prop.AvailableDate == nil && entry.AvailableDate != nil {
		prop.AvailableDate = entry.AvailableDate
	}
	if prop.ThumbnailURL == "" && entry.ThumbnailURL != "" {
		prop.ThumbnailURL = entry.ThumbnailURL
	}

	commuteReused := false
	for uni, minutes := range entry.CommuteTimes {
		if minutes == nil {
			continue
		}
		if existing, ok := prop.CommuteTimes[uni]; !ok || existing == nil {
			prop.CommuteTimes[uni] = minutes
			commuteReused = true
		}
	}
	if commuteReused {
		counts.CommuteReused++
		reusedAny = true
	}

	if !reusedAny {
		counts.New++
	}
}

// readCSVSkippingBOM reads all records from r, stripping a leading
// UTF-8 BOM if present (the canonical export is written utf-8-sig, §6).
func readCSVSkippingBOM(f *os.File) ([][]string, error) {
	buf := make([]byte, 3)
	n, _ := f.Read(buf)
	if n < 3 || buf[0] != 0xEF || buf[1] != 0xBB || buf[2] != 0xBF {
		f.Seek(0, 0)
	}
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	return reader.ReadAll()
}
