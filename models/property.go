package models

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Source identifies which portal a property was scraped from.
type Source string

const (
	SourcePortalD Source = "portal-d"
	SourcePortalR Source = "portal-r"
)

// University is the closed set of school codes the pipeline computes
// commute times for.
type University string

const (
	UniversityUNSW University = "UNSW"
	UniversityUSYD University = "USYD"
	UniversityUTS  University = "UTS"
)

// AllUniversities lists the universities in CSV column order.
var AllUniversities = []University{UniversityUNSW, UniversityUSYD, UniversityUTS}

// PropertyType is the closed enum from the data model. Unrecognised
// source values normalise to PropertyTypeOther.
type PropertyType int

const (
	PropertyTypeHouse         PropertyType = 1
	PropertyTypeApartment     PropertyType = 2
	PropertyTypeStudio        PropertyType = 3
	PropertyTypeSemiDetached  PropertyType = 4
	PropertyTypeTownhouse     PropertyType = 5
	PropertyTypeVilla         PropertyType = 6
	PropertyTypeDuplex        PropertyType = 7
	PropertyTypeTerrace       PropertyType = 8
	PropertyTypeOther         PropertyType = 5 // aliases townhouse per spec
)

// SentinelScore is the magic default average_score assigned when every
// scoring call fails to parse. Preserved for wire compatibility with the
// source system; tag scores=[0]*8 alongside it so downstream queries can
// filter sentinel rows.
const SentinelScore = 13.0

// NumScores is the fixed length of the Scores vector: num_calls(2) * scores_per_call(4).
const NumScores = 8

// Property is the canonical listing record (C3). Identity is (Source, HouseID).
type Property struct {
	Source       Source
	HouseID      string
	PricePerWeek int

	AddressLine1 string
	AddressLine2 string
	Suburb       string
	State        string
	Postcode     string

	BedroomCount  int
	BathroomCount int
	ParkingCount  int
	PropType      PropertyType

	DescriptionEN string
	DescriptionCN string
	Keywords      string

	URL          string
	ThumbnailURL string

	AvailableDate *time.Time
	PublishedAt   time.Time
	ScrapedAt     time.Time

	AverageScore *float64
	Scores       [NumScores]float64

	CommuteTimes map[University]*int

	// HasHistoryDetail is set by LIST_MERGE when a row was enriched from
	// the history cache rather than freshly scraped (§4.8).
	HasHistoryDetail bool
}

// NewProperty returns a Property with initialised maps, ready for
// population by a site adapter.
func NewProperty(source Source, houseID string) *Property {
	return &Property{
		Source:       source,
		HouseID:      houseID,
		State:        "NSW",
		CommuteTimes: make(map[University]*int),
		ScrapedAt:    time.Now(),
	}
}

// IsDropCandidate reports whether the property fails the minimal LIST-stage
// validity bar: missing identity or a zero/unknown price (§3, §4.2).
func (p *Property) IsDropCandidate() bool {
	return p.HouseID == "" || p.PricePerWeek <= 0
}

// RecomputeAverageScore sets AverageScore from the Scores vector per
// Invariant 4: mean rounded to one decimal. Call after the scoring
// service populates Scores.
func (p *Property) RecomputeAverageScore() {
	sum := 0.0
	for _, s := range p.Scores {
		sum += s
	}
	mean := sum / float64(NumScores)
	rounded := roundToOneDecimal(mean)
	p.AverageScore = &rounded
}

func roundToOneDecimal(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

// csvColumns is the public CSV schema (§6), in order. Column order is
// part of the contract — from_row/to_row must agree on it.
var csvColumns = []string{
	"pricePerWeek", "addressLine1", "addressLine2", "bedroomCount", "bathroomCount",
	"parkingCount", "propertyType", "houseId", "url", "description_en", "description_cn",
	"keywords", "average_score", "available_date", "published_at", "thumbnail_url",
	"source", "commuteTime_UNSW", "commuteTime_USYD", "commuteTime_UTS",
}

// CSVHeader returns the canonical column header row.
func CSVHeader() []string {
	out := make([]string, len(csvColumns))
	copy(out, csvColumns)
	return out
}

const dateLayout = "2006-01-02"

// ToRow serialises the property to a CSV record matching CSVHeader's
// column order. Missing values serialise to the empty string.
func (p *Property) ToRow() []string {
	row := make([]string, len(csvColumns))

	row[0] = strconv.Itoa(p.PricePerWeek)
	row[1] = p.AddressLine1
	row[2] = p.AddressLine2
	row[3] = strconv.Itoa(p.BedroomCount)
	row[4] = strconv.Itoa(p.BathroomCount)
	row[5] = strconv.Itoa(p.ParkingCount)
	row[6] = strconv.Itoa(int(p.PropType))
	row[7] = p.HouseID
	row[8] = p.URL
	row[9] = p.DescriptionEN
	row[10] = p.DescriptionCN
	row[11] = p.Keywords
	if p.AverageScore != nil {
		row[12] = strconv.FormatFloat(*p.AverageScore, 'f', 1, 64)
	}
	if p.AvailableDate != nil {
		row[13] = p.AvailableDate.Format(dateLayout)
	}
	if !p.PublishedAt.IsZero() {
		row[14] = p.PublishedAt.Format(time.RFC3339)
	}
	row[15] = p.ThumbnailURL
	row[16] = string(p.Source)
	row[17] = formatCommute(p.CommuteTimes[UniversityUNSW])
	row[18] = formatCommute(p.CommuteTimes[UniversityUSYD])
	row[19] = formatCommute(p.CommuteTimes[UniversityUTS])

	return row
}

func formatCommute(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// FromRow deserialises a CSV record produced by ToRow (or a record with
// the canonical header, in any column subset — unknown columns ignored,
// missing columns default). header must be the column names matching
// each position in row.
func FromRow(header, row []string) (*Property, error) {
	get := func(col string) (string, bool) {
		for i, h := range header {
			if h == col && i < len(row) {
				return row[i], true
			}
		}
		return "", false
	}

	p := &Property{CommuteTimes: make(map[University]*int), State: "NSW"}

	if v, ok := get("pricePerWeek"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse pricePerWeek: %w", err)
		}
		p.PricePerWeek = n
	}
	if v, ok := get("addressLine1"); ok {
		p.AddressLine1 = v
	}
	if v, ok := get("addressLine2"); ok {
		p.AddressLine2 = v
	}
	if v, ok := get("bedroomCount"); ok && v != "" {
		n, _ := strconv.Atoi(v)
		p.BedroomCount = n
	}
	if v, ok := get("bathroomCount"); ok && v != "" {
		n, _ := strconv.Atoi(v)
		p.BathroomCount = n
	}
	if v, ok := get("parkingCount"); ok && v != "" {
		n, _ := strconv.Atoi(v)
		p.ParkingCount = n
	}
	if v, ok := get("propertyType"); ok && v != "" {
		n, _ := strconv.Atoi(v)
		p.PropType = PropertyType(n)
	}
	if v, ok := get("houseId"); ok {
		p.HouseID = v
	}
	if v, ok := get("url"); ok {
		p.URL = v
	}
	if v, ok := get("description_en"); ok {
		p.DescriptionEN = v
	}
	if v, ok := get("description_cn"); ok {
		p.DescriptionCN = v
	}
	if v, ok := get("keywords"); ok {
		p.Keywords = v
	}
	if v, ok := get("average_score"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("parse average_score: %w", err)
		}
		p.AverageScore = &f
	}
	if v, ok := get("available_date"); ok && v != "" {
		t, err := time.Parse(dateLayout, v)
		if err == nil {
			p.AvailableDate = &t
		}
	}
	if v, ok := get("published_at"); ok && v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err == nil {
			p.PublishedAt = t
		}
	}
	if v, ok := get("thumbnail_url"); ok {
		p.ThumbnailURL = v
	}
	if v, ok := get("source"); ok {
		p.Source = Source(v)
	}
	if v, ok := get("has_history_detail"); ok {
		p.HasHistoryDetail = v == "true"
	}
	for _, uni := range AllUniversities {
		if v, ok := get("commuteTime_" + string(uni)); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("parse commuteTime_%s: %w", uni, err)
			}
			p.CommuteTimes[uni] = &n
		}
	}

	return p, nil
}

// WriteCSV writes properties as the canonical export, UTF-8 with BOM
// (utf-8-sig) per §6.
func WriteCSV(w *csv.Writer, rawWriter interface{ Write([]byte) (int, error) }, properties []*Property) error {
	if _, err := rawWriter.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}
	if err := w.Write(CSVHeader()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, p := range properties {
		if err := w.Write(p.ToRow()); err != nil {
			return fmt.Errorf("write row %s: %w", p.HouseID, err)
		}
	}
	w.Flush()
	return w.Error()
}

// mergedListColumns is the LIST_MERGE checkpoint schema (§4.8): the
// canonical columns plus a trailing has_history_detail flag recording
// whether a row was filled from the history cache rather than freshly
// scraped.
var mergedListColumns = append(append([]string{}, csvColumns...), "has_history_detail")

// MergedListCSVHeader returns the LIST_MERGE checkpoint's column header.
func MergedListCSVHeader() []string {
	out := make([]string, len(mergedListColumns))
	copy(out, mergedListColumns)
	return out
}

// ToMergedListRow serialises the property the same way ToRow does, with
// a trailing has_history_detail column appended.
func (p *Property) ToMergedListRow() []string {
	row := p.ToRow()
	flag := "false"
	if p.HasHistoryDetail {
		flag = "true"
	}
	return append(row, flag)
}

// WriteMergedListCSV writes the LIST_MERGE checkpoint (§4.8, §6):
// every scraped row annotated with has_history_detail, UTF-8 with BOM.
func WriteMergedListCSV(w *csv.Writer, rawWriter interface{ Write([]byte) (int, error) }, properties []*Property) error {
	if _, err := rawWriter.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}
	if err := w.Write(MergedListCSVHeader()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, p := range properties {
		if err := w.Write(p.ToMergedListRow()); err != nil {
			return fmt.Errorf("write row %s: %w", p.HouseID, err)
		}
	}
	w.Flush()
	return w.Error()
}

// TruncateDescription caps a description at n characters with a
// trailing ellipsis, per §4.2.
func TruncateDescription(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// NormaliseLocality lowercases a suburb token and replaces spaces with
// hyphens, matching the address_line2 convention in §3.
func NormaliseLocality(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "-")
}

// SchoolCanonicalName maps the closed school code set to its display name.
var SchoolCanonicalName = map[University]string{
	UniversityUNSW: "University of New South Wales",
	UniversityUSYD: "University of Sydney",
	UniversityUTS:  "University of Technology Sydney",
}

// SchoolNameMapping maps long/alternate forms seen in source data to the
// short codes the sink persists (ensure_school normalises long forms on
// ingress, per §4.7).
var SchoolNameMapping = map[string]University{
	"unsw": UniversityUNSW, "university of new south wales": UniversityUNSW,
	"usyd": UniversityUSYD, "university of sydney": UniversityUSYD,
	"uts": UniversityUTS, "university of technology sydney": UniversityUTS,
}

// NormaliseSchoolCode maps any recognised long/short form to its
// canonical short code; ok is false for unrecognised input.
func NormaliseSchoolCode(s string) (University, bool) {
	if u, ok := SchoolNameMapping[strings.ToLower(strings.TrimSpace(s))]; ok {
		return u, true
	}
	for _, u := range AllUniversities {
		if strings.EqualFold(string(u), s) {
			return u, true
		}
	}
	return "", false
}

// Region is the (name, state, postcode) triple from §3.
type Region struct {
	ID       int64
	Name     string // lowercase suburb
	State    string
	Postcode string
}

// School is the closed {UNSW, USYD, UTS} set.
type School struct {
	ID   int64
	Code University
	Name string
}

// PropertySchool is the join row (property_id, school_id, commute_time).
type PropertySchool struct {
	PropertyID int64
	SchoolID   int64
	CommuteTime *int
}

// PropertyImage is a DB-only row referenced by a property, never part
// of the CSV schema (§3.FULL).
type PropertyImage struct {
	ID           int64
	PropertyID   int64
	URL          string
	DisplayOrder int
}
