package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"rentpipeline/historycache"
	"rentpipeline/models"
)

func TestWritePropertiesCSVRoundTrips(t *testing.T) {
	dir := t.TempDir()
	p := models.NewProperty(models.SourcePortalD, "42")
	p.PricePerWeek = 600
	p.AddressLine1 = "1 Test St"

	path := filepath.Join(dir, "sub", "out.csv")
	if err := writePropertiesCSV(path, []*models.Property{p}); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(data) < 3 || data[0] != 0xEF || data[1] != 0xBB || data[2] != 0xBF {
		t.Error("expected utf-8 BOM prefix")
	}
}

func TestReadPropertiesCSVRoundTripsWrittenExport(t *testing.T) {
	dir := t.TempDir()
	p := models.NewProperty(models.SourcePortalR, "77")
	p.PricePerWeek = 450
	p.AddressLine1 = "5 Round Trip Rd"
	p.BedroomCount = 2
	score := 12.5
	p.AverageScore = &score

	path := filepath.Join(dir, "export.csv")
	if err := writePropertiesCSV(path, []*models.Property{p}); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := readPropertiesCSV(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d properties, want 1", len(got))
	}
	if got[0].HouseID != "77" || got[0].PricePerWeek != 450 || got[0].AddressLine1 != "5 Round Trip Rd" {
		t.Errorf("unexpected round trip: %+v", got[0])
	}
	if got[0].AverageScore == nil || *got[0].AverageScore != 12.5 {
		t.Errorf("expected average_score 12.5, got %v", got[0].AverageScore)
	}
}

func TestReadPropertiesCSVEmptyFileReturnsNoRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.csv")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := readPropertiesCSV(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d properties, want 0", len(got))
	}
}

func TestStageReuseNilCacheCountsAllNew(t *testing.T) {
	o := &Orchestrator{}
	props := []*models.Property{
		models.NewProperty(models.SourcePortalD, "1"),
		models.NewProperty(models.SourcePortalD, "2"),
	}
	counts := o.stageReuse(props, nil)
	if counts.New != 2 {
		t.Errorf("got %+v want New=2", counts)
	}
}

func TestStageReuseMergesFromCache(t *testing.T) {
	dir := t.TempDir()
	prior := models.NewProperty(models.SourcePortalD, "99")
	prior.PricePerWeek = 500
	prior.AddressLine1 = "9 Cached Ave"
	prior.DescriptionEN = "a lovely place"
	avg := 15.0
	prior.AverageScore = &avg

	name := "UNSW_rentdata_" + time.Now().Format("060102") + ".csv"
	if err := writePropertiesCSV(filepath.Join(dir, name), []*models.Property{prior}); err != nil {
		t.Fatalf("seed export: %v", err)
	}

	cache, err := historycache.Load(dir, models.UniversityUNSW)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	o := &Orchestrator{}
	fresh := models.NewProperty(models.SourcePortalD, "99")
	fresh.PricePerWeek = 500
	counts := o.stageReuse([]*models.Property{fresh}, cache)

	if fresh.DescriptionEN != "a lovely place" {
		t.Errorf("expected description reused from cache, got %q", fresh.DescriptionEN)
	}
	if counts.DescriptionReused != 1 {
		t.Errorf("expected DescriptionReused=1, got %+v", counts)
	}
}
