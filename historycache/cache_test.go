package historycache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"rentpipeline/models"
)

func writeSampleExport(t *testing.T, dir, name string, date time.Time) {
	t.Helper()
	p := models.NewProperty(models.SourcePortalD, "111")
	p.DescriptionEN = "A lovely two bedroom unit close to campus."
	p.PublishedAt = date
	score := 15.5
	p.AverageScore = &score

	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	f.Write([]byte{0xEF, 0xBB, 0xBF})
	f.WriteString(joinCSV(models.CSVHeader()) + "\n")
	f.WriteString(joinCSV(p.ToRow()) + "\n")
}

func joinCSV(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return out
}

func TestLoadMissingDirIsEmpty(t *testing.T) {
	c, err := Load("/nonexistent/path/xyz", models.UniversityUNSW)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	counts := &Counts{}
	prop := models.NewProperty(models.SourcePortalD, "111")
	c.Merge(prop, counts)
	if counts.New != 1 {
		t.Errorf("expected New=1 on empty cache, got %+v", counts)
	}
}

func TestLoadFindsNewestCanonicalExport(t *testing.T) {
	dir := t.TempDir()
	writeSampleExport(t, dir, "UNSW_rentdata_"+time.Now().Format("060102")+".csv", time.Now())
	// A list-segment checkpoint with a similar name must be ignored.
	os.WriteFile(filepath.Join(dir, "UNSW_list_merged_portal-d_260101_1200.csv"), []byte("garbage"), 0644)

	c, err := Load(dir, models.UniversityUNSW)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.empty {
		t.Fatal("expected a populated cache")
	}

	prop := models.NewProperty(models.SourcePortalD, "111")
	counts := &Counts{}
	c.Merge(prop, counts)
	if prop.DescriptionEN == "" {
		t.Error("expected description to be reused from cache")
	}
	if counts.DescriptionReused != 1 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestLoadStaleExportIsEmpty(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-10 * 24 * time.Hour)
	name := "UNSW_rentdata_" + old.Format("060102") + ".csv"
	writeSampleExport(t, dir, name, old)

	c, err := Load(dir, models.UniversityUNSW)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !c.empty {
		t.Error("expected stale export to be treated as absent")
	}
}

func TestMergeDoesNotOverwriteExistingValues(t *testing.T) {
	dir := t.TempDir()
	writeSampleExport(t, dir, "UNSW_rentdata_"+time.Now().Format("060102")+".csv", time.Now())
	c, _ := Load(dir, models.UniversityUNSW)

	prop := models.NewProperty(models.SourcePortalD, "111")
	prop.DescriptionEN = "fresh description from this run"
	counts := &Counts{}
	c.Merge(prop, counts)

	if prop.DescriptionEN != "fresh description from this run" {
		t.Error("Merge must not overwrite a non-empty current value")
	}
}
