package models

import (
	"testing"
	"time"
)

func sampleProperty() *Property {
	avail := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	published := time.Date(2026, 7, 20, 9, 30, 0, 0, time.UTC)
	score := 14.5
	unsw := 28
	uts := 31

	return &Property{
		Source:        SourcePortalD,
		HouseID:       "2018543",
		PricePerWeek:  750,
		AddressLine1:  "3/12 High St",
		AddressLine2:  "kensington-nsw-2033",
		BedroomCount:  2,
		BathroomCount: 1,
		ParkingCount:  1,
		PropType:      PropertyTypeApartment,
		DescriptionEN: "Sunny 2-bed apartment close to campus",
		DescriptionCN: "阳光公寓",
		Keywords:      "sunny,quiet,renovated",
		URL:           "https://example.com/listing/2018543",
		ThumbnailURL:  "https://i2.au.reastatic.net/800x600/abc/image.jpg",
		AvailableDate: &avail,
		PublishedAt:   published,
		AverageScore:  &score,
		CommuteTimes: map[University]*int{
			UniversityUNSW: &unsw,
			UniversityUTS:  &uts,
		},
	}
}

func TestToRowFromRowRoundTrip(t *testing.T) {
	original := sampleProperty()
	header := CSVHeader()
	row := original.ToRow()

	got, err := FromRow(header, row)
	if err != nil {
		t.Fatalf("FromRow: %v", err)
	}

	if got.Source != original.Source || got.HouseID != original.HouseID {
		t.Fatalf("identity mismatch: got %+v want %+v", got, original)
	}
	if got.PricePerWeek != original.PricePerWeek {
		t.Errorf("PricePerWeek: got %d want %d", got.PricePerWeek, original.PricePerWeek)
	}
	if got.AddressLine1 != original.AddressLine1 || got.AddressLine2 != original.AddressLine2 {
		t.Errorf("address mismatch: got %+v", got)
	}
	if got.BedroomCount != original.BedroomCount || got.BathroomCount != original.BathroomCount || got.ParkingCount != original.ParkingCount {
		t.Errorf("feature counts mismatch: got %+v", got)
	}
	if got.PropType != original.PropType {
		t.Errorf("PropType: got %d want %d", got.PropType, original.PropType)
	}
	if got.DescriptionEN != original.DescriptionEN || got.DescriptionCN != original.DescriptionCN || got.Keywords != original.Keywords {
		t.Errorf("text fields mismatch: got %+v", got)
	}
	if got.URL != original.URL || got.ThumbnailURL != original.ThumbnailURL {
		t.Errorf("url fields mismatch: got %+v", got)
	}
	if got.AvailableDate == nil || !got.AvailableDate.Equal(*original.AvailableDate) {
		t.Errorf("AvailableDate mismatch: got %v want %v", got.AvailableDate, original.AvailableDate)
	}
	if !got.PublishedAt.Equal(original.PublishedAt) {
		t.Errorf("PublishedAt mismatch: got %v want %v", got.PublishedAt, original.PublishedAt)
	}
	if got.AverageScore == nil || *got.AverageScore != *original.AverageScore {
		t.Errorf("AverageScore mismatch: got %v want %v", got.AverageScore, original.AverageScore)
	}
	for _, uni := range AllUniversities {
		origVal := original.CommuteTimes[uni]
		gotVal := got.CommuteTimes[uni]
		if (origVal == nil) != (gotVal == nil) {
			t.Fatalf("commute[%s] nil mismatch: got %v want %v", uni, gotVal, origVal)
		}
		if origVal != nil && *origVal != *gotVal {
			t.Errorf("commute[%s] mismatch: got %d want %d", uni, *gotVal, *origVal)
		}
	}
}

func TestFromRowMissingColumnsDefault(t *testing.T) {
	header := []string{"houseId", "pricePerWeek"}
	row := []string{"123", "500"}

	got, err := FromRow(header, row)
	if err != nil {
		t.Fatalf("FromRow: %v", err)
	}
	if got.HouseID != "123" || got.PricePerWeek != 500 {
		t.Fatalf("unexpected parse: %+v", got)
	}
	if got.BedroomCount != 0 || got.AverageScore != nil {
		t.Fatalf("expected zero-value defaults, got %+v", got)
	}
}

func TestFromRowUnknownColumnsIgnored(t *testing.T) {
	header := append(CSVHeader(), "extra_unsupported_column")
	row := append(sampleProperty().ToRow(), "ignored-value")

	if _, err := FromRow(header, row); err != nil {
		t.Fatalf("FromRow with extra column: %v", err)
	}
}

func TestRecomputeAverageScoreMatchesInvariant4(t *testing.T) {
	p := NewProperty(SourcePortalR, "999")
	p.Scores = [NumScores]float64{14, 15, 13, 14, 14, 15, 13, 14}
	p.RecomputeAverageScore()

	if p.AverageScore == nil {
		t.Fatal("expected AverageScore to be set")
	}
	if *p.AverageScore < 0 || *p.AverageScore > 20 {
		t.Fatalf("average_score out of bounds: %v", *p.AverageScore)
	}
	want := 14.0
	if *p.AverageScore != want {
		t.Fatalf("got %v want %v", *p.AverageScore, want)
	}
}

func TestIsDropCandidate(t *testing.T) {
	p := NewProperty(SourcePortalD, "")
	p.PricePerWeek = 500
	if !p.IsDropCandidate() {
		t.Error("missing house id should be a drop candidate")
	}

	p2 := NewProperty(SourcePortalD, "1")
	p2.PricePerWeek = 0
	if !p2.IsDropCandidate() {
		t.Error("zero price should be a drop candidate")
	}

	p3 := NewProperty(SourcePortalD, "1")
	p3.PricePerWeek = 100
	if p3.IsDropCandidate() {
		t.Error("valid property should not be a drop candidate")
	}
}
