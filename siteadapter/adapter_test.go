package siteadapter

import (
	"testing"

	"rentpipeline/models"
)

func TestParsePriceToken(t *testing.T) {
	cases := map[string]int{
		"$750 per week":  750,
		"$1,200pw":       1200,
		"$450 / week":    450,
		"Contact agent":  0,
		"$2,000/week ":   2000,
	}
	for in, want := range cases {
		if got := ParsePriceToken(in); got != want {
			t.Errorf("ParsePriceToken(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestSelectThumbnailExcludesChrome(t *testing.T) {
	candidates := []string{
		"https://cdn.domainstatic.com.au/agent-headshot.jpg",
		"https://cdn.domainstatic.com.au/logo-portal.png",
		"https://cdn.domainstatic.com.au/listing-photo-1.jpg",
	}
	got := SelectThumbnail(models.SourcePortalD, candidates)
	if got != "https://cdn.domainstatic.com.au/listing-photo-1.jpg" {
		t.Errorf("got %q", got)
	}
}

func TestSelectThumbnailAllExcluded(t *testing.T) {
	candidates := []string{"https://cdn.domainstatic.com.au/agency-logo.png"}
	if got := SelectThumbnail(models.SourcePortalD, candidates); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestSelectThumbnailRejectsNonWhitelistedDomain(t *testing.T) {
	candidates := []string{"https://cdn.example.com/listing-photo-1.jpg"}
	if got := SelectThumbnail(models.SourcePortalD, candidates); got != "" {
		t.Errorf("got %q, want empty (not on domainstatic.com.au)", got)
	}
}

func TestSelectThumbnailPortalRWhitelistPattern(t *testing.T) {
	candidates := []string{
		"https://i2.au.reastatic.net/800x600/top/abc123def456/image.jpg",
	}
	got := SelectThumbnail(models.SourcePortalR, candidates)
	if got != candidates[0] {
		t.Errorf("got %q", got)
	}
}

func TestParseFeatureTripleMissingTrailing(t *testing.T) {
	beds, baths, parking := ParseFeatureTriple([]string{"3", "2"})
	if beds != 3 || baths != 2 || parking != 0 {
		t.Errorf("got (%d,%d,%d)", beds, baths, parking)
	}
}

func TestNewUnknownSource(t *testing.T) {
	if _, err := New("unknown-portal"); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestPortalDListParsing(t *testing.T) {
	html := `<html><body>
	<div data-testid="listing-12345">
		<a href="/property/12345-1-test-st">link</a>
		<span data-testid="listing-address">1 Test St, Kensington 2033</span>
		<span data-testid="listing-price">$650 per week</span>
		<span data-testid="property-features-feature">2</span>
		<span data-testid="property-features-feature">1</span>
		<span data-testid="property-features-feature">1</span>
		<img src="https://cdn.example.com/listing-1.jpg">
	</div>
	</body></html>`

	a := NewPortalD()
	props, err := a.ParseList(html)
	if err != nil {
		t.Fatalf("ParseList: %v", err)
	}
	if len(props) != 1 {
		t.Fatalf("got %d properties, want 1", len(props))
	}
	p := props[0]
	if p.HouseID != "12345" {
		t.Errorf("HouseID = %q", p.HouseID)
	}
	if p.PricePerWeek != 650 {
		t.Errorf("PricePerWeek = %d", p.PricePerWeek)
	}
	if p.BedroomCount != 2 || p.BathroomCount != 1 || p.ParkingCount != 1 {
		t.Errorf("features = (%d,%d,%d)", p.BedroomCount, p.BathroomCount, p.ParkingCount)
	}
}

func TestPortalRListParsing(t *testing.T) {
	html := `<html><body>
	<div class="listing-card" data-listing-id="98765">
		<a class="listing-card__link" href="/property/98765">link</a>
		<span class="listing-card__address">2 Sample Rd, Newtown 2042</span>
		<span class="listing-card__price">$900 pw</span>
		<span class="listing-card__feature-value">3</span>
		<span class="listing-card__feature-value">2</span>
		<span class="listing-card__feature-value">1</span>
		<img src="https://cdn.example.com/photo-main.jpg">
	</div>
	</body></html>`

	a := NewPortalR()
	props, err := a.ParseList(html)
	if err != nil {
		t.Fatalf("ParseList: %v", err)
	}
	if len(props) != 1 {
		t.Fatalf("got %d properties, want 1", len(props))
	}
	p := props[0]
	if p.HouseID != "98765" {
		t.Errorf("HouseID = %q", p.HouseID)
	}
	if p.PricePerWeek != 900 {
		t.Errorf("PricePerWeek = %d", p.PricePerWeek)
	}
}
