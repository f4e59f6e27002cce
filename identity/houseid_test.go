package identity

import "testing"

func TestFallbackHouseIDDeterministic(t *testing.T) {
	a := FallbackHouseID("3/12 High St", "2033")
	b := FallbackHouseID("3/12 High St", "2033")
	if a != b {
		t.Fatalf("expected deterministic output, got %q and %q", a, b)
	}
	if len(a) == 0 {
		t.Fatal("expected non-empty id")
	}
}

func TestFallbackHouseIDNormalisesAddress(t *testing.T) {
	a := FallbackHouseID("3/12 High St.", "2033")
	b := FallbackHouseID("3/12  high st", "2033")
	if a != b {
		t.Fatalf("expected punctuation/case/whitespace-insensitive hash, got %q vs %q", a, b)
	}
}

func TestFallbackHouseIDDiffersOnPostcode(t *testing.T) {
	a := FallbackHouseID("3/12 High St", "2033")
	b := FallbackHouseID("3/12 High St", "2034")
	if a == b {
		t.Fatal("expected different postcode to change the hash")
	}
}
