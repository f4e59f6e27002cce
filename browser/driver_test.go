package browser

import (
	"strings"
	"testing"
	"time"
)

func TestIsBlockedContentThreshold(t *testing.T) {
	small := strings.Repeat("a", blockedSizeThreshold-1)
	large := strings.Repeat("a", blockedSizeThreshold+1)

	if !isBlockedContent(small) {
		t.Error("content under threshold should be blocked")
	}
	if isBlockedContent(large) {
		t.Error("content over threshold should not be blocked")
	}
}

func TestJitterDelayWithinBounds(t *testing.T) {
	base := 3 * time.Second
	min := 2 * time.Second
	max := 5 * time.Second

	for i := 0; i < 50; i++ {
		d := JitterDelay(base, min, max)
		if d < base+min || d >= base+max {
			t.Fatalf("delay %v outside [%v, %v)", d, base+min, base+max)
		}
	}
}

func TestJitterDelayZeroSpan(t *testing.T) {
	d := JitterDelay(time.Second, 2*time.Second, 2*time.Second)
	if d != 3*time.Second {
		t.Fatalf("got %v want %v", d, 3*time.Second)
	}
}
