// Package browser drives a persistent-profile Chromium instance used by
// the site adapters (C2) to fetch listing and detail pages under
// anti-bot pressure. It distinguishes a blocked response from a real page
// by HTML size rather than by status code, since both portals return 200
// for their bootstrap/challenge pages.
package browser

import (
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"rentpipeline/errs"
)

// blockedSizeThreshold is the HTML-size cutoff below which a response is
// treated as an anti-bot bootstrap page rather than real listing markup.
const blockedSizeThreshold = 10 * 1024

const consecutiveBlockLimit = 3

// EgressRotator rotates the outbound network path (VPN region, proxy,
// etc.) so a driver can shed an IP-based block instead of abandoning the
// area outright. Wired optionally from vpn.ExpressVPN.
type EgressRotator interface {
	IsConnected() bool
	Rotate() error
}

// Driver wraps a single persistent Chromium context and the one page
// currently in use. It is not safe for concurrent use by multiple
// goroutines driving the same page; callers run one Driver per worker.
type Driver struct {
	headless bool
	rotator  EgressRotator

	mu          sync.Mutex
	pw          *playwright.Playwright
	context     playwright.BrowserContext
	page        playwright.Page
	profilePath string

	consecutiveBlocks int
}

// New creates a driver. rotator may be nil, in which case the
// three-strikes abandon rule has no egress-rotation escape hatch.
func New(headless bool, rotator EgressRotator) *Driver {
	return &Driver{headless: headless, rotator: rotator}
}

// Open launches (or relaunches) the browser against profilePath, a
// directory holding cookies/localStorage so a session survives restarts.
func (d *Driver) Open(profilePath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.context != nil {
		return nil
	}

	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}

	ctx, err := pw.Chromium.LaunchPersistentContext(profilePath, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(d.headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		pw.Stop()
		return fmt.Errorf("launch persistent context: %w", err)
	}

	page, err := ctx.NewPage()
	if err != nil {
		ctx.Close()
		pw.Stop()
		return fmt.Errorf("new page: %w", err)
	}

	d.pw = pw
	d.context = ctx
	d.page = page
	d.profilePath = profilePath
	d.consecutiveBlocks = 0
	return nil
}

// ResetProfile tears down the browser, deletes and re-creates the
// profile directory, and reopens against the fresh path, shedding any
// cookies/localStorage/fingerprint accumulation on disk. Used after a
// detail-fetch budget is exhausted, between search areas, or when an
// anti-bot block persists.
func (d *Driver) ResetProfile() error {
	d.mu.Lock()
	profilePath := d.profilePath
	d.mu.Unlock()

	d.Close()

	if profilePath != "" {
		if err := os.RemoveAll(profilePath); err != nil {
			return fmt.Errorf("remove profile dir: %w", err)
		}
	}
	return d.Open(profilePath)
}

// Goto navigates to url, waiting only for DOMContentLoaded (the
// donor site's anti-bot layer never finishes firing its background
// requests, so a full "load" wait would spin past any useful timeout).
// It returns false with a nil error for an anti-bot block that survives
// the retry described in §4.1, and false with a TransientNetwork error
// when navigation (including a navigation timeout) or reading the page
// fails. A true consecutive third block rotates egress, if configured,
// before the final abandon, which returns an AntiBotBlock error.
func (d *Driver) Goto(url string, settleMS int) (bool, error) {
	d.mu.Lock()
	page := d.page
	d.mu.Unlock()
	if page == nil {
		return false, fmt.Errorf("driver not open")
	}

	ok, err := d.gotoOnce(page, url, settleMS)
	if err != nil {
		return false, err
	}
	if ok {
		d.consecutiveBlocks = 0
		return true, nil
	}

	// First strike: wait it out, scroll, retry once.
	time.Sleep(20 * time.Second)
	d.Scroll(300)
	ok, err = d.gotoOnce(page, url, settleMS)
	if err != nil {
		return false, err
	}
	if ok {
		d.consecutiveBlocks = 0
		return true, nil
	}

	d.consecutiveBlocks++
	if d.consecutiveBlocks < consecutiveBlockLimit {
		return false, nil
	}

	if d.rotator != nil {
		if rotErr := d.rotator.Rotate(); rotErr == nil {
			if ok, err := d.gotoOnce(page, url, settleMS); err == nil && ok {
				d.consecutiveBlocks = 0
				return true, nil
			}
		}
	}

	return false, errs.AntiBotBlock(fmt.Sprintf("abandoning area after %d consecutive blocks at %s", d.consecutiveBlocks, url))
}

func (d *Driver) gotoOnce(page playwright.Page, url string, settleMS int) (bool, error) {
	_, err := page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(60000),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return false, errs.TransientNetwork("navigation failed: "+url, err)
	}

	page.WaitForTimeout(float64(settleMS))

	content, err := page.Content()
	if err != nil {
		return false, errs.TransientNetwork("read content failed: "+url, err)
	}
	return !isBlockedContent(content), nil
}

// isBlockedContent reports whether HTML is small enough to be an
// anti-bot bootstrap/challenge page rather than a real listing page.
func isBlockedContent(html string) bool {
	return len(html) < blockedSizeThreshold
}

// Scroll scrolls the active page down by px pixels, simulating a reader
// paging through listing results.
func (d *Driver) Scroll(px int) {
	d.mu.Lock()
	page := d.page
	d.mu.Unlock()
	if page == nil {
		return
	}
	page.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", px))
}

// Wait pauses the driver for ms milliseconds. Callers use this between
// pagination requests to keep the request cadence human-like (§4.2's
// fixed-base-plus-jitter delay).
func (d *Driver) Wait(ms int) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// JitterDelay returns a delay of base plus a uniform random jitter in
// [jitterMin, jitterMax), mirroring §4.2's pagination pacing rule.
func JitterDelay(base, jitterMin, jitterMax time.Duration) time.Duration {
	span := int64(jitterMax - jitterMin)
	if span <= 0 {
		return base + jitterMin
	}
	return base + jitterMin + time.Duration(rand.Int63n(span))
}

// PageSource returns the current page's HTML.
func (d *Driver) PageSource() (string, error) {
	d.mu.Lock()
	page := d.page
	d.mu.Unlock()
	if page == nil {
		return "", fmt.Errorf("driver not open")
	}
	return page.Content()
}

// Close tears down the browser. Idempotent: safe to call on an
// already-closed or never-opened driver.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.page != nil {
		d.page.Close()
		d.page = nil
	}
	if d.context != nil {
		d.context.Close()
		d.context = nil
	}
	if d.pw != nil {
		d.pw.Stop()
		d.pw = nil
	}
}
