// Package siteadapter implements the site adapter contract (C2): turning
// an area slug into a search URL, paginating listing pages, and parsing
// listing/detail HTML into models.Property values. One file per portal,
// sharing the regex/whitelist helpers in this file.
package siteadapter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"rentpipeline/models"
)

// Adapter is the per-portal contract driven by the pipeline orchestrator
// (C8). Implementations never touch the network themselves; the browser
// driver (C1) fetches pages and hands the adapter raw HTML.
type Adapter interface {
	Source() models.Source
	SearchURL(area string) string
	Paginate(currentURL string, pageN int) string
	ParseList(html string) ([]*models.Property, error)
	ParseDetail(html string, prop *models.Property) (*models.Property, error)
	HasNext(html string) bool
	DetailURL(prop *models.Property) string
}

// maxPages is the default pagination cap for an area crawl (§4.2,
// configurable via config.ScraperConfig but defaulted here for adapters
// exercised outside the orchestrator, e.g. in tests).
const maxPages = 7

// priceRegex matches "$1,234 per week", "$1234pw", "$1,234/week" etc,
// whitespace/comma tolerant, case-insensitive; first match wins on a page
// with multiple dollar figures (§4.2).
var priceRegex = regexp.MustCompile(`(?i)\$\s*([\d,]+)\s*(?:per\s*week|pw|/\s*week)`)

// thumbnailExcludeRegex filters out chrome images (logos, avatars, agent
// headshots) from a candidate thumbnail URL list (§4.2).
var thumbnailExcludeRegex = regexp.MustCompile(`(?i)(logo|avatar|agent|agency|brand|profile|icon)`)

// thumbnailSchemeRegex enforces Invariant 5's single http(s):// prefix.
var thumbnailSchemeRegex = regexp.MustCompile(`(?i)^https?://[^\s]+$`)

// portalRImageRegex matches Portal R's genuine listing-image CDN path
// (size/hash/image.jpg), excluding its logo/avatar/branding assets.
var portalRImageRegex = regexp.MustCompile(`(?i)i2\.au\.reastatic\.net/\d+x\d+.*?/[a-f0-9]+/image\.jpg`)

// thumbnailWhitelist holds each source's genuine-listing-image pattern
// (Invariant 5, §4.2): a thumbnail_url must match its source's pattern to
// be stored at all, on top of the shared chrome-image exclusion list.
var thumbnailWhitelist = map[models.Source]*regexp.Regexp{
	models.SourcePortalR: portalRImageRegex,
	models.SourcePortalD: regexp.MustCompile(`(?i)domainstatic\.com\.au`),
}

// ParsePriceToken extracts the weekly rent in dollars from free text,
// returning 0 if no match is found.
func ParsePriceToken(s string) int {
	m := priceRegex.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	digits := strings.ReplaceAll(m[1], ",", "")
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

// SelectThumbnail returns the first candidate URL that matches source's
// genuine-listing-image whitelist, carries a single http(s):// prefix,
// and doesn't match the shared chrome-image exclusion list (Invariant 5,
// §4.2). Returns "" if no candidate passes all three checks.
func SelectThumbnail(source models.Source, candidates []string) string {
	whitelist := thumbnailWhitelist[source]
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if !thumbnailSchemeRegex.MatchString(c) {
			continue
		}
		if whitelist != nil && !whitelist.MatchString(c) {
			continue
		}
		if thumbnailExcludeRegex.MatchString(c) {
			continue
		}
		return c
	}
	return ""
}

// ParseFeatureTriple parses an ordered [bed, bath, parking] numeric
// triple extracted by a portal's feature selector, tolerating missing
// trailing values.
func ParseFeatureTriple(values []string) (beds, baths, parking int) {
	get := func(i int) int {
		if i >= len(values) {
			return 0
		}
		n, _ := strconv.Atoi(strings.TrimSpace(values[i]))
		return n
	}
	return get(0), get(1), get(2)
}

// New returns the concrete adapter for source, or an error for an
// unrecognised source (a config error at startup, not a per-item one).
func New(source models.Source) (Adapter, error) {
	switch source {
	case models.SourcePortalD:
		return NewPortalD(), nil
	case models.SourcePortalR:
		return NewPortalR(), nil
	default:
		return nil, fmt.Errorf("unknown source adapter: %s", source)
	}
}
