package workers

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rentpipeline/models"
	"rentpipeline/siteadapter"
	"rentpipeline/storage"
)

// EnrichmentWorker retries the detail fetch for properties whose
// description never came through during their sweep (a blocked page,
// a transient network failure that exhausted its retries), using
// ScrapingBee's rendering proxy as the fallback path since the browser
// driver already had its shot (§FULL-ENRICH).
const scrapingBeeBaseURL = "https://app.scrapingbee.com/api/v1/"

type EnrichmentWorker struct {
	store          *storage.PostgresStore
	scrapingBeeKey string
	baseURL        string // overridable in tests
	httpClient     *http.Client
	triggerCh      chan struct{}
	logFunc        LogFunc
	batchSize      int
}

func (w *EnrichmentWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// NewEnrichmentWorker builds a worker. With an empty scrapingBeeKey, Run
// still ticks but each pass returns without querying any candidates.
func NewEnrichmentWorker(store *storage.PostgresStore, scrapingBeeKey string) *EnrichmentWorker {
	return &EnrichmentWorker{
		store:          store,
		scrapingBeeKey: scrapingBeeKey,
		baseURL:        scrapingBeeBaseURL,
		triggerCh:      make(chan struct{}, 1),
		logFunc:        NoOpLogger,
		batchSize:      10,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Trigger requests an out-of-cycle retry pass.
func (w *EnrichmentWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run polls for retry candidates every interval, and also whenever
// Trigger is called, until ctx is done.
func (w *EnrichmentWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.processBatch(ctx)
		case <-w.triggerCh:
			w.processBatch(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *EnrichmentWorker) processBatch(ctx context.Context) {
	if w.scrapingBeeKey == "" {
		return
	}

	candidates, err := w.store.PropertiesMissingDescription(ctx, w.batchSize)
	if err != nil {
		log.Printf("enrichment worker: error listing candidates: %v", err)
		return
	}

	for _, c := range candidates {
		if err := w.retryOne(ctx, c); err != nil {
			log.Printf("enrichment worker: retry failed for property %d: %v", c.PropertyID, err)
			w.logFunc(models.LogLevelWarn, string(c.Source), fmt.Sprintf("detail retry failed for property %d: %v", c.PropertyID, err))
		}
	}
}

func (w *EnrichmentWorker) retryOne(ctx context.Context, c storage.DetailRetryCandidate) error {
	adapter, err := siteadapter.New(c.Source)
	if err != nil {
		return fmt.Errorf("adapter: %w", err)
	}

	html, err := w.fetchViaScrapingBee(ctx, c.URL)
	if err != nil {
		return fmt.Errorf("scrapingbee: %w", err)
	}

	prop := &models.Property{Source: c.Source}
	if _, err := adapter.ParseDetail(html, prop); err != nil {
		return fmt.Errorf("parse detail: %w", err)
	}
	if prop.DescriptionEN == "" {
		return fmt.Errorf("parsed page still has no description")
	}

	return w.store.UpdateDescription(ctx, c.PropertyID, prop.DescriptionEN, prop.DescriptionCN, prop.Keywords)
}

// fetchViaScrapingBee renders listingURL through ScrapingBee's JS
// rendering proxy (render_js=true), the one case in the pipeline where
// a plain browser retry has already failed and a paid rendering
// service is worth the cost.
func (w *EnrichmentWorker) fetchViaScrapingBee(ctx context.Context, listingURL string) (string, error) {
	params := url.Values{}
	params.Set("api_key", w.scrapingBeeKey)
	params.Set("url", listingURL)
	params.Set("render_js", "true")

	apiURL := w.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		limit := len(body)
		if limit > 500 {
			limit = 500
		}
		return "", fmt.Errorf("scrapingbee returned %d: %s", resp.StatusCode, string(body[:limit]))
	}

	html := string(body)
	if strings.Contains(html, "Request unsuccessful") && !strings.Contains(html, "<html") {
		return "", fmt.Errorf("blocked")
	}
	return html, nil
}
