package workers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"path"
	"time"

	"rentpipeline/models"
	"rentpipeline/storage"
)

// S3Uploader uploads bytes to S3-compatible object storage.
type S3Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
	PublicURL(key string, cfg storage.S3Config) string
}

// MediaWorker mirrors each property's source-hosted thumbnail into
// object storage, recording the mirrored URL as a display_order=1
// property_images row (§FULL-MEDIA). Mirroring is best-effort: a
// failure is logged and the candidate is retried on the next tick, it
// never blocks or fails a sweep.
type MediaWorker struct {
	store      *storage.PostgresStore
	httpClient *http.Client
	uploader   S3Uploader
	cfg        storage.S3Config
	proxyURL   string
	triggerCh  chan struct{}
	logFunc    LogFunc
	batchSize  int
}

func (w *MediaWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// NewMediaWorker builds a worker that mirrors thumbnails via uploader
// into cfg's bucket. proxyURL, if set, routes downloads through it (the
// source portals rate-limit by IP the same way the list/detail fetches
// do).
func NewMediaWorker(store *storage.PostgresStore, uploader S3Uploader, cfg storage.S3Config, proxyURL string) *MediaWorker {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		if proxyParsed, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyParsed)
			log.Printf("media worker: using proxy %s", proxyParsed.Host)
		}
	}

	return &MediaWorker{
		store:      store,
		httpClient: &http.Client{Timeout: 60 * time.Second, Transport: transport},
		uploader:   uploader,
		cfg:        cfg,
		proxyURL:   proxyURL,
		triggerCh:  make(chan struct{}, 1),
		logFunc:    NoOpLogger,
		batchSize:  25,
	}
}

// Trigger requests an out-of-cycle mirror pass.
func (w *MediaWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run polls for unmirrored thumbnails every interval, and also whenever
// Trigger is called, until ctx is done.
func (w *MediaWorker) Run(ctx context.Context, interval time.Duration) {
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

func (w *MediaWorker) processBatch(ctx context.Context) {
	candidates, err := w.store.PropertiesNeedingMediaMirror(ctx, w.batchSize)
	if err != nil {
		log.Printf("media worker: error listing candidates: %v", err)
		return
	}
	for _, c := range candidates {
		if err := w.mirrorOne(ctx, c.PropertyID, c.ThumbnailURL); err != nil {
			log.Printf("media worker: mirror failed for property %d: %v", c.PropertyID, err)
			w.logFunc(models.LogLevelWarn, "", fmt.Sprintf("thumbnail mirror failed for property %d: %v", c.PropertyID, err))
		}
	}
}

// mirrorOne downloads a property's source-hosted thumbnail, uploads it
// content-addressed by its sha256, and replaces the property's image
// set with [source URL, mirrored URL] so display_order 0/1 match
// §FULL-MEDIA.
func (w *MediaWorker) mirrorOne(ctx context.Context, propertyID int64, thumbnailURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, thumbnailURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	key := mediaObjectKey(thumbnailURL, data)

	if err := w.uploader.Upload(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	mirroredURL := w.uploader.PublicURL(key, w.cfg)
	if err := w.store.ReplacePropertyImages(ctx, propertyID, []string{thumbnailURL, mirroredURL}); err != nil {
		return fmt.Errorf("replace property_images: %w", err)
	}
	return nil
}

// mediaObjectKey content-addresses a thumbnail by its sha256, sharded
// into a two-character prefix directory, preserving the source's file
// extension.
func mediaObjectKey(thumbnailURL string, data []byte) string {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	ext := path.Ext(thumbnailURL)
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("thumbnails/%s/%s%s", hash[:2], hash, ext)
}
