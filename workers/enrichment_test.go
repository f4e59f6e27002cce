package workers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchViaScrapingBeeReturnsBodyOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>listing detail</body></html>"))
	}))
	defer srv.Close()

	worker := NewEnrichmentWorker(nil, "test-key")
	worker.baseURL = srv.URL

	html, err := worker.fetchViaScrapingBee(context.Background(), "https://portal-d.example.com/listing/1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if html != "<html><body>listing detail</body></html>" {
		t.Errorf("unexpected body: %q", html)
	}
}

func TestFetchViaScrapingBeeReturnsErrorOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("quota exceeded"))
	}))
	defer srv.Close()

	worker := NewEnrichmentWorker(nil, "test-key")
	worker.baseURL = srv.URL

	if _, err := worker.fetchViaScrapingBee(context.Background(), "https://portal-d.example.com/listing/1"); err == nil {
		t.Error("expected error for non-200 response")
	}
}

func TestFetchViaScrapingBeeDetectsBlockedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Request unsuccessful. Incapsula incident ID: 123"))
	}))
	defer srv.Close()

	worker := NewEnrichmentWorker(nil, "test-key")
	worker.baseURL = srv.URL

	if _, err := worker.fetchViaScrapingBee(context.Background(), "https://portal-d.example.com/listing/1"); err == nil {
		t.Error("expected blocked error")
	}
}

func TestProcessBatchNoopsWithoutAPIKey(t *testing.T) {
	worker := NewEnrichmentWorker(nil, "")
	// Must not panic or attempt a nil-store query when no key is set.
	worker.processBatch(context.Background())
}
