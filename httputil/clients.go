package httputil

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"rentpipeline/config"
)

// Clients splits outbound HTTP into two pools: one proxied, used for raw
// fallback requests against the portals themselves (the enrichment
// worker's ScrapingBee-style path), and one direct, used for the scoring
// and commute external APIs. Keeping them separate means a scraping-proxy
// outage never blocks LLM/Maps calls and vice versa.
type Clients struct {
	Scraping *http.Client // proxied, for portal fallback requests
	API      *http.Client // direct, for scoring/commute providers (§5: default 30s timeout)
}

func NewClients(proxyCfg *config.ProxyConfig) *Clients {
	transport := &http.Transport{
		ForceAttemptHTTP2: false,
		TLSNextProto:      make(map[string]func(string, *tls.Conn) http.RoundTripper),
	}
	if proxyCfg != nil && proxyCfg.URL != "" {
		if proxyURL, err := url.Parse(proxyCfg.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	scraping := &http.Client{
		Timeout:   15 * time.Second,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Clients{
		Scraping: scraping,
		API:      &http.Client{Timeout: 30 * time.Second},
	}
}
