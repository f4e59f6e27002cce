// Package commute implements the commute-time service (C6): transit
// directions first, a driving-time estimate fallback, across a bounded
// worker pool per university.
package commute

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"rentpipeline/config"
	"rentpipeline/models"
)

// Service calls a Maps-style directions/distance-matrix API to estimate
// commute minutes from a property to a university.
type Service struct {
	cfg    config.CommuteConfig
	client *http.Client
}

func New(cfg config.CommuteConfig) *Service {
	return &Service{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled() }

// originAddress builds the origin string for a property: address lines
// joined, hyphens replaced with spaces, ", Australia" appended (§4.6).
func originAddress(p *models.Property) string {
	var parts []string
	if p.AddressLine1 != "" {
		parts = append(parts, strings.ReplaceAll(p.AddressLine1, "-", " "))
	}
	if p.AddressLine2 != "" {
		parts = append(parts, strings.ReplaceAll(p.AddressLine2, "-", " "))
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ", ") + ", Australia"
}

// tomorrowDeparture returns the next calendar day at 08:30 local time,
// the fixed departure time used for every transit/driving lookup (§4.6).
func tomorrowDeparture(now time.Time) time.Time {
	d := now.AddDate(0, 0, 1)
	return time.Date(d.Year(), d.Month(), d.Day(), 8, 30, 0, 0, now.Location())
}

type directionsResponse struct {
	Routes []struct {
		Legs []struct {
			Duration struct {
				Seconds int `json:"seconds"`
			} `json:"duration"`
		} `json:"legs"`
	} `json:"routes"`
}

type distanceMatrixResponse struct {
	Rows []struct {
		Elements []struct {
			Status   string `json:"status"`
			Duration struct {
				Seconds int `json:"seconds"`
			} `json:"duration"`
		} `json:"elements"`
	} `json:"rows"`
}

func (s *Service) transitMinutes(ctx context.Context, origin, destination string) (int, bool) {
	endpoint := fmt.Sprintf("%s/directions/json?origin=%s&destination=%s&mode=transit&departure_time=%d&key=%s",
		s.cfg.Endpoint, url.QueryEscape(origin), url.QueryEscape(destination),
		tomorrowDeparture(time.Now()).Unix(), s.cfg.APIKey)

	var parsed directionsResponse
	if err := s.getJSON(ctx, endpoint, &parsed); err != nil {
		return 0, false
	}
	if len(parsed.Routes) == 0 || len(parsed.Routes[0].Legs) == 0 {
		return 0, false
	}
	seconds := parsed.Routes[0].Legs[0].Duration.Seconds
	if seconds <= 0 {
		return 0, false
	}
	return roundMinutes(seconds), true
}

func (s *Service) drivingMinutes(ctx context.Context, origin, destination string) (int, bool) {
	endpoint := fmt.Sprintf("%s/distancematrix/json?origins=%s&destinations=%s&mode=driving&departure_time=%d&key=%s",
		s.cfg.Endpoint, url.QueryEscape(origin), url.QueryEscape(destination),
		tomorrowDeparture(time.Now()).Unix(), s.cfg.APIKey)

	var parsed distanceMatrixResponse
	if err := s.getJSON(ctx, endpoint, &parsed); err != nil {
		return 0, false
	}
	if len(parsed.Rows) == 0 || len(parsed.Rows[0].Elements) == 0 {
		return 0, false
	}
	el := parsed.Rows[0].Elements[0]
	if el.Status != "OK" || el.Duration.Seconds <= 0 {
		return 0, false
	}
	return roundMinutes(el.Duration.Seconds), true
}

func (s *Service) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("commute endpoint status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func roundMinutes(seconds int) int {
	return (seconds + 30) / 60
}

// CalculateCommuteTime returns the commute minutes from p to university,
// transit-first with a driving-time*1.5 fallback; nil on double failure
// (§4.6).
func (s *Service) CalculateCommuteTime(ctx context.Context, p *models.Property, university models.University) *int {
	destination, ok := config.SchoolCoordinates[university]
	if !ok {
		return nil
	}
	origin := originAddress(p)
	if origin == "" {
		return nil
	}

	if minutes, ok := s.transitMinutes(ctx, origin, destination); ok {
		return &minutes
	}
	if driving, ok := s.drivingMinutes(ctx, origin, destination); ok {
		estimated := int(float64(driving) * 1.5)
		return &estimated
	}
	return nil
}

// ProcessProperties computes commute times to university for each
// property in properties, using a bounded worker pool and a fixed
// request delay between calls (rate limiting), skipping properties that
// already have a value when skipExisting is set.
func (s *Service) ProcessProperties(ctx context.Context, properties []*models.Property, university models.University, skipExisting bool) {
	if !s.Enabled() {
		return
	}

	var toProcess []*models.Property
	for _, p := range properties {
		if skipExisting {
			if existing, ok := p.CommuteTimes[university]; ok && existing != nil {
				continue
			}
		}
		toProcess = append(toProcess, p)
	}
	if len(toProcess) == 0 {
		return
	}

	workers := s.cfg.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, p := range toProcess {
		p := p
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			minutes := s.CalculateCommuteTime(ctx, p, university)
			time.Sleep(s.cfg.RequestDelay)
			p.CommuteTimes[university] = minutes
		}()
	}
	wg.Wait()
}

// ProcessAllUniversities runs ProcessProperties for every university in
// models.AllUniversities.
func (s *Service) ProcessAllUniversities(ctx context.Context, properties []*models.Property, skipExisting bool) {
	for _, uni := range models.AllUniversities {
		s.ProcessProperties(ctx, properties, uni, skipExisting)
	}
}
