// Package scoring implements the LLM scoring service (C5): two
// independent calls for four score groups each, keyword extraction in
// English and Chinese, and a bounded worker pool across a batch of
// properties.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"rentpipeline/config"
	"rentpipeline/errs"
	"rentpipeline/models"
)

const systemPromptScore = `You are a professional housing quality assessor. Score each of three dimensions 0-10 (build quality, living experience, in-home amenities) then a total 0-20 = (sum of three)/30*20. Output exactly four independent groups, one per line, in the form:
quality:X, experience:Y, amenities:Z, total:W
No other text.`

const systemPromptKeywordsEN = `Extract concise English keywords from the listing description across: security, key appliances, kitchen, furnishing/renovation, storage, bathroom, building amenities, nearby shopping, outdoor space, location. Only dimensions present in the text. At most 11 keywords, comma-separated, no extra text.`

const systemPromptKeywordsCN = `从房屋描述中提取中文关键词，包含房屋位置、特征和可用设施，仅输出逗号分隔的关键词。`

// totalScoreRegex extracts the "total:" figure from a scoring response line.
var totalScoreRegex = regexp.MustCompile(`(?i)(?:总评分|total)\s*[:：]\s*(\d+(?:\.\d+)?)`)

// Service calls a DashScope-compatible chat-completions endpoint to
// score properties and extract keywords.
type Service struct {
	cfg    config.ScoringConfig
	client *http.Client
}

func New(cfg config.ScoringConfig) *Service {
	return &Service{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Enabled reports whether scoring is configured (an API key is present).
func (s *Service) Enabled() bool { return s.cfg.Enabled() }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model string `json:"model"`
	Input struct {
		Messages []chatMessage `json:"messages"`
	} `json:"input"`
	Parameters struct {
		ResultFormat string  `json:"result_format"`
		Temperature  float64 `json:"temperature"`
		MaxTokens    int     `json:"max_tokens"`
		TopP         float64 `json:"top_p"`
	} `json:"parameters"`
}

type chatResponse struct {
	Output struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// callModel issues one chat-completion call with exponential backoff
// (2^n seconds, up to cfg.RetryCount attempts) and returns the raw
// response text.
func (s *Service) callModel(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	reqBody := chatRequest{Model: s.cfg.ModelName}
	reqBody.Input.Messages = []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}
	reqBody.Parameters.ResultFormat = "message"
	reqBody.Parameters.Temperature = s.cfg.Temperature
	reqBody.Parameters.MaxTokens = s.cfg.MaxTokens
	reqBody.Parameters.TopP = 0.9

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", errs.Parse("marshal scoring request", err)
	}

	var lastErr error
	for attempt := 0; attempt < s.cfg.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(attempt)) * time.Second):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
		if err != nil {
			return "", errs.Config("build scoring request: " + err.Error())
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = errs.TransientNetwork("scoring call failed", err)
			continue
		}
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = errs.APIQuota("scoring endpoint rate-limited")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = errs.TransientNetwork(fmt.Sprintf("scoring endpoint status %d", resp.StatusCode), nil)
			continue
		}

		var parsed chatResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			lastErr = errs.Parse("parse scoring response", err)
			continue
		}
		if len(parsed.Output.Choices) == 0 {
			lastErr = errs.Parse("scoring response had no choices", nil)
			continue
		}
		return parsed.Output.Choices[0].Message.Content, nil
	}

	return "", lastErr
}

// parseScoreGroup parses a single call's response text into the total of
// each of its four groups, in line order, accepting the call only if
// exactly four totals are found, each in [0, 20]; otherwise the zero
// group.
func parseScoreGroup(text string) [4]float64 {
	matches := totalScoreRegex.FindAllStringSubmatch(text, -1)
	if len(matches) != 4 {
		return [4]float64{}
	}
	var group [4]float64
	for i, m := range matches {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || v < 0 || v > 20 {
			return [4]float64{}
		}
		group[i] = v
	}
	return group
}

// ScoreDescription runs the two-call scoring protocol against
// description and returns the flattened 8-value scores vector and the
// rounded average (§4.5, Invariant 4). All-zero totals yield the
// sentinel average.
func (s *Service) ScoreDescription(ctx context.Context, description string) ([models.NumScores]float64, float64) {
	var scores [models.NumScores]float64
	if strings.TrimSpace(description) == "" {
		return scores, 0
	}

	userPrompt := fmt.Sprintf(
		"Score the following listing description on the three dimensions, then compute the total.\nDescription: %s\nOutput exactly four groups as instructed, one per line, nothing else.",
		description,
	)

	offset := 0
	for call := 0; call < s.cfg.NumCalls; call++ {
		text, err := s.callModel(ctx, systemPromptScore, userPrompt)
		var group [4]float64
		if err == nil {
			group = parseScoreGroup(text)
		}
		for i := 0; i < 4 && offset+i < models.NumScores; i++ {
			scores[offset+i] = group[i]
		}
		offset += 4
		time.Sleep(time.Second)
	}

	sum := 0.0
	allZero := true
	for _, v := range scores {
		sum += v
		if v != 0 {
			allZero = false
		}
	}
	if allZero {
		return scores, models.SentinelScore
	}
	mean := sum / float64(models.NumScores)
	return scores, roundToOneDecimal(mean)
}

func roundToOneDecimal(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

// ExtractKeywordsEN requests an English keyword string (<=11 terms).
func (s *Service) ExtractKeywordsEN(ctx context.Context, description string) string {
	if strings.TrimSpace(description) == "" {
		return ""
	}
	text, err := s.callModel(ctx, systemPromptKeywordsEN, description)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// ExtractKeywordsCN requests a Chinese keyword string.
func (s *Service) ExtractKeywordsCN(ctx context.Context, description string) string {
	if strings.TrimSpace(description) == "" {
		return ""
	}
	text, err := s.callModel(ctx, systemPromptKeywordsCN, description)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// ProcessProperty scores and extracts keywords for a single property,
// skipping any sub-step whose output is already populated.
func (s *Service) ProcessProperty(ctx context.Context, p *models.Property) {
	if p.DescriptionEN == "" {
		return
	}
	if p.AverageScore == nil || *p.AverageScore == 0 {
		scores, avg := s.ScoreDescription(ctx, p.DescriptionEN)
		p.Scores = scores
		p.AverageScore = &avg
	}
	if p.Keywords == "" {
		p.Keywords = s.ExtractKeywordsEN(ctx, p.DescriptionEN)
	}
	if p.DescriptionCN == "" {
		p.DescriptionCN = s.ExtractKeywordsCN(ctx, p.DescriptionEN)
	}
}

// ProcessBatch runs ProcessProperty over properties using a worker pool
// sized to cfg.MaxWorkers, skipping properties that already have a
// score, English keywords, and a Chinese description when skipExisting
// is set.
func (s *Service) ProcessBatch(ctx context.Context, properties []*models.Property, skipExisting bool) {
	var toProcess []*models.Property
	for _, p := range properties {
		if p.DescriptionEN == "" {
			continue
		}
		hasScore := p.AverageScore != nil && *p.AverageScore > 0
		hasKeywords := strings.TrimSpace(p.Keywords) != ""
		hasCN := strings.TrimSpace(p.DescriptionCN) != ""
		if skipExisting && hasScore && hasKeywords && hasCN {
			continue
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
			s.ProcessProperty(ctx, p)
		}()
	}
	wg.Wait()
}
