package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"manicure/lib/constants"
	"manicure/lib/models"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// maxResponseBytes bounds an analysis response body
const maxResponseBytes = 1 << 20

// PhotoURLSigner turns stored photo references into URLs the analysis service can fetch
type PhotoURLSigner interface {
	GenerateDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// HTTPAnalyzer calls the analysis service over HTTP.
//
//	POST {BaseURL}/analyze     {"request_id", "kind", "photo_urls", "context_text"}
//	POST {BaseURL}/synthesize  {"request_id", "first", "second", "context_text"}
//
// Both endpoints answer with a single result object. Connection errors and 5xx
// responses are retried until the step context expires.
type HTTPAnalyzer struct {
	BaseURL    string
	HTTPClient *http.Client
	Photos     PhotoURLSigner
	Logger     *logrus.Logger
	MaxRetries uint64
}

// NewHTTPAnalyzer creates an analyzer for the service at baseURL
func NewHTTPAnalyzer(baseURL string, photos PhotoURLSigner, logger *logrus.Logger) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
		Photos:     photos,
		Logger:     logger,
		MaxRetries: 2,
	}
}

type analyzeRequest struct {
	RequestID   string   `json:"request_id"`
	Kind        string   `json:"kind"`
	PhotoURLs   []string `json:"photo_urls"`
	ContextText string   `json:"context_text"`
}

type synthesizeRequest struct {
	RequestID   string                 `json:"request_id"`
	First       *models.AnalysisResult `json:"first"`
	Second      *models.AnalysisResult `json:"second"`
	ContextText string                 `json:"context_text"`
}

// Analyze sends one photo group for analysis
func (a *HTTPAnalyzer) Analyze(ctx context.Context, kind models.AnalysisKind, photoRefs []string, contextText string) (json.RawMessage, error) {
	if len(photoRefs) == 0 {
		return nil, fmt.Errorf("no photos to analyze for %s", kind)
	}

	urls := make([]string, 0, len(photoRefs))
	for _, ref := range photoRefs {
		url, err := a.Photos.GenerateDownloadURL(ctx, ref, constants.PHOTO_DOWNLOAD_URL_EXPIRY*time.Minute)
		if err != nil {
			return nil, err
		}
		urls = append(urls, url)
	}

	return a.post(ctx, "/analyze", analyzeRequest{
		RequestID:   uuid.NewString(),
		Kind:        string(kind),
		PhotoURLs:   urls,
		ContextText: contextText,
	})
}

// Synthesize combines both group results into the aggregate report
func (a *HTTPAnalyzer) Synthesize(ctx context.Context, first, second *models.AnalysisResult, contextText string) (json.RawMessage, error) {
	if first == nil || second == nil {
		return nil, errors.New("both group results are required for synthesis")
	}

	return a.post(ctx, "/synthesize", synthesizeRequest{
		RequestID:   uuid.NewString(),
		First:       first,
		Second:      second,
		ContextText: contextText,
	})
}

func (a *HTTPAnalyzer) post(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis request: %w", err)
	}

	var raw json.RawMessage
	attempt := 0
	operation := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("analysis service %s returned %d", path, resp.StatusCode)
		case resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("analysis service %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data))))
		}

		raw = data
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	notify := func(err error, wait time.Duration) {
		a.Logger.WithFields(logrus.Fields{
			"operation": "AnalysisRequest",
			"path":      path,
			"attempt":   attempt,
			"retry_in":  wait.String(),
			"error":     err.Error(),
		}).Warn("Analysis request failed, retrying")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(policy, a.MaxRetries), ctx), notify); err != nil {
		return nil, err
	}

	return raw, nil
}
