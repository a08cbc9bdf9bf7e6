package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"manicure/lib/models"
	"math"
	"strings"
)

// Score bounds of an analysis result
const (
	MinScore = 0
	MaxScore = 10
)

// PayloadError reports an analysis response that does not match the result schema
type PayloadError struct {
	Kind   models.AnalysisKind
	Reason string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("invalid %s analysis payload: %s", e.Kind, e.Reason)
}

// resultPayload mirrors models.AnalysisResult with every required field optional,
// so that a missing field can be told apart from a zero value.
type resultPayload struct {
	Kind            *string   `json:"kind"`
	Status          *string   `json:"status"`
	SummaryText     *string   `json:"summary_text"`
	Score           *float64  `json:"score"`
	Recommendations *[]string `json:"recommendations"`
	ProblemAreas    []string  `json:"problem_areas"`
	PhotosAnalyzed  *int      `json:"photos_analyzed"`
}

// ParseResult decodes and validates one analysis response. Unknown fields and
// missing required fields are rejected.
func ParseResult(raw []byte, kind models.AnalysisKind) (*models.AnalysisResult, error) {
	fail := func(format string, args ...any) (*models.AnalysisResult, error) {
		return nil, &PayloadError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return fail("empty response")
	}

	var payload resultPayload
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&payload); err != nil {
		return fail("%v", err)
	}
	if decoder.More() {
		return fail("trailing data after result object")
	}

	switch {
	case payload.Kind != nil && *payload.Kind != string(kind):
		return fail("kind %q does not match requested %q", *payload.Kind, kind)
	case payload.Status == nil || strings.TrimSpace(*payload.Status) == "":
		return fail("status is required")
	case payload.SummaryText == nil || strings.TrimSpace(*payload.SummaryText) == "":
		return fail("summary_text is required")
	case payload.Score == nil:
		return fail("score is required")
	case math.IsNaN(*payload.Score) || *payload.Score < MinScore || *payload.Score > MaxScore:
		return fail("score %v is outside %d..%d", *payload.Score, MinScore, MaxScore)
	case payload.Recommendations == nil:
		return fail("recommendations is required")
	}

	for i, r := range *payload.Recommendations {
		if strings.TrimSpace(r) == "" {
			return fail("recommendation %d is empty", i)
		}
	}

	result := &models.AnalysisResult{
		Kind:            kind,
		Status:          *payload.Status,
		SummaryText:     *payload.SummaryText,
		Score:           *payload.Score,
		Recommendations: *payload.Recommendations,
		ProblemAreas:    payload.ProblemAreas,
	}
	if payload.PhotosAnalyzed != nil {
		result.PhotosAnalyzed = *payload.PhotosAnalyzed
	}

	return result, nil
}
