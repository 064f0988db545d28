package model

import "fmt"

// Document is a single corpus item handed to the extraction stage.
type Document struct {
	ID      string            `json:"id"`
	Text    string            `json:"text"`
	Context map[string]string `json:"context,omitempty"`
	// Error is set by corpus loaders when the item could not be read.
	Error string `json:"error,omitempty"`
}

// Span locates a match inside a document. Start and End are byte offsets
// into Document.Text.
type Span struct {
	DocumentID string `json:"document_id"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

// Strategy names the extraction rule that produced a RawMatch.
type Strategy string

const (
	StrategyDefault   Strategy = "default"
	StrategyShortName Strategy = "short_name"
	StrategyHighRisk  Strategy = "high_risk"
)

// RawMatch is a candidate produced by the extraction stage. It is created once
// and never mutated.
type RawMatch struct {
	ID           string            `json:"id"`
	EntityKey    string            `json:"entity_key"`
	Span         Span              `json:"span"`
	Text         string            `json:"text"`
	Window       string            `json:"window"`
	WindowOffset int               `json:"window_offset"`
	FlankedToken string            `json:"flanked_token"`
	Strategy     Strategy          `json:"strategy"`
	Context      map[string]string `json:"context,omitempty"`
}

// MatchID builds the deterministic identifier of a match.
func MatchID(documentID string, start, end int, entityKey string) string {
	return fmt.Sprintf("%s:%d:%d:%s", documentID, start, end, entityKey)
}

// MatchType classifies the outcome of entity validation.
type MatchType string

const (
	MatchValidatedEntity         MatchType = "validated_entity"
	MatchSubstringFalsePositive  MatchType = "substring_false_positive"
	MatchLinguisticFalsePositive MatchType = "linguistic_false_positive"
	MatchUncertain               MatchType = "uncertain"
)

// IsFalsePositive reports whether the match type is one of the hard
// false-positive classifications.
func (t MatchType) IsFalsePositive() bool {
	return t == MatchSubstringFalsePositive || t == MatchLinguisticFalsePositive
}

// Rejection is a candidate hit the extraction stage discarded before
// validation, classified the way the validator would have classified it.
type Rejection struct {
	ID           string    `json:"id"`
	EntityKey    string    `json:"entity_key"`
	Span         Span      `json:"span"`
	Text         string    `json:"text"`
	FlankedToken string    `json:"flanked_token"`
	MatchType    MatchType `json:"match_type"`
}

// CheckScores holds the per-check component scores behind a verdict.
type CheckScores struct {
	WordBoundary    float64 `json:"word_boundary"`
	Temporal        float64 `json:"temporal"`
	Geographic      float64 `json:"geographic"`
	Context         float64 `json:"context"`
	NoFalsePositive float64 `json:"no_false_positive"`
}

// ValidationVerdict is the immutable result of validating one RawMatch.
type ValidationVerdict struct {
	MatchID    string      `json:"match_id"`
	EntityKey  string      `json:"entity_key"`
	Valid      bool        `json:"valid"`
	Confidence float64     `json:"confidence"`
	MatchType  MatchType   `json:"match_type"`
	Issues     []string    `json:"issues,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
	Scores     CheckScores `json:"scores"`
}

// MatchResult is a match that survived entity validation, carrying its
// current confidence through the later stages.
type MatchResult struct {
	Match      RawMatch  `json:"match"`
	Confidence float64   `json:"confidence"`
	MatchType  MatchType `json:"match_type"`
	Adjusted   bool      `json:"adjusted,omitempty"`
	Warnings   []string  `json:"warnings,omitempty"`
}

// ReviewReason explains why a match was queued for human review.
type ReviewReason string

const (
	ReviewBelowFloor ReviewReason = "below_confidence_floor"
	ReviewSampled    ReviewReason = "sampled"
)

// ReviewItem is one entry of the persisted human review queue.
type ReviewItem struct {
	RunID  string       `json:"run_id"`
	Result MatchResult  `json:"result"`
	Reason ReviewReason `json:"reason"`
	Status string       `json:"status"`
}
