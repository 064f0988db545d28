package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// RiskTier classifies how prone an entity key is to false-positive matches.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// ParseRiskTier converts a free-form string into a RiskTier. An empty value
// defaults to RiskLow.
func ParseRiskTier(s string) (RiskTier, error) {
	switch RiskTier(strings.ToLower(strings.TrimSpace(s))) {
	case "", RiskLow:
		return RiskLow, nil
	case RiskMedium:
		return RiskMedium, nil
	case RiskHigh:
		return RiskHigh, nil
	default:
		return "", eris.Errorf("model: unknown risk tier %q", s)
	}
}

// EntityRecord is one known entity from the registry snapshot. Records are
// immutable for the lifetime of a run.
type EntityRecord struct {
	Key                  string     `json:"key" yaml:"key"`
	DisplayName          string     `json:"display_name" yaml:"display_name"`
	Aliases              []string   `json:"aliases,omitempty" yaml:"aliases"`
	FoundingDate         *time.Time `json:"founding_date,omitempty" yaml:"founding_date"`
	OperatingCountries   []string   `json:"operating_countries,omitempty" yaml:"operating_countries"`
	BusinessType         string     `json:"business_type" yaml:"business_type"`
	RiskTier             RiskTier   `json:"risk_tier" yaml:"risk_tier"`
	FalsePositiveLexicon []string   `json:"false_positive_lexicon,omitempty" yaml:"false_positive_lexicon"`
}

// OperatesIn reports whether country is one of the entity's operating
// countries. Comparison is case-insensitive.
func (e EntityRecord) OperatesIn(country string) bool {
	country = strings.TrimSpace(country)
	for _, c := range e.OperatingCountries {
		if strings.EqualFold(c, country) {
			return true
		}
	}
	return false
}

// IsHighRisk reports whether the entity is in the high risk tier.
func (e EntityRecord) IsHighRisk() bool {
	return e.RiskTier == RiskHigh
}
