// Package validate performs advisory quality checks on measurement batches.
// Validation never filters records out of a merge; it only reports.
package validate

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vayuaq/vayu/internal/models"
)

const maxReportedViolations = 10

// Rules configures validation: inclusive [min, max] value ranges per
// parameter name and a staleness cutoff. Parameters without a range entry
// are not range-checked.
type Rules struct {
	ParameterRanges map[string][2]float64 `yaml:"parameter_ranges"`
	MaxAgeYears     int                   `yaml:"max_age_years"`
}

type rulesFile struct {
	Validation Rules `yaml:"validation"`
}

// DefaultRules applies no range limits and a five year staleness cutoff.
func DefaultRules() Rules {
	return Rules{MaxAgeYears: 5}
}

// LoadRules reads validation rules from a YAML file.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Rules{}, fmt.Errorf("parse rules file: %w", err)
	}
	if f.Validation.MaxAgeYears == 0 {
		f.Validation.MaxAgeYears = DefaultRules().MaxAgeYears
	}
	return f.Validation, nil
}

// RecordResult is the verdict for a single record.
type RecordResult struct {
	Index      int      `json:"index"`
	Valid      bool     `json:"valid"`
	Violations []string `json:"violations,omitempty"`
}

// Report aggregates validation over one batch.
type Report struct {
	TotalRecords   int            `json:"totalRecords"`
	ValidRecords   int            `json:"validRecords"`
	InvalidRecords int            `json:"invalidRecords"`
	QualityScore   float64        `json:"qualityScore"`
	Violations     []RecordResult `json:"violations,omitempty"`
}

// Validator checks records against configured rules.
type Validator struct {
	rules Rules
	now   func() time.Time
}

// New builds a validator. The clock is overridable for tests.
func New(rules Rules) *Validator {
	return &Validator{rules: rules, now: time.Now}
}

// NewAt builds a validator with a fixed clock.
func NewAt(rules Rules, now func() time.Time) *Validator {
	return &Validator{rules: rules, now: now}
}

// Record validates a single record and returns its violations.
func (v *Validator) Record(rec models.Record) []string {
	var violations []string

	if rec.Parameter.Name == "" {
		violations = append(violations, "missing parameter name")
	}
	if rec.Parameter.Units == "" {
		violations = append(violations, "missing parameter units")
	}
	if math.IsNaN(rec.Value) || math.IsInf(rec.Value, 0) {
		violations = append(violations, "value is not a finite number")
	}

	start := rec.Period.From.UTC
	end := rec.Period.To.UTC
	switch {
	case start.IsZero():
		violations = append(violations, "missing interval start")
	case end.IsZero():
		violations = append(violations, "missing interval end")
	case !start.Before(end):
		violations = append(violations, fmt.Sprintf("interval start %s not before end %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339)))
	}

	now := v.now().UTC()
	if !start.IsZero() {
		if start.After(now) {
			violations = append(violations, fmt.Sprintf("timestamp in the future: %s", start.Format(time.RFC3339)))
		}
		if v.rules.MaxAgeYears > 0 && start.Before(now.AddDate(-v.rules.MaxAgeYears, 0, 0)) {
			violations = append(violations, fmt.Sprintf("timestamp older than %d years: %s",
				v.rules.MaxAgeYears, start.Format(time.RFC3339)))
		}
	}

	if bounds, ok := v.rules.ParameterRanges[rec.Parameter.Name]; ok {
		if rec.Value < bounds[0] || rec.Value > bounds[1] {
			violations = append(violations, fmt.Sprintf("%s value %g outside valid range [%g, %g]",
				rec.Parameter.Name, rec.Value, bounds[0], bounds[1]))
		}
	}

	return violations
}

// Batch validates every record in a batch and computes the quality score
// (valid / total, as a percentage). An empty batch scores 100.
func (v *Validator) Batch(records []models.Record) Report {
	report := Report{TotalRecords: len(records), QualityScore: 100}
	if len(records) == 0 {
		return report
	}

	for i, rec := range records {
		violations := v.Record(rec)
		if len(violations) == 0 {
			report.ValidRecords++
			continue
		}
		report.InvalidRecords++
		if len(report.Violations) < maxReportedViolations {
			report.Violations = append(report.Violations, RecordResult{
				Index:      i,
				Valid:      false,
				Violations: violations,
			})
		}
	}

	report.QualityScore = float64(report.ValidRecords) / float64(report.TotalRecords) * 100
	return report
}
