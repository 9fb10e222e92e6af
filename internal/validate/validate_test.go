package validate

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vayuaq/vayu/internal/models"
)

var testNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func testRules() Rules {
	return Rules{
		ParameterRanges: map[string][2]float64{"pm25": {0, 1000}},
		MaxAgeYears:     5,
	}
}

func rec(param string, value float64, start, end time.Time) models.Record {
	return models.Record{
		Value:       value,
		Parameter:   models.Parameter{ID: 2, Name: param, Units: "µg/m³"},
		Period:      models.Period{From: models.UTCTimestamp{UTC: start}, To: models.UTCTimestamp{UTC: end}},
		EntityID:    1,
		SubSourceID: 10,
	}
}

func TestRecordChecks(t *testing.T) {
	v := NewAt(testRules(), func() time.Time { return testNow })
	start := testNow.Add(-24 * time.Hour)
	end := start.Add(time.Hour)

	tests := []struct {
		name       string
		record     models.Record
		violations int
	}{
		{"valid", rec("pm25", 35.4, start, end), 0},
		{"value above range", rec("pm25", 1500, start, end), 1},
		{"value below range", rec("pm25", -3, start, end), 1},
		{"unknown parameter has no range check", rec("humidity", 1e6, start, end), 0},
		{"start equals end", rec("pm25", 10, start, start), 1},
		{"start after end", rec("pm25", 10, end, start), 1},
		{"future timestamp", rec("pm25", 10, testNow.Add(time.Hour), testNow.Add(2*time.Hour)), 1},
		{"older than cutoff", rec("pm25", 10, testNow.AddDate(-6, 0, 0), testNow.AddDate(-6, 0, 0).Add(time.Hour)), 1},
		{"missing interval start", rec("pm25", 10, time.Time{}, end), 1},
		{"nan value", rec("pm25", math.NaN(), start, end), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations := v.Record(tt.record)
			assert.Len(t, violations, tt.violations, "violations: %v", violations)
		})
	}
}

func TestMissingParameterName(t *testing.T) {
	v := NewAt(testRules(), func() time.Time { return testNow })
	r := rec("", 10, testNow.Add(-time.Hour), testNow)
	r.Parameter.Units = ""

	violations := v.Record(r)
	assert.Len(t, violations, 2)
}

func TestBatchQualityScore(t *testing.T) {
	v := NewAt(testRules(), func() time.Time { return testNow })
	start := testNow.Add(-24 * time.Hour)
	end := start.Add(time.Hour)

	report := v.Batch([]models.Record{
		rec("pm25", 10, start, end),
		rec("pm25", 2000, start, end), // out of range
		rec("pm25", 20, start, end),
	})

	assert.Equal(t, 3, report.TotalRecords)
	assert.Equal(t, 2, report.ValidRecords)
	assert.Equal(t, 1, report.InvalidRecords)
	assert.InDelta(t, 66.67, report.QualityScore, 0.01)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, 1, report.Violations[0].Index)
}

func TestBatchEmptyScoresFull(t *testing.T) {
	v := New(DefaultRules())
	report := v.Batch(nil)

	assert.Equal(t, 0, report.TotalRecords)
	assert.Equal(t, 100.0, report.QualityScore)
}

func TestBatchCapsReportedViolations(t *testing.T) {
	v := NewAt(testRules(), func() time.Time { return testNow })
	start := testNow.Add(-24 * time.Hour)

	var batch []models.Record
	for i := 0; i < 25; i++ {
		batch = append(batch, rec("pm25", 5000, start, start.Add(time.Hour)))
	}

	report := v.Batch(batch)
	assert.Equal(t, 25, report.InvalidRecords)
	assert.Len(t, report.Violations, maxReportedViolations)
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "validation.yaml")
	content := `validation:
  parameter_ranges:
    pm25: [0, 1000]
    o3: [0, 0.6]
  max_age_years: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, [2]float64{0, 1000}, rules.ParameterRanges["pm25"])
	assert.Equal(t, [2]float64{0, 0.6}, rules.ParameterRanges["o3"])
	assert.Equal(t, 3, rules.MaxAgeYears)
}

func TestLoadRulesMissingFile(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
