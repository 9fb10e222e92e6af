// Package analytics computes summary statistics over stored datasets.
package analytics

import (
	"sort"
	"time"

	"github.com/vayuaq/vayu/internal/models"
)

// ParameterSummary aggregates one parameter's records within a dataset.
type ParameterSummary struct {
	Parameter string     `json:"parameter"`
	Units     string     `json:"units"`
	Count     int        `json:"count"`
	Min       float64    `json:"min"`
	Max       float64    `json:"max"`
	Mean      float64    `json:"mean"`
	FirstSeen *time.Time `json:"firstSeen,omitempty"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
}

// Summarize groups records by parameter name and computes count, min, max,
// mean and the observed interval-start range. Output is sorted by
// parameter name for stable responses.
func Summarize(records []models.Record) []ParameterSummary {
	byParam := make(map[string]*ParameterSummary)

	for _, r := range records {
		s, ok := byParam[r.Parameter.Name]
		if !ok {
			s = &ParameterSummary{
				Parameter: r.Parameter.Name,
				Units:     r.Parameter.Units,
				Min:       r.Value,
				Max:       r.Value,
			}
			byParam[r.Parameter.Name] = s
		}

		s.Count++
		s.Mean += r.Value // running sum until the final divide
		if r.Value < s.Min {
			s.Min = r.Value
		}
		if r.Value > s.Max {
			s.Max = r.Value
		}

		start := r.IntervalStart()
		if s.FirstSeen == nil || start.Before(*s.FirstSeen) {
			t := start
			s.FirstSeen = &t
		}
		if s.LastSeen == nil || start.After(*s.LastSeen) {
			t := start
			s.LastSeen = &t
		}
	}

	out := make([]ParameterSummary, 0, len(byParam))
	for _, s := range byParam {
		s.Mean /= float64(s.Count)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Parameter < out[j].Parameter })
	return out
}
