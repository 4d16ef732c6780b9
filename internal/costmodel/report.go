package costmodel

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"SessionBench/internal/scenario"
)

// Report is the outcome of one benchmark run.
type Report struct {
	RunID   uuid.UUID         `json:"run_id"`
	Seed    string            `json:"seed"`
	Models  []Model           `json:"models"`
	Points  []Point           `json:"points"`
	Samples []scenario.Sample `json:"samples,omitempty"`
}

// NewSummary returns a report with per-point statistics and no models.
func NewSummary(seed string, samples []scenario.Sample) *Report {
	return &Report{
		RunID:   uuid.New(),
		Seed:    seed,
		Points:  Summarize(samples),
		Samples: samples,
	}
}

// NewReport fits samples and stamps the result with a fresh run ID.
func NewReport(seed string, samples []scenario.Sample) (*Report, error) {
	models, err := Fit(samples)
	if err != nil {
		return nil, err
	}

	r := NewSummary(seed, samples)
	r.Models = models

	return r, nil
}

// WriteTable writes the report as markdown tables.
func (r *Report) WriteTable(w io.Writer) error {
	fmt.Fprintln(w, "## Session Membership Cost Model")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Run `%s`, seed `%s`\n", r.RunID, r.Seed)
	fmt.Fprintln(w)

	if len(r.Models) > 0 {
		fmt.Fprintln(w, "| Operation | Base | Per Record | R² | Samples |")
		fmt.Fprintln(w, "|-----------|------|------------|----|---------|")

		for _, m := range r.Models {
			fmt.Fprintf(w, "| %s | %s | %s | %.3f | %d |\n",
				m.Kind,
				formatNs(m.Base),
				formatNs(m.PerItem),
				m.R2,
				m.Samples,
			)
		}

		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "| Operation | Size | Trials | Min | Median | Mean |")
	fmt.Fprintln(w, "|-----------|------|--------|-----|--------|------|")

	for _, p := range r.Points {
		fmt.Fprintf(w, "| %s | %d | %d | %s | %s | %s |\n",
			p.Kind,
			p.Size,
			p.Trials,
			p.Min,
			p.Median,
			p.Mean,
		)
	}

	return nil
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(r)
}

// formatNs formats a nanosecond quantity that may be fractional or negative.
func formatNs(ns float64) string {
	if ns > -1000 && ns < 1000 {
		return fmt.Sprintf("%.1fns", ns)
	}

	return time.Duration(ns).String()
}
