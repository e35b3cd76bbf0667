package export

import (
	"fmt"
	"strings"
	"time"

	"lightcurvedb/internal/domain"
)

// RenderMarkdown renders a source report as a Markdown string.
func RenderMarkdown(r *SourceReport) string {
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("# Source Report: %s\n\n", r.Source.Name))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	// Source summary
	sb.WriteString("## Source\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|-------|-------|\n")
	sb.WriteString(fmt.Sprintf("| ID | %s |\n", r.Source.ID))
	sb.WriteString(fmt.Sprintf("| RA (deg) | %.6f |\n", r.Source.RA))
	sb.WriteString(fmt.Sprintf("| Dec (deg) | %.6f |\n", r.Source.Dec))
	sb.WriteString(fmt.Sprintf("| Query Range | %s |\n", mdRange(r.Range)))
	sb.WriteString(fmt.Sprintf("| Total Measurements | %d |\n", r.TotalMeasurements))
	sb.WriteString("\n")

	// Band statistics
	sb.WriteString("## Band Statistics\n\n")
	if len(r.Bands) > 0 {
		sb.WriteString("| Band | Tier | Count | First | Last | Min | Max | Mean | Median | Stddev | WMean | WErr |\n")
		sb.WriteString("|------|------|-------|-------|------|-----|-----|------|--------|--------|-------|------|\n")
		for _, row := range r.Bands {
			s := row.Stats
			sb.WriteString(fmt.Sprintf("| %s | %s | %d | %s | %s | %s | %s | %s | %s | %s | %s | %s |\n",
				row.Band, s.Tier, s.MeasurementCount,
				mdTime(s.StartTime), mdTime(s.EndTime),
				mdFloat(s.MinFlux), mdFloat(s.MaxFlux), mdFloat(s.MeanFlux),
				mdFloat(s.MedianFlux), mdFloat(s.StddevFlux),
				mdFloat(s.WeightedMeanFlux), mdFloat(s.WeightedErrorOnMeanFlux)))
		}
	} else {
		sb.WriteString("No measurements in range.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func mdFloat(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", *v)
}

func mdTime(t *time.Time) string {
	if t == nil {
		return "n/a"
	}
	return t.UTC().Format(time.RFC3339)
}

func mdRange(tr domain.TimeRange) string {
	start, end := "open", "open"
	if tr.Start != nil {
		start = tr.Start.UTC().Format(time.RFC3339)
	}
	if tr.End != nil {
		end = tr.End.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s to %s", start, end)
}
