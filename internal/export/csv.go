package export

import (
	"fmt"
	"strings"
	"time"

	"lightcurvedb/internal/domain"
)

// RenderLightcurveCSV renders a binned lightcurve as a CSV string.
// Optional columns are left empty where the bucket carried no value.
func RenderLightcurveCSV(lc *domain.BinnedLightcurve) string {
	var sb strings.Builder

	// Header
	sb.WriteString("time,data_points,flux,flux_err,ra,dec\n")

	// Rows
	for _, p := range lc.Points {
		sb.WriteString(fmt.Sprintf("%s,%d,%.6f,%s,%s,%s\n",
			p.Time.UTC().Format(time.RFC3339),
			p.DataPoints,
			p.Flux,
			csvFloat(p.FluxErr),
			csvFloat(p.RA),
			csvFloat(p.Dec),
		))
	}

	return sb.String()
}

func csvFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.6f", *v)
}
