package api

import (
	"time"

	"lightcurvedb/internal/domain"
)

// measurementPayload is one ingested sample. The measurement ID is
// derived server-side from (source, band, time), never supplied.
type measurementPayload struct {
	Band     string            `json:"band"`
	Time     time.Time         `json:"time"`
	Flux     float64           `json:"flux"`
	FluxErr  *float64          `json:"flux_err,omitempty"`
	RA       *float64          `json:"ra,omitempty"`
	RAErr    *float64          `json:"ra_err,omitempty"`
	Dec      *float64          `json:"dec,omitempty"`
	DecErr   *float64          `json:"dec_err,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type measurementResponse struct {
	ID       string            `json:"id"`
	SourceID string            `json:"source_id"`
	Band     string            `json:"band"`
	Time     time.Time         `json:"time"`
	Flux     float64           `json:"flux"`
	FluxErr  *float64          `json:"flux_err,omitempty"`
	RA       *float64          `json:"ra,omitempty"`
	RAErr    *float64          `json:"ra_err,omitempty"`
	Dec      *float64          `json:"dec,omitempty"`
	DecErr   *float64          `json:"dec_err,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func toMeasurementResponse(m *domain.FluxMeasurement) measurementResponse {
	return measurementResponse{
		ID:       m.ID,
		SourceID: m.SourceID,
		Band:     m.BandID,
		Time:     m.Time,
		Flux:     m.Flux,
		FluxErr:  m.FluxErr,
		RA:       m.RA,
		RAErr:    m.RAErr,
		Dec:      m.Dec,
		DecErr:   m.DecErr,
		Metadata: m.Metadata,
	}
}

type ingestResponse struct {
	Inserted int      `json:"inserted"`
	IDs      []string `json:"ids"`
}

type sourcePayload struct {
	ID       string            `json:"id,omitempty"`
	Name     string            `json:"name"`
	RA       float64           `json:"ra"`
	Dec      float64           `json:"dec"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type sourceResponse struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	RA        float64           `json:"ra"`
	Dec       float64           `json:"dec"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func toSourceResponse(src *domain.Source) sourceResponse {
	return sourceResponse{
		ID:        src.ID,
		Name:      src.Name,
		RA:        src.RA,
		Dec:       src.Dec,
		Metadata:  src.Metadata,
		CreatedAt: src.CreatedAt,
	}
}

// statisticsResponse keeps undefined statistics as explicit nulls so
// clients can tell "undefined" from "zero".
type statisticsResponse struct {
	SourceID         string     `json:"source_id"`
	Band             string     `json:"band"`
	Tier             string     `json:"tier"`
	MeasurementCount int64      `json:"measurement_count"`
	StartTime        *time.Time `json:"start_time"`
	EndTime          *time.Time `json:"end_time"`
	MinFlux          *float64   `json:"min_flux"`
	MaxFlux          *float64   `json:"max_flux"`
	MeanFlux         *float64   `json:"mean_flux"`
	MedianFlux       *float64   `json:"median_flux"`
	StddevFlux       *float64   `json:"stddev_flux"`
	WeightedMean     *float64   `json:"weighted_mean_flux"`
	WeightedError    *float64   `json:"weighted_error_on_mean_flux"`
	Variance         *float64   `json:"variance_flux"`
}

func toStatisticsResponse(st *domain.SourceStatistics) statisticsResponse {
	return statisticsResponse{
		SourceID:         st.SourceID,
		Band:             st.BandID,
		Tier:             st.Tier.String(),
		MeasurementCount: st.MeasurementCount,
		StartTime:        st.StartTime,
		EndTime:          st.EndTime,
		MinFlux:          st.MinFlux,
		MaxFlux:          st.MaxFlux,
		MeanFlux:         st.MeanFlux,
		MedianFlux:       st.MedianFlux,
		StddevFlux:       st.StddevFlux,
		WeightedMean:     st.WeightedMeanFlux,
		WeightedError:    st.WeightedErrorOnMeanFlux,
		Variance:         st.VarianceFlux,
	}
}

type lightcurvePoint struct {
	Time       time.Time `json:"time"`
	Flux       float64   `json:"flux"`
	FluxErr    *float64  `json:"flux_err"`
	RA         *float64  `json:"ra"`
	Dec        *float64  `json:"dec"`
	DataPoints int64     `json:"data_points"`
}

type lightcurveResponse struct {
	SourceID   string            `json:"source_id"`
	Band       string            `json:"band"`
	Tier       string            `json:"tier"`
	Resolution string            `json:"resolution"`
	Start      time.Time         `json:"start"`
	End        time.Time         `json:"end"`
	Points     []lightcurvePoint `json:"points"`
}

func toLightcurveResponse(lc *domain.BinnedLightcurve) lightcurveResponse {
	points := make([]lightcurvePoint, 0, len(lc.Points))
	for _, p := range lc.Points {
		points = append(points, lightcurvePoint{
			Time:       p.Time,
			Flux:       p.Flux,
			FluxErr:    p.FluxErr,
			RA:         p.RA,
			Dec:        p.Dec,
			DataPoints: p.DataPoints,
		})
	}
	return lightcurveResponse{
		SourceID:   lc.SourceID,
		Band:       lc.BandID,
		Tier:       lc.Tier.String(),
		Resolution: lc.Resolution.String(),
		Start:      lc.Start,
		End:        lc.End,
		Points:     points,
	}
}
