// Package simulate generates synthetic lightcurves: a flat noise
// floor with an occasional gaussian flare whose amplitude scales
// across bands by a random spectral index. cmd/ephemeral seeds demo
// environments with it.
package simulate

import (
	"math"
	"math/rand"
	"time"

	"lightcurvedb/internal/domain"
	"lightcurvedb/internal/idhash"
)

// FlareConfig tunes the synthetic generator.
type FlareConfig struct {
	// ProbabilityOfFlare is the chance that a flare lands inside the
	// generated time range.
	ProbabilityOfFlare float64

	// PeakFlux is the flare amplitude in the peak band.
	PeakFlux float64

	// PeakBandIndex selects which band receives the unscaled peak.
	PeakBandIndex int

	FlareDuration time.Duration

	// NoiseFloor sets the baseline flux level; every sample carries an
	// uncertainty of sqrt(NoiseFloor).
	NoiseFloor float64

	// The spectral index is drawn uniformly from [Min, Max]; bands
	// other than the peak band scale by (f / f_peak)^index.
	SpectralIndexMin float64
	SpectralIndexMax float64
}

// DefaultFlareConfig returns the standard demo parameters.
func DefaultFlareConfig() FlareConfig {
	return FlareConfig{
		ProbabilityOfFlare: 0.1,
		PeakFlux:           5.0,
		PeakBandIndex:      0,
		FlareDuration:      10 * 24 * time.Hour,
		NoiseFloor:         0.1,
		SpectralIndexMin:   -2.0,
		SpectralIndexMax:   2.0,
	}
}

// Lightcurve generates number samples per band at a fixed cadence
// from start, for one source. Measurement IDs are deterministic, so
// the same seed reproduces the same curve and re-seeding an already
// seeded store collides instead of duplicating.
func Lightcurve(rng *rand.Rand, sourceID string, bands []domain.Band, start time.Time, cadence time.Duration, number int, cfg FlareConfig) []*domain.FluxMeasurement {
	if number <= 0 || len(bands) == 0 || cadence <= 0 {
		return nil
	}

	times := make([]time.Time, number)
	for i := range times {
		times[i] = start.Add(time.Duration(i) * cadence)
	}

	// The flare index is drawn uniformly from a window 1/probability
	// times the sample count, so it lands inside the lightcurve with
	// roughly the configured probability.
	flareIndex := rng.Intn(int(float64(number)/cfg.ProbabilityOfFlare) + 1)
	flareTime := start.Add(time.Duration(flareIndex) * cadence)

	flare := make([][]float64, len(bands))
	for i := range flare {
		flare[i] = make([]float64, number)
	}

	// Skip the profile math when the flare sits so far past the range
	// that its tail cannot reach any sample.
	samplesPerFlare := float64(cfg.FlareDuration) / float64(cadence)
	if float64(flareIndex) < float64(number)+samplesPerFlare*3 {
		peak := flare[cfg.PeakBandIndex]
		for i, t := range times {
			x := float64(t.Sub(flareTime)) / float64(cfg.FlareDuration)
			peak[i] = cfg.PeakFlux * math.Exp(-x*x)
		}

		spectralIndex := cfg.SpectralIndexMin + rng.Float64()*(cfg.SpectralIndexMax-cfg.SpectralIndexMin)
		peakFreq := float64(bands[cfg.PeakBandIndex].Frequency)
		for bi, band := range bands {
			if bi == cfg.PeakBandIndex {
				continue
			}
			scale := math.Pow(float64(band.Frequency)/peakFreq, spectralIndex)
			for i, f := range peak {
				flare[bi][i] = f * scale
			}
		}
	}

	sigma := math.Sqrt(cfg.NoiseFloor)
	out := make([]*domain.FluxMeasurement, 0, number*len(bands))
	for bi, band := range bands {
		name := band.Name()
		for i, t := range times {
			flux := flare[bi][i] + cfg.NoiseFloor + sigma*rng.NormFloat64()
			if flux < 0 {
				flux = 0
			}
			fluxErr := sigma
			out = append(out, &domain.FluxMeasurement{
				ID:       idhash.ComputeMeasurementID(sourceID, name, t),
				SourceID: sourceID,
				BandID:   name,
				Time:     t,
				Flux:     flux,
				FluxErr:  &fluxErr,
			})
		}
	}
	return out
}
