package recognition

// Config carries the pipeline's tuning knobs. A Config is immutable for the
// life of a job: thresholds are never adapted per sheet, so the same scan
// always decodes to the same result.
type Config struct {
	// HighFillRatio and LowFillRatio bound the fill classification. A cell
	// at or above the high bound is FILLED, at or below the low bound is
	// EMPTY, and anything between is AMBIGUOUS and never guessed at.
	HighFillRatio float64
	LowFillRatio  float64

	// MaxResidualMM is the worst acceptable RMS distance between detected
	// and fitted marker centers, in sheet millimeters. MinQuality gates the
	// derived quality score.
	MaxResidualMM float64
	MinQuality    float64

	// MaxRotationDeg bounds the page rotation the calibrator will accept.
	MaxRotationDeg float64

	// SampleShrink scales the sampled disc radius inside each bubble so the
	// printed outline ring never counts as fill.
	SampleShrink float64

	// Binarization window fraction and sensitivity, passed through to the
	// raster layer.
	WindowFrac  float64
	Sensitivity float64

	// MaxWorkers caps per-page parallelism inside a job.
	MaxWorkers int
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		HighFillRatio:  0.60,
		LowFillRatio:   0.25,
		MaxResidualMM:  1.5,
		MinQuality:     0.5,
		MaxRotationDeg: 15,
		SampleShrink:   0.7,
		WindowFrac:     0.125,
		Sensitivity:    0.15,
		MaxWorkers:     4,
	}
}
