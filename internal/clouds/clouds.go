// Package clouds flags cloud-contaminated scenes. The rule is a
// windowed drop test over a sensor's index time series: vegetation
// does not collapse within days, so a value sitting far below its
// seasonal neighborhood is cloud shadow or haze, not ground signal.
package clouds

import (
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/pantierra/efast-tool/internal/ndvi"
)

// Verdict is the classification of one scene. Score is the drop below
// the window maximum; 0 when the scene had no sampled value or not
// enough seasonal context.
type Verdict struct {
	Filename string  `json:"filename"`
	Date     string  `json:"date"`
	Cloudy   bool    `json:"cloudy"`
	Score    float64 `json:"score"`
}

// File is the persisted verdict set of one site and season, grouped by
// sensor.
type File struct {
	S2 []Verdict `json:"s2"`
	S3 []Verdict `json:"s3"`
}

// Cloudy returns the set of cloud-flagged filenames for a sensor.
func (f File) Cloudy(sensor string) map[string]bool {
	var verdicts []Verdict
	switch sensor {
	case "s2":
		verdicts = f.S2
	case "s3":
		verdicts = f.S3
	}
	set := make(map[string]bool)
	for _, v := range verdicts {
		if v.Cloudy {
			set[v.Filename] = true
		}
	}
	return set
}

// Count returns the total number of verdicts across sensors.
func (f File) Count() int {
	return len(f.S2) + len(f.S3)
}

// Classifier holds the drop test parameters.
type Classifier struct {
	// Window is the seasonal context radius around a scene.
	Window time.Duration
	// MinSamples gates the test; windows with fewer sampled entries
	// leave the scene non-cloudy.
	MinSamples int
	// MaxDrop is how far below the window maximum a value must sit to
	// count as depressed.
	MaxDrop float64
	// Ceiling is the absolute value a depressed scene must stay under
	// to be called cloudy. Dense vegetation never reads higher under
	// cloud.
	Ceiling float64
}

// DefaultClassifier returns the parameters the pipeline ships with.
func DefaultClassifier() Classifier {
	return Classifier{
		Window:     14 * 24 * time.Hour,
		MinSamples: 3,
		MaxDrop:    0.15,
		Ceiling:    0.3,
	}
}

const verdictTimeLayout = "2006-01-02T15:04:05"

type sample struct {
	at    time.Time
	value float64
}

// Classify produces one verdict per series entry, in series order.
// Entries without a sampled value stay non-cloudy; they carry no
// evidence either way. Deterministic for identical input.
func (c Classifier) Classify(series []ndvi.Entry) []Verdict {
	sampled := make([]sample, 0, len(series))
	for _, e := range series {
		if e.NDVI == nil {
			continue
		}
		at, err := time.Parse(verdictTimeLayout, e.Date)
		if err != nil {
			continue
		}
		sampled = append(sampled, sample{at: at, value: *e.NDVI})
	}

	verdicts := make([]Verdict, 0, len(series))
	for _, e := range series {
		verdict := Verdict{Filename: e.Filename, Date: e.Date}
		if e.NDVI != nil {
			if at, err := time.Parse(verdictTimeLayout, e.Date); err == nil {
				verdict.Cloudy, verdict.Score = c.judge(at, *e.NDVI, sampled)
			}
		}
		verdicts = append(verdicts, verdict)
	}
	return verdicts
}

func (c Classifier) judge(at time.Time, value float64, sampled []sample) (bool, float64) {
	var window []float64
	for _, s := range sampled {
		d := s.at.Sub(at)
		if d < 0 {
			d = -d
		}
		if d <= c.Window {
			window = append(window, s.value)
		}
	}
	if len(window) < c.MinSamples {
		return false, 0
	}

	score := floats.Max(window) - value
	cloudy := score > c.MaxDrop && value < c.Ceiling
	return cloudy, score
}
