// Package features turns raw time-windowed sensor readings into the fixed
// statistical feature vector consumed by the suitability ranker and the
// environmental quality assessor.
package features

import (
	"time"

	"github.com/montanaflynn/stats"

	"github.com/kassym/agrozone/internal/storage"
)

// Numeric field names, in the order they appear on a sensor reading.
const (
	FieldSoilMoisture = "soil_moisture"
	FieldPH           = "ph"
	FieldTemperature  = "temperature"
	FieldPhosphorus   = "phosphorus"
	FieldPotassium    = "potassium"
	FieldHumidity     = "humidity"
	FieldNitrogen     = "nitrogen"
	FieldRainfall     = "rainfall"
)

// NumericFields lists every aggregated sensor field.
var NumericFields = []string{
	FieldSoilMoisture, FieldPH, FieldTemperature, FieldPhosphorus,
	FieldPotassium, FieldHumidity, FieldNitrogen, FieldRainfall,
}

// FieldStats holds the per-field statistics over present (non-nil) values.
type FieldStats struct {
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"std"`
	Count  int     `json:"count"`
}

// Vector is the aggregated feature vector for one zone and time window.
// It is recomputed per request and never persisted.
type Vector struct {
	Fields map[string]FieldStats `json:"fields"`

	// Categorical buckets derived from field means. Empty when the
	// underlying field has no data.
	PHCategory       string `json:"ph_category,omitempty"`
	MoistureCategory string `json:"moisture_category,omitempty"`

	// Nutrient ratios. A nil pointer means the ratio is undefined
	// (missing or zero denominator), which is distinct from zero.
	NPRatio *float64 `json:"np_ratio,omitempty"`
	NKRatio *float64 `json:"nk_ratio,omitempty"`

	DurationHours   float64 `json:"data_duration_hours"`
	ReadingsPerHour float64 `json:"readings_per_hour"`

	// NoData marks an aggregation over an empty reading set. The caller
	// decides whether that is a hard failure.
	NoData bool `json:"no_data,omitempty"`
}

// Stat returns the statistics for a field and whether any values were present.
func (v Vector) Stat(field string) (FieldStats, bool) {
	fs, ok := v.Fields[field]
	return fs, ok && fs.Count > 0
}

// Mean returns the field mean, or 0 when the field has no data.
func (v Vector) Mean(field string) float64 {
	return v.Fields[field].Mean
}

// Aggregate computes the feature vector for readings ordered by timestamp.
// The caller guarantees ordering; Aggregate does not sort. Readings with a
// nil value for a field are excluded from that field's statistics only.
func Aggregate(readings []storage.SensorReading) Vector {
	v := Vector{Fields: make(map[string]FieldStats, len(NumericFields))}
	if len(readings) == 0 {
		for _, f := range NumericFields {
			v.Fields[f] = FieldStats{}
		}
		v.NoData = true
		return v
	}

	for _, field := range NumericFields {
		v.Fields[field] = fieldStats(collect(readings, field))
	}

	if fs, ok := v.Stat(FieldPH); ok {
		v.PHCategory = CategorizePH(fs.Mean)
	}
	if fs, ok := v.Stat(FieldSoilMoisture); ok {
		v.MoistureCategory = CategorizeMoisture(fs.Mean)
	}

	v.NPRatio = ratio(v, FieldNitrogen, FieldPhosphorus)
	v.NKRatio = ratio(v, FieldNitrogen, FieldPotassium)

	first, last := readings[0].Timestamp, readings[len(readings)-1].Timestamp
	v.DurationHours = last.Sub(first).Hours()
	v.ReadingsPerHour = float64(len(readings)) / max(v.DurationHours, 1)

	return v
}

// fieldStats computes mean/min/max/sample stddev/count for present values.
// The sample standard deviation uses the n−1 denominator and is 0 when
// fewer than two values are present.
func fieldStats(values []float64) FieldStats {
	if len(values) == 0 {
		return FieldStats{}
	}

	mean, _ := stats.Mean(values)
	lo, _ := stats.Min(values)
	hi, _ := stats.Max(values)

	var sd float64
	if len(values) >= 2 {
		sd, _ = stats.StandardDeviationSample(values)
	}

	return FieldStats{Mean: mean, Min: lo, Max: hi, StdDev: sd, Count: len(values)}
}

func collect(readings []storage.SensorReading, field string) []float64 {
	values := make([]float64, 0, len(readings))
	for _, r := range readings {
		if p := r.Field(field); p != nil {
			values = append(values, *p)
		}
	}
	return values
}

// ratio returns numerator mean / denominator mean, or nil when either field
// has no data or the denominator mean is not strictly positive.
func ratio(v Vector, numField, denField string) *float64 {
	num, numOK := v.Stat(numField)
	den, denOK := v.Stat(denField)
	if !numOK || !denOK || den.Mean <= 0 {
		return nil
	}
	r := num.Mean / den.Mean
	return &r
}

// CategorizePH buckets a pH mean into one of five fixed categories.
func CategorizePH(ph float64) string {
	switch {
	case ph < 5.5:
		return "acidic"
	case ph < 6.5:
		return "slightly_acidic"
	case ph < 7.5:
		return "neutral"
	case ph < 8.5:
		return "slightly_alkaline"
	default:
		return "alkaline"
	}
}

// CategorizeMoisture buckets a soil moisture mean into one of five fixed
// categories.
func CategorizeMoisture(moisture float64) string {
	switch {
	case moisture < 15:
		return "very_dry"
	case moisture < 25:
		return "dry"
	case moisture < 35:
		return "moderate"
	case moisture < 45:
		return "moist"
	default:
		return "very_moist"
	}
}

// Window bounds a half-open reading interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}
