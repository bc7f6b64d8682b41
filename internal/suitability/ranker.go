package suitability

import (
	"context"
	"fmt"
	"sort"

	"github.com/kassym/agrozone/internal/features"
)

// DefaultTopK is the number of crops in a recommendation.
const DefaultTopK = 3

// InputSchema is the fixed ordered feature schema the classifier expects.
var InputSchema = []string{"N", "P", "K", "temperature", "humidity", "ph", "rainfall"}

// schemaDefaults are the domain-reasonable substitutes for missing fields:
// mid-range nutrient levels, temperate climate, neutral pH.
var schemaDefaults = map[string]float64{
	"N":           50.0,
	"P":           50.0,
	"K":           50.0,
	"temperature": 25.0,
	"humidity":    70.0,
	"ph":          6.5,
	"rainfall":    100.0,
}

// schemaFields maps schema names to aggregated feature fields.
var schemaFields = map[string]string{
	"N":           features.FieldNitrogen,
	"P":           features.FieldPhosphorus,
	"K":           features.FieldPotassium,
	"temperature": features.FieldTemperature,
	"humidity":    features.FieldHumidity,
	"ph":          features.FieldPH,
	"rainfall":    features.FieldRainfall,
}

// CropSuitability is one ranked crop with its clamped percentage score.
type CropSuitability struct {
	CropName     string  `json:"crop_name"`
	Probability  float64 `json:"probability"`
	ScorePercent float64 `json:"suitability_score"`
	Rank         int     `json:"rank"`
}

// Ranking is the bounded recommendation produced from one feature vector.
type Ranking struct {
	Crops []CropSuitability `json:"crops"`
	// Confidence is the top crop's raw probability.
	Confidence float64 `json:"confidence"`
	// DefaultedFields records which schema fields were absent from the
	// aggregated vector and substituted with defaults. It feeds the data
	// quality score so degraded input is visible, not hidden.
	DefaultedFields []string `json:"defaulted_fields,omitempty"`
}

// BuildInput maps an aggregated feature vector into the fixed ordered schema,
// substituting documented defaults for absent fields and returning the names
// of the fields that were defaulted.
func BuildInput(vec features.Vector) ([]float64, []string) {
	input := make([]float64, len(InputSchema))
	var defaulted []string
	for i, name := range InputSchema {
		if fs, ok := vec.Stat(schemaFields[name]); ok {
			input[i] = fs.Mean
			continue
		}
		input[i] = schemaDefaults[name]
		defaulted = append(defaulted, name)
	}
	return input, defaulted
}

// Rank runs the scaler and classifier over the aggregated vector and returns
// the top-k crops by descending clamped percentage. Ties keep the original
// class order (stable sort); ranks are contiguous 1..k.
//
// Returns ErrUnavailable when no classifier is loaded and a *MismatchError
// when the classifier's class list and probability vector disagree.
func (m *ModelContext) Rank(ctx context.Context, vec features.Vector, k int) (Ranking, error) {
	if !m.Available() {
		return Ranking{}, ErrUnavailable
	}
	if k <= 0 {
		k = DefaultTopK
	}

	input, defaulted := BuildInput(vec)

	if m.scaler != nil {
		scaled, err := m.scaler.Transform(ctx, input)
		if err != nil {
			return Ranking{}, fmt.Errorf("scaling features: %w", err)
		}
		input = scaled
	}

	classes, err := m.classifier.Classes(ctx)
	if err != nil {
		return Ranking{}, fmt.Errorf("loading class list: %w", err)
	}

	raw, err := m.classifier.PredictProba(ctx, input)
	if err != nil {
		return Ranking{}, fmt.Errorf("predicting probabilities: %w", err)
	}

	probs, err := normalize(raw, len(classes))
	if err != nil {
		return Ranking{}, err
	}

	crops := TopK(classes, probs, k)
	ranking := Ranking{Crops: crops, DefaultedFields: defaulted}
	if len(crops) > 0 {
		ranking.Confidence = crops[0].Probability
	}
	return ranking, nil
}

// TopK selects the k highest-scoring classes, stable on original class order
// for equal scores. Every percentage is clamped into [0, 100]; ranks are a
// contiguous 1..k.
func TopK(classes []string, probs []float64, k int) []CropSuitability {
	order := make([]int, len(classes))
	for i := range order {
		order[i] = i
	}
	// Stable sort keeps the original class-list order on ties; this is a
	// contract, not an accident of the sort implementation.
	sort.SliceStable(order, func(a, b int) bool {
		return probs[order[a]] > probs[order[b]]
	})

	if k > len(order) {
		k = len(order)
	}

	crops := make([]CropSuitability, 0, k)
	for rank, idx := range order[:k] {
		crops = append(crops, CropSuitability{
			CropName:     classes[idx],
			Probability:  probs[idx],
			ScorePercent: clampPercent(probs[idx] * 100),
			Rank:         rank + 1,
		})
	}
	return crops
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
