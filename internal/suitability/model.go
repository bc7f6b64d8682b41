// Package suitability converts an aggregated feature vector and a trained
// classifier's per-class probabilities into a ranked, bounded crop
// recommendation.
package suitability

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable is returned when no classifier is loaded. Callers branch on
// it explicitly instead of catching a generic failure.
var ErrUnavailable = errors.New("classifier unavailable")

// MismatchError reports a classifier whose class list and probability vector
// disagree in length. The pipeline must abort on it, never truncate.
type MismatchError struct {
	Classes       int
	Probabilities int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("classifier returned %d probabilities for %d classes", e.Probabilities, e.Classes)
}

// Classifier is the inference contract of the trained crop model.
type Classifier interface {
	// Classes returns the ordered list naming each output column.
	Classes(ctx context.Context) ([]string, error)
	// PredictProba returns the raw per-class probability output for one
	// feature vector.
	PredictProba(ctx context.Context, vector []float64) (RawPrediction, error)
}

// Scaler normalizes a feature vector before classification. Its output uses
// the same fixed ordered schema as its input.
type Scaler interface {
	Transform(ctx context.Context, vector []float64) ([]float64, error)
}

// RawPrediction carries classifier output in either of the two shapes a
// scikit-learn style model produces.
type RawPrediction struct {
	// Matrix is the predict_proba output: one row per input sample
	// (n_samples × n_classes), or, when PerClass is set, one array per
	// class.
	Matrix [][]float64
	// PerClass marks the list-of-per-class-arrays orientation, where each
	// class array holds [P(negative), P(positive)] or a single column.
	PerClass bool
}

// ModelContext holds the loaded classifier and scaler collaborators. It is
// constructed once at startup and passed to the pipeline by reference, so
// tests can substitute models without global state.
type ModelContext struct {
	classifier Classifier
	scaler     Scaler
}

// NewModelContext wires a classifier and an optional scaler. Either may be
// nil; ranking then fails with ErrUnavailable.
func NewModelContext(classifier Classifier, scaler Scaler) *ModelContext {
	return &ModelContext{classifier: classifier, scaler: scaler}
}

// Available reports whether a classifier is loaded.
func (m *ModelContext) Available() bool {
	return m != nil && m.classifier != nil
}

// normalize flattens a raw prediction into one probability per class.
// Matrix form takes row 0; per-class form takes column 1 of each class
// array, or column 0 when only one column exists.
func normalize(raw RawPrediction, classCount int) ([]float64, error) {
	if raw.PerClass {
		if len(raw.Matrix) != classCount {
			return nil, &MismatchError{Classes: classCount, Probabilities: len(raw.Matrix)}
		}
		probs := make([]float64, classCount)
		for i, arr := range raw.Matrix {
			switch {
			case len(arr) >= 2:
				probs[i] = arr[1]
			case len(arr) == 1:
				probs[i] = arr[0]
			default:
				return nil, fmt.Errorf("class %d: empty probability array", i)
			}
		}
		return probs, nil
	}

	if len(raw.Matrix) == 0 {
		return nil, &MismatchError{Classes: classCount, Probabilities: 0}
	}
	row := raw.Matrix[0]
	if len(row) != classCount {
		return nil, &MismatchError{Classes: classCount, Probabilities: len(row)}
	}
	return row, nil
}
