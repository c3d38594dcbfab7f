package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetricRoundTrip(t *testing.T) {
	for name := range metricNames {
		kind, err := ParseMetric(name)
		require.NoError(t, err)
		assert.Equal(t, name, kind.String())
	}

	_, err := ParseMetric("balanced_accuracy")
	require.ErrorIs(t, err, ErrUnknownMetric)
}

func TestConfusionBasedMetrics(t *testing.T) {
	yTrue := []int{1, 1, 1, 1, 0, 0, 0, 0}
	yPred := []int{1, 1, 1, 0, 1, 0, 0, 0}
	// tp=3 fp=1 fn=1 tn=3

	assert.InDelta(t, 0.75, scoreMetric(MetricAccuracy, yTrue, yPred, nil), 1e-12)
	assert.InDelta(t, 0.75, scoreMetric(MetricPrecision, yTrue, yPred, nil), 1e-12)
	assert.InDelta(t, 0.75, scoreMetric(MetricRecall, yTrue, yPred, nil), 1e-12)
	assert.InDelta(t, 0.75, scoreMetric(MetricF1, yTrue, yPred, nil), 1e-12)
	assert.InDelta(t, 0.5, scoreMetric(MetricMatthews, yTrue, yPred, nil), 1e-12)
}

func TestMetricsDegenerateCases(t *testing.T) {
	// No positive predictions: precision must not divide by zero.
	yTrue := []int{1, 0, 1, 0}
	yPred := []int{0, 0, 0, 0}
	assert.Equal(t, 0.0, scoreMetric(MetricPrecision, yTrue, yPred, nil))
	assert.Equal(t, 0.0, scoreMetric(MetricRecall, yTrue, yPred, nil))
	assert.Equal(t, 0.0, scoreMetric(MetricF1, yTrue, yPred, nil))
	assert.Equal(t, 0.0, scoreMetric(MetricMatthews, yTrue, yPred, nil))
}

func TestMatthewsPerfectAndInverted(t *testing.T) {
	yTrue := []int{1, 1, 0, 0}
	assert.InDelta(t, 1.0, matthewsCorrcoef(yTrue, []int{1, 1, 0, 0}), 1e-12)
	assert.InDelta(t, -1.0, matthewsCorrcoef(yTrue, []int{0, 0, 1, 1}), 1e-12)
}

func TestROCAUCPerfectSeparation(t *testing.T) {
	yTrue := []int{0, 0, 1, 1}
	scores := []float64{-2.0, -1.0, 1.0, 2.0}
	assert.InDelta(t, 1.0, rocAUC(yTrue, scores), 1e-12)

	// Flipping the scores inverts the ranking.
	flipped := []float64{2.0, 1.0, -1.0, -2.0}
	assert.InDelta(t, 0.0, rocAUC(yTrue, flipped), 1e-12)
}

func TestROCAUCPartialOrder(t *testing.T) {
	// One negative outranks one positive: 5 of 6 pairs ordered correctly.
	yTrue := []int{0, 1, 0, 1, 1}
	scores := []float64{0.1, 0.4, 0.5, 0.8, 0.7}
	assert.InDelta(t, 5.0/6.0, rocAUC(yTrue, scores), 1e-12)
}

func TestROCAUCTiesAverageRanks(t *testing.T) {
	// All scores equal: every pair is a tie, AUC is exactly one half.
	yTrue := []int{0, 1, 0, 1}
	scores := []float64{0.5, 0.5, 0.5, 0.5}
	assert.InDelta(t, 0.5, rocAUC(yTrue, scores), 1e-12)
}

func TestROCAUCSingleClassIsZero(t *testing.T) {
	assert.Equal(t, 0.0, rocAUC([]int{1, 1, 1}, []float64{0.1, 0.2, 0.3}))
}
