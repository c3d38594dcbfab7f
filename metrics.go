package main

import (
	"fmt"
	"math"
	"sort"
)

// MetricKind is a closed enumeration of scoring metrics. All metrics treat
// class 1 (ASD) as the positive class.
type MetricKind int

const (
	MetricAccuracy MetricKind = iota
	MetricPrecision
	MetricRecall
	MetricF1
	MetricROCAUC
	MetricMatthews
)

var metricNames = map[string]MetricKind{
	"accuracy":          MetricAccuracy,
	"precision":         MetricPrecision,
	"recall":            MetricRecall,
	"f1":                MetricF1,
	"roc_auc":           MetricROCAUC,
	"matthews_corrcoef": MetricMatthews,
}

// ParseMetric resolves a metric tag, failing with a named error on an
// unrecognized tag.
func ParseMetric(name string) (MetricKind, error) {
	kind, ok := metricNames[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
	return kind, nil
}

func (k MetricKind) String() string {
	for name, kind := range metricNames {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// scoreMetric evaluates one metric. yPred carries hard class predictions;
// scores carries continuous decision values and is only consumed by roc_auc.
func scoreMetric(kind MetricKind, yTrue, yPred []int, scores []float64) float64 {
	switch kind {
	case MetricAccuracy:
		return accuracyScore(yTrue, yPred)
	case MetricPrecision:
		tp, fp, _, _ := confusion(yTrue, yPred)
		return safeDiv(float64(tp), float64(tp+fp))
	case MetricRecall:
		tp, _, fn, _ := confusion(yTrue, yPred)
		return safeDiv(float64(tp), float64(tp+fn))
	case MetricF1:
		tp, fp, fn, _ := confusion(yTrue, yPred)
		return safeDiv(2*float64(tp), 2*float64(tp)+float64(fp)+float64(fn))
	case MetricROCAUC:
		return rocAUC(yTrue, scores)
	case MetricMatthews:
		return matthewsCorrcoef(yTrue, yPred)
	}
	return math.NaN()
}

func accuracyScore(yTrue, yPred []int) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	hits := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(yTrue))
}

// confusion returns the binary confusion counts with class 1 positive.
func confusion(yTrue, yPred []int) (tp, fp, fn, tn int) {
	for i := range yTrue {
		switch {
		case yTrue[i] == 1 && yPred[i] == 1:
			tp++
		case yTrue[i] == 0 && yPred[i] == 1:
			fp++
		case yTrue[i] == 1 && yPred[i] == 0:
			fn++
		default:
			tn++
		}
	}
	return tp, fp, fn, tn
}

func matthewsCorrcoef(yTrue, yPred []int) float64 {
	tp, fp, fn, tn := confusion(yTrue, yPred)
	num := float64(tp)*float64(tn) - float64(fp)*float64(fn)
	den := math.Sqrt(float64(tp+fp)) * math.Sqrt(float64(tp+fn)) *
		math.Sqrt(float64(tn+fp)) * math.Sqrt(float64(tn+fn))
	return safeDiv(num, den)
}

// rocAUC computes the area under the ROC curve from decision scores using
// the rank statistic, averaging ranks over score ties.
func rocAUC(yTrue []int, scores []float64) float64 {
	n := len(yTrue)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && scores[order[j]] == scores[order[i]] {
			j++
		}
		// Average rank across the tie run [i, j).
		avg := float64(i+j+1) / 2.0
		for k := i; k < j; k++ {
			ranks[order[k]] = avg
		}
		i = j
	}

	var nPos, nNeg int
	var posRankSum float64
	for i, label := range yTrue {
		if label == 1 {
			nPos++
			posRankSum += ranks[i]
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0
	}
	return (posRankSum - float64(nPos)*float64(nPos+1)/2) / (float64(nPos) * float64(nNeg))
}

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
