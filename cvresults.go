package main

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
)

// CVResults is the cross-validation results table: one row per candidate
// parameter setting, sklearn-style column names (param_*, split<i>_test_*,
// mean/std/rank_test_*).
type CVResults struct {
	ParamKeys   []string
	Params      []Params
	NumSplits   int
	MetricNames []string

	// SplitScores[metric][cand][fold]
	SplitScores map[string][][]float64
	Means       map[string][]float64
	Stds        map[string][]float64
	Ranks       map[string][]int

	MeanFitTime []float64
}

// buildCVResults aggregates raw per-fold scores into the results table.
// scores is indexed [metric][cand][fold].
func buildCVResults(cands []Params, metricNames []string, scores [][][]float64, fitTimes [][]float64) *CVResults {
	keys := map[string]bool{}
	for _, p := range cands {
		for k := range p {
			keys[k] = true
		}
	}
	paramKeys := make([]string, 0, len(keys))
	for k := range keys {
		paramKeys = append(paramKeys, k)
	}
	sort.Strings(paramKeys)

	numSplits := 0
	if len(fitTimes) > 0 {
		numSplits = len(fitTimes[0])
	}

	r := &CVResults{
		ParamKeys:   paramKeys,
		Params:      cands,
		NumSplits:   numSplits,
		MetricNames: metricNames,
		SplitScores: map[string][][]float64{},
		Means:       map[string][]float64{},
		Stds:        map[string][]float64{},
		Ranks:       map[string][]int{},
		MeanFitTime: make([]float64, len(cands)),
	}

	for c := range cands {
		r.MeanFitTime[c] = meanOf(fitTimes[c])
	}

	for m, name := range metricNames {
		perCand := scores[m]
		means := make([]float64, len(cands))
		stds := make([]float64, len(cands))
		for c := range cands {
			means[c] = meanOf(perCand[c])
			stds[c] = stdOf(perCand[c], means[c])
		}
		r.SplitScores[name] = perCand
		r.Means[name] = means
		r.Stds[name] = stds
		r.Ranks[name] = rankDescending(means)
	}
	return r
}

// BestIndex returns the candidate ranked first on the given metric. Ties
// resolve to the earliest candidate.
func (r *CVResults) BestIndex(metric string) int {
	best := 0
	for c, rank := range r.Ranks[metric] {
		if rank == 1 {
			best = c
			break
		}
	}
	return best
}

// WriteCSV exports the table with one row per candidate.
func (r *CVResults) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := []string{"mean_fit_time"}
	for _, k := range r.ParamKeys {
		header = append(header, "param_"+k)
	}
	for _, m := range r.MetricNames {
		for s := 0; s < r.NumSplits; s++ {
			header = append(header, fmt.Sprintf("split%d_test_%s", s, m))
		}
		header = append(header, "mean_test_"+m, "std_test_"+m, "rank_test_"+m)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for c := range r.Params {
		rec := []string{formatFloat(r.MeanFitTime[c])}
		for _, k := range r.ParamKeys {
			rec = append(rec, formatParamValue(r.Params[c][k]))
		}
		for _, m := range r.MetricNames {
			for s := 0; s < r.NumSplits; s++ {
				rec = append(rec, formatFloat(r.SplitScores[m][c][s]))
			}
			rec = append(rec,
				formatFloat(r.Means[m][c]),
				formatFloat(r.Stds[m][c]),
				strconv.Itoa(r.Ranks[m][c]),
			)
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// rankDescending assigns competition ranks: the highest mean gets rank 1,
// equal means share the same rank.
func rankDescending(means []float64) []int {
	ranks := make([]int, len(means))
	for i, v := range means {
		rank := 1
		for _, other := range means {
			if other > v {
				rank++
			}
		}
		ranks[i] = rank
	}
	return ranks
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdOf(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	ss := 0.0
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)))
}

// formatParamValue renders a parameter for the CSV and the model artifact.
func formatParamValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		if t == 0 {
			// num_components 0 means "keep all components".
			return ""
		}
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case string:
		return t
	}
	return fmt.Sprintf("%v", v)
}

func formatParams(p Params) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = formatParamValue(v)
	}
	return out
}
