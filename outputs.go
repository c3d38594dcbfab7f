package main

import (
	"compress/gzip"
	"encoding/json"
	"os"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// Output artifact file names, fixed relative to --output-dir.
const (
	argsFileName       = "args.yaml"
	phenotypesFileName = "phenotypes.csv"
	inputsFileName     = "inputs.json.gz"
	cvResultsFileName  = "cv_results.csv"
	modelFileName      = "model.json"
)

// ModelArtifact is the serialized trained model: the winning configuration,
// its cross-validated scores, and the refit linear model.
type ModelArtifact struct {
	Classifier       string             `json:"classifier"`
	RefitMetric      string             `json:"refit_metric"`
	BestIndex        int                `json:"best_index"`
	BestParams       map[string]string  `json:"best_params"`
	BestScores       map[string]float64 `json:"best_scores"`
	DomainAdaptation map[string]string  `json:"domain_adaptation,omitempty"`
	Weights          []float64          `json:"weights"`
	Intercept        float64            `json:"intercept"`
}

// writeArgsYAML echoes the full configuration so a result directory is
// self-describing.
func writeArgsYAML(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// modelInputs is the gzipped-JSON export of everything the trainer consumed.
type modelInputs struct {
	X       [][]float64 `json:"x"`
	Y       []int       `json:"y"`
	Groups  []string    `json:"groups"`
	Factors [][]float64 `json:"factors,omitempty"`
}

// writeInputs persists the exact model inputs next to the results, factors
// included when domain adaptation is on.
func writeInputs(path string, x *mat.Dense, y []int, groups []string, factors *mat.Dense) error {
	in := modelInputs{
		X:      denseToRows(x),
		Y:      y,
		Groups: groups,
	}
	if factors != nil {
		in.Factors = denseToRows(factors)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	if err := json.NewEncoder(zw).Encode(in); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func denseToRows(m *mat.Dense) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := 0; i < r; i++ {
		row := make([]float64, c)
		copy(row, m.RawRowView(i))
		out[i] = row
	}
	return out
}

// writeJSON writes an indented JSON file.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
