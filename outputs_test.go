package main

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

func TestWriteArgsYAMLRoundTrip(t *testing.T) {
	cfg := validConfig()
	cfg.MIDA = true
	cfg.FeatureExtraction = []string{"tangent", "pearson"}

	path := filepath.Join(t.TempDir(), argsFileName)
	require.NoError(t, writeArgsYAML(cfg, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Config
	require.NoError(t, yaml.Unmarshal(raw, &got))
	assert.Equal(t, cfg, got)
}

func TestWriteInputsRoundTrip(t *testing.T) {
	x := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	y := []int{0, 1}
	groups := []string{"NYU", "UCLA"}
	factors := mat.NewDense(2, 2, []float64{1, 0, 0, 1})

	path := filepath.Join(t.TempDir(), inputsFileName)
	require.NoError(t, writeInputs(path, x, y, groups, factors))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)

	var got modelInputs
	require.NoError(t, json.NewDecoder(zr).Decode(&got))
	assert.Equal(t, [][]float64{{1, 2, 3}, {4, 5, 6}}, got.X)
	assert.Equal(t, y, got.Y)
	assert.Equal(t, groups, got.Groups)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, got.Factors)
}

func TestWriteInputsOmitsNilFactors(t *testing.T) {
	x := mat.NewDense(1, 2, []float64{1, 2})
	path := filepath.Join(t.TempDir(), inputsFileName)
	require.NoError(t, writeInputs(path, x, []int{1}, []string{"NYU"}, nil))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.NewDecoder(zr).Decode(&got))
	assert.NotContains(t, got, "factors")
}

func TestWriteModelArtifactJSON(t *testing.T) {
	art := &ModelArtifact{
		Classifier:  "ridge",
		RefitMetric: "accuracy",
		BestIndex:   3,
		BestParams:  map[string]string{"alpha": "0.5"},
		BestScores:  map[string]float64{"accuracy": 0.75},
		Weights:     []float64{0.1, -0.2},
		Intercept:   0.05,
	}

	path := filepath.Join(t.TempDir(), modelFileName)
	require.NoError(t, writeJSON(path, art))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var got ModelArtifact
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, *art, got)

	// No adapter was configured, so the adaptation block stays out.
	var asMap map[string]any
	require.NoError(t, json.Unmarshal(raw, &asMap))
	assert.NotContains(t, asMap, "domain_adaptation")
}
