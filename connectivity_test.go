package main

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// syntheticSeries builds subjects of t timepoints over n regions with mild
// cross-region correlation so covariance estimates are far from singular.
func syntheticSeries(subjects, t, n int, seed int64) []*mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	out := make([]*mat.Dense, subjects)
	for s := range out {
		x := mat.NewDense(t, n, nil)
		for i := 0; i < t; i++ {
			shared := rng.NormFloat64()
			for j := 0; j < n; j++ {
				x.Set(i, j, rng.NormFloat64()+0.3*shared)
			}
		}
		out[s] = x
	}
	return out
}

func TestExtractConnectivityFeatureShape(t *testing.T) {
	series := syntheticSeries(5, 40, 8, 1)

	features, err := extractConnectivity(series, []string{"pearson"}, silentLog())
	require.NoError(t, err)

	rows, cols := features.Dims()
	assert.Equal(t, 5, rows)
	assert.Equal(t, 8*7/2, cols)
}

func TestExtractConnectivityUnknownMeasure(t *testing.T) {
	series := syntheticSeries(2, 20, 4, 1)
	_, err := extractConnectivity(series, []string{"spearman"}, silentLog())
	require.ErrorIs(t, err, ErrUnknownMeasure)
}

func TestMeasureChainIsOutermostFirst(t *testing.T) {
	series := syntheticSeries(4, 40, 6, 2)

	// [tangent, pearson] means tangent(pearson(x)): correlation matrices
	// feed the tangent stage, and only the tangent stage vectorizes.
	chained, err := extractConnectivity(series, []string{"tangent", "pearson"}, silentLog())
	require.NoError(t, err)

	rows, cols := chained.Dims()
	assert.Equal(t, 4, rows)
	assert.Equal(t, 6*5/2, cols)

	single, err := extractConnectivity(series, []string{"tangent"}, silentLog())
	require.NoError(t, err)

	// The two pipelines measure different things, so at least one entry
	// must differ when the inner stage is present.
	assert.False(t, mat.EqualApprox(chained, single, 1e-9))
}

func TestCovToCorrelationUnitDiagonal(t *testing.T) {
	series := syntheticSeries(1, 50, 5, 3)
	cov := ledoitWolf(series[0])
	corr := covToCorrelation(cov)

	n, _ := corr.Dims()
	for i := 0; i < n; i++ {
		assert.InDelta(t, 1.0, corr.At(i, i), 1e-12)
		for j := 0; j < n; j++ {
			assert.InDelta(t, corr.At(j, i), corr.At(i, j), 1e-12)
			assert.LessOrEqual(t, math.Abs(corr.At(i, j)), 1.0+1e-9)
		}
	}
}

func TestPrecisionInvertsShrunkCovariance(t *testing.T) {
	series := syntheticSeries(1, 80, 4, 4)
	cov := ledoitWolf(series[0])

	prec, err := symMatFunc(cov, func(v float64) float64 { return 1 / v })
	require.NoError(t, err)

	var prod mat.Dense
	prod.Mul(prec, denseFromSym(cov))

	n, _ := prod.Dims()
	eye := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		eye.Set(i, i, 1)
	}
	assert.True(t, mat.EqualApprox(&prod, eye, 1e-8))
}

func TestPartialCorrelationDiagonalAndSign(t *testing.T) {
	series := syntheticSeries(1, 60, 5, 5)
	cov := ledoitWolf(series[0])
	prec, err := symMatFunc(cov, func(v float64) float64 { return 1 / v })
	require.NoError(t, err)

	partial := precisionToPartial(prec)
	n, _ := partial.Dims()
	for i := 0; i < n; i++ {
		assert.InDelta(t, 1.0, partial.At(i, i), 1e-12)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			want := -prec.At(i, j) / math.Sqrt(prec.At(i, i)*prec.At(j, j))
			assert.InDelta(t, want, partial.At(i, j), 1e-12)
		}
	}
}

func TestTangentOfIdenticalSubjectsIsZero(t *testing.T) {
	base := syntheticSeries(1, 60, 5, 6)[0]
	series := []*mat.Dense{base, base, base}

	embedded, err := tangentEmbedding(series)
	require.NoError(t, err)

	// Every subject covariance equals the group mean, so whitening maps
	// each one to the identity and the matrix log vanishes.
	for _, m := range embedded {
		n, _ := m.Dims()
		zero := mat.NewDense(n, n, nil)
		assert.True(t, mat.EqualApprox(m, zero, 1e-8))
	}
}

func TestLedoitWolfShrinksTowardScaledIdentity(t *testing.T) {
	// With t < n the sample covariance is singular; shrinkage must keep
	// every eigenvalue strictly positive.
	series := syntheticSeries(1, 6, 10, 7)
	cov := ledoitWolf(series[0])

	var es mat.EigenSym
	require.True(t, es.Factorize(cov, false))
	for _, v := range es.Values(nil) {
		assert.Greater(t, v, 0.0)
	}
}

func TestVectorizeLowerTrianglesOrder(t *testing.T) {
	m := mat.NewDense(3, 3, []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	out := vectorizeLowerTriangles([]*mat.Dense{m})

	rows, cols := out.Dims()
	require.Equal(t, 1, rows)
	require.Equal(t, 3, cols)
	assert.Equal(t, []float64{4, 7, 8}, out.RawRowView(0))
}
