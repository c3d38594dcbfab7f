package main

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"abide_site_adaptation/logx"
)

// MeasureKind is a closed enumeration of connectivity estimators.
type MeasureKind int

const (
	MeasureCovariance MeasureKind = iota
	MeasureCorrelation
	MeasurePartial
	MeasureTangent
	MeasurePrecision
)

var measureNames = map[string]MeasureKind{
	"covariance": MeasureCovariance,
	"pearson":    MeasureCorrelation,
	"partial":    MeasurePartial,
	"tangent":    MeasureTangent,
	"precision":  MeasurePrecision,
}

// ParseMeasure resolves a measure tag, failing with a named error on an
// unrecognized tag.
func ParseMeasure(name string) (MeasureKind, error) {
	kind, ok := measureNames[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMeasure, name)
	}
	return kind, nil
}

func (k MeasureKind) String() string {
	switch k {
	case MeasureCovariance:
		return "covariance"
	case MeasureCorrelation:
		return "correlation"
	case MeasurePartial:
		return "partial correlation"
	case MeasureTangent:
		return "tangent"
	case MeasurePrecision:
		return "precision"
	}
	return "unknown"
}

// extractConnectivity turns per-subject time series (timepoints x regions)
// into one feature vector per subject. Measures compose like functions: the
// list [a, b] computes a(b(x)), so the list is consumed in reverse and the
// first-listed measure is the outermost stage. Only that final stage
// vectorizes its matrices; intermediate stages hand full matrices to the
// next estimator. The output has one row per subject and n*(n-1)/2 columns,
// the strict lower triangle of the final matrix.
func extractConnectivity(series []*mat.Dense, measures []string, log logx.Logger) (*mat.Dense, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("no time series to extract from")
	}

	kinds := make([]MeasureKind, len(measures))
	for i, m := range measures {
		kind, err := ParseMeasure(m)
		if err != nil {
			return nil, err
		}
		kinds[i] = kind
	}

	log.Infof("Extracting functional connectivity features...")
	log.Infof("Using measures: %v", measures)

	data := series
	for i := len(kinds) - 1; i >= 0; i-- {
		matrices, err := applyMeasure(kinds[i], data)
		if err != nil {
			return nil, fmt.Errorf("measure %s: %w", kinds[i], err)
		}
		if i == 0 {
			features := vectorizeLowerTriangles(matrices)
			log.Infof("Functional connectivity features extracted (%d x %d)",
				len(matrices), featureLen(matrices[0]))
			return features, nil
		}
		data = matrices
	}
	// Unreachable: Validate guarantees at least one measure.
	return nil, fmt.Errorf("%w: empty measure list", ErrUnknownMeasure)
}

// applyMeasure estimates one connectivity matrix per subject. Tangent is a
// group-level measure and needs all subjects at once; the rest are
// per-subject.
func applyMeasure(kind MeasureKind, data []*mat.Dense) ([]*mat.Dense, error) {
	if kind == MeasureTangent {
		return tangentEmbedding(data)
	}

	out := make([]*mat.Dense, len(data))
	for s, x := range data {
		cov := ledoitWolf(x)
		var m *mat.Dense
		switch kind {
		case MeasureCovariance:
			m = denseFromSym(cov)
		case MeasureCorrelation:
			m = covToCorrelation(cov)
		case MeasurePrecision:
			var err error
			m, err = symMatFunc(cov, func(v float64) float64 { return 1 / v })
			if err != nil {
				return nil, err
			}
		case MeasurePartial:
			prec, err := symMatFunc(cov, func(v float64) float64 { return 1 / v })
			if err != nil {
				return nil, err
			}
			m = precisionToPartial(prec)
		default:
			return nil, fmt.Errorf("%w: kind %d", ErrUnknownMeasure, kind)
		}
		out[s] = m
	}
	return out, nil
}

// ledoitWolf estimates a shrunk covariance matrix of x (rows are samples).
// The shrinkage target is the scaled identity; the intensity follows the
// Ledoit-Wolf oracle estimate. Shrinking keeps the estimate well conditioned
// so downstream inverses and logarithms stay stable.
func ledoitWolf(x *mat.Dense) *mat.SymDense {
	t, n := x.Dims()

	var s mat.SymDense
	stat.CovarianceMatrix(&s, x, nil)

	// mu = trace(S)/n, delta2 = ||S - mu I||_F^2 / n
	mu := 0.0
	for i := 0; i < n; i++ {
		mu += s.At(i, i)
	}
	mu /= float64(n)

	delta2 := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d := s.At(i, j)
			if i == j {
				d -= mu
			}
			delta2 += d * d
		}
	}
	delta2 /= float64(n)

	shrink := 0.0
	if delta2 > 0 && t > 1 {
		// beta2 = (1/t^2) sum_k ||x_k x_k^T - S||_F^2 / n, capped at delta2
		means := columnMeans(x)
		beta2 := 0.0
		row := make([]float64, n)
		for k := 0; k < t; k++ {
			for j := 0; j < n; j++ {
				row[j] = x.At(k, j) - means[j]
			}
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					d := row[i]*row[j] - s.At(i, j)
					beta2 += d * d
				}
			}
		}
		beta2 /= float64(t) * float64(t) * float64(n)
		if beta2 > delta2 {
			beta2 = delta2
		}
		shrink = beta2 / delta2
	}

	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := (1 - shrink) * s.At(i, j)
			if i == j {
				v += shrink * mu
			}
			out.SetSym(i, j, v)
		}
	}
	return out
}

func columnMeans(x *mat.Dense) []float64 {
	t, n := x.Dims()
	means := make([]float64, n)
	for j := 0; j < n; j++ {
		sum := 0.0
		for i := 0; i < t; i++ {
			sum += x.At(i, j)
		}
		means[j] = sum / float64(t)
	}
	return means
}

// covToCorrelation rescales a covariance matrix to unit diagonal.
func covToCorrelation(cov *mat.SymDense) *mat.Dense {
	n := cov.SymmetricDim()
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			denom := math.Sqrt(cov.At(i, i) * cov.At(j, j))
			if denom == 0 {
				out.Set(i, j, 0)
				continue
			}
			out.Set(i, j, cov.At(i, j)/denom)
		}
	}
	for i := 0; i < n; i++ {
		out.Set(i, i, 1)
	}
	return out
}

// precisionToPartial converts a precision matrix to partial correlations:
// p_ij = -prec_ij / sqrt(prec_ii * prec_jj), unit diagonal.
func precisionToPartial(prec *mat.Dense) *mat.Dense {
	n, _ := prec.Dims()
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			denom := math.Sqrt(prec.At(i, i) * prec.At(j, j))
			if denom == 0 {
				out.Set(i, j, 0)
				continue
			}
			out.Set(i, j, -prec.At(i, j)/denom)
		}
	}
	for i := 0; i < n; i++ {
		out.Set(i, i, 1)
	}
	return out
}

// tangentEmbedding whitens each subject covariance at the group mean and
// takes the matrix logarithm, mapping the covariance manifold onto its
// tangent space at the group point.
func tangentEmbedding(data []*mat.Dense) ([]*mat.Dense, error) {
	covs := make([]*mat.SymDense, len(data))
	for s, x := range data {
		covs[s] = ledoitWolf(x)
	}
	n := covs[0].SymmetricDim()

	mean := mat.NewSymDense(n, nil)
	for _, c := range covs {
		if c.SymmetricDim() != n {
			return nil, fmt.Errorf("inconsistent region counts across subjects")
		}
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				mean.SetSym(i, j, mean.At(i, j)+c.At(i, j)/float64(len(covs)))
			}
		}
	}

	whitener, err := symMatFunc(mean, func(v float64) float64 { return 1 / math.Sqrt(v) })
	if err != nil {
		return nil, fmt.Errorf("whitening group mean: %w", err)
	}

	out := make([]*mat.Dense, len(covs))
	for s, c := range covs {
		var wc, wcw mat.Dense
		wc.Mul(whitener, c)
		wcw.Mul(&wc, whitener)

		logm, err := symMatFunc(symmetrize(&wcw), math.Log)
		if err != nil {
			return nil, fmt.Errorf("subject %d: %w", s, err)
		}
		out[s] = logm
	}
	return out, nil
}

// symMatFunc applies f to the eigenvalues of a symmetric matrix and
// reconstructs V f(L) V^T. Eigenvalues are floored at a small epsilon so
// logs and inverses of nearly singular matrices stay finite.
func symMatFunc(s *mat.SymDense, f func(float64) float64) (*mat.Dense, error) {
	const eps = 1e-12

	var es mat.EigenSym
	if !es.Factorize(s, true) {
		return nil, fmt.Errorf("eigendecomposition failed")
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	n := len(vals)
	scaled := mat.NewDense(n, n, nil)
	for j := 0; j < n; j++ {
		v := vals[j]
		if v < eps {
			v = eps
		}
		fv := f(v)
		for i := 0; i < n; i++ {
			scaled.Set(i, j, vecs.At(i, j)*fv)
		}
	}

	var out mat.Dense
	out.Mul(scaled, vecs.T())
	return &out, nil
}

func symmetrize(m *mat.Dense) *mat.SymDense {
	n, _ := m.Dims()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return out
}

func denseFromSym(s *mat.SymDense) *mat.Dense {
	n := s.SymmetricDim()
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out.Set(i, j, s.At(i, j))
		}
	}
	return out
}

func featureLen(m *mat.Dense) int {
	n, _ := m.Dims()
	return n * (n - 1) / 2
}

// vectorizeLowerTriangles flattens each subject matrix into its strict lower
// triangle. The diagonal is dropped: for correlations it is identically one
// and carries no information.
func vectorizeLowerTriangles(matrices []*mat.Dense) *mat.Dense {
	n, _ := matrices[0].Dims()
	w := n * (n - 1) / 2
	out := mat.NewDense(len(matrices), w, nil)
	for s, m := range matrices {
		k := 0
		for i := 1; i < n; i++ {
			for j := 0; j < i; j++ {
				out.Set(s, k, m.At(i, j))
				k++
			}
		}
	}
	return out
}
