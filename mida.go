package main

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// adapterPrefix namespaces the domain-adaptation hyperparameters inside the
// search grid, keeping them apart from the classifier's own parameters.
const adapterPrefix = "domain_adapter__"

func isAdapterParam(name string) bool {
	return strings.HasPrefix(name, adapterPrefix)
}

// midaGrid returns the domain-adaptation extension of the parameter grid.
// mu and eta reuse the shared 1/(2C) sequence.
func midaGrid() map[string][]any {
	grid := map[string][]any{
		// 0 keeps all components (the "None" setting).
		"num_components": {32, 64, 128, 256, 0},
		"kernel":         {"linear", "rbf"},
		"mu":             toAnySlice(halfInversePath()),
		"eta":            toAnySlice(halfInversePath()),
		"ignore_y":       {true, false},
		"augment":        {true, false},
	}
	out := make(map[string][]any, len(grid))
	for k, v := range grid {
		out[adapterPrefix+k] = v
	}
	return out
}

// MIDA is a maximum-independence domain-adaptation transform. Fitting finds
// a kernel-space projection that minimizes the statistical dependence (HSIC)
// between the projected features and the domain factor matrix, while
// preserving feature variance and, optionally, label dependence.
type MIDA struct {
	NumComponents int // 0 keeps all components
	Kernel        string
	Mu            float64
	Eta           float64
	IgnoreY       bool
	Augment       bool

	// fitted state
	xFit  *mat.Dense // augmented inputs the kernel was fit against
	proj  *mat.Dense // n_fit x k projection
	gamma float64
}

// midaFromParams builds a MIDA stage from domain_adapter__ grid parameters.
func midaFromParams(p Params) (*MIDA, error) {
	m := &MIDA{Kernel: "linear"}
	for name, value := range p {
		if !isAdapterParam(name) {
			continue
		}
		key := strings.TrimPrefix(name, adapterPrefix)
		switch key {
		case "num_components":
			v, ok := value.(int)
			if !ok {
				return nil, fmt.Errorf("mida: num_components: expected int, got %T", value)
			}
			m.NumComponents = v
		case "kernel":
			v, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("mida: kernel: expected string, got %T", value)
			}
			m.Kernel = v
		case "mu":
			v, ok := value.(float64)
			if !ok {
				return nil, fmt.Errorf("mida: mu: expected float64, got %T", value)
			}
			m.Mu = v
		case "eta":
			v, ok := value.(float64)
			if !ok {
				return nil, fmt.Errorf("mida: eta: expected float64, got %T", value)
			}
			m.Eta = v
		case "ignore_y":
			v, ok := value.(bool)
			if !ok {
				return nil, fmt.Errorf("mida: ignore_y: expected bool, got %T", value)
			}
			m.IgnoreY = v
		case "augment":
			v, ok := value.(bool)
			if !ok {
				return nil, fmt.Errorf("mida: augment: expected bool, got %T", value)
			}
			m.Augment = v
		default:
			return nil, fmt.Errorf("mida: unknown parameter %q", key)
		}
	}
	if m.Kernel != "linear" && m.Kernel != "rbf" {
		return nil, fmt.Errorf("mida: unknown kernel %q", m.Kernel)
	}
	return m, nil
}

// Describe reports the fitted configuration for the model artifact.
func (m *MIDA) Describe() map[string]string {
	return map[string]string{
		"num_components": formatParamValue(m.NumComponents),
		"kernel":         m.Kernel,
		"mu":             formatParamValue(m.Mu),
		"eta":            formatParamValue(m.Eta),
		"ignore_y":       formatParamValue(m.IgnoreY),
		"augment":        formatParamValue(m.Augment),
	}
}

// Fit solves the MIDA eigenproblem over all subjects. y may be nil; labeled
// rows are marked by y[i] >= 0, so a fold can expose training labels only by
// masking the rest with -1.
func (m *MIDA) Fit(x, factors *mat.Dense, y []int) error {
	n, _ := x.Dims()
	fn, _ := factors.Dims()
	if fn != n {
		return fmt.Errorf("mida: %d feature rows but %d factor rows", n, fn)
	}

	a := m.augmented(x, factors)
	_, d := a.Dims()
	m.gamma = 1 / float64(d)
	m.xFit = a

	k := m.kernelMatrix(a, a)

	// Centering matrix H = I - 11^T/n
	h := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := -1.0 / float64(n)
			if i == j {
				v += 1
			}
			h.Set(i, j, v)
		}
	}

	// Kd: linear kernel on the domain factors.
	var kd mat.Dense
	kd.Mul(factors, factors.T())

	// Objective core: -H Kd H + mu H + eta H Ky H
	var hkdh mat.Dense
	hkdh.Mul(h, &kd)
	hkdh.Mul(&hkdh, h)

	core := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := -hkdh.At(i, j) + m.Mu*h.At(i, j)
			core.Set(i, j, v)
		}
	}

	if !m.IgnoreY && y != nil {
		ky := labelKernel(y, n)
		var hkyh mat.Dense
		hkyh.Mul(h, ky)
		hkyh.Mul(&hkyh, h)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				core.Set(i, j, core.At(i, j)+m.Eta*hkyh.At(i, j))
			}
		}
	}

	// M = K core K, symmetrized before the eigendecomposition.
	var km mat.Dense
	km.Mul(k, core)
	km.Mul(&km, k)
	sym := symmetrize(&km)

	var es mat.EigenSym
	if !es.Factorize(sym, true) {
		return fmt.Errorf("mida: eigendecomposition failed")
	}
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	// Eigenvalues come back ascending; the projection keeps the top ones.
	comps := m.NumComponents
	if comps <= 0 || comps > n {
		comps = n
	}
	proj := mat.NewDense(n, comps, nil)
	for c := 0; c < comps; c++ {
		src := n - 1 - c
		for i := 0; i < n; i++ {
			proj.Set(i, c, vecs.At(i, src))
		}
	}
	m.proj = proj
	return nil
}

// Transform projects rows through the fitted kernel space.
func (m *MIDA) Transform(x, factors *mat.Dense) (*mat.Dense, error) {
	if m.proj == nil {
		return nil, fmt.Errorf("mida: transform before fit")
	}
	a := m.augmented(x, factors)
	k := m.kernelMatrix(a, m.xFit)
	var z mat.Dense
	z.Mul(k, m.proj)
	return &z, nil
}

// FitTransform fits on all rows and returns their projections.
func (m *MIDA) FitTransform(x, factors *mat.Dense, y []int) (*mat.Dense, error) {
	if err := m.Fit(x, factors, y); err != nil {
		return nil, err
	}
	return m.Transform(x, factors)
}

// FitTransformSplit fits on every subject (features and factors of train and
// test alike) while exposing only the training labels, then returns the
// projected train and test rows. This is the transductive setting: the
// held-out subjects' site information may shape the projection, their
// diagnoses may not.
func (m *MIDA) FitTransformSplit(x, factors *mat.Dense, y []int, train, test []int) (*mat.Dense, *mat.Dense, error) {
	masked := make([]int, len(y))
	for i := range masked {
		masked[i] = -1
	}
	for _, r := range train {
		masked[r] = y[r]
	}
	z, err := m.FitTransform(x, factors, masked)
	if err != nil {
		return nil, nil, err
	}
	return rowsSubset(z, train), rowsSubset(z, test), nil
}

// augmented concatenates the factor columns onto the features when the
// augment toggle is on.
func (m *MIDA) augmented(x, factors *mat.Dense) *mat.Dense {
	if !m.Augment {
		return x
	}
	n, d := x.Dims()
	_, fd := factors.Dims()
	out := mat.NewDense(n, d+fd, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			out.Set(i, j, x.At(i, j))
		}
		for j := 0; j < fd; j++ {
			out.Set(i, d+j, factors.At(i, j))
		}
	}
	return out
}

// kernelMatrix evaluates the configured kernel between the rows of a and b.
func (m *MIDA) kernelMatrix(a, b *mat.Dense) *mat.Dense {
	if m.Kernel == "rbf" {
		ar, _ := a.Dims()
		br, _ := b.Dims()
		out := mat.NewDense(ar, br, nil)
		for i := 0; i < ar; i++ {
			ri := a.RawRowView(i)
			for j := 0; j < br; j++ {
				rj := b.RawRowView(j)
				d2 := 0.0
				for c := range ri {
					d := ri[c] - rj[c]
					d2 += d * d
				}
				out.Set(i, j, math.Exp(-m.gamma*d2))
			}
		}
		return out
	}
	var out mat.Dense
	out.Mul(a, b.T())
	return &out
}

// labelKernel builds Ky = Y Y^T from one-hot labels; rows with unknown
// labels (y < 0) contribute nothing.
func labelKernel(y []int, n int) *mat.Dense {
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		if y[i] < 0 {
			continue
		}
		for j := 0; j < n; j++ {
			if y[j] == y[i] {
				out.Set(i, j, 1)
			}
		}
	}
	return out
}
