package main

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// ClassifierKind is a closed enumeration of supported classifiers.
type ClassifierKind int

const (
	ClassifierLogistic ClassifierKind = iota
	ClassifierSVM
	ClassifierRidge
)

// ParseClassifier resolves a classifier tag, failing with a named error on
// an unrecognized tag.
func ParseClassifier(name string) (ClassifierKind, error) {
	switch name {
	case "logistic":
		return ClassifierLogistic, nil
	case "svm":
		return ClassifierSVM, nil
	case "ridge":
		return ClassifierRidge, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownClassifier, name)
}

func (k ClassifierKind) String() string {
	switch k {
	case ClassifierLogistic:
		return "logistic"
	case ClassifierSVM:
		return "svm"
	case ClassifierRidge:
		return "ridge"
	}
	return "unknown"
}

// Classifier is a binary linear classifier over dense feature matrices.
// Labels are 0/1; the decision function is positive for class 1.
type Classifier interface {
	Fit(x *mat.Dense, y []int) error
	Predict(x *mat.Dense) []int
	DecisionFunction(x *mat.Dense) []float64
	Clone() Classifier
	SetParam(name string, value float64) error
	Name() string
	Coefficients() (weights []float64, intercept float64)
}

// newClassifier builds an unfit classifier of the given kind with default
// regularization. maxIter bounds the solver for the iterative kinds.
func newClassifier(kind ClassifierKind, maxIter int) Classifier {
	switch kind {
	case ClassifierSVM:
		return &LinearSVC{C: 1, MaxIter: maxIter}
	case ClassifierRidge:
		return &RidgeClassifier{Alpha: 1}
	default:
		return &LogisticRegression{C: 1, MaxIter: maxIter}
	}
}

// linearModel carries the fitted weights shared by all three classifiers.
type linearModel struct {
	weights   []float64
	intercept float64
}

func (m *linearModel) Coefficients() ([]float64, float64) {
	return m.weights, m.intercept
}

func (m *linearModel) DecisionFunction(x *mat.Dense) []float64 {
	r, c := x.Dims()
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		z := m.intercept
		row := x.RawRowView(i)
		for j := 0; j < c; j++ {
			z += row[j] * m.weights[j]
		}
		out[i] = z
	}
	return out
}

func (m *linearModel) Predict(x *mat.Dense) []int {
	scores := m.DecisionFunction(x)
	out := make([]int, len(scores))
	for i, z := range scores {
		if z > 0 {
			out[i] = 1
		}
	}
	return out
}

// signedTargets converts 0/1 labels into -1/+1 targets.
func signedTargets(y []int) []float64 {
	t := make([]float64, len(y))
	for i, label := range y {
		if label == 1 {
			t[i] = 1
		} else {
			t[i] = -1
		}
	}
	return t
}

// minimizeTheta runs L-BFGS from the zero vector. The zero start keeps fits
// fully deterministic. An iteration-limit stop still yields a usable model,
// so only hard optimizer failures surface as errors.
func minimizeTheta(problem optimize.Problem, dim, maxIter int) ([]float64, error) {
	theta0 := make([]float64, dim)
	settings := &optimize.Settings{MajorIterations: maxIter}

	result, err := optimize.Minimize(problem, theta0, settings, &optimize.LBFGS{})
	if result == nil || len(result.X) != dim {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("solver returned no solution")
	}
	return result.X, nil
}

// LogisticRegression is an L2-regularized logistic regression fit by L-BFGS
// on the primal objective 0.5*||w||^2 + C * sum(log(1 + exp(-t*z))). The
// intercept is not penalized.
type LogisticRegression struct {
	C       float64
	MaxIter int

	linearModel
}

func (c *LogisticRegression) Name() string { return "logistic" }

func (c *LogisticRegression) Clone() Classifier {
	return &LogisticRegression{C: c.C, MaxIter: c.MaxIter}
}

func (c *LogisticRegression) SetParam(name string, value float64) error {
	if name != "C" {
		return fmt.Errorf("logistic: unknown parameter %q", name)
	}
	c.C = value
	return nil
}

func (c *LogisticRegression) Fit(x *mat.Dense, y []int) error {
	rows, cols := x.Dims()
	if rows != len(y) {
		return fmt.Errorf("logistic: %d rows but %d labels", rows, len(y))
	}
	t := signedTargets(y)

	// theta = [weights..., intercept]
	problem := optimize.Problem{
		Func: func(theta []float64) float64 {
			f := 0.5 * dot(theta[:cols], theta[:cols])
			for i := 0; i < rows; i++ {
				m := t[i] * (dot(x.RawRowView(i), theta[:cols]) + theta[cols])
				f += c.C * logOnePlusExpNeg(m)
			}
			return f
		},
		Grad: func(grad, theta []float64) {
			copy(grad[:cols], theta[:cols])
			grad[cols] = 0
			for i := 0; i < rows; i++ {
				row := x.RawRowView(i)
				m := t[i] * (dot(row, theta[:cols]) + theta[cols])
				// d/dm log(1+exp(-m)) = -sigmoid(-m)
				g := -c.C * t[i] * sigmoid(-m)
				for j := 0; j < cols; j++ {
					grad[j] += g * row[j]
				}
				grad[cols] += g
			}
		},
	}

	theta, err := minimizeTheta(problem, cols+1, c.MaxIter)
	if err != nil {
		return fmt.Errorf("logistic solver: %w", err)
	}
	c.weights = theta[:cols]
	c.intercept = theta[cols]
	return nil
}

// LinearSVC is a linear support-vector classifier fit by L-BFGS on the
// squared-hinge primal 0.5*||w||^2 + C * sum(max(0, 1-t*z)^2). Squared hinge
// keeps the objective differentiable. The intercept is not penalized.
type LinearSVC struct {
	C       float64
	MaxIter int

	linearModel
}

func (c *LinearSVC) Name() string { return "svm" }

func (c *LinearSVC) Clone() Classifier {
	return &LinearSVC{C: c.C, MaxIter: c.MaxIter}
}

func (c *LinearSVC) SetParam(name string, value float64) error {
	if name != "C" {
		return fmt.Errorf("svm: unknown parameter %q", name)
	}
	c.C = value
	return nil
}

func (c *LinearSVC) Fit(x *mat.Dense, y []int) error {
	rows, cols := x.Dims()
	if rows != len(y) {
		return fmt.Errorf("svm: %d rows but %d labels", rows, len(y))
	}
	t := signedTargets(y)

	problem := optimize.Problem{
		Func: func(theta []float64) float64 {
			f := 0.5 * dot(theta[:cols], theta[:cols])
			for i := 0; i < rows; i++ {
				margin := 1 - t[i]*(dot(x.RawRowView(i), theta[:cols])+theta[cols])
				if margin > 0 {
					f += c.C * margin * margin
				}
			}
			return f
		},
		Grad: func(grad, theta []float64) {
			copy(grad[:cols], theta[:cols])
			grad[cols] = 0
			for i := 0; i < rows; i++ {
				row := x.RawRowView(i)
				margin := 1 - t[i]*(dot(row, theta[:cols])+theta[cols])
				if margin <= 0 {
					continue
				}
				g := -2 * c.C * t[i] * margin
				for j := 0; j < cols; j++ {
					grad[j] += g * row[j]
				}
				grad[cols] += g
			}
		},
	}

	theta, err := minimizeTheta(problem, cols+1, c.MaxIter)
	if err != nil {
		return fmt.Errorf("svm solver: %w", err)
	}
	c.weights = theta[:cols]
	c.intercept = theta[cols]
	return nil
}

// RidgeClassifier solves the regularized least-squares problem on -1/+1
// targets in closed form. When there are more features than subjects (the
// usual case for connectivity vectors) it solves the n x n dual system
// w = Xc^T (Xc Xc^T + alpha I)^-1 t instead of the d x d primal.
type RidgeClassifier struct {
	Alpha float64

	linearModel
}

func (c *RidgeClassifier) Name() string { return "ridge" }

func (c *RidgeClassifier) Clone() Classifier {
	return &RidgeClassifier{Alpha: c.Alpha}
}

func (c *RidgeClassifier) SetParam(name string, value float64) error {
	if name != "alpha" {
		return fmt.Errorf("ridge: unknown parameter %q", name)
	}
	c.Alpha = value
	return nil
}

func (c *RidgeClassifier) Fit(x *mat.Dense, y []int) error {
	rows, cols := x.Dims()
	if rows != len(y) {
		return fmt.Errorf("ridge: %d rows but %d labels", rows, len(y))
	}
	t := signedTargets(y)

	// Center features and targets so the intercept stays unpenalized.
	means := columnMeans(x)
	xc := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		row := x.RawRowView(i)
		for j := 0; j < cols; j++ {
			xc.Set(i, j, row[j]-means[j])
		}
	}
	tMean := 0.0
	for _, v := range t {
		tMean += v
	}
	tMean /= float64(rows)
	tc := mat.NewVecDense(rows, nil)
	for i, v := range t {
		tc.SetVec(i, v-tMean)
	}

	w := mat.NewVecDense(cols, nil)
	if cols > rows {
		// Dual: (Xc Xc^T + alpha I) a = tc, w = Xc^T a
		var gram mat.Dense
		gram.Mul(xc, xc.T())
		for i := 0; i < rows; i++ {
			gram.Set(i, i, gram.At(i, i)+c.Alpha)
		}
		var a mat.VecDense
		if err := a.SolveVec(&gram, tc); err != nil {
			return fmt.Errorf("ridge dual solve: %w", err)
		}
		w.MulVec(xc.T(), &a)
	} else {
		// Primal: (Xc^T Xc + alpha I) w = Xc^T tc
		var gram mat.Dense
		gram.Mul(xc.T(), xc)
		for j := 0; j < cols; j++ {
			gram.Set(j, j, gram.At(j, j)+c.Alpha)
		}
		var rhs mat.VecDense
		rhs.MulVec(xc.T(), tc)
		if err := w.SolveVec(&gram, &rhs); err != nil {
			return fmt.Errorf("ridge primal solve: %w", err)
		}
	}

	c.weights = make([]float64, cols)
	for j := 0; j < cols; j++ {
		c.weights[j] = w.AtVec(j)
	}
	c.intercept = tMean - dot(means, c.weights)
	return nil
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// logOnePlusExpNeg computes log(1 + exp(-m)) without overflow.
func logOnePlusExpNeg(m float64) float64 {
	if m < 0 {
		return -m + math.Log1p(math.Exp(m))
	}
	return math.Log1p(math.Exp(-m))
}
