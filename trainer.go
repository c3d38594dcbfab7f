package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/mat"

	"abide_site_adaptation/logx"
)

// SearchStrategy is a closed enumeration of hyperparameter search modes.
type SearchStrategy int

const (
	SearchGrid SearchStrategy = iota
	SearchRandom
)

// ParseSearchStrategy resolves a strategy tag, failing with a named error on
// an unrecognized tag.
func ParseSearchStrategy(name string) (SearchStrategy, error) {
	switch name {
	case "grid":
		return SearchGrid, nil
	case "random":
		return SearchRandom, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// Params is one hyperparameter setting. Values are float64, int, bool, or
// string depending on the parameter.
type Params map[string]any

// regularizationPath is the shared inverse-regularization sequence:
// 21 points geometrically spaced from 2^-5 to 2^15.
func regularizationPath() []float64 {
	out := make([]float64, 21)
	for i := range out {
		out[i] = math.Pow(2, float64(i-5))
	}
	return out
}

// halfInversePath maps C onto 1/(2C), the parameterization used by ridge
// (alpha) and by the domain-adaptation weights (mu, eta).
func halfInversePath() []float64 {
	cs := regularizationPath()
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = 1 / (2 * c)
	}
	return out
}

// classifierGrid returns the native hyperparameter grid of one classifier.
// All three share the same geometric sequence, reparameterized per the
// classifier's own knob.
func classifierGrid(kind ClassifierKind) map[string][]any {
	switch kind {
	case ClassifierRidge:
		return map[string][]any{"alpha": toAnySlice(halfInversePath())}
	default:
		return map[string][]any{"C": toAnySlice(regularizationPath())}
	}
}

func toAnySlice(values []float64) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// Trainer is a configured, not-yet-fit hyperparameter search. Fit runs the
// cross-validated search, records the results table, and refits the best
// configuration on the full data. A Trainer is single-shot.
type Trainer interface {
	Fit(ctx context.Context, in FitInputs) error
	Results() *CVResults
	Artifact() *ModelArtifact
}

// FitInputs bundles the immutable model inputs. Factors is only consumed by
// the domain-adaptation trainer.
type FitInputs struct {
	X       *mat.Dense
	Y       []int
	Groups  []string
	Factors *mat.Dense
}

// createTrainer builds the search-wrapped estimator. With --mida it returns
// the specialized domain-adaptation trainer whose grid carries the
// domain_adapter__ hyperparameters; otherwise a plain grid/random search
// over the classifier grid. All tag validation happens here, before any
// data is touched.
func createTrainer(cfg Config, splitter Splitter, seed int64, log logx.Logger, hub *WSHub) (Trainer, error) {
	kind, err := ParseClassifier(cfg.Classifier)
	if err != nil {
		return nil, err
	}
	strategy, err := ParseSearchStrategy(cfg.SearchStrategy)
	if err != nil {
		return nil, err
	}
	metrics := make([]MetricKind, len(cfg.Scoring))
	for i, s := range cfg.Scoring {
		m, err := ParseMetric(s)
		if err != nil {
			return nil, err
		}
		metrics[i] = m
	}

	log.Infof("Creating trainer with classifier: %s", cfg.Classifier)
	log.Infof("Using MIDA: %v", cfg.MIDA)
	log.Infof("Search strategy: %s", cfg.SearchStrategy)
	log.Infof("Scoring: %v", cfg.Scoring)
	log.Infof("Number of solver iterations: %d", cfg.NumSolverIterations)
	log.Infof("Number of search iterations: %d", cfg.NumSearchIterations)
	log.Infof("Number of jobs: %d", cfg.NumJobs)

	grid := classifierGrid(kind)
	if cfg.MIDA {
		for k, v := range midaGrid() {
			grid[k] = v
		}
	}

	search := &searchCV{
		base:        newClassifier(kind, cfg.NumSolverIterations),
		grid:        grid,
		strategy:    strategy,
		splitter:    splitter,
		metrics:     metrics,
		metricNames: append([]string(nil), cfg.Scoring...),
		numIter:     cfg.NumSearchIterations,
		numJobs:     cfg.NumJobs,
		seed:        seed,
		log:         log,
		hub:         hub,
	}
	if cfg.MIDA {
		return &MIDATrainer{searchCV: search}, nil
	}
	return search, nil
}

// searchCV evaluates every candidate parameter setting over every CV fold,
// fanning the independent evaluations out across a worker pool. Any
// evaluation error aborts the whole search; a failed candidate is never
// silently scored.
type searchCV struct {
	base        Classifier
	grid        map[string][]any
	strategy    SearchStrategy
	splitter    Splitter
	metrics     []MetricKind
	metricNames []string
	numIter     int
	numJobs     int
	seed        int64
	log         logx.Logger
	hub         *WSHub

	adapt bool // evaluate candidates through a domain-adaptation stage

	results  *CVResults
	artifact *ModelArtifact
}

func (s *searchCV) Results() *CVResults     { return s.results }
func (s *searchCV) Artifact() *ModelArtifact { return s.artifact }

// candidates enumerates the parameter settings to evaluate. Grid search
// walks the full cartesian product; random search samples numIter distinct
// settings with the run seed.
func (s *searchCV) candidates() []Params {
	keys := make([]string, 0, len(s.grid))
	for k := range s.grid {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	total := 1
	for _, k := range keys {
		total *= len(s.grid[k])
	}

	decode := func(idx int) Params {
		p := make(Params, len(keys))
		for _, k := range keys {
			values := s.grid[k]
			p[k] = values[idx%len(values)]
			idx /= len(values)
		}
		return p
	}

	if s.strategy == SearchRandom && s.numIter < total {
		rng := rand.New(rand.NewSource(s.seed))
		chosen := make(map[int]bool, s.numIter)
		out := make([]Params, 0, s.numIter)
		for len(out) < s.numIter {
			idx := rng.Intn(total)
			if chosen[idx] {
				continue
			}
			chosen[idx] = true
			out = append(out, decode(idx))
		}
		return out
	}

	out := make([]Params, total)
	for i := 0; i < total; i++ {
		out[i] = decode(i)
	}
	return out
}

type searchTask struct {
	cand int
	fold int
}

func (s *searchCV) Fit(ctx context.Context, in FitInputs) error {
	start := time.Now()

	folds, err := s.splitter.Split(in.Y, in.Groups)
	if err != nil {
		return fmt.Errorf("splitting: %w", err)
	}
	cands := s.candidates()
	s.log.Infof("Search space: %d candidates x %d folds", len(cands), len(folds))
	s.hub.BroadcastStatus(fmt.Sprintf("search started: %d candidates, %d folds", len(cands), len(folds)))

	workers := s.numJobs
	if workers <= 0 {
		workers = numCPU()
	}
	if workers > len(cands)*len(folds) {
		workers = len(cands) * len(folds)
	}

	// scores[metric][cand][fold], filled by index so the aggregation is
	// deterministic regardless of worker scheduling.
	scores := make([][][]float64, len(s.metrics))
	for m := range scores {
		scores[m] = make([][]float64, len(cands))
		for c := range scores[m] {
			scores[m][c] = make([]float64, len(folds))
		}
	}
	fitTimes := make([][]float64, len(cands))
	for c := range fitTimes {
		fitTimes[c] = make([]float64, len(folds))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan searchTask, workers*2)
	errCh := make(chan error, 1)
	var done atomic.Int64
	total := int64(len(cands) * len(folds))

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-runCtx.Done():
					return
				case task, ok := <-jobs:
					if !ok {
						return
					}
					foldScores, fitTime, err := s.evaluate(cands[task.cand], folds[task.fold], in)
					if err != nil {
						// First error wins and aborts the search.
						select {
						case errCh <- fmt.Errorf("candidate %d fold %d: %w", task.cand, task.fold, err):
						default:
						}
						cancel()
						return
					}
					for m := range s.metrics {
						scores[m][task.cand][task.fold] = foldScores[m]
					}
					fitTimes[task.cand][task.fold] = fitTime.Seconds()
					n := done.Add(1)
					s.reportProgress(n, total, start)
				}
			}
		}()
	}

feed:
	for c := range cands {
		for f := range folds {
			select {
			case <-runCtx.Done():
				break feed
			case jobs <- searchTask{cand: c, fold: f}:
			}
		}
	}
	close(jobs)
	wg.Wait()

	select {
	case err := <-errCh:
		s.hub.BroadcastStatus("search aborted: " + err.Error())
		return err
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.results = buildCVResults(cands, s.metricNames, scores, fitTimes)
	best := s.results.BestIndex(s.metricNames[0])

	if s.log.Enabled() {
		logx.LogFitSummary(len(cands), len(folds), s.metricNames[0],
			s.results.Means[s.metricNames[0]][best], time.Since(start))
	}
	s.hub.BroadcastBest(cands[best], s.results.Means[s.metricNames[0]][best])

	return s.refit(cands[best], best, in)
}

// evaluate fits one candidate on one fold and scores the held-out subjects
// with every requested metric.
func (s *searchCV) evaluate(p Params, tt TrainTest, in FitInputs) ([]float64, time.Duration, error) {
	trainX, testX := rowsSubset(in.X, tt.Train), rowsSubset(in.X, tt.Test)
	trainY, testY := intsSubset(in.Y, tt.Train), intsSubset(in.Y, tt.Test)

	clf := s.base.Clone()
	if err := applyClassifierParams(clf, p); err != nil {
		return nil, 0, err
	}

	start := time.Now()
	if s.adapt {
		adapter, err := midaFromParams(p)
		if err != nil {
			return nil, 0, err
		}
		// The adapter is unsupervised across all subjects: it sees every
		// row's features and factors but only the training labels.
		zTrain, zTest, err := adapter.FitTransformSplit(in.X, in.Factors, in.Y, tt.Train, tt.Test)
		if err != nil {
			return nil, 0, err
		}
		trainX, testX = zTrain, zTest
	}
	if err := clf.Fit(trainX, trainY); err != nil {
		return nil, 0, err
	}
	fitTime := time.Since(start)

	pred := clf.Predict(testX)
	decision := clf.DecisionFunction(testX)

	out := make([]float64, len(s.metrics))
	for m, kind := range s.metrics {
		out[m] = scoreMetric(kind, testY, pred, decision)
	}
	return out, fitTime, nil
}

// refit trains the winning configuration on the full dataset and records the
// model artifact.
func (s *searchCV) refit(p Params, bestIndex int, in FitInputs) error {
	clf := s.base.Clone()
	if err := applyClassifierParams(clf, p); err != nil {
		return err
	}

	x := in.X
	var adapter *MIDA
	if s.adapt {
		var err error
		adapter, err = midaFromParams(p)
		if err != nil {
			return err
		}
		z, err := adapter.FitTransform(in.X, in.Factors, in.Y)
		if err != nil {
			return fmt.Errorf("refit adaptation: %w", err)
		}
		x = z
	}
	if err := clf.Fit(x, in.Y); err != nil {
		return fmt.Errorf("refit: %w", err)
	}

	weights, intercept := clf.Coefficients()
	art := &ModelArtifact{
		Classifier:  clf.Name(),
		RefitMetric: s.metricNames[0],
		BestIndex:   bestIndex,
		BestParams:  formatParams(p),
		BestScores:  map[string]float64{},
		Weights:     weights,
		Intercept:   intercept,
	}
	for _, m := range s.metricNames {
		art.BestScores[m] = s.results.Means[m][bestIndex]
	}
	if adapter != nil {
		art.DomainAdaptation = adapter.Describe()
	}
	s.artifact = art
	return nil
}

func (s *searchCV) reportProgress(done, total int64, start time.Time) {
	logEvery := total / 20
	if logEvery < 1 {
		logEvery = 1
	}
	if done%logEvery != 0 && done != total {
		return
	}
	elapsed := time.Since(start)
	rate := float64(done) / math.Max(elapsed.Seconds(), 1e-9)
	if s.log.Enabled() {
		logx.LogSearchProgress(done, total, rate, elapsed)
	}
	s.hub.BroadcastProgress(done, total, rate)
}

// MIDATrainer is the specialized trainer variant used when domain adaptation
// is requested: the grid is extended with the domain_adapter__ parameters and
// every candidate evaluation runs the adaptation stage before the classifier.
type MIDATrainer struct {
	*searchCV
}

func (t *MIDATrainer) Fit(ctx context.Context, in FitInputs) error {
	if in.Factors == nil {
		return fmt.Errorf("mida trainer: factor matrix is required")
	}
	t.adapt = true
	return t.searchCV.Fit(ctx, in)
}

// applyClassifierParams pushes the classifier's own parameters onto the
// estimator, skipping the domain_adapter__ namespace.
func applyClassifierParams(clf Classifier, p Params) error {
	for name, value := range p {
		if isAdapterParam(name) {
			continue
		}
		v, ok := value.(float64)
		if !ok {
			return fmt.Errorf("parameter %s: expected float64, got %T", name, value)
		}
		if err := clf.SetParam(name, v); err != nil {
			return err
		}
	}
	return nil
}

func rowsSubset(x *mat.Dense, idx []int) *mat.Dense {
	_, cols := x.Dims()
	out := mat.NewDense(len(idx), cols, nil)
	for i, r := range idx {
		out.SetRow(i, x.RawRowView(r))
	}
	return out
}

func intsSubset(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, r := range idx {
		out[i] = y[r]
	}
	return out
}
