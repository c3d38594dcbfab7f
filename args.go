package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// Configuration errors. Every out-of-enum tag fails with one of these before
// any dataset file is touched.
var (
	ErrUnknownAtlas      = errors.New("unknown atlas")
	ErrUnknownClassifier = errors.New("unknown classifier")
	ErrUnknownMeasure    = errors.New("unknown connectivity measure")
	ErrUnknownStrategy   = errors.New("unknown search strategy")
	ErrUnknownMetric     = errors.New("unknown scoring metric")
	ErrUnknownSplit      = errors.New("unknown split strategy")
	ErrBadCount          = errors.New("count must be positive")
)

var atlasChoices = []string{"aal", "cc200", "cc400", "dosenbach160", "ez", "ho", "tt"}

// Config holds every command line option. It is created once by parseArgs,
// validated, and read-only afterwards.
type Config struct {
	// paths
	InputDir  string `yaml:"input_dir"`
	OutputDir string `yaml:"output_dir"`

	// preprocessing
	Atlas                  string `yaml:"atlas"`
	BandPassFiltering      bool   `yaml:"band_pass_filtering"`
	GlobalSignalRegression bool   `yaml:"global_signal_regression"`
	QualityChecked         bool   `yaml:"quality_checked"`

	// model
	Classifier        string   `yaml:"classifier"`
	MIDA              bool     `yaml:"mida"`
	FeatureExtraction []string `yaml:"feature_extraction"`

	// training
	SearchStrategy      string `yaml:"search_strategy"`
	NumSearchIterations int    `yaml:"num_search_iterations"`
	NumSolverIterations int    `yaml:"num_solver_iterations"`

	// evaluation
	Scoring      []string `yaml:"scoring"`
	Split        string   `yaml:"split"`
	NumFolds     int      `yaml:"num_folds"`
	NumCVRepeats int      `yaml:"num_cv_repeats"`

	// runtime
	NumJobs       int   `yaml:"num_jobs"`
	RandomState   int64 `yaml:"random_state"`
	Verbose       int   `yaml:"verbose"`
	DashboardPort int   `yaml:"dashboard_port"`
}

// Validate fails fast on any out-of-enum choice or out-of-range count.
// It runs before the dataset directory is even opened.
func (c *Config) Validate() error {
	if !contains(atlasChoices, c.Atlas) {
		return fmt.Errorf("%w: %q (choices: %s)", ErrUnknownAtlas, c.Atlas, strings.Join(atlasChoices, ", "))
	}
	if _, err := ParseClassifier(c.Classifier); err != nil {
		return err
	}
	if len(c.FeatureExtraction) == 0 {
		return fmt.Errorf("%w: --feature-extraction needs at least one measure", ErrUnknownMeasure)
	}
	for _, m := range c.FeatureExtraction {
		if _, err := ParseMeasure(m); err != nil {
			return err
		}
	}
	if _, err := ParseSearchStrategy(c.SearchStrategy); err != nil {
		return err
	}
	if len(c.Scoring) == 0 {
		return fmt.Errorf("%w: --scoring needs at least one metric", ErrUnknownMetric)
	}
	for _, s := range c.Scoring {
		if _, err := ParseMetric(s); err != nil {
			return err
		}
	}
	if _, err := ParseSplit(c.Split); err != nil {
		return err
	}
	if c.NumSearchIterations < 1 {
		return fmt.Errorf("%w: --num-search-iterations=%d", ErrBadCount, c.NumSearchIterations)
	}
	if c.NumSolverIterations < 1 {
		return fmt.Errorf("%w: --num-solver-iterations=%d", ErrBadCount, c.NumSolverIterations)
	}
	if c.NumFolds < 1 {
		return fmt.Errorf("%w: --num-folds=%d", ErrBadCount, c.NumFolds)
	}
	if c.Split == "skf" && c.NumFolds < 2 {
		return fmt.Errorf("%w: --num-folds=%d (stratified k-fold needs at least 2)", ErrBadCount, c.NumFolds)
	}
	if c.NumCVRepeats < 1 {
		return fmt.Errorf("%w: --num-cv-repeats=%d", ErrBadCount, c.NumCVRepeats)
	}
	if c.Verbose < 0 {
		return fmt.Errorf("%w: --verbose=%d", ErrBadCount, c.Verbose)
	}
	return nil
}

// newRootCommand wires all flags into cfg, grouped the way the original
// demo groups them (paths, preprocessing, model, training, evaluation,
// runtime), and validates before run is invoked.
func newRootCommand(cfg *Config, run func(Config) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abide-site-adaptation-demo",
		Short: "Autism classification from ABIDE functional connectivity with optional site adaptation",
		Long: "Demo on the use of domain adaptation to reduce site-dependency " +
			"in functional connectivity features for autism classification " +
			"using the ABIDE dataset.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(*cfg)
		},
	}

	f := cmd.Flags()
	f.SortFlags = false

	// paths
	f.StringVar(&cfg.InputDir, "input-dir", "", "ABIDE dataset directory (required)")
	f.StringVar(&cfg.OutputDir, "output-dir", "", "Output directory to save the results (required)")

	// preprocessing
	f.StringVar(&cfg.Atlas, "atlas", "cc200",
		fmt.Sprintf("ROIs to use (%s)", strings.Join(atlasChoices, "|")))
	f.BoolVar(&cfg.BandPassFiltering, "band-pass-filtering", false,
		"Use signals band-pass filtered between 0.01Hz and 0.1Hz")
	f.BoolVar(&cfg.GlobalSignalRegression, "global-signal-regression", false,
		"Use signals with global signal regression applied")
	f.BoolVar(&cfg.QualityChecked, "quality-checked", true, "Use quality checked data")

	// model
	f.StringVar(&cfg.Classifier, "classifier", "logistic", "Classifier to use (ridge|svm|logistic)")
	f.BoolVar(&cfg.MIDA, "mida", false, "Use MIDA to reduce site-dependency")
	f.StringSliceVar(&cfg.FeatureExtraction, "feature-extraction", []string{"pearson"},
		"Sequence of feature extraction measures (covariance|pearson|partial|tangent|precision)")

	// training
	f.StringVar(&cfg.SearchStrategy, "search-strategy", "random",
		"Search strategy for hyperparameter tuning (grid|random)")
	f.IntVar(&cfg.NumSearchIterations, "num-search-iterations", 10,
		"Number of iterations for random search (ignored for grid)")
	f.IntVar(&cfg.NumSolverIterations, "num-solver-iterations", 100,
		"Number of solver iterations for svm and logistic classifiers")

	// evaluation
	f.StringSliceVar(&cfg.Scoring, "scoring", []string{"accuracy"},
		"Scoring metrics; the first one drives hyperparameter selection "+
			"(accuracy|precision|recall|f1|roc_auc|matthews_corrcoef)")
	f.StringVar(&cfg.Split, "split", "skf",
		"Cross-validation strategy: skf for repeated stratified k-fold, lpgo for leave-p-groups-out")
	f.IntVar(&cfg.NumFolds, "num-folds", 5,
		"Number of folds; for lpgo, the number of held-out site groups")
	f.IntVar(&cfg.NumCVRepeats, "num-cv-repeats", 1,
		"Number of cross-validation repetitions (skf only)")

	// runtime
	f.IntVar(&cfg.NumJobs, "num-jobs", 1,
		"Number of parallel workers for hyperparameter tuning (<=0 uses all CPU cores)")
	f.Int64Var(&cfg.RandomState, "random-state", -1,
		"Random seed for reproducibility (negative = time based)")
	f.IntVar(&cfg.Verbose, "verbose", 0, "Verbosity level (>0 enables structured log lines)")
	f.IntVar(&cfg.DashboardPort, "dashboard-port", 0,
		"Serve a live search dashboard over websocket on this port (0 = disabled)")

	_ = cmd.MarkFlagRequired("input-dir")
	_ = cmd.MarkFlagRequired("output-dir")

	return cmd
}

// Seed resolves the effective random seed once. A negative --random-state
// means "not reproducible": the run is seeded from the clock.
func (c *Config) Seed(now int64) int64 {
	if c.RandomState < 0 {
		return now
	}
	return c.RandomState
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
