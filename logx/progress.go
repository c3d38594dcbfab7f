package logx

import (
	"fmt"
	"time"
)

// LogSearchProgress - single line hyperparameter search progress log
// done: candidate/fold evaluations completed
// total: total evaluations scheduled
// rate: evaluations per second
// elapsed: wall time since the search started
func LogSearchProgress(done, total int64, rate float64, elapsed time.Duration) {
	pct := 0.0
	if total > 0 {
		pct = 100.0 * float64(done) / float64(total)
	}
	fmt.Printf("%s  %s  Evaluated: %s/%s (%.1f%%) | Rate: %.1f/s | Elapsed: %s\n",
		TS(time.Now().UTC().Format("15:04:05Z")),
		Channel("CV  "),
		formatNumber(int(done)), formatNumber(int(total)), pct, rate,
		FormatDuration(elapsed),
	)
}

// LogFitSummary - final line after the search finished and the best
// configuration was refit on the full dataset.
func LogFitSummary(candidates, folds int, metric string, best float64, elapsed time.Duration) {
	fmt.Printf("%s  %s  Search done: %d candidates x %d folds | best %s=%s | %s\n",
		TS(time.Now().UTC().Format("15:04:05Z")),
		Channel("FIT "),
		candidates, folds, metric,
		ScoreColor(best),
		FormatDuration(elapsed),
	)
}

// formatNumber adds thousand separators (1234567 -> "1,234,567")
func formatNumber(n int) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return formatNumber(n/1000) + fmt.Sprintf(",%03d", n%1000)
}
