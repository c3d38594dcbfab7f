package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Logger is a leveled logger carried explicitly by each pipeline component.
// Verbosity 0 is silent; verbosity > 0 emits one line per message in the form
//
//	[2006-01-02 15:04:05,000] {file.go:funcName:42} INFO - message
//
// There is no package-level logger on purpose: every component receives its
// own Logger value so verbosity is never global mutable state.
type Logger struct {
	Component string
	Verbosity int

	out io.Writer
	mu  *sync.Mutex
}

// New creates a Logger for the given component writing to stdout.
func New(component string, verbosity int) Logger {
	return Logger{
		Component: component,
		Verbosity: verbosity,
		out:       os.Stdout,
		mu:        &sync.Mutex{},
	}
}

// NewWriter creates a Logger writing to an arbitrary writer (used by tests).
func NewWriter(component string, verbosity int, w io.Writer) Logger {
	return Logger{
		Component: component,
		Verbosity: verbosity,
		out:       w,
		mu:        &sync.Mutex{},
	}
}

// Sub derives a Logger for a sub-component, keeping the verbosity level.
func (l Logger) Sub(component string) Logger {
	sub := l
	sub.Component = component
	return sub
}

// Enabled reports whether the logger emits anything at all.
func (l Logger) Enabled() bool {
	return l.Verbosity > 0 && l.out != nil
}

// Infof logs an INFO line when verbosity > 0.
func (l Logger) Infof(format string, args ...any) {
	l.emit("INFO", format, args...)
}

// Warnf logs a WARNING line when verbosity > 0.
func (l Logger) Warnf(format string, args ...any) {
	l.emit("WARNING", format, args...)
}

// Debugf logs a DEBUG line when verbosity > 1.
func (l Logger) Debugf(format string, args ...any) {
	if l.Verbosity > 1 {
		l.emit("DEBUG", format, args...)
	}
}

func (l Logger) emit(level, format string, args ...any) {
	if !l.Enabled() {
		return
	}

	file, fn, line := callerInfo(3)
	ts := time.Now().UTC().Format("2006-01-02 15:04:05,000")
	msg := fmt.Sprintf(format, args...)

	l.mu.Lock()
	fmt.Fprintf(l.out, "%s %s %s - %s\n",
		TS(fmt.Sprintf("[%s]", ts)),
		Dim(fmt.Sprintf("{%s:%s:%d}", file, fn, line)),
		level,
		msg,
	)
	l.mu.Unlock()
}

// callerInfo resolves the file, function, and line of the logging call site.
// skip counts frames above callerInfo itself.
func callerInfo(skip int) (file, fn string, line int) {
	pc, path, line, ok := runtime.Caller(skip)
	if !ok {
		return "???", "???", 0
	}
	file = filepath.Base(path)

	fn = "???"
	if f := runtime.FuncForPC(pc); f != nil {
		fn = f.Name()
		// Trim package path: "abide_site_adaptation.fetchDataset" -> "fetchDataset"
		if i := strings.LastIndex(fn, "."); i >= 0 {
			fn = fn[i+1:]
		}
	}
	return file, fn, line
}
