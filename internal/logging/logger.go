// Package logging provides categorized structured logging for rulecast.
// Every pipeline stage logs through a named zap sub-logger; Init wires the
// real logger once at startup and everything before (or without) Init is a
// silent no-op, so library code can log unconditionally.
package logging

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a pipeline stage's logger.
type Category string

const (
	CategoryParser  Category = "parser"
	CategoryGraph   Category = "graph"
	CategoryEval    Category = "eval"
	CategoryEmit    Category = "emit"
	CategoryRun     Category = "run"
	CategoryGrade   Category = "grade"
	CategoryExplain Category = "explain"
	CategoryWatch   Category = "watch"
	CategoryCLI     Category = "cli"
)

var (
	mu      sync.RWMutex
	base    = zap.NewNop()
	loggers = map[Category]*zap.Logger{}
)

// Init builds the process logger. Verbose switches to a development config
// at debug level; otherwise production config with ISO8601 timestamps.
func Init(verbose bool) error {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	SetBase(logger)
	return nil
}

// SetBase swaps the root logger. Tests use this with zaptest or observers.
func SetBase(logger *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = logger
	loggers = map[Category]*zap.Logger{}
}

// L returns the named sub-logger for a category.
func L(cat Category) *zap.Logger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	l := base.Named(string(cat))
	loggers[cat] = l
	return l
}

// Sync flushes buffered entries. Call at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}

// Timer measures one operation and logs its duration when stopped.
type Timer struct {
	cat   Category
	op    string
	start time.Time
}

// StartTimer begins timing an operation.
func StartTimer(cat Category, op string) *Timer {
	return &Timer{cat: cat, op: op, start: time.Now()}
}

// Stop logs the elapsed time at debug level and returns it.
func (t *Timer) Stop(fields ...zap.Field) time.Duration {
	elapsed := time.Since(t.start)
	L(t.cat).Debug(t.op+" completed",
		append([]zap.Field{zap.Duration("elapsed", elapsed)}, fields...)...)
	return elapsed
}

// StopWithThreshold logs a warning instead when the operation ran long.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		L(t.cat).Warn(t.op+" ran long",
			zap.Duration("elapsed", elapsed), zap.Duration("threshold", threshold))
		return elapsed
	}
	L(t.cat).Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}
