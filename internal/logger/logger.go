// Package logger wraps a zap.SugaredLogger behind the small call-site surface
// the rest of this module uses: Debugw/Infow/Warnw/Errorw/Fatal plus With for
// deriving per-chain loggers. Keeping the facade thin means tests can swap in
// zap's no-op logger without touching call sites.
package logger

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the sugared facade used throughout the indexer.
type Logger struct {
	sugar *zap.SugaredLogger
}

var global = New(zap.NewNop())

// New wraps a *zap.Logger.
func New(z *zap.Logger) *Logger {
	return &Logger{sugar: z.Sugar()}
}

// SetGlobal installs l as the package-level default returned by Default.
func SetGlobal(l *Logger) { global = l }

// Default returns the process-wide logger installed by SetGlobal, or a no-op
// logger if none has been installed (useful in tests).
func Default() *Logger { return global }

// With returns a derived logger with the given key/value pairs attached to
// every subsequent log line, mirroring logger.With("chain", name) call sites.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(args...)}
}

func (l *Logger) Debugw(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l *Logger) Infow(msg string, kv ...interface{})  { l.sugar.Infow(msg, kv...) }
func (l *Logger) Warnw(msg string, kv ...interface{})  { l.sugar.Warnw(msg, kv...) }
func (l *Logger) Errorw(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }
func (l *Logger) Fatal(args ...interface{})            { l.sugar.Fatal(args...) }
func (l *Logger) Sync() error                          { return l.sugar.Sync() }

// NewProduction builds the process logger: JSON-encoded lines written to both
// stdout and a file under logDir named for the UTC date at startup
// (evm-indexer-YYYY-MM-DD.log, opened for append) directly over os.File. The
// file is chosen once; it is not switched to a new date's file while the
// process keeps running.
func NewProduction(logDir string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	file, err := openDailyLogFile(logDir)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zapcore.InfoLevel),
		zapcore.NewCore(encoder, zapcore.AddSync(file), zapcore.DebugLevel),
	)

	return New(zap.New(core, zap.AddCaller())), nil
}

func openDailyLogFile(logDir string) (*os.File, error) {
	name := "evm-indexer-" + time.Now().UTC().Format("2006-01-02") + ".log"
	return os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
