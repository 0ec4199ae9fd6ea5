// Package mmclog wires the leveled, component-tagged logging used across
// MetaSvc, LocalSvc and the client library on top of logrus. The teacher
// codebase logs with bare fmt/log; this system's config surface names a
// log_level and log-rotation knobs explicitly (spec §6), so a structured
// logger is the ambient choice rather than stdlib log.
package mmclog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Level mirrors the four values the config schema accepts.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) logrusLevel() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger is a thin, component-scoped wrapper over *logrus.Entry. Every
// mmc component (metamgr, alloc, localsvc, client, rpc) asks for one via
// Component so log lines are consistently tagged without every call site
// repeating a "component" field.
type Logger struct {
	entry *logrus.Entry
}

// New builds a root Logger at the given level, writing to w (os.Stderr in
// production; tests pass an in-memory buffer). Rotation is handled by an
// external log-rotation collector per spec §1 non-goals; this package only
// honors rotationFileSize/rotationFileCount as metadata surfaced to that
// collector via the logged fields, matching how the teacher treats
// injected/external concerns.
func New(level Level, w io.Writer, rotationFileSize, rotationFileCount int) *Logger {
	if w == nil {
		w = os.Stderr
	}
	base := logrus.New()
	base.SetOutput(w)
	base.SetLevel(level.logrusLevel())
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	entry := logrus.NewEntry(base)
	if rotationFileSize > 0 {
		entry = entry.WithField("log_rotation_file_size", rotationFileSize)
	}
	if rotationFileCount > 0 {
		entry = entry.WithField("log_rotation_file_count", rotationFileCount)
	}
	return &Logger{entry: entry}
}

// Component returns a Logger scoped to the named component, e.g.
// Component("metamgr") or Component("localsvc.rank3").
func (l *Logger) Component(name string) *Logger {
	return &Logger{entry: l.entry.WithField("component", name)}
}

func (l *Logger) With(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

// Nop returns a Logger that discards everything, used by tests and
// embedded example code that doesn't care about log output.
func Nop() *Logger {
	return New(LevelError, io.Discard, 0, 0)
}
