package definition

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	colorable "github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"

	"github.com/jabolina/go-ptpsim/pkg/ptpsim/types"
)

// NewDefaultLogger returns the logger used if the caller does not provide
// its own implementation. It writes bracketed, level-colored lines to
// stderr, e.g. "2024-05-01T15:04:05Z [ERROR]: node A terminated: EOF".
func NewDefaultLogger() *DefaultLogger {
	l := logrus.New()
	l.SetOutput(colorable.NewColorableStderr())
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(bracketFormatter{})
	return &DefaultLogger{entry: logrus.NewEntry(l)}
}

// DefaultLogger implements types.Logger on top of logrus.
type DefaultLogger struct {
	entry *logrus.Entry
}

var _ types.Logger = (*DefaultLogger)(nil)

func (l *DefaultLogger) Info(v ...interface{})                  { l.entry.Info(v...) }
func (l *DefaultLogger) Infof(format string, v ...interface{})  { l.entry.Infof(format, v...) }
func (l *DefaultLogger) Warn(v ...interface{})                  { l.entry.Warn(v...) }
func (l *DefaultLogger) Warnf(format string, v ...interface{})  { l.entry.Warnf(format, v...) }
func (l *DefaultLogger) Error(v ...interface{})                 { l.entry.Error(v...) }
func (l *DefaultLogger) Errorf(format string, v ...interface{}) { l.entry.Errorf(format, v...) }
func (l *DefaultLogger) Debug(v ...interface{})                 { l.entry.Debug(v...) }
func (l *DefaultLogger) Debugf(format string, v ...interface{}) { l.entry.Debugf(format, v...) }
func (l *DefaultLogger) Fatal(v ...interface{})                 { l.entry.Fatal(v...) }
func (l *DefaultLogger) Fatalf(format string, v ...interface{}) { l.entry.Fatalf(format, v...) }
func (l *DefaultLogger) Panic(v ...interface{})                 { l.entry.Panic(v...) }
func (l *DefaultLogger) Panicf(format string, v ...interface{}) { l.entry.Panicf(format, v...) }

func (l *DefaultLogger) ToggleDebug(value bool) bool {
	if value {
		l.entry.Logger.SetLevel(logrus.DebugLevel)
	} else {
		l.entry.Logger.SetLevel(logrus.InfoLevel)
	}
	return value
}

// bracketFormatter renders "<time> [LEVEL]: <message>" with the level
// bracket colored per severity.
type bracketFormatter struct{}

func (bracketFormatter) Format(e *logrus.Entry) ([]byte, error) {
	badge := levelColor(e.Level).Sprintf("[%s]", levelName(e.Level))
	line := fmt.Sprintf("%s %s: %s\n", e.Time.Format(time.RFC3339), badge, e.Message)
	return []byte(line), nil
}

func levelName(level logrus.Level) string {
	switch level {
	case logrus.DebugLevel:
		return "DEBUG"
	case logrus.InfoLevel:
		return "INFO"
	case logrus.WarnLevel:
		return "WARN"
	case logrus.ErrorLevel:
		return "ERROR"
	case logrus.FatalLevel:
		return "FATAL"
	case logrus.PanicLevel:
		return "PANIC"
	default:
		return "LOG"
	}
}

func levelColor(level logrus.Level) *color.Color {
	switch level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return color.New(color.FgRed, color.Bold)
	case logrus.WarnLevel:
		return color.New(color.FgYellow)
	case logrus.DebugLevel:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgGreen)
	}
}
