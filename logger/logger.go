package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	// InfoLogger writes informational output (stdout plus the info log file).
	InfoLogger *logrus.Logger
	// ErrorLogger writes error output (stderr plus the error log file).
	ErrorLogger *logrus.Logger
)

// Config selects the log destinations and the minimum level.
type Config struct {
	InfoLogPath  string
	ErrorLogPath string
	Level        string
}

// lineFormatter renders one log line as [time] [LEVL] (file:line) message.
type lineFormatter struct {
	TimestampFormat string
}

func (f *lineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	ts := entry.Time.Format(f.TimestampFormat)
	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	return []byte(fmt.Sprintf("[%s] [%s] (%s) %s\n", ts, level, caller(), entry.Message)), nil
}

// caller walks past the logrus frames to the frame that issued the log call.
func caller() string {
	for i := 4; i < 16; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "sirupsen") || strings.HasSuffix(file, "logger/logger.go") {
			continue
		}
		return fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	return "?:0"
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// Init builds the package loggers. It never fails hard on an unwritable log
// file; output falls back to the console stream instead.
func Init(cfg Config) error {
	formatter := &lineFormatter{TimestampFormat: "15:04:05 2006/01/02"}

	InfoLogger = logrus.New()
	InfoLogger.SetLevel(parseLevel(cfg.Level))
	InfoLogger.SetFormatter(formatter)
	InfoLogger.SetOutput(combined(os.Stdout, cfg.InfoLogPath, InfoLogger))

	ErrorLogger = logrus.New()
	ErrorLogger.SetLevel(parseLevel(cfg.Level))
	ErrorLogger.SetFormatter(formatter)
	ErrorLogger.SetOutput(combined(os.Stderr, cfg.ErrorLogPath, ErrorLogger))

	return nil
}

func combined(console io.Writer, path string, l *logrus.Logger) io.Writer {
	if path == "" {
		return console
	}
	f, err := openLogFile(path)
	if err != nil {
		l.Warnf("cannot open log file %s, console only: %v", path, err)
		return console
	}
	return io.MultiWriter(console, f)
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func Info(args ...interface{}) {
	if InfoLogger != nil {
		InfoLogger.Info(args...)
	}
}

func Infof(format string, args ...interface{}) {
	if InfoLogger != nil {
		InfoLogger.Infof(format, args...)
	}
}

func Debug(args ...interface{}) {
	if InfoLogger != nil {
		InfoLogger.Debug(args...)
	}
}

func Debugf(format string, args ...interface{}) {
	if InfoLogger != nil {
		InfoLogger.Debugf(format, args...)
	}
}

func Warn(args ...interface{}) {
	if InfoLogger != nil {
		InfoLogger.Warn(args...)
	}
}

func Warnf(format string, args ...interface{}) {
	if InfoLogger != nil {
		InfoLogger.Warnf(format, args...)
	}
}

func Error(args ...interface{}) {
	if ErrorLogger != nil {
		ErrorLogger.Error(args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if ErrorLogger != nil {
		ErrorLogger.Errorf(format, args...)
	}
}

func Fatalf(format string, args ...interface{}) {
	if ErrorLogger != nil {
		ErrorLogger.Fatalf(format, args...)
	} else {
		panic(fmt.Sprintf(format, args...))
	}
}
