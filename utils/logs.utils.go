package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Logger is the five-severity logger shared by the sessions and the relay.
// *logrus.Logger and *logrus.Entry both satisfy it.
type Logger interface {
	Tracef(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// CreateLogger writes to stdout and, when logDir is not empty, to doorbell.log
// inside it. The returned file must be closed by the caller (it is nil when no
// file is used).
func CreateLogger(logDir string) (*logrus.Logger, *os.File, error) {
	logger := logrus.New()
	logger.SetLevel(logrus.TraceLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})

	if logDir == "" {
		logger.SetOutput(os.Stdout)
		return logger, nil, nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	logPath := filepath.Join(logDir, "doorbell.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	logger.SetOutput(io.MultiWriter(os.Stdout, logFile))
	logger.Debugf("Logger initialized, writing to %s", logPath)
	return logger, logFile, nil
}
