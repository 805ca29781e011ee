package logger

import (
	"io"
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	InfoLogger  = log.New(io.Discard, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLogger = log.New(io.Discard, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
	logFile     *lumberjack.Logger
)

// Options controls where the log file lives and how it rotates.
type Options struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

// Init initializes the loggers and creates/opens the log file
func Init(opts Options) error {
	Cleanup()

	logFile = &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}

	InfoLogger.SetOutput(logFile)
	ErrorLogger.SetOutput(logFile)
	return nil
}

// RotateLog starts a fresh log file, keeping the previous one as a backup
func RotateLog() error {
	if logFile == nil {
		return nil
	}
	return logFile.Rotate()
}

// SetOutput redirects both loggers, mainly for tests.
func SetOutput(w io.Writer) {
	InfoLogger.SetOutput(w)
	ErrorLogger.SetOutput(w)
}

// Cleanup closes the log file when the application is done using it
func Cleanup() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// Info logs an informational message to the log file
func Info(v ...interface{}) {
	InfoLogger.Println(v...)
}

// Error logs an error message to the log file
func Error(v ...interface{}) {
	ErrorLogger.Println(v...)
}
