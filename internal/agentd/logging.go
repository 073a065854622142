package agentd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jmagar/dash-sub004/internal/logger"
)

var (
	debugTag = color.New(color.FgHiBlack).Sprint("DBG")
	infoTag  = color.New(color.FgCyan).Sprint("INF")
	warnTag  = color.New(color.FgYellow).Sprint("WRN")
	errorTag = color.New(color.FgRed, color.Bold).Sprint("ERR")
)

// fileLogger writes colored lines to the console and plain rotated lines to
// the agent log file.
type fileLogger struct {
	file *lumberjack.Logger
}

// NewLogger builds the agent logger, rotating agent.log inside dir.
func NewLogger(dir string) logger.Logger {
	return &fileLogger{
		file: &lumberjack.Logger{
			Filename:   filepath.Join(dir, "agent.log"),
			MaxSize:    10, // MB
			MaxBackups: 3,
			Compress:   true,
		},
	}
}

func (l *fileLogger) write(tag, level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Printf("%s %s\n", tag, msg)
	fmt.Fprintf(l.file, "%s %s %s\n", time.Now().Format(time.RFC3339), level, msg)
}

func (l *fileLogger) Debug(format string, args ...interface{}) {
	l.write(debugTag, "DEBUG", format, args...)
}

func (l *fileLogger) Info(format string, args ...interface{}) {
	l.write(infoTag, "INFO", format, args...)
}

func (l *fileLogger) Warn(format string, args ...interface{}) {
	l.write(warnTag, "WARN", format, args...)
}

func (l *fileLogger) Error(format string, args ...interface{}) {
	l.write(errorTag, "ERROR", format, args...)
}
