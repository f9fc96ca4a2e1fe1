// Package logging provides the minimal leveled logger used across the
// coordinator packages. It mirrors a small broker's own logger rather
// than pulling in a full structured-logging framework.
package logging

import (
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
)

// logging levels
const (
	DEBUG = "DEBUG"
	INFO  = "INFO"
	WARN  = "WARN"
	ERROR = "ERROR"
)

// LogLevel defines the current logging level (default is INFO)
var LogLevel = "INFO"

var levelColor = map[string]*color.Color{
	DEBUG: color.New(color.FgCyan),
	INFO:  color.New(color.FgGreen),
	WARN:  color.New(color.FgYellow),
	ERROR: color.New(color.FgRed, color.Bold),
}

var levels = map[string]int{
	DEBUG: 1,
	INFO:  2,
	WARN:  3,
	ERROR: 4,
}

// SetLogLevel sets the log level for filtering logs
func SetLogLevel(logLevel string) {
	LogLevel = logLevel
}

// Log writes a log message at a specified level, formatted with optional arguments
func Log(level, message string, a ...any) {
	// Log only if the message level is greater than or equal to the current LogLevel
	if levels[level] >= levels[LogLevel] {
		log.SetOutput(os.Stdout)
		prefix := fmt.Sprintf("[%s]", level)
		if c, ok := levelColor[level]; ok {
			prefix = c.Sprint(prefix)
		}
		log.Printf("%s %s\n", prefix, fmt.Sprintf(message, a...))
	}
}

// Debug logs a message at DEBUG level
func Debug(message string, a ...any) {
	Log(DEBUG, message, a...)
}

// Info logs a message at INFO level
func Info(message string, a ...any) {
	Log(INFO, message, a...)
}

// Warn logs a message at WARN level
func Warn(message string, a ...any) {
	Log(WARN, message, a...)
}

// Error logs a message at ERROR level
func Error(message string, a ...any) {
	Log(ERROR, message, a...)
}

// Panic exits with a panic
func Panic(message string, a ...any) {
	panic(fmt.Sprintf(message, a...))
}
