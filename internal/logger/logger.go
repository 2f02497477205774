package logger

import (
	"log"
	"os"
	"strings"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

type Logger struct {
	level LogLevel
}

// ParseLevel maps a level name to a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func NewLogger() *Logger {
	lvl := INFO
	if os.Getenv("NEST_BRIDGE_DEBUG") == "1" {
		lvl = DEBUG
	}
	return &Logger{level: lvl}
}

// NewLoggerWithLevel creates a logger at an explicit level (from config).
func NewLoggerWithLevel(lvl LogLevel) *Logger {
	return &Logger{level: lvl}
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	if l.level <= DEBUG {
		log.Printf("[DEBUG] "+msg, args...)
	}
}
func (l *Logger) Info(msg string, args ...interface{}) {
	if l.level <= INFO {
		log.Printf("[INFO] "+msg, args...)
	}
}
func (l *Logger) Warn(msg string, args ...interface{}) {
	if l.level <= WARN {
		log.Printf("[WARN] "+msg, args...)
	}
}
func (l *Logger) Error(msg string, args ...interface{}) {
	if l.level <= ERROR {
		log.Printf("[ERROR] "+msg, args...)
	}
}
func (l *Logger) Fatal(msg string, args ...interface{}) {
	if l.level <= FATAL {
		log.Printf("[FATAL] "+msg, args...)
		os.Exit(1)
	}
}
