// Package logutil writes structured JSON log lines through the standard logger.
package logutil

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// Level orders log severities.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var minLevel atomic.Int32

func init() {
	minLevel.Store(int32(ParseLevel(os.Getenv("LOG_LEVEL"))))
}

// ParseLevel maps a level name to a Level, defaulting to info.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetLevel changes the minimum level that is written.
func SetLevel(l Level) {
	minLevel.Store(int32(l))
}

// Debug logs high-volume diagnostic detail such as skipped frames.
func Debug(msg string, fields map[string]interface{}) {
	logJSON(LevelDebug, "debug", msg, fields)
}

// Info logs a structured info message.
func Info(msg string, fields map[string]interface{}) {
	logJSON(LevelInfo, "info", msg, fields)
}

// Warn logs a recoverable problem.
func Warn(msg string, fields map[string]interface{}) {
	logJSON(LevelWarn, "warn", msg, fields)
}

// Error logs a structured error message including the error string.
func Error(msg string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	logJSON(LevelError, "error", msg, fields)
}

func logJSON(level Level, name, msg string, fields map[string]interface{}) {
	if level < Level(minLevel.Load()) {
		return
	}
	entry := map[string]interface{}{
		"level":     name,
		"message":   msg,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range fields {
		entry[k] = v
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		log.Printf("%s: %+v", msg, fields)
		return
	}
	log.Printf("%s", payload)
}
