// Package logger provides component-scoped structured logging on top of zap.
//
// Call sites name the component they log for ("onebot", "router", ...) and
// optionally attach a field map:
//
//	logger.InfoCF("onebot", "WebSocket connected", map[string]interface{}{"url": url})
package logger

import (
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	mu     sync.RWMutex
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base   = build(false, zapcore.AddSync(os.Stderr))
	levels = map[LogLevel]zapcore.Level{
		DEBUG: zapcore.DebugLevel,
		INFO:  zapcore.InfoLevel,
		WARN:  zapcore.WarnLevel,
		ERROR: zapcore.ErrorLevel,
	}
)

func build(jsonOutput bool, out zapcore.WriteSyncer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if jsonOutput {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	return zap.New(zapcore.NewCore(enc, out, level))
}

// Configure switches the output encoding. JSON output is meant for log shippers.
func Configure(jsonOutput bool) {
	mu.Lock()
	defer mu.Unlock()
	_ = base.Sync()
	base = build(jsonOutput, zapcore.AddSync(os.Stderr))
}

// SetOutput redirects log output, mostly useful in tests.
func SetOutput(w zapcore.WriteSyncer, jsonOutput bool) {
	mu.Lock()
	defer mu.Unlock()
	base = build(jsonOutput, w)
}

func SetLevel(l LogLevel) {
	if zl, ok := levels[l]; ok {
		level.SetLevel(zl)
	}
}

// ParseLevel maps a config string to a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func GetLevel() LogLevel {
	switch level.Level() {
	case zapcore.DebugLevel:
		return DEBUG
	case zapcore.WarnLevel:
		return WARN
	case zapcore.ErrorLevel:
		return ERROR
	default:
		return INFO
	}
}

func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}

func logMessage(lvl zapcore.Level, component, message string, fields map[string]interface{}) {
	mu.RLock()
	l := base
	mu.RUnlock()

	if component != "" {
		l = l.Named(component)
	}
	ce := l.Check(lvl, message)
	if ce == nil {
		return
	}
	ce.Write(zapFields(fields)...)
}

func zapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

func Debug(message string) {
	logMessage(zapcore.DebugLevel, "", message, nil)
}

func DebugC(component string, message string) {
	logMessage(zapcore.DebugLevel, component, message, nil)
}

func DebugCF(component string, message string, fields map[string]interface{}) {
	logMessage(zapcore.DebugLevel, component, message, fields)
}

func Info(message string) {
	logMessage(zapcore.InfoLevel, "", message, nil)
}

func InfoC(component string, message string) {
	logMessage(zapcore.InfoLevel, component, message, nil)
}

func InfoCF(component string, message string, fields map[string]interface{}) {
	logMessage(zapcore.InfoLevel, component, message, fields)
}

func Warn(message string) {
	logMessage(zapcore.WarnLevel, "", message, nil)
}

func WarnC(component string, message string) {
	logMessage(zapcore.WarnLevel, component, message, nil)
}

func WarnCF(component string, message string, fields map[string]interface{}) {
	logMessage(zapcore.WarnLevel, component, message, fields)
}

func Error(message string) {
	logMessage(zapcore.ErrorLevel, "", message, nil)
}

func ErrorC(component string, message string) {
	logMessage(zapcore.ErrorLevel, component, message, nil)
}

func ErrorCF(component string, message string, fields map[string]interface{}) {
	logMessage(zapcore.ErrorLevel, component, message, fields)
}
