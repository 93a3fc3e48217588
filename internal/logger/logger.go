// Package logger предоставляет логирование с префиксом сервиса поверх zap.
// Поддерживается логирование времени выполнения функций.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// slowThreshold: при уровне info логируются только вызовы дольше этого порога.
const slowThreshold = 100 * time.Millisecond

var (
	mu     sync.RWMutex
	base   *zap.Logger
	prefix string
	debug  bool
	once   sync.Once
)

func initDefault() {
	mu.Lock()
	defer mu.Unlock()
	if base == nil {
		base, debug = build(os.Getenv("LOG_LEVEL"))
	}
}

func build(level string) (*zap.Logger, bool) {
	lvl := zapcore.InfoLevel
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	l, err := cfg.Build()
	if err != nil {
		return zap.NewExample(), lvl == zapcore.DebugLevel
	}
	return l, lvl == zapcore.DebugLevel
}

// Init пересоздаёт логгер с указанным уровнем (debug|info|warn|error).
func Init(level string) {
	l, dbg := build(level)
	once.Do(func() {})
	mu.Lock()
	old := base
	base = l
	debug = dbg
	mu.Unlock()
	if old != nil {
		_ = old.Sync()
	}
}

// Use подменяет логгер (в тестах: logger.Use(zap.NewNop())).
func Use(l *zap.Logger) {
	once.Do(func() {})
	mu.Lock()
	base = l
	mu.Unlock()
}

// L возвращает структурированный логгер с полем service.
func L() *zap.Logger {
	once.Do(initDefault)
	mu.RLock()
	defer mu.RUnlock()
	if prefix == "" {
		return base
	}
	return base.With(zap.String("service", prefix))
}

// Sync сбрасывает буферы (вызывать перед выходом из main).
func Sync() {
	_ = L().Sync()
}

// SetPrefix задаёт префикс для всех последующих логов (например "api", "seed").
func SetPrefix(p string) {
	mu.Lock()
	prefix = p
	mu.Unlock()
}

// Info пишет сообщение уровня info.
func Info(v ...any) {
	L().Info(fmt.Sprint(v...))
}

// Infof форматирует и пишет сообщение уровня info.
func Infof(format string, v ...any) {
	L().Info(fmt.Sprintf(format, v...))
}

// Error пишет ошибку.
func Error(v ...any) {
	L().Error(fmt.Sprint(v...))
}

// Errorf форматирует ошибку.
func Errorf(format string, v ...any) {
	L().Error(fmt.Sprintf(format, v...))
}

// LogDuration логирует имя функции и время выполнения в миллисекундах.
// При LOG_LEVEL=info логирует только вызовы дольше 100ms; при LOG_LEVEL=debug: все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	mu.RLock()
	dbg := debug
	mu.RUnlock()
	if dbg || elapsed >= slowThreshold {
		L().Info("duration", zap.String("fn", fn), zap.Int64("duration_ms", elapsed.Milliseconds()))
	}
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("HandlerName", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
