// pattern: Imperative Shell

package logging

import (
	"log/slog"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tmuxdeck/internal/debuglog"
)

// NopLogger returns a logger that discards all output.
// Use in tests or when logging is not configured.
func NopLogger() *ScopedLogger {
	return &ScopedLogger{
		slog:  nil, // nil slog means all logging is no-op
		zap:   nil,
		scope: "",
	}
}

// TestLogManager is a LoggerProvider for tests: no file, no rotation, all
// output lands in an inspectable debug ring.
type TestLogManager struct {
	ring    *debuglog.Ring
	baseZap *zap.Logger
	loggers map[string]*ScopedLogger
	mu      sync.RWMutex
}

// NewTestLogManager creates a manager whose only sink is a ring of the
// given capacity.
func NewTestLogManager(capacity int) *TestLogManager {
	ring := debuglog.NewRing(capacity)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.EpochTimeEncoder
	encoderCfg.EncodeLevel = zapcore.LowercaseLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(ring),
		zapcore.DebugLevel,
	)

	return &TestLogManager{
		ring:    ring,
		baseZap: zap.New(core),
		loggers: make(map[string]*ScopedLogger),
	}
}

// For returns a scoped logger for the given scope name.
// Named For() to match the production Manager API.
func (m *TestLogManager) For(scope string) *ScopedLogger {
	m.mu.RLock()
	if logger, ok := m.loggers[scope]; ok {
		m.mu.RUnlock()
		return logger
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if logger, ok := m.loggers[scope]; ok {
		return logger
	}

	zapLogger := m.baseZap.Named(scope)
	slogHandler := &zapSlogHandler{
		zap:   zapLogger,
		level: zapcore.DebugLevel,
	}

	logger := &ScopedLogger{
		slog:  slog.New(slogHandler),
		zap:   zapLogger,
		scope: scope,
	}

	m.loggers[scope] = logger
	return logger
}

// Ring exposes the captured entries for assertions.
func (m *TestLogManager) Ring() *debuglog.Ring {
	return m.ring
}

// Close flushes the underlying logger.
func (m *TestLogManager) Close() error {
	return m.baseZap.Sync()
}
