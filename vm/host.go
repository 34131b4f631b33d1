package vm

import (
	"time"

	"go.uber.org/zap"
)

// LogLevel mirrors the proxy-wasm log level enumeration.
type LogLevel uint32

const (
	LogTrace LogLevel = iota
	LogDebug
	LogInfo
	LogWarn
	LogError
	LogCritical
)

// HostIntegration supplies the logging and clock capabilities the VM
// exposes to filter modules. One instance is shared by every module,
// so guest log lines carry the emitting module's name.
type HostIntegration interface {
	Log(level LogLevel, module, message string)
	CurrentTimeNanos() int64
	MonotonicTimeNanos() int64
}

// ZapHost is the standard HostIntegration backed by a zap logger and
// the system clocks.
type ZapHost struct {
	logger *zap.Logger
	start  time.Time
}

// NewZapHost returns a HostIntegration logging through logger. A nil
// logger falls back to a no-op logger.
func NewZapHost(logger *zap.Logger) *ZapHost {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapHost{logger: logger, start: time.Now()}
}

func (h *ZapHost) Log(level LogLevel, module, message string) {
	logger := h.logger.With(zap.String("module", module))
	switch level {
	case LogTrace, LogDebug:
		logger.Debug(message)
	case LogInfo:
		logger.Info(message)
	case LogWarn:
		logger.Warn(message)
	default:
		logger.Error(message)
	}
}

func (h *ZapHost) CurrentTimeNanos() int64 {
	return time.Now().UnixNano()
}

func (h *ZapHost) MonotonicTimeNanos() int64 {
	return int64(time.Since(h.start))
}
