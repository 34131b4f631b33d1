package vm

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapHost_LogLevelMapping(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	host := NewZapHost(zap.New(core))

	cases := []struct {
		level LogLevel
		want  zapcore.Level
	}{
		{LogTrace, zapcore.DebugLevel},
		{LogDebug, zapcore.DebugLevel},
		{LogInfo, zapcore.InfoLevel},
		{LogWarn, zapcore.WarnLevel},
		{LogError, zapcore.ErrorLevel},
		{LogCritical, zapcore.ErrorLevel},
	}
	for _, tc := range cases {
		host.Log(tc.level, "auth", "msg")
	}

	entries := logs.All()
	if len(entries) != len(cases) {
		t.Fatalf("entries = %d, want %d", len(entries), len(cases))
	}
	for i, tc := range cases {
		if entries[i].Level != tc.want {
			t.Errorf("level %d logged at %v, want %v", tc.level, entries[i].Level, tc.want)
		}
	}
}

func TestZapHost_LogCarriesModuleName(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	host := NewZapHost(zap.New(core))

	host.Log(LogInfo, "ratelimit", "over quota")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["module"] != "ratelimit" {
		t.Errorf("module field = %v, want ratelimit", fields["module"])
	}
	if entries[0].Message != "over quota" {
		t.Errorf("message = %q", entries[0].Message)
	}
}

func TestZapHost_NilLogger(t *testing.T) {
	host := NewZapHost(nil)
	host.Log(LogInfo, "m", "should not panic")
}

func TestZapHost_Clocks(t *testing.T) {
	host := NewZapHost(zap.NewNop())

	now := time.Now().UnixNano()
	got := host.CurrentTimeNanos()
	if diff := got - now; diff < 0 || diff > int64(time.Minute) {
		t.Errorf("CurrentTimeNanos drifted: %d vs %d", got, now)
	}

	first := host.MonotonicTimeNanos()
	time.Sleep(time.Millisecond)
	second := host.MonotonicTimeNanos()
	if first < 0 || second <= first {
		t.Errorf("monotonic clock not advancing: %d then %d", first, second)
	}
}

func TestNewPlugin(t *testing.T) {
	p := NewPlugin("auth")
	if p.Name != "auth" || p.RootID != "auth" || p.VMID != "auth" {
		t.Errorf("plugin identity = %+v", p)
	}
	if p.Engine != "wazero" {
		t.Errorf("engine = %q", p.Engine)
	}
}
