package xraylog

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/shogo82148/xray-dispatcher-go/internal/envconfig"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewDefaultLogger(&buf, LogLevelWarn)
	ctx := WithLogger(context.Background(), logger)

	Debug(ctx, "debug")
	Info(ctx, "info")
	Warn(ctx, "warn")
	Error(ctx, "error")

	lines := strings.Split(buf.String(), "\n")
	if !strings.HasSuffix(lines[0], " [WARN] warn") {
		t.Errorf("expected first line to be warn, got %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], " [ERROR] error") {
		t.Errorf("expected first line to be error, got %q", lines[1])
	}
}

func BenchmarkLogError(b *testing.B) {
	logger := NewDefaultLogger(io.Discard, LogLevelWarn)
	ctx := WithLogger(context.Background(), logger)
	for i := 0; i < b.N; i++ {
		Errorf(ctx, "something wrong: %v", "foobar")
	}
}

func BenchmarkLogDebug(b *testing.B) {
	logger := NewDefaultLogger(io.Discard, LogLevelWarn)
	ctx := WithLogger(context.Background(), logger)
	for i := 0; i < b.N; i++ {
		Debugf(ctx, "something wrong: %v", "foobar")
	}
}

func TestLogger_Silent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewDefaultLogger(&buf, LogLevelSilent)
	ctx := WithLogger(context.Background(), logger)

	Error(ctx, "error")
	if buf.Len() != 0 {
		t.Errorf("want no output, got %q", buf.String())
	}
}

func TestLevelFromEnv(t *testing.T) {
	tests := []struct {
		env  envconfig.Env
		want LogLevel
	}{
		{env: envconfig.Env{}, want: LogLevelInfo},
		{env: envconfig.Env{LogLevel: "warn"}, want: LogLevelWarn},
		{env: envconfig.Env{LogLevel: "silent"}, want: LogLevelSilent},
		{env: envconfig.Env{LogLevel: "error", DebugMode: "1"}, want: LogLevelDebug},
	}
	for _, tt := range tests {
		env := tt.env
		if got := levelFromEnv(&env); got != tt.want {
			t.Errorf("%+v: want %s, got %s", tt.env, tt.want, got)
		}
	}
}
