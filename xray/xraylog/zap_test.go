package xraylog

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx := WithLogger(context.Background(), NewZapLogger(zap.New(core)))

	Debugf(ctx, "debug %d", 1)
	Infof(ctx, "info %d", 2)
	Errorf(ctx, "error %d", 3)

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("want 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "info 2" || entries[0].Level != zapcore.InfoLevel {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
	if entries[1].Message != "error 3" || entries[1].Level != zapcore.ErrorLevel {
		t.Errorf("unexpected entry: %+v", entries[1])
	}
}
