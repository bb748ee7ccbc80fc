package log

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn\n", slog.LevelWarn},
		{"Error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLevel(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseLevel_Invalid(t *testing.T) {
	for _, in := range []string{"", "trace", "fatal", "info error"} {
		_, err := ParseLevel(in)
		if err == nil {
			t.Errorf("ParseLevel(%q) should return error", in)
			continue
		}
		if !strings.Contains(err.Error(), "debug|info|warn|error") {
			t.Errorf("error should list valid levels, got: %s", err)
		}
	}
}

func TestNew_AllMethodsCallable(t *testing.T) {
	l, err := New(Options{App: "assetsync", Writer: io.Discard})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	l.Debug(ctx, "debug")
	l.Info(ctx, "info")
	l.Warn(ctx, "warn")
	l.Error(ctx, errors.New("boom"), "error")
	if l.With("k", "v") == nil {
		t.Fatal("With returned nil")
	}
	if err := l.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func TestContext_RoundTrip(t *testing.T) {
	l, _ := New(Options{App: "assetsync", Writer: io.Discard})
	ctx := WithContext(context.Background(), l)
	if FromContext(ctx) != l {
		t.Fatal("FromContext returned a different logger than what was stored")
	}
}

func TestFromContext_FallsBackToNop(t *testing.T) {
	for name, ctx := range map[string]context.Context{
		"empty":      context.Background(),
		"nil logger": context.WithValue(context.Background(), ctxKey{}, nil),
		"wrong type": context.WithValue(context.Background(), ctxKey{}, "not a logger"),
	} {
		got := FromContext(ctx)
		if _, ok := got.(nopLogger); !ok {
			t.Errorf("%s: FromContext = %T, want nopLogger", name, got)
		}
	}
}

func TestNop_SafeAndSelfReturning(t *testing.T) {
	l := Nop()
	ctx := context.Background()
	l.Debug(ctx, "m", "k", "v")
	l.Info(ctx, "m")
	l.Warn(ctx, "m")
	l.Error(ctx, errors.New("e"), "m")
	if _, ok := l.With("k", 1).(nopLogger); !ok {
		t.Fatal("Nop().With should stay a nop")
	}
	if err := l.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}
