package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		name  string
		json  bool
		debug bool
		want  zapcore.Level
	}{
		{name: "console info", want: zapcore.InfoLevel},
		{name: "json debug", json: true, debug: true, want: zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.json, tt.debug)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !log.Core().Enabled(tt.want) {
				t.Fatalf("expected %s enabled", tt.want)
			}
			if tt.want == zapcore.InfoLevel && log.Core().Enabled(zapcore.DebugLevel) {
				t.Fatal("debug must be disabled by default")
			}
		})
	}
}

func TestNewTo_Stderr(t *testing.T) {
	log, err := NewTo("stderr", false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	log.Info("written to stderr")
}
