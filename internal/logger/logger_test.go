package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		env, level string
		wantLevel  zapcore.Level
	}{
		{"development", "", zapcore.DebugLevel},
		{"production", "", zapcore.InfoLevel},
		{"staging", "warn", zapcore.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.env+"/"+tt.level, func(t *testing.T) {
			log, err := New(tt.env, tt.level)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if !log.Core().Enabled(tt.wantLevel) {
				t.Errorf("expected level %v to be enabled", tt.wantLevel)
			}
			if tt.wantLevel > zapcore.DebugLevel && log.Core().Enabled(tt.wantLevel-1) {
				t.Errorf("expected level %v to be disabled", tt.wantLevel-1)
			}
		})
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := New("production", "loud"); err == nil {
		t.Fatal("expected error for invalid level, got nil")
	}
}
