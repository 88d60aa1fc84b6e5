package logx

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		conf Config
		want zerolog.Level
	}{
		{name: "default", conf: Config{}, want: zerolog.InfoLevel},
		{name: "debug flag wins", conf: Config{Debug: true, Level: "error"}, want: zerolog.DebugLevel},
		{name: "named level", conf: Config{Level: "WARN"}, want: zerolog.WarnLevel},
		{name: "unknown level", conf: Config{Level: "loud"}, want: zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := level(&tt.conf); got != tt.want {
				t.Fatalf("level() = %v, want %v", got, tt.want)
			}
		})
	}
}
