package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type sampleConfig struct {
	Model   string        `envconfig:"MODEL" default:"gpt-4o"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"30s"`
	Rounds  int           `envconfig:"ROUNDS" default:"6"`
}

func (c sampleConfig) Validate() error {
	if c.Rounds <= 0 {
		return errors.New("rounds must be positive")
	}
	return nil
}

func TestNewReadsPrefixedEnvironment(t *testing.T) {
	t.Setenv("SAMPLE_MODEL", "gemini-2.0-flash")
	t.Setenv("SAMPLE_TIMEOUT", "5s")

	conf, err := New[sampleConfig]("SAMPLE")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if conf.Model != "gemini-2.0-flash" || conf.Timeout != 5*time.Second || conf.Rounds != 6 {
		t.Fatalf("unexpected config: %+v", conf)
	}
}

func TestNewRunsValidate(t *testing.T) {
	t.Setenv("SAMPLE_ROUNDS", "0")

	if _, err := New[sampleConfig]("SAMPLE"); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestExportEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("HEALTHGUARD_EXPORT_PROBE=on\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("HEALTHGUARD_EXPORT_PROBE") })

	if err := exportEnvironment(path); err != nil {
		t.Fatalf("exportEnvironment() error = %v", err)
	}
	if got := os.Getenv("HEALTHGUARD_EXPORT_PROBE"); got != "on" {
		t.Fatalf("exported value = %q, want on", got)
	}
}
