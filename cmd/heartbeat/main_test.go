package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gwlsn/heartbeat/internal/auth"
	"github.com/gwlsn/heartbeat/internal/config"
)

func TestDescriptorCommand(t *testing.T) {
	t.Setenv("HEARTBEAT_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"descriptor"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, want := range []string{"name: heartbeat-text-converter", "port: 3020", "max_memory_restart: 300M"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestDescriptorMissingConfigFile(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"descriptor", "--config", filepath.Join(t.TempDir(), "nope.yaml")})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for a missing config file")
	}
}

func TestSelectDevBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Provider = "dev"
	backend, err := selectBackend(context.Background(), cfg)
	if err != nil {
		t.Fatalf("selectBackend: %v", err)
	}
	if _, ok := backend.(*auth.DevBackend); !ok {
		t.Errorf("backend = %T, want *auth.DevBackend", backend)
	}
}

func TestSelectUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Provider = "github"
	if _, err := selectBackend(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
