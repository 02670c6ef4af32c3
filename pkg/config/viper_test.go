package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadReadsYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := "server:\n  port: 9000\nlog:\n  level: debug\n"
	if err := os.WriteFile(filepath.Join(dir, "app.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("LOG_LEVEL", "warn")

	v, err := Load(dir, "app")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := v.GetInt("server.port"); got != 9000 {
		t.Errorf("server.port = %d, want 9000", got)
	}
	if got := v.GetString("log.level"); got != "warn" {
		t.Errorf("log.level = %q, want env override warn", got)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	v, err := Load(t.TempDir(), "does-not-exist")
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if v.ConfigFileUsed() != "" {
		t.Errorf("unexpected config file %q", v.ConfigFileUsed())
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("REALTIME_TEST_A=file\nREALTIME_TEST_B=file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REALTIME_TEST_A", "process")
	t.Cleanup(func() { os.Unsetenv("REALTIME_TEST_B") })

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("REALTIME_TEST_A"); got != "process" {
		t.Errorf("REALTIME_TEST_A = %q, want process", got)
	}
	if got := os.Getenv("REALTIME_TEST_B"); got != "file" {
		t.Errorf("REALTIME_TEST_B = %q, want file", got)
	}
}
