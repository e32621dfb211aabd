package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.socketPath, "")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
}

func TestConfigShowMasksCredentials(t *testing.T) {
	env := setupCLITestEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.toml")
	writeTestConfig(t, configPath, env.cfg, "\n[downloaders.sabnzbd]\nhost = \"localhost\"\napi_key = \"hunter2\"\n")

	out, _, err := runCLI(t, []string{"config", "show"}, env.socketPath, configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "hunter2") {
		t.Fatalf("expected api key to be masked, got %s", out)
	}
	requireContains(t, out, "********")
	requireContains(t, out, env.cfg.Paths.EbookDir)
}

func TestProviderAddSlotPersists(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"provider", "add-slot", "newznab"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("provider add-slot: %v", err)
	}
	requireContains(t, out, "Newznab0")

	out, _, err = runCLI(t, []string{"config", "providers"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config providers: %v", err)
	}
	requireContains(t, out, "Newznab0")
	requireContains(t, out, "newznab")

	if _, _, err := runCLI(t, []string{"provider", "add-slot", "gopher"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected unknown family to fail")
	}
}
