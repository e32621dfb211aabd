package services_test

import (
	"errors"
	"strings"
	"testing"

	"bookbag/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "sabnzbd", "submit", "addurl failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"sabnzbd", "submit", "addurl failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestIsRecoverable(t *testing.T) {
	if services.IsRecoverable(nil) {
		t.Fatal("nil error should not be recoverable")
	}
	cfgErr := services.Wrap(services.ErrConfiguration, "qbittorrent", "validate", "missing host", nil)
	if services.IsRecoverable(cfgErr) {
		t.Fatal("configuration errors need operator action")
	}
	timeoutErr := services.Wrap(services.ErrTimeout, "newznab", "search", "slow indexer", nil)
	if !services.IsRecoverable(timeoutErr) {
		t.Fatal("timeouts should be recoverable")
	}
}
