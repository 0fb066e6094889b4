package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOverlayMissingFileKeepsDefaults(t *testing.T) {
	cfg := NewDefaultRouterConfig()
	if err := LoadOverlay(filepath.Join(t.TempDir(), "missing.json"), cfg); err != nil {
		t.Fatalf("expected a missing overlay file to be a no-op, got: %v", err)
	}
	if cfg.Listen != ":9001" {
		t.Fatalf("expected default Listen to survive, got %s", cfg.Listen)
	}
}

func TestLoadOverlayAppliesFields(t *testing.T) {
	cfg := NewDefaultRouterConfig()
	path := filepath.Join(t.TempDir(), "overlay.json")
	overlay, _ := json.Marshal(map[string]interface{}{"Listen": ":9999"})
	if err := os.WriteFile(path, overlay, 0o644); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	if err := LoadOverlay(path, cfg); err != nil {
		t.Fatalf("LoadOverlay: %v", err)
	}
	if cfg.Listen != ":9999" {
		t.Fatalf("expected overlay to override Listen, got %s", cfg.Listen)
	}
}

func TestLoadOverlayRejectsUnknownFields(t *testing.T) {
	cfg := NewDefaultRouterConfig()
	path := filepath.Join(t.TempDir(), "overlay.json")
	overlay, _ := json.Marshal(map[string]interface{}{"NotAField": true})
	if err := os.WriteFile(path, overlay, 0o644); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	if err := LoadOverlay(path, cfg); err == nil {
		t.Fatal("expected an unknown overlay key to be rejected")
	}
}
