package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Engine.Version != 1 {
		t.Fatalf("expected config version 1, got %d", cfg.Engine.Version)
	}
	if cfg.Engine.FeeRecipient == "" {
		t.Fatal("expected default fee recipient")
	}
	if cfg.Engine.EscrowTimeout() != 30*24*time.Hour {
		t.Fatalf("unexpected escrow timeout %v", cfg.Engine.EscrowTimeout())
	}
	if cfg.Engine.Pool.MinLockPeriod() != 30*24*time.Hour {
		t.Fatalf("unexpected min lock %v", cfg.Engine.Pool.MinLockPeriod())
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "environment: production\nengine:\n  version: 3\n  platform_fee_bps: 300\n  pool:\n    min_lock_days: 7\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.IsProduction() {
		t.Fatal("expected production environment")
	}
	if cfg.Engine.Version != 3 {
		t.Fatalf("expected version 3, got %d", cfg.Engine.Version)
	}
	if cfg.Engine.PlatformFeeBps != 300 {
		t.Fatalf("expected platform fee 300, got %d", cfg.Engine.PlatformFeeBps)
	}
	if cfg.Engine.Pool.MinLockDays != 7 {
		t.Fatalf("expected min lock 7 days, got %d", cfg.Engine.Pool.MinLockDays)
	}
	// untouched fields still defaulted
	if cfg.Engine.TransferFeeBps != 50 {
		t.Fatalf("expected default transfer fee, got %d", cfg.Engine.TransferFeeBps)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
