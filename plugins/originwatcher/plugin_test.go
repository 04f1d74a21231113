package originwatcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/bft-labs/walletbridge/pkg/bridge"
	"github.com/bft-labs/walletbridge/pkg/origin"
)

func writeOrigins(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write origins file: %v", err)
	}
}

func waitForOrigins(t *testing.T, v *origin.Validator, want []string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if reflect.DeepEqual(v.Allowed(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Allowed() = %v, want %v", v.Allowed(), want)
}

func TestPlugin_LoadsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "origins.toml")
	writeOrigins(t, path, `allowed_origins = ["https://App.Example:443", "https://b.example"]`)

	v := origin.NewValidator(nil)
	plugin := New(Config{Path: path, DebounceDelay: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := plugin.Initialize(ctx, bridge.PluginConfig{Validator: v}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer plugin.Shutdown(ctx)

	want := []string{"https://app.example", "https://b.example"}
	if got := v.Allowed(); !reflect.DeepEqual(got, want) {
		t.Errorf("Allowed() = %v, want %v", got, want)
	}
	if !v.Allow("https://app.example") {
		t.Error("initial origin not allowed")
	}

	writeOrigins(t, path, `allowed_origins = ["https://c.example"]`)
	waitForOrigins(t, v, []string{"https://c.example"})
	if v.Allow("https://app.example") {
		t.Error("removed origin still allowed")
	}
}

func TestPlugin_KeepsListOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "origins.toml")
	writeOrigins(t, path, `allowed_origins = ["https://a.example"]`)

	v := origin.NewValidator(nil)
	plugin := New(Config{Path: path, DebounceDelay: 50 * time.Millisecond})
	ctx := context.Background()
	if err := plugin.Initialize(ctx, bridge.PluginConfig{Validator: v}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer plugin.Shutdown(ctx)

	writeOrigins(t, path, `allowed_origins = [`)
	// Unrelated files in the directory are ignored.
	writeOrigins(t, filepath.Join(dir, "other.toml"), `x = 1`)
	time.Sleep(200 * time.Millisecond)

	if got := v.Allowed(); !reflect.DeepEqual(got, []string{"https://a.example"}) {
		t.Errorf("Allowed() = %v, want previous list", got)
	}
	if plugin.Reloads() != 1 {
		t.Errorf("Reloads() = %d, want 1", plugin.Reloads())
	}
}

func TestPlugin_SkipsInvalidEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "origins.toml")
	writeOrigins(t, path, `allowed_origins = ["https://a.example", "not an origin"]`)

	v := origin.NewValidator(nil)
	plugin := New(DefaultConfig())
	plugin.path = path
	ctx := context.Background()
	if err := plugin.Initialize(ctx, bridge.PluginConfig{Validator: v}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer plugin.Shutdown(ctx)

	if got := v.Allowed(); !reflect.DeepEqual(got, []string{"https://a.example"}) {
		t.Errorf("Allowed() = %v", got)
	}
}

func TestPlugin_InitializeErrors(t *testing.T) {
	ctx := context.Background()
	v := origin.NewValidator(nil)

	if err := New(Config{}).Initialize(ctx, bridge.PluginConfig{Validator: v}); !errors.Is(err, ErrNoPath) {
		t.Errorf("Initialize() error = %v, want ErrNoPath", err)
	}

	missing := filepath.Join(t.TempDir(), "missing.toml")
	if err := New(Config{Path: missing}).Initialize(ctx, bridge.PluginConfig{Validator: v}); err == nil {
		t.Error("Initialize() expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.toml")
	writeOrigins(t, bad, `allowed_origins = "https://a.example"`)
	if err := New(Config{Path: bad}).Initialize(ctx, bridge.PluginConfig{Validator: v}); err == nil {
		t.Error("Initialize() expected error for wrong type")
	}
}

func TestPlugin_ShutdownWithoutInitialize(t *testing.T) {
	if err := New(DefaultConfig()).Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
