package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

// memorySettings is a test double for SettingsStore.
type memorySettings struct {
	ids      []string
	saved    bool
	saves    int
	loadErr  error
	saveErr  error
	hasValue bool
}

func (m *memorySettings) LoadEnabled() ([]string, bool, error) {
	if m.loadErr != nil {
		return nil, false, m.loadErr
	}
	return m.ids, m.hasValue, nil
}

func (m *memorySettings) SaveEnabled(ids []string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.ids = append([]string(nil), ids...)
	m.hasValue = true
	m.saved = true
	m.saves++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCatalog_DefaultsToAllEnabled(t *testing.T) {
	store := &memorySettings{}
	c := NewCatalog(knownPlatforms(), store, testLogger())

	active := c.ActivePlatforms()
	if len(active) != len(knownPlatforms()) {
		t.Fatalf("active = %d platforms, want all %d", len(active), len(knownPlatforms()))
	}
}

func TestCatalog_LoadsPersistedSubset(t *testing.T) {
	store := &memorySettings{ids: []string{"spotify", "vlc"}, hasValue: true}
	c := NewCatalog(knownPlatforms(), store, testLogger())

	active := c.ActivePlatforms()
	if len(active) != 2 {
		t.Fatalf("active = %d platforms, want 2", len(active))
	}
	// Catalog order, not settings order.
	if active[0].ID != "spotify" || active[1].ID != "vlc" {
		t.Errorf("active order = [%s %s], want catalog order [spotify vlc]", active[0].ID, active[1].ID)
	}
}

func TestCatalog_IgnoresUnknownPersistedIDs(t *testing.T) {
	store := &memorySettings{ids: []string{"music", "winamp"}, hasValue: true}
	c := NewCatalog(knownPlatforms(), store, testLogger())

	if !c.Enabled("music") {
		t.Error("music should be enabled")
	}
	if c.Enabled("winamp") {
		t.Error("unknown id must not become enabled")
	}
}

func TestCatalog_TogglePersistsImmediately(t *testing.T) {
	store := &memorySettings{}
	c := NewCatalog(knownPlatforms(), store, testLogger())

	enabled, err := c.Toggle("music")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if enabled {
		t.Error("toggling an enabled platform should disable it")
	}
	if store.saves != 1 {
		t.Fatalf("saves = %d, want 1", store.saves)
	}
	for _, id := range store.ids {
		if id == "music" {
			t.Error("persisted set still contains the disabled id")
		}
	}

	enabled, err = c.Toggle("music")
	if err != nil {
		t.Fatalf("re-toggle: %v", err)
	}
	if !enabled {
		t.Error("second toggle should re-enable")
	}
	if store.saves != 2 {
		t.Errorf("saves = %d, want 2", store.saves)
	}
}

func TestCatalog_ToggleUnknownID(t *testing.T) {
	c := NewCatalog(knownPlatforms(), &memorySettings{}, testLogger())
	if _, err := c.Toggle("winamp"); err == nil {
		t.Error("expected error toggling unknown platform")
	}
}

func TestCatalog_LoadErrorEnablesAll(t *testing.T) {
	store := &memorySettings{loadErr: os.ErrPermission}
	c := NewCatalog(knownPlatforms(), store, testLogger())

	if len(c.ActivePlatforms()) != len(knownPlatforms()) {
		t.Error("load failure should fall back to all enabled")
	}
}

func TestFileSettingsStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	store := NewFileSettingsStore(path)

	// Missing file: not saved yet, no error.
	ids, ok, err := store.LoadEnabled()
	if err != nil {
		t.Fatalf("load on missing file: %v", err)
	}
	if ok {
		t.Error("missing file should report ok=false")
	}

	if err := store.SaveEnabled([]string{"music", "tv"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	ids, ok, err = store.LoadEnabled()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatal("saved value should report ok=true")
	}
	if len(ids) != 2 || ids[0] != "music" || ids[1] != "tv" {
		t.Errorf("ids = %v, want [music tv]", ids)
	}
}

func TestFileSettingsStore_SaveEmptySet(t *testing.T) {
	store := NewFileSettingsStore(filepath.Join(t.TempDir(), "settings.yaml"))

	if err := store.SaveEnabled(nil); err != nil {
		t.Fatalf("save empty: %v", err)
	}
	ids, ok, err := store.LoadEnabled()
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want empty set (all disabled is a valid choice)", ids)
	}
}
