package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// ============================================================================
// Platform Catalog
// ============================================================================
// The catalog owns the fixed, ordered platform list and the user's enabled
// set. Enablement is loaded from the settings store at construction
// (defaulting to all known platforms) and rewritten in full on every toggle.
// ============================================================================

// SettingsStore persists the enabled-platform id list. Load reports ok=false
// when no value has ever been saved, in which case the catalog falls back to
// "all known platforms".
type SettingsStore interface {
	LoadEnabled() (ids []string, ok bool, err error)
	SaveEnabled(ids []string) error
}

// Catalog holds the known platforms and the enabled subset.
type Catalog struct {
	mu        sync.Mutex
	platforms []Platform
	enabled   map[string]bool
	store     SettingsStore
	logger    *slog.Logger
}

// NewCatalog builds the catalog from the fixed platform list, loading the
// enabled set from the store. A missing persisted value enables everything;
// a load error does the same but is logged, since enablement is a
// preference, not correctness-critical state.
func NewCatalog(platforms []Platform, store SettingsStore, logger *slog.Logger) *Catalog {
	c := &Catalog{
		platforms: platforms,
		enabled:   make(map[string]bool, len(platforms)),
		store:     store,
		logger:    logger,
	}

	ids, ok, err := store.LoadEnabled()
	if err != nil {
		logger.Warn("loading enabled platforms failed, enabling all", "error", err)
		ok = false
	}
	if !ok {
		for _, p := range platforms {
			c.enabled[p.ID] = true
		}
		return c
	}

	known := make(map[string]bool, len(platforms))
	for _, p := range platforms {
		known[p.ID] = true
	}
	for _, id := range ids {
		if known[id] {
			c.enabled[id] = true
		} else {
			logger.Warn("ignoring unknown platform id in settings", "id", id)
		}
	}
	return c
}

// Toggle flips a platform's membership in the enabled set and persists the
// full resulting set immediately. It returns the new enabled state.
func (c *Catalog) Toggle(id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byIDLocked(id); !ok {
		return false, fmt.Errorf("unknown platform: %s", id)
	}

	if c.enabled[id] {
		delete(c.enabled, id)
	} else {
		c.enabled[id] = true
	}
	nowEnabled := c.enabled[id]

	if err := c.store.SaveEnabled(c.enabledIDsLocked()); err != nil {
		return nowEnabled, fmt.Errorf("persist enabled platforms: %w", err)
	}
	return nowEnabled, nil
}

// Enabled reports whether a platform is currently enabled.
func (c *Catalog) Enabled(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled[id]
}

// ActivePlatforms returns the enabled platforms in catalog order.
func (c *Catalog) ActivePlatforms() []Platform {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Platform, 0, len(c.enabled))
	for _, p := range c.platforms {
		if c.enabled[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

// All returns every known platform in catalog order, enabled or not.
func (c *Catalog) All() []Platform {
	return append([]Platform(nil), c.platforms...)
}

// PlatformInfo is the catalog's wire-friendly listing entry.
type PlatformInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// Infos returns every known platform with its enabled state, in catalog
// order. This is the listing served to IPC clients.
func (c *Catalog) Infos() []PlatformInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PlatformInfo, 0, len(c.platforms))
	for _, p := range c.platforms {
		out = append(out, PlatformInfo{ID: p.ID, Name: p.Name, Enabled: c.enabled[p.ID]})
	}
	return out
}

// ByID looks up a platform descriptor regardless of enablement.
func (c *Catalog) ByID(id string) (Platform, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byIDLocked(id)
}

func (c *Catalog) byIDLocked(id string) (Platform, bool) {
	for _, p := range c.platforms {
		if p.ID == id {
			return p, true
		}
	}
	return Platform{}, false
}

// enabledIDsLocked returns the enabled ids in catalog order for persistence.
func (c *Catalog) enabledIDsLocked() []string {
	ids := make([]string, 0, len(c.enabled))
	for _, p := range c.platforms {
		if c.enabled[p.ID] {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// ============================================================================
// File-backed settings store
// ============================================================================

// settingsFile is the YAML shape of the persisted settings.
type settingsFile struct {
	EnabledPlatforms []string `yaml:"enabled_platforms"`
}

// FileSettingsStore persists settings as a small YAML file.
type FileSettingsStore struct {
	path string
}

// NewFileSettingsStore creates a store at the given path. An empty path
// resolves to the XDG config location.
func NewFileSettingsStore(path string) *FileSettingsStore {
	if path == "" {
		path = filepath.Join(xdg.ConfigHome, "mediahelm", "settings.yaml")
	}
	return &FileSettingsStore{path: path}
}

// Path returns where settings are persisted.
func (s *FileSettingsStore) Path() string { return s.path }

// LoadEnabled reads the persisted enabled-platform list. A missing file is
// not an error; it means nothing was ever saved.
func (s *FileSettingsStore) LoadEnabled() ([]string, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read settings: %w", err)
	}

	var f settingsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, false, fmt.Errorf("parse settings: %w", err)
	}
	return f.EnabledPlatforms, true, nil
}

// SaveEnabled rewrites the settings file with the full enabled set.
func (s *FileSettingsStore) SaveEnabled(ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := yaml.Marshal(settingsFile{EnabledPlatforms: ids})
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
