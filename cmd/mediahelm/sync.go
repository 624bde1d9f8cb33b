package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ============================================================================
// State Synchronizer
// ============================================================================
// The synchronizer owns the authoritative per-platform state map and the
// optimistic overlay. All mutation funnels through its methods under one
// mutex; script execution happens off to the side and reports back through
// commit(). Invariants:
//
//   - The state map's key set always equals the enabled-platform id set.
//     Entries appear on enable (as a loading placeholder) and vanish on
//     disable; a fetch result landing after a disable is discarded.
//   - An overlay entry never outlives one reconciliation cycle: it is
//     cleared by its confirming refresh (success or error) or by the
//     overlay timeout, whichever comes first.
//   - Overlapping dispatches on one platform are last-writer-wins: each
//     dispatch stamps a fresh sequence number, and a confirming refresh
//     only clears overlays at or below its own sequence, so a stale
//     confirmation can't erase a newer prediction.
// ============================================================================

const loadingTitle = "Loading…"

// SyncConfig carries the synchronizer's timing knobs.
type SyncConfig struct {
	// SettleDelay is the wait between sending an action and trusting a
	// fresh state read, sized to the applications' reaction time.
	SettleDelay time.Duration

	// OverlayTimeout bounds how long an optimistic prediction may live if
	// its confirming refresh never lands.
	OverlayTimeout time.Duration

	// RefreshInterval is the Run loop's poll cadence.
	RefreshInterval time.Duration
}

func (c SyncConfig) withDefaults() SyncConfig {
	if c.SettleDelay <= 0 {
		c.SettleDelay = 300 * time.Millisecond
	}
	if c.OverlayTimeout <= 0 {
		c.OverlayTimeout = 2 * time.Second
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 3 * time.Second
	}
	return c
}

type overlayEntry struct {
	predicted bool
	seq       uint64
}

// PlatformSnapshot is one platform's externally visible state, with any
// optimistic overlay already applied.
type PlatformSnapshot struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Title     string    `json:"title"`
	Subtitle  string    `json:"subtitle,omitempty"`
	IsPlaying *bool     `json:"is_playing,omitempty"`
	Error     string    `json:"error,omitempty"`
	Predicted bool      `json:"predicted,omitempty"`
	At        time.Time `json:"at"`
}

// Snapshot is a coherent view of everything the synchronizer knows,
// safe to hand to other goroutines.
type Snapshot struct {
	Platforms   []PlatformSnapshot `json:"platforms"`
	VolumeLevel float64            `json:"volume_level"`
	VolumeKnown bool               `json:"volume_known"`
	At          time.Time          `json:"at"`
}

// Synchronizer orchestrates fetch/dispatch cycles against the remote host.
type Synchronizer struct {
	catalog *Catalog
	exec    Executor
	cfg     SyncConfig
	logger  *slog.Logger

	mu       sync.Mutex
	states   map[string]ObservedState
	overlays map[string]overlayEntry
	seq      map[string]uint64

	// pubMu serializes snapshot builds with their delivery so frames reach
	// the sink in build order.
	pubMu sync.Mutex

	volumeLevel float64
	volumeKnown bool
	volumeAt    time.Time

	onSnapshot func(Snapshot)
}

// NewSynchronizer builds a synchronizer seeded with loading placeholders for
// every currently active platform.
func NewSynchronizer(catalog *Catalog, exec Executor, cfg SyncConfig, logger *slog.Logger) *Synchronizer {
	s := &Synchronizer{
		catalog:  catalog,
		exec:     exec,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		states:   make(map[string]ObservedState),
		overlays: make(map[string]overlayEntry),
		seq:      make(map[string]uint64),
	}
	now := time.Now()
	for _, p := range catalog.ActivePlatforms() {
		s.states[p.ID] = ObservedState{Title: loadingTitle, At: now}
	}
	return s
}

// SetSnapshotSink registers the callback invoked after every visible state
// change. Set it before Run; the callback must not block.
func (s *Synchronizer) SetSnapshotSink(fn func(Snapshot)) {
	s.mu.Lock()
	s.onSnapshot = fn
	s.mu.Unlock()
}

// Run polls all active platforms on the configured cadence until ctx is
// canceled. The first refresh happens immediately.
func (s *Synchronizer) Run(ctx context.Context) {
	s.logger.Info("synchronizer starting", "refresh_interval", s.cfg.RefreshInterval)

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	s.RefreshAll(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("synchronizer stopping (context canceled)")
			return
		case <-ticker.C:
			s.RefreshAll(ctx)
		}
	}
}

// RefreshAll fetches every active platform's state concurrently, plus the
// host volume. There is no ordering guarantee across platforms; each result
// is committed as it lands. Failures become error-bearing states, never
// returned errors: the next cycle is the retry.
func (s *Synchronizer) RefreshAll(ctx context.Context) {
	platforms := s.catalog.ActivePlatforms()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range platforms {
		s.mu.Lock()
		seq := s.seq[p.ID]
		s.mu.Unlock()

		g.Go(func() error {
			s.refreshPlatform(gctx, p, seq)
			return nil
		})
	}
	g.Go(func() error {
		s.refreshHostVolume(gctx)
		return nil
	})
	_ = g.Wait()
}

// refreshPlatform runs one platform's fetch script and commits the parsed
// (or error-bearing) result under the given dispatch sequence.
func (s *Synchronizer) refreshPlatform(ctx context.Context, p Platform, seq uint64) {
	raw, err := s.exec.Execute(ctx, WrapForExecution(p.FetchStateScript()))

	var st ObservedState
	if err != nil {
		s.logger.Warn("state fetch failed", "platform", p.ID, "error", err)
		st = ObservedState{Err: err.Error(), At: time.Now()}
	} else {
		st = p.ParseState(raw)
		if st.HasError() {
			s.logger.Debug("state parse failed", "platform", p.ID, "error", st.Err)
		}
	}
	s.commit(p.ID, st, seq)
}

// commit writes one platform's freshly observed state. Results for
// platforms disabled while the fetch was in flight are dropped so the key
// set stays equal to the enabled set. Any overlay at or below the commit's
// sequence is superseded: confirmed data always wins over prediction.
func (s *Synchronizer) commit(id string, st ObservedState, seq uint64) {
	s.mu.Lock()
	if _, ok := s.states[id]; !ok {
		s.mu.Unlock()
		return
	}
	s.states[id] = st
	if ov, ok := s.overlays[id]; ok && ov.seq <= seq {
		delete(s.overlays, id)
	}
	s.mu.Unlock()

	s.publish()
}

// Dispatch sends one action to one platform. Play/pause flips the optimistic
// prediction synchronously, before any network activity; the action script
// is then executed, and after the settle delay the platform is refreshed
// through the same path as RefreshAll, which supersedes the prediction. An
// unsupported action (empty script) is a no-op: nothing is issued.
func (s *Synchronizer) Dispatch(ctx context.Context, id string, action Action) error {
	p, ok := s.catalog.ByID(id)
	if !ok {
		return fmt.Errorf("unknown platform: %s", id)
	}
	if !s.catalog.Enabled(id) {
		return fmt.Errorf("platform disabled: %s", id)
	}

	script := p.ActionScript(action)
	if script == "" {
		return nil
	}

	s.mu.Lock()
	s.seq[id]++
	seq := s.seq[id]
	if _, isToggle := action.(PlayPause); isToggle {
		predicted := true
		if ov, ok := s.overlays[id]; ok {
			predicted = !ov.predicted
		} else if st, ok := s.states[id]; ok && st.IsPlaying != nil {
			predicted = !*st.IsPlaying
		}
		s.overlays[id] = overlayEntry{predicted: predicted, seq: seq}
		time.AfterFunc(s.cfg.OverlayTimeout, func() { s.expireOverlay(id, seq) })
	}
	s.mu.Unlock()
	s.publish()

	if _, err := s.exec.Execute(ctx, WrapForExecution(script)); err != nil {
		// The confirming refresh below still runs and replaces the
		// prediction with whatever it finds, error included.
		s.logger.Warn("action dispatch failed", "platform", id, "error", err)
	}

	select {
	case <-ctx.Done():
		// Shutdown mid-settle: the refresh below fails fast on the
		// canceled context and its error state clears the overlay.
	case <-time.After(s.cfg.SettleDelay):
	}
	s.refreshPlatform(ctx, p, seq)
	return nil
}

// expireOverlay drops an optimistic entry whose confirming refresh never
// landed. The sequence check keeps a stale timer from touching a newer
// dispatch's prediction.
func (s *Synchronizer) expireOverlay(id string, seq uint64) {
	s.mu.Lock()
	ov, ok := s.overlays[id]
	expired := ok && ov.seq == seq
	if expired {
		delete(s.overlays, id)
	}
	s.mu.Unlock()

	if expired {
		s.logger.Debug("optimistic overlay expired", "platform", id)
		s.publish()
	}
}

// SetHostVolume dispatches the host-global volume script fire-and-forget.
// No per-platform state changes; the value is read back only by the
// explicit get script during RefreshAll.
func (s *Synchronizer) SetHostVolume(ctx context.Context, level float64) {
	script := hostVolumeSetScript(level)
	go func() {
		if _, err := s.exec.Execute(ctx, WrapForExecution(script)); err != nil {
			s.logger.Warn("set volume failed", "error", err)
		}
	}()
}

// refreshHostVolume reads the host output volume. Failures are logged and
// dropped; the stale value (if any) stays visible with its timestamp.
func (s *Synchronizer) refreshHostVolume(ctx context.Context) {
	raw, err := s.exec.Execute(ctx, WrapForExecution(hostVolumeGetScript))
	if err != nil {
		s.logger.Warn("volume fetch failed", "error", err)
		return
	}
	pct, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		s.logger.Warn("volume output unparseable", "raw", redact(raw))
		return
	}

	s.mu.Lock()
	s.volumeLevel = float64(pct) / 100
	s.volumeKnown = true
	s.volumeAt = time.Now()
	s.mu.Unlock()

	s.publish()
}

// TogglePlatform flips enablement through the catalog and keeps the state
// map's key set in step: enable inserts a loading placeholder, disable
// removes the entry and any overlay.
func (s *Synchronizer) TogglePlatform(id string) (bool, error) {
	enabled, err := s.catalog.Toggle(id)
	if err != nil {
		return enabled, err
	}

	s.mu.Lock()
	if enabled {
		s.states[id] = ObservedState{Title: loadingTitle, At: time.Now()}
	} else {
		delete(s.states, id)
		delete(s.overlays, id)
	}
	s.mu.Unlock()

	s.publish()
	return enabled, nil
}

// Snapshot returns a coherent copy of the observable state in catalog
// order, overlays applied.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Synchronizer) snapshotLocked() Snapshot {
	snap := Snapshot{
		VolumeLevel: s.volumeLevel,
		VolumeKnown: s.volumeKnown,
		At:          time.Now(),
	}
	for _, p := range s.catalog.All() {
		st, ok := s.states[p.ID]
		if !ok {
			continue
		}
		ps := PlatformSnapshot{
			ID:       p.ID,
			Name:     p.Name,
			Title:    st.Title,
			Subtitle: st.Subtitle,
			Error:    st.Err,
			At:       st.At,
		}
		if ov, ok := s.overlays[p.ID]; ok {
			v := ov.predicted
			ps.IsPlaying = &v
			ps.Predicted = true
		} else if st.IsPlaying != nil {
			v := *st.IsPlaying
			ps.IsPlaying = &v
		}
		snap.Platforms = append(snap.Platforms, ps)
	}
	return snap
}

// publish hands the current snapshot to the sink. The build and the sink
// call happen under one publish lock: two concurrent commits must not
// deliver their frames inverted, or the staler snapshot would stand until
// the next refresh. The state mutex is still released before the sink runs.
func (s *Synchronizer) publish() {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	fn := s.onSnapshot
	var snap Snapshot
	if fn != nil {
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}
