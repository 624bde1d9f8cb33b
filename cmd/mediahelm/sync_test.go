package main

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeExecutor is a test double for the remote executor. Its response
// function receives the fully wrapped command.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	fn    func(cmd string) (string, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, cmd string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	fn := f.fn
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if fn == nil {
		return "", nil
	}
	return fn(cmd)
}

func (f *fakeExecutor) setResponder(fn func(cmd string) (string, error)) {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
}

func (f *fakeExecutor) callsMatching(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

// isVolumeGet matches the wrapped host-volume read command.
func isVolumeGet(cmd string) bool {
	return strings.Contains(cmd, "output volume of")
}

// stateResponder answers every platform fetch with the same delimited line
// and the volume read with pct.
func stateResponder(line, pct string) func(string) (string, error) {
	return func(cmd string) (string, error) {
		if isVolumeGet(cmd) {
			return pct, nil
		}
		return line, nil
	}
}

func newTestSync(t *testing.T, fe *fakeExecutor) (*Synchronizer, *Catalog, *memorySettings) {
	t.Helper()
	store := &memorySettings{}
	catalog := NewCatalog(knownPlatforms(), store, testLogger())
	s := NewSynchronizer(catalog, fe, SyncConfig{
		SettleDelay:     10 * time.Millisecond,
		OverlayTimeout:  500 * time.Millisecond,
		RefreshInterval: time.Hour, // tests drive refreshes explicitly
	}, testLogger())
	return s, catalog, store
}

func findPlatform(snap Snapshot, id string) (PlatformSnapshot, bool) {
	for _, p := range snap.Platforms {
		if p.ID == id {
			return p, true
		}
	}
	return PlatformSnapshot{}, false
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewSynchronizer_SeedsLoadingPlaceholders(t *testing.T) {
	s, _, _ := newTestSync(t, &fakeExecutor{})

	snap := s.Snapshot()
	if len(snap.Platforms) != len(knownPlatforms()) {
		t.Fatalf("snapshot has %d platforms, want %d", len(snap.Platforms), len(knownPlatforms()))
	}
	for _, p := range snap.Platforms {
		if p.Title != loadingTitle {
			t.Errorf("%s title = %q, want %q", p.ID, p.Title, loadingTitle)
		}
	}
}

func TestRefreshAll_PopulatesStatesAndVolume(t *testing.T) {
	fe := &fakeExecutor{}
	fe.setResponder(stateResponder("Song|||Artist|||playing|||true", "45"))
	s, _, _ := newTestSync(t, fe)

	s.RefreshAll(context.Background())

	snap := s.Snapshot()
	for _, p := range snap.Platforms {
		if p.Title != "Song" || p.Subtitle != "Artist" {
			t.Errorf("%s = %q/%q, want Song/Artist", p.ID, p.Title, p.Subtitle)
		}
		if p.IsPlaying == nil || !*p.IsPlaying {
			t.Errorf("%s isPlaying = %v, want true", p.ID, p.IsPlaying)
		}
	}
	if !snap.VolumeKnown || snap.VolumeLevel != 0.45 {
		t.Errorf("volume = %v (known=%v), want 0.45", snap.VolumeLevel, snap.VolumeKnown)
	}
}

func TestRefreshAll_ExecFailureBecomesErrorState(t *testing.T) {
	fe := &fakeExecutor{}
	fe.setResponder(func(cmd string) (string, error) {
		if isVolumeGet(cmd) {
			return "45", nil
		}
		if strings.Contains(cmd, `\"Music\"`) {
			return "", context.DeadlineExceeded
		}
		return "Song|||Artist|||paused|||false", nil
	})
	s, _, _ := newTestSync(t, fe)

	s.RefreshAll(context.Background())

	snap := s.Snapshot()
	music, ok := findPlatform(snap, "music")
	if !ok {
		t.Fatal("music missing from snapshot")
	}
	if music.Error == "" {
		t.Error("music should carry an error state")
	}
	spotify, _ := findPlatform(snap, "spotify")
	if spotify.Error != "" {
		t.Errorf("spotify unexpectedly errored: %s", spotify.Error)
	}
}

func TestDispatch_OptimisticFlipBeforeNetworkResult(t *testing.T) {
	release := make(chan struct{})
	fe := &fakeExecutor{}
	fe.setResponder(func(cmd string) (string, error) {
		if strings.Contains(cmd, "playpause") {
			<-release
			return "", nil
		}
		if isVolumeGet(cmd) {
			return "45", nil
		}
		// Ground truth stays paused: the host "didn't obey".
		return "Song|||Artist|||paused|||false", nil
	})
	s, _, _ := newTestSync(t, fe)
	s.RefreshAll(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Dispatch(context.Background(), "music", PlayPause{})
	}()

	// Prediction must appear while the action call is still blocked.
	waitFor(t, "optimistic overlay", func() bool {
		p, _ := findPlatform(s.Snapshot(), "music")
		return p.Predicted
	})
	p, _ := findPlatform(s.Snapshot(), "music")
	if p.IsPlaying == nil || !*p.IsPlaying {
		t.Errorf("predicted isPlaying = %v, want true (negation of paused)", p.IsPlaying)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	// Confirmed data wins over the prediction.
	p, _ = findPlatform(s.Snapshot(), "music")
	if p.Predicted {
		t.Error("overlay must be cleared by the confirming refresh")
	}
	if p.IsPlaying == nil || *p.IsPlaying {
		t.Errorf("isPlaying = %v, want false (ground truth)", p.IsPlaying)
	}
}

func TestDispatch_FailedConfirmStillClearsOverlay(t *testing.T) {
	var failFetches bool
	var mu sync.Mutex
	fe := &fakeExecutor{}
	fe.setResponder(func(cmd string) (string, error) {
		mu.Lock()
		failing := failFetches
		mu.Unlock()
		if strings.Contains(cmd, "playpause") {
			return "", nil
		}
		if failing && !isVolumeGet(cmd) {
			return "", context.DeadlineExceeded
		}
		if isVolumeGet(cmd) {
			return "45", nil
		}
		return "Song|||Artist|||paused|||false", nil
	})
	s, _, _ := newTestSync(t, fe)
	s.RefreshAll(context.Background())

	mu.Lock()
	failFetches = true
	mu.Unlock()

	if err := s.Dispatch(context.Background(), "music", PlayPause{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	p, _ := findPlatform(s.Snapshot(), "music")
	if p.Predicted {
		t.Error("prediction must not survive a failed confirming refresh")
	}
	if p.Error == "" {
		t.Error("failed confirming refresh should leave an error state")
	}
}

func TestDispatch_UnsupportedActionIsNoop(t *testing.T) {
	fe := &fakeExecutor{}
	s, _, _ := newTestSync(t, fe)

	if err := s.Dispatch(context.Background(), "quicktime", NextTrack{}); err != nil {
		t.Fatalf("unsupported action must be a silent no-op, got %v", err)
	}
	if len(fe.calls) != 0 {
		t.Errorf("no command should be issued for a no-op, got %d calls", len(fe.calls))
	}
}

func TestDispatch_DisabledPlatformRejected(t *testing.T) {
	fe := &fakeExecutor{}
	s, _, _ := newTestSync(t, fe)

	if _, err := s.TogglePlatform("music"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if err := s.Dispatch(context.Background(), "music", PlayPause{}); err == nil {
		t.Error("dispatch to a disabled platform should error")
	}
	if err := s.Dispatch(context.Background(), "winamp", PlayPause{}); err == nil {
		t.Error("dispatch to an unknown platform should error")
	}
}

func TestTogglePlatform_MaintainsKeySetInvariant(t *testing.T) {
	fe := &fakeExecutor{}
	fe.setResponder(stateResponder("Song|||Artist|||playing|||true", "45"))
	s, _, store := newTestSync(t, fe)
	s.RefreshAll(context.Background())

	enabled, err := s.TogglePlatform("music")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if enabled {
		t.Fatal("first toggle should disable")
	}
	if _, ok := findPlatform(s.Snapshot(), "music"); ok {
		t.Error("disabled platform must leave the state map")
	}
	if !store.saved {
		t.Error("toggle must persist the enabled set")
	}

	enabled, err = s.TogglePlatform("music")
	if err != nil {
		t.Fatalf("re-toggle: %v", err)
	}
	if !enabled {
		t.Fatal("second toggle should re-enable")
	}
	p, ok := findPlatform(s.Snapshot(), "music")
	if !ok {
		t.Fatal("re-enabled platform missing from state map")
	}
	if p.Title != loadingTitle {
		t.Errorf("re-enabled platform title = %q, want %q placeholder", p.Title, loadingTitle)
	}
}

func TestCommit_DroppedWhenDisabledMidFlight(t *testing.T) {
	fe := &fakeExecutor{}
	s, _, _ := newTestSync(t, fe)

	if _, err := s.TogglePlatform("music"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	s.commit("music", ObservedState{Title: "stale"}, 0)

	if _, ok := findPlatform(s.Snapshot(), "music"); ok {
		t.Error("commit after disable must not re-create the entry")
	}
}

// A stale confirming refresh (from an earlier dispatch) must not clear a
// newer dispatch's prediction; a newer one supersedes everything.
func TestCommit_LastWriterWinsAgainstOverlay(t *testing.T) {
	fe := &fakeExecutor{}
	s, _, _ := newTestSync(t, fe)

	s.mu.Lock()
	s.seq["music"] = 2
	s.overlays["music"] = overlayEntry{predicted: true, seq: 2}
	s.mu.Unlock()

	s.commit("music", ObservedState{Title: "stale"}, 1)
	if p, _ := findPlatform(s.Snapshot(), "music"); !p.Predicted {
		t.Error("stale confirm cleared a newer prediction")
	}

	s.commit("music", ObservedState{Title: "fresh"}, 2)
	if p, _ := findPlatform(s.Snapshot(), "music"); p.Predicted {
		t.Error("matching confirm must clear its own prediction")
	}
}

func TestOverlayExpiry_BoundedLifetime(t *testing.T) {
	// Confirming refresh held back far beyond the overlay timeout.
	release := make(chan struct{})
	fe := &fakeExecutor{}
	fe.setResponder(func(cmd string) (string, error) {
		if strings.Contains(cmd, "playpause") {
			return "", nil
		}
		if isVolumeGet(cmd) {
			return "45", nil
		}
		<-release
		return "Song|||Artist|||paused|||false", nil
	})

	store := &memorySettings{}
	catalog := NewCatalog(knownPlatforms(), store, testLogger())
	s := NewSynchronizer(catalog, fe, SyncConfig{
		SettleDelay:     time.Hour, // never reached within the test
		OverlayTimeout:  20 * time.Millisecond,
		RefreshInterval: time.Hour,
	}, testLogger())

	go s.Dispatch(context.Background(), "music", PlayPause{})

	waitFor(t, "optimistic overlay", func() bool {
		p, _ := findPlatform(s.Snapshot(), "music")
		return p.Predicted
	})
	waitFor(t, "overlay expiry", func() bool {
		p, _ := findPlatform(s.Snapshot(), "music")
		return !p.Predicted
	})
	close(release)
}

func TestSetHostVolume_FireAndForget(t *testing.T) {
	fe := &fakeExecutor{}
	fe.setResponder(stateResponder("Song|||Artist|||playing|||true", "45"))
	s, _, _ := newTestSync(t, fe)
	s.RefreshAll(context.Background())
	before := s.Snapshot()

	s.SetHostVolume(context.Background(), 0.3)

	waitFor(t, "volume set command", func() bool {
		return fe.callsMatching("set volume output volume 30") == 1
	})

	after := s.Snapshot()
	if len(after.Platforms) != len(before.Platforms) {
		t.Fatal("platform set changed")
	}
	for i := range after.Platforms {
		if after.Platforms[i].Title != before.Platforms[i].Title {
			t.Error("per-platform state must not change on volume set")
		}
	}
	// The local volume value is only updated by the explicit read.
	if after.VolumeLevel != before.VolumeLevel {
		t.Errorf("volume level changed without a read: %v", after.VolumeLevel)
	}
}

// Concurrent commits must deliver their frames one at a time; overlapping
// sink calls are what let a staler snapshot arrive after a fresher one.
func TestSnapshotSink_DeliverySerialized(t *testing.T) {
	fe := &fakeExecutor{}
	s, _, _ := newTestSync(t, fe)

	var active, overlapped atomic.Int32
	s.SetSnapshotSink(func(Snapshot) {
		if active.Add(1) != 1 {
			overlapped.Store(1)
		}
		time.Sleep(100 * time.Microsecond)
		active.Add(-1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				s.commit("music", ObservedState{Title: "t", At: time.Now()}, 0)
			}
		}()
	}
	wg.Wait()

	if overlapped.Load() != 0 {
		t.Error("snapshot sink entered concurrently; frame order is not preserved")
	}
}

func TestSnapshotSink_PublishedOnChanges(t *testing.T) {
	fe := &fakeExecutor{}
	fe.setResponder(stateResponder("Song|||Artist|||playing|||true", "45"))
	s, _, _ := newTestSync(t, fe)

	var mu sync.Mutex
	var count int
	s.SetSnapshotSink(func(Snapshot) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	s.RefreshAll(context.Background())

	mu.Lock()
	got := count
	mu.Unlock()
	// One publish per platform commit plus one for the volume read.
	want := len(knownPlatforms()) + 1
	if got != want {
		t.Errorf("published %d snapshots, want %d", got, want)
	}
}
