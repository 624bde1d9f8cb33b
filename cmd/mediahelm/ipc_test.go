package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordedAction struct {
	platform string
	action   Action
}

func startTestIPC(t *testing.T, handle ActionHandler) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "ipc.sock")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runIPCServer(ctx, socketPath, handle, testLogger())
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("ipc server: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("ipc server did not shut down")
		}
	})

	// Wait for the socket to be ready.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := SendIPCAction(socketPath, "", StartScan{}); err == nil ||
			!strings.Contains(err.Error(), "connect") {
			return socketPath
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("ipc socket never came up")
	return ""
}

func TestIPC_DeliversActions(t *testing.T) {
	var mu sync.Mutex
	var got []recordedAction
	socketPath := startTestIPC(t, func(ctx context.Context, platform string, action Action) (any, error) {
		mu.Lock()
		got = append(got, recordedAction{platform, action})
		mu.Unlock()
		return nil, nil
	})

	if err := SendIPCAction(socketPath, "music", PlayPause{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := SendIPCAction(socketPath, "", SetVolume{Level: 0.5}); err != nil {
		t.Fatalf("send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	// The readiness probe delivers a StartScan first.
	if len(got) < 3 {
		t.Fatalf("handled %d actions, want 3", len(got))
	}
	last := got[len(got)-1]
	if last.platform != "" || last.action != (SetVolume{Level: 0.5}) {
		t.Errorf("last action = %+v", last)
	}
	prev := got[len(got)-2]
	if prev.platform != "music" || prev.action != (PlayPause{}) {
		t.Errorf("second action = %+v", prev)
	}
}

func TestIPC_HandlerErrorReachesClient(t *testing.T) {
	socketPath := startTestIPC(t, func(ctx context.Context, platform string, action Action) (any, error) {
		if _, ok := action.(PlayPause); ok {
			return nil, fmt.Errorf("platform disabled: %s", platform)
		}
		return nil, nil
	})

	err := SendIPCAction(socketPath, "music", PlayPause{})
	if err == nil || !strings.Contains(err.Error(), "platform disabled: music") {
		t.Errorf("err = %v, want handler error passed through", err)
	}
}

func TestIPC_QueryReturnsPlatformList(t *testing.T) {
	catalog := NewCatalog(knownPlatforms(), &memorySettings{}, testLogger())
	if _, err := catalog.Toggle("vlc"); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	socketPath := startTestIPC(t, func(ctx context.Context, platform string, action Action) (any, error) {
		if _, ok := action.(ListPlatforms); ok {
			return catalog.Infos(), nil
		}
		return nil, nil
	})

	data, err := QueryIPCAction(socketPath, "", ListPlatforms{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	var infos []PlatformInfo
	if err := json.Unmarshal(data, &infos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(infos) != len(knownPlatforms()) {
		t.Fatalf("listed %d platforms, want %d", len(infos), len(knownPlatforms()))
	}
	for _, info := range infos {
		wantEnabled := info.ID != "vlc"
		if info.Enabled != wantEnabled {
			t.Errorf("%s enabled = %v, want %v", info.ID, info.Enabled, wantEnabled)
		}
	}
}
