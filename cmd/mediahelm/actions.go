package main

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Action Types
// ============================================================================
// Actions represent intent from various sources (IPC, helmctl, UI clients).
// Platform-targeted actions are translated into scripts by the platform
// table; control actions (toggle/scan/volume) are handled by the daemon
// directly.
// ============================================================================

// Action is a marker interface for all control actions.
type Action interface{}

// PlayPause toggles playback on the targeted platform.
type PlayPause struct{}

// NextTrack skips to the next track on the targeted platform.
type NextTrack struct{}

// PreviousTrack returns to the previous track on the targeted platform.
type PreviousTrack struct{}

// SkipForward seeks forward within the current item.
type SkipForward struct {
	Seconds int `json:"seconds"`
}

// SkipBackward seeks backward within the current item.
type SkipBackward struct {
	Seconds int `json:"seconds"`
}

// SetVolume sets the host output volume. Level is 0.0-1.0.
// Volume is host-global, not per-platform; the platform field of the
// envelope is ignored for this action.
type SetVolume struct {
	Level float64 `json:"level"`
}

// TogglePlatform flips a platform's enabled state and persists the result.
type TogglePlatform struct {
	ID string `json:"id"`
}

// StartScan kicks off a discovery scan for controllable hosts.
type StartScan struct{}

// ListPlatforms queries the known platforms and their enabled state. The
// response carries the list as data.
type ListPlatforms struct{}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================
// ActionEnvelope wraps actions for the IPC wire protocol. Since Go doesn't
// have union types, we use a type discriminator plus an optional platform
// target.
// ============================================================================

// ActionEnvelope wraps an action with a type discriminator for JSON marshaling.
type ActionEnvelope struct {
	Type     string          `json:"type"`
	Platform string          `json:"platform,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// UnmarshalAction deserializes a JSON action envelope into a concrete Action
// and its target platform id (empty for control actions).
func UnmarshalAction(data []byte) (string, Action, error) {
	var env ActionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "play_pause":
		return env.Platform, PlayPause{}, nil

	case "next_track":
		return env.Platform, NextTrack{}, nil

	case "previous_track":
		return env.Platform, PreviousTrack{}, nil

	case "skip_forward":
		var a SkipForward
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return "", nil, fmt.Errorf("unmarshal SkipForward: %w", err)
		}
		return env.Platform, a, nil

	case "skip_backward":
		var a SkipBackward
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return "", nil, fmt.Errorf("unmarshal SkipBackward: %w", err)
		}
		return env.Platform, a, nil

	case "set_volume":
		var a SetVolume
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return "", nil, fmt.Errorf("unmarshal SetVolume: %w", err)
		}
		return env.Platform, a, nil

	case "toggle_platform":
		var a TogglePlatform
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return "", nil, fmt.Errorf("unmarshal TogglePlatform: %w", err)
		}
		return env.Platform, a, nil

	case "start_scan":
		return env.Platform, StartScan{}, nil

	case "list_platforms":
		return env.Platform, ListPlatforms{}, nil

	default:
		return "", nil, fmt.Errorf("unknown action type: %s", env.Type)
	}
}

// MarshalAction serializes an Action into a JSON action envelope.
func MarshalAction(platform string, action Action) ([]byte, error) {
	env := ActionEnvelope{Platform: platform}

	payload := func(name string, a any) error {
		env.Type = name
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", name, err)
		}
		env.Data = data
		return nil
	}

	switch a := action.(type) {
	case PlayPause:
		env.Type = "play_pause"

	case NextTrack:
		env.Type = "next_track"

	case PreviousTrack:
		env.Type = "previous_track"

	case SkipForward:
		if err := payload("skip_forward", a); err != nil {
			return nil, err
		}

	case SkipBackward:
		if err := payload("skip_backward", a); err != nil {
			return nil, err
		}

	case SetVolume:
		if err := payload("set_volume", a); err != nil {
			return nil, err
		}

	case TogglePlatform:
		if err := payload("toggle_platform", a); err != nil {
			return nil, err
		}

	case StartScan:
		env.Type = "start_scan"

	case ListPlatforms:
		env.Type = "list_platforms"

	default:
		return nil, fmt.Errorf("unknown action type: %T", action)
	}

	return json.Marshal(env)
}
