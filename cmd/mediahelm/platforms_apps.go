package main

import (
	"fmt"
	"math"
)

// ============================================================================
// Platform table
// ============================================================================
// One Platform value per supported application, built once at startup.
// Scripts return exactly one line: title|||subtitle|||state-token|||bool.
// Applications with nothing open report a defined "No media" line so that
// an idle app is distinguishable from a parse failure.
// ============================================================================

const (
	defaultSkipSeconds = 15

	noMediaTitle    = "No media"
	notRunningTitle = "Not running"
)

func playPauseIcon(isPlaying bool) string {
	if isPlaying {
		return "pause.fill"
	}
	return "play.fill"
}

// jukeboxActions is the action list shared by the track-based players
// (Music, TV, Spotify): toggle, previous, next, seek both ways.
func jukeboxActions() []ActionSpec {
	return []ActionSpec{
		{Action: PreviousTrack{}, Icon: "backward.fill"},
		{Action: SkipBackward{Seconds: defaultSkipSeconds}, Icon: "gobackward.15"},
		{Action: PlayPause{}, IconFor: playPauseIcon},
		{Action: SkipForward{Seconds: defaultSkipSeconds}, Icon: "goforward.15"},
		{Action: NextTrack{}, Icon: "forward.fill"},
	}
}

func skipSeconds(n int) int {
	if n <= 0 {
		return defaultSkipSeconds
	}
	return n
}

// jukeboxPlatform builds a descriptor for the Music-style scriptable players,
// which share a dictionary: current track, artist, player state, playpause.
func jukeboxPlatform(id, name, app string) Platform {
	fetch := fmt.Sprintf(`if application "%[1]s" is running then
	tell application "%[1]s"
		if not (exists current track) then
			return "%[2]s|||%[1]s|||stopped|||false"
		end if
		set trackName to name of current track
		set trackArtist to artist of current track
		set stateToken to (player state as text)
		return trackName & "|||" & trackArtist & "|||" & stateToken & "|||" & ((stateToken is "playing") as text)
	end tell
end if
return "%[3]s|||%[1]s|||stopped|||false"`, app, noMediaTitle, notRunningTitle)

	return Platform{
		ID:          id,
		Name:        name,
		Actions:     jukeboxActions(),
		MinFields:   4,
		fetchScript: fetch,
		actionScript: func(a Action) string {
			switch act := a.(type) {
			case PlayPause:
				return fmt.Sprintf(`tell application "%s" to playpause`, app)
			case NextTrack:
				return fmt.Sprintf(`tell application "%s" to next track`, app)
			case PreviousTrack:
				return fmt.Sprintf(`tell application "%s" to previous track`, app)
			case SkipForward:
				return fmt.Sprintf(`tell application "%s" to set player position to (player position + %d)`, app, skipSeconds(act.Seconds))
			case SkipBackward:
				return fmt.Sprintf(`tell application "%s" to set player position to (player position - %d)`, app, skipSeconds(act.Seconds))
			default:
				return ""
			}
		},
	}
}

// podcastsPlatform drives the Podcasts app, which has no scripting
// dictionary: play/pause goes through its Controls menu via System Events,
// and the fetch can only report whether the app is running. Two fields, no
// play-state token, so IsPlaying stays unknown.
func podcastsPlatform() Platform {
	const app = "Podcasts"

	fetch := fmt.Sprintf(`if application "%[1]s" is running then
	return "%[1]s|||Running"
end if
return "%[2]s|||%[1]s"`, app, notRunningTitle)

	return Platform{
		ID:   "podcasts",
		Name: app,
		Actions: []ActionSpec{
			{Action: PlayPause{}, IconFor: playPauseIcon},
		},
		MinFields:   2,
		fetchScript: fetch,
		actionScript: func(a Action) string {
			switch a.(type) {
			case PlayPause:
				// Menu item 1 of Controls is the Play/Pause toggle.
				return fmt.Sprintf(`tell application "System Events" to tell process "%s"
	click menu item 1 of menu "Controls" of menu bar 1
end tell`, app)
			default:
				return ""
			}
		},
	}
}

func quickTimePlatform() Platform {
	const app = "QuickTime Player"

	fetch := fmt.Sprintf(`if application "%[1]s" is running then
	tell application "%[1]s"
		if (count documents) is 0 then
			return "%[2]s|||%[1]s|||stopped|||false"
		end if
		set playToken to (playing of front document as text)
		return (name of front document) & "|||%[1]s|||" & playToken & "|||" & playToken
	end tell
end if
return "%[3]s|||%[1]s|||stopped|||false"`, app, noMediaTitle, notRunningTitle)

	return Platform{
		ID:   "quicktime",
		Name: app,
		Actions: []ActionSpec{
			{Action: SkipBackward{Seconds: defaultSkipSeconds}, Icon: "gobackward.15"},
			{Action: PlayPause{}, IconFor: playPauseIcon},
			{Action: SkipForward{Seconds: defaultSkipSeconds}, Icon: "goforward.15"},
		},
		MinFields:   4,
		fetchScript: fetch,
		actionScript: func(a Action) string {
			switch act := a.(type) {
			case PlayPause:
				return fmt.Sprintf(`tell application "%[1]s"
	if (count documents) > 0 then
		if playing of front document then
			pause front document
		else
			play front document
		end if
	end if
end tell`, app)
			case SkipForward:
				return fmt.Sprintf(`tell application "%s" to set current time of front document to (current time of front document) + %d`, app, skipSeconds(act.Seconds))
			case SkipBackward:
				return fmt.Sprintf(`tell application "%s" to set current time of front document to (current time of front document) - %d`, app, skipSeconds(act.Seconds))
			default:
				return ""
			}
		},
	}
}

func vlcPlatform() Platform {
	const app = "VLC"

	fetch := fmt.Sprintf(`if application "%[1]s" is running then
	tell application "%[1]s"
		try
			set itemName to name of current item
		on error
			return "%[2]s|||%[1]s|||stopped|||false"
		end try
		set playToken to (playing as text)
		return itemName & "|||%[1]s|||" & playToken & "|||" & playToken
	end tell
end if
return "%[3]s|||%[1]s|||stopped|||false"`, app, noMediaTitle, notRunningTitle)

	return Platform{
		ID:   "vlc",
		Name: app,
		Actions: []ActionSpec{
			{Action: PreviousTrack{}, Icon: "backward.fill"},
			{Action: SkipBackward{Seconds: defaultSkipSeconds}, Icon: "gobackward.15"},
			{Action: PlayPause{}, IconFor: playPauseIcon},
			{Action: SkipForward{Seconds: defaultSkipSeconds}, Icon: "goforward.15"},
			{Action: NextTrack{}, Icon: "forward.fill"},
		},
		MinFields:   4,
		fetchScript: fetch,
		actionScript: func(a Action) string {
			switch a.(type) {
			case PlayPause:
				// VLC's `play` command is itself a toggle.
				return fmt.Sprintf(`tell application "%s" to play`, app)
			case NextTrack:
				return fmt.Sprintf(`tell application "%s" to next`, app)
			case PreviousTrack:
				return fmt.Sprintf(`tell application "%s" to previous`, app)
			case SkipForward:
				return fmt.Sprintf(`tell application "%s" to step forward`, app)
			case SkipBackward:
				return fmt.Sprintf(`tell application "%s" to step backward`, app)
			default:
				return ""
			}
		},
	}
}

// knownPlatforms returns the fixed, ordered platform list. The order is
// stable so state-map iteration and UI listings are deterministic.
func knownPlatforms() []Platform {
	return []Platform{
		jukeboxPlatform("music", "Music", "Music"),
		jukeboxPlatform("spotify", "Spotify", "Spotify"),
		jukeboxPlatform("tv", "TV", "TV"),
		podcastsPlatform(),
		quickTimePlatform(),
		vlcPlatform(),
	}
}

// ============================================================================
// Host volume scripts
// ============================================================================
// Output volume is host-global, not per platform. It is written
// fire-and-forget and read back only by the explicit get script during a
// refresh cycle.
// ============================================================================

const hostVolumeGetScript = `output volume of (get volume settings)`

func hostVolumeSetScript(level float64) string {
	pct := int(math.Round(math.Max(0, math.Min(1, level)) * 100))
	return fmt.Sprintf("set volume output volume %d", pct)
}
