package main

import (
	"fmt"
	"strings"
	"time"
)

// fieldDelimiter joins the fields of a state-fetch script's single output
// line. Platform scripts must source their fields from values that cannot
// contain it.
const fieldDelimiter = "|||"

// ObservedState is what one platform last reported, as held in the
// synchronizer's authoritative map. Err is a per-poll condition; the next
// successful poll replaces it.
type ObservedState struct {
	Title     string
	Subtitle  string
	IsPlaying *bool // nil means unknown
	Err       string
	At        time.Time
}

// HasError reports whether this state carries a per-poll failure.
func (s ObservedState) HasError() bool { return s.Err != "" }

// ActionSpec pairs an action a platform supports with its icon. Icon is a
// static symbol name; IconFor, when set, picks the symbol from the current
// playing state (used by play/pause buttons).
type ActionSpec struct {
	Action  Action
	Icon    string
	IconFor func(isPlaying bool) string
}

// Platform is the per-application descriptor: identity, supported actions,
// the read-state script, and the action-to-script translation. Platforms are
// immutable values; the catalog builds one per supported application at
// startup and never mutates them.
type Platform struct {
	ID   string
	Name string

	// Actions lists supported actions in display order.
	Actions []ActionSpec

	// MinFields is the minimum field count ParseState accepts from the
	// fetch script's output line.
	MinFields int

	fetchScript  string
	actionScript func(Action) string
}

// FetchStateScript returns the read-only script that reports this
// application's state as one delimited line.
func (p Platform) FetchStateScript() string { return p.fetchScript }

// ActionScript returns the script for a supported action, or the empty
// string for unsupported ones. Callers treat empty as a no-op and issue
// nothing.
func (p Platform) ActionScript(a Action) string {
	if p.actionScript == nil {
		return ""
	}
	return p.actionScript(a)
}

// ParseState splits a fetch script's raw output on the field delimiter and
// maps it into an ObservedState. Fields are trimmed of surrounding
// whitespace; the boolean field is true only for the exact token "true".
// Too few fields yields an error-bearing state, never a panic: short output
// is a recoverable per-poll condition.
func (p Platform) ParseState(raw string) ObservedState {
	now := time.Now()

	fields := strings.Split(raw, fieldDelimiter)
	if len(fields) < p.MinFields {
		return ObservedState{
			Err: fmt.Sprintf("unexpected state output (%d fields, want at least %d)", len(fields), p.MinFields),
			At:  now,
		}
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	st := ObservedState{Title: fields[0], At: now}
	if len(fields) > 1 {
		st.Subtitle = fields[1]
	}
	if len(fields) > 3 {
		playing := fields[3] == "true"
		st.IsPlaying = &playing
	}
	return st
}

// SupportsAction reports whether the platform lists the given action kind.
func (p Platform) SupportsAction(a Action) bool {
	return p.ActionScript(a) != ""
}
