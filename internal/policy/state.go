// Package policy implements the Policy State, Turn, and Turn Queue
// described in spec.md §3/§4.1: the single-writer mutable policy record a
// Session Runtime owns, and the FIFO queue of immutable Turns the Engine
// Driver consumes. Grounded on the teacher's internal/agent.Loop turn
// sequencing (sequential consumption with a captured snapshot per
// iteration), reshaped around an explicit append/isolate-and-clear queue
// instead of the teacher's single request-at-a-time loop.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
)

// Mode is the permission mode component of Policy State.
type Mode string

const (
	ModeDefault           Mode = "default"
	ModeAcceptEdits       Mode = "accept-edits"
	ModeBypassPermissions Mode = "bypass-permissions"
	ModePlan              Mode = "plan"
)

// State is the mutable Policy State (spec.md §3). Session Runtime is its
// sole writer; everything else only ever sees an immutable Snapshot.
type State struct {
	mu sync.Mutex

	mode                  Mode
	modelID               string
	fallbackModelID       string
	customSystemPrompt    string
	appendedSystemPrompt  string
	allowedTools          []string
	disallowedTools       []string
	roleID                string
	teamID                string
}

// New returns a Policy State initialized to the default mode with no
// other fields set.
func New() *State {
	return &State{mode: ModeDefault}
}

// Snapshot is the immutable point-in-time copy of Policy State bound into
// a Turn at enqueue time (spec.md §3 invariant: "the policy state applied
// to a turn is the snapshot captured when the turn is enqueued, not when
// it is executed").
type Snapshot struct {
	Mode                 Mode
	ModelID              string
	FallbackModelID      string
	CustomSystemPrompt   string
	AppendedSystemPrompt string
	AllowedTools         []string
	DisallowedTools      []string
	RoleID               string
	TeamID               string
}

// Snapshot captures the current Policy State as an immutable value.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Mode:                 s.mode,
		ModelID:              s.modelID,
		FallbackModelID:      s.fallbackModelID,
		CustomSystemPrompt:   s.customSystemPrompt,
		AppendedSystemPrompt: s.appendedSystemPrompt,
		AllowedTools:         copyStrings(s.allowedTools),
		DisallowedTools:      copyStrings(s.disallowedTools),
		RoleID:               s.roleID,
		TeamID:               s.teamID,
	}
}

// Overrides describes a partial update to Policy State: each non-nil
// field replaces the current value, each nil field is left unchanged
// (spec.md §4.1 push-user-turn: "each field present -> updates; each
// absent -> unchanged").
type Overrides struct {
	Mode                 *Mode
	ModelID              *string
	FallbackModelID      *string
	CustomSystemPrompt   *string
	AppendedSystemPrompt *string
	AllowedTools         *[]string
	DisallowedTools      *[]string
	RoleID               *string
	TeamID               *string
}

// Apply merges o into the Policy State and returns the resulting
// Snapshot. It is the only mutation entry point; callers outside
// Session Runtime must never be given a *State.
func (s *State) Apply(o Overrides) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.Mode != nil {
		s.mode = *o.Mode
	}
	if o.ModelID != nil {
		s.modelID = *o.ModelID
	}
	if o.FallbackModelID != nil {
		s.fallbackModelID = *o.FallbackModelID
	}
	if o.CustomSystemPrompt != nil {
		s.customSystemPrompt = *o.CustomSystemPrompt
	}
	if o.AppendedSystemPrompt != nil {
		s.appendedSystemPrompt = *o.AppendedSystemPrompt
	}
	if o.AllowedTools != nil {
		s.allowedTools = copyStrings(*o.AllowedTools)
	}
	if o.DisallowedTools != nil {
		s.disallowedTools = copyStrings(*o.DisallowedTools)
	}
	if o.RoleID != nil {
		s.roleID = *o.RoleID
	}
	if o.TeamID != nil {
		s.teamID = *o.TeamID
	}

	return s.lockedSnapshot()
}

func (s *State) lockedSnapshot() Snapshot {
	return Snapshot{
		Mode:                 s.mode,
		ModelID:              s.modelID,
		FallbackModelID:      s.fallbackModelID,
		CustomSystemPrompt:   s.customSystemPrompt,
		AppendedSystemPrompt: s.appendedSystemPrompt,
		AllowedTools:         copyStrings(s.allowedTools),
		DisallowedTools:      copyStrings(s.disallowedTools),
		RoleID:               s.roleID,
		TeamID:               s.teamID,
	}
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Fingerprint computes a stable hash of a Snapshot. Two snapshots with
// identical field values always produce the same fingerprint regardless
// of slice element order, which the Turn Queue uses to decide whether
// consecutive enqueues may coalesce (spec.md §3).
func Fingerprint(snap Snapshot) string {
	var b strings.Builder
	b.WriteString(string(snap.Mode))
	b.WriteByte('\x00')
	b.WriteString(snap.ModelID)
	b.WriteByte('\x00')
	b.WriteString(snap.FallbackModelID)
	b.WriteByte('\x00')
	b.WriteString(snap.CustomSystemPrompt)
	b.WriteByte('\x00')
	b.WriteString(snap.AppendedSystemPrompt)
	b.WriteByte('\x00')
	writeSortedSet(&b, snap.AllowedTools)
	b.WriteByte('\x00')
	writeSortedSet(&b, snap.DisallowedTools)
	b.WriteByte('\x00')
	b.WriteString(snap.RoleID)
	b.WriteByte('\x00')
	b.WriteString(snap.TeamID)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeSortedSet(b *strings.Builder, in []string) {
	if len(in) == 0 {
		return
	}
	sorted := make([]string, len(in))
	copy(sorted, in)
	sort.Strings(sorted)
	b.WriteString(strings.Join(sorted, ","))
}
