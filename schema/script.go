package schema

import "time"

// Script is the persisted script record. Display fields (name, description,
// library requirements) are not stored; they are re-derived from Code by the
// manifest parser on read.
type Script struct {
	ID            ScriptID  `json:"id"`
	Code          string    `json:"code"`
	Enabled       bool      `json:"enabled"`
	RunAt         RunAt     `json:"run_at"`
	Match         string    `json:"match,omitempty"`
	Builtin       bool      `json:"builtin,omitempty"`
	AlwaysEnabled bool      `json:"always_enabled,omitempty"`
	Created       time.Time `json:"created"`
	Modified      time.Time `json:"modified"`
}

// Manifest is the structured metadata parsed from a script's leading
// header block. A script without a header has an empty manifest.
type Manifest struct {
	Name        string
	Match       string
	Description string
	RunAt       RunAt
	Require     []string
}

// AutoRun reports whether the manifest declares an auto-run match pattern.
// Absence of a match makes the script manual-only.
func (m Manifest) AutoRun() bool {
	return m.Match != ""
}

// ScriptSnapshot is a read-only view of a script for transports: the
// persisted record plus fields re-derived from its code.
type ScriptSnapshot struct {
	ID            ScriptID   `json:"id"`
	Name          ScriptName `json:"name"`
	Description   string     `json:"description,omitempty"`
	Match         string     `json:"match,omitempty"`
	RunAt         RunAt      `json:"run_at"`
	Require       []string   `json:"require,omitempty"`
	Enabled       bool       `json:"enabled"`
	Builtin       bool       `json:"builtin,omitempty"`
	AlwaysEnabled bool       `json:"always_enabled,omitempty"`
	Created       time.Time  `json:"created"`
	Modified      time.Time  `json:"modified"`
}

// PendingConfirmation is a deferred mutation awaiting explicit approval.
// At most one exists per source name; a later unforced request for the same
// source replaces the destination rather than stacking a second entry.
type PendingConfirmation struct {
	Source      ScriptName `json:"source"`
	Destination ScriptName `json:"destination"`
	Op          ConfirmOp  `json:"op"`
	RequestedAt time.Time  `json:"requested_at"`
}

// Connection is a live tab-to-bridge-server pairing.
type Connection struct {
	TabID TabID  `json:"tab_id"`
	Port  Port   `json:"port"`
	Title string `json:"title,omitempty"`
}
