package schema

// ScriptID identifies a stored script record. It is opaque and stable
// across content-preserving updates.
type ScriptID string

// ScriptName is the normalized filesystem-safe script name (".cljs" suffix).
type ScriptName string

// TabID identifies a browser tab.
type TabID int

// Port is a bridge server TCP/WebSocket port.
type Port int

// RunAt declares injection timing relative to the page document lifecycle.
type RunAt string

const (
	// RunAtDocumentStart runs before page-authored inline scripts.
	RunAtDocumentStart RunAt = "document-start"
	// RunAtDocumentEnd runs after the DOM is parsed.
	RunAtDocumentEnd RunAt = "document-end"
	// RunAtDocumentIdle runs after the load-completed signal.
	RunAtDocumentIdle RunAt = "document-idle"
)

// ConfirmOp describes the deferred mutation behind a pending confirmation.
type ConfirmOp string

const (
	// ConfirmOpRename defers a script rename.
	ConfirmOpRename ConfirmOp = "rename"
	// ConfirmOpOverwrite defers a script overwrite.
	ConfirmOpOverwrite ConfirmOp = "overwrite"
)

// IconState is the per-tab extension icon state, ordered
// disconnected < injected < connected.
type IconState int

const (
	// IconDisconnected means no runtime was injected and no connection exists.
	IconDisconnected IconState = iota
	// IconInjected means the embedded runtime was injected into the tab.
	IconInjected
	// IconConnected means a live bridge connection exists for the tab.
	IconConnected
)

// String returns the wire name of the icon state.
func (s IconState) String() string {
	switch s {
	case IconConnected:
		return "connected"
	case IconInjected:
		return "injected"
	default:
		return "disconnected"
	}
}

// Max returns the greater of two icon states.
func (s IconState) Max(other IconState) IconState {
	if other > s {
		return other
	}
	return s
}
