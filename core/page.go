package core

import (
	"context"

	"github.com/PEZ/epupp/schema"
)

// Page is the engine's view of a browser tab's document. Implementations
// drive the DevTools protocol; tests substitute fakes.
type Page interface {
	// HasInstallMarkers reports whether the document carries
	// install-from-web markers for the scanner to act on.
	HasInstallMarkers(ctx context.Context) (bool, error)

	// InjectLibrary adds a library script tag once. It reports false
	// without re-adding when a tag with the same identity is already
	// present.
	InjectLibrary(ctx context.Context, url string) (bool, error)

	// InjectScript registers a script body honoring the declared timing.
	// Document-start bodies must run before page-authored inline scripts.
	InjectScript(ctx context.Context, code string, runAt schema.RunAt) error

	// ClearArtifacts removes injected tags and processed-markers so a
	// rescan of the same document starts clean.
	ClearArtifacts(ctx context.Context) error
}

// PageProvider resolves the Page for a tab at scan time.
type PageProvider interface {
	Page(ctx context.Context, tabID schema.TabID) (Page, error)
}
