package core

import (
	"context"
	"time"

	"github.com/PEZ/epupp/internal/kvstore"
	"pkt.systems/pslog"
)

// ServiceDeps captures dependencies for the coordination engine.
type ServiceDeps struct {
	Store     kvstore.Store
	EventSink EventSink
	Pages     PageProvider
	Logger    pslog.Logger

	// Now and Sleep are injectable for deterministic scheduler tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}
