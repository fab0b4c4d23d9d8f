// Package chromepage drives browser tabs over the DevTools protocol. It
// implements the engine's Page contract with chromedp: install-marker
// probes, idempotent library tags, and script injection with run-at timing.
package chromepage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/PEZ/epupp/core"
	"github.com/PEZ/epupp/schema"
)

// Artifact attributes stamped on everything we add to a document, so a
// rescan can find and remove exactly our own nodes.
const (
	libAttr    = "data-epupp-lib"
	scriptAttr = "data-epupp-script"
	markerAttr = "data-epupp-install"
)

// Provider resolves tabs to DevTools sessions. Tabs register as the
// browser opens them and deregister on close; the allocator context owns
// the browser connection.
type Provider struct {
	mu   sync.Mutex
	tabs map[schema.TabID]context.Context
}

// NewProvider returns an empty tab registry.
func NewProvider() *Provider {
	return &Provider{tabs: make(map[schema.TabID]context.Context)}
}

var _ core.PageProvider = (*Provider)(nil)

// Register associates a tab with its chromedp target context.
func (p *Provider) Register(tabID schema.TabID, ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tabs[tabID] = ctx
}

// Deregister drops a closed tab from the registry.
func (p *Provider) Deregister(tabID schema.TabID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tabs, tabID)
}

// Page returns the driver for a registered tab.
func (p *Provider) Page(ctx context.Context, tabID schema.TabID) (core.Page, error) {
	_ = ctx
	p.mu.Lock()
	defer p.mu.Unlock()
	tabCtx, ok := p.tabs[tabID]
	if !ok {
		return nil, fmt.Errorf("%w: tab %d has no devtools session", schema.ErrInvalidTab, tabID)
	}
	return &tabPage{ctx: tabCtx}, nil
}

// tabPage executes page operations against one tab's target context.
type tabPage struct {
	ctx context.Context
}

var _ core.Page = (*tabPage)(nil)

func (t *tabPage) HasInstallMarkers(ctx context.Context) (bool, error) {
	expr := fmt.Sprintf("document.querySelector('[%s]') !== null", markerAttr)
	var found bool
	if err := t.run(ctx, chromedp.Evaluate(expr, &found)); err != nil {
		return false, fmt.Errorf("probe install markers: %w", err)
	}
	return found, nil
}

// InjectLibrary appends a script tag loading the library unless a tag for
// the same URL is already in the document.
func (t *tabPage) InjectLibrary(ctx context.Context, url string) (bool, error) {
	expr := fmt.Sprintf(`(() => {
		const url = %s;
		for (const tag of document.querySelectorAll('script[%s]')) {
			if (tag.getAttribute('%s') === url) {
				return false;
			}
		}
		const tag = document.createElement('script');
		tag.src = url;
		tag.setAttribute('%s', url);
		(document.head || document.documentElement).appendChild(tag);
		return true;
	})()`, jsString(url), libAttr, libAttr, libAttr)
	var added bool
	if err := t.run(ctx, chromedp.Evaluate(expr, &added)); err != nil {
		return false, fmt.Errorf("inject library %s: %w", url, err)
	}
	return added, nil
}

// InjectScript places the script body in the document. Document-start
// bodies also register with the target so future documents in this tab get
// them before any page-authored script runs.
func (t *tabPage) InjectScript(ctx context.Context, code string, runAt schema.RunAt) error {
	expr := appendScriptExpr(code)
	if runAt == schema.RunAtDocumentStart {
		err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(expr).Do(ctx)
			return err
		}))
		if err != nil {
			return fmt.Errorf("register document-start script: %w", err)
		}
	}
	if err := t.run(ctx, chromedp.Evaluate(expr, nil)); err != nil {
		return fmt.Errorf("inject script: %w", err)
	}
	return nil
}

// ClearArtifacts removes every node we stamped so a rescan starts from a
// clean document.
func (t *tabPage) ClearArtifacts(ctx context.Context) error {
	expr := fmt.Sprintf(`(() => {
		for (const node of document.querySelectorAll('[%s], [%s]')) {
			node.remove();
		}
	})()`, libAttr, scriptAttr)
	if err := t.run(ctx, chromedp.Evaluate(expr, nil)); err != nil {
		return fmt.Errorf("clear artifacts: %w", err)
	}
	return nil
}

// run executes actions on the tab's target while honoring the caller's
// cancellation.
func (t *tabPage) run(ctx context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(t.ctx, actions...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// appendScriptExpr builds JS that appends the body as an inline scittle
// script tag for the loader to evaluate.
func appendScriptExpr(code string) string {
	return fmt.Sprintf(`(() => {
		const tag = document.createElement('script');
		tag.type = 'application/x-scittle';
		tag.setAttribute('%s', '');
		tag.textContent = %s;
		(document.head || document.documentElement).appendChild(tag);
	})()`, scriptAttr, jsString(code))
}

// jsString renders a Go string as a JS string literal.
func jsString(s string) string {
	encoded, _ := json.Marshal(s)
	return string(encoded)
}
