package core

import (
	"context"
	"fmt"
	"time"

	"github.com/PEZ/epupp/internal/logx"
	"github.com/PEZ/epupp/internal/manifest"
	"github.com/PEZ/epupp/internal/match"
	"github.com/PEZ/epupp/schema"
	"pkt.systems/pslog"
)

// navScan is the per-(tab, navigation) scan state. Each navigation replaces
// the previous scan wholesale; the retry schedule is plain data from config.
type navScan struct {
	tabID    schema.TabID
	url      string
	injected map[schema.ScriptName]bool
}

// candidate is a script eligible for auto-run on the scanned URL.
type candidate struct {
	name    schema.ScriptName
	code    string
	runAt   schema.RunAt
	require []string
}

// NavigationCommitted starts the injection scan for a navigation. Schedule
// entries are offsets from the navigation commit, so the default schedule
// scans at T+0, T+300, T+1000 and T+3000 ms. The first attempt runs
// synchronously; remaining attempts run in the background until the scan
// completes or the schedule exhausts. Scan failures are non-fatal and leave
// later retries intact.
func (s *service) NavigationCommitted(ctx context.Context, req schema.NavigationRequest) (schema.NavigationResponse, error) {
	if err := schema.ValidateTabID(req.TabID); err != nil {
		return schema.NavigationResponse{}, err
	}
	if req.URL == "" {
		return schema.NavigationResponse{}, fmt.Errorf("%w: empty url", schema.ErrInvalidRequest)
	}
	log := logx.WithTab(ctx, req.TabID)

	if !s.originAllowed(req.URL) {
		log.Debug("navigation outside allowed origins", "url", req.URL)
		return schema.NavigationResponse{}, nil
	}

	s.mu.Lock()
	tab, ok := s.tabs[req.TabID]
	if !ok {
		tab = &tabState{}
		s.tabs[req.TabID] = tab
	}
	if tab.scanCancel != nil {
		tab.scanCancel()
		tab.scanCancel = nil
	}
	if !req.SPA {
		tab.injected = false
	}
	scanCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	tab.scanCancel = cancel
	waits := scheduleWaits(s.cfg.RetryBackoff)
	s.mu.Unlock()

	scan := &navScan{
		tabID:    req.TabID,
		url:      req.URL,
		injected: make(map[schema.ScriptName]bool),
	}
	if req.SPA {
		s.clearArtifacts(scanCtx, scan, log)
	}

	matched := s.matchedNames(req.URL)

	// First attempt honors the schedule's leading offset, which defaults
	// to zero.
	done := false
	if len(waits) > 0 {
		if err := s.sleep(scanCtx, waits[0]); err == nil {
			done = s.scanAttempt(scanCtx, scan, log)
		}
	}
	scheduled := false
	if !done && len(waits) > 1 {
		scheduled = true
		go s.retryLoop(scanCtx, cancel, scan, waits[1:], log)
	} else {
		cancel()
	}
	return schema.NavigationResponse{Matched: matched, Scheduled: scheduled}, nil
}

// scheduleWaits converts commit-relative offsets into the gaps to sleep
// between consecutive attempts. Non-increasing offsets collapse to zero.
func scheduleWaits(offsets []time.Duration) []time.Duration {
	waits := make([]time.Duration, len(offsets))
	var prev time.Duration
	for i, offset := range offsets {
		wait := offset - prev
		if wait < 0 {
			wait = 0
		}
		waits[i] = wait
		if offset > prev {
			prev = offset
		}
	}
	return waits
}

// retryLoop runs the remaining scheduled attempts. It stops on the first
// complete scan, on cancellation, and after the final attempt.
func (s *service) retryLoop(ctx context.Context, cancel context.CancelFunc, scan *navScan, delays []time.Duration, log pslog.Logger) {
	defer cancel()
	for i, delay := range delays {
		if err := s.sleep(ctx, delay); err != nil {
			return
		}
		if s.scanAttempt(ctx, scan, log) {
			return
		}
		if i == len(delays)-1 {
			log.Debug("scan retries exhausted", "url", scan.url)
		}
	}
}

// scanAttempt re-scans the page from scratch and injects whatever qualifies.
// It reports whether the scan is complete: something was injected this
// navigation and no candidate is still failing. An incomplete scan keeps
// the remaining schedule alive.
func (s *service) scanAttempt(ctx context.Context, scan *navScan, log pslog.Logger) bool {
	if s.pages == nil {
		return false
	}
	page, err := s.pages.Page(ctx, scan.tabID)
	if err != nil {
		log.Debug("page unavailable, will retry", "err", err)
		return false
	}
	if markers, err := page.HasInstallMarkers(ctx); err != nil {
		log.Debug("install marker scan failed, will retry", "err", err)
	} else if markers {
		s.emitEvent(schema.EventInstallMarkersFound, map[string]any{
			"tab_id": int(scan.tabID),
			"url":    scan.url,
		})
	}
	injected := false
	pending := false
	for _, cand := range s.candidates(scan.url) {
		if scan.injected[cand.name] {
			injected = true
			continue
		}
		if err := s.injectOne(ctx, page, scan, cand, log); err != nil {
			logx.WithScript(log, cand.name).Warn("injection failed, will retry", "err", err)
			pending = true
			continue
		}
		scan.injected[cand.name] = true
		injected = true
	}
	return injected && !pending
}

// injectOne injects one script's required libraries and then its body.
func (s *service) injectOne(ctx context.Context, page Page, scan *navScan, cand candidate, log pslog.Logger) error {
	if len(cand.require) > 0 {
		s.emitEvent(schema.EventInjectingRequires, map[string]any{
			"tab_id": int(scan.tabID),
			"files":  cand.require,
		})
		for _, url := range cand.require {
			if _, err := page.InjectLibrary(ctx, url); err != nil {
				return err
			}
		}
		s.emitEvent(schema.EventLibsInjected, map[string]any{
			"tab_id": int(scan.tabID),
			"files":  cand.require,
		})
	}
	if err := page.InjectScript(ctx, cand.code, cand.runAt); err != nil {
		return err
	}
	s.emitEvent(schema.EventScriptInjected, map[string]any{
		"tab_id": int(scan.tabID),
		"script": string(cand.name),
		"url":    scan.url,
	})
	logx.WithScript(log, cand.name).Info("script injected", "url", scan.url)
	return nil
}

// clearArtifacts removes previously injected tags before an SPA rescan.
func (s *service) clearArtifacts(ctx context.Context, scan *navScan, log pslog.Logger) {
	if s.pages == nil {
		return
	}
	page, err := s.pages.Page(ctx, scan.tabID)
	if err != nil {
		log.Debug("page unavailable for cleanup", "err", err)
		return
	}
	if err := page.ClearArtifacts(ctx); err != nil {
		log.Warn("artifact cleanup failed", "err", err)
	}
}

// candidates returns the enabled auto-run scripts matching url. Scripts
// without a match pattern are manual-only and never auto-run.
func (s *service) candidates(url string) []candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []candidate
	for _, script := range s.scripts {
		if !script.Enabled && !script.AlwaysEnabled {
			continue
		}
		if script.Match == "" || !match.Matches(script.Match, url) {
			continue
		}
		name, ok := deriveName(script)
		if !ok {
			continue
		}
		m, body := manifest.Parse(script.Code)
		out = append(out, candidate{
			name:    name,
			code:    body,
			runAt:   script.RunAt,
			require: append([]string(nil), m.Require...),
		})
	}
	return out
}

// matchedNames lists the names auto-run matching for the response.
func (s *service) matchedNames(url string) []schema.ScriptName {
	names := make([]schema.ScriptName, 0, 4)
	for _, cand := range s.candidates(url) {
		names = append(names, cand.name)
	}
	return names
}

// originAllowed checks the navigation URL against the configured allow
// list. An empty list allows every origin.
func (s *service) originAllowed(url string) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, pattern := range s.cfg.AllowedOrigins {
		if match.Matches(pattern, url) {
			return true
		}
	}
	return false
}
