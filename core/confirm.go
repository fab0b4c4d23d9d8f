package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/PEZ/epupp/internal/logx"
	"github.com/PEZ/epupp/schema"
)

// Confirm approves the pending confirmation for a source name and executes
// the deferred mutation with force semantics.
func (s *service) Confirm(ctx context.Context, req schema.ConfirmRequest) (schema.ConfirmResponse, error) {
	source, err := schema.NormalizeScriptName(string(req.Source))
	if err != nil {
		return schema.ConfirmResponse{}, fmt.Errorf("%w: %q", schema.ErrInvalidName, req.Source)
	}
	log := logx.Ctx(ctx)

	s.mu.Lock()
	pending, ok := s.pending[source]
	if !ok {
		s.mu.Unlock()
		return schema.ConfirmResponse{}, fmt.Errorf("%w: %s", schema.ErrConfirmationNotFound, source)
	}
	delete(s.pending, source)
	var (
		snap   schema.ScriptSnapshot
		events []sinkEvent
	)
	switch pending.record.Op {
	case schema.ConfirmOpOverwrite:
		var resp schema.SaveScriptResponse
		resp, events, err = s.saveLocked(ctx, pending.code, source, pending.enabled, true)
		snap = resp.Script
	case schema.ConfirmOpRename:
		var resp schema.RenameScriptResponse
		resp, events, err = s.renameLocked(ctx, source, pending.record.Destination, string(pending.record.Destination), true)
		snap = resp.Script
	default:
		err = fmt.Errorf("%w: unknown pending op %q", schema.ErrInvalidRequest, pending.record.Op)
	}
	s.mu.Unlock()
	if err != nil {
		logx.WithScript(log, source).Warn("confirmation failed", "op", pending.record.Op, "err", err)
		return schema.ConfirmResponse{}, err
	}
	s.flushEvents(events)
	logx.WithScript(log, source).Info("confirmation applied", "op", pending.record.Op)
	return schema.ConfirmResponse{Script: snap}, nil
}

// CancelConfirmation discards the pending confirmation for a source name
// without applying it.
func (s *service) CancelConfirmation(ctx context.Context, req schema.CancelConfirmationRequest) (schema.CancelConfirmationResponse, error) {
	source, err := schema.NormalizeScriptName(string(req.Source))
	if err != nil {
		return schema.CancelConfirmationResponse{}, fmt.Errorf("%w: %q", schema.ErrInvalidName, req.Source)
	}
	s.mu.Lock()
	pending, ok := s.pending[source]
	if !ok {
		s.mu.Unlock()
		return schema.CancelConfirmationResponse{}, fmt.Errorf("%w: %s", schema.ErrConfirmationNotFound, source)
	}
	delete(s.pending, source)
	s.mu.Unlock()
	logx.Ctx(ctx).Info("confirmation cancelled", "script", source, "op", pending.record.Op)
	return schema.CancelConfirmationResponse{Confirmation: pending.record}, nil
}

// ListConfirmations reports pending confirmations ordered by source name.
func (s *service) ListConfirmations(ctx context.Context, req schema.ListConfirmationsRequest) (schema.ListConfirmationsResponse, error) {
	_ = ctx
	_ = req
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.PendingConfirmation, 0, len(s.pending))
	for _, pending := range s.pending {
		out = append(out, pending.record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return schema.ListConfirmationsResponse{Confirmations: out}, nil
}
