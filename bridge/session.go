package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"

	"github.com/PEZ/epupp/internal/command"
	"pkt.systems/pslog"
)

// session serves one editor connection: a dedicated evaluator plus the
// command surface.
type session struct {
	conn    net.Conn
	eval    Evaluator
	handler *command.Handler
	log     pslog.Logger
}

// serve reads frames until the connection closes or the context ends.
func (s *session) serve(ctx context.Context) {
	defer func() {
		_ = s.eval.Close()
		_ = s.conn.Close()
	}()
	reader := bufio.NewReader(s.conn)
	for {
		if ctx.Err() != nil {
			return
		}
		payload, err := ReadFrame(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Debug("bridge read failed", "err", err)
			}
			return
		}
		s.handleFrame(ctx, payload)
	}
}

func (s *session) handleFrame(ctx context.Context, payload []byte) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.log.Debug("bridge bad frame", "err", err)
		_ = WriteResponse(s.conn, Response{Err: "malformed request: " + err.Error()})
		return
	}
	if req.Op == "eval" {
		s.handleEval(ctx, req.Code)
		return
	}
	result, err := s.handler.HandlePayload(ctx, payload)
	if err != nil {
		s.log.Debug("bridge command failed", "op", req.Op, "err", err)
		_ = WriteResponse(s.conn, Response{Err: err.Error()})
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		_ = WriteResponse(s.conn, Response{Err: err.Error()})
		return
	}
	s.log.Trace("bridge command handled", "op", req.Op)
	_ = WriteResponse(s.conn, Response{Result: data})
}

// handleEval streams one value frame per evaluated form, then a done frame.
// User-code exceptions answer with ex, evaluator failures with err.
func (s *session) handleEval(ctx context.Context, code string) {
	values, err := s.eval.Eval(ctx, code)
	for _, value := range values {
		if werr := WriteResponse(s.conn, Response{Value: value}); werr != nil {
			return
		}
	}
	if err != nil {
		if IsException(err) {
			s.log.Debug("bridge eval exception", "err", err)
			_ = WriteResponse(s.conn, Response{Ex: err.Error()})
		} else {
			s.log.Debug("bridge eval failed", "err", err)
			_ = WriteResponse(s.conn, Response{Err: err.Error()})
		}
		return
	}
	_ = WriteResponse(s.conn, Response{Status: "done"})
}
