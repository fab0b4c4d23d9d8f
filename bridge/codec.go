// Package bridge implements the remote-evaluation surface: a length-prefixed
// TCP protocol for editor clients and a websocket hub for browser tabs.
package bridge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// MaxFrameSize bounds a single frame payload.
const MaxFrameSize = 8 << 20

// Frame layout: decimal payload length, a newline, then the payload bytes.

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(payload))
	}
	if _, err := fmt.Fprintf(w, "%d\n", len(payload)); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	header = header[:len(header)-1]
	if len(header) > 0 && header[len(header)-1] == '\r' {
		header = header[:len(header)-1]
	}
	size, err := strconv.Atoi(header)
	if err != nil || size < 0 {
		return nil, fmt.Errorf("invalid frame header %q", header)
	}
	if size > MaxFrameSize {
		return nil, fmt.Errorf("frame too large: %d bytes", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Request is an inbound frame from an editor client. Op "eval" evaluates
// Code; every other op is a command payload handled by internal/command.
type Request struct {
	Op   string `json:"op"`
	Code string `json:"code,omitempty"`
}

// Response is an outbound frame. Eval produces one Value frame per
// top-level form followed by a done frame; failures produce an Err or Ex
// frame. Command ops produce a single Result frame.
type Response struct {
	Value  string          `json:"value,omitempty"`
	Err    string          `json:"err,omitempty"`
	Ex     string          `json:"ex,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Status string          `json:"status,omitempty"`
}

// WriteResponse marshals and frames a response.
func WriteResponse(w io.Writer, resp Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}
