package bridge

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payloads := []string{`{"op":"eval","code":"(+ 1 2)"}`, "", `{"op":"ls"}`}
	for _, payload := range payloads {
		if err := WriteFrame(&buf, []byte(payload)); err != nil {
			t.Fatalf("write %q: %v", payload, err)
		}
	}
	reader := bufio.NewReader(&buf)
	for _, want := range payloads {
		got, err := ReadFrame(reader)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(got) != want {
			t.Fatalf("payload = %q, want %q", got, want)
		}
	}
}

func TestReadFrameRejectsBadHeader(t *testing.T) {
	cases := []string{"abc\npayload", "-5\n", "999999999999\n"}
	for _, input := range cases {
		if _, err := ReadFrame(bufio.NewReader(strings.NewReader(input))); err == nil {
			t.Fatalf("expected error for header %q", input)
		}
	}
}

func TestReadFrameToleratesCRLF(t *testing.T) {
	got, err := ReadFrame(bufio.NewReader(strings.NewReader("5\r\nhello")))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("payload = %q", got)
	}
}

func TestWriteFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, make([]byte, MaxFrameSize+1)); err == nil {
		t.Fatal("expected oversize error")
	}
}
