package manifest

import (
	"strings"
	"testing"

	"github.com/PEZ/epupp/schema"
)

func TestParseFullHeader(t *testing.T) {
	code := `{:epupp/script-name "Tube Annotator"
 :epupp/auto-run-match "https://www.youtube.com/*"
 :epupp/description "Annotates the tube"
 :epupp/run-at :document-end
 :epupp/require ["https://cdn.example.com/lib.js" "helper.js"]}

(println "hello")`

	m, body := Parse(code)
	if m.Name != "Tube Annotator" {
		t.Fatalf("name = %q", m.Name)
	}
	if m.Match != "https://www.youtube.com/*" {
		t.Fatalf("match = %q", m.Match)
	}
	if m.Description != "Annotates the tube" {
		t.Fatalf("description = %q", m.Description)
	}
	if m.RunAt != schema.RunAtDocumentEnd {
		t.Fatalf("run-at = %q", m.RunAt)
	}
	if len(m.Require) != 2 || m.Require[0] != "https://cdn.example.com/lib.js" || m.Require[1] != "helper.js" {
		t.Fatalf("require = %v", m.Require)
	}
	if body != `(println "hello")` {
		t.Fatalf("body = %q", body)
	}
	if !m.AutoRun() {
		t.Fatal("expected auto-run manifest")
	}
}

func TestParseNoHeader(t *testing.T) {
	code := `(println "no header here")`
	m, body := Parse(code)
	if m.Name != "" || m.Match != "" || m.RunAt != "" || len(m.Require) != 0 {
		t.Fatalf("expected empty manifest, got %+v", m)
	}
	if body != code {
		t.Fatalf("body = %q", body)
	}
	if m.AutoRun() {
		t.Fatal("manual-only script must not auto-run")
	}
}

func TestParseLeadingComments(t *testing.T) {
	code := ";; my script\n;; does things\n{:epupp/script-name \"Commented\"}\n(run)"
	m, body := Parse(code)
	if m.Name != "Commented" {
		t.Fatalf("name = %q", m.Name)
	}
	if body != "(run)" {
		t.Fatalf("body = %q", body)
	}
}

func TestParseMalformedHeaderIsAdvisory(t *testing.T) {
	cases := []struct {
		name string
		code string
	}{
		{"unterminated-brace", `{:epupp/script-name "Broken"`},
		{"unterminated-string", `{:epupp/script-name "Broken}` + "\n(run)"},
		{"dangling-key", `{:epupp/script-name}`},
	}
	for _, tc := range cases {
		m, body := Parse(tc.code)
		if m.Name != "" || m.Match != "" || len(m.Require) != 0 {
			t.Fatalf("case %q: expected empty manifest, got %+v", tc.name, m)
		}
		if body != tc.code {
			t.Fatalf("case %q: body should be full input", tc.name)
		}
	}
}

func TestParseUnrecognizedKeysIgnored(t *testing.T) {
	code := `{:epupp/script-name "Picky"
 :epupp/unknown-key "whatever"
 :other/thing [1 2 3]
 :epupp/options {:nested "map"}}
body`
	m, body := Parse(code)
	if m.Name != "Picky" {
		t.Fatalf("name = %q", m.Name)
	}
	if body != "body" {
		t.Fatalf("body = %q", body)
	}
}

func TestParseRunAtVariants(t *testing.T) {
	for _, tc := range []struct {
		value string
		want  schema.RunAt
	}{
		{":document-start", schema.RunAtDocumentStart},
		{":document-end", schema.RunAtDocumentEnd},
		{":document-idle", schema.RunAtDocumentIdle},
		{":bogus", ""},
	} {
		code := `{:epupp/run-at ` + tc.value + `}`
		m, _ := Parse(code)
		if m.RunAt != tc.want {
			t.Fatalf("run-at %q = %q, want %q", tc.value, m.RunAt, tc.want)
		}
	}
}

func TestParseHeaderWithStringEscapes(t *testing.T) {
	code := `{:epupp/description "says \"hi\" twice"}` + "\nrest"
	m, body := Parse(code)
	if m.Description != `says "hi" twice` {
		t.Fatalf("description = %q", m.Description)
	}
	if body != "rest" {
		t.Fatalf("body = %q", body)
	}
}

func TestParseBodyPreservesInteriorBraces(t *testing.T) {
	code := `{:epupp/script-name "Mapper"}
(let [m {:a 1}] m)`
	m, body := Parse(code)
	if m.Name != "Mapper" {
		t.Fatalf("name = %q", m.Name)
	}
	if !strings.Contains(body, "{:a 1}") {
		t.Fatalf("body lost interior map: %q", body)
	}
}
