package manifest

import "testing"

func TestSetNameReplacesExisting(t *testing.T) {
	code := `{:epupp/script-name "Old Name"
 :epupp/auto-run-match "https://example.com/*"}
(body)`
	got := SetName(code, "New Name")
	m, body := Parse(got)
	if m.Name != "New Name" {
		t.Fatalf("name = %q", m.Name)
	}
	if m.Match != "https://example.com/*" {
		t.Fatalf("match lost: %q", m.Match)
	}
	if body != "(body)" {
		t.Fatalf("body = %q", body)
	}
}

func TestSetNameInsertsKeyIntoHeader(t *testing.T) {
	code := `{:epupp/auto-run-match "https://example.com/*"}
(body)`
	got := SetName(code, "Named")
	m, body := Parse(got)
	if m.Name != "Named" {
		t.Fatalf("name = %q", m.Name)
	}
	if m.Match != "https://example.com/*" {
		t.Fatalf("match lost: %q", m.Match)
	}
	if body != "(body)" {
		t.Fatalf("body = %q", body)
	}
}

func TestSetNameCreatesHeader(t *testing.T) {
	code := `(println "plain body")`
	got := SetName(code, "Fresh")
	m, body := Parse(got)
	if m.Name != "Fresh" {
		t.Fatalf("name = %q", m.Name)
	}
	if body != code {
		t.Fatalf("body = %q", body)
	}
}

func TestSetNameQuotesSpecials(t *testing.T) {
	got := SetName("(body)", `He said "hi"`)
	m, _ := Parse(got)
	if m.Name != `He said "hi"` {
		t.Fatalf("name = %q", m.Name)
	}
}
