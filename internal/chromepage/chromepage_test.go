package chromepage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/PEZ/epupp/schema"
)

func TestProviderRegistry(t *testing.T) {
	provider := NewProvider()
	ctx := context.Background()

	_, err := provider.Page(ctx, schema.TabID(1))
	if !errors.Is(err, schema.ErrInvalidTab) {
		t.Fatalf("unregistered tab err = %v", err)
	}
	if !strings.Contains(err.Error(), "tab 1") {
		t.Fatalf("err does not render the tab id: %v", err)
	}

	provider.Register(schema.TabID(1), ctx)
	if _, err := provider.Page(ctx, schema.TabID(1)); err != nil {
		t.Fatalf("Page: %v", err)
	}

	provider.Deregister(schema.TabID(1))
	if _, err := provider.Page(ctx, schema.TabID(1)); !errors.Is(err, schema.ErrInvalidTab) {
		t.Fatalf("deregistered tab err = %v", err)
	}
}

func TestJSStringEscapes(t *testing.T) {
	got := jsString(`say "hi"` + "\nagain")
	if got != `"say \"hi\"\nagain"` {
		t.Fatalf("jsString = %s", got)
	}
}

func TestAppendScriptExprEmbedsBody(t *testing.T) {
	expr := appendScriptExpr(`(println "x")`)
	if !strings.Contains(expr, `"(println \"x\")"`) {
		t.Fatalf("expr = %s", expr)
	}
	if !strings.Contains(expr, "application/x-scittle") {
		t.Fatalf("expr missing scittle type: %s", expr)
	}
}
