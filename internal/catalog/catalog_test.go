package catalog

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/heb-mcp/hebsession/internal/session"
	"github.com/tidwall/gjson"
)

func TestEmbeddedCatalogsParse(t *testing.T) {
	t.Parallel()

	c, err := Parse(embeddedCatalogs)
	if err != nil {
		t.Fatalf("Parse(embedded) error = %v", err)
	}
	if c.Version(KindWeb) == "" || c.Version(KindMobile) == "" {
		t.Fatal("catalog versions must be set")
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	c := Default()
	tests := []struct {
		name        string
		logical     string
		mode        session.AuthMode
		wantName    string
		wantCatalog Kind
	}{
		{"bearer remapped", "addToCart", session.ModeBearer, "AddItemToCart", KindMobile},
		{"cookie web", "addToCart", session.ModeCookie, "addToCart", KindWeb},
		{"bearer direct mobile name", "GetCart", session.ModeBearer, "GetCart", KindMobile},
		{"bearer falls back to web", "typeaheadContent", session.ModeBearer, "typeaheadContent", KindWeb},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			op, err := c.Resolve(tt.logical, tt.mode)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if op.Name != tt.wantName || op.Catalog != tt.wantCatalog {
				t.Fatalf("Resolve() = %+v, want %s from %s", op, tt.wantName, tt.wantCatalog)
			}
			if !hashPattern.MatchString(op.Hash) {
				t.Fatalf("Resolve() hash = %q", op.Hash)
			}
		})
	}
}

func TestResolveRemapAndWebDiffer(t *testing.T) {
	t.Parallel()

	bearer, _ := Resolve("addToCart", session.ModeBearer)
	cookie, _ := Resolve("addToCart", session.ModeCookie)
	if bearer.Hash == cookie.Hash {
		t.Fatal("mobile and web identifiers for addToCart should differ")
	}
}

func TestResolveCookieModeIgnoresMobile(t *testing.T) {
	t.Parallel()

	_, err := Resolve("GetCart", session.ModeCookie)
	if !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("Resolve() error = %v, want ErrUnknownOperation", err)
	}
}

func TestResolveUnknownListsEligibleNames(t *testing.T) {
	t.Parallel()

	c := Default()
	_, err := c.Resolve("doesNotExist", session.ModeCookie)
	var unknown *UnknownOperationError
	if !errors.As(err, &unknown) {
		t.Fatalf("Resolve() error = %v, want *UnknownOperationError", err)
	}
	for _, name := range c.Names(KindWeb) {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("error message missing web operation %q: %s", name, err)
		}
	}
	if strings.Contains(err.Error(), "AddItemToCart") {
		t.Fatal("cookie mode error should not list mobile operations")
	}

	_, err = c.Resolve("doesNotExist", session.ModeBearer)
	if !errors.As(err, &unknown) {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(unknown.Available) != len(c.Names(KindWeb))+len(c.Names(KindMobile)) {
		t.Fatalf("bearer mode should list both catalogs, got %d names", len(unknown.Available))
	}
}

func TestParseRejectsBrokenDocuments(t *testing.T) {
	t.Parallel()

	valid := strings.Repeat("a", 64)
	tests := []struct {
		name string
		doc  string
	}{
		{"empty web", "web:\n  operations: {}\nmobile:\n  operations:\n    A: " + valid + "\n"},
		{"bad hash", "web:\n  operations:\n    a: xyz\nmobile:\n  operations:\n    A: " + valid + "\n"},
		{"dangling remap", "web:\n  operations:\n    a: " + valid + "\nmobile:\n  operations:\n    A: " + valid + "\nremap:\n  a: B\n"},
		{"not yaml", "web: [\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Fatal("Parse() expected error")
			}
		})
	}
}

func TestOperationBody(t *testing.T) {
	t.Parallel()

	op := Operation{Name: "AddItemToCart", Hash: strings.Repeat("b", 64), Catalog: KindMobile}
	body, err := op.Body(map[string]any{"productId": "123", "quantity": 2})
	if err != nil {
		t.Fatalf("Body() error = %v", err)
	}
	if !json.Valid(body) {
		t.Fatalf("Body() produced invalid JSON: %s", body)
	}
	checks := map[string]string{
		"operationName":                        "AddItemToCart",
		"variables.productId":                  "123",
		"variables.quantity":                   "2",
		"extensions.persistedQuery.version":    "1",
		"extensions.persistedQuery.sha256Hash": op.Hash,
	}
	for path, want := range checks {
		if got := gjson.GetBytes(body, path).String(); got != want {
			t.Fatalf("%s = %q, want %q", path, got, want)
		}
	}

	empty, err := op.Body(nil)
	if err != nil {
		t.Fatalf("Body(nil) error = %v", err)
	}
	if !gjson.GetBytes(empty, "variables").IsObject() {
		t.Fatalf("Body(nil) variables should be an empty object: %s", empty)
	}
	if _, err = op.Body(json.RawMessage(`{broken`)); err == nil {
		t.Fatal("Body() should reject invalid raw variables")
	}
}
