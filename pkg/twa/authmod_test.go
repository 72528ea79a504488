package twa

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stackpod/hutch/pkg/types"
)

func TestRegistryDefaultIsFirstRegistered(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewWebModule(Default()))

	m, err := reg.Get("")
	if err != nil {
		t.Fatalf("Get default: %v", err)
	}
	if m.Name() != "web" {
		t.Errorf("default module = %q, want web", m.Name())
	}
}

func TestRegistryUnknownModule(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewWebModule(Default()))

	if _, err := reg.Get("mobile"); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("err = %v, want ErrUnknownModule", err)
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register(namedModule("zeta"))
	reg.Register(namedModule("alpha"))

	names := reg.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("Names() = %v, want sorted", names)
	}
}

func TestWebModuleParams(t *testing.T) {
	m := NewWebModule(Default())
	v := m.BuildAuthenticatedParams(testBundle(), 8)

	if v.Get("count") != "8" {
		t.Errorf("count = %q", v.Get("count"))
	}
	if v.Get("device_id") != "1234567890123456789" {
		t.Errorf("device_id = %q", v.Get("device_id"))
	}
	if v.Get("install_id") != "9876543210987654321" {
		t.Errorf("install_id = %q", v.Get("install_id"))
	}
	if v.Get("web_id") != "7421" {
		t.Errorf("web_id = %q", v.Get("web_id"))
	}
	if v.Get("ts") == "" {
		t.Error("ts missing")
	}
}

func TestWebModuleHeaders(t *testing.T) {
	m := NewWebModule(Default())

	h := m.GenerateAuthHeaders(testBundle())
	if h["X-CSRF-Token"] != "csrf-tok" {
		t.Errorf("csrf header = %q", h["X-CSRF-Token"])
	}
	if !strings.Contains(h["Referer"], "www.example.com") {
		t.Errorf("referer = %q", h["Referer"])
	}

	bare := testBundle()
	delete(bare.Tokens, "passport_csrf_token")
	if _, ok := m.GenerateAuthHeaders(bare)["X-CSRF-Token"]; ok {
		t.Error("csrf header present without token")
	}
}

func TestWebModuleURLDeterministic(t *testing.T) {
	m := NewWebModule(Default())
	params := url.Values{"count": {"8"}, "device_id": {"1234567890123456789"}}

	u1, err := m.BuildAuthenticatedURL("https://www.example.com/api/recommend/item_list/", params, testBundle())
	if err != nil {
		t.Fatalf("BuildAuthenticatedURL: %v", err)
	}
	u2, _ := m.BuildAuthenticatedURL("https://www.example.com/api/recommend/item_list/", params, testBundle())

	if u1 != u2 {
		t.Error("same inputs produced different URLs")
	}
	parsed, err := url.Parse(u1)
	if err != nil {
		t.Fatalf("result unparseable: %v", err)
	}
	q := parsed.Query()
	if q.Get("_signature") == "" {
		t.Error("signature parameter missing")
	}
	if q.Get("count") != "8" {
		t.Errorf("count = %q", q.Get("count"))
	}
}

func TestWebModuleURLBadEndpoint(t *testing.T) {
	m := NewWebModule(Default())
	if _, err := m.BuildAuthenticatedURL("://bad", nil, testBundle()); err == nil {
		t.Fatal("expected parse error")
	}
}

// namedModule is a minimal AuthModule used to exercise the registry.
type namedModule string

func (n namedModule) Name() string { return string(n) }
func (n namedModule) BuildAuthenticatedParams(*types.Bundle, int) url.Values {
	return nil
}
func (n namedModule) GenerateAuthHeaders(*types.Bundle) map[string]string { return nil }
func (n namedModule) BuildAuthenticatedURL(endpoint string, _ url.Values, _ *types.Bundle) (string, error) {
	return endpoint, nil
}
