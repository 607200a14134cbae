package meshnode

import (
	"context"
	"testing"
)

type stubGateway struct{}

func (stubGateway) Register(ctx context.Context, id string, dev Device) (string, error) {
	return "conn-1", nil
}
func (stubGateway) Deregister(ctx context.Context, id string) error        { return nil }
func (stubGateway) Connect(ctx context.Context, id string) (Proxy, error)  { return nil, nil }
func (stubGateway) Disconnect(ctx context.Context, proxy Proxy) error      { return nil }

func TestAuthorityResolver_DefaultDomain(t *testing.T) {
	gateways := NewGatewayTable()
	r := NewAuthorityResolver("home", true, gateways)

	rec := r.Resolve("Lamp1")
	if !rec.IsValid {
		t.Fatalf("Resolve() invalid: %s", rec.Err)
	}
	if rec.ID != "home:lamp1" {
		t.Errorf("ID = %q, want %q", rec.ID, "home:lamp1")
	}
	if !rec.IsLocal || rec.IsRoutable {
		t.Errorf("expected local non-routable record for claimed default domain, got %+v", rec)
	}
}

func TestAuthorityResolver_ExplicitDomainNoGateway(t *testing.T) {
	gateways := NewGatewayTable()
	r := NewAuthorityResolver("home", false, gateways)

	rec := r.Resolve("upstairs:lamp1")
	if rec.IsValid {
		t.Fatalf("expected invalid record for unowned explicit domain, got %+v", rec)
	}
}

func TestAuthorityResolver_ClaimUnowned(t *testing.T) {
	gateways := NewGatewayTable()
	r := NewAuthorityResolver("home", true, gateways)

	rec := r.Resolve("upstairs:lamp1")
	if !rec.IsValid || !rec.IsLocal || rec.IsRoutable {
		t.Errorf("expected claimed local record, got %+v", rec)
	}
}

func TestAuthorityResolver_GatewayDomain(t *testing.T) {
	gateways := NewGatewayTable()
	gw := stubGateway{}
	if err := gateways.Register("upstairs", gw); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	r := NewAuthorityResolver("home", false, gateways)
	rec := r.Resolve("Upstairs:Lamp1")
	if !rec.IsValid || rec.IsLocal || !rec.IsRoutable {
		t.Errorf("expected routable non-local record, got %+v", rec)
	}
	if rec.ID != "upstairs:lamp1" {
		t.Errorf("ID = %q, want %q", rec.ID, "upstairs:lamp1")
	}
	if rec.Gateway != gw {
		t.Error("expected resolved gateway to be the registered stub")
	}
}

func TestAuthorityResolver_WildcardGateway(t *testing.T) {
	gateways := NewGatewayTable()
	gw := stubGateway{}
	if err := gateways.Register(WildcardDomain, gw); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	r := NewAuthorityResolver("home", false, gateways)
	rec := r.Resolve("anywhere:lamp1")
	if !rec.IsValid || rec.IsLocal {
		t.Errorf("expected wildcard gateway to resolve, got %+v", rec)
	}
}

func TestAuthorityResolver_LeadingColonIsLocal(t *testing.T) {
	gateways := NewGatewayTable()
	r := NewAuthorityResolver("home", false, gateways)

	rec := r.Resolve(":lamp1")
	if !rec.IsValid || !rec.IsLocal || rec.IsRoutable {
		t.Errorf("expected local non-routable record, got %+v", rec)
	}
	if rec.ID != ":lamp1" {
		t.Errorf("ID = %q, want %q", rec.ID, ":lamp1")
	}
}

func TestAuthorityResolver_EmptyNameIsInvalid(t *testing.T) {
	gateways := NewGatewayTable()
	r := NewAuthorityResolver("home", false, gateways)

	if rec := r.Resolve(""); rec.IsValid {
		t.Error("expected empty raw id to be invalid")
	}
	if rec := r.Resolve("home:"); rec.IsValid {
		t.Error("expected trailing-colon-only id to be invalid")
	}
}

func TestAuthorityResolver_Idempotent(t *testing.T) {
	gateways := NewGatewayTable()
	r := NewAuthorityResolver("home", false, gateways)

	first := r.Resolve("Lamp1")
	second := r.Resolve(first.ID)
	if first.ID != second.ID {
		t.Errorf("resolution not idempotent: %q vs %q", first.ID, second.ID)
	}
}

func TestGatewayTable_DuplicateDomainRejected(t *testing.T) {
	gateways := NewGatewayTable()
	if err := gateways.Register("upstairs", stubGateway{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := gateways.Register("upstairs", stubGateway{}); err == nil {
		t.Error("expected second Register() for same domain to fail")
	}
}

func TestGatewayTable_DeregisterUnknown(t *testing.T) {
	gateways := NewGatewayTable()
	if err := gateways.Deregister("upstairs"); err == nil {
		t.Error("expected Deregister() of unknown domain to fail")
	}
}
