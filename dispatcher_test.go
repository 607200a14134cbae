package meshnode

import (
	"context"
	"errors"
	"testing"
)

type mockDevice struct {
	values map[string]any
}

func newMockDevice() *mockDevice {
	return &mockDevice{values: make(map[string]any)}
}

func (d *mockDevice) Get(ctx context.Context, property string) (any, error) {
	return d.values[property], nil
}
func (d *mockDevice) Set(ctx context.Context, property string, value any) (any, error) {
	d.values[property] = value
	return value, nil
}
func (d *mockDevice) Invoke(ctx context.Context, method string, params []any) (any, error) {
	return len(params), nil
}
func (d *mockDevice) Subscribe(ctx context.Context, event string) (any, error) { return "ok", nil }
func (d *mockDevice) Describe(ctx context.Context, property string) (any, error) {
	return "description", nil
}
func (d *mockDevice) Config(ctx context.Context, property string, value any) (any, error) {
	return value, nil
}

// nilResultDevice returns a nil result (and nil error) from every
// capability, for exercising the empty-result substitution rule.
type nilResultDevice struct{}

func (nilResultDevice) Get(ctx context.Context, property string) (any, error)  { return nil, nil }
func (nilResultDevice) Set(ctx context.Context, property string, value any) (any, error) {
	return nil, nil
}
func (nilResultDevice) Invoke(ctx context.Context, method string, params []any) (any, error) {
	return nil, nil
}
func (nilResultDevice) Subscribe(ctx context.Context, event string) (any, error) { return nil, nil }
func (nilResultDevice) Describe(ctx context.Context, property string) (any, error) {
	return nil, nil
}
func (nilResultDevice) Config(ctx context.Context, property string, value any) (any, error) {
	return nil, nil
}

// panicProxy panics on every ReceivePut/ReceiveNotify call, for exercising
// fanOutUpstream's panic recovery.
type panicProxy struct {
	id string
}

func (p *panicProxy) DeviceID() string                                      { return p.id }
func (p *panicProxy) Close(ctx context.Context) error                       { return nil }
func (p *panicProxy) Get(ctx context.Context, property string) (any, error) { return nil, nil }
func (p *panicProxy) Set(ctx context.Context, property string, value any) (any, error) {
	return nil, nil
}
func (p *panicProxy) Invoke(ctx context.Context, method string, params []any) (any, error) {
	return nil, nil
}
func (p *panicProxy) Subscribe(ctx context.Context, event string) (any, error)   { return nil, nil }
func (p *panicProxy) Describe(ctx context.Context, property string) (any, error) { return nil, nil }
func (p *panicProxy) Config(ctx context.Context, property string, value any) (any, error) {
	return nil, nil
}
func (p *panicProxy) ReceivePut(metric string, value any)      { panic("boom") }
func (p *panicProxy) ReceiveNotify(event string, params []any) { panic("boom") }

func newTestDispatcher() (*Dispatcher, *DeviceRegistry, *ProxyRegistry) {
	gateways := NewGatewayTable()
	resolver := NewAuthorityResolver("home", true, gateways)
	proxies := NewProxyRegistry()
	registry := NewDeviceRegistry(resolver, proxies, nil, nil)
	dispatch := NewDispatcher(registry, proxies, nil)
	registry.dispatch = dispatch
	return dispatch, registry, proxies
}

func TestDispatcher_DeliverDownstream(t *testing.T) {
	dispatch, registry, _ := newTestDispatcher()
	dev := newMockDevice()
	if _, err := registry.Register(context.Background(), "home:lamp1", dev); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	result, err := dispatch.Dispatch(context.Background(), &Request{DeviceID: "home:lamp1", Method: Set, Identifier: "brightness", Value: 50})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if result != 50 {
		t.Errorf("result = %v, want 50", result)
	}

	result, err = dispatch.Dispatch(context.Background(), &Request{DeviceID: "home:lamp1", Method: Get, Identifier: "brightness"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if result != 50 {
		t.Errorf("result = %v, want 50", result)
	}
}

func TestDispatcher_UnknownDevice(t *testing.T) {
	dispatch, _, _ := newTestDispatcher()
	_, err := dispatch.Dispatch(context.Background(), &Request{DeviceID: "home:ghost", Method: Get, Identifier: "x"})
	if !errors.Is(err, ErrDeviceNotConnected) {
		t.Errorf("error = %v, want ErrDeviceNotConnected", err)
	}
}

func TestDispatcher_MiddlewarePassThrough(t *testing.T) {
	dispatch, registry, _ := newTestDispatcher()
	dev := newMockDevice()
	registry.Register(context.Background(), "home:lamp1", dev)

	var seen []string
	dispatch.Use(func(ctx context.Context, req *Request, next func(context.Context) (any, error)) (any, error) {
		seen = append(seen, "before")
		result, err := next(ctx)
		seen = append(seen, "after")
		return result, err
	})

	_, err := dispatch.Dispatch(context.Background(), &Request{DeviceID: "home:lamp1", Method: Set, Identifier: "brightness", Value: 10})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(seen) != 2 || seen[0] != "before" || seen[1] != "after" {
		t.Errorf("seen = %v, want [before after]", seen)
	}
}

func TestDispatcher_MiddlewareShortCircuit(t *testing.T) {
	dispatch, registry, _ := newTestDispatcher()
	dev := newMockDevice()
	registry.Register(context.Background(), "home:lamp1", dev)

	dispatch.Use(func(ctx context.Context, req *Request, next func(context.Context) (any, error)) (any, error) {
		return "short-circuited", nil
	})

	result, err := dispatch.Dispatch(context.Background(), &Request{DeviceID: "home:lamp1", Method: Get, Identifier: "brightness"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if result != "short-circuited" {
		t.Errorf("result = %v, want %q", result, "short-circuited")
	}
}

func TestDispatcher_MiddlewareReturnsNothingSubstitutesLastResult(t *testing.T) {
	dispatch, registry, _ := newTestDispatcher()
	dev := newMockDevice()
	registry.Register(context.Background(), "home:lamp1", dev)

	dispatch.Use(func(ctx context.Context, req *Request, next func(context.Context) (any, error)) (any, error) {
		if _, err := next(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	})

	result, err := dispatch.Dispatch(context.Background(), &Request{DeviceID: "home:lamp1", Method: Set, Identifier: "brightness", Value: 77})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if result != 77 {
		t.Errorf("result = %v, want 77 (substituted from downstream result)", result)
	}
}

func TestDispatcher_MiddlewareMustInvokeNextOrReturn(t *testing.T) {
	dispatch, registry, _ := newTestDispatcher()
	dev := newMockDevice()
	registry.Register(context.Background(), "home:lamp1", dev)

	dispatch.Use(func(ctx context.Context, req *Request, next func(context.Context) (any, error)) (any, error) {
		return nil, nil
	})

	_, err := dispatch.Dispatch(context.Background(), &Request{DeviceID: "home:lamp1", Method: Get, Identifier: "brightness"})
	if !errors.Is(err, ErrLayerMustInvokeNextOrReturn) {
		t.Errorf("error = %v, want ErrLayerMustInvokeNextOrReturn", err)
	}
}

func TestDispatcher_MiddlewareErrorPropagatesBackward(t *testing.T) {
	dispatch, registry, _ := newTestDispatcher()
	dev := newMockDevice()
	registry.Register(context.Background(), "home:lamp1", dev)

	boom := errors.New("boom")
	var observed error
	dispatch.Use(func(ctx context.Context, req *Request, next func(context.Context) (any, error)) (any, error) {
		_, err := next(ctx)
		observed = err
		return nil, err
	})
	dispatch.Use(func(ctx context.Context, req *Request, next func(context.Context) (any, error)) (any, error) {
		return nil, boom
	})

	_, err := dispatch.Dispatch(context.Background(), &Request{DeviceID: "home:lamp1", Method: Get, Identifier: "brightness"})
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want boom", err)
	}
	if !errors.Is(observed, boom) {
		t.Errorf("observed error in outer layer = %v, want boom", observed)
	}
}

func TestDispatcher_UpstreamRunsLayersInReverse(t *testing.T) {
	dispatch, registry, proxies := newTestDispatcher()
	dev := newMockDevice()
	registry.Register(context.Background(), "home:lamp1", dev)

	var order []string
	dispatch.Use(func(ctx context.Context, req *Request, next func(context.Context) (any, error)) (any, error) {
		order = append(order, "first")
		return next(ctx)
	})
	dispatch.Use(func(ctx context.Context, req *Request, next func(context.Context) (any, error)) (any, error) {
		order = append(order, "second")
		return next(ctx)
	})

	sink := &fakeProxy{id: "home:lamp1"}
	proxies.Attach("home:lamp1", sink)

	_, err := dispatch.DispatchUpstream(context.Background(), &Request{DeviceID: "home:lamp1", Method: Put, Identifier: "brightness", Value: 99})
	if err != nil {
		t.Fatalf("DispatchUpstream() error = %v", err)
	}
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Errorf("order = %v, want [second first]", order)
	}
	if len(sink.puts) != 1 || sink.puts[0] != "brightness" {
		t.Errorf("sink.puts = %v, want [brightness]", sink.puts)
	}
}

func TestDispatcher_UpstreamNotifyWrapsScalarValue(t *testing.T) {
	dispatch, registry, proxies := newTestDispatcher()
	dev := newMockDevice()
	registry.Register(context.Background(), "home:lamp1", dev)

	sink := &fakeProxy{id: "home:lamp1"}
	proxies.Attach("home:lamp1", sink)

	_, err := dispatch.DispatchUpstream(context.Background(), &Request{DeviceID: "home:lamp1", Method: Notify, Identifier: "motion", Value: true})
	if err != nil {
		t.Fatalf("DispatchUpstream() error = %v", err)
	}
	if len(sink.notifyParams) != 1 || len(sink.notifyParams[0]) != 1 || sink.notifyParams[0][0] != true {
		t.Errorf("notifyParams = %v, want [[true]]", sink.notifyParams)
	}
}

func TestDispatcher_SetSubstitutesTrueForEmptyResult(t *testing.T) {
	dispatch, registry, _ := newTestDispatcher()
	registry.Register(context.Background(), "home:lamp1", nilResultDevice{})

	result, err := dispatch.Dispatch(context.Background(), &Request{DeviceID: "home:lamp1", Method: Set, Identifier: "brightness", Value: 50})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if result != true {
		t.Errorf("result = %v, want true", result)
	}
}

func TestDispatcher_InvokeSubstitutesTrueForEmptyResult(t *testing.T) {
	dispatch, registry, _ := newTestDispatcher()
	registry.Register(context.Background(), "home:lamp1", nilResultDevice{})

	result, err := dispatch.Dispatch(context.Background(), &Request{DeviceID: "home:lamp1", Method: Invoke, Identifier: "blink"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if result != true {
		t.Errorf("result = %v, want true", result)
	}
}

func TestDispatcher_GetDoesNotSubstituteTrueForEmptyResult(t *testing.T) {
	dispatch, registry, _ := newTestDispatcher()
	registry.Register(context.Background(), "home:lamp1", nilResultDevice{})

	result, err := dispatch.Dispatch(context.Background(), &Request{DeviceID: "home:lamp1", Method: Get, Identifier: "brightness"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if result != nil {
		t.Errorf("result = %v, want nil (GET is not subject to the empty-result substitution rule)", result)
	}
}

func TestDispatcher_FanOutRecoversFromPanickingProxy(t *testing.T) {
	dispatch, registry, proxies := newTestDispatcher()
	dev := newMockDevice()
	registry.Register(context.Background(), "home:lamp1", dev)

	bad := &panicProxy{id: "home:lamp1"}
	good := &fakeProxy{id: "home:lamp1"}
	proxies.Attach("home:lamp1", bad)
	proxies.Attach("home:lamp1", good)

	_, err := dispatch.DispatchUpstream(context.Background(), &Request{DeviceID: "home:lamp1", Method: Put, Identifier: "brightness", Value: 1})
	if err != nil {
		t.Fatalf("DispatchUpstream() error = %v", err)
	}
	if len(good.puts) != 1 || good.puts[0] != "brightness" {
		t.Errorf("good.puts = %v, want [brightness] (panic in one proxy must not starve the others)", good.puts)
	}
}
