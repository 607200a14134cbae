package meshnode

import (
	"context"
)

// HandlerFunc is one middleware layer. A layer may:
//   - call next() and return whatever it returns (pass-through, possibly
//     after inspecting or logging the result),
//   - return a value of its own without calling next() (short-circuit),
//   - call next() and then return (nil, nil), in which case the dispatcher
//     substitutes the most recent non-nil result produced further down the
//     chain for this dispatch, or
//   - return an error, which unwinds back through every layer that already
//     called next() via ordinary Go call-stack semantics.
//
// Calling neither next() nor returning a non-nil value or non-nil error is
// the one combination the dispatcher rejects with
// ErrLayerMustInvokeNextOrReturn.
type HandlerFunc func(ctx context.Context, req *Request, next func(context.Context) (any, error)) (any, error)

// Dispatcher runs a Request through an ordered chain of HandlerFuncs.
// Downstream requests (application-originated: GET/SET/INVOKE/SUBSCRIBE/
// DESCRIBE/CONFIG) run the chain front-to-back and terminate in
// deliverDownstream, which invokes the target device directly. Upstream
// requests (device-originated: PUT/NOTIFY) run the same chain back-to-front
// and terminate in fanOutUpstream, which delivers to every attached proxy.
type Dispatcher struct {
	layers   []HandlerFunc
	registry *DeviceRegistry
	proxies  *ProxyRegistry
	log      Logger
}

// NewDispatcher creates a dispatcher bound to the device registry (for
// downstream delivery) and proxy registry (for upstream fan-out).
func NewDispatcher(registry *DeviceRegistry, proxies *ProxyRegistry, log Logger) *Dispatcher {
	if log == nil {
		log = noopLogger{}
	}
	return &Dispatcher{registry: registry, proxies: proxies, log: log}
}

// Use appends a middleware layer to the chain. Layers run in registration
// order for downstream requests and reverse order for upstream requests.
func (d *Dispatcher) Use(h HandlerFunc) {
	d.layers = append(d.layers, h)
}

// Dispatch runs req through the chain front-to-back, terminating in
// deliverDownstream.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (any, error) {
	return d.run(ctx, req, 0, false)
}

// DispatchUpstream runs req through the chain back-to-front, terminating in
// fanOutUpstream.
func (d *Dispatcher) DispatchUpstream(ctx context.Context, req *Request) (any, error) {
	return d.run(ctx, req, len(d.layers)-1, true)
}

// run walks the chain recursively, carrying lastResult across layers that
// return nothing so a layer which only wants to observe the chain doesn't
// have to also thread the value through.
func (d *Dispatcher) run(ctx context.Context, req *Request, index int, upstream bool) (any, error) {
	var lastResult any

	var step func(ctx context.Context, idx int) (any, error)
	step = func(ctx context.Context, idx int) (any, error) {
		terminal := idx >= len(d.layers)
		if upstream {
			terminal = idx < 0
		}
		if terminal {
			var result any
			var err error
			if upstream {
				result, err = d.fanOutUpstream(ctx, req)
			} else {
				result, err = d.deliverDownstream(ctx, req)
			}
			if err == nil && result != nil {
				lastResult = result
			}
			return result, err
		}

		layer := d.layers[idx]
		nextCalled := false
		next := func(ctx context.Context) (any, error) {
			nextCalled = true
			nextIdx := idx + 1
			if upstream {
				nextIdx = idx - 1
			}
			return step(ctx, nextIdx)
		}

		result, err := layer(ctx, req, next)
		if err != nil {
			return nil, err
		}
		if result != nil {
			lastResult = result
			return result, nil
		}
		if nextCalled {
			return lastResult, nil
		}
		if lastResult != nil {
			return lastResult, nil
		}
		return nil, ErrLayerMustInvokeNextOrReturn
	}

	return step(ctx, index)
}

// deliverDownstream is the fixed final handler for application-originated
// requests: it looks the target device up in the registry and invokes the
// matching capability.
func (d *Dispatcher) deliverDownstream(ctx context.Context, req *Request) (any, error) {
	dev, ok := d.registry.lookup(req.DeviceID)
	if !ok {
		return nil, ErrDeviceNotConnected
	}
	switch req.Method {
	case Get:
		return dev.Get(ctx, req.Identifier)
	case Set:
		return substituteTrueIfEmpty(dev.Set(ctx, req.Identifier, req.Value))
	case Invoke:
		return substituteTrueIfEmpty(dev.Invoke(ctx, req.Identifier, req.Params))
	case Subscribe:
		return dev.Subscribe(ctx, req.Identifier)
	case Describe:
		return dev.Describe(ctx, req.Identifier)
	case Config:
		return dev.Config(ctx, req.Identifier, req.Value)
	default:
		return nil, ErrDeviceNotConnected
	}
}

// substituteTrueIfEmpty implements the SET/INVOKE rule that callers never
// see "no result": an empty (nil) value on success becomes true.
func substituteTrueIfEmpty(result any, err error) (any, error) {
	if err == nil && result == nil {
		return true, nil
	}
	return result, err
}

// fanOutUpstream is the fixed final handler for device-originated requests:
// it delivers the PUT or NOTIFY to every proxy currently attached to the
// device id, in attachment order. Delivery errors from individual proxies
// are logged and do not interrupt fan-out to the remaining proxies.
func (d *Dispatcher) fanOutUpstream(ctx context.Context, req *Request) (any, error) {
	for _, p := range d.proxies.List(req.DeviceID) {
		d.deliverToProxy(p, req)
	}
	return nil, nil
}

// deliverToProxy calls the matching ReceivePut/ReceiveNotify method on p,
// recovering from any panic so one bad subscriber can't starve the rest of
// fan-out.
func (d *Dispatcher) deliverToProxy(p Proxy, req *Request) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic delivering upstream notification to proxy", "device_id", req.DeviceID, "method", req.Method, "panic", r)
		}
	}()

	switch req.Method {
	case Put:
		p.ReceivePut(req.Identifier, req.Value)
	case Notify:
		params := req.Params
		if params == nil && req.Value != nil {
			params = []any{req.Value}
		}
		p.ReceiveNotify(req.Identifier, params)
	}
}
