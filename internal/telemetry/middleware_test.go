package telemetry

import (
	"context"
	"testing"

	"github.com/devmesh/meshnode"
)

func TestMiddleware_PassesPutThroughWhenNotConnected(t *testing.T) {
	c := &Client{connected: false} // not connected: WriteDeviceMetric is a no-op, next() must still run
	mw := c.Middleware()

	called := false
	next := func(ctx context.Context) (any, error) {
		called = true
		return "passed", nil
	}

	req := &meshnode.Request{DeviceID: "home:lamp1", Method: meshnode.Put, Identifier: "brightness", Value: 42.0}
	result, err := mw(context.Background(), req, next)
	if err != nil {
		t.Fatalf("Middleware() error = %v", err)
	}
	if !called {
		t.Error("expected next() to be called")
	}
	if result != "passed" {
		t.Errorf("result = %v, want %q", result, "passed")
	}
}

func TestMiddleware_IgnoresNonPutVerbs(t *testing.T) {
	c := &Client{connected: false}
	mw := c.Middleware()

	next := func(ctx context.Context) (any, error) {
		return "downstream", nil
	}

	req := &meshnode.Request{DeviceID: "home:lamp1", Method: meshnode.Get, Identifier: "brightness"}
	result, err := mw(context.Background(), req, next)
	if err != nil {
		t.Fatalf("Middleware() error = %v", err)
	}
	if result != "downstream" {
		t.Errorf("result = %v, want %q", result, "downstream")
	}
}
