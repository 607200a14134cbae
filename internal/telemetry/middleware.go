package telemetry

import (
	"context"

	"github.com/devmesh/meshnode"
)

// Middleware returns a meshnode.HandlerFunc that records every PUT passing
// through the Dispatcher as a device metric, then passes the request on
// unchanged. It observes only; it never short-circuits the chain.
//
// Install it with node.Use(client.Middleware()). Because upstream requests
// run the chain back-to-front, register it last if it should see a PUT
// before other upstream layers have had a chance to transform it.
func (c *Client) Middleware() meshnode.HandlerFunc {
	return func(ctx context.Context, req *meshnode.Request, next func(context.Context) (any, error)) (any, error) {
		if req.Method == meshnode.Put {
			c.WriteDeviceMetric(req.DeviceID, req.Identifier, req.Value)
		}
		return next(ctx)
	}
}
