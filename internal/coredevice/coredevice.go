// Package coredevice implements the node's built-in self-describing
// device: every node registers one under ":core" so a caller can inspect
// what else is attached without needing an out-of-band API.
package coredevice

import (
	"context"
	"fmt"
	"sort"

	"github.com/devmesh/meshnode"
)

// DeviceID is the fixed, unrouted id the core device registers under.
const DeviceID = ":core"

// CoreDevice answers GET "devices" with the sorted list of every device id
// currently registered on the node, and GET "id" with the node's own id.
type CoreDevice struct {
	nodeID   string
	registry *meshnode.DeviceRegistry
}

// New creates a core device bound to registry, reporting as nodeID.
func New(nodeID string, registry *meshnode.DeviceRegistry) *CoreDevice {
	return &CoreDevice{nodeID: nodeID, registry: registry}
}

func (c *CoreDevice) Get(ctx context.Context, property string) (any, error) {
	switch property {
	case "devices":
		ids := c.registry.IDs()
		sort.Strings(ids)
		return ids, nil
	case "id":
		return c.nodeID, nil
	default:
		return nil, fmt.Errorf("coredevice: unknown property %q", property)
	}
}

func (c *CoreDevice) Set(ctx context.Context, property string, value any) (any, error) {
	return nil, fmt.Errorf("coredevice: %q is read-only", property)
}

func (c *CoreDevice) Invoke(ctx context.Context, method string, params []any) (any, error) {
	return nil, fmt.Errorf("coredevice: unknown method %q", method)
}

func (c *CoreDevice) Subscribe(ctx context.Context, event string) (any, error) {
	return nil, fmt.Errorf("coredevice: unknown event %q", event)
}

func (c *CoreDevice) Describe(ctx context.Context, property string) (any, error) {
	switch property {
	case "devices":
		return "the list of device ids currently registered on this node", nil
	case "id":
		return "this node's configured id", nil
	default:
		return nil, fmt.Errorf("coredevice: unknown property %q", property)
	}
}

func (c *CoreDevice) Config(ctx context.Context, property string, value any) (any, error) {
	return nil, fmt.Errorf("coredevice: %q is read-only", property)
}
