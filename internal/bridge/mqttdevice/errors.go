package mqttdevice

import "errors"

// Domain-specific errors for the MQTT device bridge. Use errors.Is() to
// check for these in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("mqttdevice: client not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("mqttdevice: connection failed")

	// ErrInvokeTimeout is returned when a device does not answer an INVOKE
	// request within the configured timeout. A publish the broker does not
	// acknowledge within defaultPublishTimeout also returns it, wrapped.
	ErrInvokeTimeout = errors.New("mqttdevice: invoke timed out waiting for response")
)
