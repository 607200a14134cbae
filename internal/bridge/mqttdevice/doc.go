// Package mqttdevice bridges a single physical device reachable over MQTT
// into the node engine as a native meshnode.Device, grounded in the same
// paho.mqtt.golang connection-lifecycle pattern used elsewhere for broker
// connectivity.
//
// Each bridged device owns a fixed topic namespace under its device id:
//
//	devices/{id}/state/{property}      device -> bridge, retained, drives OnPut
//	devices/{id}/set/{property}        bridge -> device, fire-and-forget SET
//	devices/{id}/event/{name}          device -> bridge, drives OnNotify
//	devices/{id}/invoke/{method}/req    bridge -> device, correlated by an id
//	devices/{id}/invoke/{method}/res    device -> bridge, same correlation id
//
// GET reads the bridge's local cache of the last retained state message
// rather than round-tripping to the device, since MQTT state topics are
// inherently a push model; INVOKE is the one operation that blocks on a
// request/response round trip, with a bounded wait for the matching reply.
//
// Thread Safety: Device is safe for concurrent use from multiple goroutines.
package mqttdevice
