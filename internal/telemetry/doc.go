// Package telemetry provides InfluxDB connectivity for mesh node PUT
// telemetry.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, point writing, and health monitoring, and installs itself
// as a meshnode.HandlerFunc middleware that observes upstream PUT
// requests and records their values as they flow through the
// Dispatcher.
//
// # Usage
//
//	cfg := config.TelemetryConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   "...",
//	    Org:     "devmesh",
//	    Bucket:  "telemetry",
//	}
//
//	client, err := telemetry.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	node.Use(client.Middleware())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are reported
// asynchronously via a callback registered with SetOnError. Connection
// and health check errors are returned directly.
package telemetry
