// Package api provides the HTTP and WebSocket surface of fieldcore.
//
// It exposes read endpoints over the tracked device fleet, alert history
// and alarm rules, a command dispatch endpoint, and a WebSocket fanout
// for live telemetry, presence and alert events.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api
