// Package server is the HTTP front shared by fleet daemons.
//
// A Server mounts system endpoints and any number of API handlers:
//
//   - GET /          name, version, readiness and the route list
//   - GET /health    liveness probe
//   - GET /ready     readiness probe, 503 until Start and after Shutdown
//   - GET /metrics   Prometheus exposition
//
// Handlers passed through WithHandler are keyed by ServeMux pattern
// ("POST /v1/servers/{id}/pods") and run behind a middleware chain that
// negotiates the API version, assigns an X-Request-Id, recovers panics,
// enforces a token-bucket rate limit (golang.org/x/time/rate), logs and
// records fleet_http_* metrics.
//
// Errors are reported as ErrorResponse bodies. WriteErrorFromErr maps a
// pkg/errors StructuredError to its HTTP status and copies its context into
// the details.
//
// Usage:
//
//	s := server.New(
//	    server.WithName("fleetd"),
//	    server.WithVersion(version),
//	    server.WithHandler(routes),
//	)
//	if err := s.Run(ctx); err != nil {
//	    return err
//	}
//
// PORT and SHUTDOWN_TIMEOUT_SECONDS override the listen port and the graceful
// shutdown budget.
package server
