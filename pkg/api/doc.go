// Package api exposes a fleet over HTTP.
//
// The package is a thin layer over pkg/fleet and the reusable pkg/server:
// Serve reads the FLEET_* environment, opens the ledger, optionally seeds
// demo servers and starts the reconciliation loop, then mounts Handler
// routes on a server.Server until SIGINT or SIGTERM.
//
// # Endpoints
//
// Servers:
//   - GET    /v1/servers                      ledger view of every server
//   - POST   /v1/servers                      add or replace a server definition
//   - GET    /v1/servers/{id}                 one server
//   - DELETE /v1/servers/{id}                 remove a server and its pods
//   - GET    /v1/servers/{id}/permissions     RBAC probe (?namespace=)
//   - POST   /v1/servers/{id}/refresh         pull live state of one server
//
// Pods:
//   - POST   /v1/servers/{id}/pods            accept a deployment (202, status pending)
//   - GET    /v1/servers/{id}/pods/{pod}      deployment status
//   - PATCH  /v1/servers/{id}/pods/{pod}      resize the reservation
//   - DELETE /v1/servers/{id}/pods/{pod}      remove from cluster and ledger
//
// Reconciliation:
//   - POST   /v1/refresh                      refresh every server now
//   - GET    /v1/refresh/background           loop state
//   - POST   /v1/refresh/background           start the loop
//   - DELETE /v1/refresh/background           stop the loop
//   - PUT    /v1/refresh/config               auto refresh switch and per-server intervals
//   - GET    /v1/consistency                  200 when the books add up, 400 with details otherwise
//
// Errors use server.ErrorResponse with the status given by errors.HTTPStatus.
//
// # Configuration
//
//   - FLEET_LEDGER              store URI (path, file://, sqlite://, redis://)
//   - FLEET_AUTO_REFRESH        start the reconciliation loop on boot (default true)
//   - FLEET_RELEASE_ON_FAILURE  give back reservations of failed deployments
//   - FLEET_DEMO                seed the demo servers
//   - PORT, SHUTDOWN_TIMEOUT_SECONDS, LOG_LEVEL
package api
