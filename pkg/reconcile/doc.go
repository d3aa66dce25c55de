// Package reconcile keeps the ledger in step with the clusters.
//
// A Service runs one loop. Each cycle reads the ledger, fetches the live
// view of every server in parallel and merges the successful fetches back
// in a single write. A server that cannot be reached keeps its last known
// entry; the other servers are still refreshed. The next cycle runs after
// the shortest live_refresh_interval declared by any server, or after a
// shorter backoff when the cycle itself failed.
package reconcile
