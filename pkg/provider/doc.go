// Package provider is the only path from the control plane to a cluster.
//
// A Provider creates and deletes workloads and reports nodes, pods, and
// resources. Three backends implement it:
//
//	kubernetes  a live cluster through client-go (Kube)
//	mock        a deterministic in-memory cluster for tests (Mock)
//	demo        a Mock preloaded with the demo fleet
//
// Servers flagged is_dummy in their connection coordinates get a Static
// provider that replays the ledger entry and rejects mutations.
//
// Factory.New picks the backend from the server's type and connection
// method and fails with UNKNOWN_BACKEND for anything else.
//
// Creation and deletion are idempotent: "already exists" on create and
// "not found" on delete are reported as success.
package provider
