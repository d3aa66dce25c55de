// Package deploy drives the lifecycle of a pod from creation request to a
// terminal status.
//
// Create validates the request against the ledger and the live cluster,
// records a pending pod, reserves its resources and returns. A background
// task then asks the provider to create the workload and polls its phase:
//
//	pending -> online   the pods reached Running
//	pending -> failed   creation was rejected or a pod entered Failed
//	pending -> timeout  no terminal phase within the deadline
//
// Every transition is a full reload-and-write of the ledger. Whether a
// failed or timed-out creation keeps its reservation is controlled by
// WithReleaseOnFailure; by default it is kept until the pod is deleted.
//
// Delete is all or nothing from the ledger's point of view: the pod entry
// and its reservation are removed only after the provider reports success.
package deploy
