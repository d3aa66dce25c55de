// Package poll provides the two timer loops the control plane needs: waiting
// for a condition with a deadline, and running work periodically with a
// per-iteration delay. Both take a k8s.io/utils/clock.Clock so tests can
// drive time with a fake clock, and both stop when the context is cancelled.
package poll
