// Package errors provides structured error types for better observability
// and programmatic error handling across the control plane.
//
// Example usage:
//
//	err := errors.WrapWithContext(
//	    errors.ErrCodeProviderUnavailable,
//	    "failed to list nodes",
//	    cause,
//	    map[string]interface{}{
//	        "server": serverID,
//	    },
//	)
//
// Callers branch on the code rather than on message text:
//
//	if errors.IsCode(err, errors.ErrCodeInsufficientResources) {
//	    // surface the offending resource kind to the user
//	}
package errors
