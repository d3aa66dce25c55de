// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a structured error classification.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a requested resource was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeUnauthorized indicates authentication or authorization failure.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrCodeTimeout indicates an operation exceeded its time limit.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeInternal indicates an internal system error.
	ErrCodeInternal ErrorCode = "INTERNAL"
	// ErrCodeInvalidRequest indicates malformed or invalid input.
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	// ErrCodeRateLimitExceeded indicates the client exceeded an enforced request limit.
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrCodeMethodNotAllowed indicates the HTTP method is not allowed for the resource.
	ErrCodeMethodNotAllowed ErrorCode = "METHOD_NOT_ALLOWED"
	// ErrCodeUnavailable indicates a service or resource is temporarily unavailable.
	ErrCodeUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Fleet domain codes.
const (
	// ErrCodeServerNotFound indicates the server id is not in the ledger or registry.
	ErrCodeServerNotFound ErrorCode = "SERVER_NOT_FOUND"
	// ErrCodePodNotFound indicates the pod is not recorded on the server.
	ErrCodePodNotFound ErrorCode = "POD_NOT_FOUND"
	// ErrCodePodAlreadyExists indicates a pod with the same id or name is already recorded.
	ErrCodePodAlreadyExists ErrorCode = "POD_ALREADY_EXISTS"
	// ErrCodeInsufficientResources indicates a request exceeds available capacity.
	ErrCodeInsufficientResources ErrorCode = "INSUFFICIENT_RESOURCES"
	// ErrCodeProviderUnavailable indicates the remote cluster could not be reached or authenticated.
	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	// ErrCodeDeploymentFailed indicates the remote cluster rejected or failed the workload.
	ErrCodeDeploymentFailed ErrorCode = "DEPLOYMENT_FAILED"
	// ErrCodeDeploymentTimeout indicates the workload never reached a terminal phase.
	ErrCodeDeploymentTimeout ErrorCode = "DEPLOYMENT_TIMEOUT"
	// ErrCodeLedgerCorruption indicates the persisted ledger could not be parsed.
	ErrCodeLedgerCorruption ErrorCode = "LEDGER_CORRUPTION"
	// ErrCodeUnknownBackend indicates a server names a provider backend that does not exist.
	ErrCodeUnknownBackend ErrorCode = "UNKNOWN_BACKEND"
)

// StructuredError provides structured error information for better observability.
// It includes an error code for programmatic handling, a human-readable message,
// the underlying cause, and optional context for debugging.
type StructuredError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *StructuredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is and errors.As support.
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// New creates a new StructuredError with the given code and message.
func New(code ErrorCode, message string) *StructuredError {
	return &StructuredError{
		Code:    code,
		Message: message,
	}
}

// NewWithContext creates a new StructuredError with context information.
func NewWithContext(code ErrorCode, message string, context map[string]any) *StructuredError {
	return &StructuredError{
		Code:    code,
		Message: message,
		Context: context,
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(code ErrorCode, message string, cause error) *StructuredError {
	return &StructuredError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapWithContext wraps an error with additional context information.
func WrapWithContext(code ErrorCode, message string, cause error, context map[string]any) *StructuredError {
	return &StructuredError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: context,
	}
}

// ServerNotFound reports an unknown server id.
func ServerNotFound(serverID string) *StructuredError {
	return NewWithContext(ErrCodeServerNotFound,
		fmt.Sprintf("Server '%s' not found", serverID),
		map[string]any{"server": serverID})
}

// PodNotFound reports an unknown pod on a known server.
func PodNotFound(serverID, pod string) *StructuredError {
	return NewWithContext(ErrCodePodNotFound,
		fmt.Sprintf("Pod %s not found", pod),
		map[string]any{"server": serverID, "pod": pod})
}

// PodAlreadyExists reports a pod id or name already present on the server.
func PodAlreadyExists(serverID, pod string) *StructuredError {
	return NewWithContext(ErrCodePodAlreadyExists,
		fmt.Sprintf("Pod %s already exists on server %s", pod, serverID),
		map[string]any{"server": serverID, "pod": pod})
}

// InsufficientResources reports the first resource kind whose request exceeds what is available.
func InsufficientResources(kind string, requested, available int64) *StructuredError {
	return NewWithContext(ErrCodeInsufficientResources,
		fmt.Sprintf("Not enough %s available. Requested: %d, Available: %d", kind, requested, available),
		map[string]any{
			"resource":  kind,
			"requested": requested,
			"available": available,
		})
}

// CodeOf returns the code of the first StructuredError in the chain, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var se *StructuredError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether any StructuredError in the chain carries code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var se *StructuredError
		if !stderrors.As(err, &se) {
			return false
		}
		if se.Code == code {
			return true
		}
		err = se.Cause
	}
	return false
}

// HTTPStatus maps an error code to the HTTP status the API layer returns for it.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound, ErrCodeServerNotFound, ErrCodePodNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidRequest, ErrCodeInsufficientResources, ErrCodeUnknownBackend:
		return http.StatusBadRequest
	case ErrCodePodAlreadyExists:
		return http.StatusConflict
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case ErrCodeTimeout, ErrCodeDeploymentTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeProviderUnavailable, ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeDeploymentFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
