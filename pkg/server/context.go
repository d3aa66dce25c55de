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

package server

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

const (
	contextKeyRequestID  contextKey = "requestID"
	contextKeyAPIVersion contextKey = "apiVersion"
	contextKeyLogger     contextKey = "logger"
)

// Path wildcards that name fleet objects. Routes use {id} for the server
// and {pod} for the pod.
const (
	pathServer = "id"
	pathPod    = "pod"
)

// Logger returns the request-scoped logger, which carries the request id,
// route and, when the route names them, the server and pod. Outside a
// request it returns slog.Default.
func Logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKeyLogger).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// requestAttrs lists the log attributes identifying r.
func requestAttrs(r *http.Request, requestID string) []any {
	attrs := []any{"requestID", requestID, "method", r.Method, "route", routeLabel(r)}
	if id := r.PathValue(pathServer); id != "" {
		attrs = append(attrs, "server", id)
	}
	if pod := r.PathValue(pathPod); pod != "" {
		attrs = append(attrs, "pod", pod)
	}
	return attrs
}
