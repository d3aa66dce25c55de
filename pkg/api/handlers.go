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

package api

import (
	"net/http"

	"github.com/NVIDIA/fleet-ledger/pkg/accounting"
	"github.com/NVIDIA/fleet-ledger/pkg/deploy"
	"github.com/NVIDIA/fleet-ledger/pkg/errors"
	"github.com/NVIDIA/fleet-ledger/pkg/fleet"
	"github.com/NVIDIA/fleet-ledger/pkg/ledger"
	"github.com/NVIDIA/fleet-ledger/pkg/serializer"
	"github.com/NVIDIA/fleet-ledger/pkg/server"
)

// Handler serves the fleet API on top of a Fleet.
type Handler struct {
	fleet *fleet.Fleet
}

// NewHandler returns a Handler for f.
func NewHandler(f *fleet.Fleet) *Handler {
	return &Handler{fleet: f}
}

// Routes returns the API handlers keyed by ServeMux pattern.
func (h *Handler) Routes() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"GET /v1/servers":                    h.listServers,
		"POST /v1/servers":                   h.configureServer,
		"GET /v1/servers/{id}":               h.getServer,
		"DELETE /v1/servers/{id}":            h.deconfigureServer,
		"GET /v1/servers/{id}/permissions":   h.verifyServer,
		"POST /v1/servers/{id}/refresh":      h.refreshServer,
		"POST /v1/servers/{id}/pods":         h.createPod,
		"GET /v1/servers/{id}/pods/{pod}":    h.podStatus,
		"PATCH /v1/servers/{id}/pods/{pod}":  h.updatePod,
		"DELETE /v1/servers/{id}/pods/{pod}": h.deletePod,
		"POST /v1/refresh":                   h.refreshAll,
		"GET /v1/refresh/background":         h.backgroundStatus,
		"POST /v1/refresh/background":        h.startBackground,
		"DELETE /v1/refresh/background":      h.stopBackground,
		"PUT /v1/refresh/config":             h.setRefreshConfig,
		"GET /v1/consistency":                h.consistency,
	}
}

// ServerList is the body of GET /v1/servers.
type ServerList struct {
	Servers []ledger.Server `json:"servers"`
}

// UpdateRequest is the body of PATCH /v1/servers/{id}/pods/{pod}.
type UpdateRequest struct {
	Resources ledger.ResourceMap `json:"resources"`
}

// BackgroundStatus reports the reconciliation loop state.
type BackgroundStatus struct {
	Running bool   `json:"running"`
	Message string `json:"message"`
}

// ConsistencyReport is the body of GET /v1/consistency.
type ConsistencyReport struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func (h *Handler) listServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.fleet.ListServers(r.Context())
	if err != nil {
		server.WriteErrorFromErr(w, r, err, "failed to list servers", nil)
		return
	}
	serializer.RespondJSON(w, http.StatusOK, ServerList{Servers: servers})
}

func (h *Handler) getServer(w http.ResponseWriter, r *http.Request) {
	s, err := h.fleet.Server(r.Context(), r.PathValue("id"))
	if err != nil {
		server.WriteErrorFromErr(w, r, err, "failed to load server", nil)
		return
	}
	serializer.RespondJSON(w, http.StatusOK, s)
}

func (h *Handler) configureServer(w http.ResponseWriter, r *http.Request) {
	var s ledger.Server
	if !decode(w, r, &s) {
		return
	}
	if err := h.fleet.ConfigureServer(r.Context(), s); err != nil {
		server.WriteErrorFromErr(w, r, err, "failed to configure server", nil)
		return
	}
	configured, err := h.fleet.Server(r.Context(), s.ID)
	if err != nil {
		server.WriteErrorFromErr(w, r, err, "failed to load server", nil)
		return
	}
	serializer.RespondJSON(w, http.StatusCreated, configured)
}

func (h *Handler) deconfigureServer(w http.ResponseWriter, r *http.Request) {
	if err := h.fleet.DeconfigureServer(r.Context(), r.PathValue("id")); err != nil {
		server.WriteErrorFromErr(w, r, err, "failed to remove server", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) verifyServer(w http.ResponseWriter, r *http.Request) {
	ns := r.URL.Query().Get("namespace")
	if ns == "" {
		ns = "default"
	}
	checks, err := h.fleet.VerifyServer(r.Context(), r.PathValue("id"), ns)
	if err != nil {
		server.WriteErrorFromErr(w, r, err, "failed to verify server", nil)
		return
	}
	serializer.RespondJSON(w, http.StatusOK, checks)
}

func (h *Handler) refreshServer(w http.ResponseWriter, r *http.Request) {
	s, err := h.fleet.RefreshServer(r.Context(), r.PathValue("id"))
	if err != nil {
		server.WriteErrorFromErr(w, r, err, "failed to refresh server", nil)
		return
	}
	serializer.RespondJSON(w, http.StatusOK, s)
}

func (h *Handler) createPod(w http.ResponseWriter, r *http.Request) {
	var req deploy.Request
	if !decode(w, r, &req) {
		return
	}
	accepted, err := h.fleet.CreatePod(r.Context(), r.PathValue("id"), req)
	if err != nil {
		server.WriteErrorFromErr(w, r, err, "failed to create pod", nil)
		return
	}
	server.Logger(r.Context()).Info("pod accepted",
		"podID", accepted.PodID,
		"deploymentID", accepted.DeploymentID,
		"owner", req.Owner)
	serializer.RespondJSON(w, http.StatusAccepted, accepted)
}

func (h *Handler) podStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.fleet.DeploymentStatus(r.Context(), r.PathValue("id"), r.PathValue("pod"))
	if err != nil {
		server.WriteErrorFromErr(w, r, err, "failed to load deployment status", nil)
		return
	}
	serializer.RespondJSON(w, http.StatusOK, report)
}

func (h *Handler) updatePod(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if !decode(w, r, &req) {
		return
	}
	report, err := h.fleet.UpdatePod(r.Context(), r.PathValue("id"), r.PathValue("pod"), req.Resources)
	if err != nil {
		server.WriteErrorFromErr(w, r, err, "failed to update pod", nil)
		return
	}
	serializer.RespondJSON(w, http.StatusOK, report)
}

func (h *Handler) deletePod(w http.ResponseWriter, r *http.Request) {
	res, err := h.fleet.DeletePod(r.Context(), r.PathValue("id"), r.PathValue("pod"))
	if err != nil {
		server.WriteErrorFromErr(w, r, err, "failed to delete pod", nil)
		return
	}
	server.Logger(r.Context()).Info("pod deleted", "message", res.Message)
	serializer.RespondJSON(w, http.StatusOK, res)
}

func (h *Handler) refreshAll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.fleet.RefreshAll(r.Context())
	if err != nil {
		server.WriteErrorFromErr(w, r, err, "failed to refresh servers", nil)
		return
	}
	serializer.RespondJSON(w, http.StatusOK, summary)
}

func (h *Handler) backgroundStatus(w http.ResponseWriter, _ *http.Request) {
	running := h.fleet.BackgroundRefreshRunning()
	msg := "background refresh is stopped"
	if running {
		msg = "background refresh is running"
	}
	serializer.RespondJSON(w, http.StatusOK, BackgroundStatus{Running: running, Message: msg})
}

func (h *Handler) startBackground(w http.ResponseWriter, _ *http.Request) {
	msg := "background refresh started"
	if !h.fleet.StartBackgroundRefresh() {
		msg = "background refresh already running"
	}
	serializer.RespondJSON(w, http.StatusOK, BackgroundStatus{Running: true, Message: msg})
}

func (h *Handler) stopBackground(w http.ResponseWriter, r *http.Request) {
	if err := h.fleet.StopBackgroundRefresh(r.Context()); err != nil {
		server.WriteErrorFromErr(w, r, err, "failed to stop background refresh", nil)
		return
	}
	serializer.RespondJSON(w, http.StatusOK, BackgroundStatus{Message: "background refresh stopped"})
}

func (h *Handler) setRefreshConfig(w http.ResponseWriter, r *http.Request) {
	var rc fleet.RefreshConfig
	if !decode(w, r, &rc) {
		return
	}
	cfg, err := h.fleet.SetRefreshConfig(r.Context(), rc)
	if err != nil {
		server.WriteErrorFromErr(w, r, err, "failed to update refresh config", nil)
		return
	}
	serializer.RespondJSON(w, http.StatusOK, cfg)
}

func (h *Handler) consistency(w http.ResponseWriter, r *http.Request) {
	issues, err := h.fleet.ConsistencyCheck(r.Context())
	if err != nil {
		server.WriteErrorFromErr(w, r, err, "failed to check consistency", nil)
		return
	}
	if len(issues) == 0 {
		serializer.RespondJSON(w, http.StatusOK, ConsistencyReport{
			Status:  "ok",
			Message: "all data seems consistent",
		})
		return
	}
	serializer.RespondJSON(w, http.StatusBadRequest, ConsistencyReport{
		Status:  "error",
		Message: "data inconsistency error",
		Details: issueStrings(issues),
	})
}

func issueStrings(issues []accounting.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.String())
	}
	return out
}

// decode reads a JSON body into v and writes INVALID_REQUEST when it fails.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := serializer.DecodeJSON(r, v); err != nil {
		server.WriteError(w, r, http.StatusBadRequest, errors.ErrCodeInvalidRequest,
			"invalid request body", false, map[string]any{"error": err.Error()})
		return false
	}
	return true
}
