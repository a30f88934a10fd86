package portal

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/envoidshield/wifi-connect/internal/netman"
)

// ErrorResponse is the JSON body for every failed request: a short error
// class plus a human-readable message.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse reports service liveness and backend reachability.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NetworksResponse wraps the scan results list.
type NetworksResponse struct {
	Networks []netman.ScanResult `json:"networks"`
}

// ConnectedResponse wraps the current connection, null when disconnected.
type ConnectedResponse struct {
	Connected *netman.ConnectedInfo `json:"connected"`
}

// SavedResponse wraps the saved profile list.
type SavedResponse struct {
	SavedNetworks []netman.NetworkProfile `json:"saved_networks"`
}

// ConnectRequest is the portal form submission.
type ConnectRequest struct {
	SSID       string `json:"ssid"`
	Identity   string `json:"identity,omitempty"`
	Passphrase string `json:"passphrase"`
}

// ForgetRequest names the network to remove.
type ForgetRequest struct {
	SSID string `json:"ssid"`
}

// ActionResponse reports the outcome of a connect or forget request.
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Count   int    `json:"count,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: http.StatusText(status), Message: message})
}

// Health reports 200 while the D-Bus backend is reachable, 503 otherwise.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if !s.nm.IsAvailable() {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:  "unhealthy",
			Message: "NetworkManager is not reachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// ListNetworks returns visible networks. With use_cache=true it answers from
// the last scan without touching the radio; otherwise it triggers a fresh
// scan, which drops hotspot clients.
func (s *Server) ListNetworks(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("use_cache") == "true" {
		writeJSON(w, http.StatusOK, NetworksResponse{Networks: s.orch.Snapshot().Networks})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryWait)
	defer cancel()

	networks, err := s.orch.Rescan(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, NetworksResponse{Networks: networks})
}

// ListConnected returns the active WiFi connection, or null when there is
// none. The hotspot itself never counts as connected.
func (s *Server) ListConnected(w http.ResponseWriter, r *http.Request) {
	info, err := s.nm.CurrentConnection()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ConnectedResponse{Connected: info})
}

// ListSaved returns the saved WiFi profiles known to the system.
func (s *Server) ListSaved(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.nm.ListSaved()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if profiles == nil {
		profiles = []netman.NetworkProfile{}
	}
	writeJSON(w, http.StatusOK, SavedResponse{SavedNetworks: profiles})
}

// Connect runs a full connection attempt and blocks until it resolves. On
// failure the hotspot is already back up by the time the response is
// written, so the client can retry immediately.
func (s *Server) Connect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SSID == "" {
		writeError(w, http.StatusBadRequest, "ssid is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), connectWait)
	defer cancel()

	err := s.orch.Connect(ctx, netman.ConnectRequest{
		SSID:       req.SSID,
		Passphrase: req.Passphrase,
		Identity:   req.Identity,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, ActionResponse{Success: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{Success: true, Message: "connected to " + req.SSID})
}

// ForgetNetwork deletes every saved profile matching the submitted SSID.
func (s *Server) ForgetNetwork(w http.ResponseWriter, r *http.Request) {
	var req ForgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SSID == "" {
		writeError(w, http.StatusBadRequest, "ssid is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryWait)
	defer cancel()

	count, err := s.orch.Forget(ctx, req.SSID)
	if err != nil {
		writeJSON(w, http.StatusOK, ActionResponse{Success: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{Success: true, Count: count})
}

// ForgetAll deletes every saved WiFi profile on the device.
func (s *Server) ForgetAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryWait)
	defer cancel()

	count, err := s.orch.ForgetAll(ctx)
	if err != nil {
		writeJSON(w, http.StatusOK, ActionResponse{Success: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{Success: true, Count: count})
}
