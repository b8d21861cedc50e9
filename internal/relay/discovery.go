package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
)

type versionResponse struct {
	Version string `json:"version"`
}

type jsonVersionResponse struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

type jsonListEntry struct {
	ID                   string `json:"id"`
	TabID                *int   `json:"tabId,omitempty"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

type extensionStatus struct {
	Connected bool `json:"connected"`
	Port      int  `json:"port"`
	Clients   int  `json:"clients"`
	Targets   int  `json:"targets"`
}

// cdpURL is the client endpoint for clientID on this relay.
func (r *Relay) cdpURL(clientID string) string {
	return fmt.Sprintf("ws://127.0.0.1:%d%s%s", r.Port(), ClientPathPrefix, clientID)
}

func (r *Relay) handleRoot(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if req.Method == http.MethodHead {
		return
	}
	w.Write([]byte("OK"))
}

func (r *Relay) handleVersion(w http.ResponseWriter, req *http.Request) {
	r.writeJSON(w, &versionResponse{Version: Version})
}

func (r *Relay) handleJSONVersion(w http.ResponseWriter, req *http.Request) {
	r.writeJSON(w, &jsonVersionResponse{
		Browser:              product(),
		ProtocolVersion:      ProtocolVersion,
		WebSocketDebuggerURL: r.cdpURL(DefaultClientID),
	})
}

func (r *Relay) handleJSONList(w http.ResponseWriter, req *http.Request) {
	targets := r.targets.List()
	list := make([]jsonListEntry, 0, len(targets))
	for _, t := range targets {
		info := t.Describe()
		list = append(list, jsonListEntry{
			ID:                   info.TargetID,
			TabID:                info.TabID,
			Type:                 info.Type,
			Title:                info.Title,
			URL:                  info.URL,
			WebSocketDebuggerURL: r.cdpURL(t.SessionID),
		})
	}
	r.writeJSON(w, list)
}

func (r *Relay) handleExtensionStatus(w http.ResponseWriter, req *http.Request) {
	r.writeJSON(w, &extensionStatus{
		Connected: r.ExtensionConnected(),
		Port:      r.Port(),
		Clients:   r.ClientCount(),
		Targets:   r.targets.Len(),
	})
}

// handleUpgradeRequired answers plain HTTP requests on the WebSocket paths.
func (r *Relay) handleUpgradeRequired(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Upgrade", "websocket")
	http.Error(w, "WebSocket upgrade required", http.StatusUpgradeRequired)
}

func (r *Relay) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		r.discoveryLog.Debug("Writing discovery response", "error", err)
	}
}
