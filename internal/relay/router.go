package relay

import (
	"encoding/json"
	"log/slog"
)

// route dispatches one frame received from a CDP client. Malformed frames
// are logged and dropped; the client never hears about them.
func (r *Relay) route(clientID string, log *slog.Logger, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn("Dropping unparsable CDP message", "error", err)
		return
	}

	if msg.Method == methodForwardCommand {
		r.routeWrapped(clientID, log, &msg)
		return
	}

	if msg.Method == "" || !msg.hasID() {
		log.Debug("Dropping CDP message without method or id", "method", msg.Method)
		return
	}

	if r.emulate(clientID, log, &msg) {
		return
	}

	r.forward(log, &PendingRequest{
		ClientID:        clientID,
		ClientMessageID: msg.ID,
		SessionID:       msg.SessionID,
		Method:          msg.Method,
	}, &forwardParams{
		Method:    msg.Method,
		SessionID: msg.SessionID,
		Params:    msg.Params,
	})
}

// routeWrapped handles a client that already speaks the extension envelope.
// The inner params travel upstream untouched.
func (r *Relay) routeWrapped(clientID string, log *slog.Logger, msg *clientMessage) {
	var inner forwardParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &inner); err != nil {
			log.Warn("Dropping malformed forwardCDPCommand", "error", err)
			return
		}
	}
	if inner.Method == "" || !msg.hasID() {
		log.Debug("Dropping forwardCDPCommand without method or id")
		return
	}

	r.forward(log, &PendingRequest{
		ClientID:        clientID,
		ClientMessageID: msg.ID,
		SessionID:       inner.SessionID,
		Method:          inner.Method,
	}, msg.Params)
}

// forward records req under a fresh correlation ID and sends params to the
// extension. A failed send removes the record again; the client gets no reply.
func (r *Relay) forward(log *slog.Logger, req *PendingRequest, params any) {
	id := r.pending.Add(req)
	r.audit.logCommand(id, req)

	raw, err := json.Marshal(params)
	if err != nil {
		r.pending.Remove(id)
		log.Error("Encoding command for extension", "method", req.Method, "error", err)
		return
	}

	if err := r.ext.send(&extensionCommand{ID: id, Method: methodForwardCommand, Params: raw}); err != nil {
		r.pending.Remove(id)
		log.Error("Cannot forward command to extension", "method", req.Method, "id", id, "error", err)
	}
}
