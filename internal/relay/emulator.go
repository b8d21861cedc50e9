package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/chromedp/cdproto"
	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
)

type attachedToTargetParams struct {
	SessionID          string     `json:"sessionId"`
	TargetInfo         TargetInfo `json:"targetInfo"`
	WaitingForDebugger bool       `json:"waitingForDebugger"`
}

type targetCreatedParams struct {
	TargetInfo TargetInfo `json:"targetInfo"`
}

type getTargetsResult struct {
	TargetInfos []TargetInfo `json:"targetInfos"`
}

type getTargetInfoResult struct {
	TargetInfo TargetInfo `json:"targetInfo"`
}

type attachToTargetResult struct {
	SessionID string `json:"sessionId"`
}

// emulate answers the commands the relay owns. It reports whether msg was
// handled; handled commands never reach the extension. Params that fail to
// decode are logged and treated as absent.
func (r *Relay) emulate(clientID string, log *slog.Logger, msg *clientMessage) bool {
	reply := func(result any) {
		r.clients.send(clientID, &cdpResponse{ID: msg.ID, SessionID: msg.SessionID, Result: result})
	}
	fail := func(message string) {
		r.clients.send(clientID, &cdpResponse{ID: msg.ID, SessionID: msg.SessionID, Error: &cdpError{Message: message}})
	}
	decode := func(v any) {
		if err := decodeParams(msg.Params, v); err != nil {
			log.Debug("Ignoring undecodable params", "method", msg.Method, "error", err)
		}
	}

	switch msg.Method {
	case cdpbrowser.CommandGetVersion:
		reply(&cdpbrowser.GetVersionReturns{
			ProtocolVersion: ProtocolVersion,
			Product:         product(),
			Revision:        Version,
			UserAgent:       UserAgent,
			JsVersion:       "V8",
		})

	case cdpbrowser.CommandSetDownloadBehavior:
		reply(struct{}{})

	case target.CommandSetAutoAttach:
		if msg.SessionID == "" {
			for _, t := range r.targets.List() {
				info := t.Describe()
				info.Attached = true
				r.clients.send(clientID, &cdpEvent{
					Method: cdproto.EventTargetAttachedToTarget,
					Params: &attachedToTargetParams{SessionID: t.SessionID, TargetInfo: info},
				})
			}
		}
		reply(struct{}{})

	case target.CommandSetDiscoverTargets:
		var p target.SetDiscoverTargetsParams
		decode(&p)
		if p.Discover {
			for _, t := range r.targets.List() {
				info := t.Describe()
				info.Attached = true
				r.clients.send(clientID, &cdpEvent{
					Method: cdproto.EventTargetTargetCreated,
					Params: &targetCreatedParams{TargetInfo: info},
				})
			}
		}
		reply(struct{}{})

	case target.CommandGetTargets:
		list := r.targets.List()
		infos := make([]TargetInfo, 0, len(list))
		for _, t := range list {
			info := t.Describe()
			info.Attached = true
			infos = append(infos, info)
		}
		reply(&getTargetsResult{TargetInfos: infos})

	case target.CommandGetTargetInfo:
		var p target.GetTargetInfoParams
		decode(&p)
		t, ok := r.resolveTarget(string(p.TargetID), msg.SessionID)
		if !ok {
			fail("No targets attached")
			return true
		}
		reply(&getTargetInfoResult{TargetInfo: t.Describe()})

	case target.CommandAttachToTarget:
		var p target.AttachToTargetParams
		decode(&p)
		if p.TargetID == "" {
			fail("Target.attachToTarget requires targetId")
			return true
		}
		t, ok := r.targets.ByTargetID(string(p.TargetID))
		if !ok {
			fail(fmt.Sprintf("Target %s not found", p.TargetID))
			return true
		}
		reply(&attachToTargetResult{SessionID: t.SessionID})

	default:
		return false
	}
	return true
}

// resolveTarget picks a target by ID, then by session, then the first known.
func (r *Relay) resolveTarget(targetID, sessionID string) (*AttachedTarget, bool) {
	if targetID != "" {
		if t, ok := r.targets.ByTargetID(targetID); ok {
			return t, true
		}
	}
	if sessionID != "" {
		if t, ok := r.targets.BySession(sessionID); ok {
			return t, true
		}
	}
	return r.targets.First()
}

// greeting is the unsolicited command every CDP client receives on connect.
func greeting() *cdpEvent {
	params, _ := json.Marshal(target.SetAutoAttach(true, false))
	return newEvent(target.CommandSetAutoAttach, params, "")
}
