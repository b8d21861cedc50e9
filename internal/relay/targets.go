package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
)

// TargetInfo is the target metadata the extension reports, extended with the
// browser tab ID the target lives in.
type TargetInfo struct {
	TargetID string `json:"targetId"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	TabID    *int   `json:"tabId,omitempty"`
	Attached bool   `json:"attached,omitempty"`
}

// AttachedTarget is a session the extension reported as attached.
type AttachedTarget struct {
	SessionID string
	TabID     *int
	Info      *TargetInfo
}

// ID is the target ID, falling back to the session ID when the extension did
// not report one.
func (t *AttachedTarget) ID() string {
	if t.Info != nil && t.Info.TargetID != "" {
		return t.Info.TargetID
	}
	return t.SessionID
}

// Describe returns the target info as served to clients, with defaults filled in.
func (t *AttachedTarget) Describe() TargetInfo {
	d := TargetInfo{TargetID: t.ID(), Type: "page"}
	if t.Info != nil {
		if t.Info.Type != "" {
			d.Type = t.Info.Type
		}
		d.Title = t.Info.Title
		d.URL = t.Info.URL
		d.TabID = t.Info.TabID
	}
	if t.TabID != nil {
		d.TabID = t.TabID
	}
	return d
}

func (t *AttachedTarget) clone() *AttachedTarget {
	cp := *t
	if t.Info != nil {
		info := *t.Info
		cp.Info = &info
	}
	return &cp
}

// TargetRegistry is the session-keyed view of attached targets, derived
// entirely from events the extension forwards. Iteration follows insertion
// order; re-attaching a known session keeps its position.
type TargetRegistry struct {
	mu     sync.RWMutex
	order  []string
	byID   map[string]*AttachedTarget
	logger *slog.Logger
}

func NewTargetRegistry(logger *slog.Logger) *TargetRegistry {
	return &TargetRegistry{
		byID:   make(map[string]*AttachedTarget),
		logger: logger,
	}
}

// Upsert records or refreshes an attached session.
func (r *TargetRegistry) Upsert(t *AttachedTarget) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[t.SessionID]; !ok {
		r.order = append(r.order, t.SessionID)
	}
	r.byID[t.SessionID] = t.clone()
}

// Remove forgets a session. It reports whether the session was known.
func (r *TargetRegistry) Remove(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[sessionID]; !ok {
		return false
	}
	delete(r.byID, sessionID)
	for i, id := range r.order {
		if id == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Clear drops every session and returns how many there were.
func (r *TargetRegistry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.order)
	r.order = nil
	r.byID = make(map[string]*AttachedTarget)
	return n
}

// List returns copies of every attached target in insertion order.
func (r *TargetRegistry) List() []*AttachedTarget {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*AttachedTarget, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].clone())
	}
	return out
}

func (r *TargetRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *TargetRegistry) BySession(sessionID string) (*AttachedTarget, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byID[sessionID]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// ByTargetID matches on the derived target ID, so a session without a
// reported target ID is found by its session ID.
func (r *TargetRegistry) ByTargetID(targetID string) (*AttachedTarget, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		if t := r.byID[id]; t.ID() == targetID {
			return t.clone(), true
		}
	}
	return nil, false
}

// First returns the earliest attached target still known.
func (r *TargetRegistry) First() (*AttachedTarget, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 {
		return nil, false
	}
	return r.byID[r.order[0]].clone(), true
}

// UpdateInfo refreshes title and url of the target with the given derived ID.
func (r *TargetRegistry) UpdateInfo(targetID, title, url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		t := r.byID[id]
		if t.ID() != targetID {
			continue
		}
		if t.Info == nil {
			t.Info = &TargetInfo{}
		}
		t.Info.Title = title
		t.Info.URL = url
		return true
	}
	return false
}

// Observe applies a forwarded CDP event to the registry. Events that do not
// describe target lifecycle are ignored.
func (r *TargetRegistry) Observe(evt eventMessage) error {
	switch evt.Method {
	case cdproto.EventTargetAttachedToTarget:
		// Sessions are keyed by the envelope sessionId only.
		sessionID := evt.SessionID
		if sessionID == "" {
			return nil
		}
		var p struct {
			TargetInfo *TargetInfo `json:"targetInfo"`
		}
		if err := decodeParams(evt.Params, &p); err != nil {
			return fmt.Errorf("decode %s: %w", evt.Method, err)
		}
		t := &AttachedTarget{SessionID: sessionID, Info: p.TargetInfo}
		if p.TargetInfo != nil {
			t.TabID = p.TargetInfo.TabID
		}
		r.Upsert(t)
		r.logger.Info("Target attached", "session", sessionID, "target", t.ID())

	case cdproto.EventTargetDetachedFromTarget:
		var p target.EventDetachedFromTarget
		if err := decodeParams(evt.Params, &p); err != nil {
			return fmt.Errorf("decode %s: %w", evt.Method, err)
		}
		if p.SessionID == "" {
			return nil
		}
		if r.Remove(string(p.SessionID)) {
			r.logger.Info("Target detached", "session", p.SessionID)
		}

	case cdproto.EventTargetTargetInfoChanged:
		var p target.EventTargetInfoChanged
		if err := decodeParams(evt.Params, &p); err != nil {
			return fmt.Errorf("decode %s: %w", evt.Method, err)
		}
		if p.TargetInfo == nil {
			return nil
		}
		if r.UpdateInfo(string(p.TargetInfo.TargetID), p.TargetInfo.Title, p.TargetInfo.URL) {
			r.logger.Debug("Target info changed", "target", p.TargetInfo.TargetID, "url", p.TargetInfo.URL)
		}
	}
	return nil
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
