package relay

import (
	"encoding/json"
	"sync"
	"time"
)

// PendingRequest correlates a forwarded command with the client that sent it.
type PendingRequest struct {
	ClientID        string
	ClientMessageID json.RawMessage
	SessionID       string
	Method          string
	CreatedAt       time.Time
}

// pendingTable maps relay correlation IDs to their originating requests.
// IDs start at 1 and only grow, so an ID is never reused.
type pendingTable struct {
	mu     sync.Mutex
	nextID int64
	reqs   map[int64]*PendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		nextID: 1,
		reqs:   make(map[int64]*PendingRequest),
	}
}

// Add mints a correlation ID and records req under it.
func (p *pendingTable) Add(req *PendingRequest) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	p.reqs[id] = req
	return id
}

// Take removes and returns the request for id.
func (p *pendingTable) Take(id int64) (*PendingRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req, ok := p.reqs[id]
	if ok {
		delete(p.reqs, id)
	}
	return req, ok
}

func (p *pendingTable) Remove(id int64) {
	p.mu.Lock()
	delete(p.reqs, id)
	p.mu.Unlock()
}

// Clear drops every outstanding request and returns how many there were.
// The ID counter is left untouched.
func (p *pendingTable) Clear() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.reqs)
	p.reqs = make(map[int64]*PendingRequest)
	return n
}

func (p *pendingTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reqs)
}
