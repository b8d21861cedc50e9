package relay

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/gorilla/websocket"
)

// Endpoint is the kind of WebSocket a connection attempt is admitted to.
type Endpoint int

const (
	EndpointUnknown Endpoint = iota
	EndpointExtension
	EndpointClient
)

func (e Endpoint) String() string {
	switch e {
	case EndpointExtension:
		return "extension"
	case EndpointClient:
		return "cdp"
	default:
		return "unknown"
	}
}

// CloseError is a protocol-level rejection delivered as a WebSocket close frame.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("websocket close %d: %s", e.Code, e.Reason)
}

var (
	errNotLoopback     = &CloseError{Code: websocket.ClosePolicyViolation, Reason: "Connection only allowed from localhost"}
	errInvalidOrigin   = &CloseError{Code: websocket.ClosePolicyViolation, Reason: "Invalid origin"}
	errInvalidToken    = &CloseError{Code: websocket.ClosePolicyViolation, Reason: "Invalid token"}
	errUnknownEndpoint = &CloseError{Code: websocket.ClosePolicyViolation, Reason: "Unknown endpoint"}
)

// Attempt describes a raw WebSocket connection attempt.
type Attempt struct {
	RemoteAddr string // host or host:port
	Origin     string
	Path       string
	Token      string // ?token= query parameter
}

// Admission is the outcome of an accepted Attempt.
type Admission struct {
	Endpoint    Endpoint
	ClientID    string
	ExtensionID string
}

// Gatekeeper decides which WebSocket upgrades the relay accepts.
type Gatekeeper struct {
	token   string
	allowed map[string]struct{}
	logger  *slog.Logger
}

// NewGatekeeper builds a gatekeeper. An empty extensionIDs list puts the
// extension endpoint in open mode, which is logged once here and again for
// every extension admitted.
func NewGatekeeper(token string, extensionIDs []string, logger *slog.Logger) *Gatekeeper {
	g := &Gatekeeper{
		token:   token,
		allowed: make(map[string]struct{}, len(extensionIDs)),
		logger:  logger,
	}
	for _, id := range extensionIDs {
		g.allowed[id] = struct{}{}
	}
	if g.OpenMode() {
		logger.Warn("No SSPA_EXTENSION_IDS configured. Allowing any chrome-extension origin.")
	}
	return g
}

// OpenMode reports whether any extension ID is accepted.
func (g *Gatekeeper) OpenMode() bool {
	return len(g.allowed) == 0
}

// Admit applies the admission rules in order: loopback peer, then
// per-endpoint checks. Rejections are *CloseError.
func (g *Gatekeeper) Admit(a Attempt) (Admission, error) {
	if !IsLoopback(a.RemoteAddr) {
		g.logger.Warn("Rejected connection from non-localhost", "remote", a.RemoteAddr)
		return Admission{}, errNotLoopback
	}

	switch {
	case a.Path == ExtensionPath:
		id, ok := extensionIDFromOrigin(a.Origin)
		if !ok {
			g.logger.Warn("Rejected extension connection with invalid origin", "origin", a.Origin)
			return Admission{}, errInvalidOrigin
		}
		if g.OpenMode() {
			g.logger.Info("Allowing extension origin without allowlist", "extension", id)
		} else if _, allowed := g.allowed[id]; !allowed {
			g.logger.Warn("Rejected extension connection with origin not in allowlist",
				"origin", a.Origin, "allowed", g.allowedList())
			return Admission{}, errInvalidOrigin
		}
		return Admission{Endpoint: EndpointExtension, ExtensionID: id}, nil

	case strings.HasPrefix(a.Path, ClientPathPrefix):
		if g.token != "" && subtle.ConstantTimeCompare([]byte(a.Token), []byte(g.token)) != 1 {
			g.logger.Warn("Rejected CDP connection with invalid token")
			return Admission{}, errInvalidToken
		}
		return Admission{Endpoint: EndpointClient, ClientID: strings.TrimPrefix(a.Path, ClientPathPrefix)}, nil
	}

	return Admission{}, errUnknownEndpoint
}

func (g *Gatekeeper) allowedList() string {
	ids := make([]string, 0, len(g.allowed))
	for id := range g.allowed {
		ids = append(ids, id)
	}
	return strings.Join(ids, ", ")
}

// IsLoopback accepts 127.0.0.1, ::1 and the IPv4-mapped ::ffff:127.0.0.1,
// with or without a port.
func IsLoopback(addr string) bool {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))
	return host == "127.0.0.1" || host == "::1" || host == "::ffff:127.0.0.1"
}

func extensionIDFromOrigin(origin string) (string, bool) {
	rest, ok := strings.CutPrefix(origin, "chrome-extension://")
	if !ok {
		return "", false
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest, rest != ""
}
