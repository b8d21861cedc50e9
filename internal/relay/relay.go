package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/single-spa-inspector-pro/sspa-mcp/internal/config"
	"github.com/single-spa-inspector-pro/sspa-mcp/internal/logging"
)

// shutdownTimeout bounds how long Serve waits for in-flight HTTP requests.
const shutdownTimeout = 5 * time.Second

// Relay bridges one browser extension to any number of CDP clients.
type Relay struct {
	cfg  config.Config
	port atomic.Int64

	gate     *Gatekeeper
	upgrader websocket.Upgrader
	ext      *extensionChannel
	clients  *clientRegistry
	targets  *TargetRegistry
	pending  *pendingTable
	audit    *auditLogger

	logger       *slog.Logger
	extLog       *slog.Logger
	clientLog    *slog.Logger
	routerLog    *slog.Logger
	discoveryLog *slog.Logger

	// lifecycle guards closed, live and conns.Add so no socket is adopted
	// after Close.
	lifecycle sync.Mutex
	closed    bool
	live      map[*websocket.Conn]struct{}
	conns     sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Relay.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	queueSize int
}

// WithLogger sets the base logger components derive from. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithClientQueueSize sets how many outbound frames each CDP client may have
// queued before it is disconnected.
func WithClientQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// New builds a relay from cfg. Nothing listens until Serve or ListenAndServe,
// which also validate cfg.
func New(cfg config.Config, opts ...Option) *Relay {
	o := options{queueSize: clientQueueSize}
	for _, opt := range opts {
		opt(&o)
	}
	component := logging.Component
	if o.logger != nil {
		component = func(name string) *slog.Logger {
			return o.logger.With("component", name)
		}
	}

	r := &Relay{
		cfg:          cfg,
		gate:         NewGatekeeper(cfg.Token, cfg.ExtensionIDs, component("gatekeeper")),
		ext:          newExtensionChannel(component("extension")),
		clients:      newClientRegistry(o.queueSize, component("clients")),
		targets:      NewTargetRegistry(component("targets")),
		pending:      newPendingTable(),
		audit:        newAuditLogger(component("audit")),
		logger:       component("relay"),
		extLog:       component("extension"),
		clientLog:    component("clients"),
		routerLog:    component("router"),
		discoveryLog: component("discovery"),
		live:         make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			// Origins are judged by the gatekeeper after the upgrade so that
			// rejections arrive as close frames.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	r.port.Store(int64(cfg.Port))
	return r
}

// Handler returns the HTTP handler serving discovery and both WebSocket endpoints.
func (r *Relay) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(r.upgradeMiddleware)

	router.Get("/", r.handleRoot)
	router.Head("/", r.handleRoot)
	router.Get("/version", r.handleVersion)
	router.Get("/json/version", r.handleJSONVersion)
	router.Get("/json/list", r.handleJSONList)
	router.Get("/json", r.handleJSONList)
	router.Get("/extension/status", r.handleExtensionStatus)
	router.Get(ExtensionPath, r.handleUpgradeRequired)
	router.Get(ClientPathPrefix+"*", r.handleUpgradeRequired)
	return router
}

// ListenAndServe listens on the configured address and serves until ctx is done.
func (r *Relay) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", r.cfg.Addr(), err)
	}
	return r.Serve(ctx, ln)
}

// Serve runs the relay on ln until ctx is done or the server fails. On return
// every socket has been closed and every connection goroutine has exited.
func (r *Relay) Serve(ctx context.Context, ln net.Listener) error {
	if err := r.cfg.Validate(); err != nil {
		ln.Close()
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		r.port.Store(int64(addr.Port))
	}

	srv := &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(r.logger.Handler(), slog.LevelDebug),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.pingLoop(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	r.logger.Info("Relay server started", "addr", ln.Addr().String(), "version", Version)
	r.logger.Info("Extension endpoint", "url", fmt.Sprintf("ws://127.0.0.1:%d%s", r.Port(), ExtensionPath))
	r.logger.Info("CDP endpoint", "url", r.cdpURL(":clientId"))

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}
	cancel()
	wg.Wait()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if serr := srv.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	r.Close()
	r.conns.Wait()

	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	r.logger.Info("Relay server stopped")
	return err
}

// Close disconnects the extension and every client with 1001 and drops all
// relay state. Safe to call more than once.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		r.lifecycle.Lock()
		r.closed = true
		live := make([]*websocket.Conn, 0, len(r.live))
		for conn := range r.live {
			live = append(live, conn)
		}
		r.lifecycle.Unlock()

		for _, conn := range live {
			closeConn(conn, websocket.CloseGoingAway, "relay shutting down")
		}
		r.clients.closeAll()
		r.targets.Clear()
		r.pending.Clear()
	})
}

// Port is the port advertised in discovery URLs: the bound port once
// serving, the configured one before.
func (r *Relay) Port() int {
	return int(r.port.Load())
}

// ExtensionConnected reports whether an extension socket is attached.
func (r *Relay) ExtensionConnected() bool {
	return r.ext.connected()
}

// Targets returns the attached targets in registration order.
func (r *Relay) Targets() []*AttachedTarget {
	return r.targets.List()
}

func (r *Relay) ClientCount() int {
	return r.clients.count()
}

// PendingCount is the number of forwarded commands still awaiting a response.
func (r *Relay) PendingCount() int {
	return r.pending.Len()
}

func (r *Relay) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ext.ping()
		}
	}
}

// track adopts conn unless the relay is closed.
func (r *Relay) track(conn *websocket.Conn) bool {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.closed {
		return false
	}
	r.live[conn] = struct{}{}
	r.conns.Add(1)
	return true
}

func (r *Relay) untrack(conn *websocket.Conn) {
	r.lifecycle.Lock()
	delete(r.live, conn)
	r.lifecycle.Unlock()
	r.conns.Done()
}

// upgradeMiddleware sends every WebSocket upgrade through the gatekeeper,
// whatever its path. Plain HTTP requests continue to the router.
func (r *Relay) upgradeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !websocket.IsWebSocketUpgrade(req) {
			next.ServeHTTP(w, req)
			return
		}
		r.serveWebSocket(w, req)
	})
}

func (r *Relay) serveWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Debug("WebSocket upgrade failed", "path", req.URL.Path, "error", err)
		return
	}

	adm, err := r.gate.Admit(Attempt{
		RemoteAddr: req.RemoteAddr,
		Origin:     req.Header.Get("Origin"),
		Path:       req.URL.Path,
		Token:      req.URL.Query().Get("token"),
	})
	if err != nil {
		var ce *CloseError
		if errors.As(err, &ce) {
			closeConn(conn, ce.Code, ce.Reason)
		} else {
			conn.Close()
		}
		return
	}

	if !r.track(conn) {
		closeConn(conn, websocket.CloseGoingAway, "relay shutting down")
		return
	}
	defer r.untrack(conn)

	conn.SetReadLimit(maxMessageSize)
	switch adm.Endpoint {
	case EndpointExtension:
		r.serveExtension(conn, adm)
	case EndpointClient:
		r.serveClient(conn, adm)
	}
}

func (r *Relay) serveExtension(conn *websocket.Conn, adm Admission) {
	connID := uuid.NewString()
	log := r.extLog.With(logging.ShortID("conn", connID))

	if prev := r.ext.attach(conn, connID); prev != nil {
		targets, pending := r.targets.Clear(), r.pending.Clear()
		log.Warn("Replacing existing extension connection",
			"targets_cleared", targets, "pending_cleared", pending)
		closeConn(prev, websocket.CloseNormalClosure, "Replaced by a new extension connection")
	}
	log.Info("Extension WebSocket connected", "extension", adm.ExtensionID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("Extension WebSocket error", "error", err)
			}
			break
		}
		if r.ext.current() != conn {
			break
		}
		r.handleExtensionMessage(log, data)
	}

	if r.ext.detach(conn) {
		targets, pending := r.targets.Clear(), r.pending.Clear()
		log.Info("Extension WebSocket disconnected",
			"targets_cleared", targets, "pending_cleared", pending)
	} else {
		log.Debug("Replaced extension WebSocket closed")
	}
	conn.Close()
}

func (r *Relay) serveClient(conn *websocket.Conn, adm Admission) {
	connID := uuid.NewString()
	log := r.routerLog.With("client", adm.ClientID, logging.ShortID("conn", connID))

	r.clients.register(adm.ClientID, connID, conn)
	r.clientLog.Info("CDP WebSocket connected", "client", adm.ClientID, logging.ShortID("conn", connID))
	r.clients.send(adm.ClientID, greeting())

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.clientLog.Warn("CDP WebSocket error", "client", adm.ClientID, "error", err)
			}
			break
		}
		r.route(adm.ClientID, log, data)
	}

	if r.clients.unregister(adm.ClientID, connID) {
		r.clientLog.Info("CDP WebSocket disconnected", "client", adm.ClientID, logging.ShortID("conn", connID))
	}
	conn.Close()
}

// handleExtensionMessage applies one frame from the extension.
func (r *Relay) handleExtensionMessage(log *slog.Logger, data []byte) {
	msg, err := parseExtensionMessage(data)
	if err != nil {
		log.Warn("Dropping extension message", "error", err)
		return
	}

	switch m := msg.(type) {
	case pongMessage:
		log.Debug("Received pong from extension")

	case logMessage:
		log.Log(context.Background(), logging.RemoteLevel(m.Level), "Extension log",
			"source", "extension", "level", m.Level, "args", m.Args)

	case eventMessage:
		if err := r.targets.Observe(m); err != nil {
			log.Warn("Ignoring malformed target event", "method", m.Method, "error", err)
		}
		r.clients.broadcast(newEvent(m.Method, m.Params, m.SessionID))

	case responseMessage:
		r.deliverResponse(log, m)
	}
}

// deliverResponse answers the client that issued the command with relay ID m.ID.
func (r *Relay) deliverResponse(log *slog.Logger, m responseMessage) {
	req, ok := r.pending.Take(m.ID)
	if !ok {
		log.Warn("Received response for unknown request id", "id", m.ID)
		return
	}

	resp := &cdpResponse{ID: req.ClientMessageID, SessionID: req.SessionID}
	switch {
	case m.Error != nil:
		resp.Error = clientError(m.Error)
	case len(m.Result) > 0 && string(m.Result) != "null":
		resp.Result = m.Result
	default:
		resp.Result = struct{}{}
	}
	r.clients.send(req.ClientID, resp)
}
