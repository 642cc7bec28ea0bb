package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"campusrelay/internal/router"
	"campusrelay/pkg/types"
)

// Authenticator resolves a bearer token to an identity.
type Authenticator interface {
	Authenticate(token string) (types.Identity, error)
}

// Router routes one payload read from a relay connection.
type Router interface {
	Route(ctx context.Context, sender types.Identity, raw []byte) router.Outcome
}

// Limiter admits or rejects a connection attempt for a key.
type Limiter interface {
	Allow(key string) bool
}

// HandlerMetrics counts rejected connection attempts.
type HandlerMetrics interface {
	IncrementRateLimited(surface string)
}

var upgrader = websocket.Upgrader{
	// FUNCTIONAL DISCOVERY: clients are mobile apps without a stable origin;
	// the bearer token is the admission check.
	CheckOrigin:      func(*http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Handler admits authenticated relay connections and feeds each one's
// payloads to the router in arrival order.
type Handler struct {
	registry *Registry
	router   Router
	auth     Authenticator
	limiter  Limiter
	metrics  HandlerMetrics
	cfg      ConnectionConfig
	logger   *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLimiter rate limits connection attempts per identity.
func WithLimiter(l Limiter) HandlerOption {
	return func(h *Handler) { h.limiter = l }
}

// WithHandlerMetrics reports rate-limited attempts.
func WithHandlerMetrics(m HandlerMetrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithConnectionConfig overrides per-connection buffering and deadlines.
func WithConnectionConfig(cfg ConnectionConfig) HandlerOption {
	return func(h *Handler) { h.cfg = cfg }
}

// WithHandlerLogger sets the handler logger.
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates the relay endpoint handler.
func NewHandler(registry *Registry, rt Router, auth Authenticator, opts ...HandlerOption) *Handler {
	h := &Handler{
		registry: registry,
		router:   rt,
		auth:     auth,
		cfg:      DefaultConnectionConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "relay_handler")
	return h
}

// ServeHTTP authenticates, upgrades, registers and then reads until the
// peer leaves. Payloads are routed inline so one connection's messages are
// processed strictly in order.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.auth.Authenticate(BearerToken(r))
	if err != nil {
		h.logger.Info("relay connection refused", "remote_addr", r.RemoteAddr, "error", err)
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}

	if h.limiter != nil && !h.limiter.Allow(identity.UserID) {
		if h.metrics != nil {
			h.metrics.IncrementRateLimited("websocket")
		}
		w.Header().Set("Retry-After", "10")
		http.Error(w, "Too many connection attempts", http.StatusTooManyRequests)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", identity.UserID, "error", err)
		return
	}

	conn := NewConnection(ws, identity.UserID, h.cfg, h.logger)
	if err := h.registry.Connect(identity.UserID, conn); err != nil {
		h.logger.Error("register connection failed", "user_id", identity.UserID, "error", err)
		_ = conn.Close()
		return
	}
	defer func() {
		h.registry.Disconnect(identity.UserID, conn)
		_ = conn.Close()
	}()

	h.logger.Info("relay connection open", "user_id", identity.UserID, "role", identity.Role)
	_ = conn.ReadLoop(func(data []byte) {
		h.router.Route(conn.Context(), identity, data)
	})
	h.logger.Info("relay connection closed", "user_id", identity.UserID)
}

// BearerToken returns the token from the Authorization header, falling back
// to the token query parameter for clients that cannot set headers on an
// upgrade request.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// Upgrade performs the WebSocket handshake with the relay's upgrader
// settings. Other endpoints, such as the echo room, share it.
func Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return upgrader.Upgrade(w, r, nil)
}
