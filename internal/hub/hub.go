// Package hub runs the open echo room: every client's text is fanned out
// to everyone else in the room, with join and leave notices.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"campusrelay/internal/websocket"
	"campusrelay/pkg/interfaces"
	"campusrelay/pkg/types"
)

type opKind int

const (
	opJoin opKind = iota
	opLeave
	opPublish
)

// op is one membership change or post. All three share a queue so they
// are applied in the order callers issued them.
type op struct {
	kind     opKind
	clientID string
	conn     interfaces.Connection
	text     string
	reply    chan error
}

// Hub serializes membership changes and posts through one goroutine, so
// every member observes notices and messages in the same order.
// ARCHITECTURAL DISCOVERY: the registry already guards its own map; the
// run loop orders membership changes against posts.
type Hub struct {
	registry *websocket.Registry
	cfg      websocket.ConnectionConfig
	logger   *slog.Logger

	ops chan op

	mu      sync.RWMutex
	running bool
	quit    chan struct{}
	stopped chan struct{}
}

// NewHub creates a stopped hub over an echo registry.
func NewHub(registry *websocket.Registry, cfg websocket.ConnectionConfig, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		registry: registry,
		cfg:      cfg,
		logger:   logger.With("component", "echo_hub"),
		ops:      make(chan op, 1000),
	}
}

// Start launches the run loop. It stops when Stop is called or ctx ends.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.quit = make(chan struct{})
	h.stopped = make(chan struct{})
	go h.run(ctx, h.quit, h.stopped)
	h.logger.Info("echo hub started")
	return nil
}

// Stop ends the run loop and waits for it to exit.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.quit)
	stopped := h.stopped
	h.mu.Unlock()

	<-stopped
	h.logger.Info("echo hub stopped")
	return nil
}

// Running reports whether the run loop is active.
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Join registers conn for clientID and announces it to the room.
func (h *Hub) Join(clientID string, conn interfaces.Connection) error {
	stopped, err := h.loop()
	if err != nil {
		return err
	}
	req := op{kind: opJoin, clientID: clientID, conn: conn, reply: make(chan error, 1)}
	if err := h.enqueue(stopped, req); err != nil {
		return err
	}
	select {
	case err := <-req.reply:
		return err
	case <-stopped:
		return ErrHubNotRunning
	}
}

// Leave removes conn if it is still clientID's connection and announces
// the departure.
func (h *Hub) Leave(clientID string, conn interfaces.Connection) error {
	stopped, err := h.loop()
	if err != nil {
		return err
	}
	return h.enqueue(stopped, op{kind: opLeave, clientID: clientID, conn: conn})
}

// Publish fans text from clientID out to every other member.
func (h *Hub) Publish(clientID, text string) error {
	stopped, err := h.loop()
	if err != nil {
		return err
	}
	return h.enqueue(stopped, op{kind: opPublish, clientID: clientID, text: text})
}

func (h *Hub) loop() (<-chan struct{}, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return nil, ErrHubNotRunning
	}
	return h.stopped, nil
}

func (h *Hub) enqueue(stopped <-chan struct{}, o op) error {
	select {
	case h.ops <- o:
		return nil
	case <-stopped:
		return ErrHubNotRunning
	}
}

func (h *Hub) run(ctx context.Context, quit <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	for {
		select {
		case o := <-h.ops:
			h.apply(o)
		case <-quit:
			return
		case <-ctx.Done():
			h.mu.Lock()
			if h.quit == quit {
				h.running = false
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) apply(o op) {
	switch o.kind {
	case opJoin:
		err := h.registry.Connect(o.clientID, o.conn)
		o.reply <- err
		if err == nil {
			h.announce(o.clientID, fmt.Sprintf("Client '%s' joined the chat.", o.clientID))
		}
	case opLeave:
		if h.registry.Disconnect(o.clientID, o.conn) {
			h.announce(o.clientID, fmt.Sprintf("Client '%s' left the chat.", o.clientID))
		}
	case opPublish:
		n := h.registry.Deliver(o.clientID, "", []byte(o.clientID+": "+o.text))
		h.logger.Debug("echo fan-out", "user_id", o.clientID, "delivered", n)
	}
}

func (h *Hub) announce(clientID, notice string) {
	h.registry.Deliver(clientID, "", []byte(notice))
	h.logger.Info(notice, "user_id", clientID, "members", h.registry.Len())
}

// ServeClient upgrades r and keeps clientID in the room until the socket
// closes.
func (h *Hub) ServeClient(w http.ResponseWriter, r *http.Request, clientID string) {
	if !types.IsValidUserID(clientID) {
		http.Error(w, "Invalid client id", http.StatusBadRequest)
		return
	}
	if !h.Running() {
		http.Error(w, "Echo room unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := websocket.Upgrade(w, r)
	if err != nil {
		h.logger.Warn("echo upgrade failed", "user_id", clientID, "error", err)
		return
	}
	conn := websocket.NewConnection(ws, clientID, h.cfg, h.logger)
	if err := h.Join(clientID, conn); err != nil {
		_ = conn.Close()
		return
	}
	defer func() {
		if err := h.Leave(clientID, conn); err != nil {
			h.registry.Disconnect(clientID, conn)
		}
		_ = conn.Close()
	}()

	_ = conn.ReadLoop(func(data []byte) {
		if err := h.Publish(clientID, string(data)); err != nil {
			h.logger.Debug("echo publish dropped", "user_id", clientID, "error", err)
		}
	})
}
