package websocket

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"campusrelay/pkg/interfaces"
)

// DeliveryPolicy decides who receives a frame passed to Deliver.
type DeliveryPolicy int

const (
	// PolicyTargeted delivers to the named recipient only.
	PolicyTargeted DeliveryPolicy = iota
	// PolicyBroadcast delivers to every live connection except the sender.
	PolicyBroadcast
)

func (p DeliveryPolicy) String() string {
	if p == PolicyBroadcast {
		return "broadcast"
	}
	return "targeted"
}

const defaultShardCount = 16

// RegistryMetrics receives registry size changes and evictions.
type RegistryMetrics interface {
	SetActiveConnections(registry string, n int)
	IncrementEvictions()
}

// Registry maps identities to their single live connection.
// ARCHITECTURAL DISCOVERY: locks are sharded by identity hash, so connects
// and lookups for different identities rarely contend while operations on
// one identity are fully serialized.
type Registry struct {
	name    string
	policy  DeliveryPolicy
	shards  []*shard
	count   atomic.Int64
	logger  *slog.Logger
	metrics RegistryMetrics
}

type shard struct {
	mu    sync.RWMutex
	conns map[string]interfaces.Connection
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics reports size and eviction counts to m.
func WithMetrics(m RegistryMetrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithShards overrides the shard count. Values below one are ignored.
func WithShards(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.shards = newShards(n)
		}
	}
}

// NewRegistry creates an empty registry with the given delivery policy.
func NewRegistry(name string, policy DeliveryPolicy, opts ...RegistryOption) *Registry {
	r := &Registry{
		name:   name,
		policy: policy,
		shards: newShards(defaultShardCount),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("registry", name)
	return r
}

// NewRelayRegistry is the targeted registry used by the counselling relay.
func NewRelayRegistry(opts ...RegistryOption) *Registry {
	return NewRegistry("relay", PolicyTargeted, opts...)
}

// NewEchoRegistry is the broadcast registry used by the open echo room.
func NewEchoRegistry(opts ...RegistryOption) *Registry {
	return NewRegistry("echo", PolicyBroadcast, opts...)
}

func newShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{conns: make(map[string]interfaces.Connection)}
	}
	return shards
}

func (r *Registry) shardFor(identity string) *shard {
	return r.shards[xxhash.Sum64String(identity)%uint64(len(r.shards))]
}

// Policy returns the registry's delivery policy.
func (r *Registry) Policy() DeliveryPolicy { return r.policy }

// Connect registers conn as the live connection for identity. A previous
// connection for the same identity is swapped out under the shard lock and
// closed after the lock is released, before Connect returns.
func (r *Registry) Connect(identity string, conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if identity == "" {
		return ErrEmptyIdentity
	}

	s := r.shardFor(identity)
	s.mu.Lock()
	old, exists := s.conns[identity]
	s.conns[identity] = conn
	s.mu.Unlock()

	if exists && old != conn {
		// Closing writes a close frame with a deadline; no shard lock is held.
		if err := old.Close(); err != nil {
			r.logger.Debug("closing evicted connection", "user_id", identity, "error", err)
		}
		if r.metrics != nil {
			r.metrics.IncrementEvictions()
		}
		r.logger.Info("connection evicted by reconnect", "user_id", identity)
	}

	if !exists {
		r.count.Add(1)
	}
	r.reportSize()
	return nil
}

// Disconnect removes identity only while conn is still the registered
// connection. It reports whether an entry was removed.
func (r *Registry) Disconnect(identity string, conn interfaces.Connection) bool {
	s := r.shardFor(identity)
	s.mu.Lock()
	current, exists := s.conns[identity]
	if !exists || current != conn {
		s.mu.Unlock()
		return false
	}
	delete(s.conns, identity)
	s.mu.Unlock()

	r.count.Add(-1)
	r.reportSize()
	return true
}

// Get returns the live connection for identity.
func (r *Registry) Get(identity string) (interfaces.Connection, bool) {
	s := r.shardFor(identity)
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[identity]
	return conn, ok
}

// Send enqueues frame on identity's live connection and reports whether the
// identity was reachable.
func (r *Registry) Send(identity string, frame []byte) bool {
	conn, ok := r.Get(identity)
	if !ok {
		return false
	}
	if err := conn.Send(frame); err != nil {
		r.logger.Debug("send failed", "user_id", identity, "error", err)
		return false
	}
	return true
}

// Broadcast enqueues frame on every live connection except exclude and
// returns how many accepted it.
func (r *Registry) Broadcast(frame []byte, exclude string) int {
	delivered := 0
	for identity, conn := range r.snapshot() {
		if identity == exclude {
			continue
		}
		if err := conn.Send(frame); err != nil {
			r.logger.Debug("broadcast send failed", "user_id", identity, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Deliver routes frame according to the registry's policy and returns the
// number of connections that accepted it.
func (r *Registry) Deliver(from, to string, frame []byte) int {
	if r.policy == PolicyBroadcast {
		return r.Broadcast(frame, from)
	}
	if r.Send(to, frame) {
		return 1
	}
	return 0
}

// Len returns the number of registered identities.
func (r *Registry) Len() int { return int(r.count.Load()) }

// RegistryStats is a point-in-time view for health reporting.
type RegistryStats struct {
	Name        string `json:"name"`
	Policy      string `json:"policy"`
	Connections int    `json:"connections"`
	Shards      []int  `json:"shards"`
}

// Stats returns the connection count and per-shard sizes.
func (r *Registry) Stats() RegistryStats {
	stats := RegistryStats{Name: r.name, Policy: r.policy.String(), Shards: make([]int, len(r.shards))}
	for i, s := range r.shards {
		s.mu.RLock()
		stats.Shards[i] = len(s.conns)
		s.mu.RUnlock()
		stats.Connections += stats.Shards[i]
	}
	return stats
}

// CloseAll closes and removes every registered connection.
func (r *Registry) CloseAll() {
	for _, s := range r.shards {
		s.mu.Lock()
		for identity, conn := range s.conns {
			_ = conn.Close()
			delete(s.conns, identity)
			r.count.Add(-1)
		}
		s.mu.Unlock()
	}
	r.reportSize()
}

func (r *Registry) snapshot() map[string]interfaces.Connection {
	out := make(map[string]interfaces.Connection, r.Len())
	for _, s := range r.shards {
		s.mu.RLock()
		for identity, conn := range s.conns {
			out[identity] = conn
		}
		s.mu.RUnlock()
	}
	return out
}

func (r *Registry) reportSize() {
	if r.metrics != nil {
		r.metrics.SetActiveConnections(r.name, r.Len())
	}
}
