package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusrelay/internal/alert"
	"campusrelay/internal/router"
	"campusrelay/internal/safety"
	"campusrelay/pkg/interfaces"
	"campusrelay/pkg/types"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	closed atomic.Bool
	done   chan struct{}
	fail   bool
}

var _ interfaces.Connection = (*fakeConn)(nil)

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, done: make(chan struct{})}
}

func (f *fakeConn) UserID() string { return f.id }

func (f *fakeConn) Send(frame []byte) error {
	if f.closed.Load() {
		return ErrConnectionClosed
	}
	if f.fail {
		return ErrSendBufferFull
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeConn) Close() error {
	if f.closed.CompareAndSwap(false, true) {
		close(f.done)
	}
	return nil
}

func (f *fakeConn) Done() <-chan struct{} { return f.done }

func (f *fakeConn) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	for i, fr := range f.frames {
		out[i] = string(fr)
	}
	return out
}

type countingMetrics struct {
	active    atomic.Int64
	evictions atomic.Int64
}

func (m *countingMetrics) SetActiveConnections(_ string, n int) { m.active.Store(int64(n)) }
func (m *countingMetrics) IncrementEvictions()                  { m.evictions.Add(1) }

func TestRegistry_ConnectValidation(t *testing.T) {
	r := NewRelayRegistry()

	assert.ErrorIs(t, r.Connect("s1", nil), ErrNilConnection)
	assert.ErrorIs(t, r.Connect("", newFakeConn("")), ErrEmptyIdentity)
	assert.Zero(t, r.Len())
}

func TestRegistry_ReconnectEvictsPrevious(t *testing.T) {
	m := &countingMetrics{}
	r := NewRelayRegistry(WithMetrics(m))
	first, second := newFakeConn("s1"), newFakeConn("s1")

	require.NoError(t, r.Connect("s1", first))
	require.NoError(t, r.Connect("s1", second))

	assert.True(t, first.closed.Load(), "old connection is closed on eviction")
	assert.False(t, second.closed.Load())
	assert.Equal(t, 1, r.Len())
	assert.EqualValues(t, 1, m.evictions.Load())
	assert.EqualValues(t, 1, m.active.Load())

	got, ok := r.Get("s1")
	require.True(t, ok)
	assert.Same(t, second, got)
}

// slowCloseConn blocks in Close until release is closed.
type slowCloseConn struct {
	*fakeConn
	closing chan struct{}
	release chan struct{}
}

func (s *slowCloseConn) Close() error {
	close(s.closing)
	<-s.release
	return s.fakeConn.Close()
}

func TestRegistry_EvictionCloseDoesNotHoldShard(t *testing.T) {
	r := NewRelayRegistry(WithShards(1))
	old := &slowCloseConn{fakeConn: newFakeConn("s1"), closing: make(chan struct{}), release: make(chan struct{})}
	neighbour := newFakeConn("c1")
	require.NoError(t, r.Connect("s1", old))
	require.NoError(t, r.Connect("c1", neighbour))

	replacement := newFakeConn("s1")
	connected := make(chan error, 1)
	go func() { connected <- r.Connect("s1", replacement) }()

	select {
	case <-old.closing:
	case <-time.After(2 * time.Second):
		t.Fatal("evicted connection was never closed")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		got, ok := r.Get("s1")
		assert.True(t, ok)
		assert.Same(t, replacement, got, "replacement is visible while the old socket closes")
		assert.True(t, r.Send("c1", []byte("hello")))
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shard stayed locked while closing the evicted connection")
	}

	close(old.release)
	require.NoError(t, <-connected)
	assert.True(t, old.closed.Load())
	assert.Equal(t, []string{"hello"}, neighbour.received())
	assert.Equal(t, 2, r.Len())
}

type campusDirectory map[string]types.Participant

func (d campusDirectory) ResolveParticipant(_ context.Context, userID string) (types.Participant, error) {
	p, ok := d[userID]
	if !ok {
		return types.Participant{}, interfaces.ErrNotFound
	}
	return p, nil
}

func (d campusDirectory) LookupRecipient(_ context.Context, role types.Role, userID, campusID string) (types.Participant, error) {
	p, ok := d[userID]
	if !ok || p.Role != role || p.CampusID != campusID {
		return types.Participant{}, interfaces.ErrNotFound
	}
	return p, nil
}

func TestRegistry_StuckRecipientLeavesMessagePending(t *testing.T) {
	stuck, _ := stuckConnection(t)
	r := NewRelayRegistry()
	sender := newFakeConn("s1")
	require.NoError(t, r.Connect("c1", stuck))
	require.NoError(t, r.Connect("s1", sender))

	start := time.Now()
	assert.False(t, r.Send("c1", []byte("hello")), "a full recipient is unreachable")
	assert.Less(t, time.Since(start), time.Second)

	classifier, err := safety.NewDefaultClassifier()
	require.NoError(t, err)
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := router.New(router.Deps{
		Sender:    r,
		Directory: campusDirectory{
			"s1": {UserID: "s1", CampusID: "ug", Role: types.RoleStudent},
			"c1": {UserID: "c1", Name: "Ms Adjei", CampusID: "ug", Role: types.RoleCounselor},
		},
		Classifier: classifier,
		Alerter:    alert.NewLogAlerter(quiet, alert.Contacts{}),
		Logger:     quiet,
	})

	start = time.Now()
	out := rt.Route(context.Background(), types.Identity{UserID: "s1", Role: types.RoleStudent},
		[]byte(`{"recipient_user_id":"c1","message":"are you there?","message_id":"m-1"}`))
	assert.Less(t, time.Since(start), time.Second, "routing is bounded by the enqueue timeout")

	assert.Equal(t, types.StatusPending, out.Status)
	assert.True(t, out.Acknowledged)
	frames := sender.received()
	require.Len(t, frames, 1)
	var receipt map[string]any
	require.NoError(t, json.Unmarshal([]byte(frames[0]), &receipt))
	assert.Equal(t, "m-1", receipt["message_id"])
	assert.Equal(t, "pending", receipt["status"])
}

func TestRegistry_StaleDisconnectIsIgnored(t *testing.T) {
	r := NewRelayRegistry()
	first, second := newFakeConn("s1"), newFakeConn("s1")
	require.NoError(t, r.Connect("s1", first))
	require.NoError(t, r.Connect("s1", second))

	assert.False(t, r.Disconnect("s1", first), "evicted connection must not remove its replacement")
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Disconnect("s1", second))
	assert.Zero(t, r.Len())
	assert.False(t, r.Disconnect("s1", second))
}

func TestRegistry_SendReportsReachability(t *testing.T) {
	r := NewRelayRegistry()
	conn := newFakeConn("c1")
	require.NoError(t, r.Connect("c1", conn))

	assert.True(t, r.Send("c1", []byte("hello")))
	assert.False(t, r.Send("c2", []byte("hello")))

	conn.fail = true
	assert.False(t, r.Send("c1", []byte("dropped")))
	assert.Equal(t, []string{"hello"}, conn.received())
}

func TestRegistry_DeliverPolicies(t *testing.T) {
	t.Run("targeted", func(t *testing.T) {
		r := NewRelayRegistry()
		a, b := newFakeConn("a"), newFakeConn("b")
		require.NoError(t, r.Connect("a", a))
		require.NoError(t, r.Connect("b", b))

		assert.Equal(t, 1, r.Deliver("a", "b", []byte("x")))
		assert.Equal(t, 0, r.Deliver("a", "nobody", []byte("y")))
		assert.Empty(t, a.received())
		assert.Equal(t, []string{"x"}, b.received())
	})

	t.Run("broadcast excludes sender", func(t *testing.T) {
		r := NewEchoRegistry()
		conns := map[string]*fakeConn{}
		for _, id := range []string{"a", "b", "c"} {
			conns[id] = newFakeConn(id)
			require.NoError(t, r.Connect(id, conns[id]))
		}

		assert.Equal(t, 2, r.Deliver("a", "", []byte("hi")))
		assert.Empty(t, conns["a"].received())
		assert.Equal(t, []string{"hi"}, conns["b"].received())
		assert.Equal(t, []string{"hi"}, conns["c"].received())
	})
}

func TestRegistry_StatsAndCloseAll(t *testing.T) {
	m := &countingMetrics{}
	r := NewRegistry("test", PolicyBroadcast, WithShards(4), WithMetrics(m))
	var conns []*fakeConn
	for i := 0; i < 10; i++ {
		c := newFakeConn(fmt.Sprintf("u%d", i))
		conns = append(conns, c)
		require.NoError(t, r.Connect(c.id, c))
	}

	stats := r.Stats()
	assert.Equal(t, "test", stats.Name)
	assert.Equal(t, "broadcast", stats.Policy)
	assert.Equal(t, 10, stats.Connections)
	assert.Len(t, stats.Shards, 4)

	r.CloseAll()
	assert.Zero(t, r.Len())
	assert.EqualValues(t, 0, m.active.Load())
	for _, c := range conns {
		assert.True(t, c.closed.Load())
	}
}

func TestRegistry_ConcurrentReconnectsKeepOneLiveConnection(t *testing.T) {
	r := NewRelayRegistry()
	const identities, attempts = 8, 25

	var wg sync.WaitGroup
	for i := 0; i < identities; i++ {
		for j := 0; j < attempts; j++ {
			j := j
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				c := newFakeConn(id)
				_ = r.Connect(id, c)
				r.Send(id, []byte("ping"))
				if j%3 == 0 {
					r.Disconnect(id, c)
				}
			}(fmt.Sprintf("user-%d", i))
		}
	}
	wg.Wait()

	assert.Equal(t, r.Stats().Connections, r.Len())
	for i := 0; i < identities; i++ {
		if c, ok := r.Get(fmt.Sprintf("user-%d", i)); ok {
			assert.False(t, c.(*fakeConn).closed.Load(), "registered connection is live")
		}
	}
}

func TestDeliveryPolicy_String(t *testing.T) {
	assert.Equal(t, "targeted", PolicyTargeted.String())
	assert.Equal(t, "broadcast", PolicyBroadcast.String())
}
