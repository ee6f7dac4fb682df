// Package ws – connection registry.
//
// The Registry tracks zero-or-more live connections per user id and delivers
// events to all of them. Delivery is best-effort: a connection whose outbound
// queue is full or whose reader has gone away is pruned during the publish
// attempt, and a peer with no live connection simply misses events generated
// while absent.
package ws

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// wsConnections gauges the number of live inbox connections across all users.
var wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "ws_connections_active",
	Help: "Current number of live WebSocket inbox connections.",
})

func init() {
	prometheus.MustRegister(wsConnections)
}

// connection is one live session's outbound leg. The registry owns it from
// Connect until Disconnect or a failed publish.
type connection struct {
	id     uint64
	out    chan []byte
	closed atomic.Bool
}

// shut closes the outbound channel exactly once, regardless of whether the
// publisher or the transport loop loses the race to retire the connection.
func (c *connection) shut() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.out)
		wsConnections.Dec()
	}
}

// userConns is the per-user slot. gone marks a slot that has been unlinked
// from the map so racing Connect calls know to start a fresh one.
type userConns struct {
	mu   sync.Mutex
	list []*connection
	gone bool
}

// Registry fans out events to every live connection of a user.
//
// All methods are safe to call concurrently; per-user mutation is guarded by
// the slot mutex while unrelated users never contend.
type Registry struct {
	slots      sync.Map // userID -> *userConns
	nextID     atomic.Uint64
	sendBuffer int
}

// NewRegistry constructs a Registry whose connections buffer up to sendBuffer
// outbound frames. Values < 1 are coerced to 1.
func NewRegistry(sendBuffer int) *Registry {
	if sendBuffer < 1 {
		sendBuffer = 1
	}
	return &Registry{sendBuffer: sendBuffer}
}

// Connect registers a new live connection for userID and returns its id plus
// the stream the transport layer forwards to the remote peer. The returned
// channel is closed when the connection is disconnected or pruned.
func (r *Registry) Connect(userID string) (uint64, <-chan []byte) {
	c := &connection{
		id:  r.nextID.Add(1),
		out: make(chan []byte, r.sendBuffer),
	}

	for {
		v, _ := r.slots.LoadOrStore(userID, &userConns{})
		slot := v.(*userConns)
		slot.mu.Lock()
		if slot.gone {
			// Lost a race with the removal of the last connection; the slot
			// is already unlinked, so retry against a fresh one.
			slot.mu.Unlock()
			continue
		}
		slot.list = append(slot.list, c)
		slot.mu.Unlock()
		break
	}

	wsConnections.Inc()
	return c.id, c.out
}

// Disconnect removes exactly the identified connection. When it was the last
// one for userID the user's slot is removed entirely, so connection churn
// does not grow the table.
func (r *Registry) Disconnect(userID string, connID uint64) {
	v, ok := r.slots.Load(userID)
	if !ok {
		return
	}
	slot := v.(*userConns)

	slot.mu.Lock()
	kept := slot.list[:0]
	var removed *connection
	for _, c := range slot.list {
		if c.id == connID {
			removed = c
			continue
		}
		kept = append(kept, c)
	}
	slot.list = kept
	if len(slot.list) == 0 {
		slot.gone = true
		r.slots.Delete(userID)
	}
	slot.mu.Unlock()

	if removed != nil {
		removed.shut()
	}
}

// Publish delivers the event to every live connection for userID. Publishing
// to a user with no connections is a no-op. A connection that cannot accept
// the frame (queue full, reader gone) is dropped as a side effect; the
// publisher itself never fails.
func (r *Registry) Publish(userID string, ev Event) {
	v, ok := r.slots.Load(userID)
	if !ok {
		return
	}
	slot := v.(*userConns)

	payload, err := Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event", ev.EventName()).Msg("ws event marshal failed")
		return
	}

	var dropped []*connection
	slot.mu.Lock()
	kept := slot.list[:0]
	for _, c := range slot.list {
		if c.closed.Load() {
			dropped = append(dropped, c)
			continue
		}
		select {
		case c.out <- payload:
			kept = append(kept, c)
		default:
			// Slow or dead consumer: drop it rather than block fan-out.
			dropped = append(dropped, c)
		}
	}
	slot.list = kept
	if len(slot.list) == 0 {
		slot.gone = true
		r.slots.Delete(userID)
	}
	slot.mu.Unlock()

	for _, c := range dropped {
		c.shut()
	}
	if len(dropped) > 0 {
		log.Debug().
			Str("user_id", userID).
			Int("dropped", len(dropped)).
			Str("event", ev.EventName()).
			Msg("pruned unresponsive ws connections")
	}
}

// Connections reports how many live connections userID currently has.
func (r *Registry) Connections(userID string) int {
	v, ok := r.slots.Load(userID)
	if !ok {
		return 0
	}
	slot := v.(*userConns)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return len(slot.list)
}
