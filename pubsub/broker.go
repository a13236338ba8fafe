package pubsub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Op is the kind of delta pushed for one record of a subscription.
type Op string

const (
	OpAdded   Op = "added"
	OpChanged Op = "changed"
	OpRemoved Op = "removed"
)

const (
	EventReady = "ready"
	EventNoSub = "nosub"
)

var ErrClosed = errors.New("pubsub: connection closed")

// Change is a committed mutation of one record. Removed marks a deletion,
// Doc is ignored then.
type Change struct {
	Collection string
	ID         string
	Doc        any
	Removed    bool
}

// Record is a row of an initial snapshot.
type Record struct {
	ID  string
	Doc any
}

// Delta is the payload of added, changed and removed events.
type Delta struct {
	Sub        string `json:"sub"`
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Doc        any    `json:"doc,omitempty"`
}

type Ready struct {
	Sub string `json:"sub"`
}

// NoSub ends a subscription. Error is set when it was refused.
type NoSub struct {
	ID    string `json:"id"`
	Error any    `json:"error,omitempty"`
}

// Query scopes a subscription to the records of one collection accepted by
// Match. Transform, when set, renders the doc for the subscriber.
//
// Revoke is consulted for every change of the Watch collection. When it
// returns true the subscriber lost access: its records are removed and the
// subscription ends with nosub.
type Query struct {
	Collection string
	Match      func(doc any) bool
	Transform  func(doc any) any

	Watch  string
	Revoke func(ch Change) bool
}

func (q Query) matches(doc any) bool {
	return q.Match == nil || q.Match(doc)
}

func (q Query) revokes(ch Change) bool {
	return q.Revoke != nil && q.Watch == ch.Collection && q.Revoke(ch)
}

func (q Query) render(doc any) any {
	if q.Transform == nil {
		return doc
	}
	return q.Transform(doc)
}

// Sink is the transport of one client connection.
type Sink interface {
	Send(event string, payload any) error
	Close()
}

// Broker fans committed changes out to the live subscriptions of every
// connected client.
type Broker struct {
	log       *slog.Logger
	queueSize int

	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewBroker(log *slog.Logger, queueSize int) *Broker {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Broker{
		log:       log,
		queueSize: queueSize,
		conns:     make(map[string]*Conn),
	}
}

// Connect registers a connection and starts its writer. A previous
// connection with the same id is closed.
func (b *Broker) Connect(id, userID string, sink Sink) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:     id,
		userID: userID,
		broker: b,
		sink:   sink,
		queue:  make(chan outbound, b.queueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		subs:   make(map[string]*subscription),
	}

	b.mu.Lock()
	old := b.conns[id]
	b.conns[id] = c
	b.mu.Unlock()

	if old != nil {
		old.Close()
	}

	go c.writeLoop()
	return c
}

func (b *Broker) Conn(id string) (*Conn, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.conns[id]
	return c, ok
}

// Disconnect closes the connection and frees all of its subscriptions.
func (b *Broker) Disconnect(id string) {
	if c, ok := b.Conn(id); ok {
		c.Close()
	}
}

func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}

// Publish evaluates changes against every live subscription and queues the
// resulting deltas. It never blocks on a slow client.
func (b *Broker) Publish(changes ...Change) {
	if len(changes) == 0 {
		return
	}

	b.mu.RLock()
	conns := make([]*Conn, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.RUnlock()

	for _, c := range conns {
		c.apply(changes)
	}
}

func (b *Broker) remove(c *Conn) {
	b.mu.Lock()
	if b.conns[c.id] == c {
		delete(b.conns, c.id)
	}
	b.mu.Unlock()
}
