package pubsub

import (
	"context"
	"log/slog"
	"sync"
)

type outbound struct {
	event   string
	payload any
}

type subscription struct {
	id    string
	query Query
	known map[string]struct{}

	// touched collects ids changed while the initial snapshot is loading.
	// Their published state is newer than the snapshot.
	loading bool
	touched map[string]struct{}

	revoked bool
}

// Conn is one client connection. Deltas are queued under mu, so a single
// connection observes them in publish order.
type Conn struct {
	id     string
	userID string
	broker *Broker
	sink   Sink

	queue  chan outbound
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	closed   bool
	overflow bool
	subs     map[string]*subscription
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }

// Done is closed once the writer has stopped.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Subscribe registers subscription id, loads its initial records and pushes
// them followed by ready. Changes published while load runs are not lost.
// Re-using a live id replaces that subscription; its records are removed
// first.
func (c *Conn) Subscribe(id string, q Query, load func() ([]Record, error)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if old, ok := c.subs[id]; ok {
		c.drop(old)
	}
	sub := &subscription{
		id:      id,
		query:   q,
		known:   make(map[string]struct{}),
		loading: true,
		touched: make(map[string]struct{}),
	}
	c.subs[id] = sub
	c.mu.Unlock()

	var records []Record
	if load != nil {
		var err error
		if records, err = load(); err != nil {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub.revoked {
				return nil
			}
			if c.subs[id] == sub {
				delete(c.subs, id)
			}
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if sub.revoked {
		return nil
	}
	if c.closed || c.subs[id] != sub {
		return ErrClosed
	}
	for _, r := range records {
		if _, ok := sub.touched[r.ID]; ok {
			continue
		}
		if _, ok := sub.known[r.ID]; ok || !q.matches(r.Doc) {
			continue
		}
		sub.known[r.ID] = struct{}{}
		c.enqueue(string(OpAdded), Delta{Sub: id, Collection: q.Collection, ID: r.ID, Doc: q.render(r.Doc)})
	}
	sub.loading = false
	sub.touched = nil
	c.enqueue(EventReady, Ready{Sub: id})
	return nil
}

// Unsubscribe stops subscription id and frees its tracking.
func (c *Conn) Unsubscribe(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[id]; !ok {
		return false
	}
	delete(c.subs, id)
	if !c.closed {
		c.enqueue(EventNoSub, NoSub{ID: id})
	}
	return true
}

// Reject tells the client subscription id will not run. reason is sent
// along as the error.
func (c *Conn) Reject(id string, reason any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.enqueue(EventNoSub, NoSub{ID: id, Error: reason})
	}
}

// Subscriptions reports the number of live subscriptions.
func (c *Conn) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Known reports the record ids subscription id currently tracks.
func (c *Conn) Known(id string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[id]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(sub.known))
	for k := range sub.known {
		ids = append(ids, k)
	}
	return ids
}

// Closed reports whether the connection was closed or dropped.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.overflow
}

// Close stops further pushes and drops every subscription.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.subs = make(map[string]*subscription)
	c.mu.Unlock()

	c.cancel()
	c.broker.remove(c)
}

func (c *Conn) apply(changes []Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	for _, ch := range changes {
		for _, sub := range c.subs {
			if sub.query.revokes(ch) {
				c.revoke(sub)
				continue
			}
			if sub.query.Collection != ch.Collection {
				continue
			}
			if sub.loading {
				sub.touched[ch.ID] = struct{}{}
			}

			_, known := sub.known[ch.ID]
			matches := !ch.Removed && sub.query.matches(ch.Doc)
			delta := Delta{Sub: sub.id, Collection: ch.Collection, ID: ch.ID}

			switch {
			case matches && !known:
				sub.known[ch.ID] = struct{}{}
				delta.Doc = sub.query.render(ch.Doc)
				c.enqueue(string(OpAdded), delta)
			case matches && known:
				delta.Doc = sub.query.render(ch.Doc)
				c.enqueue(string(OpChanged), delta)
			case !matches && known:
				delete(sub.known, ch.ID)
				c.enqueue(string(OpRemoved), delta)
			}
		}
	}
}

// drop removes every record sub has pushed. Called with mu held.
func (c *Conn) drop(sub *subscription) {
	for id := range sub.known {
		c.enqueue(string(OpRemoved), Delta{Sub: sub.id, Collection: sub.query.Collection, ID: id})
	}
	sub.known = make(map[string]struct{})
}

// revoke ends sub after its subscriber lost access. Called with mu held.
func (c *Conn) revoke(sub *subscription) {
	sub.revoked = true
	delete(c.subs, sub.id)
	c.drop(sub)
	c.enqueue(EventNoSub, NoSub{ID: sub.id})
}

// enqueue must be called with mu held. A full queue means the client can no
// longer keep up in order, so the connection is dropped.
func (c *Conn) enqueue(event string, payload any) {
	if c.overflow {
		return
	}
	select {
	case c.queue <- outbound{event: event, payload: payload}:
	default:
		c.overflow = true
		c.broker.log.Warn("push queue full, dropping connection",
			slog.String("conn", c.id),
			slog.String("user", c.userID),
		)
		c.cancel()
	}
}

func (c *Conn) writeLoop() {
	defer func() {
		close(c.done)
		c.mu.Lock()
		overflow := c.overflow
		c.closed = true
		c.subs = make(map[string]*subscription)
		c.mu.Unlock()
		c.broker.remove(c)
		if overflow {
			c.sink.Close()
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case m := <-c.queue:
			if err := c.sink.Send(m.event, m.payload); err != nil {
				c.broker.log.Warn("push failed",
					slog.String("conn", c.id),
					slog.String("event", m.event),
					slog.Any("error", err),
				)
				c.cancel()
				return
			}
		}
	}
}
