// Package bus is the in-process publish/subscribe fabric connecting the
// deployment sequencer, the HAL, and the status LEDs. Topics are slash-free
// token paths ("minion", "status"); "+" matches exactly one token. Retained
// messages are replayed to late subscribers so services can start in any
// order.
package bus

import (
	"sync"
)

// Wildcard matches exactly one topic token in a subscription.
const Wildcard = "+"

// Topic is a sequence of string tokens.
type Topic []string

// T is a convenience constructor: bus.T("minion", "status").
func T(tokens ...string) Topic { return Topic(tokens) }

// Equal reports whether two topics are token-for-token identical.
func (t Topic) Equal(o Topic) bool {
	if len(t) != len(o) {
		return false
	}
	for i := range t {
		if t[i] != o[i] {
			return false
		}
	}
	return true
}

// Message is a single bus delivery.
type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
}

// Subscription is a single topic filter owned by a Connection.
type Subscription struct {
	filter Topic
	ch     chan *Message
	conn   *Connection
}

func (s *Subscription) Filter() Topic            { return s.filter }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// node is one level of the subscription/retained trie.
type node struct {
	children map[string]*node
	subs     []*Subscription
	retained *Message
}

// Bus routes messages between connections.
type Bus struct {
	mu   sync.RWMutex
	root *node
	qLen int
}

// NewBus creates a bus with the given per-subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8 // safe default
	}
	return &Bus{root: &node{}, qLen: queueLen}
}

// NewMessage builds a message. Kept as a constructor so payload policy
// (copying, validation) can change in one place.
func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

func (b *Bus) addSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	for _, tok := range sub.filter {
		if n.children == nil {
			n.children = make(map[string]*node)
		}
		child, ok := n.children[tok]
		if !ok {
			child = &node{}
			n.children[tok] = child
		}
		n = child
	}
	n.subs = append(n.subs, sub)

	// Replay retained messages matching the new filter.
	b.replayRetained(b.root, sub.filter, sub)
}

// replayRetained walks the trie following the filter (expanding wildcards)
// and delivers any retained message at matching leaves.
func (b *Bus) replayRetained(n *node, filter Topic, sub *Subscription) {
	if len(filter) == 0 {
		if n.retained != nil {
			deliver(sub, n.retained)
		}
		return
	}
	tok, rest := filter[0], filter[1:]
	if tok == Wildcard {
		for _, child := range n.children {
			b.replayRetained(child, rest, sub)
		}
		return
	}
	if child, ok := n.children[tok]; ok {
		b.replayRetained(child, rest, sub)
	}
}

// Publish delivers a message to every subscription whose filter matches the
// topic, then stores or clears the retained copy.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.match(b.root, msg.Topic, msg)

	if !msg.Retained {
		return
	}
	n := b.root
	for _, tok := range msg.Topic {
		if n.children == nil {
			n.children = make(map[string]*node)
		}
		child, ok := n.children[tok]
		if !ok {
			child = &node{}
			n.children[tok] = child
		}
		n = child
	}
	if msg.Payload == nil {
		n.retained = nil // nil payload clears the retained slot
	} else {
		n.retained = msg
	}
}

// match walks subscription branches: the literal token and the wildcard.
func (b *Bus) match(n *node, topic Topic, msg *Message) {
	if len(topic) == 0 {
		for _, sub := range n.subs {
			deliver(sub, msg)
		}
		return
	}
	if n.children == nil {
		return
	}
	tok, rest := topic[0], topic[1:]
	if child, ok := n.children[tok]; ok {
		b.match(child, rest, msg)
	}
	if child, ok := n.children[Wildcard]; ok {
		b.match(child, rest, msg)
	}
}

func deliver(sub *Subscription, msg *Message) {
	select {
	case sub.ch <- msg:
	default:
		// Queue full: drop the oldest so fresh state wins.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	var stack []*node
	for _, t := range sub.filter {
		if n.children == nil {
			return
		}
		child, ok := n.children[t]
		if !ok {
			return
		}
		stack = append(stack, n)
		n = child
	}

	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}

	// Prune empty nodes.
	for i := len(sub.filter) - 1; i >= 0; i-- {
		parent := stack[i]
		key := sub.filter[i]
		child := parent.children[key]
		if len(child.subs) == 0 && len(child.children) == 0 && child.retained == nil {
			delete(parent.children, key)
		} else {
			break
		}
	}
}

// Connection is a service's handle on the bus. It owns its subscriptions so
// Disconnect can release everything at once.
type Connection struct {
	bus  *Bus
	mu   sync.Mutex
	subs []*Subscription
	id   string
}

// NewConnection creates a connection bound to this bus.
func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

// ID returns the identifier given at connection time.
func (c *Connection) ID() string { return c.id }

// NewMessage builds a message via the owning bus.
func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return c.bus.NewMessage(topic, payload, retained)
}

// Publish sends a message via the bus.
func (c *Connection) Publish(msg *Message) { c.bus.Publish(msg) }

// Subscribe registers a subscription owned by this connection.
func (c *Connection) Subscribe(filter Topic) *Subscription {
	sub := &Subscription{
		filter: filter,
		ch:     make(chan *Message, c.bus.qLen),
		conn:   c,
	}
	c.bus.addSubscription(sub)
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription owned by this connection.
func (c *Connection) Unsubscribe(sub *Subscription) {
	c.bus.unsubscribe(sub)
	c.mu.Lock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	close(sub.ch)
}

// Disconnect closes all subscriptions and clears them.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		c.bus.unsubscribe(sub)
		close(sub.ch)
	}
}
