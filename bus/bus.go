// bus.go
package bus

import (
	"reflect"
	"sync"
)

// -----------------------------------------------------------------------------
// Topics
// -----------------------------------------------------------------------------

// Topic is a sequence of tokens. Tokens are strings or ints.
// "+" matches exactly one token; "#" matches the remainder (last token only).
type Topic []any

const (
	wildOne  = "+"
	wildRest = "#"
)

// T builds a topic from tokens. It panics on a token that cannot be used as
// a trie key.
func T(tokens ...any) Topic {
	for _, tok := range tokens {
		if tok == nil || !reflect.TypeOf(tok).Comparable() {
			panic("bus: topic token must be comparable")
		}
	}
	return Topic(tokens)
}

func (t Topic) Len() int { return len(t) }

// At returns the token at i, or nil when out of range.
func (t Topic) At(i int) any {
	if i < 0 || i >= len(t) {
		return nil
	}
	return t[i]
}

// Append returns a new topic with extra tokens.
func (t Topic) Append(tokens ...any) Topic {
	out := make(Topic, 0, len(t)+len(tokens))
	out = append(out, t...)
	return append(out, tokens...)
}

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription struct {
	topic Topic
	ch    chan *Message
	conn  *Connection // owning connection
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// -----------------------------------------------------------------------------
// Trie node
// -----------------------------------------------------------------------------

type node struct {
	children map[any]*node
	subs     []*Subscription
	retained *Message
}

func (n *node) child(tok any, create bool) *node {
	if c, ok := n.children[tok]; ok {
		return c
	}
	if !create {
		return nil
	}
	if n.children == nil {
		n.children = make(map[any]*node)
	}
	c := &node{}
	n.children[tok] = c
	return c
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

type Bus struct {
	mu   sync.RWMutex
	root *node
	qLen int
}

// NewBus creates a new bus with the given subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8 // safe default
	}
	return &Bus{
		root: &node{},
		qLen: queueLen,
	}
}

// NewMessage builds a message without an owning connection.
func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// addSubscription inserts a subscription into the trie and replays any
// retained messages its pattern matches.
func (b *Bus) addSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	for _, tok := range sub.topic {
		n = n.child(tok, true)
	}
	n.subs = append(n.subs, sub)

	collectRetained(b.root, sub.topic, func(m *Message) { deliver(sub, m) })
}

// collectRetained walks literal nodes matching pattern.
func collectRetained(n *node, pattern Topic, fn func(*Message)) {
	if len(pattern) == 0 {
		if n.retained != nil {
			fn(n.retained)
		}
		return
	}
	switch pattern[0] {
	case wildRest:
		walkAll(n, fn)
	case wildOne:
		for _, c := range n.children {
			collectRetained(c, pattern[1:], fn)
		}
	default:
		if c := n.child(pattern[0], false); c != nil {
			collectRetained(c, pattern[1:], fn)
		}
	}
}

func walkAll(n *node, fn func(*Message)) {
	if n.retained != nil {
		fn(n.retained)
	}
	for _, c := range n.children {
		walkAll(c, fn)
	}
}

// Publish delivers a message to all subscribers whose pattern matches its topic.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	matchSubs(b.root, msg.Topic, func(s *Subscription) { deliver(s, msg) })

	if !msg.Retained {
		return
	}
	n := b.root
	for _, tok := range msg.Topic {
		n = n.child(tok, true)
	}
	// Store or clear retained message.
	if msg.Payload == nil {
		n.retained = nil
	} else {
		n.retained = msg
	}
}

func matchSubs(n *node, topic Topic, fn func(*Subscription)) {
	if c := n.child(wildRest, false); c != nil {
		for _, s := range c.subs {
			fn(s)
		}
	}
	if len(topic) == 0 {
		for _, s := range n.subs {
			fn(s)
		}
		return
	}
	if c := n.child(topic[0], false); c != nil {
		matchSubs(c, topic[1:], fn)
	}
	if c := n.child(wildOne, false); c != nil {
		matchSubs(c, topic[1:], fn)
	}
}

func deliver(sub *Subscription, msg *Message) {
	select {
	case sub.ch <- msg:
	default:
		// drop oldest if queue full
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

// unsubscribe removes a subscription from the trie.
func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	var stack []*node
	for _, t := range sub.topic {
		child := n.child(t, false)
		if child == nil {
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
	for i := len(sub.topic) - 1; i >= 0; i-- {
		parent := stack[i]
		key := sub.topic[i]
		child := parent.children[key]
		if len(child.subs) == 0 && len(child.children) == 0 && child.retained == nil {
			delete(parent.children, key)
		} else {
			break
		}
	}
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

type Connection struct {
	bus  *Bus
	subs []*Subscription
	mu   sync.Mutex
	id   string
}

// NewConnection creates a new connection bound to this bus.
func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{
		bus: b,
		id:  id,
	}
}

func (c *Connection) ID() string { return c.id }

// NewMessage is a small constructor kept on the connection for call-site symmetry.
func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// Publish sends a message via the bus.
func (c *Connection) Publish(msg *Message) {
	c.bus.Publish(msg)
}

// Subscribe registers a subscription owned by this connection.
func (c *Connection) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{
		topic: topic,
		ch:    make(chan *Message, c.bus.qLen),
		conn:  c,
	}
	c.bus.addSubscription(sub)
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription owned by this connection.
func (c *Connection) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	found := false
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			found = true
			break
		}
	}
	c.mu.Unlock()
	if !found {
		return
	}
	c.bus.unsubscribe(sub)
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
