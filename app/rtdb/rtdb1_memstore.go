package rtdb

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lucsky/cuid"
)

type node struct {
	value    json.RawMessage
	children map[string]*node
	order    []string
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

type subscriber struct {
	path   string
	cb     func(Event)
	closed int32
}

func (s *subscriber) cancel() {
	atomic.StoreInt32(&s.closed, 1)
}

func (s *subscriber) deliver(ev Event) {
	if atomic.LoadInt32(&s.closed) == 0 {
		s.cb(ev)
	}
}

// dispatcher serializes all subscriber callbacks on one goroutine, so store
// events behave like a single-threaded event loop. Enqueue never blocks;
// callbacks may safely call back into the store.
type dispatcher struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	done  chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) enqueue(fn func()) {
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}
		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			fn := d.queue[0]
			d.queue = d.queue[1:]
			d.mu.Unlock()
			fn()
		}
	}
}

func (d *dispatcher) stop() {
	close(d.done)
}

// MemStore is the in-process realtime store. All clients in one process
// share it through handles; tests and single-node runs use it as the
// platform backend.
type MemStore struct {
	mu      sync.Mutex
	root    *node
	added   map[string][]*subscriber
	removed map[string][]*subscriber
	pushSeq uint64
	disp    *dispatcher
	closed  bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		root:    newNode(),
		added:   make(map[string][]*subscriber),
		removed: make(map[string][]*subscriber),
		disp:    newDispatcher(),
	}
}

// Handle returns a client handle. Closing the handle applies its
// registered disconnect cleanups, which is how an ungraceful client exit
// is simulated in-process.
func (s *MemStore) Handle() *Handle {
	return &Handle{store: s}
}

func (s *MemStore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.disp.stop()
}

func (s *MemStore) ensure(path string) *node {
	n := s.root
	if path == "" {
		return n
	}
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			seg := path[start:i]
			child, ok := n.children[seg]
			if !ok {
				child = newNode()
				n.children[seg] = child
				n.order = append(n.order, seg)
			}
			n = child
			start = i + 1
		}
	}
	return n
}

func (s *MemStore) lookup(path string) (*node, bool) {
	n := s.root
	if path == "" {
		return n, true
	}
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			child, ok := n.children[path[start:i]]
			if !ok {
				return nil, false
			}
			n = child
			start = i + 1
		}
	}
	return n, true
}

func (s *MemStore) put(path string, value interface{}) error {
	raw, err := marshalValue(value)
	if err != nil {
		return err
	}
	parent, key, err := splitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	p := s.ensure(parent)
	child, ok := p.children[key]
	if !ok {
		child = newNode()
		p.children[key] = child
		p.order = append(p.order, key)
	}
	child.value = raw
	s.notifyLocked(s.added[parent], Event{Path: parent, Key: key, Value: raw})
	s.mu.Unlock()
	return nil
}

func (s *MemStore) pushAppend(path string, value interface{}) (string, error) {
	raw, err := marshalValue(value)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	s.pushSeq++
	key := fmt.Sprintf("%012d-%s", s.pushSeq, cuid.Slug())
	p := s.ensure(path)
	child := newNode()
	child.value = raw
	p.children[key] = child
	p.order = append(p.order, key)
	s.notifyLocked(s.added[path], Event{Path: path, Key: key, Value: raw})
	s.mu.Unlock()
	return key, nil
}

func (s *MemStore) subscribe(subs map[string][]*subscriber, path string, cb func(Event), replay bool) (*subscriber, error) {
	sub := &subscriber{path: path, cb: cb}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if replay {
		if n, ok := s.lookup(path); ok {
			for _, key := range n.order {
				child := n.children[key]
				if child.value == nil {
					continue
				}
				ev := Event{Path: path, Key: key, Value: child.value}
				s.disp.enqueue(func() { sub.deliver(ev) })
			}
		}
	}
	subs[path] = append(subs[path], sub)
	s.mu.Unlock()
	return sub, nil
}

func (s *MemStore) remove(path string) error {
	parent, key, err := splitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	p, ok := s.lookup(parent)
	if !ok {
		s.mu.Unlock()
		return nil
	}
	child, ok := p.children[key]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(p.children, key)
	for i, k := range p.order {
		if k == key {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	s.notifyLocked(s.removed[parent], Event{Path: parent, Key: key, Value: child.value})
	s.mu.Unlock()
	return nil
}

// notifyLocked enqueues the event for every live subscriber; the caller
// holds s.mu, which keeps enqueue order identical to mutation order.
func (s *MemStore) notifyLocked(subs []*subscriber, ev Event) {
	for _, sub := range subs {
		sub := sub
		s.disp.enqueue(func() { sub.deliver(ev) })
	}
}

// Handle is one client's view of a MemStore. It implements Store.
type Handle struct {
	store *MemStore

	mu         sync.Mutex
	subs       []*subscriber
	cleanups   []string
	closed     bool
}

func (h *Handle) Put(path string, value interface{}) error {
	return h.store.put(path, value)
}

func (h *Handle) PushAppend(path string, value interface{}) (string, error) {
	return h.store.pushAppend(path, value)
}

func (h *Handle) SubscribeAdded(path string, cb func(Event)) (func(), error) {
	sub, err := h.store.subscribe(h.store.added, path, cb, true)
	if err != nil {
		return nil, err
	}
	h.track(sub)
	return sub.cancel, nil
}

func (h *Handle) SubscribeRemoved(path string, cb func(Event)) (func(), error) {
	sub, err := h.store.subscribe(h.store.removed, path, cb, false)
	if err != nil {
		return nil, err
	}
	h.track(sub)
	return sub.cancel, nil
}

func (h *Handle) Remove(path string) error {
	return h.store.remove(path)
}

func (h *Handle) OnDisconnectRemove(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.cleanups = append(h.cleanups, path)
	return nil
}

func (h *Handle) track(sub *subscriber) {
	h.mu.Lock()
	h.subs = append(h.subs, sub)
	h.mu.Unlock()
}

// Close cancels this handle's subscriptions and applies its disconnect
// cleanups. Idempotent.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	subs := h.subs
	cleanups := h.cleanups
	h.subs = nil
	h.cleanups = nil
	h.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
	}
	for _, path := range cleanups {
		_ = h.store.remove(path)
	}
	return nil
}
