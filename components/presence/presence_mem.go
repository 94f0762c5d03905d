package presence

import (
	"context"
	"sync"
	"time"
)

// MemPresence is the in-process store for tests and single-node runs.
type MemPresence struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

func NewMemPresence() *MemPresence {
	return &MemPresence{records: make(map[string]*Record), now: time.Now}
}

func (me *MemPresence) Touch(ctx context.Context, identity string) error {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.records[identity] = &Record{Identity: identity, Online: true, LastSeen: me.now()}
	return nil
}

func (me *MemPresence) SetOffline(ctx context.Context, identity string) error {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.records[identity] = &Record{Identity: identity, Online: false, LastSeen: me.now()}
	return nil
}

func (me *MemPresence) Get(ctx context.Context, identity string) (*Record, error) {
	me.mu.Lock()
	defer me.mu.Unlock()
	rec, ok := me.records[identity]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (me *MemPresence) Online(ctx context.Context) ([]*Record, error) {
	me.mu.Lock()
	defer me.mu.Unlock()
	now := me.now()

	var out []*Record
	for _, rec := range me.records {
		if rec.Fresh(now) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}
