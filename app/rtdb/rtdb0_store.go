// Package rtdb is the realtime key-value broadcast store the application
// delegates message sync and call signaling to. It exposes the minimal
// platform contract the call core needs: last-write-wins puts, ordered
// appends, added/removed child subscriptions and a best-effort disconnect
// cleanup hook. Delivery is at-least-once; consumers must tolerate
// duplicates and out-of-order arrival across different paths. Within one
// append-ordered path, arrival order is preserved.
package rtdb

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrClosed      = errors.New("store is closed")
	ErrInvalidPath = errors.New("invalid path")
)

// Event is delivered to added/removed subscribers of a parent path.
type Event struct {
	Path  string          `json:"path"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

func (e Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Value, v)
}

// Store is one client's handle on the realtime store. Close releases
// subscriptions and applies the handle's registered disconnect cleanups.
type Store interface {
	// Put writes value at path, last write wins. A re-put over an existing
	// key notifies added-subscribers of the parent again, so single-slot
	// values (offer, answer) can be republished.
	Put(path string, value interface{}) error

	// PushAppend appends value under path with a generated unique child key,
	// preserving arrival order. Returns the generated key.
	PushAppend(path string, value interface{}) (string, error)

	// SubscribeAdded fires cb once per existing child of path in insertion
	// order, then once per subsequently added child. The returned cancel
	// stops delivery; late events after cancel are dropped.
	SubscribeAdded(path string, cb func(Event)) (func(), error)

	// SubscribeRemoved fires cb once per removed child of path.
	SubscribeRemoved(path string, cb func(Event)) (func(), error)

	// Remove deletes the subtree at path and notifies removed-subscribers
	// of its parent.
	Remove(path string) error

	// OnDisconnectRemove registers path for removal when this handle
	// disappears without cleaning up explicitly.
	OnDisconnectRemove(path string) error

	Close() error
}

// Join builds a path from segments. Segments must not contain '/'.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

func splitPath(path string) (parent, key string, err error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", "", ErrInvalidPath
	}
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path, nil
	}
	return path[:i], path[i+1:], nil
}

func marshalValue(value interface{}) (json.RawMessage, error) {
	if raw, ok := value.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
