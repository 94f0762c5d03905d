package rtdb

import (
	"encoding/json"
	"net/http"
	"sync"

	"temu/jsonrpc2"
	"temu/utils"
)

// Bridge method names carried over the websocket.
const (
	MethodPut          = "db-put"
	MethodPush         = "db-push"
	MethodSubscribe    = "db-sub"
	MethodUnsubscribe  = "db-unsub"
	MethodRemove       = "db-remove"
	MethodOnDisconnect = "db-ondisconnect"
	MethodEvent        = "db-event"
)

const (
	KindAdded   = "added"
	KindRemoved = "removed"
)

type BridgeRequest struct {
	Sub   string          `json:"sub,omitempty"`
	Kind  string          `json:"kind,omitempty"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

type BridgeEvent struct {
	Sub   string          `json:"sub"`
	Kind  string          `json:"kind"`
	Path  string          `json:"path"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

type PushResult struct {
	Key string `json:"key"`
}

// Bridge exposes one client's store handle over its websocket. The hub owns
// a Bridge per connection and closes it when the socket drops, which is what
// makes OnDisconnect cleanups fire server-side for remote clients.
type Bridge struct {
	store Store
	send  func([]byte)

	mu   sync.Mutex
	subs map[string]func()
}

func NewBridge(store Store, send func([]byte)) *Bridge {
	return &Bridge{
		store: store,
		send:  send,
		subs:  make(map[string]func()),
	}
}

// HandleRPC processes one db-* request. Returns false when the method does
// not belong to the bridge so the caller can route it elsewhere.
func (b *Bridge) HandleRPC(req *jsonrpc2.RPCRequest) bool {
	switch req.Method {
	case MethodPut, MethodPush, MethodSubscribe, MethodUnsubscribe, MethodRemove, MethodOnDisconnect:
	default:
		return false
	}

	var breq BridgeRequest
	if err := json.Unmarshal(req.Params, &breq); err != nil {
		b.replyError(req.ID, err)
		return true
	}

	switch req.Method {
	case MethodPut:
		b.reply(req.ID, nil, b.store.Put(breq.Path, breq.Value))

	case MethodPush:
		key, err := b.store.PushAppend(breq.Path, breq.Value)
		b.reply(req.ID, &PushResult{Key: key}, err)

	case MethodSubscribe:
		b.handleSubscribe(req.ID, &breq)

	case MethodUnsubscribe:
		b.mu.Lock()
		cancel, ok := b.subs[breq.Sub]
		delete(b.subs, breq.Sub)
		b.mu.Unlock()
		if ok {
			cancel()
		}
		b.reply(req.ID, nil, nil)

	case MethodRemove:
		b.reply(req.ID, nil, b.store.Remove(breq.Path))

	case MethodOnDisconnect:
		b.reply(req.ID, nil, b.store.OnDisconnectRemove(breq.Path))
	}
	return true
}

func (b *Bridge) handleSubscribe(id string, breq *BridgeRequest) {
	sub := breq.Sub
	kind := breq.Kind
	forward := func(ev Event) {
		notif, err := jsonrpc2.Notify(MethodEvent, &BridgeEvent{
			Sub:   sub,
			Kind:  kind,
			Path:  ev.Path,
			Key:   ev.Key,
			Value: ev.Value,
		})
		if err != nil {
			utils.Log().Error(err, "error while creating db-event notify")
			return
		}
		b.send(notif.Encode())
	}

	var cancel func()
	var err error
	switch kind {
	case KindRemoved:
		cancel, err = b.store.SubscribeRemoved(breq.Path, forward)
	default:
		cancel, err = b.store.SubscribeAdded(breq.Path, forward)
	}
	if err != nil {
		b.replyError(id, err)
		return
	}

	b.mu.Lock()
	b.subs[sub] = cancel
	b.mu.Unlock()
	b.reply(id, nil, nil)
}

func (b *Bridge) reply(id string, result interface{}, err error) {
	if err != nil {
		b.replyError(id, err)
		return
	}
	res, rerr := jsonrpc2.Reply(id, result)
	if rerr != nil {
		utils.Log().Error(rerr, "error while creating bridge reply")
		return
	}
	b.send(res.Encode())
}

func (b *Bridge) replyError(id string, err error) {
	res, rerr := jsonrpc2.ReplyWithError(id, nil, http.StatusBadRequest, err)
	if rerr != nil {
		utils.Log().Error(rerr, "error while creating bridge error reply")
		return
	}
	b.send(res.Encode())
}

// Close cancels the bridge's subscriptions and closes the underlying store
// handle, applying its disconnect cleanups.
func (b *Bridge) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]func())
	b.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
	_ = b.store.Close()
}
