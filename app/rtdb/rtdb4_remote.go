package rtdb

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"temu/jsonrpc2"
	"temu/utils"
)

const remoteCallTimeout = 10 * time.Second

// Remote is a Store over a websocket to the hub's bridge, so a call engine
// can run in a different process than the store. Disconnect cleanups are
// executed hub-side when the socket drops.
type Remote struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *jsonrpc2.RPCResponse
	subs    map[string]func(Event)
	closed  bool
	done    chan struct{}
}

// DialRemote connects to the hub's websocket endpoint. The token is the
// login JWT, passed the same way the browser client passes it.
func DialRemote(url, token string) (*Remote, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url+"?jwt="+token, nil)
	if err != nil {
		return nil, fmt.Errorf("rtdb dial: %w", err)
	}

	r := &Remote{
		conn:    conn,
		pending: make(map[string]chan *jsonrpc2.RPCResponse),
		subs:    make(map[string]func(Event)),
		done:    make(chan struct{}),
	}
	go r.readLoop()
	return r, nil
}

func (r *Remote) readLoop() {
	defer r.shutdown()
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			return
		}

		// Responses carry a result or error, notifications carry a method.
		var probe struct {
			Method string `json:"method"`
			ID     string `json:"id"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			continue
		}

		if probe.Method == MethodEvent {
			var notif jsonrpc2.RPCRequest
			if err := json.Unmarshal(data, &notif); err != nil {
				continue
			}
			var bev BridgeEvent
			if err := json.Unmarshal(notif.Params, &bev); err != nil {
				continue
			}
			r.mu.Lock()
			cb, ok := r.subs[bev.Sub]
			r.mu.Unlock()
			if ok {
				cb(Event{Path: bev.Path, Key: bev.Key, Value: bev.Value})
			}
			continue
		}

		if probe.Method == "" && probe.ID != "" {
			var res jsonrpc2.RPCResponse
			if err := json.Unmarshal(data, &res); err != nil {
				continue
			}
			r.mu.Lock()
			ch, ok := r.pending[res.ID]
			delete(r.pending, res.ID)
			r.mu.Unlock()
			if ok {
				ch <- &res
			}
		}
	}
}

func (r *Remote) call(method string, params interface{}) (*jsonrpc2.RPCResponse, error) {
	id := utils.GetRandomUUID()
	req, err := jsonrpc2.Request(id, method, params)
	if err != nil {
		return nil, err
	}

	ch := make(chan *jsonrpc2.RPCResponse, 1)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.pending[id] = ch
	r.mu.Unlock()

	r.writeMu.Lock()
	err = r.conn.WriteMessage(websocket.TextMessage, req.Encode())
	r.writeMu.Unlock()
	if err != nil {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		return nil, fmt.Errorf("rtdb call %s: %w", method, err)
	}

	select {
	case res := <-ch:
		if res == nil {
			return nil, ErrClosed
		}
		if res.Error != nil {
			return nil, fmt.Errorf("rtdb call %s: %s", method, res.Error.Message)
		}
		return res, nil
	case <-r.done:
		return nil, ErrClosed
	case <-time.After(remoteCallTimeout):
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		return nil, fmt.Errorf("rtdb call %s: timeout", method)
	}
}

func (r *Remote) Put(path string, value interface{}) error {
	raw, err := marshalValue(value)
	if err != nil {
		return err
	}
	_, err = r.call(MethodPut, &BridgeRequest{Path: path, Value: raw})
	return err
}

func (r *Remote) PushAppend(path string, value interface{}) (string, error) {
	raw, err := marshalValue(value)
	if err != nil {
		return "", err
	}
	res, err := r.call(MethodPush, &BridgeRequest{Path: path, Value: raw})
	if err != nil {
		return "", err
	}
	var pr PushResult
	if err := json.Unmarshal(res.Result, &pr); err != nil {
		return "", err
	}
	return pr.Key, nil
}

func (r *Remote) SubscribeAdded(path string, cb func(Event)) (func(), error) {
	return r.subscribe(path, KindAdded, cb)
}

func (r *Remote) SubscribeRemoved(path string, cb func(Event)) (func(), error) {
	return r.subscribe(path, KindRemoved, cb)
}

func (r *Remote) subscribe(path, kind string, cb func(Event)) (func(), error) {
	sub := utils.GetRandomUUID()
	r.mu.Lock()
	r.subs[sub] = cb
	r.mu.Unlock()

	if _, err := r.call(MethodSubscribe, &BridgeRequest{Sub: sub, Kind: kind, Path: path}); err != nil {
		r.mu.Lock()
		delete(r.subs, sub)
		r.mu.Unlock()
		return nil, err
	}

	cancel := func() {
		r.mu.Lock()
		delete(r.subs, sub)
		r.mu.Unlock()
		_, _ = r.call(MethodUnsubscribe, &BridgeRequest{Sub: sub})
	}
	return cancel, nil
}

func (r *Remote) Remove(path string) error {
	_, err := r.call(MethodRemove, &BridgeRequest{Path: path})
	return err
}

func (r *Remote) OnDisconnectRemove(path string) error {
	_, err := r.call(MethodOnDisconnect, &BridgeRequest{Path: path})
	return err
}

func (r *Remote) shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	pending := r.pending
	r.pending = make(map[string]chan *jsonrpc2.RPCResponse)
	r.subs = make(map[string]func(Event))
	r.mu.Unlock()

	close(r.done)
	for _, ch := range pending {
		close(ch)
	}
	_ = r.conn.Close()
}

func (r *Remote) Close() error {
	r.shutdown()
	return nil
}
