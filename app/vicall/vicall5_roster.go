package vicall

import (
	"sort"
	"sync"

	"github.com/go-logr/logr"

	"temu/app/rtdb"
)

// RosterWatcher mirrors a room's call roster without joining the call. The
// chat layer uses it for the "ongoing call" badge and participant count.
type RosterWatcher struct {
	room  string
	store rtdb.Store
	log   logr.Logger

	mu      sync.Mutex
	entries map[string]*Participant
	cancels []func()

	// onChange fires after every roster mutation with the current size.
	onChange func(room string, count int)
}

// WatchRoster starts mirroring the roster. onChange may be nil.
func WatchRoster(room string, store rtdb.Store, log logr.Logger, onChange func(room string, count int)) (*RosterWatcher, error) {
	w := &RosterWatcher{
		room:     room,
		store:    store,
		log:      log,
		entries:  make(map[string]*Participant),
		onChange: onChange,
	}

	cancel, err := store.SubscribeAdded(participantsPath(room), w.added)
	if err != nil {
		return nil, err
	}
	w.cancels = append(w.cancels, cancel)

	cancel, err = store.SubscribeRemoved(participantsPath(room), w.removed)
	if err != nil {
		w.Close()
		return nil, err
	}
	w.cancels = append(w.cancels, cancel)

	return w, nil
}

func (w *RosterWatcher) added(ev rtdb.Event) {
	var p Participant
	if err := ev.Decode(&p); err != nil {
		w.log.Error(err, "error while decoding roster entry", "room", w.room, "key", ev.Key)
		return
	}
	w.mu.Lock()
	w.entries[ev.Key] = &p
	count := len(w.entries)
	w.mu.Unlock()
	w.notify(count)
}

func (w *RosterWatcher) removed(ev rtdb.Event) {
	w.mu.Lock()
	if _, ok := w.entries[ev.Key]; !ok {
		w.mu.Unlock()
		return
	}
	delete(w.entries, ev.Key)
	count := len(w.entries)
	w.mu.Unlock()
	w.notify(count)
}

func (w *RosterWatcher) notify(count int) {
	if w.onChange != nil {
		w.onChange(w.room, count)
	}
}

// Participants returns the roster ordered by join time, ties by identity.
func (w *RosterWatcher) Participants() []Participant {
	w.mu.Lock()
	out := make([]Participant, 0, len(w.entries))
	for _, p := range w.entries {
		out = append(out, *p)
	}
	w.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt != out[j].JoinedAt {
			return out[i].JoinedAt < out[j].JoinedAt
		}
		return out[i].Identity < out[j].Identity
	})
	return out
}

// Count reports the roster size.
func (w *RosterWatcher) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

func (w *RosterWatcher) Close() {
	for _, cancel := range w.cancels {
		cancel()
	}
	w.cancels = nil
}
