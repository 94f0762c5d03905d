// Package presence tracks who is reachable right now. Records carry their
// own lastSeen stamp; a record that stops being touched goes stale and is
// filtered out, which covers ungraceful exits without any disconnect hook.
package presence

import (
	"context"
	"time"
)

// StaleAfter is how long a record stays fresh without a Touch.
const StaleAfter = 90000 * time.Millisecond

type Record struct {
	Identity string    `json:"identity"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

// Fresh reports whether the record still counts as online at now.
func (me *Record) Fresh(now time.Time) bool {
	return me.Online && now.Sub(me.LastSeen) <= StaleAfter
}

type I_PresenceStore interface {
	// Touch marks the identity online now; called on join and heartbeat.
	Touch(ctx context.Context, identity string) error
	// SetOffline marks a graceful exit.
	SetOffline(ctx context.Context, identity string) error
	Get(ctx context.Context, identity string) (*Record, error)
	// Online lists fresh records only.
	Online(ctx context.Context) ([]*Record, error)
}
