// Package vicall implements the multi-peer call orchestration core: a
// full-mesh topology where every participant holds a direct connection to
// every other participant, brokered over the realtime store. The store is
// only a signaling relay; media flows peer to peer once connected.
package vicall

import (
	"errors"

	"github.com/pion/webrtc/v3"

	"temu/app/rtdb"
)

var (
	// ErrMediaAccess camera/mic capture denied or unavailable; joining a
	// call aborts with no partial state left behind.
	ErrMediaAccess = errors.New("media capture denied or unavailable")
	// ErrScreenShareCancelled the user dismissed the screen picker.
	ErrScreenShareCancelled = errors.New("screen share cancelled")
	// ErrAlreadyInCall joinCall is called while a call is active.
	ErrAlreadyInCall = errors.New("already in a call")
	// ErrLinkClosed a signaling event arrived for a torn-down peer link.
	ErrLinkClosed = errors.New("peer link is closed")
	// ErrNotInCall a call control was used outside an active call.
	ErrNotInCall = errors.New("not in a call")
	// ErrSessionClosed the session actor has shut down.
	ErrSessionClosed = errors.New("call session is closed")
)

const linkSep = "__"

// Participant is one roster entry in a call room.
type Participant struct {
	Identity string `json:"identity"`
	JoinedAt int64  `json:"joinedAt"`
}

// OfferSignal is the initiator's session description, republished at the
// same path with Restart set for the one ICE-restart attempt.
type OfferSignal struct {
	Desc    webrtc.SessionDescription `json:"desc"`
	Restart bool                      `json:"restart,omitempty"`
}

// AnswerSignal is the responder's session description.
type AnswerSignal struct {
	Desc webrtc.SessionDescription `json:"desc"`
}

// AmInitiator reports whether self initiates towards peer: the
// lexicographically higher identity creates the offer. Both sides compute
// complementary roles without coordination, so exactly one offer exists
// per pair.
func AmInitiator(self, peer string) bool {
	return self > peer
}

// LinkKey is the store key of the pair's signaling channel, ordered
// (initiator, responder) so both sides derive the same path.
func LinkKey(a, b string) string {
	if a > b {
		return a + linkSep + b
	}
	return b + linkSep + a
}

func participantsPath(room string) string {
	return rtdb.Join("rooms", room, "participants")
}

func participantPath(room, identity string) string {
	return rtdb.Join("rooms", room, "participants", identity)
}

func linkPath(room, a, b string) string {
	return rtdb.Join("rooms", room, "links", LinkKey(a, b))
}

func candidatesPath(room, a, b, from string) string {
	return rtdb.Join(linkPath(room, a, b), "candidates", from)
}
