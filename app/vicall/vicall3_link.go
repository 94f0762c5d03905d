package vicall

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/pion/webrtc/v3"

	"temu/app/rtdb"
)

// PeerLink is the connection controller for one remote participant. It owns
// the connection object, the pre-remote-description candidate buffer and the
// signaling subscriptions for its pair path. Every inbound event is
// marshalled onto the session actor via exec, and every handler re-checks
// closed before touching state, so a late callback after teardown is a no-op.
type PeerLink struct {
	room      string
	self      string
	remote    string
	initiator bool

	store rtdb.Store
	peer  rtcPeer
	exec  func(func())
	log   logr.Logger

	audioSender rtcSender
	videoSender rtcSender

	// Candidates arriving before the remote description is set are queued
	// in arrival order and drained FIFO exactly once; applying them earlier
	// makes connection establishment fail non-deterministically.
	pending       []webrtc.ICECandidateInit
	seenCands     map[string]bool
	remoteDescSet bool
	appliedOffer  string
	appliedAnswer string
	restarted     bool
	closed        bool
	state         webrtc.PeerConnectionState

	cancels []func()

	// OnState fires on every connection state transition, on the actor.
	OnState func(remote string, state webrtc.PeerConnectionState)
	// OnMedia fires when a remote track starts, on the actor.
	OnMedia func(remote string, track *webrtc.TrackRemote)
}

func newPeerLink(room, self, remote string, store rtdb.Store, factory PeerFactory, media *LocalMedia, exec func(func()), log logr.Logger) (*PeerLink, error) {
	peer, err := factory()
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	l := &PeerLink{
		room:      room,
		self:      self,
		remote:    remote,
		initiator: AmInitiator(self, remote),
		store:     store,
		peer:      peer,
		exec:      exec,
		log:       log,
		seenCands: make(map[string]bool),
		state:     webrtc.PeerConnectionStateNew,
	}

	l.audioSender, err = peer.AddTrack(media.Audio)
	if err != nil {
		_ = peer.Close()
		return nil, fmt.Errorf("adding audio track: %w", err)
	}
	l.videoSender, err = peer.AddTrack(media.ActiveVideo())
	if err != nil {
		_ = peer.Close()
		return nil, fmt.Errorf("adding video track: %w", err)
	}

	peer.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		exec(func() { l.publishCandidate(init) })
	})
	peer.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		exec(func() { l.handleState(s) })
	})
	peer.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		exec(func() {
			if l.closed {
				return
			}
			if l.OnMedia != nil {
				l.OnMedia(l.remote, track)
			}
		})
	})

	return l, nil
}

func (l *PeerLink) dir() string {
	return linkPath(l.room, l.self, l.remote)
}

// Initiator reports this side's role for the pair.
func (l *PeerLink) Initiator() bool {
	return l.initiator
}

func (l *PeerLink) State() webrtc.PeerConnectionState {
	return l.state
}

// start subscribes to the pair's signaling paths and, on the initiator
// side, publishes the offer. Runs on the actor.
func (l *PeerLink) start() error {
	if err := l.store.OnDisconnectRemove(l.dir()); err != nil {
		return err
	}

	cancel, err := l.store.SubscribeAdded(l.dir(), func(ev rtdb.Event) {
		l.exec(func() { l.handleLinkEvent(ev) })
	})
	if err != nil {
		return err
	}
	l.cancels = append(l.cancels, cancel)

	cancel, err = l.store.SubscribeAdded(candidatesPath(l.room, l.self, l.remote, l.remote), func(ev rtdb.Event) {
		l.exec(func() { l.handleRemoteCandidate(ev) })
	})
	if err != nil {
		return err
	}
	l.cancels = append(l.cancels, cancel)

	if l.initiator {
		return l.sendOffer(false)
	}
	return nil
}

func (l *PeerLink) sendOffer(restart bool) error {
	var opts *webrtc.OfferOptions
	if restart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := l.peer.CreateOffer(opts)
	if err != nil {
		return fmt.Errorf("creating offer: %w", err)
	}
	if err := l.peer.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local offer: %w", err)
	}
	l.log.V(1).Info("publish offer", "to", l.remote, "restart", restart)
	return l.store.Put(rtdb.Join(l.dir(), "offer"), &OfferSignal{Desc: offer, Restart: restart})
}

func (l *PeerLink) publishCandidate(init webrtc.ICECandidateInit) {
	if l.closed {
		return
	}
	if _, err := l.store.PushAppend(candidatesPath(l.room, l.self, l.remote, l.self), init); err != nil {
		l.log.Error(err, "error while publishing ice candidate", "to", l.remote)
	}
}

func (l *PeerLink) handleLinkEvent(ev rtdb.Event) {
	if l.closed {
		return
	}
	switch ev.Key {
	case "offer":
		if l.initiator {
			return
		}
		var sig OfferSignal
		if err := ev.Decode(&sig); err != nil {
			l.log.Error(err, "error while decoding offer", "from", l.remote)
			return
		}
		l.handleOffer(&sig)

	case "answer":
		if !l.initiator {
			return
		}
		var sig AnswerSignal
		if err := ev.Decode(&sig); err != nil {
			l.log.Error(err, "error while decoding answer", "from", l.remote)
			return
		}
		l.handleAnswer(&sig)
	}
}

func (l *PeerLink) handleOffer(sig *OfferSignal) {
	// The store delivers at-least-once; the same offer may arrive again.
	if sig.Desc.SDP == l.appliedOffer {
		return
	}
	l.log.V(1).Info("got offer", "from", l.remote, "restart", sig.Restart)

	if err := l.peer.SetRemoteDescription(sig.Desc); err != nil {
		l.log.Error(err, "error while applying remote offer", "from", l.remote)
		return
	}
	l.appliedOffer = sig.Desc.SDP
	l.remoteDescSet = true
	l.drainPending()

	answer, err := l.peer.CreateAnswer()
	if err != nil {
		l.log.Error(err, "error while creating answer", "to", l.remote)
		return
	}
	if err := l.peer.SetLocalDescription(answer); err != nil {
		l.log.Error(err, "error while setting local answer", "to", l.remote)
		return
	}
	if err := l.store.Put(rtdb.Join(l.dir(), "answer"), &AnswerSignal{Desc: answer}); err != nil {
		l.log.Error(err, "error while publishing answer", "to", l.remote)
	}
}

func (l *PeerLink) handleAnswer(sig *AnswerSignal) {
	if sig.Desc.SDP == l.appliedAnswer {
		return
	}
	// Only meaningful while our offer is outstanding; a stale answer after
	// negotiation settled is dropped.
	if l.peer.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return
	}
	l.log.V(1).Info("got answer", "from", l.remote)

	if err := l.peer.SetRemoteDescription(sig.Desc); err != nil {
		l.log.Error(err, "error while applying remote answer", "from", l.remote)
		return
	}
	l.appliedAnswer = sig.Desc.SDP
	l.remoteDescSet = true
	l.drainPending()
}

func (l *PeerLink) handleRemoteCandidate(ev rtdb.Event) {
	if l.closed || l.seenCands[ev.Key] {
		return
	}
	l.seenCands[ev.Key] = true

	var cand webrtc.ICECandidateInit
	if err := ev.Decode(&cand); err != nil {
		l.log.Error(err, "error while decoding ice candidate", "from", l.remote)
		return
	}

	if !l.remoteDescSet {
		l.pending = append(l.pending, cand)
		return
	}
	if err := l.peer.AddICECandidate(cand); err != nil {
		l.log.Error(err, "error while adding ice candidate", "from", l.remote)
	}
}

func (l *PeerLink) drainPending() {
	for _, cand := range l.pending {
		if err := l.peer.AddICECandidate(cand); err != nil {
			l.log.Error(err, "error while adding buffered ice candidate", "from", l.remote)
		}
	}
	l.pending = nil
}

func (l *PeerLink) handleState(s webrtc.PeerConnectionState) {
	if l.closed {
		return
	}
	l.state = s
	l.log.V(1).Info("connection state", "peer", l.remote, "state", s.String())
	if l.OnState != nil {
		l.OnState(l.remote, s)
	}

	// One recovery attempt, initiator only. A second failure stays failed
	// and is surfaced to the UI through OnState.
	if s == webrtc.PeerConnectionStateFailed && l.initiator && !l.restarted {
		l.restarted = true
		l.log.Info("connection failed, attempting ice restart", "peer", l.remote)
		if err := l.sendOffer(true); err != nil {
			l.log.Error(err, "error while restarting ice", "peer", l.remote)
		}
	}
}

// replaceVideo swaps the outbound video track in place, no renegotiation.
func (l *PeerLink) replaceVideo(track webrtc.TrackLocal) error {
	return l.videoSender.ReplaceTrack(track)
}

// close tears the link down from any state: connection, buffered
// candidates, signaling subscriptions and the pair's store subtree are all
// released. Idempotent.
func (l *PeerLink) close() {
	if l.closed {
		return
	}
	l.closed = true
	l.state = webrtc.PeerConnectionStateClosed

	for _, cancel := range l.cancels {
		cancel()
	}
	l.cancels = nil
	l.pending = nil
	l.seenCands = nil

	if err := l.peer.Close(); err != nil {
		l.log.Error(err, "error while closing peer connection", "peer", l.remote)
	}
	if err := l.store.Remove(l.dir()); err != nil {
		l.log.Error(err, "error while removing link path", "peer", l.remote)
	}
}
