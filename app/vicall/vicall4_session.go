package vicall

import (
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/pion/webrtc/v3"

	"temu/app/rtdb"
)

// CallSession owns all call state for one local participant: the roster
// subscriptions, the local media and one PeerLink per remote participant.
// Mutation happens only on the actor goroutine; public methods post onto it
// and wait, store and connection callbacks post onto it and return. That
// keeps the links map and media flags free of locks even though events race
// in from the store, the connections and the UI at once.
type CallSession struct {
	self     string
	store    rtdb.Store
	factory  PeerFactory
	capturer Capturer
	log      logr.Logger

	ops  chan func()
	done chan struct{}
	once sync.Once

	// actor-owned state below
	inCall  bool
	room    string
	media   *LocalMedia
	links   map[string]*PeerLink
	cancels []func()

	// OnPeerState fires on every remote connection state transition.
	OnPeerState func(remote string, state webrtc.PeerConnectionState)
	// OnPeerTrack fires when a remote participant's media starts.
	OnPeerTrack func(remote string, track *webrtc.TrackRemote)
	// OnPeerJoined / OnPeerLeft track roster membership for the UI.
	OnPeerJoined func(remote string)
	OnPeerLeft   func(remote string)
}

func NewCallSession(self string, store rtdb.Store, factory PeerFactory, capturer Capturer, log logr.Logger) *CallSession {
	s := &CallSession{
		self:     self,
		store:    store,
		factory:  factory,
		capturer: capturer,
		log:      log,
		ops:      make(chan func(), 128),
		done:     make(chan struct{}),
		links:    make(map[string]*PeerLink),
	}
	go s.run()
	return s
}

func (s *CallSession) run() {
	for {
		select {
		case fn := <-s.ops:
			fn()
		case <-s.done:
			return
		}
	}
}

// exec posts fn onto the actor, dropping it if the session is closed.
func (s *CallSession) exec(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.done:
	}
}

// call posts fn onto the actor and waits for its result.
func (s *CallSession) call(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case s.ops <- func() { errc <- fn() }:
	case <-s.done:
		return ErrSessionClosed
	}
	select {
	case err := <-errc:
		return err
	case <-s.done:
		return ErrSessionClosed
	}
}

// Close leaves any active call and stops the actor.
func (s *CallSession) Close() {
	s.once.Do(func() {
		_ = s.LeaveCall()
		close(s.done)
	})
}

// JoinCall captures local media, registers this participant in the room
// roster and starts watching the roster. Media capture failing aborts the
// join with no call state left behind. Links to participants already in the
// room are built from the roster replay; each side of a pair decides its
// role by identity order, so the offer comes from exactly one of them.
func (s *CallSession) JoinCall(room string) error {
	return s.call(func() error {
		if s.inCall {
			return ErrAlreadyInCall
		}

		media, err := s.capturer.CaptureMedia()
		if err != nil {
			return ErrMediaAccess
		}

		s.inCall = true
		s.room = room
		s.media = media
		s.links = make(map[string]*PeerLink)

		me := &Participant{Identity: s.self, JoinedAt: time.Now().UnixMilli()}
		if err := s.store.Put(participantPath(room, s.self), me); err != nil {
			s.resetCallState()
			return err
		}
		if err := s.store.OnDisconnectRemove(participantPath(room, s.self)); err != nil {
			_ = s.store.Remove(participantPath(room, s.self))
			s.resetCallState()
			return err
		}

		cancel, err := s.store.SubscribeAdded(participantsPath(room), func(ev rtdb.Event) {
			s.exec(func() { s.rosterAdd(ev) })
		})
		if err != nil {
			_ = s.store.Remove(participantPath(room, s.self))
			s.resetCallState()
			return err
		}
		s.cancels = append(s.cancels, cancel)

		cancel, err = s.store.SubscribeRemoved(participantsPath(room), func(ev rtdb.Event) {
			s.exec(func() { s.rosterRemove(ev) })
		})
		if err != nil {
			s.teardown(true)
			s.resetCallState()
			return err
		}
		s.cancels = append(s.cancels, cancel)

		s.log.Info("joined call", "room", room, "as", s.self)
		return nil
	})
}

// LeaveCall tears down every link, withdraws the roster entry and releases
// media. Safe to call when not in a call.
func (s *CallSession) LeaveCall() error {
	return s.call(func() error {
		if !s.inCall {
			return nil
		}
		s.teardown(true)
		s.log.Info("left call", "room", s.room)
		s.resetCallState()
		return nil
	})
}

func (s *CallSession) teardown(removeSelf bool) {
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
	for id, link := range s.links {
		link.close()
		delete(s.links, id)
	}
	if removeSelf {
		if err := s.store.Remove(participantPath(s.room, s.self)); err != nil {
			s.log.Error(err, "error while removing roster entry", "room", s.room)
		}
	}
}

func (s *CallSession) resetCallState() {
	s.inCall = false
	s.room = ""
	s.media = nil
	s.links = make(map[string]*PeerLink)
}

func (s *CallSession) rosterAdd(ev rtdb.Event) {
	if !s.inCall {
		return
	}
	var p Participant
	if err := ev.Decode(&p); err != nil {
		s.log.Error(err, "error while decoding roster entry", "key", ev.Key)
		return
	}
	if p.Identity == s.self || s.links[p.Identity] != nil {
		return
	}

	link, err := newPeerLink(s.room, s.self, p.Identity, s.store, s.factory, s.media, s.exec, s.log)
	if err != nil {
		s.log.Error(err, "error while creating peer link", "peer", p.Identity)
		return
	}
	link.OnState = func(remote string, state webrtc.PeerConnectionState) {
		if s.OnPeerState != nil {
			s.OnPeerState(remote, state)
		}
	}
	link.OnMedia = func(remote string, track *webrtc.TrackRemote) {
		if s.OnPeerTrack != nil {
			s.OnPeerTrack(remote, track)
		}
	}
	s.links[p.Identity] = link

	if err := link.start(); err != nil {
		s.log.Error(err, "error while starting peer link", "peer", p.Identity)
		link.close()
		delete(s.links, p.Identity)
		return
	}
	s.log.V(1).Info("peer joined", "peer", p.Identity, "initiator", link.Initiator())
	if s.OnPeerJoined != nil {
		s.OnPeerJoined(p.Identity)
	}
}

func (s *CallSession) rosterRemove(ev rtdb.Event) {
	if !s.inCall {
		return
	}
	link := s.links[ev.Key]
	if link == nil {
		return
	}
	link.close()
	delete(s.links, ev.Key)
	s.log.V(1).Info("peer left", "peer", ev.Key)
	if s.OnPeerLeft != nil {
		s.OnPeerLeft(ev.Key)
	}
}

// SetMuted gates the outbound audio track. No renegotiation; receivers keep
// the track and get silence.
func (s *CallSession) SetMuted(muted bool) error {
	return s.call(func() error {
		if !s.inCall {
			return ErrNotInCall
		}
		s.media.muted = muted
		s.media.Audio.SetEnabled(!muted)
		return nil
	})
}

// SetCameraOff gates the outbound camera track.
func (s *CallSession) SetCameraOff(off bool) error {
	return s.call(func() error {
		if !s.inCall {
			return ErrNotInCall
		}
		s.media.cameraOff = off
		s.media.Camera.SetEnabled(!off)
		return nil
	})
}

// StartScreenShare captures a screen track and swaps it into every live
// link's video sender. A cancelled picker leaves the call untouched.
// Already sharing is a no-op.
func (s *CallSession) StartScreenShare() error {
	return s.call(func() error {
		if !s.inCall {
			return ErrNotInCall
		}
		if s.media.sharing {
			return nil
		}
		screen, err := s.capturer.CaptureScreen()
		if err != nil {
			return err
		}
		s.media.screen = screen
		s.media.sharing = true
		for id, link := range s.links {
			if err := link.replaceVideo(screen); err != nil {
				s.log.Error(err, "error while switching to screen track", "peer", id)
			}
		}
		return nil
	})
}

// StopScreenShare swaps the camera track back in on every live link.
func (s *CallSession) StopScreenShare() error {
	return s.call(func() error {
		if !s.inCall {
			return ErrNotInCall
		}
		if !s.media.sharing {
			return nil
		}
		s.media.sharing = false
		s.media.screen = nil
		for id, link := range s.links {
			if err := link.replaceVideo(s.media.Camera); err != nil {
				s.log.Error(err, "error while switching to camera track", "peer", id)
			}
		}
		return nil
	})
}

// InCall reports whether a call is active.
func (s *CallSession) InCall() bool {
	var in bool
	_ = s.call(func() error { in = s.inCall; return nil })
	return in
}

// Muted reports the audio gate.
func (s *CallSession) Muted() bool {
	var muted bool
	_ = s.call(func() error {
		if s.media != nil {
			muted = s.media.muted
		}
		return nil
	})
	return muted
}

// Sharing reports whether the screen track is live.
func (s *CallSession) Sharing() bool {
	var sharing bool
	_ = s.call(func() error {
		if s.media != nil {
			sharing = s.media.sharing
		}
		return nil
	})
	return sharing
}

// Peers lists remote participants with an active link.
func (s *CallSession) Peers() []string {
	var out []string
	_ = s.call(func() error {
		for id := range s.links {
			out = append(out, id)
		}
		return nil
	})
	return out
}

// PeerState reports the connection state towards one remote participant.
func (s *CallSession) PeerState(remote string) (webrtc.PeerConnectionState, bool) {
	var (
		state webrtc.PeerConnectionState
		ok    bool
	)
	_ = s.call(func() error {
		if link := s.links[remote]; link != nil {
			state, ok = link.State(), true
		}
		return nil
	})
	return state, ok
}
