package vicall

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"temu/app/rtdb"
	"temu/utils"
)

func TestMain(m *testing.M) {
	//before
	fmt.Println("\nSTART UNIT TEST 'vicall'")

	m.Run()

	//after
	fmt.Println("END UNIT TEST 'vicall'")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fakePeer stands in for a real connection so the signaling protocol can be
// driven deterministically. It records every operation in order.
type fakePeer struct {
	name string

	mu         sync.Mutex
	ops        []string
	localDesc  *webrtc.SessionDescription
	remoteDesc *webrtc.SessionDescription
	sigState   webrtc.SignalingState
	offerSeq   int
	answerSeq  int
	senders    []*fakeSender
	onICE      func(*webrtc.ICECandidate)
	onState    func(webrtc.PeerConnectionState)
	onTrack    func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	closed     bool
}

type fakeSender struct {
	mu       sync.Mutex
	track    webrtc.TrackLocal
	replaced []string
}

func (s *fakeSender) ReplaceTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = track
	s.replaced = append(s.replaced, track.ID())
	return nil
}

func (s *fakeSender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) trackID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track.ID()
}

func (p *fakePeer) record(op string) {
	p.ops = append(p.ops, op)
}

func (p *fakePeer) countOps(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, op := range p.ops {
		if strings.HasPrefix(op, prefix) {
			n++
		}
	}
	return n
}

func (p *fakePeer) opsAfter(prefix string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	found := false
	for _, op := range p.ops {
		if !found && strings.HasPrefix(op, prefix) {
			found = true
			continue
		}
		if found {
			out = append(out, op)
		}
	}
	return out
}

func (p *fakePeer) AddTrack(track webrtc.TrackLocal) (rtcSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sn := &fakeSender{track: track}
	p.senders = append(p.senders, sn)
	p.record("add-track:" + track.ID())
	return sn, nil
}

func (p *fakePeer) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offerSeq++
	sdp := fmt.Sprintf("offer-%s-%d", p.name, p.offerSeq)
	if options != nil && options.ICERestart {
		sdp += "-restart"
	}
	p.record("create-offer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answerSeq++
	p.record("create-answer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%s-%d", p.name, p.answerSeq)}, nil
}

func (p *fakePeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.localDesc = &desc
	if desc.Type == webrtc.SDPTypeOffer {
		p.sigState = webrtc.SignalingStateHaveLocalOffer
	} else {
		p.sigState = webrtc.SignalingStateStable
	}
	p.record("sld:" + desc.SDP)
	return nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteDesc = &desc
	if desc.Type == webrtc.SDPTypeOffer {
		p.sigState = webrtc.SignalingStateHaveRemoteOffer
	} else {
		p.sigState = webrtc.SignalingStateStable
	}
	p.record("srd:" + desc.SDP)
	return nil
}

func (p *fakePeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("cand:" + candidate.Candidate)
	return nil
}

func (p *fakePeer) SignalingState() webrtc.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sigState
}

func (p *fakePeer) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICE = fn
}

func (p *fakePeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *fakePeer) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) fireState(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (p *fakePeer) videoSender() *fakeSender {
	p.mu.Lock()
	defer p.mu.Unlock()
	// audio is added first, video second
	return p.senders[1]
}

type fakeFactory struct {
	name string

	mu    sync.Mutex
	peers []*fakePeer
}

func (f *fakeFactory) factory() (rtcPeer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{name: f.name, sigState: webrtc.SignalingStateStable}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *fakeFactory) peer(i int) *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[i]
}

func (f *fakeFactory) waitPeer(t *testing.T) *fakePeer {
	t.Helper()
	waitFor(t, "peer connection for "+f.name, func() bool { return f.count() > 0 })
	return f.peer(0)
}

type fakeCapturer struct {
	failMedia  bool
	failScreen bool

	mu    sync.Mutex
	media *LocalMedia
}

func (c *fakeCapturer) CaptureMedia() (*LocalMedia, error) {
	if c.failMedia {
		return nil, ErrMediaAccess
	}
	real := &SampleCapturer{StreamID: "test"}
	media, err := real.CaptureMedia()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.media = media
	c.mu.Unlock()
	return media, nil
}

func (c *fakeCapturer) CaptureScreen() (webrtc.TrackLocal, error) {
	if c.failScreen {
		return nil, ErrScreenShareCancelled
	}
	real := &SampleCapturer{StreamID: "test"}
	return real.CaptureScreen()
}

func (c *fakeCapturer) captured() *LocalMedia {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.media
}

type sigRecorder struct {
	mu     sync.Mutex
	events []rtdb.Event
}

func (r *sigRecorder) cb(ev rtdb.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *sigRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *sigRecorder) event(i int) rtdb.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[i]
}

func (r *sigRecorder) keyCount(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Key == key {
			n++
		}
	}
	return n
}

func newTestSession(store *rtdb.MemStore, name string) (*CallSession, *fakeFactory, *fakeCapturer) {
	factory := &fakeFactory{name: name}
	capturer := &fakeCapturer{}
	sess := NewCallSession(name, store.Handle(), factory.factory, capturer, utils.Log())
	return sess, factory, capturer
}

func Test_AmInitiatorAndLinkKey(t *testing.T) {
	asserts := assert.New(t)

	asserts.True(AmInitiator("bob", "alice"))
	asserts.False(AmInitiator("alice", "bob"))
	asserts.Equal("bob__alice", LinkKey("alice", "bob"))
	asserts.Equal("bob__alice", LinkKey("bob", "alice"))
}

func Test_TwoPartyNegotiation(t *testing.T) {
	store := rtdb.NewMemStore()
	defer store.Close()

	alice, aliceFact, _ := newTestSession(store, "alice")
	defer alice.Close()
	bob, bobFact, _ := newTestSession(store, "bob")
	defer bob.Close()

	watch := store.Handle()
	defer watch.Close()
	rec := &sigRecorder{}
	_, err := watch.SubscribeAdded("rooms/general/links/bob__alice", rec.cb)
	require.Nil(t, err)

	require.Nil(t, alice.JoinCall("general"))
	require.Nil(t, bob.JoinCall("general"))

	// bob is the initiator, alice answers, bob applies the answer
	bobPeer := bobFact.waitPeer(t)
	alicePeer := aliceFact.waitPeer(t)
	waitFor(t, "bob to apply alice's answer", func() bool {
		return bobPeer.countOps("srd:answer-alice") == 1
	})

	assert.Equal(t, 1, bobPeer.countOps("create-offer"))
	assert.Equal(t, 0, alicePeer.countOps("create-offer"))
	assert.Equal(t, 1, alicePeer.countOps("srd:offer-bob"))
	assert.Equal(t, 1, alicePeer.countOps("create-answer"))

	waitFor(t, "offer and answer on the link path", func() bool {
		return rec.keyCount("offer") == 1 && rec.keyCount("answer") == 1
	})

	var offer OfferSignal
	require.Nil(t, rec.event(0).Decode(&offer))
	assert.False(t, offer.Restart)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Desc.Type)
}

func Test_CandidatesBufferedUntilRemoteDesc(t *testing.T) {
	store := rtdb.NewMemStore()
	defer store.Close()

	alice, aliceFact, _ := newTestSession(store, "alice")
	defer alice.Close()
	require.Nil(t, alice.JoinCall("general"))

	// A remote side driven by hand so candidates land before the offer.
	remote := store.Handle()
	defer remote.Close()
	require.Nil(t, remote.Put("rooms/general/participants/bob", &Participant{Identity: "bob", JoinedAt: 1}))

	alicePeer := aliceFact.waitPeer(t)

	for i := 1; i <= 3; i++ {
		_, err := remote.PushAppend("rooms/general/links/bob__alice/candidates/bob", webrtc.ICECandidateInit{Candidate: fmt.Sprintf("c%d", i)})
		require.Nil(t, err)
	}

	// Nothing may be applied before the remote description exists.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, alicePeer.countOps("cand:"))

	offer := &OfferSignal{Desc: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-manual-1"}}
	require.Nil(t, remote.Put("rooms/general/links/bob__alice/offer", offer))

	waitFor(t, "buffered candidates to drain", func() bool {
		return alicePeer.countOps("cand:") == 3
	})

	// Drained in arrival order, after the remote description, exactly once.
	after := alicePeer.opsAfter("srd:offer-manual-1")
	var drained []string
	for _, op := range after {
		if strings.HasPrefix(op, "cand:") {
			drained = append(drained, op)
		}
	}
	assert.Equal(t, []string{"cand:c1", "cand:c2", "cand:c3"}, drained)

	// A late candidate is applied directly, not buffered.
	_, err := remote.PushAppend("rooms/general/links/bob__alice/candidates/bob", webrtc.ICECandidateInit{Candidate: "c4"})
	require.Nil(t, err)
	waitFor(t, "late candidate", func() bool { return alicePeer.countOps("cand:") == 4 })
}

func Test_DuplicateOfferAppliedOnce(t *testing.T) {
	store := rtdb.NewMemStore()
	defer store.Close()

	alice, aliceFact, _ := newTestSession(store, "alice")
	defer alice.Close()
	require.Nil(t, alice.JoinCall("general"))

	remote := store.Handle()
	defer remote.Close()
	require.Nil(t, remote.Put("rooms/general/participants/bob", &Participant{Identity: "bob", JoinedAt: 1}))

	alicePeer := aliceFact.waitPeer(t)

	offer := &OfferSignal{Desc: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-manual-1"}}
	require.Nil(t, remote.Put("rooms/general/links/bob__alice/offer", offer))
	waitFor(t, "offer applied", func() bool { return alicePeer.countOps("srd:") == 1 })

	// Redelivery of the same offer must not renegotiate.
	require.Nil(t, remote.Put("rooms/general/links/bob__alice/offer", offer))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, alicePeer.countOps("srd:"))
	assert.Equal(t, 1, alicePeer.countOps("create-answer"))
}

func Test_IceRestartOnceOnFailure(t *testing.T) {
	store := rtdb.NewMemStore()
	defer store.Close()

	alice, _, _ := newTestSession(store, "alice")
	defer alice.Close()
	bob, bobFact, _ := newTestSession(store, "bob")
	defer bob.Close()

	watch := store.Handle()
	defer watch.Close()
	rec := &sigRecorder{}
	_, err := watch.SubscribeAdded("rooms/general/links/bob__alice", rec.cb)
	require.Nil(t, err)

	var states []webrtc.PeerConnectionState
	var mu sync.Mutex
	bob.OnPeerState = func(remote string, state webrtc.PeerConnectionState) {
		mu.Lock()
		states = append(states, state)
		mu.Unlock()
	}

	require.Nil(t, alice.JoinCall("general"))
	require.Nil(t, bob.JoinCall("general"))

	bobPeer := bobFact.waitPeer(t)
	waitFor(t, "first offer", func() bool { return rec.keyCount("offer") == 1 })

	bobPeer.fireState(webrtc.PeerConnectionStateFailed)

	waitFor(t, "restart offer", func() bool { return rec.keyCount("offer") == 2 })
	var restart OfferSignal
	for i := 0; i < rec.len(); i++ {
		if ev := rec.event(i); ev.Key == "offer" {
			require.Nil(t, ev.Decode(&restart))
		}
	}
	assert.True(t, restart.Restart)
	assert.Contains(t, restart.Desc.SDP, "restart")

	// A second failure is terminal: one recovery attempt only.
	bobPeer.fireState(webrtc.PeerConnectionStateFailed)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, rec.keyCount("offer"))
	assert.Equal(t, 2, bobPeer.countOps("create-offer"))

	mu.Lock()
	assert.Contains(t, states, webrtc.PeerConnectionStateFailed)
	mu.Unlock()
}

func Test_ResponderNeverRestarts(t *testing.T) {
	store := rtdb.NewMemStore()
	defer store.Close()

	alice, aliceFact, _ := newTestSession(store, "alice")
	defer alice.Close()
	bob, _, _ := newTestSession(store, "bob")
	defer bob.Close()

	require.Nil(t, alice.JoinCall("general"))
	require.Nil(t, bob.JoinCall("general"))

	alicePeer := aliceFact.waitPeer(t)
	waitFor(t, "alice to answer", func() bool { return alicePeer.countOps("create-answer") == 1 })

	alicePeer.fireState(webrtc.PeerConnectionStateFailed)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, alicePeer.countOps("create-offer"))
}

func Test_LeaveTearsDownRemoteLink(t *testing.T) {
	store := rtdb.NewMemStore()
	defer store.Close()

	alice, _, _ := newTestSession(store, "alice")
	defer alice.Close()
	bob, bobFact, _ := newTestSession(store, "bob")
	defer bob.Close()

	watch := store.Handle()
	defer watch.Close()
	rec := &sigRecorder{}
	_, err := watch.SubscribeRemoved("rooms/general/links", rec.cb)
	require.Nil(t, err)

	var left []string
	var mu sync.Mutex
	bob.OnPeerLeft = func(remote string) {
		mu.Lock()
		left = append(left, remote)
		mu.Unlock()
	}

	require.Nil(t, alice.JoinCall("general"))
	require.Nil(t, bob.JoinCall("general"))

	bobPeer := bobFact.waitPeer(t)
	waitFor(t, "link up on bob's side", func() bool { return len(bob.Peers()) == 1 })

	require.Nil(t, alice.LeaveCall())

	waitFor(t, "bob to drop the link", func() bool { return len(bob.Peers()) == 0 })
	waitFor(t, "link path removal", func() bool { return rec.keyCount("bob__alice") >= 1 })

	bobPeer.mu.Lock()
	closed := bobPeer.closed
	bobPeer.mu.Unlock()
	assert.True(t, closed)

	mu.Lock()
	assert.Equal(t, []string{"alice"}, left)
	mu.Unlock()

	// Leaving twice is a no-op.
	require.Nil(t, alice.LeaveCall())
	assert.False(t, alice.InCall())
}

func Test_MediaFailureAbortsJoin(t *testing.T) {
	store := rtdb.NewMemStore()
	defer store.Close()

	factory := &fakeFactory{name: "alice"}
	capturer := &fakeCapturer{failMedia: true}
	sess := NewCallSession("alice", store.Handle(), factory.factory, capturer, utils.Log())
	defer sess.Close()

	watch := store.Handle()
	defer watch.Close()
	rec := &sigRecorder{}
	_, err := watch.SubscribeAdded("rooms/general/participants", rec.cb)
	require.Nil(t, err)

	assert.ErrorIs(t, sess.JoinCall("general"), ErrMediaAccess)
	assert.False(t, sess.InCall())

	// No roster entry was written.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.len())

	// The failure is not sticky for the session itself.
	assert.ErrorIs(t, sess.JoinCall("general"), ErrMediaAccess)
}

func Test_JoinWhileInCall(t *testing.T) {
	store := rtdb.NewMemStore()
	defer store.Close()

	alice, _, _ := newTestSession(store, "alice")
	defer alice.Close()

	require.Nil(t, alice.JoinCall("general"))
	assert.ErrorIs(t, alice.JoinCall("standup"), ErrAlreadyInCall)
	assert.True(t, alice.InCall())
}

func Test_MuteAndCameraGates(t *testing.T) {
	store := rtdb.NewMemStore()
	defer store.Close()

	alice, _, capturer := newTestSession(store, "alice")
	defer alice.Close()
	require.Nil(t, alice.JoinCall("general"))

	media := capturer.captured()
	require.NotNil(t, media)
	assert.True(t, media.Audio.Enabled())

	require.Nil(t, alice.SetMuted(true))
	assert.True(t, alice.Muted())
	assert.False(t, media.Audio.Enabled())

	require.Nil(t, alice.SetMuted(false))
	assert.True(t, media.Audio.Enabled())

	require.Nil(t, alice.SetCameraOff(true))
	assert.False(t, media.Camera.Enabled())

	require.Nil(t, alice.LeaveCall())
	assert.ErrorIs(t, alice.SetMuted(true), ErrNotInCall)
}

func Test_ScreenShareReplacesTrack(t *testing.T) {
	store := rtdb.NewMemStore()
	defer store.Close()

	alice, aliceFact, _ := newTestSession(store, "alice")
	defer alice.Close()
	bob, _, _ := newTestSession(store, "bob")
	defer bob.Close()

	require.Nil(t, alice.JoinCall("general"))
	require.Nil(t, bob.JoinCall("general"))

	alicePeer := aliceFact.waitPeer(t)
	waitFor(t, "link up", func() bool { return len(alice.Peers()) == 1 })
	assert.Equal(t, "video", alicePeer.videoSender().trackID())

	require.Nil(t, alice.StartScreenShare())
	assert.True(t, alice.Sharing())
	assert.Equal(t, "screen", alicePeer.videoSender().trackID())

	// Starting again changes nothing.
	require.Nil(t, alice.StartScreenShare())

	// A participant joining mid-share gets the screen track from the start.
	remote := store.Handle()
	defer remote.Close()
	require.Nil(t, remote.Put("rooms/general/participants/carol", &Participant{Identity: "carol", JoinedAt: 99}))
	waitFor(t, "link to carol", func() bool { return aliceFact.count() == 2 })
	carolLink := aliceFact.peer(1)
	waitFor(t, "tracks on carol link", func() bool {
		carolLink.mu.Lock()
		defer carolLink.mu.Unlock()
		return len(carolLink.senders) == 2
	})
	assert.Equal(t, "screen", carolLink.videoSender().trackID())

	require.Nil(t, alice.StopScreenShare())
	assert.False(t, alice.Sharing())
	assert.Equal(t, "video", alicePeer.videoSender().trackID())
	assert.Equal(t, "video", carolLink.videoSender().trackID())
}

func Test_ScreenShareCancelledKeepsCamera(t *testing.T) {
	store := rtdb.NewMemStore()
	defer store.Close()

	factory := &fakeFactory{name: "alice"}
	capturer := &fakeCapturer{failScreen: true}
	sess := NewCallSession("alice", store.Handle(), factory.factory, capturer, utils.Log())
	defer sess.Close()

	require.Nil(t, sess.JoinCall("general"))
	assert.ErrorIs(t, sess.StartScreenShare(), ErrScreenShareCancelled)
	assert.False(t, sess.Sharing())
}

func Test_RosterWatcher(t *testing.T) {
	store := rtdb.NewMemStore()
	defer store.Close()

	h := store.Handle()
	defer h.Close()
	require.Nil(t, h.Put("rooms/general/participants/bob", &Participant{Identity: "bob", JoinedAt: 20}))

	var counts []int
	var mu sync.Mutex
	watcher, err := WatchRoster("general", store.Handle(), utils.Log(), func(room string, count int) {
		mu.Lock()
		counts = append(counts, count)
		mu.Unlock()
	})
	require.Nil(t, err)
	defer watcher.Close()

	require.Nil(t, h.Put("rooms/general/participants/alice", &Participant{Identity: "alice", JoinedAt: 10}))
	waitFor(t, "two roster entries", func() bool { return watcher.Count() == 2 })

	parts := watcher.Participants()
	require.Len(t, parts, 2)
	assert.Equal(t, "alice", parts[0].Identity)
	assert.Equal(t, "bob", parts[1].Identity)

	require.Nil(t, h.Remove("rooms/general/participants/bob"))
	waitFor(t, "roster shrink", func() bool { return watcher.Count() == 1 })

	mu.Lock()
	assert.NotEmpty(t, counts)
	mu.Unlock()
}
