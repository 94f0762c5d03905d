package vicall

import (
	"github.com/pion/webrtc/v3"
)

// rtcPeer is the narrow surface a peer link drives on a WebRTC connection.
// pionPeer implements it in production; link tests substitute a fake so the
// signaling protocol can be exercised without real ICE gathering.
type rtcPeer interface {
	AddTrack(track webrtc.TrackLocal) (rtcSender, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState
	OnICECandidate(fn func(*webrtc.ICECandidate))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	Close() error
}

type rtcSender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
	Track() webrtc.TrackLocal
}

// PeerFactory builds one connection per remote participant.
type PeerFactory func() (rtcPeer, error)

type pionPeer struct {
	pc *webrtc.PeerConnection
}

// NewPeerFactory returns the production factory using pion with the given
// ICE servers.
func NewPeerFactory(config webrtc.Configuration) PeerFactory {
	return func() (rtcPeer, error) {
		pc, err := webrtc.NewPeerConnection(config)
		if err != nil {
			return nil, err
		}
		return &pionPeer{pc: pc}, nil
	}
}

func (p *pionPeer) AddTrack(track webrtc.TrackLocal) (rtcSender, error) {
	return p.pc.AddTrack(track)
}

func (p *pionPeer) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(options)
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionPeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionPeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *pionPeer) SignalingState() webrtc.SignalingState {
	return p.pc.SignalingState()
}

func (p *pionPeer) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	p.pc.OnICECandidate(fn)
}

func (p *pionPeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *pionPeer) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.pc.OnTrack(fn)
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
