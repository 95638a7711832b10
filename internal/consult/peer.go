package consult

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
)

// PeerConnState is a reduced view of the underlying peer connection state:
// only the transitions the session reacts to.
type PeerConnState int

const (
	PeerConnecting PeerConnState = iota
	PeerConnected
	PeerDisconnected
	PeerFailed
	PeerClosed
)

func (s PeerConnState) String() string {
	switch s {
	case PeerConnecting:
		return "connecting"
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	case PeerFailed:
		return "failed"
	case PeerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PeerLink is the session's view of the WebRTC peer connection. The concrete
// implementation wraps pion; tests substitute a fake so the state machine can
// be driven without real ICE.
type PeerLink interface {
	// CreateOffer produces a local offer and applies it as the local
	// description. With iceRestart set the offer forces new ICE credentials.
	CreateOffer(iceRestart bool) (sdp string, err error)
	// CreateAnswer applies the remote offer and produces the local answer.
	CreateAnswer(offerSDP string) (sdp string, err error)
	// AcceptAnswer applies the remote answer on the offering side.
	AcceptAnswer(sdp string) error
	// AddCandidate applies one remote ICE candidate. The caller guarantees a
	// remote description has been applied first.
	AddCandidate(candidateJSON string) error
	OnLocalCandidate(fn func(candidateJSON string))
	OnStateChange(fn func(state PeerConnState))
	Close() error
}

// PionPeer implements PeerLink on a pion peer connection with the local
// tracks attached.
type PionPeer struct {
	pc    *webrtc.PeerConnection
	media *LocalMedia

	mu          sync.Mutex
	onCandidate func(string)
	onState     func(PeerConnState)
}

func NewPionPeer(iceServers []webrtc.ICEServer, media *LocalMedia) (*PionPeer, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: iceServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	p := &PionPeer{pc: pc, media: media}

	if media != nil {
		for _, track := range media.Tracks() {
			sender, err := pc.AddTrack(track)
			if err != nil {
				pc.Close()
				return nil, fmt.Errorf("failed to add track %s: %w", track.ID(), err)
			}
			media.DrainRTCP(sender)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		p.mu.Lock()
		fn := p.onCandidate
		p.mu.Unlock()
		if fn != nil {
			fn(string(data))
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.mu.Lock()
		fn := p.onState
		p.mu.Unlock()
		if fn != nil {
			fn(mapPeerState(state))
		}
	})

	return p, nil
}

func mapPeerState(state webrtc.PeerConnectionState) PeerConnState {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		return PeerConnected
	case webrtc.PeerConnectionStateDisconnected:
		return PeerDisconnected
	case webrtc.PeerConnectionStateFailed:
		return PeerFailed
	case webrtc.PeerConnectionStateClosed:
		return PeerClosed
	default:
		return PeerConnecting
	}
}

func (p *PionPeer) CreateOffer(iceRestart bool) (string, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}

	offer, err := p.pc.CreateOffer(opts)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to apply local offer: %w", err)
	}
	return p.pc.LocalDescription().SDP, nil
}

func (p *PionPeer) CreateAnswer(offerSDP string) (string, error) {
	remote := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}
	if err := p.pc.SetRemoteDescription(remote); err != nil {
		return "", fmt.Errorf("failed to apply remote offer: %w", err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to apply local answer: %w", err)
	}
	return p.pc.LocalDescription().SDP, nil
}

func (p *PionPeer) AcceptAnswer(sdp string) error {
	remote := webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}
	if err := p.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("failed to apply remote answer: %w", err)
	}
	return nil
}

func (p *PionPeer) AddCandidate(candidateJSON string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidateJSON), &init); err != nil {
		return fmt.Errorf("malformed ICE candidate: %w", err)
	}
	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

func (p *PionPeer) OnLocalCandidate(fn func(string)) {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
}

func (p *PionPeer) OnStateChange(fn func(PeerConnState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *PionPeer) Close() error {
	return p.pc.Close()
}
