package consult

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"medlink/internal/core/domain"

	"go.uber.org/zap"
)

// State is the session lifecycle state. Transitions are driven by a single
// goroutine consuming an event queue, so no transition ever races another.
type State string

const (
	StateIdle                State = "idle"
	StateAcquiringMedia      State = "acquiring-media"
	StateConnectingTransport State = "connecting-transport"
	StateJoined              State = "joined"
	StateNegotiating         State = "negotiating"
	StateConnected           State = "connected"
	StateEnded               State = "ended"
	StateError               State = "error"
)

func (s State) terminal() bool {
	return s == StateEnded || s == StateError
}

type eventKind int

const (
	evSignal eventKind = iota
	evTransportDown
	evLocalCandidate
	evPeerState
	evConnectTimeout
	evHangUp
)

type event struct {
	kind      eventKind
	env       *domain.Envelope
	candidate string
	peerState PeerConnState
}

// SessionConfig identifies the participant and bounds the negotiation.
type SessionConfig struct {
	CallID         domain.CallID
	ParticipantID  domain.ParticipantID
	Role           domain.Role
	ConnectTimeout time.Duration
}

// MediaFactory acquires local capture. PeerFactory builds the peer
// connection with that capture attached. Both are injection points for
// tests.
type (
	MediaFactory func() (MediaSource, error)
	PeerFactory  func(media MediaSource) (PeerLink, error)
)

// Session runs one consultation call end to end: acquire media, connect the
// transport via the supervisor, join the room, negotiate the peer
// connection, and tear everything down exactly once on any exit path.
//
// The doctor is always the offering side. The patient never creates an
// offer, so the two sides can never collide on simultaneous offers.
type Session struct {
	cfg        SessionConfig
	supervisor *Supervisor
	transport  Transport
	newMedia   MediaFactory
	newPeer    PeerFactory

	media MediaSource
	peer  PeerLink

	events  chan event
	stateMu sync.RWMutex
	state   State
	err     *CallError

	// Remote candidates queue here until a remote description is applied;
	// applying them earlier is rejected by the peer connection.
	pendingCandidates []string
	remoteDescSet     bool

	connectTimer *time.Timer
	onState      func(State)
	logger       *zap.SugaredLogger
}

func NewSession(
	cfg SessionConfig,
	supervisor *Supervisor,
	transport Transport,
	newMedia MediaFactory,
	newPeer PeerFactory,
	onState func(State),
	logger *zap.Logger,
) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	return &Session{
		cfg:        cfg,
		supervisor: supervisor,
		transport:  transport,
		newMedia:   newMedia,
		newPeer:    newPeer,
		events:     make(chan event, 32),
		state:      StateIdle,
		onState:    onState,
		logger:     logger.Sugar(),
	}
}

// Run drives the call until it ends. It returns nil for a normal end (hang
// up, peer ended) and the terminal CallError otherwise.
func (s *Session) Run(ctx context.Context) error {
	s.setState(StateAcquiringMedia)
	media, err := s.newMedia()
	if err != nil {
		return s.fail(asCallError(err, ErrKindMedia))
	}
	s.media = media

	peer, err := s.newPeer(media)
	if err != nil {
		return s.fail(asCallError(err, ErrKindNegotiation))
	}
	s.peer = peer

	peer.OnLocalCandidate(func(candidateJSON string) {
		s.enqueue(event{kind: evLocalCandidate, candidate: candidateJSON})
	})
	peer.OnStateChange(func(state PeerConnState) {
		s.enqueue(event{kind: evPeerState, peerState: state})
	})

	s.setState(StateConnectingTransport)
	if err := s.supervisor.Connect(ctx); err != nil {
		return s.fail(asCallError(err, ErrKindTransport))
	}

	if err := s.sendEnvelope(&domain.Envelope{
		Type:          domain.MsgJoinCall,
		CallID:        s.cfg.CallID,
		ParticipantID: s.cfg.ParticipantID,
	}); err != nil {
		return s.fail(transportError("could not join the consultation", err))
	}
	s.setState(StateJoined)

	go s.pumpIncoming()

	for !s.state.terminal() {
		select {
		case <-ctx.Done():
			s.handleHangUp()
		case ev := <-s.events:
			s.handle(ev)
		}
	}

	if s.state == StateError {
		return s.err
	}
	return nil
}

// HangUp asks the session to end the call cleanly. Safe to call from any
// goroutine; a no-op once the session has reached a terminal state.
func (s *Session) HangUp() {
	s.enqueue(event{kind: evHangUp})
}

func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Session) Err() *CallError {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.err
}

func (s *Session) pumpIncoming() {
	for env := range s.transport.Incoming() {
		s.enqueue(event{kind: evSignal, env: env})
	}
	s.enqueue(event{kind: evTransportDown})
}

func (s *Session) enqueue(ev event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warnw("event queue full, dropping event", "kind", ev.kind)
	}
}

func (s *Session) handle(ev event) {
	switch ev.kind {
	case evSignal:
		s.handleSignal(ev.env)

	case evLocalCandidate:
		s.sendCandidate(ev.candidate)

	case evPeerState:
		s.handlePeerState(ev.peerState)

	case evTransportDown:
		if s.state.terminal() {
			return
		}
		s.supervisor.MarkDisconnected()
		s.fail(transportError("lost connection to the consultation server", nil))

	case evConnectTimeout:
		if s.state == StateNegotiating {
			s.fail(timeoutError())
		}

	case evHangUp:
		s.handleHangUp()
	}
}

func (s *Session) handleSignal(env *domain.Envelope) {
	switch env.Type {
	case domain.MsgUserConnected:
		// The offering side starts negotiation as soon as a peer is present,
		// whether it joined first or second.
		if s.cfg.Role.Initiator() && s.state == StateJoined {
			s.startOffer(false)
		}

	case domain.MsgOffer:
		s.handleOffer(env)

	case domain.MsgAnswer:
		s.handleAnswer(env)

	case domain.MsgCandidate:
		s.handleCandidate(env)

	case domain.MsgUserDisconnected:
		if s.state == StateNegotiating || s.state == StateConnected {
			s.logger.Infow("peer left the call", "participant_id", env.ParticipantID)
			s.finish()
		}

	case domain.MsgCallEnded:
		s.finish()

	case domain.MsgError:
		var payload domain.ErrorPayload
		json.Unmarshal(env.Payload, &payload)
		s.fail(negotiationError(payload.Message, nil))

	default:
		s.logger.Warnw("ignoring unknown signal", "type", env.Type)
	}
}

func (s *Session) handleOffer(env *domain.Envelope) {
	if s.cfg.Role.Initiator() {
		// Only the doctor offers; an offer arriving here means the peer is
		// misbehaving. Ignoring it preserves our own negotiation.
		s.logger.Warnw("discarding unexpected offer on offering side")
		return
	}
	if s.state != StateJoined && s.state != StateNegotiating && s.state != StateConnected {
		return
	}

	var payload domain.SessionDescriptionPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		s.fail(negotiationError("received a malformed offer", err))
		return
	}

	// A re-offer while connected is an ICE restart; go through negotiation
	// again with a fresh timeout.
	s.setState(StateNegotiating)
	s.armConnectTimer()

	answerSDP, err := s.peer.CreateAnswer(payload.SDP)
	if err != nil {
		s.fail(negotiationError("could not answer the call", err))
		return
	}
	s.remoteDescSet = true
	s.drainCandidates()

	if err := s.sendDescription(domain.MsgAnswer, answerSDP); err != nil {
		s.fail(transportError("could not send the answer", err))
	}
}

func (s *Session) handleAnswer(env *domain.Envelope) {
	if !s.cfg.Role.Initiator() || s.state != StateNegotiating {
		s.logger.Warnw("discarding unexpected answer", "state", s.state)
		return
	}

	var payload domain.SessionDescriptionPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		s.fail(negotiationError("received a malformed answer", err))
		return
	}

	if err := s.peer.AcceptAnswer(payload.SDP); err != nil {
		s.fail(negotiationError("could not apply the answer", err))
		return
	}
	s.remoteDescSet = true
	s.drainCandidates()
}

func (s *Session) handleCandidate(env *domain.Envelope) {
	var payload domain.CandidatePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		s.logger.Warnw("discarding malformed candidate payload", "error", err)
		return
	}

	if !s.remoteDescSet {
		s.pendingCandidates = append(s.pendingCandidates, payload.Candidate)
		return
	}
	if err := s.peer.AddCandidate(payload.Candidate); err != nil {
		// A single bad candidate is not fatal; the rest may still connect.
		s.logger.Warnw("failed to add remote candidate", "error", err)
	}
}

func (s *Session) drainCandidates() {
	for _, candidate := range s.pendingCandidates {
		if err := s.peer.AddCandidate(candidate); err != nil {
			s.logger.Warnw("failed to add queued candidate", "error", err)
		}
	}
	s.pendingCandidates = nil
}

func (s *Session) handlePeerState(state PeerConnState) {
	switch state {
	case PeerConnected:
		if s.state == StateNegotiating {
			s.stopConnectTimer()
			s.setState(StateConnected)
		}

	case PeerFailed:
		if s.state != StateNegotiating && s.state != StateConnected {
			return
		}
		// Try an ICE restart before giving up; the signaling channel is
		// still up, only the media path failed.
		if s.cfg.Role.Initiator() {
			s.logger.Infow("peer connection failed, attempting ICE restart")
			s.startOffer(true)
		} else {
			s.logger.Infow("peer connection failed, waiting for restart offer")
			s.setState(StateNegotiating)
			s.armConnectTimer()
		}

	case PeerDisconnected:
		// Often transient; pion recovers or escalates to failed.
		s.logger.Warnw("peer connection degraded")
	}
}

func (s *Session) startOffer(iceRestart bool) {
	s.setState(StateNegotiating)
	s.armConnectTimer()

	sdp, err := s.peer.CreateOffer(iceRestart)
	if err != nil {
		s.fail(negotiationError("could not start the call", err))
		return
	}
	if err := s.sendDescription(domain.MsgOffer, sdp); err != nil {
		s.fail(transportError("could not send the offer", err))
	}
}

func (s *Session) sendDescription(msgType domain.MessageType, sdp string) error {
	payload, err := json.Marshal(domain.SessionDescriptionPayload{SDP: sdp})
	if err != nil {
		return err
	}
	return s.sendEnvelope(&domain.Envelope{
		Type:          msgType,
		CallID:        s.cfg.CallID,
		ParticipantID: s.cfg.ParticipantID,
		Payload:       payload,
	})
}

func (s *Session) sendCandidate(candidateJSON string) {
	if s.state.terminal() {
		return
	}
	payload, err := json.Marshal(domain.CandidatePayload{Candidate: candidateJSON})
	if err != nil {
		return
	}
	if err := s.sendEnvelope(&domain.Envelope{
		Type:          domain.MsgCandidate,
		CallID:        s.cfg.CallID,
		ParticipantID: s.cfg.ParticipantID,
		Payload:       payload,
	}); err != nil {
		s.logger.Warnw("failed to send local candidate", "error", err)
	}
}

func (s *Session) sendEnvelope(env *domain.Envelope) error {
	return s.transport.Send(env)
}

func (s *Session) handleHangUp() {
	if s.state.terminal() {
		return
	}
	// Best effort: the relay also detects the socket close.
	s.sendEnvelope(&domain.Envelope{
		Type:          domain.MsgEndCall,
		CallID:        s.cfg.CallID,
		ParticipantID: s.cfg.ParticipantID,
	})
	s.finish()
}

func (s *Session) armConnectTimer() {
	s.stopConnectTimer()
	s.connectTimer = time.AfterFunc(s.cfg.ConnectTimeout, func() {
		s.enqueue(event{kind: evConnectTimeout})
	})
}

func (s *Session) stopConnectTimer() {
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
}

// finish tears down and marks a normal end.
func (s *Session) finish() {
	s.teardown()
	s.setState(StateEnded)
}

// fail tears down and marks a terminal error. Returns the error so the early
// exits in Run can `return s.fail(...)`.
func (s *Session) fail(callErr *CallError) error {
	s.stateMu.Lock()
	s.err = callErr
	s.stateMu.Unlock()
	s.teardown()
	s.setState(StateError)
	return callErr
}

// teardown releases everything the session acquired. Each step runs
// independently so a failure in one never leaks the others, and every step
// tolerates being reached from any lifecycle point.
func (s *Session) teardown() {
	s.stopConnectTimer()

	if s.peer != nil {
		if err := s.peer.Close(); err != nil {
			s.logger.Warnw("error closing peer connection", "error", err)
		}
		s.peer = nil
	}
	if s.media != nil {
		s.media.Stop()
		s.media = nil
	}
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			s.logger.Warnw("error closing transport", "error", err)
		}
	}
}

// setState runs on the event loop goroutine only; the lock is for the
// State/Err accessors.
func (s *Session) setState(state State) {
	if s.state == state {
		return
	}
	s.logger.Debugw("session state change", "from", s.state, "to", state)
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
	if s.onState != nil {
		s.onState(state)
	}
}

// asCallError normalizes an arbitrary error into a CallError of the given
// kind, preserving an existing CallError untouched.
func asCallError(err error, kind ErrorKind) *CallError {
	if ce, ok := err.(*CallError); ok {
		return ce
	}
	switch kind {
	case ErrKindMedia:
		return mediaError(err)
	case ErrKindTransport:
		return transportError("connection failed", err)
	default:
		return negotiationError("call setup failed", err)
	}
}
