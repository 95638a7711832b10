package consult

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"medlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTransport struct {
	mu       sync.Mutex
	sent     []*domain.Envelope
	incoming chan *domain.Envelope
	closed   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{incoming: make(chan *domain.Envelope, 16)}
}

func (t *fakeTransport) Connect(ctx context.Context) error { return nil }

func (t *fakeTransport) Send(env *domain.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, env)
	return nil
}

func (t *fakeTransport) Incoming() <-chan *domain.Envelope { return t.incoming }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) deliver(env *domain.Envelope) {
	t.incoming <- env
}

func (t *fakeTransport) sentOfType(msgType domain.MessageType) []*domain.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*domain.Envelope
	for _, env := range t.sent {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func (t *fakeTransport) waitForType(tb testing.TB, msgType domain.MessageType) *domain.Envelope {
	tb.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if envs := t.sentOfType(msgType); len(envs) > 0 {
			return envs[0]
		}
		select {
		case <-deadline:
			tb.Fatalf("timed out waiting for %s", msgType)
			return nil
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type fakePeer struct {
	mu         sync.Mutex
	offers     int
	answers    int
	accepted   []string
	candidates []string
	closed     bool

	onState func(PeerConnState)
}

func (p *fakePeer) CreateOffer(iceRestart bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers++
	return "offer-sdp", nil
}

func (p *fakePeer) CreateAnswer(offerSDP string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers++
	return "answer-sdp", nil
}

func (p *fakePeer) AcceptAnswer(sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accepted = append(p.accepted, sdp)
	return nil
}

func (p *fakePeer) AddCandidate(candidateJSON string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, candidateJSON)
	return nil
}

func (p *fakePeer) OnLocalCandidate(fn func(string)) {}

func (p *fakePeer) OnStateChange(fn func(PeerConnState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) fireState(state PeerConnState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (p *fakePeer) snapshot() fakePeer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fakePeer{
		offers:     p.offers,
		answers:    p.answers,
		accepted:   append([]string(nil), p.accepted...),
		candidates: append([]string(nil), p.candidates...),
		closed:     p.closed,
	}
}

type fakeMedia struct {
	mu      sync.Mutex
	stopped bool
}

func (m *fakeMedia) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *fakeMedia) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

type sessionHarness struct {
	session   *Session
	transport *fakeTransport
	peer      *fakePeer
	media     *fakeMedia
	done      chan error
}

func startSession(t *testing.T, role domain.Role, timeout time.Duration) *sessionHarness {
	t.Helper()

	transport := newFakeTransport()
	peer := &fakePeer{}
	media := &fakeMedia{}

	supervisor := NewSupervisor(transport, DefaultPolicy(1, time.Millisecond), nil, nil)
	session := NewSession(
		SessionConfig{
			CallID:         "appt-42",
			ParticipantID:  "p-1",
			Role:           role,
			ConnectTimeout: timeout,
		},
		supervisor,
		transport,
		func() (MediaSource, error) { return media, nil },
		func(MediaSource) (PeerLink, error) { return peer, nil },
		nil,
		zap.NewNop(),
	)

	h := &sessionHarness{
		session:   session,
		transport: transport,
		peer:      peer,
		media:     media,
		done:      make(chan error, 1),
	}
	go func() {
		h.done <- session.Run(context.Background())
	}()

	// Joining is the first observable step for every scenario.
	transport.waitForType(t, domain.MsgJoinCall)
	return h
}

func (h *sessionHarness) waitDone(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish in time")
		return nil
	}
}

func sdpEnvelope(t *testing.T, msgType domain.MessageType, sdp string) *domain.Envelope {
	t.Helper()
	payload, err := json.Marshal(domain.SessionDescriptionPayload{SDP: sdp})
	require.NoError(t, err)
	return &domain.Envelope{Type: msgType, CallID: "appt-42", ParticipantID: "p-2", Payload: payload}
}

func candidateEnvelope(t *testing.T, candidate string) *domain.Envelope {
	t.Helper()
	payload, err := json.Marshal(domain.CandidatePayload{Candidate: candidate})
	require.NoError(t, err)
	return &domain.Envelope{Type: domain.MsgCandidate, CallID: "appt-42", ParticipantID: "p-2", Payload: payload}
}

func presenceEnvelope(t *testing.T, msgType domain.MessageType) *domain.Envelope {
	t.Helper()
	payload, err := json.Marshal(domain.PresencePayload{ParticipantID: "p-2", Role: domain.RolePatient})
	require.NoError(t, err)
	return &domain.Envelope{Type: msgType, CallID: "appt-42", ParticipantID: "p-2", Payload: payload}
}

func TestDoctorOffersWhenPeerConnects(t *testing.T) {
	h := startSession(t, domain.RoleDoctor, 5*time.Second)

	h.transport.deliver(presenceEnvelope(t, domain.MsgUserConnected))
	offer := h.transport.waitForType(t, domain.MsgOffer)

	var payload domain.SessionDescriptionPayload
	require.NoError(t, json.Unmarshal(offer.Payload, &payload))
	assert.Equal(t, "offer-sdp", payload.SDP)
	assert.Equal(t, domain.CallID("appt-42"), offer.CallID)

	h.transport.deliver(sdpEnvelope(t, domain.MsgAnswer, "remote-answer"))
	h.peer.fireState(PeerConnected)

	assert.Eventually(t, func() bool {
		return h.session.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	snap := h.peer.snapshot()
	assert.Equal(t, []string{"remote-answer"}, snap.accepted)

	h.session.HangUp()
	require.NoError(t, h.waitDone(t))
}

func TestPatientNeverOffers(t *testing.T) {
	h := startSession(t, domain.RolePatient, 5*time.Second)

	h.transport.deliver(presenceEnvelope(t, domain.MsgUserConnected))
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, h.transport.sentOfType(domain.MsgOffer))
	assert.Equal(t, StateJoined, h.session.State())

	h.session.HangUp()
	require.NoError(t, h.waitDone(t))
}

func TestPatientAnswersOffer(t *testing.T) {
	h := startSession(t, domain.RolePatient, 5*time.Second)

	h.transport.deliver(sdpEnvelope(t, domain.MsgOffer, "remote-offer"))
	answer := h.transport.waitForType(t, domain.MsgAnswer)

	var payload domain.SessionDescriptionPayload
	require.NoError(t, json.Unmarshal(answer.Payload, &payload))
	assert.Equal(t, "answer-sdp", payload.SDP)

	h.peer.fireState(PeerConnected)
	assert.Eventually(t, func() bool {
		return h.session.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	h.session.HangUp()
	require.NoError(t, h.waitDone(t))
}

func TestCandidatesQueueUntilRemoteDescription(t *testing.T) {
	h := startSession(t, domain.RolePatient, 5*time.Second)

	// Candidates racing ahead of the offer must not reach the peer yet.
	h.transport.deliver(candidateEnvelope(t, "cand-1"))
	h.transport.deliver(candidateEnvelope(t, "cand-2"))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.peer.snapshot().candidates)

	h.transport.deliver(sdpEnvelope(t, domain.MsgOffer, "remote-offer"))
	h.transport.waitForType(t, domain.MsgAnswer)

	// Queued candidates drain in arrival order once the description lands.
	assert.Eventually(t, func() bool {
		snap := h.peer.snapshot()
		return len(snap.candidates) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"cand-1", "cand-2"}, h.peer.snapshot().candidates)

	// Later candidates apply immediately.
	h.transport.deliver(candidateEnvelope(t, "cand-3"))
	assert.Eventually(t, func() bool {
		return len(h.peer.snapshot().candidates) == 3
	}, 2*time.Second, 5*time.Millisecond)

	h.session.HangUp()
	require.NoError(t, h.waitDone(t))
}

func TestNegotiationTimeout(t *testing.T) {
	h := startSession(t, domain.RoleDoctor, 50*time.Millisecond)

	h.transport.deliver(presenceEnvelope(t, domain.MsgUserConnected))
	h.transport.waitForType(t, domain.MsgOffer)

	err := h.waitDone(t)
	require.Error(t, err)

	callErr, ok := err.(*CallError)
	require.True(t, ok)
	assert.Equal(t, ErrKindTimeout, callErr.Kind)
	assert.Equal(t, StateError, h.session.State())

	// Teardown must be complete even on the timeout path.
	assert.True(t, h.peer.snapshot().closed)
	assert.True(t, h.media.isStopped())
}

func TestHangUpTearsDownEverything(t *testing.T) {
	h := startSession(t, domain.RoleDoctor, 5*time.Second)

	h.session.HangUp()
	require.NoError(t, h.waitDone(t))

	assert.Equal(t, StateEnded, h.session.State())
	assert.NotEmpty(t, h.transport.sentOfType(domain.MsgEndCall))
	assert.True(t, h.peer.snapshot().closed)
	assert.True(t, h.media.isStopped())
	h.transport.mu.Lock()
	closed := h.transport.closed
	h.transport.mu.Unlock()
	assert.True(t, closed)
}

func TestCallEndedByPeer(t *testing.T) {
	h := startSession(t, domain.RolePatient, 5*time.Second)

	h.transport.deliver(&domain.Envelope{Type: domain.MsgCallEnded, CallID: "appt-42"})
	require.NoError(t, h.waitDone(t))

	assert.Equal(t, StateEnded, h.session.State())
	assert.True(t, h.peer.snapshot().closed)
	assert.True(t, h.media.isStopped())
}

func TestTransportDropFailsSession(t *testing.T) {
	h := startSession(t, domain.RoleDoctor, 5*time.Second)

	close(h.transport.incoming)
	err := h.waitDone(t)
	require.Error(t, err)

	callErr, ok := err.(*CallError)
	require.True(t, ok)
	assert.Equal(t, ErrKindTransport, callErr.Kind)
}

func TestIceFailureTriggersRestartOffer(t *testing.T) {
	h := startSession(t, domain.RoleDoctor, 5*time.Second)

	h.transport.deliver(presenceEnvelope(t, domain.MsgUserConnected))
	h.transport.waitForType(t, domain.MsgOffer)
	h.transport.deliver(sdpEnvelope(t, domain.MsgAnswer, "remote-answer"))
	h.peer.fireState(PeerConnected)
	assert.Eventually(t, func() bool {
		return h.session.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	h.peer.fireState(PeerFailed)

	// A second offer goes out and the session drops back to negotiating.
	assert.Eventually(t, func() bool {
		return h.peer.snapshot().offers == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateNegotiating, h.session.State())

	h.peer.fireState(PeerConnected)
	assert.Eventually(t, func() bool {
		return h.session.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	h.session.HangUp()
	require.NoError(t, h.waitDone(t))
}

func TestServerErrorIsTerminal(t *testing.T) {
	h := startSession(t, domain.RolePatient, 5*time.Second)

	payload, err := json.Marshal(domain.ErrorPayload{Message: "call is full"})
	require.NoError(t, err)
	h.transport.deliver(&domain.Envelope{Type: domain.MsgError, Payload: payload})

	runErr := h.waitDone(t)
	require.Error(t, runErr)

	callErr, ok := runErr.(*CallError)
	require.True(t, ok)
	assert.Equal(t, ErrKindNegotiation, callErr.Kind)
	assert.Contains(t, callErr.Message, "call is full")
}

func TestMediaFailureSurfacesAdvice(t *testing.T) {
	transport := newFakeTransport()
	supervisor := NewSupervisor(transport, DefaultPolicy(1, time.Millisecond), nil, nil)
	session := NewSession(
		SessionConfig{CallID: "appt-42", ParticipantID: "p-1", Role: domain.RolePatient},
		supervisor,
		transport,
		func() (MediaSource, error) { return nil, mediaError(assert.AnError) },
		func(MediaSource) (PeerLink, error) { return &fakePeer{}, nil },
		nil,
		zap.NewNop(),
	)

	err := session.Run(context.Background())
	require.Error(t, err)

	callErr, ok := err.(*CallError)
	require.True(t, ok)
	assert.Equal(t, ErrKindMedia, callErr.Kind)
	assert.NotEmpty(t, callErr.Advice)
	assert.Equal(t, StateError, session.State())
}
