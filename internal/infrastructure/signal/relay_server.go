package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"medlink/internal/core/domain"
	"medlink/internal/core/ports"
	"medlink/internal/core/services"
	"medlink/internal/infrastructure/monitoring"
	"medlink/pkg/tracing"
	"medlink/pkg/utils"
	"medlink/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Options configure the relay's transport behavior.
type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64   // 0 disables the read limit
	MessageRate    float64 // messages/second per connection; 0 disables
	MessageBurst   int
}

// DefaultOptions mirror the defaults in pkg/config.
func DefaultOptions() Options {
	return Options{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// connection pairs a websocket with a write lock; gorilla connections do not
// support concurrent writers and forwards arrive from other connections'
// goroutines.
type connection struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// RelayServer is the signaling relay: a payload-blind router between the
// members of a call room. It keeps no negotiation state; offers, answers and
// candidates pass through as raw bytes and are never inspected beyond the
// routing fields. All forwarding is fire-and-forget.
type RelayServer struct {
	registry ports.RoomRegistry
	presence ports.PresenceNotifier
	auth     services.AuthService
	metrics  *monitoring.Collector
	opts     Options

	conns map[domain.ConnectionID]*connection
	mu    sync.RWMutex

	logger *zap.SugaredLogger
}

func NewRelayServer(registry ports.RoomRegistry, auth services.AuthService, metrics *monitoring.Collector, opts Options, logger *zap.Logger) *RelayServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &RelayServer{
		registry: registry,
		auth:     auth,
		metrics:  metrics,
		opts:     opts,
		conns:    make(map[domain.ConnectionID]*connection),
		logger:   logger.Sugar(),
	}
	s.presence = services.NewPresenceTracker(registry, s, s.logger)
	return s
}

// HandleWebSocket authenticates and serves one signaling connection.
func (s *RelayServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.auth.ValidateToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	connID := domain.ConnectionID(utils.NewConnectionID())
	conn := &connection{ws: ws}

	s.mu.Lock()
	s.conns[connID] = conn
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ConnectionOpened()
	}

	s.logger.Infow("participant connected",
		"conn_id", connID,
		"participant_id", claims.ParticipantID,
		"role", claims.Role,
	)

	if s.opts.MaxMessageSize > 0 {
		ws.SetReadLimit(s.opts.MaxMessageSize)
	}
	ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		return nil
	})

	var limiter *rate.Limiter
	if s.opts.MessageRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.opts.MessageRate), s.opts.MessageBurst)
	}

	pingTicker := time.NewTicker(s.opts.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan domain.Envelope, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var env domain.Envelope
			if err := ws.ReadJSON(&env); err != nil {
				errorChan <- err
				return
			}
			ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
			messageChan <- env
		}
	}()

	for {
		select {
		case env := <-messageChan:
			if limiter != nil && !limiter.Allow() {
				s.sendError(connID, "message rate exceeded")
				continue
			}
			if err := s.handleMessage(r.Context(), connID, claims, &env); err != nil {
				s.logger.Infow("error handling message",
					"conn_id", connID,
					"type", env.Type,
					"error", err,
				)
				s.sendError(connID, err.Error())
			}

		case <-pingTicker.C:
			conn.mu.Lock()
			ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			err := ws.WriteMessage(websocket.PingMessage, nil)
			conn.mu.Unlock()
			if err != nil {
				s.logger.Debugw("ping failed", "conn_id", connID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("read error", "conn_id", connID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.mu.Lock()
	delete(s.conns, connID)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ConnectionClosed()
	}

	// An abrupt disconnect carries leave semantics: the remaining member
	// learns about it from presence, not from a timeout.
	if left, _ := s.registry.Leave(context.Background(), connID); left != nil {
		s.presence.MemberLeft(*left)
		s.recordRooms()
	}

	s.logger.Infow("participant disconnected", "conn_id", connID)
}

func (s *RelayServer) handleMessage(ctx context.Context, connID domain.ConnectionID, claims *services.ConsultClaims, env *domain.Envelope) error {
	ctx, span := tracing.TraceSignalMessage(ctx, string(env.Type), string(connID))
	defer span.End()

	var err error
	switch env.Type {
	case domain.MsgJoinCall:
		err = s.handleJoin(ctx, connID, claims, env)
	case domain.MsgOffer, domain.MsgAnswer, domain.MsgCandidate:
		err = s.forward(ctx, connID, env)
	case domain.MsgEndCall:
		err = s.handleEndCall(ctx, connID)
	default:
		err = domain.ErrUnknownMessageType
	}

	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

func (s *RelayServer) handleJoin(ctx context.Context, connID domain.ConnectionID, claims *services.ConsultClaims, env *domain.Envelope) error {
	callID := env.CallID
	if err := validation.ValidateCallID(string(callID)); err != nil {
		return err
	}
	// Consult tokens are scoped to one appointment.
	if claims.CallID != "" && claims.CallID != callID {
		return domain.ErrCallScopeMismatch
	}

	m := domain.Member{
		ConnID:        connID,
		CallID:        callID,
		ParticipantID: claims.ParticipantID,
		Role:          claims.Role,
		JoinedAt:      time.Now(),
	}

	evicted, err := s.registry.Join(ctx, m)
	if err != nil {
		if s.metrics != nil {
			s.metrics.JoinRejected()
		}
		return err
	}

	if evicted != nil {
		s.logger.Infow("evicting stale connection for re-joining participant",
			"call_id", callID,
			"participant_id", m.ParticipantID,
			"stale_conn", evicted.ConnID,
		)
		s.closeConn(evicted.ConnID)
	}

	s.logger.Infow("participant joined call",
		"call_id", callID,
		"participant_id", m.ParticipantID,
		"role", m.Role,
		"conn_id", connID,
	)
	if s.metrics != nil {
		s.metrics.Joined()
		// Room just filled: measure how long the first participant waited.
		if others := s.registry.MembersOf(ctx, callID, connID); len(others) == 1 {
			s.metrics.RoomFilled(m.JoinedAt.Sub(others[0].JoinedAt))
		}
	}
	s.recordRooms()

	s.presence.MemberJoined(m)
	return nil
}

// forward routes an offer/answer/candidate to every other current member of
// the sender's room. The payload is passed through byte-for-byte; a forward
// to a member whose connection is gone is silently dropped, never queued.
func (s *RelayServer) forward(ctx context.Context, connID domain.ConnectionID, env *domain.Envelope) error {
	sender, ok := s.registry.Lookup(ctx, connID)
	if !ok {
		return domain.ErrNotJoined
	}

	out := &domain.Envelope{
		Type:          env.Type,
		CallID:        sender.CallID,
		ParticipantID: sender.ParticipantID,
		Payload:       env.Payload,
	}

	for _, target := range s.registry.MembersOf(ctx, sender.CallID, connID) {
		if err := s.Send(target.ConnID, out); err != nil {
			s.logger.Debugw("forward dropped",
				"type", env.Type,
				"call_id", sender.CallID,
				"target_conn", target.ConnID,
				"error", err,
			)
			continue
		}
		if s.metrics != nil {
			s.metrics.MessageForwarded(string(env.Type))
		}
	}
	return nil
}

func (s *RelayServer) handleEndCall(ctx context.Context, connID domain.ConnectionID) error {
	sender, ok := s.registry.Lookup(ctx, connID)
	if !ok {
		return domain.ErrNotJoined
	}

	ended := &domain.Envelope{Type: domain.MsgCallEnded, CallID: sender.CallID}
	for _, target := range s.registry.MembersOf(ctx, sender.CallID, connID) {
		if err := s.Send(target.ConnID, ended); err != nil {
			s.logger.Debugw("call-ended notification dropped",
				"call_id", sender.CallID,
				"target_conn", target.ConnID,
				"error", err,
			)
		}
	}

	if left, _ := s.registry.Leave(ctx, connID); left != nil {
		s.presence.MemberLeft(*left)
	}
	s.recordRooms()

	s.logger.Infow("call ended",
		"call_id", sender.CallID,
		"participant_id", sender.ParticipantID,
	)
	return nil
}

// Send implements ports.SignalSender.
func (s *RelayServer) Send(connID domain.ConnectionID, env *domain.Envelope) error {
	s.mu.RLock()
	conn, exists := s.conns[connID]
	s.mu.RUnlock()

	if !exists {
		return domain.ErrConnectionGone
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	conn.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	return conn.ws.WriteJSON(env)
}

func (s *RelayServer) sendError(connID domain.ConnectionID, message string) {
	payload, _ := json.Marshal(domain.ErrorPayload{Message: message})
	s.Send(connID, &domain.Envelope{Type: domain.MsgError, Payload: payload})
}

func (s *RelayServer) closeConn(connID domain.ConnectionID) {
	s.mu.RLock()
	conn, exists := s.conns[connID]
	s.mu.RUnlock()
	if exists {
		conn.ws.Close()
	}
}

// Stats returns current connection and active room counts for the status
// side-channel.
func (s *RelayServer) Stats() (connections, rooms int) {
	s.mu.RLock()
	connections = len(s.conns)
	s.mu.RUnlock()

	_, rooms = s.registry.Stats(context.Background())
	return connections, rooms
}

func (s *RelayServer) recordRooms() {
	if s.metrics == nil {
		return
	}
	_, rooms := s.registry.Stats(context.Background())
	s.metrics.SetActiveRooms(rooms)
}

// HealthCheck serves the liveness endpoint on the signaling listener.
func (s *RelayServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	connections, rooms := s.Stats()

	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": connections,
		"rooms":       rooms,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
