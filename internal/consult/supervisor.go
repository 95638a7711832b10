package consult

import (
	"context"
	"sync"
	"time"

	"medlink/pkg/retry"

	"go.uber.org/zap"
)

// Status is the coarse transport state reported to the UI layer. It is
// deliberately simpler than the session state: it answers "can I reach the
// relay" and nothing else.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Supervisor owns the transport connection lifecycle: it dials with a
// bounded linear backoff and publishes status transitions. It never retries
// forever; when the attempt bound is exhausted the failure is surfaced and
// the user decides what happens next.
type Supervisor struct {
	transport Transport
	policy    retry.Config
	onStatus  func(Status)

	mu      sync.Mutex
	status  Status
	dialing bool

	logger *zap.SugaredLogger
}

func NewSupervisor(transport Transport, policy retry.Config, onStatus func(Status), logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		transport: transport,
		policy:    policy,
		onStatus:  onStatus,
		status:    StatusDisconnected,
		logger:    logger.Sugar(),
	}
}

// Connect dials the relay, retrying per the configured policy. Cancelling
// the context aborts any pending backoff wait.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.dialing {
		s.mu.Unlock()
		return nil
	}
	s.dialing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.dialing = false
		s.mu.Unlock()
	}()

	s.setStatus(StatusConnecting)

	attempt := 0
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			s.logger.Infow("retrying relay connection", "attempt", attempt)
		}
		return s.transport.Connect(ctx)
	})
	if err != nil {
		s.setStatus(StatusError)
		return transportError("could not reach the consultation server", err)
	}

	s.setStatus(StatusConnected)
	return nil
}

// MarkDisconnected records that an established connection dropped. The
// session calls this when the incoming channel closes.
func (s *Supervisor) MarkDisconnected() {
	s.setStatus(StatusDisconnected)
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Supervisor) setStatus(status Status) {
	s.mu.Lock()
	changed := s.status != status
	s.status = status
	s.mu.Unlock()

	if changed && s.onStatus != nil {
		s.onStatus(status)
	}
}

// DefaultPolicy is the dial policy: three attempts with linearly growing
// delay starting at the configured base.
func DefaultPolicy(attempts int, baseDelay time.Duration) retry.Config {
	cfg := retry.DefaultConfig()
	if attempts > 0 {
		cfg.MaxAttempts = attempts
	}
	if baseDelay > 0 {
		cfg.InitialDelay = baseDelay
	}
	return cfg
}
