package reliability

import (
	"context"

	"medlink/internal/core/domain"
	"medlink/internal/core/ports"
	"medlink/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// ConsultationRepository wraps a document-store backend with a circuit
// breaker so a down store degrades to fast failures instead of piling up
// slow timeouts in the HTTP handlers.
type ConsultationRepository struct {
	inner   ports.ConsultationRepository
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

func NewConsultationRepository(inner ports.ConsultationRepository, cfg circuitbreaker.Config, logger *zap.SugaredLogger) *ConsultationRepository {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ConsultationRepository{
		inner:   inner,
		breaker: circuitbreaker.New(cfg),
		logger:  logger,
	}
}

func (r *ConsultationRepository) Get(ctx context.Context, id domain.CallID) (*domain.Consultation, error) {
	var result *domain.Consultation
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		c, err := r.inner.Get(ctx, id)
		if err == domain.ErrConsultationNotFound {
			// A miss is an answer, not a store failure.
			result = nil
			return nil
		}
		result = c
		return err
	})
	if err != nil {
		r.logFailure("get", err)
		return nil, err
	}
	if result == nil {
		return nil, domain.ErrConsultationNotFound
	}
	return result, nil
}

func (r *ConsultationRepository) Update(ctx context.Context, c *domain.Consultation) error {
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.inner.Update(ctx, c)
	})
	if err != nil {
		r.logFailure("update", err)
	}
	return err
}

func (r *ConsultationRepository) logFailure(op string, err error) {
	if err == circuitbreaker.ErrOpen {
		r.logger.Warnw("consultation store call rejected, circuit open", "op", op)
		return
	}
	r.logger.Errorw("consultation store call failed", "op", op, "error", err)
}
