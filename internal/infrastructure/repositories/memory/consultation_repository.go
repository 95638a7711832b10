package memory

import (
	"context"
	"sync"

	"medlink/internal/core/domain"
	"medlink/internal/core/ports"
)

type MemoryConsultationRepository struct {
	consultations map[domain.CallID]*domain.Consultation
	mu            sync.RWMutex
}

func NewMemoryConsultationRepository() ports.ConsultationRepository {
	return &MemoryConsultationRepository{
		consultations: make(map[domain.CallID]*domain.Consultation),
	}
}

func (r *MemoryConsultationRepository) Get(ctx context.Context, id domain.CallID) (*domain.Consultation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.consultations[id]
	if !exists {
		return nil, domain.ErrConsultationNotFound
	}

	copied := *c
	return &copied, nil
}

func (r *MemoryConsultationRepository) Update(ctx context.Context, c *domain.Consultation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *c
	r.consultations[c.AppointmentID] = &copied
	return nil
}
