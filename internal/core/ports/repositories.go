package ports

import (
	"context"

	"medlink/internal/core/domain"
)

// ConsultationRepository is the document-store collaborator holding the
// appointment's prescription text and timestamps. Simple get/update only;
// the signaling core never touches it.
type ConsultationRepository interface {
	Get(ctx context.Context, id domain.CallID) (*domain.Consultation, error)
	Update(ctx context.Context, c *domain.Consultation) error
}
