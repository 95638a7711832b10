package memory

import (
	"context"
	"testing"
	"time"

	"medlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsultationRepository_GetUnknownReturnsNotFound(t *testing.T) {
	repo := NewMemoryConsultationRepository()

	_, err := repo.Get(context.Background(), "appt-42")
	assert.ErrorIs(t, err, domain.ErrConsultationNotFound)
}

func TestConsultationRepository_UpdateThenGet(t *testing.T) {
	repo := NewMemoryConsultationRepository()
	ctx := context.Background()

	c := &domain.Consultation{
		AppointmentID: "appt-42",
		Prescription:  "Paracetamol 500mg",
		UpdatedBy:     "doc-1",
		UpdatedAt:     time.Now(),
	}
	require.NoError(t, repo.Update(ctx, c))

	got, err := repo.Get(ctx, "appt-42")
	require.NoError(t, err)
	assert.Equal(t, c.Prescription, got.Prescription)
	assert.Equal(t, c.UpdatedBy, got.UpdatedBy)

	// Returned value is a copy; mutating it must not leak into the store.
	got.Prescription = "mutated"
	again, err := repo.Get(ctx, "appt-42")
	require.NoError(t, err)
	assert.Equal(t, "Paracetamol 500mg", again.Prescription)
}
