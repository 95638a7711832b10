package http

import (
	"net/http"
	"time"

	"medlink/internal/core/domain"
	"medlink/internal/core/ports"
	"medlink/internal/core/services"
	"medlink/internal/infrastructure/middleware"
	"medlink/internal/infrastructure/monitoring"
	apperrors "medlink/pkg/errors"
	"medlink/pkg/validation"

	"github.com/gin-gonic/gin"
)

// RelayStats is the side-channel status source, implemented by the relay
// server. Operational monitoring only; not part of the negotiation protocol.
type RelayStats interface {
	Stats() (connections, rooms int)
}

type ConsultationHandler struct {
	consultations ports.ConsultationRepository
	authService   services.AuthService
	relay         RelayStats
	health        *monitoring.HealthChecker
}

func NewConsultationHandler(
	consultations ports.ConsultationRepository,
	authService services.AuthService,
	relay RelayStats,
	health *monitoring.HealthChecker,
) *ConsultationHandler {
	return &ConsultationHandler{
		consultations: consultations,
		authService:   authService,
		relay:         relay,
		health:        health,
	}
}

func (h *ConsultationHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/tokens", h.IssueToken)
		api.GET("/status", h.Status)
		api.GET("/health", h.Health)

		authed := api.Group("", middleware.AuthMiddleware(h.authService))
		{
			authed.GET("/consultations/:id/prescription", h.GetPrescription)
			authed.PUT("/consultations/:id/prescription", h.UpdatePrescription)
		}
	}
}

// IssueToken mints a consult token scoped to one appointment. In a full
// deployment the platform's login sits in front of this endpoint.
func (h *ConsultationHandler) IssueToken(c *gin.Context) {
	var req struct {
		ParticipantID string `json:"participant_id" binding:"required"`
		Role          string `json:"role" binding:"required"`
		CallID        string `json:"call_id" binding:"required"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateParticipantID(req.ParticipantID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateCallID(req.CallID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role := domain.Role(req.Role)
	if !role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrInvalidRole.Error()})
		return
	}

	token, err := h.authService.IssueConsultToken(
		domain.ParticipantID(req.ParticipantID),
		role,
		domain.CallID(req.CallID),
	)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"token": token})
}

func (h *ConsultationHandler) GetPrescription(c *gin.Context) {
	callID := c.Param("id")
	if err := validation.ValidateCallID(callID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	consultation, err := h.consultations.Get(c.Request.Context(), domain.CallID(callID))
	if err != nil {
		if err == domain.ErrConsultationNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "consultation not found"})
			return
		}
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"consultation": consultation})
}

func (h *ConsultationHandler) UpdatePrescription(c *gin.Context) {
	callID := c.Param("id")
	if err := validation.ValidateCallID(callID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req struct {
		Prescription string `json:"prescription" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidatePrescription(req.Prescription); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing claims"})
		return
	}
	// Prescriptions are written by the doctor.
	if claims.Role != domain.RoleDoctor {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the doctor can update a prescription"})
		return
	}

	consultation := &domain.Consultation{
		AppointmentID: domain.CallID(callID),
		Prescription:  req.Prescription,
		UpdatedBy:     claims.ParticipantID,
		UpdatedAt:     time.Now(),
	}
	if err := h.consultations.Update(c.Request.Context(), consultation); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"consultation": consultation})
}

// Status is the operational side-channel: current connection and room
// counts.
func (h *ConsultationHandler) Status(c *gin.Context) {
	connections, rooms := h.relay.Stats()
	c.JSON(http.StatusOK, gin.H{
		"connections":  connections,
		"active_rooms": rooms,
		"timestamp":    time.Now().Unix(),
	})
}

func (h *ConsultationHandler) Health(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}

	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *ConsultationHandler) writeError(c *gin.Context, err error) {
	if appErr := apperrors.AsAppError(err); appErr != nil {
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Message, "code": appErr.Code})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
