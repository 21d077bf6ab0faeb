package attestation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/socialblocklabs/arp-agent/internal/logging"
	"github.com/socialblocklabs/arp-agent/internal/validation"
)

// Handler provides HTTP endpoints for attestations
type Handler struct {
	service *Service
}

// NewHandler creates a new attestation handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up attestation endpoints. The group is expected to
// carry the api key middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/attestations", h.Submit)
	r.GET("/attestations/:address", h.Get)
}

// Submit stores an attestation, replacing any previous one for the address.
// POST /v1/attestations
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if validation.IsBodyTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":  "payload_too_large",
				"detail": "request body exceeds 1MB",
			})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "validation_error",
			"detail": "request body must be a JSON attestation object",
		})
		return
	}

	a, err := h.service.Put(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SubmitResponse{
		OK:        true,
		Address:   a.Address,
		Timestamp: a.Timestamp,
	})
}

// Get returns the stored attestation for an address.
// GET /v1/attestations/:address
func (h *Handler) Get(c *gin.Context) {
	a, err := h.service.Get(c.Request.Context(), c.Param("address"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var verrs validation.Errors
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "detail": "not found"})
	case errors.Is(err, ErrInvalidAttestation):
		detail := "invalid attestation"
		if errors.As(err, &verrs) {
			detail = verrs.Error()
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation_error", "detail": detail})
	default:
		logging.L(c.Request.Context()).Error("attestation request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "detail": err.Error()})
	}
}
