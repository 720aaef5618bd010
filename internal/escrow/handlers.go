package escrow

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/amplygigs/payments/internal/ledger"
	"github.com/amplygigs/payments/internal/logging"
	"github.com/amplygigs/payments/internal/metrics"
	"github.com/amplygigs/payments/internal/paygate"
)

// Verifier authenticates and normalizes an inbound webhook.
type Verifier interface {
	VerifyAndNormalize(rawBody []byte, header http.Header) (*paygate.PaymentEvent, error)
}

// Settler applies payout settlement events to withdrawals.
type Settler interface {
	Complete(ctx context.Context, reference string) error
	FailSettlement(ctx context.Context, reference, reason string) error
}

// Handler provides HTTP endpoints for webhooks and escrow operations.
type Handler struct {
	service  *Service
	verifier Verifier
	settler  Settler
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service, verifier Verifier, settler Settler) *Handler {
	return &Handler{service: service, verifier: verifier, settler: settler}
}

// RegisterRoutes sets up the webhook and read-only escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/payments", h.HandleWebhook)
	r.GET("/escrow/:id", h.GetEscrow)
}

// RegisterAdminRoutes sets up routes gated by the admin middleware.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/escrow/:id/release", h.ReleaseEscrow)
}

// HandleWebhook handles POST /v1/webhooks/payments.
//
// A 2xx is sent only after the event's money movement (or its failure
// annotation) is durably recorded; anything else returns 5xx so the provider
// retries. Signature failures are 401 and are never retried into a credit.
func (h *Handler) HandleWebhook(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Failed to read request body",
		})
		return
	}

	event, err := h.verifier.VerifyAndNormalize(rawBody, c.Request.Header)
	switch {
	case errors.Is(err, paygate.ErrInvalidSignature):
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "invalid_signature",
			"message": "Webhook signature verification failed",
		})
		return
	case errors.Is(err, paygate.ErrUnknownProvider):
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "unknown_provider",
			"message": "Could not identify webhook provider",
		})
		return
	case errors.Is(err, paygate.ErrMalformedPayload):
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "malformed").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "malformed_payload",
			"message": "Webhook payload could not be parsed",
		})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Webhook processing failed",
		})
		return
	}

	if event == nil {
		// Verified but not a kind this service acts on
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	metrics.WebhookEventsTotal.WithLabelValues(event.Provider, "accepted").Inc()
	ctx := c.Request.Context()

	switch event.Kind {
	case paygate.KindChargeSuccess:
		entry, err := h.service.Credit(ctx, event)
		if err != nil {
			// Not durably recorded: the provider must retry
			logging.L(ctx).Error("webhook credit not durable",
				"reference", event.Reference, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "credit_failed",
				"message": "Payment could not be recorded",
			})
			return
		}
		resp := gin.H{"status": "processed"}
		if entry != nil {
			resp["escrowId"] = entry.ID
		}
		c.JSON(http.StatusOK, resp)

	case paygate.KindTransferSuccess:
		if err := h.settler.Complete(ctx, event.Reference); err != nil {
			h.settlementResponse(c, event.Reference, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "processed"})

	case paygate.KindTransferFailed:
		if err := h.settler.FailSettlement(ctx, event.Reference, event.Reason); err != nil {
			h.settlementResponse(c, event.Reference, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "processed"})

	default:
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	}
}

// settlementResponse acks settlement events this service has no record of
// (another environment's transfer) and 5xxes real failures.
func (h *Handler) settlementResponse(c *gin.Context, reference string, err error) {
	if errors.Is(err, ErrSettlementUnknown) {
		logging.L(c.Request.Context()).Warn("settlement for unknown withdrawal",
			"reference", reference)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	logging.L(c.Request.Context()).Error("settlement failed",
		"reference", reference, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "settlement_failed",
		"message": "Transfer settlement could not be recorded",
	})
}

// GetEscrow handles GET /v1/escrow/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	entry, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrEscrowNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Escrow entry not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": entry})
}

// ReleaseEscrow handles POST /v1/escrow/:id/release
func (h *Handler) ReleaseEscrow(c *gin.Context) {
	entry, err := h.service.Release(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ledger.ErrEscrowNotFound):
			status = http.StatusNotFound
			code = "not_found"
		case errors.Is(err, ledger.ErrEscrowNotHeld):
			status = http.StatusConflict
			code = "invalid_state"
		case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrWalletNotFound):
			status = http.StatusConflict
			code = "ledger_inconsistent"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": entry})
}
