package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Handler contains HTTP handlers
type Handler struct {
	processor *service.Processor
	queue     OrderQueue
}

// OrderQueue is the slice of the event publisher the async endpoint needs.
// *broker.EventPublisher satisfies it.
type OrderQueue interface {
	PublishOrderSubmitted(ctx context.Context, event *models.OrderSubmittedEvent) error
}

// NewHandler creates a new HTTP handler
func NewHandler(processor *service.Processor, queue OrderQueue) *Handler {
	return &Handler{
		processor: processor,
		queue:     queue,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.POST("/orders/async", h.submitOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/:id/audit", h.getAuditTrail)
		v1.POST("/orders/:id/fulfill", h.fulfillOrder)
		v1.POST("/orders/:id/complete", h.completeOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.POST("/orders/:id/refund", h.refundOrder)
		v1.GET("/customers/:id/orders", h.listCustomerOrders)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder runs the checkout saga synchronously and returns its result.
// Business failures (declines, unavailability) come back as 422 with a
// stable error code; infrastructure faults as 500 so callers can retry.
func (h *Handler) createOrder(c *gin.Context) {
	var req service.ProcessOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	result, err := h.processor.ProcessOrder(c.Request.Context(), &req)
	if err != nil {
		var procErr *service.OrderProcessingError
		if errors.As(err, &procErr) {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":    "processing_error",
				"order_id": procErr.OrderID,
				"details":  procErr.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "processing_error",
			"details": err.Error(),
		})
		return
	}

	if !result.Success {
		if result.ErrorCode == service.CodeIdempotencyConflict {
			c.JSON(http.StatusConflict, result)
			return
		}
		c.JSON(http.StatusUnprocessableEntity, result)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// submitOrder queues the checkout for the background worker.
func (h *Handler) submitOrder(c *gin.Context) {
	var req service.ProcessOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	items := make([]models.OrderItemData, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, models.OrderItemData{
			BookID:    it.BookID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	event := &models.OrderSubmittedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderSubmitted,
			Timestamp: time.Now().UTC(),
		},
		IdempotencyKey: req.IdempotencyKey,
		CustomerID:     req.CustomerID,
		Currency:       req.Currency,
		Tax:            req.Tax,
		Shipping:       req.Shipping,
		PaymentMethod:  req.PaymentMethod,
		Items:          items,
	}

	if err := h.queue.PublishOrderSubmitted(c.Request.Context(), event); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Failed to queue order",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"idempotency_key": req.IdempotencyKey,
		"status":          "queued",
	})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.processor.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// listCustomerOrders returns a customer's orders, newest first
func (h *Handler) listCustomerOrders(c *gin.Context) {
	orders, err := h.processor.ListCustomerOrders(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customer_id": c.Param("id"), "orders": orders})
}

// getAuditTrail returns the transition history for an order
func (h *Handler) getAuditTrail(c *gin.Context) {
	entries, err := h.processor.GetAuditTrail(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": c.Param("id"), "entries": entries})
}

func (h *Handler) fulfillOrder(c *gin.Context) {
	order, err := h.processor.MarkFulfilling(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) completeOrder(c *gin.Context) {
	order, err := h.processor.CompleteOrder(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Reason == "" {
		body.Reason = "cancelled by request"
	}

	order, err := h.processor.CancelOrder(c.Request.Context(), c.Param("id"), body.Reason, actorFrom(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) refundOrder(c *gin.Context) {
	var body struct {
		Amount *decimal.Decimal `json:"amount,omitempty"`
	}
	_ = c.ShouldBindJSON(&body)

	order, err := h.processor.RefundOrder(c.Request.Context(), c.Param("id"), body.Amount, actorFrom(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// renderError maps domain errors onto HTTP statuses.
func (h *Handler) renderError(c *gin.Context, err error) {
	var invalidErr *service.InvalidTransitionError
	switch {
	case errors.Is(err, store.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
	case errors.As(err, &invalidErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"details": invalidErr.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"details": err.Error(),
		})
	}
}

func actorFrom(c *gin.Context) *string {
	if principal := c.GetHeader("X-Acting-Principal"); principal != "" {
		return &principal
	}
	return nil
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
