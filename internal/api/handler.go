package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pos-engine/internal/ledger"
	"pos-engine/internal/orders"
	"pos-engine/internal/syncer"
	"pos-engine/internal/util"
)

// Handler contains HTTP handlers
type Handler struct {
	syncer  *syncer.Syncer
	machine *orders.Machine
	ledger  *ledger.Ledger
}

// NewHandler creates a new HTTP handler
func NewHandler(s *syncer.Syncer, m *orders.Machine, l *ledger.Ledger) *Handler {
	return &Handler{
		syncer:  s,
		machine: m,
		ledger:  l,
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
		v1.GET("/tables", h.listTables)
		v1.POST("/tables", h.createTable)
		v1.GET("/tables/:id", h.getTable)
		v1.DELETE("/tables/:id", h.deleteTable)

		v1.POST("/tables/:id/items", h.addItem)
		v1.DELETE("/tables/:id/items/:itemId", h.removeItem)
		v1.POST("/tables/:id/preparing", h.markPreparing)
		v1.POST("/tables/:id/ready", h.markReady)
		v1.POST("/tables/:id/payment", h.confirmPayment)
		v1.POST("/tables/:id/cancel", h.cancel)

		v1.GET("/products/:id/availability", h.availability)
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

func (h *Handler) listTables(c *gin.Context) {
	tables, err := h.machine.ListTables(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list tables"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tables": tables})
}

type createTableRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *Handler) createTable(c *gin.Context) {
	var req createTableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	table, err := h.machine.CreateTable(c.Request.Context(), req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create table"})
		return
	}
	c.JSON(http.StatusCreated, table)
}

func (h *Handler) getTable(c *gin.Context) {
	table, err := h.machine.GetTable(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.tableError(c, err)
		return
	}
	c.JSON(http.StatusOK, table)
}

func (h *Handler) deleteTable(c *gin.Context) {
	err := h.machine.DeleteTable(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, orders.ErrTableNotFree) {
			c.JSON(http.StatusConflict, gin.H{"error": "Table has an open tab"})
			return
		}
		h.tableError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type addItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

func (h *Handler) addItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	order, ok, err := h.syncer.AddItem(c.Request.Context(), c.Param("id"), req.ProductID, req.Quantity)
	if err != nil {
		h.tableError(c, err)
		return
	}
	if !ok {
		// Normal negative result, not a server error.
		c.JSON(http.StatusConflict, gin.H{"error": "Insufficient stock"})
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) removeItem(c *gin.Context) {
	order, err := h.syncer.RemoveItem(c.Request.Context(), c.Param("id"), c.Param("itemId"))
	if err != nil {
		h.tableError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) markPreparing(c *gin.Context) {
	order, err := h.machine.MarkPreparing(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.tableError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) markReady(c *gin.Context) {
	order, err := h.machine.MarkReady(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.tableError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) confirmPayment(c *gin.Context) {
	order, err := h.syncer.ConfirmPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.tableError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancel(c *gin.Context) {
	var req cancelRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.syncer.Cancel(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		h.tableError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) availability(c *gin.Context) {
	available, err := h.ledger.Available(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read availability"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product_id": c.Param("id"),
		"available":  available,
	})
}

func (h *Handler) tableError(c *gin.Context, err error) {
	if errors.Is(err, orders.ErrTableNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Table not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Operation failed", "details": err.Error()})
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
