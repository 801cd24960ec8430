package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/farmgate/services/orders/internal/api/middleware"
	"example.com/farmgate/services/orders/internal/repositories"
	"example.com/farmgate/services/orders/internal/services"
	"example.com/farmgate/services/orders/internal/tracing"
	"example.com/farmgate/services/orders/internal/workflow"
)

// OrderHandler handles order workflow HTTP requests
type OrderHandler struct {
	orderService *services.OrderService
	tracer       tracing.Tracer
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(orderService *services.OrderService, tracer tracing.Tracer) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
		tracer:       tracer,
	}
}

// statusForError maps workflow error kinds to HTTP status codes
func statusForError(err error) int {
	switch workflow.KindOf(err) {
	case workflow.KindValidation:
		return http.StatusBadRequest
	case workflow.KindForbidden:
		return http.StatusForbidden
	case workflow.KindNotFound:
		return http.StatusNotFound
	case workflow.KindPrecondition, workflow.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the error with its mapped status code
func respondError(c *gin.Context, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// requestContext extracts caller provenance for the activity log
func requestContext(c *gin.Context) services.RequestContext {
	return services.RequestContext{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// orderID parses the :id path parameter
func orderID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return uuid.Nil, false
	}
	return id, true
}

// HandleCreateOrder creates a new purchase request
func (h *OrderHandler) HandleCreateOrder(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-create-order")
	defer h.tracer.EndTransaction(txn)

	var req services.CreateOrderInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	actor := middleware.Actor(c)
	h.tracer.AddAttribute(txn, "order_type", string(req.OrderType))
	h.tracer.AddAttribute(txn, "requested_by", actor.Username)

	order, err := h.orderService.CreateOrder(c.Request.Context(), actor, req, requestContext(c))
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// HandleListOrders lists the orders visible to the caller
func (h *OrderHandler) HandleListOrders(c *gin.Context) {
	filter := repositories.ListFilter{
		Status:    workflow.Status(c.Query("status")),
		OrderType: workflow.OrderType(c.Query("order_type")),
		Urgency:   workflow.Urgency(c.Query("urgency")),
		Search:    c.Query("search"),
	}

	orders, err := h.orderService.ListOrders(c.Request.Context(), middleware.Actor(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

// HandleSearchOrders resolves a free-text search against the order index
func (h *OrderHandler) HandleSearchOrders(c *gin.Context) {
	orders, err := h.orderService.SearchOrders(c.Request.Context(), middleware.Actor(c), c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

// HandleGetOrder returns one order with its items, quotes and ledger
func (h *OrderHandler) HandleGetOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), middleware.Actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// HandleGetStats returns the dashboard statistics
func (h *OrderHandler) HandleGetStats(c *gin.Context) {
	stats, err := h.orderService.GetDashboardStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HandleManagerApprove records the initial manager ruling
func (h *OrderHandler) HandleManagerApprove(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-manager-approve")
	defer h.tracer.EndTransaction(txn)

	id, ok := orderID(c)
	if !ok {
		return
	}

	var req services.DecisionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orderService.ManagerApprove(c.Request.Context(), middleware.Actor(c), id, req, requestContext(c))
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// HandleSubmitQuotes stores a procurement quote set
func (h *OrderHandler) HandleSubmitQuotes(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-submit-quotes")
	defer h.tracer.EndTransaction(txn)

	id, ok := orderID(c)
	if !ok {
		return
	}

	var req services.QuoteSetInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orderService.SubmitQuote(c.Request.Context(), middleware.Actor(c), id, req, requestContext(c))
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// HandleApproveQuote rules on a submitted quote set
func (h *OrderHandler) HandleApproveQuote(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-approve-quote")
	defer h.tracer.EndTransaction(txn)

	id, ok := orderID(c)
	if !ok {
		return
	}

	var req services.ApproveQuoteInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orderService.ApproveQuote(c.Request.Context(), middleware.Actor(c), id, req, requestContext(c))
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// HandleApproveMixedQuote approves a per-item selection across suppliers
func (h *OrderHandler) HandleApproveMixedQuote(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-approve-mixed-quote")
	defer h.tracer.EndTransaction(txn)

	id, ok := orderID(c)
	if !ok {
		return
	}

	var req services.MixedQuoteInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orderService.ApproveMixedQuote(c.Request.Context(), middleware.Actor(c), id, req, requestContext(c))
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// HandleCompletePayment records the finance payment
func (h *OrderHandler) HandleCompletePayment(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-complete-payment")
	defer h.tracer.EndTransaction(txn)

	id, ok := orderID(c)
	if !ok {
		return
	}

	var req services.PaymentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orderService.CompletePayment(c.Request.Context(), middleware.Actor(c), id, req, requestContext(c))
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// HandleCompleteOrder marks a paid order delivered
func (h *OrderHandler) HandleCompleteOrder(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-complete-order")
	defer h.tracer.EndTransaction(txn)

	id, ok := orderID(c)
	if !ok {
		return
	}

	order, err := h.orderService.CompleteOrder(c.Request.Context(), middleware.Actor(c), id, requestContext(c))
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// HandleSubmitRevision resubmits a revised order
func (h *OrderHandler) HandleSubmitRevision(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-submit-revision")
	defer h.tracer.EndTransaction(txn)

	id, ok := orderID(c)
	if !ok {
		return
	}

	var req services.RevisionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orderService.SubmitRevision(c.Request.Context(), middleware.Actor(c), id, req, requestContext(c))
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// HandleSplitOrder splits a pending order into approved child orders
func (h *OrderHandler) HandleSplitOrder(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-split-order")
	defer h.tracer.EndTransaction(txn)

	id, ok := orderID(c)
	if !ok {
		return
	}

	var req services.SplitInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	children, err := h.orderService.SplitAndApprove(c.Request.Context(), middleware.Actor(c), id, req, requestContext(c))
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"orders": children, "count": len(children)})
}

// HandleAddComment attaches a comment to an order
func (h *OrderHandler) HandleAddComment(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	var req services.CommentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	comment, err := h.orderService.AddComment(c.Request.Context(), middleware.Actor(c), id, req, requestContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// HandleListComments lists an order's comments
func (h *OrderHandler) HandleListComments(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	comments, err := h.orderService.ListComments(c.Request.Context(), middleware.Actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

// HandleGetActivity returns an order's audit trail
func (h *OrderHandler) HandleGetActivity(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	activities, err := h.orderService.GetOrderActivity(c.Request.Context(), middleware.Actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activities": activities})
}

// HandleGetApprovals returns the order's approval ledger by stage
func (h *OrderHandler) HandleGetApprovals(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	ledger, err := h.orderService.GetApprovalLedger(c.Request.Context(), middleware.Actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"approvals": ledger})
}

// HandleRecentActivity returns the newest audit entries across orders
func (h *OrderHandler) HandleRecentActivity(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	activities, err := h.orderService.RecentActivity(c.Request.Context(), middleware.Actor(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activities": activities})
}

// HandleDeleteOrder removes an order entirely
func (h *OrderHandler) HandleDeleteOrder(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-delete-order")
	defer h.tracer.EndTransaction(txn)

	id, ok := orderID(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := h.orderService.DeleteOrder(c.Request.Context(), middleware.Actor(c), id, req.Reason, requestContext(c)); err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RegisterRoutes registers the handler's routes
func (h *OrderHandler) RegisterRoutes(group *gin.RouterGroup) {
	orders := group.Group("/orders")
	{
		orders.POST("", h.HandleCreateOrder)
		orders.GET("", h.HandleListOrders)
		orders.GET("/stats", h.HandleGetStats)
		orders.GET("/search", h.HandleSearchOrders)
		orders.GET("/:id", h.HandleGetOrder)
		orders.DELETE("/:id", h.HandleDeleteOrder)
		orders.POST("/:id/approve", h.HandleManagerApprove)
		orders.POST("/:id/quotes", h.HandleSubmitQuotes)
		orders.POST("/:id/approve-quote", h.HandleApproveQuote)
		orders.POST("/:id/approve-mixed-quote", h.HandleApproveMixedQuote)
		orders.POST("/:id/payment", h.HandleCompletePayment)
		orders.POST("/:id/complete", h.HandleCompleteOrder)
		orders.PUT("/:id/revision", h.HandleSubmitRevision)
		orders.POST("/:id/split", h.HandleSplitOrder)
		orders.POST("/:id/comments", h.HandleAddComment)
		orders.GET("/:id/comments", h.HandleListComments)
		orders.GET("/:id/activity", h.HandleGetActivity)
		orders.GET("/:id/approvals", h.HandleGetApprovals)
	}
	group.GET("/activity", h.HandleRecentActivity)
}
