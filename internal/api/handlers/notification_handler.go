package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"example.com/farmgate/services/orders/internal/api/middleware"
	"example.com/farmgate/services/orders/internal/services"
)

// NotificationHandler handles notification HTTP requests
type NotificationHandler struct {
	orderService *services.OrderService
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(orderService *services.OrderService) *NotificationHandler {
	return &NotificationHandler{orderService: orderService}
}

// HandleListNotifications lists the caller's notifications
func (h *NotificationHandler) HandleListNotifications(c *gin.Context) {
	unreadOnly := c.Query("unread") == "true"

	notifications, err := h.orderService.ListNotifications(c.Request.Context(), middleware.Actor(c), unreadOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// HandleMarkRead marks one of the caller's notifications as read
func (h *NotificationHandler) HandleMarkRead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return
	}

	if err := h.orderService.MarkNotificationRead(c.Request.Context(), middleware.Actor(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// HandleUnreadCount returns the caller's unread notification count
func (h *NotificationHandler) HandleUnreadCount(c *gin.Context) {
	count, err := h.orderService.UnreadNotificationCount(c.Request.Context(), middleware.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

// RegisterRoutes registers the handler's routes
func (h *NotificationHandler) RegisterRoutes(group *gin.RouterGroup) {
	notifications := group.Group("/notifications")
	{
		notifications.GET("", h.HandleListNotifications)
		notifications.GET("/unread-count", h.HandleUnreadCount)
		notifications.POST("/:id/read", h.HandleMarkRead)
	}
}
