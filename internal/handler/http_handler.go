package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weiawesome/wes-io-live/internal/domain"
	"github.com/weiawesome/wes-io-live/internal/service"
	"github.com/weiawesome/wes-io-live/pkg/middleware"
	"github.com/weiawesome/wes-io-live/pkg/response"
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HTTPHandler struct {
	engine service.Engine
	ws     *WSHandler
	auth   *middleware.AuthMiddleware
	store  Pinger
}

func NewHTTPHandler(engine service.Engine, ws *WSHandler, auth *middleware.AuthMiddleware, store Pinger) *HTTPHandler {
	return &HTTPHandler{
		engine: engine,
		ws:     ws,
		auth:   auth,
		store:  store,
	}
}

func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", gin.WrapF(h.ws.HandleWebSocket))
	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1", h.auth.RequireAuth())
	{
		api.GET("/presence/:user_id", h.GetPresence)
		api.GET("/notifications", h.ListNotifications)
	}
}

type notificationResponse struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"created_at"`
}

func (h *HTTPHandler) GetPresence(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		response.BadRequest(c, "user_id is required")
		return
	}
	p, err := h.engine.GetPresence(c.Request.Context(), userID)
	if err != nil {
		response.InternalError(c, "failed to get presence")
		return
	}
	response.Success(c, p)
}

func (h *HTTPHandler) ListNotifications(c *gin.Context) {
	unread := false
	if s := c.Query("unread"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			response.BadRequest(c, "unread must be a boolean")
			return
		}
		unread = v
	}

	limit := defaultLimit
	if s := c.Query("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = min(v, maxLimit)
	}

	list, err := h.engine.ListNotifications(c.Request.Context(), middleware.GetUserID(c), unread, limit)
	if err != nil {
		response.InternalError(c, "failed to list notifications")
		return
	}
	out := make([]notificationResponse, len(list))
	for i, n := range list {
		out[i] = toNotificationResponse(n)
	}
	response.Success(c, out)
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		response.Error(c, http.StatusServiceUnavailable, "UNAVAILABLE", "store unreachable")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": h.ws.hub.Count(),
	})
}
