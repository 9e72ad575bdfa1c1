package statushandler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pagechatgo/internal/services/presence"
)

const version = "0.1.0"

type Handler struct {
	svc       presence.IPresenceService
	env       string
	startedAt time.Time
}

func New(svc presence.IPresenceService, env string) *Handler {
	return &Handler{svc: svc, env: env, startedAt: time.Now()}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/health", h.health)
	r.GET("/api/status", h.status)
	r.GET("/test", h.test)
}

// health reports full room and username statistics. Read-only, no side
// effects; snapshots are not linearized with concurrent joins.
func (h *Handler) health(c *gin.Context) {
	stats := h.svc.GetStats()
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "ok",
		Timestamp:   time.Now().UTC(),
		Uptime:      time.Since(h.startedAt).Seconds(),
		Rooms:       stats.Rooms,
		Usernames:   stats.Usernames,
		Environment: h.env,
	})
}

func (h *Handler) status(c *gin.Context) {
	stats := h.svc.GetStats()
	c.JSON(http.StatusOK, StatusResponse{
		Status:  "pagechat server running",
		Version: version,
		Rooms:   stats.Rooms.TotalRooms,
		Users:   stats.Rooms.TotalUsers,
	})
}

// test is a plain reachability endpoint for the extension's connection check.
func (h *Handler) test(c *gin.Context) {
	origin := c.GetHeader("Origin")
	if origin == "" {
		origin = "no-origin"
	}
	c.JSON(http.StatusOK, TestResponse{
		Message:   "Server is accessible",
		Timestamp: time.Now().UTC(),
		Origin:    origin,
	})
}
