package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/humanoid-lab/motion-bridge/internal/session"
	"github.com/humanoid-lab/motion-bridge/internal/store"
	"github.com/humanoid-lab/motion-bridge/internal/ws"
)

// SessionView exposes the controller state to HTTP observers.
type SessionView interface {
	Snapshot() session.State
}

// MotionLister enumerates stored motion records.
type MotionLister interface {
	List() []store.Info
}

// NewRouter executes the newRouter function.
func NewRouter(view SessionView, motions MotionLister, wsHandler *ws.Handler, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/api/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, view.Snapshot())
	})

	router.GET("/api/motions", func(c *gin.Context) {
		infos := motions.List()
		items := make([]gin.H, 0, len(infos))
		for _, info := range infos {
			items = append(items, gin.H{
				"id":         info.ID,
				"created_at": info.CreatedAt.Format(time.RFC3339),
			})
		}
		c.JSON(http.StatusOK, gin.H{"count": len(items), "motions": items})
	})

	router.GET("/client-ws", func(c *gin.Context) {
		wsHandler.Handle(c.Writer, c.Request)
	})

	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		if logger == nil {
			return
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
		)
	}
}
