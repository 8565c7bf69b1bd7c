package control

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ddsrecorder/internal/logger"
	"ddsrecorder/internal/recorder"
)

// Recorder is the command surface the control API drives. Commands are
// executed sequentially from the HTTP handler goroutine.
type Recorder interface {
	Start() error
	Pause() error
	Stop(onDestruction bool) error
	TriggerEvent()
	Status() recorder.Status
}

// Handler exposes the recorder commands over HTTP.
type Handler struct {
	rec Recorder
	log logger.Logger
}

func NewHandler(rec Recorder, log logger.Logger) *Handler {
	return &Handler{rec: rec, log: log}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/v1")
	v1.POST("/start", h.start)
	v1.POST("/pause", h.pause)
	v1.POST("/stop", h.stop)
	v1.POST("/event", h.triggerEvent)
	v1.GET("/status", h.status)
}

func (h *Handler) start(c *gin.Context) {
	if err := h.rec.Start(); err != nil {
		h.log.Errorw("Start command failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.rec.Status())
}

func (h *Handler) pause(c *gin.Context) {
	if err := h.rec.Pause(); err != nil {
		h.log.Errorw("Pause command failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.rec.Status())
}

func (h *Handler) stop(c *gin.Context) {
	if err := h.rec.Stop(false); err != nil {
		h.log.Errorw("Stop command failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.rec.Status())
}

func (h *Handler) triggerEvent(c *gin.Context) {
	h.rec.TriggerEvent()
	c.JSON(http.StatusOK, h.rec.Status())
}

func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.rec.Status())
}
