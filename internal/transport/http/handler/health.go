package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mapleportal/internal/ai"
	"mapleportal/internal/bootstrap"
)

type HealthHandler struct {
	app *bootstrap.App
}

type dependencyStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func NewHealthHandler(app *bootstrap.App) *HealthHandler {
	return &HealthHandler{app: app}
}

func status(err error) dependencyStatus {
	if err != nil {
		return dependencyStatus{OK: false, Message: err.Error()}
	}
	return dependencyStatus{OK: true}
}

// Check reports every configured dependency; unconfigured ones are omitted.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	deps := gin.H{}
	allOK := true
	add := func(name string, s dependencyStatus) {
		deps[name] = s
		allOK = allOK && s.OK
	}

	if h.app.Vectors != nil {
		add("vector_store", status(h.app.Vectors.Ping(ctx)))
	}
	if h.app.Redis != nil {
		add("redis", status(h.app.Redis.Ping(ctx).Err()))
	}
	if h.app.MQConn != nil {
		add("rabbitmq", h.checkRabbitMQ())
	}
	if h.app.ArchiveDB != nil {
		add("archive_db", h.checkArchive(ctx))
	}
	if h.app.LLM != nil {
		s := dependencyStatus{OK: true, Message: h.app.LLM.Name()}
		if p, ok := h.app.LLM.(ai.Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				s = status(err)
			}
		}
		add("llm", s)
	}

	statusCode := http.StatusOK
	if !allOK {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{
		"app":          h.app.Config.App.Name,
		"env":          h.app.Config.App.Env,
		"uptime_sec":   int(time.Since(h.app.StartedAt).Seconds()),
		"dependencies": deps,
	})
}

func (h *HealthHandler) checkArchive(ctx context.Context) dependencyStatus {
	sqlDB, err := h.app.ArchiveDB.DB()
	if err != nil {
		return status(err)
	}
	return status(sqlDB.PingContext(ctx))
}

func (h *HealthHandler) checkRabbitMQ() dependencyStatus {
	if h.app.MQConn.IsClosed() {
		return dependencyStatus{OK: false, Message: "connection closed"}
	}
	return dependencyStatus{OK: true}
}
