package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mapleportal/internal/model"
	"mapleportal/internal/transport/http/response"
)

type ThreadStore interface {
	ListRecent(ctx context.Context, limit int) ([]model.Thread, error)
	GetByThreadID(ctx context.Context, threadID string) (*model.Thread, error)
	DeleteByThreadID(ctx context.Context, threadID string) error
}

type MessageStore interface {
	ListByThreadID(ctx context.Context, threadID string, limit int) ([]model.Message, error)
	DeleteByThreadID(ctx context.Context, threadID string) error
}

// ArchiveHandler serves the transcript archive written by the archive worker.
type ArchiveHandler struct {
	threads  ThreadStore
	messages MessageStore
}

func NewArchiveHandler(threads ThreadStore, messages MessageStore) *ArchiveHandler {
	return &ArchiveHandler{threads: threads, messages: messages}
}

func (h *ArchiveHandler) ListThreads(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	threads, err := h.threads.ListRecent(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list threads failed")
		return
	}
	response.OK(c, threads)
}

func (h *ArchiveHandler) GetThread(c *gin.Context) {
	id := c.Param("id")
	thread, err := h.threads.GetByThreadID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get thread failed")
		return
	}
	if thread == nil {
		response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, "thread not found")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	messages, err := h.messages.ListByThreadID(c.Request.Context(), id, limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list messages failed")
		return
	}
	response.OK(c, gin.H{"thread": thread, "messages": messages})
}

func (h *ArchiveHandler) DeleteThread(c *gin.Context) {
	id := c.Param("id")
	if err := h.messages.DeleteByThreadID(c.Request.Context(), id); err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete messages failed")
		return
	}
	if err := h.threads.DeleteByThreadID(c.Request.Context(), id); err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete thread failed")
		return
	}
	response.OK(c, gin.H{"deleted_thread_id": id})
}
