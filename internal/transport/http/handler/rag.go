package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mapleportal/internal/app"
	"mapleportal/internal/transport/http/response"
)

const maxUploadSize = 10 << 20

type RAGHandler struct {
	ragService *app.RAGAdminService
}

func NewRAGHandler(ragService *app.RAGAdminService) *RAGHandler {
	return &RAGHandler{ragService: ragService}
}

func (h *RAGHandler) Reindex(c *gin.Context) {
	result, err := h.ragService.Reindex(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, err.Error())
		return
	}
	response.OK(c, result)
}

func (h *RAGHandler) Stats(c *gin.Context) {
	stats, err := h.ragService.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusServiceUnavailable, response.CodeServiceUnavailable, err.Error())
		return
	}
	response.OK(c, stats)
}

func (h *RAGHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if file.Size > maxUploadSize {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file too large (max 10MB)")
		return
	}
	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	defer f.Close()

	result, err := h.ragService.Upload(c.Request.Context(), app.UploadInput{
		Category: c.PostForm("category"),
		Filename: file.Filename,
		Body:     f,
	})
	if err != nil {
		if errors.Is(err, app.ErrInvalidInput) {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "upload failed: "+err.Error())
		return
	}
	response.OK(c, result)
}

func (h *RAGHandler) DeleteDocument(c *gin.Context) {
	id := c.Param("id")
	if err := h.ragService.DeleteDocument(c.Request.Context(), id); err != nil {
		if errors.Is(err, app.ErrInvalidInput) {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete document failed")
		return
	}
	response.OK(c, gin.H{"deleted_document_id": id})
}

func (h *RAGHandler) ClearCollection(c *gin.Context) {
	if err := h.ragService.ClearCollection(c.Request.Context()); err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "clear collection failed")
		return
	}
	response.OK(c, gin.H{"cleared": true})
}
