package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mapleportal/internal/ai"
	"mapleportal/internal/app"
	"mapleportal/internal/cache"
	"mapleportal/internal/chatbot"
	"mapleportal/internal/transport/http/response"
)

const (
	EventToken = "token"
	EventError = "error"

	doneFrame = "data: [DONE]\n\n"
)

type ChatHandler struct {
	chatService *app.ChatService
	logger      *zap.Logger
}

type GenerateRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type GenerateResponse struct {
	Response string `json:"response"`
	Thinking string `json:"thinking"`
}

// StreamEvent is the JSON payload of one SSE frame.
type StreamEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func NewChatHandler(chatService *app.ChatService, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{chatService: chatService, logger: logger.Named("handler.chat")}
}

func (h *ChatHandler) bind(c *gin.Context) (app.TurnInput, bool) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return app.TurnInput{}, false
	}
	input, err := h.chatService.Validate(app.TurnInput{SessionID: req.SessionID, Message: req.Message})
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		return app.TurnInput{}, false
	}
	return input, true
}

func (h *ChatHandler) Generate(c *gin.Context) {
	input, ok := h.bind(c)
	if !ok {
		return
	}

	result, err := h.chatService.Generate(c.Request.Context(), input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenerateResponse{Response: result.Response, Thinking: result.Thinking})
}

func (h *ChatHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, cache.ErrSessionBusy):
		response.Error(c, http.StatusConflict, response.CodeSessionBusy, "another turn is in progress for this session")
	case errors.Is(err, ai.ErrLLMUnavailable):
		response.Error(c, http.StatusInternalServerError, response.CodeLLMUnavailable, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, err.Error())
	}
}

// streamsToClient reports whether tokens of node reach the client.
func streamsToClient(node string) bool {
	return node == chatbot.NodeGenerateRAG || node == chatbot.NodeGenerateChat
}

// sseWriter commits the event-stream headers on the first frame, so that
// errors raised before any output can still be sent as plain JSON.
type sseWriter struct {
	c       *gin.Context
	flusher http.Flusher
	started bool
}

func (w *sseWriter) start() {
	if w.started {
		return
	}
	w.started = true
	w.c.Header("Content-Type", "text/event-stream")
	w.c.Header("Cache-Control", "no-cache")
	w.c.Header("Connection", "keep-alive")
	w.c.Header("X-Accel-Buffering", "no")
	w.c.Status(http.StatusOK)
}

func (w *sseWriter) raw(frame []byte) error {
	w.start()
	if _, err := w.c.Writer.Write(frame); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) event(typ, content string) error {
	var buf bytes.Buffer
	buf.WriteString("data: ")
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(StreamEvent{Type: typ, Content: content}); err != nil {
		return err
	}
	// Encode appends one newline; a frame ends with a blank line.
	buf.WriteString("\n")
	return w.raw(buf.Bytes())
}

func (h *ChatHandler) Stream(c *gin.Context) {
	input, ok := h.bind(c)
	if !ok {
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}
	w := &sseWriter{c: c, flusher: flusher}
	ctx := c.Request.Context()

	_, err := h.chatService.Stream(ctx, input, func(e chatbot.Event) error {
		if !streamsToClient(e.Node) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return w.event(EventToken, e.Content)
	})
	if err != nil {
		if ctx.Err() != nil {
			h.logger.Info("client disconnected", zap.String("session_id", input.SessionID))
			return
		}
		if !w.started && errors.Is(err, cache.ErrSessionBusy) {
			h.writeError(c, err)
			return
		}
		if writeErr := w.event(EventError, err.Error()); writeErr != nil {
			return
		}
	}
	_ = w.raw([]byte(doneFrame))
}

func (h *ChatHandler) GetSession(c *gin.Context) {
	view, err := h.chatService.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get session failed")
		}
		return
	}
	response.OK(c, view)
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.chatService.ClearSession(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, cache.ErrSessionBusy):
			response.Error(c, http.StatusConflict, response.CodeSessionBusy, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete session failed")
		}
		return
	}
	response.OK(c, gin.H{"deleted_session_id": id})
}
