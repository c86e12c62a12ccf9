package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	"github/itish2003/pointer/models"
	"github/itish2003/pointer/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ChatController streams chat completions as server-sent events.
type ChatController struct {
	chatService services.ChatService
	logger      *zap.Logger
}

func NewChatController(service services.ChatService, logger *zap.Logger) *ChatController {
	return &ChatController{chatService: service, logger: logger.Named("chat-controller")}
}

// Stream handles POST /api/chat and /chat. Failures before the first token are JSON errors;
// failures after it are reported in-stream and the stream ends without [DONE].
func (c *ChatController) Stream(ctx *gin.Context) {
	var req models.ChatRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body: " + err.Error()})
		return
	}

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		h := ctx.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		ctx.Status(http.StatusOK)
	}

	err := c.chatService.Stream(ctx.Request.Context(), req, func(token string) error {
		start()
		if err := writeEvent(ctx, models.StreamToken{Response: token}); err != nil {
			return err
		}
		return ctx.Request.Context().Err()
	})

	if err != nil {
		if !started {
			writeServiceError(ctx, c.logger, err, "Failed to generate chat response")
			return
		}
		c.logger.Warn("chat stream aborted", zap.Error(err))
		_ = writeEvent(ctx, models.StreamToken{Error: errorText(err)})
		return
	}

	start()
	_, _ = ctx.Writer.Write([]byte("data: [DONE]\n\n"))
	ctx.Writer.Flush()
}

func writeEvent(ctx *gin.Context, event models.StreamToken) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := ctx.Writer.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
		return err
	}
	ctx.Writer.Flush()
	return nil
}

// writeServiceError maps service errors onto the HTTP taxonomy: validation 400, model 502, anything else 500.
func writeServiceError(ctx *gin.Context, logger *zap.Logger, err error, fallback string) {
	switch {
	case services.IsValidation(err):
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: validationText(err)})
	case errors.Is(err, services.ErrUpstreamModel):
		logger.Error(fallback, zap.Error(err))
		ctx.JSON(http.StatusBadGateway, models.ErrorResponse{Error: errorText(err)})
	default:
		logger.Error(fallback, zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: fallback})
	}
}

func validationText(err error) string {
	for _, v := range []error{services.ErrEmptyText, services.ErrEmptyQuery, services.ErrEmptyMessages} {
		if errors.Is(err, v) {
			return v.Error()
		}
	}
	return err.Error()
}

// errorText hides wrapped transport detail behind the upstream sentinel.
func errorText(err error) string {
	if errors.Is(err, services.ErrUpstreamModel) {
		if errors.Is(err, services.ErrEmbeddingMismatch) {
			return services.ErrEmbeddingMismatch.Error()
		}
		return services.ErrUpstreamModel.Error()
	}
	return err.Error()
}
