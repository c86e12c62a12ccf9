package controller

import (
	"net/http"

	"github/itish2003/pointer/models"
	"github/itish2003/pointer/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MemoryController handles the memory (RAG) endpoints. It depends on the
// MemoryService to do the chunking, embedding and storage.
type MemoryController struct {
	memoryService services.MemoryService
	logger        *zap.Logger
}

func NewMemoryController(service services.MemoryService, logger *zap.Logger) *MemoryController {
	return &MemoryController{memoryService: service, logger: logger.Named("memory-controller")}
}

// Ingest handles POST /api/memory/ingest.
func (c *MemoryController) Ingest(ctx *gin.Context) {
	var req models.IngestDataRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body: " + err.Error()})
		return
	}

	n, err := c.memoryService.Ingest(ctx.Request.Context(), req.Text, req.Metadata)
	if err != nil {
		writeServiceError(ctx, c.logger, err, "Failed to ingest text")
		return
	}
	ctx.JSON(http.StatusOK, models.IngestResponse{OK: true, ChunksIngested: n})
}

// Search handles POST /api/memory/search.
func (c *MemoryController) Search(ctx *gin.Context) {
	var req models.SearchRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body: " + err.Error()})
		return
	}

	matches, err := c.memoryService.Search(ctx.Request.Context(), req.Query, req.TopK)
	if err != nil {
		writeServiceError(ctx, c.logger, err, "Failed to search memory")
		return
	}
	if matches == nil {
		matches = []models.MemoryMatch{}
	}
	ctx.JSON(http.StatusOK, models.SearchResponse{Matches: matches})
}

// Clear handles DELETE /api/memory.
func (c *MemoryController) Clear(ctx *gin.Context) {
	if err := c.memoryService.Clear(ctx.Request.Context()); err != nil {
		writeServiceError(ctx, c.logger, err, "Failed to clear memory")
		return
	}
	ctx.JSON(http.StatusOK, models.OKResponse{OK: true})
}

// Stats handles GET /api/memory/stats.
func (c *MemoryController) Stats(ctx *gin.Context) {
	n, err := c.memoryService.Count(ctx.Request.Context())
	if err != nil {
		writeServiceError(ctx, c.logger, err, "Failed to count memory")
		return
	}
	ctx.JSON(http.StatusOK, models.StatsResponse{Count: n})
}
