package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vayuaq/vayu/internal/analytics"
	"github.com/vayuaq/vayu/internal/models"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
	handlerTimeout  = 10 * time.Second
)

type entityInfo struct {
	EntityID  int64             `json:"entityId"`
	Watermark *models.Watermark `json:"watermark,omitempty"`
}

// handleListEntities returns the configured entities with watermark info.
// GET /api/v1/entities
func (s *Server) handleListEntities(c *gin.Context) {
	marks := s.marks.All()

	out := make([]entityInfo, 0, len(s.entities))
	for _, id := range s.entities {
		info := entityInfo{EntityID: id}
		if wm, ok := marks[strconv.FormatInt(id, 10)]; ok {
			info.Watermark = &wm
		}
		out = append(out, info)
	}

	c.JSON(http.StatusOK, gin.H{
		"data": out,
		"meta": gin.H{"count": len(out)},
	})
}

// handleEntitySummary returns per-parameter statistics for an entity.
// GET /api/v1/entities/:id/summary
func (s *Server) handleEntitySummary(c *gin.Context) {
	entityID, ok := entityParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), handlerTimeout)
	defer cancel()

	records, err := s.datasets.Load(ctx, entityID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": analytics.Summarize(records),
		"meta": gin.H{"entityId": entityID, "totalRecords": len(records)},
	})
}

// handleEntityRecords returns a page of an entity's stored records.
// GET /api/v1/entities/:id/records?limit=&page=
func (s *Server) handleEntityRecords(c *gin.Context) {
	entityID, ok := entityParam(c)
	if !ok {
		return
	}

	limit, ok := intQuery(c, "limit", defaultPageSize)
	if !ok {
		return
	}
	if limit < 1 || limit > maxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
		return
	}
	page, ok := intQuery(c, "page", 1)
	if !ok {
		return
	}
	if page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be at least 1"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), handlerTimeout)
	defer cancel()

	records, err := s.datasets.Load(ctx, entityID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	start := (page - 1) * limit
	if start > len(records) {
		start = len(records)
	}
	end := start + limit
	if end > len(records) {
		end = len(records)
	}

	c.JSON(http.StatusOK, gin.H{
		"data": records[start:end],
		"meta": gin.H{
			"entityId": entityID,
			"page":     page,
			"limit":    limit,
			"total":    len(records),
		},
	})
}

// handleEntityQuality runs the advisory validator over an entity's stored
// dataset and returns the report.
// GET /api/v1/entities/:id/quality
func (s *Server) handleEntityQuality(c *gin.Context) {
	entityID, ok := entityParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), handlerTimeout)
	defer cancel()

	records, err := s.datasets.Load(ctx, entityID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": s.validator.Batch(records),
		"meta": gin.H{"entityId": entityID},
	})
}

// handleWatermarks returns every recorded watermark.
// GET /api/v1/watermarks
func (s *Server) handleWatermarks(c *gin.Context) {
	marks := s.marks.All()
	c.JSON(http.StatusOK, gin.H{
		"data": marks,
		"meta": gin.H{"count": len(marks)},
	})
}

func entityParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity id must be numeric"})
		return 0, false
	}
	return id, true
}

// intQuery parses an optional integer query parameter, answering the
// request itself when the value is not an integer.
func intQuery(c *gin.Context, name string, fallback int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be an integer"})
		return 0, false
	}
	return n, true
}
