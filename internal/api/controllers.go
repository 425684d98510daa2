package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"strategy-core/internal/strategy"
	"strategy-core/pkg/db"
)

const maxJobsLimit = 500

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondEngineError maps engine errors onto HTTP statuses.
func (s *Server) respondEngineError(c *gin.Context, err error) {
	var verr *strategy.ValidationError
	switch {
	case errors.Is(err, db.ErrNotFound):
		respondError(c, http.StatusNotFound, "STRATEGY_NOT_FOUND", "strategy not found")
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_STRATEGY",
			"error": verr.Error(),
			"field": verr.Field,
		})
	default:
		s.log.Error("engine call failed", zap.String("path", c.FullPath()), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "ENGINE_ERROR", err.Error())
	}
}

// Strategy Actions

func (s *Server) activateStrategy(c *gin.Context) {
	id := c.Param("id")
	if !s.canAccessStrategy(c, id) {
		return
	}
	res, err := s.Engine.Activate(c.Request.Context(), id)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	status := http.StatusOK
	if res.Accepted {
		status = http.StatusAccepted
	}
	c.JSON(status, res)
}

func (s *Server) deactivateStrategy(c *gin.Context) {
	id := c.Param("id")
	if !s.canAccessStrategy(c, id) {
		return
	}
	res, err := s.Engine.Deactivate(c.Request.Context(), id)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getJobResults(c *gin.Context) {
	id := c.Param("id")
	if !s.canAccessStrategy(c, id) {
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		if n > maxJobsLimit {
			n = maxJobsLimit
		}
		limit = n
	}
	results, err := s.Engine.JobResults(c.Request.Context(), id, limit)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	if results == nil {
		results = []db.JobResult{}
	}
	c.JSON(http.StatusOK, gin.H{"strategy_id": id, "results": results})
}

// canAccessStrategy checks if the current user owns the given strategy.
// It writes an error response and returns false if access is denied.
func (s *Server) canAccessStrategy(c *gin.Context, strategyID string) bool {
	userID := CurrentUserID(c)
	if userID == "" {
		respondError(c, http.StatusUnauthorized, "UNAUTHENTICATED", "unauthorized")
		return false
	}
	st, err := s.Engine.GetStrategy(c.Request.Context(), strategyID)
	if err != nil {
		s.respondEngineError(c, err)
		return false
	}
	if st.OwnerID != userID {
		respondError(c, http.StatusForbidden, "FORBIDDEN", "strategy does not belong to current user")
		return false
	}
	return true
}

// System

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Metrics(c.Request.Context()))
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetSystemStatus(c.Request.Context()))
}
