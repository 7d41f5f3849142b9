package enginehttp

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"engineroom/internal/engine"
	"engineroom/internal/logger"
	"engineroom/internal/service"
	"engineroom/internal/store/snapshot"
	"engineroom/internal/types"
)

// Router exposes the engine API: item upload, evaluation, run history, rule
// management and snapshot lookups.
type Router struct {
	svc         *service.Service
	defaultMode types.RuleMode
}

func NewRouter(svc *service.Service, defaultMode types.RuleMode) *Router {
	if !defaultMode.Valid() {
		defaultMode = types.RuleModeCombined
	}
	return &Router{svc: svc, defaultMode: defaultMode}
}

// Register mounts the engine routes under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/items", r.handleUploadItems)
	group.GET("/items", r.handleListItems)
	group.POST("/evaluate", r.handleEvaluate)
	group.GET("/runs", r.handleListRuns)
	group.GET("/runs/:id", r.handleGetRun)
	group.GET("/runs/:id/items", r.handleRunItems)
	group.GET("/runs/:id/chart", r.handleRunChart)
	group.GET("/rules", r.handleGetRules)
	group.POST("/rules", r.handleUpdateRules)
	group.POST("/snapshots", r.handleSaveSnapshots)
	group.GET("/snapshots/:item_id", r.handleSnapshotHistory)
}

func (r *Router) handleUploadItems(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	count, err := r.svc.LoadItems(c.Request.Context(), payload)
	if err != nil {
		logger.Warnf("[api] item upload rejected ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] item upload ip=%s items=%d", c.ClientIP(), count)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "items": count})
}

func (r *Router) handleListItems(c *gin.Context) {
	items, loadedAt := r.svc.Items()
	resp := gin.H{"items": items, "count": len(items)}
	if !loadedAt.IsZero() {
		resp["loaded_at"] = loadedAt
	}
	c.JSON(http.StatusOK, resp)
}

type evaluateRequest struct {
	Mode    string            `json:"mode"`
	Persist *bool             `json:"persist"`
	Config  *types.RuleConfig `json:"config"`
}

func (r *Router) handleEvaluate(c *gin.Context) {
	var req evaluateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	mode := r.defaultMode
	if trimmed := strings.TrimSpace(req.Mode); trimmed != "" {
		mode = types.RuleMode(trimmed)
		if !mode.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown mode " + trimmed})
			return
		}
	}
	persist := req.Persist == nil || *req.Persist

	run, err := r.svc.Evaluate(c.Request.Context(), service.EvaluateRequest{
		Mode:    mode,
		Config:  req.Config,
		Persist: persist,
	})
	switch {
	case errors.Is(err, service.ErrNoItems):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		var cerr *engine.ConfigError
		if errors.As(err, &cerr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.Errorf("[api] evaluate failed ip=%s mode=%s err=%v", c.ClientIP(), mode, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id": run.RunID,
		"result": run.Result,
	})
}

func (r *Router) handleListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	runs, total, err := r.svc.ListRuns(c.Request.Context(), limit, offset)
	if err != nil {
		logger.Errorf("[api] list runs failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "total_count": total})
}

func (r *Router) handleGetRun(c *gin.Context) {
	rec, err := r.svc.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, service.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": rec})
}

func (r *Router) handleRunItems(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	items, err := r.svc.RunItems(c.Request.Context(), c.Param("id"), limit, offset)
	if errors.Is(err, service.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

func (r *Router) handleRunChart(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	err := r.svc.RenderRunChart(c.Request.Context(), c.Writer, c.Param("id"))
	if errors.Is(err, service.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		logger.Errorf("[api] run chart failed ip=%s run=%s err=%v", c.ClientIP(), c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (r *Router) handleGetRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": r.svc.Rules()})
}

func (r *Router) handleUpdateRules(c *gin.Context) {
	var cfg types.RuleConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.svc.UpdateRules(cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] rules updated ip=%s version=%s", c.ClientIP(), r.svc.Rules().Version)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rules": r.svc.Rules()})
}

func (r *Router) handleSaveSnapshots(c *gin.Context) {
	var snaps []snapshot.Snapshot
	if err := c.ShouldBindJSON(&snaps); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := r.svc.SaveSnapshots(c.Request.Context(), snaps)
	if err != nil {
		logger.Warnf("[api] snapshot upload rejected ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "snapshots": n})
}

func (r *Router) handleSnapshotHistory(c *gin.Context) {
	itemID := strings.TrimSpace(c.Param("item_id"))
	if itemID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "item_id is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	snaps, err := r.svc.SnapshotHistory(c.Request.Context(), itemID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"item_id": itemID, "snapshots": snaps})
}
