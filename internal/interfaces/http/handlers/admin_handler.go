// Package handlers implements the HTTP handlers for the administrative
// and health APIs.
package handlers

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/searchguard/searchguard/internal/domain/models"
	"github.com/searchguard/searchguard/internal/domain/service"
	"github.com/searchguard/searchguard/internal/infrastructure/ratelimit"
	"github.com/searchguard/searchguard/pkg/constants"
	"github.com/searchguard/searchguard/pkg/errors"
	"github.com/searchguard/searchguard/pkg/logger"
)

// AdminHandler serves the administrative API: usage inspection, counter
// resets, manual blocks and policy table management.
type AdminHandler struct {
	engine   service.RateLimitEngine
	usageLog *ratelimit.APIKeyUsageLog
	logger   logger.Logger
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(engine service.RateLimitEngine, usageLog *ratelimit.APIKeyUsageLog, log logger.Logger) *AdminHandler {
	return &AdminHandler{
		engine:   engine,
		usageLog: usageLog,
		logger:   log.WithComponent("AdminHandler"),
	}
}

// Usage reports current counter values for the queried identifiers.
//
// GET /admin/v1/usage?user_id=&session_id=&ip_address=
func (h *AdminHandler) Usage(c *gin.Context) {
	userID := c.Query("user_id")
	sessionID := c.Query("session_id")
	ipAddress := c.Query("ip_address")
	if userID == "" && sessionID == "" && ipAddress == "" {
		respondError(c, errors.ErrInvalidRequest("at least one of user_id, session_id, ip_address is required"))
		return
	}

	usage, err := h.engine.Usage(c.Request.Context(), userID, sessionID, ipAddress)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"usage": usage})
}

type resetRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	IPAddress string `json:"ip_address"`
}

// Reset deletes the quota counters for the supplied identifiers.
//
// POST /admin/v1/reset
func (h *AdminHandler) Reset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.ErrInvalidRequest("invalid request body").WithCause(err))
		return
	}
	if req.UserID == "" && req.SessionID == "" && req.IPAddress == "" {
		respondError(c, errors.ErrInvalidRequest("at least one of user_id, session_id, ip_address is required"))
		return
	}

	if err := h.engine.ResetLimits(c.Request.Context(), req.UserID, req.SessionID, req.IPAddress); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

type blockRequest struct {
	Type            string `json:"type" binding:"required"`
	Identifier      string `json:"identifier" binding:"required"`
	DurationSeconds int    `json:"duration_seconds" binding:"required"`
	Reason          string `json:"reason"`
}

// CreateBlock applies a manual temporary block.
//
// POST /admin/v1/blocks
func (h *AdminHandler) CreateBlock(c *gin.Context) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.ErrInvalidRequest("invalid request body").WithCause(err))
		return
	}

	blockType, err := parseBlockType(req.Type)
	if err != nil {
		respondError(c, err)
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "administrative block"
	}

	id := models.Identifier{Type: blockType, Value: req.Identifier}
	duration := time.Duration(req.DurationSeconds) * time.Second
	if err := h.engine.Block(c.Request.Context(), id, duration, reason); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "blocked"})
}

// GetBlock returns the active block for an identifier.
//
// GET /admin/v1/blocks/:type/:identifier
func (h *AdminHandler) GetBlock(c *gin.Context) {
	blockType, err := parseBlockType(c.Param("type"))
	if err != nil {
		respondError(c, err)
		return
	}

	id := models.Identifier{Type: blockType, Value: c.Param("identifier")}
	block, err := h.engine.BlockInfo(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if block == nil {
		respondError(c, errors.ErrNotFound("no active block for identifier"))
		return
	}

	c.JSON(http.StatusOK, block)
}

// DeleteBlock releases a block early.
//
// DELETE /admin/v1/blocks/:type/:identifier
func (h *AdminHandler) DeleteBlock(c *gin.Context) {
	blockType, err := parseBlockType(c.Param("type"))
	if err != nil {
		respondError(c, err)
		return
	}

	id := models.Identifier{Type: blockType, Value: c.Param("identifier")}
	if err := h.engine.Unblock(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "unblocked"})
}

// GetLimits returns the current policy table.
//
// GET /admin/v1/limits
func (h *AdminHandler) GetLimits(c *gin.Context) {
	c.JSON(http.StatusOK, tableResponse(h.engine.Limits()))
}

type limitEntryDTO struct {
	Requests      int `json:"requests"`
	WindowSeconds int `json:"window_seconds"`
}

type limitsPayload struct {
	Global    map[string]limitEntryDTO            `json:"global"`
	Anonymous map[string]limitEntryDTO            `json:"anonymous"`
	Session   map[string]limitEntryDTO            `json:"session"`
	User      map[string]map[string]limitEntryDTO `json:"user"`
	APIKey    map[string]map[string]limitEntryDTO `json:"api_key"`
}

// UpdateLimits replaces the policy table at runtime. The table is fully
// validated before it becomes visible to evaluations.
//
// PUT /admin/v1/limits
func (h *AdminHandler) UpdateLimits(c *gin.Context) {
	var payload limitsPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, errors.ErrInvalidRequest("invalid request body").WithCause(err))
		return
	}

	table := &models.LimitTable{
		Global:    dtoBuckets(payload.Global),
		Anonymous: dtoBuckets(payload.Anonymous),
		Session:   dtoBuckets(payload.Session),
		User:      dtoTiers(payload.User),
		APIKey:    dtoTiers(payload.APIKey),
	}
	if err := table.Validate(); err != nil {
		respondError(c, errors.ErrInvalidRequest(err.Error()))
		return
	}

	h.engine.UpdateLimits(table)
	h.logger.Info(c.Request.Context(), "Policy table replaced via admin API")

	c.JSON(http.StatusOK, tableResponse(table))
}

// APIKeyStats reports aggregated usage for one API credential.
//
// GET /admin/v1/apikeys/:id/stats?days=7
func (h *AdminHandler) APIKeyStats(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "7"))

	stats, err := h.usageLog.Stats(c.Request.Context(), c.Param("id"), days)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"api_key_id": c.Param("id"),
		"days":       stats,
	})
}

// ================================================================================
// Helpers
// ================================================================================

func parseBlockType(raw string) (constants.BlockType, error) {
	switch constants.BlockType(raw) {
	case constants.BlockTypeUser, constants.BlockTypeIP, constants.BlockTypeSession:
		return constants.BlockType(raw), nil
	default:
		return "", errors.ErrInvalidRequest("type must be one of user, ip, session")
	}
}

func dtoBuckets(entries map[string]limitEntryDTO) models.BucketLimits {
	limits := make(models.BucketLimits, len(entries))
	for bucket, e := range entries {
		limits[constants.OperationBucket(bucket)] = models.Limit{
			Requests: e.Requests,
			Window:   time.Duration(e.WindowSeconds) * time.Second,
		}
	}
	return limits
}

func dtoTiers(entries map[string]map[string]limitEntryDTO) map[constants.Tier]models.BucketLimits {
	limits := make(map[constants.Tier]models.BucketLimits, len(entries))
	for tier, buckets := range entries {
		limits[constants.Tier(tier)] = dtoBuckets(buckets)
	}
	return limits
}

func bucketsDTO(limits models.BucketLimits) map[string]limitEntryDTO {
	entries := make(map[string]limitEntryDTO, len(limits))
	for bucket, l := range limits {
		entries[string(bucket)] = limitEntryDTO{
			Requests:      l.Requests,
			WindowSeconds: int(l.Window.Seconds()),
		}
	}
	return entries
}

func tiersDTO(limits map[constants.Tier]models.BucketLimits) map[string]map[string]limitEntryDTO {
	entries := make(map[string]map[string]limitEntryDTO, len(limits))
	for tier, buckets := range limits {
		entries[string(tier)] = bucketsDTO(buckets)
	}
	return entries
}

func tableResponse(table *models.LimitTable) limitsPayload {
	return limitsPayload{
		Global:    bucketsDTO(table.Global),
		Anonymous: bucketsDTO(table.Anonymous),
		Session:   bucketsDTO(table.Session),
		User:      tiersDTO(table.User),
		APIKey:    tiersDTO(table.APIKey),
	}
}

// respondError renders a structured error, mapping unclassified errors to
// an internal failure.
func respondError(c *gin.Context, err error) {
	var app errors.AppError
	if !stderrors.As(err, &app) {
		app = errors.ErrInternal("unexpected error").WithCause(err)
	}

	c.JSON(app.HTTPStatus(), gin.H{
		"error":   string(app.Code()),
		"message": app.Error(),
	})
}
