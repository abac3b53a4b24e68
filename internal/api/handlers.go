package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"gemchat/internal/attachment"
	"gemchat/internal/auth"
	"gemchat/internal/catalog"
	"gemchat/internal/chat"
	"gemchat/internal/completion"
	"gemchat/internal/models"
	"gemchat/internal/transfer"
)

// Handler wires HTTP routes to the chat controller.
type Handler struct {
	chat             *chat.Controller
	auth             *auth.Service
	stager           *attachment.Stager
	credentialPrefix string
}

// NewHandler constructs a Handler instance.
func NewHandler(controller *chat.Controller, authService *auth.Service, stager *attachment.Stager, credentialPrefix string) *Handler {
	return &Handler{
		chat:             controller,
		auth:             authService,
		stager:           stager,
		credentialPrefix: credentialPrefix,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/csrf", h.issueCSRF)

	guarded := api.Group("")
	guarded.Use(h.auth.CSRFMiddleware())
	guarded.GET("/settings", h.getSettings)
	guarded.PUT("/settings", h.saveSettings)
	guarded.DELETE("/settings", h.signOut)

	guarded.GET("/models", h.listModels)
	guarded.PUT("/models/active", h.setModel)

	guarded.GET("/sessions", h.listSessions)
	guarded.POST("/sessions", h.createSession)
	guarded.GET("/sessions/:session_id", h.getSession)
	guarded.PUT("/sessions/:session_id/active", h.selectSession)
	guarded.PATCH("/sessions/:session_id", h.renameSession)
	guarded.DELETE("/sessions/:session_id", h.deleteSession)

	guarded.POST("/chat/send", h.send)
	guarded.POST("/chat/stop", h.stop)
	guarded.DELETE("/chat/messages/:index", h.deleteMessage)
	guarded.POST("/chat/messages/:index/resend", h.resend)

	guarded.POST("/attachments", h.uploadAttachment)
	guarded.GET("/attachments/:attachment_id", h.previewAttachment)

	guarded.GET("/export", h.exportSessions)
	guarded.POST("/import", h.importSessions)
}

func (h *Handler) issueCSRF(c *gin.Context) {
	token, err := h.auth.SetCSRFCookie(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue csrf token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"header":    h.auth.CSRFHeaderName(),
		"expiresIn": int(h.auth.TokenTTL().Seconds()),
	})
}

// settings

func (h *Handler) getSettings(c *gin.Context) {
	s := h.chat.Settings()
	if !s.Configured() {
		c.JSON(http.StatusOK, gin.H{"configured": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"configured": true,
		"userName":   s.UserName,
		"apiKey":     maskKey(s.APIKey),
	})
}

func (h *Handler) saveSettings(c *gin.Context) {
	var req struct {
		APIKey   string `json:"apiKey"`
		UserName string `json:"userName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	key, name, err := auth.ValidateSettings(req.APIKey, req.UserName, h.credentialPrefix)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.chat.SaveSettings(c.Request.Context(), models.UserSettings{APIKey: key, UserName: name}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"configured": true, "userName": name, "apiKey": maskKey(key)})
}

func (h *Handler) signOut(c *gin.Context) {
	if err := h.chat.SignOut(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// models

func (h *Handler) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":   catalog.All(),
		"active":   h.chat.Model(),
		"topTier":  catalog.TopTier,
		"fallback": catalog.Fallback,
	})
}

func (h *Handler) setModel(c *gin.Context) {
	var req struct {
		Model string `json:"model"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Model) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model is required"})
		return
	}
	if err := h.chat.SetModel(strings.TrimSpace(req.Model)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": h.chat.Model()})
}

// sessions

type sessionSummary struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	UpdatedAt    int64  `json:"updatedAt"`
	MessageCount int    `json:"messageCount"`
}

func (h *Handler) listSessions(c *gin.Context) {
	sessions := h.chat.Sessions()
	summaries := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, sessionSummary{
			ID:           s.ID,
			Title:        s.Title,
			UpdatedAt:    s.UpdatedAt,
			MessageCount: len(s.Visible()),
		})
	}
	var activeID int64
	if active := h.chat.Active(); active != nil {
		activeID = active.ID
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": summaries,
		"activeId": activeID,
		"loading":  h.chat.Loading(),
	})
}

func (h *Handler) createSession(c *gin.Context) {
	session, err := h.chat.CreateSession(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *Handler) getSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	session, err := h.chat.Session(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) selectSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	if err := h.chat.SetActive(id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) renameSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.chat.UpdateTitle(c.Request.Context(), id, req.Title); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	if err := h.chat.DeleteSession(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteMessage(c *gin.Context) {
	index, ok := indexParam(c)
	if !ok {
		return
	}
	if err := h.chat.DeleteMessage(c.Request.Context(), index); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func sessionIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("session_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return 0, false
	}
	return id, true
}

func indexParam(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message index"})
		return 0, false
	}
	return index, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound), errors.Is(err, attachment.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, chat.ErrNoCredential):
		return http.StatusPreconditionFailed
	case errors.Is(err, attachment.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, chat.ErrInvalidIndex),
		errors.Is(err, chat.ErrNotUserMessage),
		errors.Is(err, chat.ErrEmptyTitle),
		errors.Is(err, completion.ErrUnknownModel),
		errors.Is(err, attachment.ErrEmpty),
		errors.Is(err, transfer.ErrNotArray),
		errors.Is(err, transfer.ErrUnknownFormat):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
