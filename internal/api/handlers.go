package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"findash/internal/auth"
	"findash/internal/models"
	"findash/internal/service/chat"
	"findash/internal/service/trading"
)

const defaultMaxUploadBytes = 10 << 20

// Handler wires HTTP routes to the trading service and the chat store.
type Handler struct {
	trading   *trading.Service
	chat      *chat.Store
	auth      *auth.Service
	maxUpload int64
}

// NewHandler constructs a Handler instance.
func NewHandler(tradingService *trading.Service, chatStore *chat.Store, authService *auth.Service, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &Handler{
		trading:   tradingService,
		chat:      chatStore,
		auth:      authService,
		maxUpload: maxUpload,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.root)
	router.GET("/health", h.health)

	tradingRoutes := router.Group("/api/trading")
	tradingRoutes.GET("/etf-options", h.etfOptions)
	tradingRoutes.GET("/stock-options", h.stockOptions)
	tradingRoutes.GET("/max-date/:table", h.maxDate)
	tradingRoutes.POST("/custom-query", h.auth.Middleware(), h.customQuery)

	chatRoutes := router.Group("/api/chat")
	chatRoutes.POST("/session", h.createSession)
	chatRoutes.GET("/sessions/:username", h.listSessions)
	chatRoutes.POST("/message", h.limitBody(), h.saveMessage)
	chatRoutes.POST("/upload/:username/:session_id", h.limitBody(), h.uploadImage)
	chatRoutes.GET("/history/:username/:session_id", h.history)
	chatRoutes.DELETE("/session/:username/:session_id", h.deleteSession)
	chatRoutes.GET("/file/:username/:session_id/:filename", h.downloadFile)
}

func (h *Handler) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Finance Dashboard API",
		"version": Version,
		"endpoints": gin.H{
			"trading": "/api/trading",
			"chat":    "/api/chat",
		},
	})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Trading

func (h *Handler) etfOptions(c *gin.Context) {
	out, err := h.trading.ETFOptions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) stockOptions(c *gin.Context) {
	out, err := h.trading.StockOptions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) maxDate(c *gin.Context) {
	var symbol *string
	if v := strings.TrimSpace(c.Query("symbol")); v != "" {
		symbol = &v
	}
	out, err := h.trading.MaxDate(c.Request.Context(), c.Param("table"), symbol)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) customQuery(c *gin.Context) {
	query, _ := formOrQuery(c, "query")
	out, err := h.trading.CustomQuery(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Chat

func (h *Handler) createSession(c *gin.Context) {
	username, _ := formOrQuery(c, "username")
	if username == "" {
		badRequest(c, "username is required")
		return
	}
	session, err := h.chat.CreateSession(c.Request.Context(), username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) listSessions(c *gin.Context) {
	sessions, err := h.chat.ListSessions(c.Request.Context(), c.Param("username"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *Handler) saveMessage(c *gin.Context) {
	if err := parseForm(c, h.maxUpload); err != nil {
		respondFormError(c, err)
		return
	}
	username, _ := formOrQuery(c, "username")
	sessionID, _ := formOrQuery(c, "session_id")
	content, hasContent := formOrQuery(c, "content")
	messageType, _ := formOrQuery(c, "message_type")

	switch {
	case username == "":
		badRequest(c, "username is required")
		return
	case sessionID == "":
		badRequest(c, "session_id is required")
		return
	case !hasContent:
		badRequest(c, "content is required")
		return
	}
	if messageType == "" {
		messageType = string(models.MessageText)
	}
	if messageType != string(models.MessageText) {
		badRequest(c, fmt.Sprintf("unsupported message_type %q, upload images via /api/chat/upload", messageType))
		return
	}

	desc, err := h.chat.SaveTextMessage(c.Request.Context(), username, sessionID, content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, desc)
}

func (h *Handler) uploadImage(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondFormError(c, err)
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, fmt.Errorf("open upload: %w", err))
		return
	}
	defer file.Close()

	desc, err := h.chat.SaveImageMessage(c.Request.Context(), c.Param("username"), c.Param("session_id"), file, fileHeader.Filename)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, desc)
}

func (h *Handler) history(c *gin.Context) {
	out, err := h.chat.History(c.Request.Context(), c.Param("username"), c.Param("session_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) deleteSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	if err := h.chat.DeleteSession(c.Request.Context(), c.Param("username"), sessionID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": fmt.Sprintf("Session %s deleted", sessionID),
	})
}

func (h *Handler) downloadFile(c *gin.Context) {
	path, err := h.chat.ResolveFile(c.Request.Context(), c.Param("username"), c.Param("session_id"), c.Param("filename"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.File(path)
}

// limitBody caps the request body so oversized uploads fail with 413.
func (h *Handler) limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
		c.Next()
	}
}

func parseForm(c *gin.Context, maxMemory int64) error {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		return c.Request.ParseMultipartForm(maxMemory)
	}
	return c.Request.ParseForm()
}

func respondFormError(c *gin.Context, err error) {
	if isBodyTooLarge(err) {
		_ = c.Error(err)
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		return
	}
	if errors.Is(err, http.ErrMissingFile) {
		badRequest(c, "file is required")
		return
	}
	badRequest(c, "invalid form: "+err.Error())
}

// formOrQuery reads a form field and falls back to the query string.
func formOrQuery(c *gin.Context, key string) (string, bool) {
	if v, ok := c.GetPostForm(key); ok {
		return v, true
	}
	return c.GetQuery(key)
}
