// Package devremote serves a development remote authority implementing the
// workout sync contract, with bearer JWT auth and fault injection.
package devremote

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/irontemple/internal/syncengine"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "irontemple_user_id"

var (
	errMissingTokenIssuer   = errors.New("token issuer dependency required")
	errMissingStore         = errors.New("workout store dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates bearer tokens.
type TokenManager interface {
	Issue(subject, name, email string) (string, int64, error)
	Validate(token string) (string, error)
}

// Dependencies wires the dev remote handler.
type Dependencies struct {
	Tokens TokenManager
	Store  *MemoryStore
	Faults *Faults
	Clock  func() time.Time
	Logger *zap.Logger
}

// NewHTTPHandler builds the gin router mounted under /api.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.Store == nil {
		return nil, errMissingStore
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	faults := deps.Faults
	if faults == nil {
		faults = &Faults{}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Correlation-ID"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens: deps.Tokens,
		store:  deps.Store,
		faults: faults,
		clock:  clock,
		logger: logger,
	}

	api := router.Group("/api")
	api.GET("/", handler.handleHealth)
	api.HEAD("/", handler.handleHealth)
	api.GET("/health", handler.handleHealth)
	api.HEAD("/health", handler.handleHealth)
	api.POST("/auth/dev-token", handler.handleDevToken)

	protected := api.Group("/workouts")
	protected.Use(handler.authorizeRequest, handler.injectFaults)
	protected.GET("", handler.handleList)
	protected.POST("", handler.handleCreate)
	protected.PUT("/:id", handler.handleUpdate)
	protected.DELETE("/:id", handler.handleDelete)

	return router, nil
}

type httpHandler struct {
	tokens TokenManager
	store  *MemoryStore
	faults *Faults
	clock  func() time.Time
	logger *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if c.Request.Method == http.MethodHead {
		c.Status(http.StatusOK)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type devTokenRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

type devTokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
	TokenType string `json:"tokenType"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

func (h *httpHandler) handleDevToken(c *gin.Context) {
	var request devTokenRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	token, expiresIn, err := h.tokens.Issue(strings.TrimSpace(request.UserID), request.Name, request.Email)
	if err != nil {
		h.logger.Error("failed to issue dev token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, devTokenResponse{
		Token:     token,
		ExpiresIn: expiresIn,
		TokenType: "Bearer",
		ID:        strings.TrimSpace(request.UserID),
		Name:      request.Name,
		Email:     request.Email,
	})
}

func (h *httpHandler) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workouts": h.store.List(c.GetString(userIDContextKey))})
}

func (h *httpHandler) handleCreate(c *gin.Context) {
	payload, ok := h.bindPayload(c)
	if !ok {
		return
	}
	stored, created := h.store.Upsert(c.GetString(userIDContextKey), payload, h.clock().UTC())
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, stored)
}

func (h *httpHandler) handleUpdate(c *gin.Context) {
	owner := c.GetString(userIDContextKey)
	id := c.Param("id")
	payload, ok := h.bindPayload(c)
	if !ok {
		return
	}
	if payload.ClientID != "" && payload.ClientID != id {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client_id_mismatch"})
		return
	}
	if _, found := h.store.Get(owner, id); !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "workout_not_found"})
		return
	}
	payload.ClientID = id
	stored, _ := h.store.Upsert(owner, payload, h.clock().UTC())
	c.JSON(http.StatusOK, stored)
}

func (h *httpHandler) handleDelete(c *gin.Context) {
	if !h.store.Delete(c.GetString(userIDContextKey), c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "workout_not_found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) bindPayload(c *gin.Context) (syncengine.WorkoutPayload, bool) {
	var payload syncengine.WorkoutPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return syncengine.WorkoutPayload{}, false
	}
	if c.Request.Method == http.MethodPost && strings.TrimSpace(payload.ClientID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_client_id"})
		return syncengine.WorkoutPayload{}, false
	}
	return payload, true
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) injectFaults(c *gin.Context) {
	if status, ok := h.faults.take(); ok {
		h.logger.Info("injected failure", zap.Int("status", status), zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(status, gin.H{"error": "injected_failure"})
		return
	}
	c.Next()
}
