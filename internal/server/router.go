package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/scottteague/indentr/internal/auth"
	"github.com/scottteague/indentr/internal/replication"
	"github.com/scottteague/indentr/internal/scheduler"
	"go.uber.org/zap"
)

const (
	subjectContextKey        = "indentr_subject"
	accessTokenQueryParam    = "access_token"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingScheduler     = errors.New("scheduler dependency required")
	errMissingStatusSource  = errors.New("status source dependency required")
	errMissingRealtime      = errors.New("realtime dispatcher dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// SyncController runs and reports sync cycles.
type SyncController interface {
	Trigger(ctx context.Context) (replication.Result, error)
	LastResult() (replication.Result, bool)
	InFlight() bool
}

// StatusSource reports the persisted sync state.
type StatusSource interface {
	RemoteConfigured() bool
	LastSyncedAt(ctx context.Context) (time.Time, error)
}

// TokenValidator validates control API bearer tokens and returns the subject.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// Dependencies wires the control API. A nil TokenValidator leaves every route open.
type Dependencies struct {
	Scheduler         SyncController
	Status            StatusSource
	Realtime          *RealtimeDispatcher
	TokenValidator    TokenValidator
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Scheduler == nil {
		return nil, errMissingScheduler
	}
	if deps.Status == nil {
		return nil, errMissingStatusSource
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		scheduler: deps.Scheduler,
		status:    deps.Status,
		realtime:  deps.Realtime,
		tokens:    deps.TokenValidator,
		heartbeat: heartbeat,
		logger:    logger,
	}

	router.GET("/sync/status", handler.handleStatus)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/sync", handler.handleTrigger)
	protected.GET("/sync/events", handler.handleEvents)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	scheduler SyncController
	status    StatusSource
	realtime  *RealtimeDispatcher
	tokens    TokenValidator
	heartbeat time.Duration
	logger    *zap.Logger
}

type statusResponsePayload struct {
	RemoteConfigured bool                `json:"remote_configured"`
	InFlight         bool                `json:"in_flight"`
	LastSyncedAt     *time.Time          `json:"last_synced_at"`
	LastResult       *replication.Result `json:"last_result,omitempty"`
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	syncedAt, err := h.status.LastSyncedAt(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to read last sync time", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status_unavailable"})
		return
	}

	response := statusResponsePayload{
		RemoteConfigured: h.status.RemoteConfigured(),
		InFlight:         h.scheduler.InFlight(),
	}
	if !syncedAt.IsZero() {
		response.LastSyncedAt = &syncedAt
	}
	if last, ok := h.scheduler.LastResult(); ok {
		response.LastResult = &last
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleTrigger(c *gin.Context) {
	// The cycle outlives a disconnecting client.
	result, err := h.scheduler.Trigger(context.WithoutCancel(c.Request.Context()))
	if errors.Is(err, scheduler.ErrCycleInFlight) {
		c.JSON(http.StatusConflict, gin.H{"error": "sync_in_flight"})
		return
	}
	if err != nil {
		h.logger.Error("manual sync trigger failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	}
	h.logger.Info("manual sync finished",
		zap.String("subject", c.GetString(subjectContextKey)),
		zap.String("status", string(result.Status)))
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	stream, cleanup := h.realtime.Subscribe(c.Request.Context())
	defer cleanup()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.SSEvent(realtimeEventHeartbeat, RealtimeMessage{
		EventType: realtimeEventHeartbeat,
		Source:    realtimeSourceBackend,
		Timestamp: time.Now().UTC(),
	})
	c.Writer.Flush()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case message := <-stream:
			c.SSEvent(message.EventType, message)
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, RealtimeMessage{
				EventType: realtimeEventHeartbeat,
				Source:    realtimeSourceBackend,
				Timestamp: tick.UTC(),
			})
			return true
		}
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	if h.tokens == nil {
		c.Next()
		return
	}

	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	} else if header == "" {
		// EventSource clients cannot set headers.
		token = strings.TrimSpace(c.Query(accessTokenQueryParam))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}

	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(subjectContextKey, subject)
	c.Next()
}

var (
	_ SyncController      = (*scheduler.Scheduler)(nil)
	_ scheduler.Publisher = (*RealtimeDispatcher)(nil)
)
