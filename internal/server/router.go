package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/sololeveling/internal/offline"
	"github.com/MarcoPoloResearchLab/sololeveling/internal/players"
	"github.com/MarcoPoloResearchLab/sololeveling/internal/progression"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// CacheSourceHeader reports which path answered a mediated request.
const CacheSourceHeader = "X-Cache-Source"

const (
	defaultHeartbeatInterval = 25 * time.Second
	maxPushPayloadBytes      = 64 << 10
)

var (
	errMissingPlayerService = errors.New("player service dependency required")
	errMissingCacheManager  = errors.New("cache manager dependency required")
)

type Dependencies struct {
	PlayerService     *players.Service
	CacheManager      *offline.Manager
	Realtime          *RealtimeDispatcher
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.PlayerService == nil {
		return nil, errMissingPlayerService
	}
	if deps.CacheManager == nil {
		return nil, errMissingCacheManager
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		players:   deps.PlayerService,
		cache:     deps.CacheManager,
		realtime:  realtime,
		heartbeat: heartbeat,
		logger:    logger,
	}

	api := router.Group("/api/player")
	api.GET("", handler.handlePlayer)
	api.POST("/experience", handler.handleGrantExperience)
	api.POST("/rollover", handler.handleRollover)
	api.GET("/events", handler.handleEvents)

	worker := router.Group("/worker")
	worker.POST("/sync", handler.handleSync)
	worker.POST("/push", handler.handlePush)
	worker.GET("/status", handler.handleStatus)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.NoRoute(handler.handleMediated)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Last-Event-ID"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

type httpHandler struct {
	players   *players.Service
	cache     *offline.Manager
	realtime  *RealtimeDispatcher
	heartbeat time.Duration
	logger    *zap.Logger
}

type grantRequestPayload struct {
	Amount *int `json:"amount"`
}

type grantResponsePayload struct {
	Player   progression.Player    `json:"player"`
	LevelUps []progression.LevelUp `json:"levelUps"`
}

type rolloverResponsePayload struct {
	Player  progression.Player `json:"player"`
	Changed bool               `json:"changed"`
}

type syncRequestPayload struct {
	Tag string `json:"tag"`
}

type syncResponsePayload struct {
	Tag     string `json:"tag"`
	Handled bool   `json:"handled"`
}

type statusResponsePayload struct {
	Version string        `json:"version"`
	State   offline.State `json:"state"`
}

func (h *httpHandler) handlePlayer(c *gin.Context) {
	player, err := h.players.Player(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, "failed to load player", err)
		return
	}
	c.JSON(http.StatusOK, player)
}

func (h *httpHandler) handleGrantExperience(c *gin.Context) {
	var request grantRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Amount == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount"})
		return
	}
	xp, err := progression.NewExperience(*request.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount"})
		return
	}

	progress, err := h.players.GrantExperience(c.Request.Context(), xp)
	if err != nil {
		h.respondServiceError(c, "failed to grant experience", err)
		return
	}
	levelUps := progress.LevelUps
	if levelUps == nil {
		levelUps = []progression.LevelUp{}
	}
	c.JSON(http.StatusOK, grantResponsePayload{Player: progress.Player, LevelUps: levelUps})
}

func (h *httpHandler) handleRollover(c *gin.Context) {
	player, changed, err := h.players.Rollover(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, "failed to roll over player", err)
		return
	}
	c.JSON(http.StatusOK, rolloverResponsePayload{Player: player, Changed: changed})
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case burst := <-stream:
			for _, message := range burst {
				c.Render(-1, sse.Event{
					Id:    message.ID,
					Event: message.EventType,
					Data:  message.Payload,
				})
			}
			return true
		case <-ticker.C:
			c.Render(-1, sse.Event{
				Event: realtimeEventHeartbeat,
				Data:  gin.H{"timestamp": time.Now().UTC().Unix()},
			})
			return true
		}
	})
}

func (h *httpHandler) handleSync(c *gin.Context) {
	var request syncRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	handled := h.cache.Sync(c.Request.Context(), request.Tag)
	c.JSON(http.StatusOK, syncResponsePayload{Tag: request.Tag, Handled: handled})
}

func (h *httpHandler) handlePush(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPushPayloadBytes))
	if err != nil {
		h.logger.Warn("failed to read push payload", zap.Error(err))
		payload = nil
	}
	notification := h.cache.Push(c.Request.Context(), payload)
	c.JSON(http.StatusOK, notification)
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, statusResponsePayload{
		Version: h.cache.Version(),
		State:   h.cache.State(),
	})
}

func (h *httpHandler) handleMediated(c *gin.Context) {
	response, err := h.cache.Fetch(c.Request.Context(), c.Request)
	if err != nil {
		h.logger.Warn("upstream request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_unavailable"})
		return
	}

	header := c.Writer.Header()
	for name, values := range response.Header {
		for _, value := range values {
			header.Add(name, value)
		}
	}
	header.Set(CacheSourceHeader, response.Source)
	c.Status(response.Status)
	if _, err := c.Writer.Write(response.Body); err != nil {
		h.logger.Debug("failed to write mediated response", zap.Error(err))
	}
}

func (h *httpHandler) respondServiceError(c *gin.Context, message string, err error) {
	code := "internal_error"
	var serviceErr *players.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}
	h.logger.Error(message, zap.String("code", code), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": code})
}
