package routes

import (
	"log/slog"
	"time"

	"chat-relay/internal/api/handlers"
	"chat-relay/internal/api/middleware"
	"chat-relay/internal/auth"
	"chat-relay/internal/config"
	"chat-relay/internal/services"
	"chat-relay/internal/websocket"

	"github.com/gin-gonic/gin"
)

// Dependencies are the collaborators the router wires into handlers.
// Limiter and Statuses may be nil when redis is not configured.
type Dependencies struct {
	Config        *config.Config
	Logger        *slog.Logger
	Relay         *websocket.Relay
	Conversations *services.ConversationService
	Verifier      auth.TokenVerifier
	Limiter       middleware.RateLimiter
	Statuses      handlers.StatusReader
	HealthChecks  map[string]handlers.HealthCheck
}

type Router struct {
	engine              *gin.Engine
	wsHandler           *handlers.WSHandler
	conversationHandler *handlers.ConversationHandler
	healthHandler       *handlers.HealthHandler
	metricsHandler      *handlers.MetricsHandler
	presenceHandler     *handlers.PresenceHandler
	rateLimitMW         *middleware.RateLimitMiddleware
	authMW              *middleware.AuthMiddleware
}

func NewRouter(deps Dependencies) *Router {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := gin.New()

	// Add middlewares
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(deps.Config.CORS.AllowedOrigins))
	engine.Use(middleware.LogApi(logger))

	upgrader := websocket.NewUpgrader(deps.Config.CORS.AllowedOrigins, 1024, 1024)

	return &Router{
		engine:              engine,
		wsHandler:           handlers.NewWSHandler(deps.Relay, upgrader),
		conversationHandler: handlers.NewConversationHandler(deps.Conversations),
		healthHandler:       handlers.NewHealthHandler(deps.HealthChecks),
		metricsHandler:      handlers.NewMetricsHandler(deps.Relay),
		presenceHandler:     handlers.NewPresenceHandler(deps.Relay, deps.Statuses),
		rateLimitMW:         middleware.NewRateLimitMiddleware(deps.Limiter),
		authMW:              middleware.NewAuthMiddleware(deps.Verifier),
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/healthz", r.healthHandler.Health)
	r.engine.GET("/metrics", r.metricsHandler.Metrics)

	api := r.engine.Group("/api/v1")

	// The token is checked by the relay after the upgrade so that rejected
	// clients get a close frame.
	api.GET("/ws",
		r.rateLimitMW.RateLimitIP(30, time.Minute),
		r.wsHandler.HandleWebSocket,
	)

	authed := api.Group("/")
	authed.Use(r.authMW.RequireAuth())
	{
		conversations := authed.Group("/conversations")
		conversations.Use(r.rateLimitMW.RateLimit(100, time.Minute))
		{
			conversations.GET("", r.conversationHandler.ListConversations)
			conversations.POST("", r.conversationHandler.CreateConversation)
			conversations.GET("/:id", r.conversationHandler.GetConversation)
			conversations.POST("/:id/read", r.conversationHandler.MarkRead)
			conversations.GET("/:id/unread", r.conversationHandler.UnreadCount)
			conversations.POST("/:id/participants", r.conversationHandler.AddParticipant)
			conversations.POST("/:id/participants/remove", r.conversationHandler.RemoveParticipant)
		}

		presence := authed.Group("/presence")
		presence.Use(r.rateLimitMW.RateLimit(100, time.Minute))
		{
			presence.GET("", r.presenceHandler.ListOnline)
			presence.GET("/:userId", r.presenceHandler.GetPresence)
		}

		messages := authed.Group("/conversations/:id/messages")
		messages.Use(r.rateLimitMW.RateLimit(200, time.Minute))
		{
			messages.GET("", r.conversationHandler.ListMessages)
			messages.POST("", r.conversationHandler.SendMessage)
		}
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
