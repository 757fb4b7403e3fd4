package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"twatter-messaging/internal/attachments"
	"twatter-messaging/internal/config"
	"twatter-messaging/internal/db"
	"twatter-messaging/internal/handlers"
	"twatter-messaging/internal/middleware"
	"twatter-messaging/internal/observability"
	"twatter-messaging/internal/rabbitmq"
	"twatter-messaging/internal/ratelimit"
	"twatter-messaging/internal/repositories"
	"twatter-messaging/internal/session"
	"twatter-messaging/internal/telemetry"
	"twatter-messaging/internal/ws"
)

const serviceName = "twatter-messaging"

func main() {
	cfg := config.Load()
	ctx := context.Background()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, serviceName, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("tracing shutdown failed: %v", err)
		}
	}()

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	eventPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		log.Printf("event publishing disabled: %v", err)
	} else {
		observability.SetPublisher(eventPublisher)
		defer eventPublisher.Close()
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(auditPublisher))
	auditEmitter := telemetry.NewAuditEmitter(auditPublisher, cfg.AuditRoutingKey, serviceName, cfg.Environment)

	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	settingsRepo := repositories.NewSettingsRepo(database)

	sessions := session.NewValidator(cfg.SessionSecret, cfg.SessionMaxAge)
	registry := ws.NewRegistry()
	limiter := ratelimit.New(ws.DefaultRateRules())
	processor := attachments.NewDiskProcessor(cfg.UploadDir)

	eventHandlers := ws.NewEventHandlers(registry, limiter, conversationRepo, messageRepo, settingsRepo, processor, auditEmitter, cfg.MessageMaxChars)
	gate := ws.NewGate(registry, sessions, eventHandlers, cfg.SessionCookie, cfg.MaxPayloadBytes)

	conversationHandler := handlers.NewConversationHandler(conversationRepo, messageRepo)

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.CORS(cfg.AllowedOrigin))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.Static("/uploads", cfg.UploadDir)

	authed := router.Group("/", middleware.SessionAuth(sessions, cfg.SessionCookie))
	authed.GET("/conversations", conversationHandler.ListConversations)
	authed.POST("/conversations/start", conversationHandler.StartConversation)
	authed.GET("/conversations/:conversation_id/messages", conversationHandler.GetMessages)
	authed.DELETE("/conversations/:conversation_id/me", conversationHandler.LeaveConversation)

	router.GET("/ws", gate.Handle)

	handlers.RegisterDebugRoutes(router, auditEmitter, cfg.DebugRoutes)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
