package bootstrap

import (
	"context"
	"log"

	"support-chat-be/internal/admission"
	"support-chat-be/internal/bridge"
	"support-chat-be/internal/config"
	"support-chat-be/internal/controller"
	"support-chat-be/internal/metrics"
	"support-chat-be/internal/pkg/logger"
	"support-chat-be/internal/repository/unitofwork"
	"support-chat-be/internal/service"
	"support-chat-be/internal/websocket"
	"support-chat-be/pkg/events"
	pktNats "support-chat-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	SupportController  controller.ISupportController
	AdminController    controller.IAdminController
	OperatorController controller.IOperatorController

	// WebSockets
	WebSocketHandler *websocket.Handler
	WebSocketHub     *websocket.Hub

	// Background
	Bridge *bridge.Bridge
	Bus    events.Bus

	Metrics *metrics.Support
	Logger  logger.ILogger

	rdb *redis.Client
}

// NewContainer wires the service. db may be nil when the memory store is
// configured.
func NewContainer(ctx context.Context, db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.IsProduction())
	wsLogger := logger.NewIsolatedLogger(cfg.App.WsLogFilePath)
	supportMetrics := metrics.NewSupport(prometheus.NewRegistry())

	var uow unitofwork.UnitOfWork
	if db != nil {
		uow = unitofwork.NewUnitOfWork(db)
	} else {
		log.Printf("[WARN] Using in-memory message store; data is lost on restart")
		uow = unitofwork.NewMemoryUnitOfWork()
	}

	// 2. Event Bus
	var bus events.Bus
	if cfg.Support.EventBus == "nats" && cfg.App.NatsURL != "" {
		natsBus, err := pktNats.NewBus(cfg.App.NatsURL, "support-operator-bridge")
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS, falling back to in-process bus: %v", err)
		} else {
			bus = natsBus
		}
	}
	if bus == nil {
		bus = events.NewChannelBus(watermill.NewStdLogger(false, false))
	}

	// 3. Redis (optional, cross-instance delivery)
	var rdb *redis.Client
	if cfg.App.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
			opt = &redis.Options{Addr: cfg.App.RedisURL}
		}
		rdb = redis.NewClient(opt)
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			log.Printf("[WARN] Failed to connect to Redis, live delivery stays local: %v", err)
			rdb.Close()
			rdb = nil
		}
	}

	// 4. Session actors and admission
	hub := websocket.NewHub(ctx, uow.ChatMessageRepository(), rdb, websocket.HubConfig{
		IdleTimeout: cfg.Support.ActorIdleTimeout,
		InstanceID:  cfg.App.InstanceID,
	}, supportMetrics, wsLogger)

	controllerPool := admission.NewController(uow, cfg.Support.Capacity, supportMetrics, sysLogger)
	chatService := service.NewChatService(uow, controllerPool, hub, bus, cfg.Support, sysLogger)

	// 5. Operator Bridge
	var channel bridge.Channel
	if cfg.Telegram.BotToken != "" {
		tg, err := bridge.NewTelegramChannel(cfg.Telegram.BotToken, cfg.Telegram.GroupChatID)
		if err != nil {
			log.Printf("[WARN] Telegram unavailable, operator notifications go to the log: %v", err)
		} else {
			channel = tg
		}
	}
	if channel == nil {
		channel = bridge.NewLogChannel(sysLogger)
	}
	operatorBridge := bridge.New(chatService, channel, cfg.Telegram.GroupChatID, supportMetrics, sysLogger)

	return &Container{
		SupportController:  controller.NewSupportController(chatService),
		AdminController:    controller.NewAdminController(chatService, cfg.App.JwtSecret),
		OperatorController: controller.NewOperatorController(operatorBridge, cfg.Telegram.WebhookSecret, cfg.App.IsProduction(), sysLogger),
		WebSocketHandler:   websocket.NewHandler(hub, chatService, cfg.Support.SendBufferSize, supportMetrics, wsLogger),
		WebSocketHub:       hub,
		Bridge:             operatorBridge,
		Bus:                bus,
		Metrics:            supportMetrics,
		Logger:             sysLogger,
		rdb:                rdb,
	}
}

// Start launches the background consumers.
func (c *Container) Start(ctx context.Context) error {
	go c.WebSocketHub.Run(ctx)
	return c.Bridge.Start(ctx, c.Bus)
}

func (c *Container) Close() {
	if err := c.Bus.Close(); err != nil {
		log.Printf("[WARN] Event bus close: %v", err)
	}
	if c.rdb != nil {
		c.rdb.Close()
	}
	c.Logger.Sync()
}
