// Package app assembles the messaging service with fx.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"messaging-service/internal/config"
	"messaging-service/internal/db"
	grpcclient "messaging-service/internal/grpc"
	"messaging-service/internal/handlers"
	"messaging-service/internal/identity"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/repositories/sqlitestore"
	"messaging-service/internal/service"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

// New builds the application. Call Run, or Start and Stop, on the result.
func New(cfg config.Config, log *zap.Logger) *fx.App {
	return fx.New(Options(cfg, log))
}

// Options is the full dependency graph, exposed for validation in tests.
func Options(cfg config.Config, log *zap.Logger) fx.Option {
	return fx.Options(
		fx.Supply(cfg, log),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(
			func() clock.Clock { return clock.New() },
			provideStores,
			provideIdentity,
			providePublisher,
			provideEmitter,
			provideAudit,
			ws.NewRegistry,
			provideCoordinator,
			provideMessaging,
			provideTracker,
			provideGateway,
			provideRouter,
		),
		fx.Invoke(registerTracing, registerHTTPServer),
	)
}

type stores struct {
	fx.Out

	Messages     repositories.MessageRepository
	Groups       repositories.GroupRepository
	JoinRequests repositories.JoinRequestRepository
}

func provideStores(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (stores, error) {
	switch cfg.StoreDriver {
	case "postgres":
		database, err := db.Connect(context.Background(), cfg.DatabaseURL, log)
		if err != nil {
			return stores{}, err
		}
		lc.Append(fx.StopHook(database.Close))
		return stores{
			Messages:     repositories.NewMessageRepo(database),
			Groups:       repositories.NewGroupRepo(database),
			JoinRequests: repositories.NewJoinRequestRepo(database),
		}, nil
	case "sqlite":
		store, err := sqlitestore.Open(cfg.SQLitePath, log)
		if err != nil {
			return stores{}, err
		}
		lc.Append(fx.StopHook(store.Close))
		return stores{Messages: store, Groups: store, JoinRequests: store}, nil
	default:
		return stores{}, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func provideIdentity(lc fx.Lifecycle, cfg config.Config, clk clock.Clock, log *zap.Logger) (identity.Provider, error) {
	var provider identity.Provider
	if cfg.AuthGRPCAddr != "" {
		conn, err := grpcclient.Dial(cfg.AuthGRPCAddr)
		if err != nil {
			return nil, fmt.Errorf("dial auth grpc: %w", err)
		}
		lc.Append(fx.StopHook(conn.Close))
		provider = grpcclient.NewAuthClient(conn, cfg.AuthTimeout)
		log.Info("identity via auth-service", zap.String("addr", cfg.AuthGRPCAddr))
	} else {
		provider = identity.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer, clk)
		log.Info("identity via local jwt verifier")
	}
	if cfg.IdentityCacheTTL > 0 {
		provider = identity.NewCachingProvider(provider, cfg.IdentityCacheLen, cfg.IdentityCacheTTL, clk)
	}
	return provider, nil
}

func providePublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) rabbitmq.Publisher {
	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.EventsExchange, log)
	log.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)),
	)
	lc.Append(fx.StopHook(publisher.Close))
	return publisher
}

func provideEmitter(publisher rabbitmq.Publisher, cfg config.Config, clk clock.Clock, log *zap.Logger) *observability.Emitter {
	return observability.NewEmitter(publisher, cfg.ServiceName, clk, log)
}

func provideAudit(publisher rabbitmq.Publisher, cfg config.Config, clk clock.Clock, log *zap.Logger) *telemetry.AuditEmitter {
	return telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Environment, clk, log)
}

func provideCoordinator(registry *ws.Registry, log *zap.Logger) *presence.Coordinator {
	return presence.NewCoordinator(registry, log)
}

type serviceParams struct {
	fx.In

	Messages     repositories.MessageRepository
	Groups       repositories.GroupRepository
	JoinRequests repositories.JoinRequestRepository
	Clock        clock.Clock
	Events       *observability.Emitter
	Log          *zap.Logger
}

func provideMessaging(p serviceParams) *service.MessagingService {
	return service.NewMessagingService(p.Messages, p.Groups, p.JoinRequests, p.Clock, p.Events, p.Log)
}

func provideTracker(p serviceParams) *service.DeliveryTracker {
	return service.NewDeliveryTracker(p.Messages, p.Clock, p.Events, p.Log)
}

type gatewayParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Registry  *ws.Registry
	Presence  *presence.Coordinator
	Messaging *service.MessagingService
	Tracker   *service.DeliveryTracker
	Identity  identity.Provider
	Events    *observability.Emitter
	Clock     clock.Clock
	Log       *zap.Logger
}

func provideGateway(p gatewayParams) *ws.Gateway {
	cfg := ws.DefaultConfig()
	cfg.PingInterval = p.Config.WSPingInterval
	cfg.PongWait = p.Config.WSPongWait
	cfg.WriteWait = p.Config.WSWriteWait
	cfg.SendBuffer = p.Config.WSSendBuffer
	cfg.MaxMessageSize = int64(p.Config.WSMaxMessageLen)

	gateway := ws.NewGateway(p.Registry, p.Presence, p.Messaging, p.Tracker, p.Identity, p.Events, p.Clock, cfg, p.Log)
	p.Lifecycle.Append(fx.StopHook(gateway.Shutdown))
	return gateway
}

type routerParams struct {
	fx.In

	Config    config.Config
	Log       *zap.Logger
	Identity  identity.Provider
	Registry  *ws.Registry
	Gateway   *ws.Gateway
	Messaging *service.MessagingService
	Tracker   *service.DeliveryTracker
	Audit     *telemetry.AuditEmitter
}

func provideRouter(p routerParams) *gin.Engine {
	if !p.Config.LogDev {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		otelgin.Middleware(p.Config.ServiceName),
		observability.HTTPMetricsMiddleware(),
		middleware.AccessLog(p.Log),
	)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", handlers.Healthz(p.Registry.ConnectionCount))
	router.GET("/ws", p.Gateway.Handle)
	handlers.RegisterDebugRoutes(router, p.Audit, p.Config.DebugRoutes)

	messageHandler := handlers.NewMessageHandler(p.Messaging, p.Tracker, p.Gateway)
	groupHandler := handlers.NewGroupHandler(p.Messaging, p.Gateway, p.Audit)

	api := router.Group("/messaging", middleware.AuthMiddleware(p.Identity, p.Log))
	api.POST("/direct", messageHandler.SendDirectMessage)
	api.GET("/direct", messageHandler.GetDirectMessages)
	api.GET("/direct/unread-count", messageHandler.GetUnreadCount)
	api.POST("/group", messageHandler.SendGroupMessage)
	api.POST("/messages/:message_id/read", messageHandler.MarkAsRead)
	api.POST("/messages/:message_id/delivered", messageHandler.MarkAsDelivered)

	api.POST("/groups", groupHandler.CreateGroup)
	api.GET("/groups", groupHandler.ListGroups)
	api.POST("/groups/:group_id/join", groupHandler.RequestToJoin)
	api.GET("/groups/:group_id/requests", groupHandler.ListPendingRequests)
	api.GET("/groups/:group_id/messages", messageHandler.GetGroupMessages)
	api.POST("/groups/requests/:request_id/process", groupHandler.ProcessJoinRequest)

	return router
}

func registerTracing(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) error {
	shutdown, err := telemetry.SetupTracing(context.Background(), cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment, log)
	if err != nil {
		return err
	}
	lc.Append(fx.StopHook(shutdown))
	return nil
}

func registerHTTPServer(lc fx.Lifecycle, cfg config.Config, router *gin.Engine, log *zap.Logger) {
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			lis, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			log.Info("http server listening", zap.String("addr", lis.Addr().String()))
			go func() {
				if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
			defer cancel()
			// hijacked websocket connections are closed by the gateway hook
			return multierr.Combine(srv.Shutdown(ctx), ignoreClosed(srv.Close()))
		},
	})
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
