package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"chat-sync/internal/credentials"
	"chat-sync/internal/engine"
	"chat-sync/internal/handlers"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/rabbitmq"
	"chat-sync/internal/rest"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupTracing(ctx)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	if shutdownTracing != nil {
		defer shutdownTracing(context.Background())
	}

	tokens, closeTokens, err := buildTokenSource()
	if err != nil {
		log.Fatalf("failed to build credential store: %v", err)
	}
	if closeTokens != nil {
		defer closeTokens()
	}

	restBase := getEnv("REST_BASE_URL", "http://localhost:8080")
	restClient := rest.NewHTTPClient(restBase, tokens, nil)

	gateway := getEnv("SYNC_GATEWAY_URL", "ws://localhost:8090")
	chatTransport := transport.New(transport.Config{Endpoint: gateway, Namespace: "chat", Tokens: tokens})
	dmTransport := transport.New(transport.Config{Endpoint: gateway, Namespace: "dm", Tokens: tokens})
	notifTransport := transport.New(transport.Config{Endpoint: gateway, Namespace: "notifications", Tokens: tokens})

	amqpURL := getEnv("AMQP_URL", "")
	exchange := getEnv("AMQP_EXCHANGE", "sync_events")
	if amqpURL != "" {
		eventPublisher, err := observability.NewAMQPPublisher(amqpURL, exchange)
		if err != nil {
			log.Printf("telemetry events disabled: %v", err)
		} else {
			observability.SetPublisher(eventPublisher)
			defer eventPublisher.Close()
		}
	}

	auditPublisher := rabbitmq.NewPublisher(amqpURL, getEnv("AUDIT_EXCHANGE", "audit_events"))
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(auditPublisher))
	audit := telemetry.NewAuditEmitter(auditPublisher, "audit.chat-sync", "chat-sync", getEnv("ENVIRONMENT", "dev"))

	self := models.Identity{
		ID:   getEnv("ACCOUNT_ID", ""),
		Name: getEnv("ACCOUNT_NAME", ""),
	}
	if self.ID == "" {
		log.Fatalf("ACCOUNT_ID is required")
	}

	session := engine.NewSession(engine.Config{
		Self:          self,
		Rest:          restClient,
		Chat:          chatTransport,
		DM:            dmTransport,
		Notifications: notifTransport,
	})
	session.Start(ctx)
	defer session.Close()

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("chat-sync"))
	router.Use(observability.HTTPMetricsMiddleware())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterOpsRoutes(router, session, audit, getEnv("DEBUG_ENDPOINTS", "false") == "true")

	port := getEnv("PORT", "8086")
	server := &http.Server{Addr: ":" + port, Handler: router}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()
	log.Printf("chat-sync listening on :%s account=%s", port, self.ID)

	<-ctx.Done()
	log.Printf("shutting down")
	_ = server.Shutdown(context.Background())
}

func buildTokenSource() (credentials.TokenSource, func() error, error) {
	if dsn := getEnv("CRED_DB_DSN", ""); dsn != "" {
		store, err := credentials.ConnectPG(dsn, getEnv("ACCOUNT_ID", ""))
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return credentials.NewMemoryStore(getEnv("BEARER_TOKEN", "")), nil, nil
}

func setupTracing(ctx context.Context) (func(context.Context) error, error) {
	endpoint := getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if endpoint == "" {
		return nil, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("chat-sync"),
		)),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
