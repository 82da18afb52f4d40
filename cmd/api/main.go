package main

import (
	"context"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/transacta/paymentid/internal/aws"
	"github.com/transacta/paymentid/internal/config"
	"github.com/transacta/paymentid/internal/handlers"
	"github.com/transacta/paymentid/internal/logging"
	"github.com/transacta/paymentid/internal/metrics"
	"github.com/transacta/paymentid/internal/paypal"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(cfg.Logger), metrics.HTTPRequests())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metrics.Handler)

	handlers.RegisterRoutes(r, cfg)

	return r
}

func main() {
	cfg := config.MustLoadConfig(config.PathFromEnv())
	logger := logging.GetLogger(cfg.Logs).With("component", "api")
	metrics.Setup(cfg.Metrics, logger)

	clients, err := aws.NewAWSClients(context.Background(), aws.ConfigOptions{
		Region:           cfg.AWS.Region,
		EndpointOverride: cfg.AWS.EndpointOverride,
	})
	if err != nil {
		logger.Error("Failed to init AWS clients", "error", err)
		os.Exit(1)
	}

	if cfg.PayPal.ClientID == "" || cfg.PayPal.ClientSecret == "" {
		logger.Warn("PayPal credentials are not configured; checkout and webhook verification will fail")
	}
	if cfg.PayPal.WebhookID == "" {
		logger.Warn("PayPal webhook id is not configured; every webhook notification will be rejected")
	}

	r := setupRouter(handlers.HandlerConfig{
		Config:         cfg,
		DynamoDBClient: clients.DynamoDB,
		SQSClient:      clients.SQS,
		S3Client:       clients.S3,
		PayPal:         paypal.NewClient(cfg.PayPal, logger),
		Logger:         logger,
	})

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		logger.Info("Running local server", "addr", cfg.Server.Port, "paypal_mode", paypal.ModeFor(cfg.PayPal))
		if err := r.Run(cfg.Server.Port); err != nil {
			logger.Error("Failed to run local server", "error", err)
			os.Exit(1)
		}
		return
	}

	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
