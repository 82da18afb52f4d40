package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/transacta/paymentid/internal/aws"
	"github.com/transacta/paymentid/internal/config"
	"github.com/transacta/paymentid/internal/logging"
	"github.com/transacta/paymentid/internal/metrics"
	"github.com/transacta/paymentid/internal/transactions"
)

func main() {
	cfg := config.MustLoadConfig(config.PathFromEnv())
	logger := logging.GetLogger(cfg.Logs).With("component", "worker")
	metrics.Setup(cfg.Metrics, logger)

	clients, err := aws.NewAWSClients(context.Background(), aws.ConfigOptions{
		Region:           cfg.AWS.Region,
		EndpointOverride: cfg.AWS.EndpointOverride,
	})
	if err != nil {
		logger.Error("Failed to init AWS clients", "error", err)
		os.Exit(1)
	}

	p := NewProcessor(transactions.NewStore(clients.DynamoDB, cfg.Tables.Transactions), logger)

	// If RUN_LOCAL=true, simulate a single SQS event with LOCAL_SQS_BODY.
	if os.Getenv("RUN_LOCAL") == "true" {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			logger.Error("LOCAL_SQS_BODY is required in local mode")
			os.Exit(1)
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		}
		resp, err := p.Handle(context.Background(), event)
		if err != nil || len(resp.BatchItemFailures) > 0 {
			logger.Error("Local handler error", "error", err, "failures", len(resp.BatchItemFailures))
			os.Exit(1)
		}
		return
	}

	lambda.Start(p.Handle)
}
