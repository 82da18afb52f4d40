package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/transacta/paymentid/internal/aws"
	"github.com/transacta/paymentid/internal/config"
	"github.com/transacta/paymentid/internal/logging"
	"github.com/transacta/paymentid/internal/metrics"
	"github.com/transacta/paymentid/internal/products"
	"github.com/transacta/paymentid/internal/sweeper"
)

func main() {
	cfg := config.MustLoadConfig(config.PathFromEnv())
	logger := logging.GetLogger(cfg.Logs).With("component", "sweeper")
	metrics.Setup(cfg.Metrics, logger)

	loc, err := time.LoadLocation(cfg.Sweep.Timezone)
	if err != nil {
		logger.Error("Invalid sweep timezone", "timezone", cfg.Sweep.Timezone, "error", err)
		os.Exit(1)
	}

	clients, err := aws.NewAWSClients(context.Background(), aws.ConfigOptions{
		Region:           cfg.AWS.Region,
		EndpointOverride: cfg.AWS.EndpointOverride,
	})
	if err != nil {
		logger.Error("Failed to init AWS clients", "error", err)
		os.Exit(1)
	}

	s := sweeper.New(
		products.NewStore(clients.DynamoDB, cfg.Tables.Products),
		sweeper.NewMarkerStore(clients.DynamoDB, cfg.Tables.SystemConfig),
		aws.NewMetricsPublisher(clients.CloudWatch, sweeper.Namespace),
		loc,
		logger,
	)

	if os.Getenv("RUN_LOCAL") == "true" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		runDaily(ctx, s, loc, logger)
		return
	}

	lambda.Start(func(ctx context.Context, ev events.CloudWatchEvent) error {
		return runOnce(ctx, s, logger)
	})
}

func runOnce(ctx context.Context, s *sweeper.Sweeper, logger *slog.Logger) error {
	_, err := s.Run(ctx)
	if sweeper.IsAlreadySwept(err) {
		logger.InfoContext(ctx, "Expiry sweep already done today")
		return nil
	}
	return err
}

// runDaily sweeps immediately, then at every local midnight until ctx is done.
func runDaily(ctx context.Context, s *sweeper.Sweeper, loc *time.Location, logger *slog.Logger) {
	for {
		if err := runOnce(ctx, s, logger); err != nil {
			logger.ErrorContext(ctx, "Expiry sweep failed", "error", err)
		}

		wait := time.Until(nextMidnight(time.Now(), loc))
		logger.InfoContext(ctx, "Next expiry sweep scheduled", "in", wait.Round(time.Second).String())

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func nextMidnight(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}
