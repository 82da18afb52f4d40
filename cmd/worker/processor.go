package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/transacta/paymentid/internal/logging"
	"github.com/transacta/paymentid/internal/metrics"
	"github.com/transacta/paymentid/internal/transactions"
)

type TransactionWriter interface {
	Save(ctx context.Context, t *transactions.Transaction) error
}

// Processor re-applies captured payments whose local write failed in the API.
type Processor struct {
	transactions TransactionWriter
	logger       *slog.Logger
}

// NewProcessor creates a new worker processor.
func NewProcessor(transactions TransactionWriter, logger *slog.Logger) *Processor {
	return &Processor{transactions: transactions, logger: logger}
}

// Handle processes an SQS batch. Failed messages are reported individually
// so only they are redelivered; after the queue's receive limit they move to
// the dead-letter queue.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.ErrorContext(ctx, "Reconciliation failed", "message_id", rec.MessageId, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg transactions.ReconcileMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	tx := msg.Transaction
	if tx.OrderID == "" {
		return errors.New("message carries no order id")
	}

	ctx = logging.WithAttrs(ctx, slog.String("order_id", tx.OrderID))
	p.logger.InfoContext(ctx, "Reconciling transaction",
		"status", tx.Status,
		"reason", msg.Reason,
		"enqueued_at", msg.EnqueuedAt,
		"receive_count", rec.Attributes["ApproximateReceiveCount"],
	)

	err := p.transactions.Save(ctx, &tx)
	if errors.Is(err, transactions.ErrStaleStatus) {
		// the webhook or a retried request settled it meanwhile
		p.logger.InfoContext(ctx, "Transaction already reconciled")
		return nil
	}
	if err != nil {
		return fmt.Errorf("save transaction %s: %w", tx.OrderID, err)
	}

	metrics.TransactionRecorded(tx.Status)
	p.logger.InfoContext(ctx, "Transaction reconciled", "status", tx.Status)
	return nil
}
