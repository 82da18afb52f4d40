package idempotency

import "time"

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Outcome of Begin.
type Outcome string

const (
	OutcomeNew        Outcome = "new"
	OutcomeDone       Outcome = "done"
	OutcomeInProgress Outcome = "in_progress"
)

// Key prefixes keep webhook notification ids and client supplied keys apart
// in the shared table.
const (
	PrefixWebhook     = "webhook#"
	PrefixTransaction = "transaction#"
)

// Record is the shape persisted in the idempotency DynamoDB table.
type Record struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK
	Status         string    `dynamodbav:"status"`
	Subject        string    `dynamodbav:"subject,omitempty"`         // order id the key acted on
	ResponseBody   string    `dynamodbav:"response_body,omitempty"`   // small responses only
	ResponseStatus int       `dynamodbav:"response_status,omitempty"` // e.g., 201
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note           string    `dynamodbav:"note,omitempty"`
}
