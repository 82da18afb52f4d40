package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/transacta/paymentid/internal/accounts"
	"github.com/transacta/paymentid/internal/auth"
	"github.com/transacta/paymentid/internal/aws"
	"github.com/transacta/paymentid/internal/checkout"
	"github.com/transacta/paymentid/internal/config"
	"github.com/transacta/paymentid/internal/contacts"
	"github.com/transacta/paymentid/internal/idempotency"
	"github.com/transacta/paymentid/internal/ledger"
	"github.com/transacta/paymentid/internal/media"
	"github.com/transacta/paymentid/internal/paypal"
	"github.com/transacta/paymentid/internal/products"
	"github.com/transacta/paymentid/internal/transactions"
	"github.com/transacta/paymentid/internal/validation"
	"github.com/transacta/paymentid/internal/webhook"
)

// HandlerConfig groups the dependencies of the HTTP API.
type HandlerConfig struct {
	Config         *config.Config
	DynamoDBClient aws.DynamoDBAPI
	SQSClient      aws.SQSAPI
	S3Client       aws.S3API
	PayPal         *paypal.Client
	Logger         *slog.Logger
}

type api struct {
	validate     *validatorv10.Validate
	products     *products.Store
	transactions *transactions.Store
	contacts     *contacts.Store
	accounts     *accounts.Store
	ledger       *ledger.Store
	idempotency  *idempotency.Store
	checkout     *checkout.Service
	webhook      *webhook.Listener
	media        *media.Uploader
	verifier     *auth.Verifier
	logger       *slog.Logger
	nowFunc      func() time.Time
}

func newAPI(cfg HandlerConfig) *api {
	c := cfg.Config
	db := cfg.DynamoDBClient

	productStore := products.NewStore(db, c.Tables.Products)
	txStore := transactions.NewStore(db, c.Tables.Transactions)
	ledgerStore := ledger.NewStore(db, c.Tables.Ledger, c.Tables.Refunds)
	idemStore := idempotency.NewStore(db, c.Tables.Idempotency, c.Idempotency.TTL)
	reconcile := aws.NewPublisher(cfg.SQSClient, c.Queue.ReconciliationURL)

	return &api{
		validate:     validation.New(),
		products:     productStore,
		transactions: txStore,
		contacts:     contacts.NewStore(db, c.Tables.Contacts),
		accounts:     accounts.NewStore(db, c.Tables.Accounts),
		ledger:       ledgerStore,
		idempotency:  idemStore,
		checkout:     checkout.NewService(c.App.BaseURL, productStore, txStore, cfg.PayPal, reconcile, cfg.Logger),
		webhook: webhook.NewListener(webhook.Config{
			WebhookID:       c.PayPal.WebhookID,
			VerifySignature: c.PayPal.VerifySignature,
			Mode:            paypal.ModeFor(c.PayPal),
		}, cfg.PayPal, txStore, ledgerStore, idemStore, cfg.Logger),
		media:    media.NewUploader(cfg.S3Client, c.Media.Bucket, c.Media.PublicBaseURL, cfg.Logger),
		verifier: auth.NewVerifier(c.Auth.JWTSecret),
		logger:   cfg.Logger,
		nowFunc:  time.Now,
	}
}

// RegisterRoutes registers every API route on r.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	a := newAPI(cfg)

	pub := r.Group("/api")
	a.registerPublicRoutes(pub)
	a.registerWebhookRoutes(pub)

	admin := r.Group("/api", auth.RequireAuth(a.verifier), auth.RequireRole(accounts.RoleAdmin, accounts.RoleSuperAdmin))
	a.registerAdminRoutes(admin)
	a.registerProfileRoutes(admin)

	super := r.Group("/api/admin", auth.RequireAuth(a.verifier), auth.RequireRole(accounts.RoleSuperAdmin))
	a.registerSuperAdminRoutes(super)
}

// envelope is the response shape of every non-webhook API route.
type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, envelope{Success: status < 400, Message: message, Data: data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, envelope{Success: false, Message: message})
}

// fail maps service errors onto HTTP statuses. Unknown errors are logged and
// answered with 500 and fallback.
func (a *api) fail(c *gin.Context, err error, fallback string) {
	status, message := a.classify(err, fallback)
	if status == http.StatusInternalServerError {
		a.logger.ErrorContext(c.Request.Context(), fallback, "error", err, "route", c.FullPath())
	}
	respondError(c, status, message)
}

func (a *api) classify(err error, fallback string) (int, string) {
	switch {
	case errors.Is(err, checkout.ErrProductNotFound),
		errors.Is(err, products.ErrNotFound):
		return http.StatusNotFound, "Payment not found"
	case errors.Is(err, contacts.ErrNotFound):
		return http.StatusNotFound, "Contact not found"
	case errors.Is(err, accounts.ErrNotFound):
		return http.StatusNotFound, "Account not found"
	case errors.Is(err, checkout.ErrProductExpired):
		return http.StatusConflict, products.ExpiredText
	case errors.Is(err, products.ErrSlugTaken):
		return http.StatusConflict, "Slug is already used by another payment"
	case errors.Is(err, checkout.ErrAmountMismatch):
		return http.StatusBadRequest, "Amount does not match the payment price"
	case errors.Is(err, media.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "Image is too large"
	case errors.Is(err, media.ErrUnsupportedImage), errors.Is(err, media.ErrUnknownFolder):
		return http.StatusBadRequest, "Unsupported image"
	}
	var apiErr *paypal.APIError
	if errors.As(err, &apiErr) || errors.Is(err, paypal.ErrNotConfigured) {
		return http.StatusBadGateway, "Payment provider request failed"
	}
	return http.StatusInternalServerError, fallback
}

// jsonBody renders v the way gin would, for responses that are also stored
// as idempotent replays.
func jsonBody(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"success":false,"message":"Internal server error"}`)
	}
	return b
}
