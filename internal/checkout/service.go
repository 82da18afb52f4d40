package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/transacta/paymentid/internal/metrics"
	"github.com/transacta/paymentid/internal/paypal"
	"github.com/transacta/paymentid/internal/products"
	"github.com/transacta/paymentid/internal/transactions"
	"github.com/transacta/paymentid/internal/validation"
)

// CancelPrefix marks synthesized ids of abandoned checkouts. PayPal order ids
// never contain an underscore.
const CancelPrefix = "CANCEL_"

var (
	ErrProductNotFound = errors.New("payment not found")
	ErrProductExpired  = errors.New("payment period has expired")
	ErrAmountMismatch  = errors.New("amount does not match the payment price")
	// ErrRecordPending means PayPal captured the payment but the local write
	// failed and was handed to the reconciliation queue.
	ErrRecordPending = errors.New("payment captured, confirmation pending")
)

type ProductReader interface {
	GetBySlug(ctx context.Context, slug string) (*products.Product, error)
}

type TransactionStore interface {
	Save(ctx context.Context, t *transactions.Transaction) error
	Get(ctx context.Context, orderID string) (*transactions.Transaction, error)
}

type Gateway interface {
	CreateOrder(ctx context.Context, req paypal.OrderRequest) (*paypal.Order, error)
	CaptureOrder(ctx context.Context, orderID string) (*paypal.Order, error)
}

type Publisher interface {
	Publish(ctx context.Context, messageBody string, attributes map[string]string) error
}

// Service drives the buyer side of a payment: quoting, PayPal order creation,
// capture and the resulting transaction record.
type Service struct {
	products     ProductReader
	transactions TransactionStore
	gateway      Gateway
	reconcile    Publisher
	baseURL      string
	logger       *slog.Logger
	nowFunc      func() time.Time
}

func NewService(baseURL string, products ProductReader, transactions TransactionStore, gateway Gateway, reconcile Publisher, logger *slog.Logger) *Service {
	return &Service{
		products:     products,
		transactions: transactions,
		gateway:      gateway,
		reconcile:    reconcile,
		baseURL:      strings.TrimRight(baseURL, "/"),
		logger:       logger,
		nowFunc:      time.Now,
	}
}

// Quote is what the storefront shows on a payment page.
type Quote struct {
	Product          products.Product `json:"product"`
	AmountUSD        string           `json:"amountUSD"`
	AmountIDR        int64            `json:"amountIDR"`
	RemainingSeconds int64            `json:"remainingSeconds"`
	Countdown        string           `json:"countdown"`
	Expired          bool             `json:"expired"`
}

// Result is the outcome of recording a transaction.
type Result struct {
	Transaction *transactions.Transaction `json:"transaction"`
	RedirectURL string                    `json:"redirectUrl"`
}

func (s *Service) product(ctx context.Context, slug string) (*products.Product, error) {
	p, err := s.products.GetBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("lookup payment %q: %w", slug, err)
	}
	if p == nil {
		return nil, ErrProductNotFound
	}
	return p, nil
}

// Lookup resolves a published product by slug without rejecting expired ones.
func (s *Service) Lookup(ctx context.Context, slug string) (*Quote, error) {
	p, err := s.product(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !p.IsPublished {
		return nil, ErrProductNotFound
	}
	now := s.nowFunc()
	return &Quote{
		Product:          *p,
		AmountUSD:        p.USDAmount(),
		AmountIDR:        p.PriceIDR,
		RemainingSeconds: int64(p.Remaining(now) / time.Second),
		Countdown:        p.Countdown(now),
		Expired:          p.Expired(now),
	}, nil
}

// Quote is Lookup restricted to products that can still be bought.
func (s *Service) Quote(ctx context.Context, slug string) (*Quote, error) {
	q, err := s.Lookup(ctx, slug)
	if err != nil {
		return nil, err
	}
	if q.Expired {
		return q, ErrProductExpired
	}
	return q, nil
}

// BuildOrderRequest is the PayPal order for one unit of p, priced from the
// product record.
func (s *Service) BuildOrderRequest(p products.Product) paypal.OrderRequest {
	return paypal.OrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []paypal.PurchaseUnitRequest{{
			ReferenceID: p.Slug,
			Amount: paypal.Money{
				CurrencyCode: products.CurrencyUSD,
				Value:        p.USDAmount(),
			},
			Description: p.Title,
		}},
		ApplicationContext: &paypal.ApplicationContext{
			ReturnURL: s.baseURL + "/payment/success",
			CancelURL: s.baseURL + "/payment/cancel",
		},
	}
}

// CreateOrder quotes slug and opens a PayPal order for it.
func (s *Service) CreateOrder(ctx context.Context, slug string) (*paypal.Order, error) {
	q, err := s.Quote(ctx, slug)
	if err != nil {
		return nil, err
	}
	order, err := s.gateway.CreateOrder(ctx, s.BuildOrderRequest(q.Product))
	if err != nil {
		return nil, fmt.Errorf("create paypal order: %w", err)
	}
	s.logger.InfoContext(ctx, "PayPal order created", "order_id", order.ID, "slug", slug, "amount_usd", q.AmountUSD)
	return order, nil
}

// Capture captures an approved order and records exactly one transaction for
// it. A capture whose amount differs from the product price is stored as
// AMOUNT_MISMATCH.
func (s *Service) Capture(ctx context.Context, orderID, slug string) (*Result, error) {
	// the buyer already approved; a listing unpublished since then is still captured
	p, err := s.product(ctx, slug)
	if err != nil {
		return nil, err
	}

	order, err := s.gateway.CaptureOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("capture paypal order: %w", err)
	}

	tx := &transactions.Transaction{
		OrderID:        orderID,
		PayerID:        order.Payer.PayerID,
		PayerEmail:     order.Payer.EmailAddress,
		ProductID:      p.ID,
		ProductTitle:   p.Title,
		ProductSlug:    p.Slug,
		AmountUSD:      p.USDAmount(),
		AmountIDR:      p.PriceIDR,
		Status:         order.Status,
		PaymentMethod:  order.PaymentMethod(),
		PaymentDetails: order.Raw,
	}

	if order.State() == paypal.OrderStatusCompleted {
		amount, ok := order.CapturedAmount()
		if !ok || amount.CurrencyCode != products.CurrencyUSD || !p.MatchesUSD(amount.Value) {
			s.logger.WarnContext(ctx, "Captured amount does not match payment price",
				"order_id", orderID, "expected", p.USDAmount(), "captured", amount.Value, "currency", amount.CurrencyCode)
			tx.Status = transactions.StatusAmountMismatch
			tx.ErrorMessage = fmt.Sprintf("captured %s %s, expected %s %s", amount.Value, amount.CurrencyCode, p.USDAmount(), products.CurrencyUSD)
		} else {
			tx.AmountUSD = amount.Value
		}
	}

	return s.record(ctx, tx)
}

// RecordTransaction persists a transaction reported by the storefront. The
// claimed USD amount must match the product price.
func (s *Service) RecordTransaction(ctx context.Context, req validation.TransactionRequest) (*Result, error) {
	p, err := s.product(ctx, req.ProductSlug)
	if err != nil {
		return nil, err
	}
	if !p.MatchesUSD(req.AmountUSD) {
		return nil, fmt.Errorf("%w: got %s, price is %s", ErrAmountMismatch, req.AmountUSD, p.USDAmount())
	}

	tx := &transactions.Transaction{
		OrderID:        req.OrderID,
		PayerID:        req.PayerID,
		PayerEmail:     req.PayerEmail,
		ProductID:      p.ID,
		ProductTitle:   req.ProductTitle,
		ProductSlug:    req.ProductSlug,
		AmountUSD:      p.USDAmount(),
		AmountIDR:      req.AmountIDR,
		Status:         req.Status,
		PaymentMethod:  req.PaymentMethod,
		PaymentDetails: req.PaymentDetails,
	}
	if tx.PaymentMethod == "" {
		tx.PaymentMethod = transactions.MethodPayPal
	}
	return s.record(ctx, tx)
}

// Cancel records an abandoned checkout under a synthesized CANCEL_ id.
func (s *Service) Cancel(ctx context.Context, slug, payerEmail string) (*Result, error) {
	p, err := s.product(ctx, slug)
	if err != nil {
		return nil, err
	}

	orderID := CancelID(s.nowFunc())
	tx := &transactions.Transaction{
		OrderID:       orderID,
		PayerEmail:    payerEmail,
		ProductID:     p.ID,
		ProductTitle:  p.Title,
		ProductSlug:   p.Slug,
		AmountUSD:     p.USDAmount(),
		AmountIDR:     p.PriceIDR,
		Status:        transactions.StatusCancelled,
		PaymentMethod: transactions.MethodPayPal,
		CancelURL:     s.baseURL + "/payment/cancel/" + orderID,
	}
	if err := s.transactions.Save(ctx, tx); err != nil {
		return nil, fmt.Errorf("save cancelled transaction: %w", err)
	}
	metrics.TransactionRecorded(tx.Status)
	return &Result{Transaction: tx, RedirectURL: tx.CancelURL}, nil
}

// CancelID is CANCEL_<unix millis>_<9 lower-case alphanumerics>.
func CancelID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s%d_%s", CancelPrefix, now.UnixMilli(), random)
}

// applyOutcome sets the redirect URL for tx: only COMPLETED is a success.
func (s *Service) applyOutcome(tx *transactions.Transaction) {
	if tx.Status == transactions.StatusCompleted {
		tx.SuccessURL = s.baseURL + "/payment/success/" + tx.OrderID
		tx.FailureURL = ""
		return
	}
	tx.SuccessURL = ""
	tx.FailureURL = s.baseURL + "/payment/failed/" + tx.OrderID
}

// redirectFor maps a stored transaction, whichever writer produced it, to
// the buyer's landing page.
func (s *Service) redirectFor(t *transactions.Transaction) string {
	switch {
	case t.Succeeded():
		return s.baseURL + "/payment/success/" + t.OrderID
	case t.Status == transactions.StatusCancelled && t.CancelURL != "":
		return t.CancelURL
	default:
		return s.baseURL + "/payment/failed/" + t.OrderID
	}
}

func (s *Service) record(ctx context.Context, tx *transactions.Transaction) (*Result, error) {
	s.applyOutcome(tx)

	err := s.transactions.Save(ctx, tx)
	switch {
	case err == nil:
		metrics.TransactionRecorded(tx.Status)
		s.logger.InfoContext(ctx, "Transaction recorded", "order_id", tx.OrderID, "status", tx.Status)
		return &Result{Transaction: tx, RedirectURL: tx.RedirectURL()}, nil

	case errors.Is(err, transactions.ErrStaleStatus):
		// the webhook (or an earlier request) already settled this order
		current, gerr := s.transactions.Get(ctx, tx.OrderID)
		if gerr != nil || current == nil {
			return &Result{Transaction: tx, RedirectURL: tx.RedirectURL()}, nil
		}
		s.logger.InfoContext(ctx, "Transaction already reconciled", "order_id", tx.OrderID, "stored_status", current.Status, "incoming_status", tx.Status)
		return &Result{Transaction: current, RedirectURL: s.redirectFor(current)}, nil
	}

	s.logger.ErrorContext(ctx, "Failed to save transaction", "order_id", tx.OrderID, "status", tx.Status, "error", err)
	if !tx.Succeeded() && tx.Status != transactions.StatusAmountMismatch {
		return nil, fmt.Errorf("save transaction: %w", err)
	}

	if perr := s.enqueue(ctx, tx, err); perr != nil {
		return nil, fmt.Errorf("save transaction: %w (reconciliation publish failed: %v)", err, perr)
	}
	failure := s.baseURL + "/payment/failed/" + tx.OrderID
	return &Result{Transaction: tx, RedirectURL: failure}, ErrRecordPending
}

func (s *Service) enqueue(ctx context.Context, tx *transactions.Transaction, cause error) error {
	body, err := json.Marshal(transactions.ReconcileMessage{
		Transaction: *tx,
		Reason:      cause.Error(),
		EnqueuedAt:  s.nowFunc().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal reconcile message: %w", err)
	}
	if err := s.reconcile.Publish(ctx, string(body), map[string]string{
		"order_id": tx.OrderID,
		"status":   tx.Status,
	}); err != nil {
		return err
	}
	metrics.ReconciliationQueued()
	s.logger.WarnContext(ctx, "Transaction queued for reconciliation", "order_id", tx.OrderID)
	return nil
}
