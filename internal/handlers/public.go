package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/transacta/paymentid/internal/checkout"
	"github.com/transacta/paymentid/internal/contacts"
	"github.com/transacta/paymentid/internal/idempotency"
	"github.com/transacta/paymentid/internal/logging"
	"github.com/transacta/paymentid/internal/products"
	"github.com/transacta/paymentid/internal/transactions"
	"github.com/transacta/paymentid/internal/validation"
)

// transactionData is the data of POST /api/transactions and the checkout
// capture/cancel responses.
type transactionData struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	RedirectURL   string `json:"redirectUrl"`
}

// receipt is what the success/failure pages may show about an order.
type receipt struct {
	OrderID       string     `json:"orderId"`
	ProductTitle  string     `json:"productTitle"`
	ProductSlug   string     `json:"productSlug"`
	AmountUSD     string     `json:"amountUSD"`
	AmountIDR     int64      `json:"amountIDR"`
	Status        string     `json:"status"`
	Succeeded     bool       `json:"succeeded"`
	PaymentMethod string     `json:"paymentMethod"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	RedirectURL   string     `json:"redirectUrl"`
}

func (a *api) registerPublicRoutes(r *gin.RouterGroup) {
	r.GET("/payments", a.listPublishedPayments)
	r.GET("/payments/:slug", a.getPayment)
	r.POST("/checkout/orders", a.createCheckoutOrder)
	r.POST("/checkout/orders/:orderId/capture", a.captureCheckoutOrder)
	r.POST("/checkout/cancel", a.cancelCheckout)
	r.POST("/transactions", a.recordTransaction)
	r.GET("/transactions/:orderId", a.getTransaction)
	r.POST("/contacts", a.createContact)
}

func pageParams(c *gin.Context) (page, size int) {
	page, _ = strconv.Atoi(c.Query("page"))
	size, _ = strconv.Atoi(c.Query("pageSize"))
	return page, size
}

func (a *api) listPublishedPayments(c *gin.Context) {
	list, err := a.products.ListPublished(c.Request.Context())
	if err != nil {
		a.fail(c, err, "Failed to load payments")
		return
	}
	page, size := pageParams(c)
	q := products.Query{
		Search:   c.Query("search"),
		Status:   c.DefaultQuery("status", products.StatusAll),
		Sort:     c.Query("sort"),
		Page:     page,
		PageSize: size,
	}
	respond(c, http.StatusOK, "Payments retrieved", q.Apply(list, a.nowFunc()))
}

// getPayment returns the quote of a published listing; expired listings are
// returned with expired=true so the page can explain why checkout is closed.
func (a *api) getPayment(c *gin.Context) {
	q, err := a.checkout.Lookup(c.Request.Context(), c.Param("slug"))
	if err != nil {
		a.fail(c, err, "Failed to load payment")
		return
	}
	respond(c, http.StatusOK, "Payment retrieved", q)
}

func (a *api) createCheckoutOrder(c *gin.Context) {
	var req validation.CheckoutOrderRequest
	if err := validation.BindAndValidate(c, &req, a.validate); err != nil {
		return
	}
	order, err := a.checkout.CreateOrder(c.Request.Context(), req.Slug)
	if err != nil {
		a.fail(c, err, "Failed to create PayPal order")
		return
	}
	respond(c, http.StatusCreated, "Order created", gin.H{
		"orderId":    order.ID,
		"status":     order.Status,
		"approveUrl": order.ApproveURL(),
	})
}

func (a *api) captureCheckoutOrder(c *gin.Context) {
	var req validation.CaptureRequest
	if err := validation.BindAndValidate(c, &req, a.validate); err != nil {
		return
	}
	orderID := c.Param("orderId")
	ctx := logging.WithAttrs(c.Request.Context(), slogOrder(orderID))

	res, err := a.checkout.Capture(ctx, orderID, req.Slug)
	a.writeResult(c, res, err, "Failed to capture payment")
}

func (a *api) cancelCheckout(c *gin.Context) {
	var req validation.CancelRequest
	if err := validation.BindAndValidate(c, &req, a.validate); err != nil {
		return
	}
	res, err := a.checkout.Cancel(c.Request.Context(), req.Slug, req.PayerEmail)
	a.writeResult(c, res, err, "Failed to record cancellation")
}

// writeResult answers a checkout outcome. A pending record is a 202: the
// payment went through but the buyer is sent to the failure page.
func (a *api) writeResult(c *gin.Context, res *checkout.Result, err error, fallback string) {
	status, body := a.resultBody(res, err, fallback)
	if status == http.StatusInternalServerError {
		a.logger.ErrorContext(c.Request.Context(), fallback, "error", err)
	}
	c.Data(status, "application/json; charset=utf-8", body)
}

func (a *api) resultBody(res *checkout.Result, err error, fallback string) (int, []byte) {
	switch {
	case err == nil:
		return http.StatusOK, jsonBody(envelope{
			Success: true,
			Message: "Transaction recorded",
			Data:    resultData(res),
		})
	case errors.Is(err, checkout.ErrRecordPending) && res != nil:
		return http.StatusAccepted, jsonBody(envelope{
			Success: false,
			Message: "Payment received but could not be confirmed yet. Please contact support if it does not appear shortly.",
			Data:    resultData(res),
		})
	}
	status, message := a.classify(err, fallback)
	return status, jsonBody(envelope{Success: false, Message: message})
}

func resultData(res *checkout.Result) transactionData {
	return transactionData{
		TransactionID: res.Transaction.OrderID,
		Status:        res.Transaction.Status,
		RedirectURL:   res.RedirectURL,
	}
}

// recordTransaction handles POST /api/transactions. With an Idempotency-Key
// header, retries replay the first answer instead of writing again.
func (a *api) recordTransaction(c *gin.Context) {
	var req validation.TransactionRequest
	if err := validation.BindAndValidate(c, &req, a.validate); err != nil {
		return
	}
	ctx := logging.WithAttrs(c.Request.Context(), slogOrder(req.OrderID))

	idempKey := c.GetHeader("Idempotency-Key")
	if idempKey == "" {
		res, err := a.checkout.RecordTransaction(ctx, req)
		a.writeResult(c, res, err, "Failed to save transaction")
		return
	}

	key := idempotency.PrefixTransaction + idempKey
	outcome, rec, err := a.idempotency.Begin(ctx, key, req.OrderID)
	if err != nil {
		a.fail(c, err, "Failed to save transaction")
		return
	}
	if rec != nil && rec.Subject != "" && rec.Subject != req.OrderID {
		if outcome == idempotency.OutcomeNew {
			// a reclaimed FAILED key goes back to FAILED for its own order
			if merr := a.idempotency.MarkFailed(ctx, key, rec.Note); merr != nil {
				a.logger.ErrorContext(ctx, "Failed to mark idempotency key failed", "error", merr)
			}
		}
		a.logger.WarnContext(ctx, "Idempotency-Key reused with a different order", "original_order_id", rec.Subject)
		respondError(c, http.StatusUnprocessableEntity, "Idempotency-Key reused with a different order")
		return
	}
	switch outcome {
	case idempotency.OutcomeDone:
		c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
		return
	case idempotency.OutcomeInProgress:
		respond(c, http.StatusAccepted, "Request already in progress", gin.H{"transactionId": req.OrderID})
		return
	}

	res, err := a.checkout.RecordTransaction(ctx, req)
	status, body := a.resultBody(res, err, "Failed to save transaction")
	if status >= 500 {
		a.logger.ErrorContext(ctx, "Failed to save transaction", "error", err)
		if merr := a.idempotency.MarkFailed(ctx, key, err.Error()); merr != nil {
			a.logger.ErrorContext(ctx, "Failed to mark idempotency key failed", "error", merr)
		}
	} else if merr := a.idempotency.MarkDone(ctx, key, string(body), status); merr != nil {
		a.logger.ErrorContext(ctx, "Failed to mark idempotency key done", "error", merr)
	}
	c.Data(status, "application/json; charset=utf-8", body)
}

func (a *api) getTransaction(c *gin.Context) {
	t, err := a.transactions.Get(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		a.fail(c, err, "Failed to load transaction")
		return
	}
	if t == nil {
		respondError(c, http.StatusNotFound, "Transaction not found")
		return
	}
	respond(c, http.StatusOK, "Transaction retrieved", toReceipt(*t))
}

func toReceipt(t transactions.Transaction) receipt {
	return receipt{
		OrderID:       t.OrderID,
		ProductTitle:  t.ProductTitle,
		ProductSlug:   t.ProductSlug,
		AmountUSD:     t.AmountUSD,
		AmountIDR:     t.AmountIDR,
		Status:        t.Status,
		Succeeded:     t.Succeeded(),
		PaymentMethod: t.PaymentMethod,
		ErrorMessage:  t.ErrorMessage,
		PaidAt:        t.PaidAt,
		CreatedAt:     t.CreatedAt,
		RedirectURL:   t.RedirectURL(),
	}
}

func (a *api) createContact(c *gin.Context) {
	var req validation.ContactRequest
	if err := validation.BindAndValidate(c, &req, a.validate); err != nil {
		return
	}
	contact := &contacts.Contact{
		Name:     req.Name,
		Email:    req.Email,
		Category: req.Category,
		Message:  req.Message,
	}
	if err := a.contacts.Create(c.Request.Context(), contact); err != nil {
		a.fail(c, err, "Failed to send message")
		return
	}
	respond(c, http.StatusCreated, "Message sent", contact)
}
