package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gin-gonic/gin"
	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transacta/paymentid/internal/accounts"
	"github.com/transacta/paymentid/internal/auth"
	"github.com/transacta/paymentid/internal/aws/awstest"
	"github.com/transacta/paymentid/internal/config"
	"github.com/transacta/paymentid/internal/paypal"
	"github.com/transacta/paymentid/internal/products"
)

const jwtSecret = "test-secret"

type testServer struct {
	router   *gin.Engine
	db       *awstest.DynamoDB
	sqs      *awstest.SQS
	verifier *auth.Verifier
	paypal   *paypal.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		App: config.App{BaseURL: "https://payment.example.id"},
		Tables: config.Tables{
			Products:     "payments",
			Transactions: "transactions",
			Contacts:     "contacts",
			Accounts:     "accounts",
			Ledger:       "ledger",
			Refunds:      "refunds",
			Idempotency:  "idempotency",
		},
		Queue:       config.Queue{ReconciliationURL: "https://sqs.us-east-1.amazonaws.com/000000000000/reconcile"},
		PayPal:      config.PayPal{ClientID: "cid", ClientSecret: "secret", Mode: "sandbox", WebhookID: "WH-1"},
		Auth:        config.Auth{JWTSecret: jwtSecret},
		Media:       config.Media{Bucket: "media", PublicBaseURL: "https://cdn.example.id"},
		Idempotency: config.Idempotency{TTL: time.Hour},
	}

	db := awstest.NewDynamoDB(map[string]string{
		"payments":     "id",
		"transactions": "order_id",
		"contacts":     "id",
		"accounts":     "uid",
		"ledger":       "entry_id",
		"refunds":      "refund_id",
		"idempotency":  "idempotency_key",
	})
	db.UpdateItemFn = func(in *dyn.UpdateItemInput) (*dyn.UpdateItemOutput, error) {
		return &dyn.UpdateItemOutput{}, db.ApplySet(in)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pp := paypal.NewClient(cfg.PayPal, logger)
	gock.InterceptClient(pp.HTTPClient)
	t.Cleanup(func() {
		gock.RestoreClient(pp.HTTPClient)
		gock.Off()
	})

	s := &testServer{
		router:   gin.New(),
		db:       db,
		sqs:      &awstest.SQS{},
		verifier: auth.NewVerifier(jwtSecret),
		paypal:   pp,
	}
	RegisterRoutes(s.router, HandlerConfig{
		Config:         cfg,
		DynamoDBClient: db,
		SQSClient:      s.sqs,
		S3Client:       &awstest.S3{},
		PayPal:         pp,
		Logger:         logger,
	})
	return s
}

func (s *testServer) seedProduct(t *testing.T, p products.Product) {
	t.Helper()
	item, err := attributevalue.MarshalMap(p)
	require.NoError(t, err)
	s.db.Seed("payments", item)
}

func (s *testServer) seedAccount(t *testing.T, a accounts.Account) {
	t.Helper()
	item, err := attributevalue.MarshalMap(a)
	require.NoError(t, err)
	s.db.Seed("accounts", item)
}

func (s *testServer) token(t *testing.T, uid string, role accounts.Role) string {
	t.Helper()
	tok, err := s.verifier.Issue(uid, role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func (s *testServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func bootcamp() products.Product {
	return products.Product{
		ID:          "p1",
		Title:       "Bootcamp",
		Slug:        "bootcamp",
		PriceIDR:    310000,
		PriceUSD:    products.MustUSD("19.99"),
		Date:        time.Now().UTC().Add(-time.Hour),
		ExpiryDays:  5,
		IsPublished: true,
	}
}

func transactionBody(amount string) map[string]any {
	return map[string]any{
		"orderId":       "5O190127TN364715T",
		"payerId":       "QYR5Z8XDVJNXQ",
		"payerEmail":    "buyer@example.com",
		"productTitle":  "Bootcamp",
		"productSlug":   "bootcamp",
		"amountUSD":     amount,
		"amountIDR":     310000,
		"status":        "COMPLETED",
		"paymentMethod": "paypal",
	}
}

func TestRecordTransaction_Success(t *testing.T) {
	s := newTestServer(t)
	s.seedProduct(t, bootcamp())

	w := s.do(http.MethodPost, "/api/transactions", transactionBody("19.99"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	out := decode(t, w)
	assert.Equal(t, true, out["success"])
	data := out["data"].(map[string]any)
	assert.Equal(t, "5O190127TN364715T", data["transactionId"])
	assert.Equal(t, "https://payment.example.id/payment/success/5O190127TN364715T", data["redirectUrl"])

	require.NotNil(t, s.db.Item("transactions", "5O190127TN364715T"))

	// the receipt endpoint reads the stored record back
	w = s.do(http.MethodGet, "/api/transactions/5O190127TN364715T", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	receipt := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, true, receipt["succeeded"])
	assert.Equal(t, "19.99", receipt["amountUSD"])
}

func TestRecordTransaction_IdempotencyKeyReplays(t *testing.T) {
	s := newTestServer(t)
	s.seedProduct(t, bootcamp())
	headers := map[string]string{"Idempotency-Key": "checkout-abc"}

	first := s.do(http.MethodPost, "/api/transactions", transactionBody("19.99"), headers)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	writes := len(s.db.Updates)

	second := s.do(http.MethodPost, "/api/transactions", transactionBody("19.99"), headers)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, writes, len(s.db.Updates), "replay must not write again")
}

func TestRecordTransaction_IdempotencyKeyBoundToOrder(t *testing.T) {
	s := newTestServer(t)
	s.seedProduct(t, bootcamp())
	headers := map[string]string{"Idempotency-Key": "checkout-abc"}

	first := s.do(http.MethodPost, "/api/transactions", transactionBody("19.99"), headers)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())

	other := transactionBody("19.99")
	other["orderId"] = "9XK11111AB222222C"
	second := s.do(http.MethodPost, "/api/transactions", other, headers)
	assert.Equal(t, http.StatusUnprocessableEntity, second.Code, second.Body.String())
	assert.Equal(t, "Idempotency-Key reused with a different order", decode(t, second)["message"])
	assert.Nil(t, s.db.Item("transactions", "9XK11111AB222222C"))
	assert.NotNil(t, s.db.Item("transactions", "5O190127TN364715T"))
}

func TestRecordTransaction_AmountMismatch(t *testing.T) {
	s := newTestServer(t)
	s.seedProduct(t, bootcamp())

	w := s.do(http.MethodPost, "/api/transactions", transactionBody("1.00"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])
	assert.Nil(t, s.db.Item("transactions", "5O190127TN364715T"))
}

func TestRecordTransaction_UnknownProduct(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/transactions", transactionBody("19.99"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecordTransaction_InvalidPayload(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/transactions", map[string]any{"orderId": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, s.db.Updates)
}

func TestCreateCheckoutOrder(t *testing.T) {
	s := newTestServer(t)
	s.seedProduct(t, bootcamp())

	gock.New(paypal.SandboxBaseURL).
		Post("/v1/oauth2/token").
		Reply(http.StatusOK).
		JSON(map[string]any{"access_token": "A21AA", "token_type": "Bearer", "expires_in": 32400})
	gock.New(paypal.SandboxBaseURL).
		Post("/v2/checkout/orders").
		MatchHeader("Authorization", "Bearer A21AA").
		Reply(http.StatusCreated).
		JSON(map[string]any{
			"id":     "5O190127TN364715T",
			"status": "CREATED",
			"links":  []map[string]any{{"href": "https://www.sandbox.paypal.com/checkoutnow?token=5O190127TN364715T", "rel": "approve", "method": "GET"}},
		})

	w := s.do(http.MethodPost, "/api/checkout/orders", map[string]any{"slug": "bootcamp"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "5O190127TN364715T", data["orderId"])
	assert.Equal(t, "https://www.sandbox.paypal.com/checkoutnow?token=5O190127TN364715T", data["approveUrl"])
	assert.True(t, gock.IsDone())
}

func TestCreateCheckoutOrder_PayPalFailure(t *testing.T) {
	s := newTestServer(t)
	s.seedProduct(t, bootcamp())

	gock.New(paypal.SandboxBaseURL).
		Post("/v1/oauth2/token").
		Reply(http.StatusUnauthorized).
		JSON(map[string]any{"error": "invalid_client"})

	w := s.do(http.MethodPost, "/api/checkout/orders", map[string]any{"slug": "bootcamp"}, nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestGetPayment(t *testing.T) {
	s := newTestServer(t)
	s.seedProduct(t, bootcamp())

	w := s.do(http.MethodGet, "/api/payments/bootcamp", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/api/payments/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhook_MissingSignatureIsRejected(t *testing.T) {
	s := newTestServer(t)

	body := map[string]any{
		"id":         "WH-EVT-1",
		"event_type": "CHECKOUT.ORDER.COMPLETED",
		"resource":   map[string]any{"id": "5O190127TN364715T", "status": "COMPLETED"},
	}
	w := s.do(http.MethodPost, "/api/paypal/webhook", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, decode(t, w)["error"])
	assert.Empty(t, s.db.Updates)
	assert.Empty(t, s.db.Puts)
}

func TestWebhook_Health(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/paypal/webhook", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, "WH-1", out["webhookId"])
	assert.Equal(t, "sandbox", out["mode"])
}

func TestAdminRoutes_RequireAuth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/admin/payments", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/admin/payments", nil, map[string]string{"Authorization": "Bearer nonsense"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/admin/payments", nil, map[string]string{"Authorization": s.token(t, "u1", accounts.Role("buyers"))})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/api/admin/payments", nil, map[string]string{"Authorization": s.token(t, "u1", accounts.RoleAdmin)})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSuperAdminRoutes_RejectAdmins(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/admin/accounts", nil, map[string]string{"Authorization": s.token(t, "u1", accounts.RoleAdmin)})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/api/admin/accounts", nil, map[string]string{"Authorization": s.token(t, "root", accounts.RoleSuperAdmin)})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSuperAdmin_CannotDemoteSelf(t *testing.T) {
	s := newTestServer(t)
	s.seedAccount(t, accounts.Account{UID: "root", Email: "root@example.id", Role: accounts.RoleSuperAdmin})
	hdr := map[string]string{"Authorization": s.token(t, "root", accounts.RoleSuperAdmin)}

	w := s.do(http.MethodPut, "/api/admin/accounts/root/role", map[string]any{"role": "admins"}, hdr)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodDelete, "/api/admin/accounts/root", nil, hdr)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotNil(t, s.db.Item("accounts", "root"))
}

func TestCreatePayment_SetsAuthorAndSlug(t *testing.T) {
	s := newTestServer(t)
	s.seedAccount(t, accounts.Account{UID: "u1", Email: "admin@example.id", DisplayName: "Sari", Role: accounts.RoleAdmin})

	body := map[string]any{
		"title":       "Go Bootcamp 2024",
		"priceIdr":    310000,
		"priceUsd":    19.99,
		"date":        "2024-01-01T00:00:00Z",
		"expiryDays":  5,
		"isPublished": true,
	}
	w := s.do(http.MethodPost, "/api/admin/payments", body, map[string]string{"Authorization": s.token(t, "u1", accounts.RoleAdmin)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "go-bootcamp-2024", data["slug"])
	assert.Equal(t, "19.99", data["priceUsd"])
	assert.Equal(t, "Sari", data["author"].(map[string]any)["displayName"])

	dup := s.do(http.MethodPost, "/api/admin/payments", body, map[string]string{"Authorization": s.token(t, "u1", accounts.RoleAdmin)})
	assert.Equal(t, http.StatusConflict, dup.Code, dup.Body.String())
}

func TestContacts_CreateAndList(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/contacts", map[string]any{
		"name":     "Budi",
		"email":    "budi@example.com",
		"category": "general",
		"message":  "Is the bootcamp still open?",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/api/admin/contacts?unread=true", nil, map[string]string{"Authorization": s.token(t, "u1", accounts.RoleAdmin)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := decode(t, w)["data"].(map[string]any)
	items := data["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "Budi", items[0].(map[string]any)["name"])
}

func TestRequestLogger_EchoesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-Id", "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-Id"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Len(t, w.Header().Get("X-Request-Id"), 36)
}
