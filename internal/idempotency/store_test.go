package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func TestCreateIfNotExists_Get_MarkDone_MarkFailed(t *testing.T) {
	mock := newSimpleMock()
	s := NewStore(mock, "idempotency-table", 48*time.Hour)

	ctx := context.Background()
	key := PrefixTransaction + "test-key-1"
	orderID := "5O190127TN364715T"

	created, err := s.CreateIfNotExists(ctx, key, orderID)
	if err != nil {
		t.Fatalf("CreateIfNotExists error: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true")
	}

	// second create should return created=false (exists)
	created2, err := s.CreateIfNotExists(ctx, key, orderID)
	if err != nil {
		t.Fatalf("second CreateIfNotExists error: %v", err)
	}
	if created2 {
		t.Fatalf("expected created=false on duplicate create")
	}

	rec, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec == nil {
		t.Fatalf("expected record, got nil")
	}
	if rec.Status != StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", rec.Status)
	}
	if rec.Subject != orderID {
		t.Fatalf("subject mismatch")
	}

	err = s.MarkDone(ctx, key, "{\"transactionId\":\"5O190127TN364715T\"}", 201)
	if err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}

	item := mock.table[key]
	if st, ok := item["status"].(*types.AttributeValueMemberS); !ok || st.Value != StatusDone {
		t.Fatalf("status not updated to DONE, got %+v", item["status"])
	}
	if rb, ok := item["response_body"].(*types.AttributeValueMemberS); !ok || rb.Value != "{\"transactionId\":\"5O190127TN364715T\"}" {
		t.Fatalf("response_body not set correctly: %+v", item["response_body"])
	}

	err = s.MarkFailed(ctx, key, "failed-reason")
	if err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	item2 := mock.table[key]
	if st, ok := item2["status"].(*types.AttributeValueMemberS); !ok || st.Value != StatusFailed {
		t.Fatalf("status not updated to FAILED, got %+v", item2["status"])
	}
	if n, ok := item2["note"].(*types.AttributeValueMemberS); !ok || n.Value != "failed-reason" {
		t.Fatalf("note not set, got %+v", item2["note"])
	}
}

func TestBegin_Outcomes(t *testing.T) {
	mock := newSimpleMock()
	s := NewStore(mock, "idempotency-table", 48*time.Hour)
	ctx := context.Background()
	key := PrefixWebhook + "WH-58D329510W468432D-8HN650336L201105X"

	outcome, _, err := s.Begin(ctx, key, "5O190127TN364715T")
	if err != nil || outcome != OutcomeNew {
		t.Fatalf("first delivery: outcome=%s err=%v", outcome, err)
	}

	outcome, _, err = s.Begin(ctx, key, "5O190127TN364715T")
	if err != nil || outcome != OutcomeInProgress {
		t.Fatalf("concurrent delivery: outcome=%s err=%v", outcome, err)
	}

	if err := s.MarkDone(ctx, key, `{"status":"success"}`, 200); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	outcome, rec, err := s.Begin(ctx, key, "5O190127TN364715T")
	if err != nil || outcome != OutcomeDone {
		t.Fatalf("redelivery: outcome=%s err=%v", outcome, err)
	}
	if rec.ResponseStatus != 200 || rec.ResponseBody != `{"status":"success"}` {
		t.Fatalf("stored response not returned: %+v", rec)
	}
}

func TestBegin_ReclaimsFailed(t *testing.T) {
	mock := newSimpleMock()
	s := NewStore(mock, "idempotency-table", 48*time.Hour)
	ctx := context.Background()
	key := PrefixWebhook + "WH-1"

	if _, _, err := s.Begin(ctx, key, "o1"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := s.MarkFailed(ctx, key, "paypal unreachable"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	outcome, _, err := s.Begin(ctx, key, "o1")
	if err != nil || outcome != OutcomeNew {
		t.Fatalf("retry after failure: outcome=%s err=%v", outcome, err)
	}
	if st := mock.table[key]["status"].(*types.AttributeValueMemberS).Value; st != StatusInProgress {
		t.Fatalf("expected reclaimed record IN_PROGRESS, got %s", st)
	}
}
