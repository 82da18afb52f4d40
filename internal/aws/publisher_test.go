package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type mockSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (m *mockSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.inputs = append(m.inputs, in)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

type mockCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
}

func (m *mockCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestPublisher_Publish(t *testing.T) {
	mock := &mockSQS{}
	p := NewPublisher(mock, "https://sqs.local/queue/reconcile")

	err := p.Publish(context.Background(), `{"order_id":"5O190127TN364715T"}`, map[string]string{
		"order_id":       "5O190127TN364715T",
		"correlation_id": "",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.inputs) != 1 {
		t.Fatalf("expected 1 send, got %d", len(mock.inputs))
	}
	in := mock.inputs[0]
	if *in.QueueUrl != "https://sqs.local/queue/reconcile" {
		t.Fatalf("queue url mismatch: %s", *in.QueueUrl)
	}
	if _, ok := in.MessageAttributes["correlation_id"]; ok {
		t.Fatalf("empty attribute should be skipped")
	}
	if v := in.MessageAttributes["order_id"].StringValue; v == nil || *v != "5O190127TN364715T" {
		t.Fatalf("order_id attribute not set: %v", v)
	}
}

func TestPublisher_PublishErrors(t *testing.T) {
	p := NewPublisher(&mockSQS{}, "")
	if err := p.Publish(context.Background(), "{}", nil); err == nil {
		t.Fatal("expected error without queue url")
	}

	p = NewPublisher(&mockSQS{err: errors.New("boom")}, "q")
	if err := p.Publish(context.Background(), "{}", nil); err == nil {
		t.Fatal("expected send error to propagate")
	}
}

func TestMetricsPublisher_PutCounts(t *testing.T) {
	mock := &mockCloudWatch{}
	m := NewMetricsPublisher(mock, "PaymentID/Sweeper")

	err := m.PutCounts(context.Background(), map[string]float64{"Scanned": 4, "Unpublished": 1}, map[string]string{"Stage": "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.inputs) != 1 {
		t.Fatalf("expected 1 call, got %d", len(mock.inputs))
	}
	if got := len(mock.inputs[0].MetricData); got != 2 {
		t.Fatalf("expected 2 datums, got %d", got)
	}
	if *mock.inputs[0].Namespace != "PaymentID/Sweeper" {
		t.Fatalf("namespace mismatch")
	}

	// nothing to send
	if err := m.PutCounts(context.Background(), nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.inputs) != 1 {
		t.Fatalf("empty counts should not call CloudWatch")
	}
}
