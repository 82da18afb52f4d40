package awstest

import (
	"context"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQS records sent messages.
type SQS struct {
	mu   sync.Mutex
	Sent []*sqs.SendMessageInput
	Err  error
}

func (m *SQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, in)
	if m.Err != nil {
		return nil, m.Err
	}
	return &sqs.SendMessageOutput{}, nil
}

// CloudWatch records metric pushes.
type CloudWatch struct {
	mu   sync.Mutex
	Puts []*cloudwatch.PutMetricDataInput
}

func (m *CloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Puts = append(m.Puts, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// S3 keeps uploaded object bodies by key.
type S3 struct {
	mu      sync.Mutex
	Objects map[string][]byte
	Inputs  []*s3.PutObjectInput
	Err     error
}

func (m *S3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Inputs = append(m.Inputs, in)
	if m.Err != nil {
		return nil, m.Err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if m.Objects == nil {
		m.Objects = map[string][]byte{}
	}
	m.Objects[*in.Key] = body
	return &s3.PutObjectOutput{}, nil
}
