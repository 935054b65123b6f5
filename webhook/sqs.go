package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/mstgnz/payflow/infra/logger"
)

// SQSAPI is the part of the SQS client the queue uses
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSConfig holds connection settings for an SQS-backed queue
type SQSConfig struct {
	QueueURL  string
	Region    string
	AccessKey string
	SecretKey string
	// Endpoint overrides the service URL, e.g. for localstack
	Endpoint string
}

// NewSQSClient builds an SQS client. Static credentials are used when both
// keys are set, otherwise the default AWS credential chain applies.
func NewSQSClient(ctx context.Context, cfg SQSConfig) (*sqs.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// SQSQueue carries deliveries through an SQS queue. Messages are deleted
// only after the handler acknowledges them, so failures are redelivered once
// the visibility timeout expires.
type SQSQueue struct {
	client   SQSAPI
	queueURL string
	log      *logger.SystemLogger

	// WaitSeconds is the long-poll duration
	WaitSeconds int32
	// BatchSize is the maximum number of messages per receive
	BatchSize int32
	// ErrorBackoff is the pause after a failed receive
	ErrorBackoff time.Duration
}

// NewSQSQueue creates a queue over client
func NewSQSQueue(client SQSAPI, queueURL string, log *logger.SystemLogger) *SQSQueue {
	if log == nil {
		log = logger.NewNop()
	}
	return &SQSQueue{
		client:       client,
		queueURL:     queueURL,
		log:          log,
		WaitSeconds:  20,
		BatchSize:    10,
		ErrorBackoff: 5 * time.Second,
	}
}

// Enqueue sends the delivery as a JSON message
func (q *SQSQueue) Enqueue(ctx context.Context, d Delivery) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send delivery %s: %w", d.ID, err)
	}
	return nil
}

// Consume long-polls the queue until ctx ends
func (q *SQSQueue) Consume(ctx context.Context, h Handler) error {
	for ctx.Err() == nil {
		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: q.BatchSize,
			WaitTimeSeconds:     q.WaitSeconds,
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			q.log.Error("Failed to receive webhook deliveries", err, logger.LogContext{})
			select {
			case <-ctx.Done():
			case <-time.After(q.ErrorBackoff):
			}
			continue
		}

		for _, msg := range out.Messages {
			var d Delivery
			if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &d); err != nil {
				q.log.Error("Discarding malformed webhook message", err, logger.LogContext{
					Fields: map[string]any{"message_id": aws.ToString(msg.MessageId)},
				})
				q.delete(ctx, msg.ReceiptHandle)
				continue
			}
			if err := h(ctx, d); err != nil {
				// left on the queue for redelivery
				continue
			}
			q.delete(ctx, msg.ReceiptHandle)
		}
	}
	return nil
}

func (q *SQSQueue) delete(ctx context.Context, receipt *string) {
	_, err := q.client.DeleteMessage(context.WithoutCancel(ctx), &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: receipt,
	})
	if err != nil {
		q.log.Error("Failed to delete webhook message", err, logger.LogContext{})
	}
}
