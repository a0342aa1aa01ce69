// Package queue publishes draft expiry notices to SQS for the SMS
// notification worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"dfsportal/internal/config"
	"dfsportal/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// NoticePublisher sends one message per DraftExpiryNotice. On a FIFO queue
// notices for the same station share a message group and a draft's notice
// for a given expiry is deduplicated.
type NoticePublisher struct {
	client   SQSSender
	queueURL string
	fifo     bool
	logger   *slog.Logger
}

// NewNoticePublisher creates a NoticePublisher for the queue in awsCfg.
func NewNoticePublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *NoticePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoticePublisher{
		client:   client,
		queueURL: awsCfg.NoticeQueueURL,
		fifo:     strings.HasSuffix(awsCfg.NoticeQueueURL, ".fifo"),
		logger:   logger,
	}
}

// Publish enqueues n. A missing MessageID is generated.
func (p *NoticePublisher) Publish(ctx context.Context, n types.DraftExpiryNotice) error {
	if p.queueURL == "" {
		return fmt.Errorf("queue: notice queue url is not configured")
	}
	if n.MessageID == "" {
		n.MessageID = uuid.NewString()
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal expiry notice: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String("draft_expiry"),
			},
			"station": {
				DataType:    aws.String("String"),
				StringValue: aws.String(n.Station),
			},
		},
	}
	if p.fifo {
		input.MessageGroupId = aws.String(groupID(n.Station))
		input.MessageDeduplicationId = aws.String(dedupID(n))
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send expiry notice to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "expiry notice sent",
		"message_id", n.MessageID,
		"station", n.Station,
		"date", n.Date,
		"expires_at", n.ExpiresAt,
	)
	return nil
}

// SQS group and deduplication ids are limited to printable ASCII, so both
// are derived as name-based UUIDs. The dedup id includes the expiry so a
// re-saved draft produces a fresh notice.
func groupID(station string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("station:"+station)).String()
}

func dedupID(n types.DraftExpiryNotice) string {
	name := fmt.Sprintf("%s\x00%s\x00%d", n.Station, n.Date, n.ExpiresAt.Unix())
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
