package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dfsportal/internal/config"
	"dfsportal/internal/types"
)

// mockSQSSender captures SendMessage calls for test assertions.
type mockSQSSender struct {
	calls []*sqs.SendMessageInput
	err   error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

const (
	testStandardURL = "https://sqs.ap-northeast-2.amazonaws.com/123456789/draft-notices"
	testFIFOURL     = "https://sqs.ap-northeast-2.amazonaws.com/123456789/draft-notices.fifo"
)

func testNotice() types.DraftExpiryNotice {
	return types.DraftExpiryNotice{
		Station:        "강남주유소",
		Date:           "2026-10-18",
		ExpiresAt:      time.Date(2026, 10, 18, 21, 0, 0, 0, time.UTC),
		RemainingHours: 1.5,
		SenderName:     "DFS Portal",
	}
}

func TestPublish_StandardQueue(t *testing.T) {
	m := &mockSQSSender{}
	p := NewNoticePublisher(m, config.AWSConfig{NoticeQueueURL: testStandardURL}, nil)

	require.NoError(t, p.Publish(context.Background(), testNotice()))
	require.Len(t, m.calls, 1)

	in := m.calls[0]
	assert.Equal(t, testStandardURL, *in.QueueUrl)
	assert.Nil(t, in.MessageGroupId)
	assert.Nil(t, in.MessageDeduplicationId)
	assert.Equal(t, "draft_expiry", *in.MessageAttributes["kind"].StringValue)

	var body types.DraftExpiryNotice
	require.NoError(t, json.Unmarshal([]byte(*in.MessageBody), &body))
	assert.NotEmpty(t, body.MessageID)
	assert.Equal(t, "강남주유소", body.Station)
	assert.Equal(t, 1.5, body.RemainingHours)
}

func TestPublish_FIFOQueueGroupsByStation(t *testing.T) {
	m := &mockSQSSender{}
	p := NewNoticePublisher(m, config.AWSConfig{NoticeQueueURL: testFIFOURL}, nil)
	ctx := context.Background()

	n := testNotice()
	require.NoError(t, p.Publish(ctx, n))
	require.NoError(t, p.Publish(ctx, n))
	later := n
	later.ExpiresAt = n.ExpiresAt.Add(time.Hour)
	require.NoError(t, p.Publish(ctx, later))

	require.Len(t, m.calls, 3)
	assert.Equal(t, *m.calls[0].MessageGroupId, *m.calls[2].MessageGroupId)
	assert.Equal(t, *m.calls[0].MessageDeduplicationId, *m.calls[1].MessageDeduplicationId)
	assert.NotEqual(t, *m.calls[0].MessageDeduplicationId, *m.calls[2].MessageDeduplicationId)
	for _, c := range m.calls {
		assert.LessOrEqual(t, len(*c.MessageDeduplicationId), 128)
	}
}

func TestPublish_SendError(t *testing.T) {
	m := &mockSQSSender{err: errors.New("throttled")}
	p := NewNoticePublisher(m, config.AWSConfig{NoticeQueueURL: testStandardURL}, nil)

	err := p.Publish(context.Background(), testNotice())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestPublish_NoQueueConfigured(t *testing.T) {
	m := &mockSQSSender{}
	p := NewNoticePublisher(m, config.AWSConfig{}, nil)

	require.Error(t, p.Publish(context.Background(), testNotice()))
	assert.Empty(t, m.calls)
}
