// Package metrics publishes portal metrics to CloudWatch.
//
// Request and poller metrics are buffered and flushed on an interval so the
// request path never waits on CloudWatch. Job metrics are sent immediately
// because the janitor may exit right after a run.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric names.
const (
	MetricAPILatency       = "APILatency"
	MetricAPIRequestCount  = "APIRequestCount"
	MetricDraftsCleaned    = "DraftsCleaned"
	MetricNoticesSent      = "ExpiryNoticesSent"
	MetricStatsDropped     = "StatsResponsesDropped"
	MetricStatsPollFailure = "StatsPollFailures"
)

// maxDatumsPerCall is the PutMetricData limit.
const maxDatumsPerCall = 1000

// maxPending bounds the buffer if CloudWatch is unreachable for a while.
const maxPending = 20 * maxDatumsPerCall

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Recorder emits metrics under one namespace.
type Recorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending []cwtypes.MetricDatum
	dropped int
}

// NewRecorder creates a Recorder.
func NewRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		client:    client,
		namespace: namespace,
		logger:    logger.With("component", "metrics"),
		now:       time.Now,
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func (r *Recorder) buffer(data ...cwtypes.MetricDatum) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending)+len(data) > maxPending {
		r.dropped += len(data)
		return
	}
	r.pending = append(r.pending, data...)
}

// RecordRequest buffers latency and count for one API request.
func (r *Recorder) RecordRequest(method, route, status string, duration time.Duration) {
	ts := aws.Time(r.now())
	dims := []cwtypes.Dimension{dim("Method", method), dim("Route", route), dim("Status", status)}
	r.buffer(
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricAPILatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Timestamp:  ts,
			Dimensions: dims,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricAPIRequestCount),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  ts,
			Dimensions: dims,
		},
	)
}

// StatsResponseDropped buffers one stale poller response.
func (r *Recorder) StatsResponseDropped() {
	r.buffer(cwtypes.MetricDatum{
		MetricName: aws.String(MetricStatsDropped),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Timestamp:  aws.Time(r.now()),
	})
}

// StatsPollFailed buffers one failed poll.
func (r *Recorder) StatsPollFailed() {
	r.buffer(cwtypes.MetricDatum{
		MetricName: aws.String(MetricStatsPollFailure),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Timestamp:  aws.Time(r.now()),
	})
}

// DraftsCleaned sends the number of drafts removed by one cleanup run.
func (r *Recorder) DraftsCleaned(ctx context.Context, n int) {
	r.sendNow(ctx, MetricDraftsCleaned, n)
}

// NoticesSent sends the number of expiry notices published by one run.
func (r *Recorder) NoticesSent(ctx context.Context, n int) {
	r.sendNow(ctx, MetricNoticesSent, n)
}

func (r *Recorder) sendNow(ctx context.Context, name string, n int) {
	_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(r.namespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: aws.String(name),
			Value:      aws.Float64(float64(n)),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  aws.Time(r.now()),
		}},
	})
	if err != nil {
		r.logger.WarnContext(ctx, "failed to publish metric", "metric", name, "value", n, "error", err)
	}
}

// Flush sends everything buffered so far in chunks of maxDatumsPerCall.
// Chunks that fail are put back for the next flush.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	dropped := r.dropped
	r.dropped = 0
	r.mu.Unlock()

	if dropped > 0 {
		r.logger.WarnContext(ctx, "metric buffer overflowed", "dropped", dropped)
	}

	for start := 0; start < len(batch); start += maxDatumsPerCall {
		end := min(start+maxDatumsPerCall, len(batch))
		_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(r.namespace),
			MetricData: batch[start:end],
		})
		if err != nil {
			r.buffer(batch[start:]...)
			return fmt.Errorf("publishing metrics: %w", err)
		}
	}
	return nil
}

// Run flushes every interval until ctx is done, then flushes once more with
// a short grace period.
func (r *Recorder) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := r.Flush(final); err != nil {
				r.logger.Warn("final metric flush failed", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.logger.WarnContext(ctx, "metric flush failed", "error", err)
			}
		}
	}
}

// Noop discards every metric. It is used when metrics are disabled.
type Noop struct{}

func (Noop) RecordRequest(string, string, string, time.Duration) {}
func (Noop) StatsResponseDropped()                               {}
func (Noop) StatsPollFailed()                                    {}
func (Noop) DraftsCleaned(context.Context, int)                  {}
func (Noop) NoticesSent(context.Context, int)                    {}
