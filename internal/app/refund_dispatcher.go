package app

import (
	"context"
	"log"
	"time"

	"github.com/adashe/tontine-service/internal/store"
)

const (
	defaultRefundBatchSize       = 50
	defaultRefundPollInterval    = 15 * time.Second
	defaultRefundStaleProcessing = 5 * time.Minute
	defaultRefundMaxAttempts     = 8
)

// RefundDispatcher drains the durable refund queue produced by the group
// cancellation cascade. Each claimed job is executed as one atomic credit;
// failures are requeued with exponential backoff and escalated once the
// attempt budget runs out, never dropped.
type RefundDispatcher struct {
	repo                store.Repository
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
	maxAttempts         int
}

func NewRefundDispatcher(repo store.Repository, pollInterval, staleProcessing time.Duration, maxAttempts int) *RefundDispatcher {
	if pollInterval <= 0 {
		pollInterval = defaultRefundPollInterval
	}
	if staleProcessing <= 0 {
		staleProcessing = defaultRefundStaleProcessing
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultRefundMaxAttempts
	}
	return &RefundDispatcher{
		repo:                repo,
		batchSize:           defaultRefundBatchSize,
		pollInterval:        pollInterval,
		staleProcessingTime: staleProcessing,
		maxAttempts:         maxAttempts,
	}
}

func (d *RefundDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.flushOnce(ctx); err != nil {
				log.Printf("level=error component=refund_dispatcher msg=\"flush failed\" err=%v", err)
			}
		}
	}
}

func (d *RefundDispatcher) flushOnce(ctx context.Context) error {
	staleAfterSeconds := int(d.staleProcessingTime.Seconds())
	jobs, err := d.repo.ClaimRefundJobs(ctx, d.batchSize, staleAfterSeconds)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	for _, job := range jobs {
		entry, err := d.repo.IssueRefund(ctx, job)
		if err != nil {
			retryAfter := retryDelaySeconds(job.Attempts)
			escalated, failErr := d.repo.FailRefundJob(ctx, job.ID, retryAfter, d.maxAttempts, err.Error())
			if failErr != nil {
				log.Printf("level=error component=refund_dispatcher msg=\"failed to requeue refund job\" job_id=%s err=%v", job.ID, failErr)
				continue
			}
			if escalated {
				log.Printf("level=error component=refund_dispatcher msg=\"refund escalated after exhausting retries\" job_id=%s contribution_id=%s amount=%d err=%v",
					job.ID, job.ContributionID, job.Amount, err)
			} else {
				log.Printf("level=warn component=refund_dispatcher msg=\"refund failed; requeued\" job_id=%s attempts=%d retry_after_s=%d err=%v",
					job.ID, job.Attempts, retryAfter, err)
			}
			continue
		}
		log.Printf("level=info component=refund_dispatcher msg=\"refund issued\" job_id=%s contribution_id=%s entry_id=%s amount=%d",
			job.ID, job.ContributionID, entry.ID, job.Amount)
	}
	return nil
}

func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << minInt(attempt, 8)
	if delay > 300 {
		return 300
	}
	return delay
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
