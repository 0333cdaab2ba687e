// queue.go
//
// Redis-backed async mail queue. OTP mails are only useful while their code is
// live, so jobs carry an enqueue time and the worker drops any older than MaxAge.
// A failed send goes back on the tail of the queue until MaxAttempts is spent.
package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// QueueKey is the Redis list used as the outbound mail queue.
const QueueKey = "kiosk:mail:queue"

// DefaultMaxQueueSize caps the queue when the SMTP server is down.
const DefaultMaxQueueSize int64 = 10000

// QueueOptions tunes a QueuedMailer. Zero values mean: no size cap, no expiry,
// a single attempt.
type QueueOptions struct {
	MaxSize     int64
	MaxAge      time.Duration
	MaxAttempts int
}

// ErrQueueFull is returned by enqueue when the queue has reached its size cap.
var ErrQueueFull = errors.New("mail queue full")

// EmailJob is the serialized payload pushed onto the queue.
type EmailJob struct {
	TemplateID string            `json:"template_id"`
	ToEmail    string            `json:"to_email"`
	Subject    string            `json:"subject,omitempty"`
	Data       map[string]string `json:"data"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	Attempts   int               `json:"attempts,omitempty"`
}

// QueuedMailer enqueues email jobs to Redis so the HTTP handler returns
// immediately without waiting for SMTP. Implements Mailer.
type QueuedMailer struct {
	inner Mailer
	rdb   *redis.Client
	opts  QueueOptions
	now   func() time.Time
}

// NewQueuedMailer wraps inner with a Redis-backed async queue.
func NewQueuedMailer(inner Mailer, rdb *redis.Client, opts QueueOptions) *QueuedMailer {
	return &QueuedMailer{inner: inner, rdb: rdb, opts: opts, now: time.Now}
}

// enqueueScript atomically checks the queue length and pushes the job only if
// under the cap. Returns 1 if enqueued, 0 if rejected (queue full).
// KEYS[1] = queue key, ARGV[1] = max size (0 = skip check), ARGV[2] = payload.
var enqueueScript = redis.NewScript(`
local max = tonumber(ARGV[1])
if max > 0 and redis.call('LLEN', KEYS[1]) >= max then
    return 0
end
redis.call('RPUSH', KEYS[1], ARGV[2])
return 1
`)

// SendTemplate enqueues the message. Success means queued, not delivered.
func (q *QueuedMailer) SendTemplate(ctx context.Context, toEmail, subject, templateID string, data map[string]string) error {
	return q.enqueue(ctx, EmailJob{
		TemplateID: templateID,
		ToEmail:    toEmail,
		Subject:    subject,
		Data:       data,
		EnqueuedAt: q.clock().UTC(),
	})
}

// enqueue serializes job to JSON and appends it to the Redis queue.
func (q *QueuedMailer) enqueue(ctx context.Context, job EmailJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling email job: %w", err)
	}
	ok, err := enqueueScript.Run(ctx, q.rdb, []string{QueueKey}, q.opts.MaxSize, payload).Int64()
	if err != nil {
		return fmt.Errorf("enqueuing email job: %w", err)
	}
	if ok == 0 {
		return ErrQueueFull
	}
	return nil
}

// StartWorker drains the mail queue in a loop, dispatching each job to inner.
// Blocks until ctx is cancelled (server shutdown). Call in a goroutine.
func (q *QueuedMailer) StartWorker(ctx context.Context) {
	for {
		// BLPop blocks up to 2s then returns redis.Nil -- keeps the loop
		// responsive to ctx cancellation without busy-spinning.
		res, err := q.rdb.BLPop(ctx, 2*time.Second, QueueKey).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			slog.Error("mail worker: queue pop failed", "err", err)
			// Back off so a Redis outage doesn't spin the loop.
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		// res[0] = key name, res[1] = payload
		var job EmailJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			slog.Error("mail worker: bad job payload", "err", err)
			continue
		}
		q.dispatch(ctx, job)
	}
}

func (q *QueuedMailer) clock() time.Time {
	if q.now == nil {
		return time.Now()
	}
	return q.now()
}

// dispatch hands job to inner. Stale jobs are dropped; failed sends are
// requeued while attempts remain.
func (q *QueuedMailer) dispatch(ctx context.Context, job EmailJob) {
	if job.TemplateID == "" || job.ToEmail == "" {
		slog.Error("mail worker: incomplete job", "template", job.TemplateID)
		return
	}
	age := q.clock().Sub(job.EnqueuedAt)
	if q.opts.MaxAge > 0 && !job.EnqueuedAt.IsZero() && age > q.opts.MaxAge {
		slog.Warn("mail worker: dropping stale job",
			"template", job.TemplateID, "age", age.Round(time.Second))
		return
	}

	err := q.inner.SendTemplate(ctx, job.ToEmail, job.Subject, job.TemplateID, job.Data)
	if err == nil {
		return
	}
	job.Attempts++
	if job.Attempts >= q.opts.MaxAttempts {
		slog.Error("mail worker: send failed, giving up",
			"template", job.TemplateID, "attempts", job.Attempts,
			"queued_for", age.Round(time.Millisecond), "err", err)
		return
	}
	slog.Warn("mail worker: send failed, requeueing",
		"template", job.TemplateID, "attempts", job.Attempts, "err", err)
	if err := q.enqueue(ctx, job); err != nil {
		slog.Error("mail worker: requeue failed", "template", job.TemplateID, "err", err)
	}
}
