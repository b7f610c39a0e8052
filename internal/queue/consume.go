package queue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Action tells Consume what to do with a handled message.
type Action int

const (
	ActionAck Action = iota
	ActionRetry
	ActionDeadLetter
)

func (a Action) String() string {
	switch a {
	case ActionAck:
		return "ack"
	case ActionRetry:
		return "retry"
	case ActionDeadLetter:
		return "dead_letter"
	}
	return "unknown"
}

// Disposition is a handler's verdict on one message.
type Disposition struct {
	Action Action
	// Delay before the message is visible again (ActionRetry only).
	Delay time.Duration
	// Reason is recorded with retries and dead letters.
	Reason string
}

// Ack acknowledges a message.
func Ack() Disposition { return Disposition{Action: ActionAck} }

// RetryAfter redelivers a message once delay has passed.
func RetryAfter(delay time.Duration, reason string) Disposition {
	return Disposition{Action: ActionRetry, Delay: delay, Reason: reason}
}

// DeadLetterBecause moves a message to the dead-letter table.
func DeadLetterBecause(reason string) Disposition {
	return Disposition{Action: ActionDeadLetter, Reason: reason}
}

// Handler processes a claimed message.
type Handler func(ctx context.Context, msg *Message) Disposition

// ConsumeOptions bounds consumer throughput.
type ConsumeOptions struct {
	// Concurrency is the maximum number of in-flight handlers. Default: 5.
	Concurrency int
	// RatePerSecond caps how many handlers start per second. Default: 100.
	RatePerSecond float64
	// BatchSize caps the messages claimed per poll. A poll never claims more
	// than the free handler slots. Default: Concurrency.
	BatchSize int
	// PollInterval is the delay between polls when the queue is drained. Default: 1s.
	PollInterval time.Duration
}

func (o *ConsumeOptions) defaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 100
	}
	if o.BatchSize <= 0 {
		o.BatchSize = o.Concurrency
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
}

// Consume claims messages and runs handler on each with bounded concurrency
// and a start-rate ceiling. Only as many messages are claimed as there are
// free handler slots, and a running handler's message is kept invisible by a
// heartbeat. It blocks until ctx is cancelled, then waits for in-flight
// handlers to finish and settles their dispositions before returning.
// Messages claimed but not yet started when ctx is cancelled are released
// for redelivery without counting an attempt.
func (q *Q) Consume(ctx context.Context, opts ConsumeOptions, handler Handler) error {
	opts.defaults()
	log := q.opts.Logger
	log.Info("delta queue consumer started",
		"concurrency", opts.Concurrency,
		"rate_per_second", opts.RatePerSecond,
		"batch_size", opts.BatchSize,
		"visibility", q.opts.Visibility,
		"poll", opts.PollInterval,
	)

	limiter := rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Concurrency)
	sem := make(chan struct{}, opts.Concurrency)
	var wg sync.WaitGroup

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		slots := reserve(ctx, sem, opts.BatchSize)
		if slots == 0 {
			break
		}

		msgs, err := q.BatchClaim(ctx, slots)
		if err != nil && ctx.Err() == nil {
			log.Warn("claiming delta jobs failed", "error", err)
		}
		for range slots - len(msgs) {
			<-sem
		}

		for i, msg := range msgs {
			if err := limiter.Wait(ctx); err != nil {
				q.releaseAll(msgs[i:])
				for range len(msgs) - i {
					<-sem
				}
				break
			}

			wg.Add(1)
			go func(m *Message) {
				defer wg.Done()
				defer func() { <-sem }()

				stop := q.heartbeat(m.ID)
				d := handler(ctx, m)
				stop()
				// Settle even if ctx was cancelled mid-handler.
				q.settle(context.Background(), m, d)
			}(msg)
		}

		if ctx.Err() != nil {
			break
		}
		if len(msgs) == slots {
			continue
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			break
		}
	}

	log.Info("delta queue consumer stopping, draining in-flight jobs")
	wg.Wait()
	log.Info("delta queue consumer stopped")
	return nil
}

// reserve blocks until at least one handler slot is free, then takes up to
// limit free slots without blocking. It returns 0 when ctx is cancelled.
func reserve(ctx context.Context, sem chan struct{}, limit int) int {
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return 0
	}
	n := 1
	for n < limit {
		select {
		case sem <- struct{}{}:
			n++
		default:
			return n
		}
	}
	return n
}

// heartbeat keeps message id invisible while its handler runs by extending
// the visibility timeout every third of it. The returned stop function
// blocks until no further extension can happen, so a later Retry delay is
// never overwritten.
func (q *Q) heartbeat(id string) (stop func()) {
	interval := q.opts.Visibility / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := q.Extend(context.Background(), id, q.opts.Visibility); err != nil {
					q.opts.Logger.Warn("extending delta job visibility failed", "job", id, "error", err)
				}
			}
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}

func (q *Q) releaseAll(msgs []*Message) {
	for _, m := range msgs {
		if err := q.release(context.Background(), m.ID); err != nil {
			q.opts.Logger.Warn("releasing unclaimed job failed", "job", m.ID, "error", err)
		}
	}
}

func (q *Q) settle(ctx context.Context, m *Message, d Disposition) {
	var err error
	switch d.Action {
	case ActionAck:
		err = q.Ack(ctx, m.ID)
	case ActionRetry:
		err = q.Retry(ctx, m.ID, d.Delay, d.Reason)
	case ActionDeadLetter:
		err = q.DeadLetter(ctx, m, d.Reason)
	}
	if err != nil {
		q.opts.Logger.Error("settling delta job failed", "job", m.ID, "action", d.Action.String(), "error", err)
	}
}
