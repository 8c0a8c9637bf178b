package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"healthalert/internal/config"

	"github.com/nats-io/nats.go"
)

const deferredStreamMaxAge = 7 * 24 * time.Hour
const deferredPollDelay = 30 * time.Second

// NATSQueue holds deferred delivery units in a JetStream work queue so
// they survive restarts. Jobs published before their run time are
// redelivered with a delay until due.
type NATSQueue struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	sub     *nats.Subscription
	subject string
	logger  *slog.Logger
}

// NewNATSQueue opens the deferred stream and starts its consumer.
// Params: NATS URL, deferred queue config, handler for due jobs, logger.
// Returns: running queue or setup error.
func NewNATSQueue(url string, cfg config.DeferredConfig, handler Handler, logger *slog.Logger) (*NATSQueue, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect deferred queue nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for deferred queue: %w", err)
	}
	if err := ensureStream(js, cfg.Stream, cfg.Subject); err != nil {
		nc.Close()
		return nil, err
	}

	queue := &NATSQueue{nc: nc, js: js, subject: cfg.Subject, logger: logger}
	ackWait := time.Duration(cfg.MaxAckWait) * time.Second
	subOpts := []nats.SubOpt{
		nats.BindStream(cfg.Stream),
		nats.Durable(cfg.ConsumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(ackWait),
		nats.MaxDeliver(-1),
		nats.DeliverAll(),
	}
	sub, err := js.QueueSubscribe(cfg.Subject, cfg.DeliverGroup, func(message *nats.Msg) {
		if message == nil {
			return
		}
		var job Job
		if err := json.Unmarshal(message.Data, &job); err != nil {
			if logger != nil {
				logger.Warn("deferred job decode failed", "subject", message.Subject, "error", err.Error())
			}
			_ = message.Ack()
			return
		}
		if wait := time.Until(job.RunAt); wait > 0 {
			// Not due yet. Park the message until close to its run time.
			if wait > deferredPollDelay {
				wait = deferredPollDelay
			}
			_ = message.NakWithDelay(wait)
			return
		}
		if handler != nil {
			if err := handler(context.Background(), job); err != nil {
				if logger != nil {
					logger.Error("deferred job failed", "job", job.ID, "channel", job.Channel, "error", err.Error())
				}
				_ = message.NakWithDelay(deferredPollDelay)
				return
			}
		}
		_ = message.Ack()
	}, subOpts...)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue subscribe deferred %q/%q: %w", cfg.Subject, cfg.DeliverGroup, err)
	}
	queue.sub = sub
	return queue, nil
}

// Enqueue publishes one deferred job. The job id doubles as the
// JetStream message id, so re-enqueues of the same unit deduplicate.
// Params: context and job.
// Returns: publish error.
func (q *NATSQueue) Enqueue(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal deferred job: %w", err)
	}
	msg := nats.NewMsg(q.subject)
	msg.Data = body
	if strings.TrimSpace(job.ID) != "" {
		msg.Header.Set("Nats-Msg-Id", strings.TrimSpace(job.ID))
	}
	if _, err := q.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish deferred job: %w", err)
	}
	return nil
}

// Close drains the consumer and closes the NATS connection.
// Params: none.
// Returns: drain error.
func (q *NATSQueue) Close() error {
	if q == nil || q.nc == nil {
		return nil
	}
	if q.sub != nil {
		if err := q.sub.Drain(); err != nil {
			q.nc.Close()
			return err
		}
	}
	q.nc.Close()
	return nil
}

// ensureStream creates the deferred work-queue stream when missing.
// Params: JetStream context and stream/subject names.
// Returns: stream create/lookup error.
func ensureStream(js nats.JetStreamContext, streamName, subject string) error {
	if _, err := js.StreamInfo(streamName); err == nil {
		return nil
	} else if err != nil && err != nats.ErrStreamNotFound && !strings.Contains(strings.ToLower(err.Error()), "stream not found") {
		return fmt.Errorf("stream info %q: %w", streamName, err)
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		MaxAge:    deferredStreamMaxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", streamName, err)
	}
	return nil
}
