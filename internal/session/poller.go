package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/anandkorat/phonepe-bridge/internal/record"
)

// TaskTypeStatusPoll is the asynq task type for delayed status polls.
const TaskTypeStatusPoll = "payment:poll_status"

// QueuePolls is the asynq queue the poll worker consumes.
const QueuePolls = "polls"

type pollPayload struct {
	OrderID string `json:"order_id"`
}

// NewStatusPollTask builds the poll task for one order.
func NewStatusPollTask(orderID string) (*asynq.Task, error) {
	payload, err := json.Marshal(pollPayload{OrderID: orderID})
	if err != nil {
		return nil, fmt.Errorf("encode poll payload: %w", err)
	}
	return asynq.NewTask(TaskTypeStatusPoll, payload), nil
}

// PollEnqueuer schedules a delayed gateway poll after each created session,
// so orders abandoned without a browser return still settle. The task id is
// derived from the order id, which makes re-scheduling a no-op.
type PollEnqueuer struct {
	Client   *asynq.Client
	Delay    time.Duration
	MaxRetry int
	Logger   zerolog.Logger
}

// SchedulePoll enqueues the status poll for orderID.
func (e *PollEnqueuer) SchedulePoll(ctx context.Context, orderID string) error {
	task, err := NewStatusPollTask(orderID)
	if err != nil {
		return err
	}
	info, err := e.Client.EnqueueContext(ctx, task,
		asynq.Queue(QueuePolls),
		asynq.TaskID("poll:"+orderID),
		asynq.ProcessIn(e.Delay),
		asynq.MaxRetry(e.MaxRetry),
	)
	if err != nil {
		return fmt.Errorf("enqueue status poll: %w", err)
	}
	e.Logger.Debug().Str("order_id", orderID).Str("task_id", info.ID).Msg("status poll scheduled")
	return nil
}

// PollWorker refreshes pending orders from the gateway. Returning an error
// while the order is still pending lets asynq's retry backoff act as the
// polling interval.
type PollWorker struct {
	Sessions *Coordinator
	Logger   zerolog.Logger
}

// ProcessTask implements asynq.Handler for TaskTypeStatusPoll.
func (w *PollWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload pollPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("undecodable poll payload: %v: %w", err, asynq.SkipRetry)
	}
	status, err := w.Sessions.ReconcilePending(ctx, payload.OrderID)
	if err != nil {
		w.Logger.Warn().Err(err).Str("order_id", payload.OrderID).Msg("status poll failed")
		return err
	}
	if status == record.StatusPending {
		return fmt.Errorf("order %s still pending", payload.OrderID)
	}
	w.Logger.Info().Str("order_id", payload.OrderID).Str("status", string(status)).Msg("status poll settled order")
	return nil
}
