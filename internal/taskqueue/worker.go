package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"wallpaperzzz/internal/metrics"
)

// Request is what a running task sees of its own invocation.
type Request struct {
	TaskID   string
	Task     string
	GroupID  string
	ParentID string
	Args     json.RawMessage
	Input    json.RawMessage
}

// HandlerFunc runs a task. The returned value is stored as the task result and
// passed to the next stage of the chain.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

type Worker struct {
	client   *Client
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewWorker(client *Client, logger *slog.Logger) *Worker {
	return &Worker{
		client:   client,
		logger:   logger.With("component", "worker"),
		handlers: make(map[string]HandlerFunc),
	}
}

func (w *Worker) Register(task string, h HandlerFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[task] = h
}

// Run consumes from the client's broker until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	return w.client.broker.Consume(ctx, w.Execute)
}

// Execute runs one message and records its outcome. On success the next chain stage is
// published with this stage's result; on failure or rejection every remaining stage is
// closed with the same terminal status so the chain never stays pending. A message whose
// task already finished is skipped without touching the recorded outcome.
func (w *Worker) Execute(ctx context.Context, msg Message) error {
	w.mu.RLock()
	h, ok := w.handlers[msg.Task]
	w.mu.RUnlock()

	log := w.logger.With("task", msg.Task, "task_id", msg.ID, "group_id", msg.GroupID)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownTask, msg.Task)
		w.finish(ctx, log, msg, StatusFailure, nil, err)
		return err
	}

	// a redelivered task keeps the outcome it already has
	if prev, err := w.client.backend.GetMeta(ctx, msg.ID); err == nil && prev.Status.Terminal() {
		log.Info("duplicate delivery of finished task skipped", "status", prev.Status)
		return Reject(fmt.Errorf("%w: %s", ErrAlreadyFinished, prev.Status))
	}

	w.setMeta(ctx, log, w.meta(msg, StatusStarted, nil, ""))

	start := time.Now()
	result, err := w.call(ctx, h, msg)
	metrics.TaskDuration.WithLabelValues(msg.Task).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		raw, merr := json.Marshal(result)
		if merr != nil {
			err = fmt.Errorf("encode result: %w", merr)
			w.finish(ctx, log, msg, StatusFailure, nil, err)
			return err
		}
		w.finish(ctx, log, msg, StatusSuccess, raw, nil)
		if len(msg.Links) > 0 {
			if perr := w.publishNext(ctx, msg, raw); perr != nil {
				log.Error("failed to publish next chain stage", "error", perr)
				w.closeLinks(ctx, log, msg, StatusFailure, perr)
				return perr
			}
		}
		return nil
	case IsRejected(err):
		log.Info("task rejected", "reason", err.Error())
		w.finish(ctx, log, msg, StatusRejected, nil, err)
		return err
	default:
		log.Warn("task failed", "error", err)
		w.finish(ctx, log, msg, StatusFailure, nil, err)
		return err
	}
}

func (w *Worker) call(ctx context.Context, h HandlerFunc, msg Message) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("panic recovered in task", "task", msg.Task, "task_id", msg.ID, "error", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return h(ctx, &Request{
		TaskID:   msg.ID,
		Task:     msg.Task,
		GroupID:  msg.GroupID,
		ParentID: msg.ParentID,
		Args:     msg.Args,
		Input:    msg.Input,
	})
}

func (w *Worker) publishNext(ctx context.Context, msg Message, result json.RawMessage) error {
	next := msg.Links[0]
	return w.client.broker.Publish(ctx, Message{
		ID:       next.ID,
		Task:     next.Task,
		Args:     next.Args,
		Input:    result,
		GroupID:  msg.GroupID,
		ParentID: msg.ID,
		Links:    msg.Links[1:],
		ETA:      w.client.now(),
	})
}

func (w *Worker) finish(ctx context.Context, log *slog.Logger, msg Message, status Status, result json.RawMessage, err error) {
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	w.setMeta(ctx, log, w.meta(msg, status, result, errText))
	metrics.TasksTotal.WithLabelValues(msg.Task, string(status)).Inc()
	if status != StatusSuccess {
		w.closeLinks(ctx, log, msg, status, err)
	}
}

func (w *Worker) closeLinks(ctx context.Context, log *slog.Logger, msg Message, status Status, cause error) {
	parentID := msg.ID
	for _, link := range msg.Links {
		reason := fmt.Sprintf("parent task %s ended %s", parentID, status)
		if cause != nil {
			reason += ": " + cause.Error()
		}
		w.setMeta(ctx, log, TaskMeta{
			ID:        link.ID,
			Task:      link.Task,
			Status:    status,
			Error:     reason,
			ParentID:  parentID,
			GroupID:   msg.GroupID,
			UpdatedAt: w.client.now(),
		})
		parentID = link.ID
	}
}

func (w *Worker) meta(msg Message, status Status, result json.RawMessage, errText string) TaskMeta {
	return TaskMeta{
		ID:        msg.ID,
		Task:      msg.Task,
		Status:    status,
		Result:    result,
		Error:     errText,
		ParentID:  msg.ParentID,
		GroupID:   msg.GroupID,
		UpdatedAt: w.client.now(),
	}
}

func (w *Worker) setMeta(ctx context.Context, log *slog.Logger, meta TaskMeta) {
	// state writes outlive a cancelled delivery context
	ctx = context.WithoutCancel(ctx)
	if err := w.client.backend.SetMeta(ctx, meta); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("failed to store task state", "status", meta.Status, "error", err)
	}
}
