// Package queue runs queued artwork ids through the pipeline.
package queue

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/hashicorp/go-hclog"
	aErrors "github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/errors"
)

// Item is one unit of work: an artwork id.
type Item struct {
	ID int64 `json:"id"`
}

// Handler processes an artwork.
type Handler interface {
	Process(ctx context.Context, artworkID int64) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, artworkID int64) error

func (f HandlerFunc) Process(ctx context.Context, artworkID int64) error {
	return f(ctx, artworkID)
}

// ErrorHook receives failures that escaped the handler. Transient failures
// are not routed here; they stay queued for a later attempt.
type ErrorHook func(ctx context.Context, item Item, err error)

// Backend is a queue implementation that feeds a Runner.
type Backend interface {
	Submit(ctx context.Context, artworkID int64) error
	Run(ctx context.Context) error
	Close() error
}

// Runner is the outermost error boundary around the handler.
type Runner struct {
	handler Handler
	onError ErrorHook
	logger  hclog.Logger
}

// NewRunner creates a runner. onError may be nil.
func NewRunner(handler Handler, onError ErrorHook, logger hclog.Logger) *Runner {
	return &Runner{
		handler: handler,
		onError: onError,
		logger:  logger.Named("queue-runner"),
	}
}

// Handle processes one item. Panics are recovered and, like any other
// non-transient failure, passed to the error hook. The returned error is
// the failure itself so backends can decide about retries.
func (r *Runner) Handle(ctx context.Context, item Item) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic while processing artwork", "artwork_id", item.ID, "panic", rec, "stack", string(debug.Stack()))
			err = aErrors.Internal("process", fmt.Errorf("panic: %v", rec)).WithID(item.ID)
			r.fail(ctx, item, err)
		}
	}()

	err = r.handler.Process(ctx, item.ID)
	if err == nil {
		return nil
	}
	if aErrors.IsTransient(err) || ctx.Err() != nil {
		r.logger.Warn("artwork processing will be retried", "artwork_id", item.ID, "error", err)
		return err
	}

	r.fail(ctx, item, err)
	return err
}

func (r *Runner) fail(ctx context.Context, item Item, err error) {
	r.logger.Error("artwork processing failed", "artwork_id", item.ID, "error", err)
	if r.onError != nil {
		r.onError(ctx, item, err)
	}
}
