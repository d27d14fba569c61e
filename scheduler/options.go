package scheduler

import (
	"github.com/joeycumines/logiface"

	"github.com/joeycumines/go-framesync/statebuffer"
	"github.com/joeycumines/go-framesync/telemetry"
)

// Option configures a Scheduler.
type Option interface {
	applyScheduler(*schedulerOptions)
}

type schedulerOptions struct {
	logger  *logiface.Logger[logiface.Event]
	metrics *telemetry.Metrics
	buffers []statebuffer.Swapper
}

type optionFunc func(*schedulerOptions)

func (f optionFunc) applyScheduler(o *schedulerOptions) { f(o) }

// WithBuffers registers buffers to be swapped, together, each time a
// completed pass is consumed. It may be specified more than once.
func WithBuffers(buffers ...statebuffer.Swapper) Option {
	return optionFunc(func(o *schedulerOptions) {
		o.buffers = append(o.buffers, buffers...)
	})
}

// WithLogger sets the logger.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return optionFunc(func(o *schedulerOptions) {
		o.logger = logger
	})
}

// WithMetrics enables recording of frame and pass statistics.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return optionFunc(func(o *schedulerOptions) {
		o.metrics = metrics
	})
}
