package service

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/stayawake/stayawake/internal/metrics"
)

// Option configures a service.
type Option func(*options)

type options struct {
	now          func() time.Time
	metrics      metrics.Recorder
	allowPrivate bool
}

// WithClock overrides the wall clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder metrics.Recorder) Option {
	return func(o *options) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithPrivateTargets lets the registry accept local and private hosts.
// Only for self-hosted deployments that keep internal services awake.
func WithPrivateTargets(allow bool) Option {
	return func(o *options) { o.allowPrivate = allow }
}

func buildOptions(opts []Option) options {
	o := options{
		now:     func() time.Time { return time.Now().UTC() },
		metrics: metrics.NewNoop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewID returns a new time-sortable identifier.
func NewID() string {
	return ulid.Make().String()
}
