package service

import "time"

// ServiceOption configures optional collaborators of the services.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	now func() time.Time
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(o *serviceOptions) {
		o.now = now
	}
}

func applyOptions(opts []ServiceOption) serviceOptions {
	o := serviceOptions{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
