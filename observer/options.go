package observer

import "go.uber.org/zap"

type options struct {
	logger *zap.Logger
}

type Option func(*options)

// WithLogger sets the logger used for subscription and notification events.
// A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
