package repository

import (
	"go.uber.org/zap"

	"github.com/conduit-lang/docmap/internal/logger"
	"github.com/conduit-lang/docmap/pkg/odm/schema"
)

type options struct {
	registry  *schema.Registry
	logger    *zap.Logger
	autoIndex bool
}

// Option configures a Repository
type Option func(*options)

// WithRegistry reads entity metadata from reg instead of schema.Default
func WithRegistry(reg *schema.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithLogger sets the logger used for repository operations
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithAutoIndex creates the declared indexes, forced to build in the
// background, when the repository is constructed
func WithAutoIndex(enabled bool) Option {
	return func(o *options) {
		o.autoIndex = enabled
	}
}

func buildOptions(opts []Option) options {
	o := options{
		registry: schema.Default,
		logger:   logger.L(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = schema.Default
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}
