package brimfile

import "github.com/prevedel-lab/brimfile/store"

type options struct {
	logger      *Logger
	compression store.Compression
}

// Option configures File constructor behavior.
type Option func(*options)

// WithLogger sets the logger used for degraded-default warnings.
//
// If nil is passed, the default text logger is used.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NewLogger(nil)
		}
		o.logger = l
	}
}

// WithCompression selects the chunk compression codec used for datasets
// written through this File. Reads honor whatever codec a dataset was
// written with, independent of this setting.
func WithCompression(c store.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

func defaultOptions() options {
	return options{
		logger:      NewLogger(nil),
		compression: store.CompressionZstd,
	}
}
