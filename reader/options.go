package reader

import (
	"io"
	"log/slog"

	"github.com/tsawler/folio/core"
	"github.com/tsawler/folio/xref"
)

// config holds the settings gathered from Options.
type config struct {
	logger       *slog.Logger
	password     string
	strict       bool
	headerWindow int
	maxRevisions int
}

func newConfig(opts []Option) *config {
	cfg := &config{
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		headerWindow: core.DefaultHeaderWindow,
		maxRevisions: xref.DefaultMaxRevisions,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Option configures how a document is loaded.
type Option func(*config)

// WithLogger sets the logger for recoverable problems: the switch to a
// linear scan, skipped objects, truncated sections. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPassword sets the password for an encrypted document. It is tried as
// both the user and the owner password.
func WithPassword(password string) Option {
	return func(c *config) {
		c.password = password
	}
}

// WithStrictRecovery stops a linear scan from replacing a cross-reference
// entry that still resolves to a valid object. Without it, the object found
// in the file always wins.
func WithStrictRecovery() Option {
	return func(c *config) {
		c.strict = true
	}
}

// WithHeaderWindow sets how many leading bytes are searched for the %PDF-
// signature (default 2048).
func WithHeaderWindow(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.headerWindow = n
		}
	}
}

// WithMaxRevisions limits how many incremental updates are followed.
func WithMaxRevisions(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxRevisions = n
		}
	}
}
