package folio

import (
	"log/slog"

	"github.com/tsawler/folio/reader"
)

// LoadOptions holds configuration for loading a document.
type LoadOptions struct {
	// Page selection (1-indexed in API, stored as-is)
	pages []int

	password     string
	strict       bool
	logger       *slog.Logger
	headerWindow int
	maxRevisions int
}

// defaultOptions returns the default load options.
func defaultOptions() LoadOptions {
	return LoadOptions{
		pages:        nil, // nil means all pages
		password:     "",
		strict:       false,
		headerWindow: 0, // reader default
		maxRevisions: 0, // reader default
	}
}

// clone creates a deep copy of LoadOptions.
func (o LoadOptions) clone() LoadOptions {
	newOpts := LoadOptions{
		password:     o.password,
		strict:       o.strict,
		logger:       o.logger,
		headerWindow: o.headerWindow,
		maxRevisions: o.maxRevisions,
	}

	// Deep copy pages slice
	if o.pages != nil {
		newOpts.pages = make([]int, len(o.pages))
		copy(newOpts.pages, o.pages)
	}

	return newOpts
}

// readerOptions translates the options for the reader package.
func (o LoadOptions) readerOptions() []reader.Option {
	opts := []reader.Option{
		reader.WithPassword(o.password),
		reader.WithHeaderWindow(o.headerWindow),
		reader.WithMaxRevisions(o.maxRevisions),
	}
	if o.logger != nil {
		opts = append(opts, reader.WithLogger(o.logger))
	}
	if o.strict {
		opts = append(opts, reader.WithStrictRecovery())
	}
	return opts
}
