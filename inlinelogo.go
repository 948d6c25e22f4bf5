package inlinelogo

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/jsvensson/inlinelogo/internal/config"
	"github.com/jsvensson/inlinelogo/internal/dom"
	"github.com/jsvensson/inlinelogo/internal/fetch"
	"github.com/jsvensson/inlinelogo/internal/inline"
)

// Site is a resolved configuration together with the inliner built from it.
type Site struct {
	Config  *config.Config
	Fetcher *fetch.Fetcher
	Inliner *inline.Inliner
}

// Load reads the HCL config at path and builds a Site. An empty path means
// the built-in defaults.
func Load(path string, opts ...inline.Option) (*Site, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}
	return New(cfg, opts...)
}

// New builds a Site from an already resolved config.
func New(cfg *config.Config, opts ...inline.Option) (*Site, error) {
	f := fetch.New(cfg.Fetch)
	in, err := inline.New(cfg.Inline, f, opts...)
	if err != nil {
		return nil, err
	}
	return &Site{Config: cfg, Fetcher: f, Inliner: in}, nil
}

// InlineHTML reads an HTML page from r, inlines its logos and writes the
// result to w. base overrides the configured base URL when non-nil.
func (s *Site) InlineHTML(ctx context.Context, w io.Writer, r io.Reader, base *url.URL) (inline.Report, error) {
	doc, err := dom.Parse(r)
	if err != nil {
		return inline.Report{}, err
	}
	if base == nil {
		base = s.Config.BaseURL
	}
	report := s.Inliner.Attach(ctx, doc, base)
	if err := dom.Render(w, doc); err != nil {
		return report, err
	}
	return report, nil
}
