package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"

	"github.com/jsvensson/inlinelogo/internal/fetch"
	"github.com/jsvensson/inlinelogo/internal/inline"
)

// Config is the fully-resolved inliner configuration.
type Config struct {
	Inline  inline.Options
	Fetch   fetch.Config
	BaseURL *url.URL
	Serve   Serve
}

// Serve holds settings for the rewriting proxy.
type Serve struct {
	Listen    string
	Upstream  *url.URL
	RateLimit int // requests per minute per client IP; 0 disables
}

// File mirrors the HCL layout for gohcl decoding.
type File struct {
	Selector        *string     `hcl:"selector,optional"`
	MarkerClass     *string     `hcl:"marker_class,optional"`
	ViewBoxOrder    *string     `hcl:"viewbox_order,optional"`
	StripAttributes *[]string   `hcl:"strip_attributes,optional"`
	BaseURL         *string     `hcl:"base_url,optional"`
	Fetch           *FetchBlock `hcl:"fetch,block"`
	Serve           *ServeBlock `hcl:"serve,block"`
}

// FetchBlock is the fetch { } block.
type FetchBlock struct {
	Timeout        *string `hcl:"timeout,optional"`
	MaxConcurrency *int    `hcl:"max_concurrency,optional"`
	MaxBodyBytes   *int64  `hcl:"max_body_bytes,optional"`
	UserAgent      *string `hcl:"user_agent,optional"`
}

// ServeBlock is the serve { } block.
type ServeBlock struct {
	Listen    *string `hcl:"listen,optional"`
	Upstream  *string `hcl:"upstream,optional"`
	RateLimit *int    `hcl:"rate_limit,optional"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Inline: inline.DefaultOptions(),
		Fetch:  fetch.DefaultConfig(),
		Serve:  Serve{Listen: ":8080"},
	}
}

// Load parses an HCL config file on top of Default().
func Load(path string) (*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(src, path)
}

// Parse parses HCL source; filename is only used in diagnostics.
func Parse(src []byte, filename string) (*Config, error) {
	file, diags := hclsyntax.ParseConfig(src, filename, hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing HCL: %s", diags.Error())
	}

	var raw File
	if diags := gohcl.DecodeBody(file.Body, buildEvalContext(), &raw); diags.HasErrors() {
		return nil, fmt.Errorf("decoding config: %s", diags.Error())
	}

	cfg := Default()
	if err := apply(cfg, &raw); err != nil {
		return nil, err
	}
	return cfg, nil
}

func apply(cfg *Config, raw *File) error {
	if raw.Selector != nil {
		cfg.Inline.Selector = *raw.Selector
	}
	if _, err := cascadia.Compile(cfg.Inline.Selector); err != nil {
		return fmt.Errorf("selector %q: %w", cfg.Inline.Selector, err)
	}
	if raw.MarkerClass != nil {
		cfg.Inline.MarkerClass = *raw.MarkerClass
	}
	if raw.ViewBoxOrder != nil {
		order, err := inline.ParseViewBoxOrder(*raw.ViewBoxOrder)
		if err != nil {
			return fmt.Errorf("viewbox_order: %w", err)
		}
		cfg.Inline.ViewBoxOrder = order
	}
	if raw.StripAttributes != nil {
		cfg.Inline.StripAttributes = *raw.StripAttributes
	}
	if raw.BaseURL != nil && *raw.BaseURL != "" {
		u, err := parseAbsURL(*raw.BaseURL)
		if err != nil {
			return fmt.Errorf("base_url: %w", err)
		}
		cfg.BaseURL = u
	}

	if f := raw.Fetch; f != nil {
		if f.Timeout != nil {
			d, err := time.ParseDuration(*f.Timeout)
			if err != nil {
				return fmt.Errorf("fetch.timeout: %w", err)
			}
			if d < 0 {
				return fmt.Errorf("fetch.timeout: must not be negative")
			}
			cfg.Fetch.Timeout = d
		}
		if f.MaxConcurrency != nil {
			if *f.MaxConcurrency < 0 {
				return fmt.Errorf("fetch.max_concurrency: must not be negative")
			}
			cfg.Inline.MaxConcurrency = *f.MaxConcurrency
		}
		if f.MaxBodyBytes != nil {
			cfg.Fetch.MaxBodyBytes = *f.MaxBodyBytes
		}
		if f.UserAgent != nil {
			cfg.Fetch.UserAgent = *f.UserAgent
		}
	}

	if s := raw.Serve; s != nil {
		if s.Listen != nil {
			cfg.Serve.Listen = *s.Listen
		}
		if s.Upstream != nil && *s.Upstream != "" {
			u, err := parseAbsURL(*s.Upstream)
			if err != nil {
				return fmt.Errorf("serve.upstream: %w", err)
			}
			cfg.Serve.Upstream = u
		}
		if s.RateLimit != nil {
			if *s.RateLimit < 0 {
				return fmt.Errorf("serve.rate_limit: must not be negative")
			}
			cfg.Serve.RateLimit = *s.RateLimit
		}
	}
	return nil
}

func parseAbsURL(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute URL", s)
	}
	return u, nil
}
