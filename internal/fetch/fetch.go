// Package fetch performs the HTTP GETs behind logo inlining and reports
// each outcome as an explicit Result rather than a bare error path.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/tliron/commonlog"
)

var (
	// ErrUnexpectedContentType means the response cannot be an XML document.
	ErrUnexpectedContentType = errors.New("unexpected content type")
	// ErrBodyTooLarge means the response exceeded Config.MaxBodyBytes.
	ErrBodyTooLarge = errors.New("response body too large")
)

const (
	acceptSVG  = "image/svg+xml, application/xml;q=0.9, */*;q=0.8"
	acceptHTML = "text/html, application/xhtml+xml;q=0.9, */*;q=0.8"
)

var log = commonlog.GetLogger("inlinelogo.fetch")

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Result is the outcome of one fetch. Err is nil on success; the other
// fields are filled in as far as the request got.
type Result struct {
	URL         string
	Status      int
	ContentType string
	Body        []byte
	Duration    time.Duration
	Err         error
}

// OK reports whether the fetch succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Fetcher issues GET requests with a per-request timeout.
type Fetcher struct {
	client *http.Client
	cfg    Config
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient replaces the HTTP client, e.g. with an httptest server's.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// New builds a Fetcher from cfg.
func New(cfg Config, opts ...Option) *Fetcher {
	f := &Fetcher{cfg: cfg}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = NewHTTPClient(cfg)
	}
	return f
}

// Fetch GETs url expecting an SVG/XML payload.
func (f *Fetcher) Fetch(ctx context.Context, url string) Result {
	return f.get(ctx, url, acceptSVG, checkXMLContentType)
}

// Page GETs url expecting an HTML page. Used for pages given by URL on the
// command line.
func (f *Fetcher) Page(ctx context.Context, url string) Result {
	return f.get(ctx, url, acceptHTML, nil)
}

func (f *Fetcher) get(ctx context.Context, url, accept string, check func(string) error) (res Result) {
	res.URL = url
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		res.Err = fmt.Errorf("building request: %w", err)
		return res
	}
	req.Header.Set("Accept", accept)
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		res.Err = err
		return res
	}
	defer resp.Body.Close()

	res.Status = resp.StatusCode
	res.ContentType = resp.Header.Get("Content-Type")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		res.Err = &StatusError{URL: url, StatusCode: resp.StatusCode}
		return res
	}
	if check != nil {
		if err := check(res.ContentType); err != nil {
			res.Err = err
			return res
		}
	}

	body, err := f.readBody(resp.Body)
	if err != nil {
		res.Err = err
		return res
	}
	res.Body = body
	log.Debugf("fetched %s (%d bytes)", url, len(body))
	return res
}

func (f *Fetcher) readBody(r io.Reader) ([]byte, error) {
	if f.cfg.MaxBodyBytes <= 0 {
		body, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("reading body: %w", err)
		}
		return body, nil
	}
	body, err := io.ReadAll(io.LimitReader(r, f.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(body)) > f.cfg.MaxBodyBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, f.cfg.MaxBodyBytes)
	}
	return body, nil
}

// checkXMLContentType accepts anything an XML parser could plausibly be
// handed: xml and svg media types, plain text, opaque bytes, or no header.
func checkXMLContentType(contentType string) error {
	if strings.TrimSpace(contentType) == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnexpectedContentType, contentType)
	}
	switch {
	case strings.Contains(mediaType, "xml"), strings.Contains(mediaType, "svg"):
		return nil
	case mediaType == "text/plain", mediaType == "application/octet-stream":
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnexpectedContentType, mediaType)
}
