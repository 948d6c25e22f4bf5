// Package proxy serves a site through a reverse proxy that inlines logo
// SVGs into every HTML page on the way out.
package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"

	"github.com/tliron/commonlog"

	"github.com/jsvensson/inlinelogo/internal/dom"
	"github.com/jsvensson/inlinelogo/internal/inline"
)

const defaultMaxPageBytes = 8 << 20

var log = commonlog.GetLogger("inlinelogo.proxy")

var errPageTooLarge = errors.New("page too large to rewrite")

// PageObserver is told how each HTML page was handled.
type PageObserver interface {
	Page(result string)
}

// Config wires the proxy to its upstream and inliner.
type Config struct {
	Upstream *url.URL
	Inliner  *inline.Inliner
	Pages    PageObserver
	// MaxPageBytes caps the HTML body that is buffered for rewriting.
	// Larger pages pass through untouched. 0 means 8 MiB.
	MaxPageBytes int64
}

type rewriter struct {
	inliner  *inline.Inliner
	pages    PageObserver
	maxBytes int64
}

// New returns a reverse proxy to cfg.Upstream that rewrites 200 text/html
// responses to GET requests.
func New(cfg Config) (*httputil.ReverseProxy, error) {
	if cfg.Upstream == nil {
		return nil, fmt.Errorf("proxy: no upstream URL")
	}
	if cfg.Inliner == nil {
		return nil, fmt.Errorf("proxy: no inliner")
	}
	rw := &rewriter{inliner: cfg.Inliner, pages: cfg.Pages, maxBytes: cfg.MaxPageBytes}
	if rw.maxBytes <= 0 {
		rw.maxBytes = defaultMaxPageBytes
	}

	upstream := cfg.Upstream
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
			// Compressed bodies cannot be rewritten; ask for identity.
			pr.Out.Header.Del("Accept-Encoding")
		},
		ModifyResponse: rw.modify,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Errorf("upstream request %s %s: %v", r.Method, r.URL.Path, err)
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		},
	}, nil
}

func (rw *rewriter) modify(resp *http.Response) error {
	if !rewritable(resp) {
		return nil
	}

	original, err := readLimited(resp.Body, rw.maxBytes)
	if errors.Is(err, errPageTooLarge) {
		log.Noticef("not rewriting %s: %v", resp.Request.URL, err)
		resp.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(original), resp.Body), resp.Body}
		return nil
	}
	resp.Body.Close()
	if err != nil {
		return err
	}

	out, result := rw.rewrite(resp, original)
	if rw.pages != nil {
		rw.pages.Page(result)
	}
	setBody(resp, out)
	if result == "rewritten" {
		resp.Header.Del("ETag")
	}
	return nil
}

// rewrite returns the body to serve and how the page was handled.
func (rw *rewriter) rewrite(resp *http.Response, original []byte) ([]byte, string) {
	doc, err := dom.Parse(bytes.NewReader(original))
	if err != nil {
		log.Warningf("not rewriting %s: %v", resp.Request.URL, err)
		return original, "parse_error"
	}

	report := rw.inliner.Attach(resp.Request.Context(), doc, resp.Request.URL)
	if report.Matched > 0 {
		log.Infof("%s: %s", resp.Request.URL.Path, report)
	}
	if report.Count(inline.Replaced) == 0 {
		return original, "unchanged"
	}

	var buf bytes.Buffer
	if err := dom.Render(&buf, doc); err != nil {
		log.Errorf("rendering %s: %v", resp.Request.URL, err)
		return original, "parse_error"
	}
	return buf.Bytes(), "rewritten"
}

func rewritable(resp *http.Response) bool {
	if resp.StatusCode != http.StatusOK || resp.Request == nil {
		return false
	}
	// HEAD carries no body to rewrite and its Content-Length must survive.
	if resp.Request.Method != http.MethodGet {
		return false
	}
	if enc := resp.Header.Get("Content-Encoding"); enc != "" && enc != "identity" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return err == nil && mediaType == "text/html"
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return body, fmt.Errorf("reading page: %w", err)
	}
	if int64(len(body)) > limit {
		return body, errPageTooLarge
	}
	return body, nil
}

func setBody(resp *http.Response, body []byte) {
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
}
