package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jsvensson/inlinelogo/internal/fetch"
	"github.com/jsvensson/inlinelogo/internal/inline"
)

const page = `<!DOCTYPE html><html><head><title>Home</title></head><body>` +
	`<div class="site-logo"><img id="logo" class="brand" alt="Acme" src="/logo.svg"></div>` +
	`<p>Welcome</p></body></html>`

const logo = `<svg xmlns="http://www.w3.org/2000/svg" width="120" height="40"><title>x</title><rect width="1" height="1"/></svg>`

type pageCounter struct {
	rewritten, unchanged, parseErrors atomic.Int32
}

func (c *pageCounter) Page(result string) {
	switch result {
	case "rewritten":
		c.rewritten.Add(1)
	case "unchanged":
		c.unchanged.Add(1)
	case "parse_error":
		c.parseErrors.Add(1)
	}
}

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(page)))
		w.Header().Set("ETag", `"v1"`)
		_, _ = io.WriteString(w, page)
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<html><body><p>no logo here</p></body></html>`)
	})
	mux.HandleFunc("/logo.svg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		_, _ = io.WriteString(w, logo)
	})
	mux.HandleFunc("/style.css", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		_, _ = io.WriteString(w, `.site-logo img { width: 10px }`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newProxy(t *testing.T, upstream *httptest.Server, pages PageObserver, maxBytes int64) *httptest.Server {
	t.Helper()
	u, err := url.Parse(upstream.URL)
	if err != nil {
		t.Fatal(err)
	}
	in, err := inline.New(inline.DefaultOptions(), fetch.New(fetch.DefaultConfig(), fetch.WithClient(upstream.Client())))
	if err != nil {
		t.Fatal(err)
	}
	rp, err := New(Config{Upstream: u, Inliner: in, Pages: pages, MaxPageBytes: maxBytes})
	if err != nil {
		t.Fatal(err)
	}
	front := httptest.NewServer(NewRouter(rp, RouterConfig{}))
	t.Cleanup(front.Close)
	return front
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(body)
}

func TestProxyRewritesLogo(t *testing.T) {
	upstream := newUpstream(t)
	pages := &pageCounter{}
	front := newProxy(t, upstream, pages, 0)

	resp, body := get(t, front.URL+"/")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if strings.Contains(body, "<img") {
		t.Errorf("img still present:\n%s", body)
	}
	for _, want := range []string{`id="logo"`, `class="brand replaced-svg"`, `viewBox="0 0 40 120"`, `<title>Acme</title>`, `<p>Welcome</p>`} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %s:\n%s", want, body)
		}
	}
	if got := resp.Header.Get("Content-Length"); got != "" && got != strconv.Itoa(len(body)) {
		t.Errorf("Content-Length = %s, body is %d bytes", got, len(body))
	}
	if resp.Header.Get("ETag") != "" {
		t.Error("ETag kept on rewritten page")
	}
	if pages.rewritten.Load() != 1 {
		t.Errorf("rewritten pages = %d, want 1", pages.rewritten.Load())
	}
}

func TestProxyPassesThroughNonHTML(t *testing.T) {
	upstream := newUpstream(t)
	front := newProxy(t, upstream, nil, 0)

	_, body := get(t, front.URL+"/style.css")
	if body != `.site-logo img { width: 10px }` {
		t.Errorf("css body = %q", body)
	}

	resp, _ := get(t, front.URL+"/missing")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestProxyPageWithoutLogoUnchanged(t *testing.T) {
	upstream := newUpstream(t)
	pages := &pageCounter{}
	front := newProxy(t, upstream, pages, 0)

	_, body := get(t, front.URL+"/plain")
	if body != `<html><body><p>no logo here</p></body></html>` {
		t.Errorf("body = %q, want upstream bytes verbatim", body)
	}
	if pages.unchanged.Load() != 1 {
		t.Errorf("unchanged pages = %d, want 1", pages.unchanged.Load())
	}
}

func TestProxyLargePagePassesThrough(t *testing.T) {
	upstream := newUpstream(t)
	front := newProxy(t, upstream, nil, 32)

	_, body := get(t, front.URL+"/")
	if body != page {
		t.Errorf("large page altered:\n%s", body)
	}
}

func TestProxyHeadKeepsUpstreamLength(t *testing.T) {
	upstream := newUpstream(t)
	pages := &pageCounter{}
	front := newProxy(t, upstream, pages, 0)

	resp, err := http.Head(front.URL + "/")
	if err != nil {
		t.Fatalf("HEAD: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.ContentLength != int64(len(page)) {
		t.Errorf("Content-Length = %d, want upstream length %d", resp.ContentLength, len(page))
	}
	if resp.Header.Get("ETag") != `"v1"` {
		t.Errorf("ETag = %q, want upstream value", resp.Header.Get("ETag"))
	}
	if n := pages.rewritten.Load() + pages.unchanged.Load() + pages.parseErrors.Load(); n != 0 {
		t.Errorf("HEAD counted as %d processed pages, want 0", n)
	}
}

func TestProxyUpstreamDown(t *testing.T) {
	upstream := newUpstream(t)
	front := newProxy(t, upstream, nil, 0)
	upstream.Close()

	resp, _ := get(t, front.URL+"/")
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() accepted empty config")
	}
}
