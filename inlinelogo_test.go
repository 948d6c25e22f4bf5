package inlinelogo

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jsvensson/inlinelogo/internal/inline"
)

func TestLoadDefaults(t *testing.T) {
	site, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if got := site.Inliner.Options().Selector; got != inline.DefaultSelector {
		t.Errorf("Selector = %q, want %q", got, inline.DefaultSelector)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inlinelogo.hcl")
	if err := os.WriteFile(path, []byte(`selector = "#brand img"`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	site, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := site.Inliner.Options().Selector; got != "#brand img" {
		t.Errorf("Selector = %q", got)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.hcl")); err == nil {
		t.Error("Load() accepted a missing file")
	}
}

func TestInlineHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		_, _ = io.WriteString(w, `<svg width="10" height="20"/>`)
	}))
	defer srv.Close()

	site, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	base, _ := url.Parse(srv.URL)

	var out bytes.Buffer
	page := `<html><body><div class="site-logo"><img src="/a.svg"></div></body></html>`
	report, err := site.InlineHTML(context.Background(), &out, strings.NewReader(page), base)
	if err != nil {
		t.Fatalf("InlineHTML() error: %v", err)
	}
	if report.Count(inline.Replaced) != 1 {
		t.Fatalf("report = %s", report)
	}
	if !strings.Contains(out.String(), `viewBox="0 0 20 10"`) {
		t.Errorf("output = %s", out.String())
	}
}
