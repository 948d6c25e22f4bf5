// Package inline replaces logo <img> elements with the SVG markup they
// point at, so the logo's paint can be styled from CSS.
package inline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/tliron/commonlog"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"

	"github.com/jsvensson/inlinelogo/internal/dom"
	"github.com/jsvensson/inlinelogo/internal/fetch"
	"github.com/jsvensson/inlinelogo/internal/svgdoc"
)

const (
	DefaultSelector    = ".site-logo img"
	DefaultMarkerClass = "replaced-svg"
)

// DefaultStripAttributes lists attributes removed from every inlined svg.
// xmlns:a is left behind by some SVG exporters and fails HTML validation.
var DefaultStripAttributes = []string{"xmlns:a"}

var (
	// ErrNoSource is reported for a matched image without a usable src.
	ErrNoSource = errors.New("image has no src")
	// ErrNoSVG is reported when the fetched document has no svg element.
	ErrNoSVG = errors.New("no svg element in response")
)

var log = commonlog.GetLogger("inlinelogo.inline")

// Fetcher retrieves the payload behind an image URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) fetch.Result
}

// Observer is told about every processed image. Observe may be called from
// several goroutines at once.
type Observer interface {
	Observe(outcome Outcome, fetchDuration time.Duration)
}

// Options controls what counts as a logo and how the svg is prepared.
type Options struct {
	Selector        string
	MarkerClass     string
	ViewBoxOrder    ViewBoxOrder
	StripAttributes []string
	// MaxConcurrency bounds in-flight fetches; 0 means no bound.
	MaxConcurrency int
}

// DefaultOptions mirrors the stock theme behaviour.
func DefaultOptions() Options {
	return Options{
		Selector:        DefaultSelector,
		MarkerClass:     DefaultMarkerClass,
		ViewBoxOrder:    HeightWidth,
		StripAttributes: append([]string(nil), DefaultStripAttributes...),
		MaxConcurrency:  4,
	}
}

// Inliner finds logo images in a tree and inlines their SVGs.
type Inliner struct {
	opts     Options
	sel      cascadia.Selector
	fetcher  Fetcher
	observer Observer
}

// Option configures an Inliner.
type Option func(*Inliner)

// WithObserver registers o to receive per-image outcomes.
func WithObserver(o Observer) Option {
	return func(in *Inliner) { in.observer = o }
}

// New compiles the selector in opts and returns an Inliner that fetches
// through f.
func New(opts Options, f Fetcher, options ...Option) (*Inliner, error) {
	sel, err := cascadia.Compile(opts.Selector)
	if err != nil {
		return nil, fmt.Errorf("compiling selector %q: %w", opts.Selector, err)
	}
	in := &Inliner{opts: opts, sel: sel, fetcher: f}
	for _, o := range options {
		o(in)
	}
	return in, nil
}

// Options returns the options the Inliner was built with.
func (in *Inliner) Options() Options { return in.opts }

// job is one matched image on its way through the pipeline.
type job struct {
	img   *html.Node
	src   string
	url   string
	doc   *svgdoc.Document
	res   Result
	took  time.Duration
	ready bool
}

// Attach processes every logo image under root (root included). Relative
// src values are resolved against the document's <base href> when it has
// one, otherwise against base when it is non-nil.
//
// Fetches run concurrently, but the tree is only mutated on the calling
// goroutine once all fetches have settled, in document order. Images whose
// fetch fails, or whose payload has no svg, stay as they are. Nothing is
// returned as an error: the Report says what happened to each image.
func (in *Inliner) Attach(ctx context.Context, root *html.Node, base *url.URL) Report {
	jobs := in.discover(root, base)
	report := Report{Matched: len(jobs)}
	if len(jobs) == 0 {
		return report
	}

	var g errgroup.Group
	if in.opts.MaxConcurrency > 0 {
		g.SetLimit(in.opts.MaxConcurrency)
	}
	for _, j := range jobs {
		if j.res.Outcome == Skipped {
			continue
		}
		g.Go(func() error {
			in.load(ctx, j)
			return nil
		})
	}
	_ = g.Wait()

	for _, j := range jobs {
		if j.ready {
			in.replace(j)
		}
		in.logResult(j.res)
		report.Results = append(report.Results, j.res)
	}
	return report
}

func (in *Inliner) discover(root *html.Node, base *url.URL) []*job {
	base = documentBase(root, base)
	var jobs []*job
	for _, n := range in.sel.MatchAll(root) {
		if !isImage(n) {
			continue
		}
		j := &job{img: n}
		src, _ := dom.Attr(n, "src")
		j.src = strings.TrimSpace(src)
		j.res.Src = j.src

		u, err := resolve(j.src, base)
		if err != nil {
			j.res.Outcome = Skipped
			j.res.Err = err
			in.observe(Skipped, 0)
		} else {
			j.url = u
		}
		jobs = append(jobs, j)
	}
	return jobs
}

// isImage restricts matches to HTML img elements, so a selector broad
// enough to also match an inlined svg never processes it again.
func isImage(n *html.Node) bool {
	return n.Type == html.ElementNode && n.DataAtom == atom.Img && n.Namespace == ""
}

var baseSel = cascadia.MustCompile("base[href]")

// documentBase returns the URL relative sources resolve against: the first
// <base href> of root's document, itself resolved against pageURL, or
// pageURL when there is none.
func documentBase(root *html.Node, pageURL *url.URL) *url.URL {
	top := root
	for top.Parent != nil {
		top = top.Parent
	}
	n := baseSel.MatchFirst(top)
	if n == nil {
		return pageURL
	}
	href, _ := dom.Attr(n, "href")
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		log.Noticef("ignoring <base href=%q>: %v", href, err)
		return pageURL
	}
	if pageURL != nil {
		u = pageURL.ResolveReference(u)
	}
	if !u.IsAbs() {
		return pageURL
	}
	return u
}

func resolve(src string, base *url.URL) (string, error) {
	if src == "" {
		return "", ErrNoSource
	}
	u, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("parsing src %q: %w", src, err)
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("%w: relative src %q and no base URL", ErrNoSource, src)
	}
	return u.String(), nil
}

// load fetches and parses one image's payload. It never touches the tree.
func (in *Inliner) load(ctx context.Context, j *job) {
	fr := in.fetcher.Fetch(ctx, j.url)
	if !fr.OK() {
		j.res.Outcome = FetchFailed
		j.res.Err = fr.Err
		in.observe(FetchFailed, fr.Duration)
		return
	}

	doc, err := svgdoc.Parse(fr.Body, fr.ContentType)
	if err != nil {
		j.res.Outcome = NoSVG
		j.res.Err = err
		in.observe(NoSVG, fr.Duration)
		return
	}
	if doc.SVG() == nil {
		j.res.Outcome = NoSVG
		j.res.Err = ErrNoSVG
		in.observe(NoSVG, fr.Duration)
		return
	}

	j.doc = doc
	j.took = fr.Duration
	j.ready = true
}

func (in *Inliner) replace(j *job) {
	svg := j.doc.SVG()
	in.Transform(j.img, svg, j.doc.Title())
	if err := dom.ReplaceWith(j.img, svg); err != nil {
		// The image was detached from the tree by someone else; there is
		// nothing left to replace.
		j.res.Outcome = Skipped
		j.res.Err = err
		in.observe(Skipped, j.took)
		return
	}
	j.res.Outcome = Replaced
	in.observe(Replaced, j.took)
}

// Transform copies the identifying attributes of img onto svg and title and
// normalises svg for inline use. title may be nil.
func (in *Inliner) Transform(img, svg, title *html.Node) {
	if id, ok := dom.Attr(img, "id"); ok {
		dom.SetAttr(svg, "id", id)
	}
	if alt, ok := dom.Attr(img, "alt"); ok && title != nil {
		dom.SetText(title, alt)
	}
	if class, ok := dom.Attr(img, "class"); ok {
		dom.SetAttr(svg, "class", joinClass(class, in.opts.MarkerClass))
	}
	for _, key := range in.opts.StripAttributes {
		dom.RemoveAttr(svg, key)
	}
	if vb, ok := in.opts.ViewBoxOrder.viewBox(svg); ok {
		dom.SetAttr(svg, "viewBox", vb)
	}
}

func joinClass(class, marker string) string {
	if marker == "" {
		return class
	}
	return class + " " + marker
}

func (in *Inliner) observe(o Outcome, d time.Duration) {
	if in.observer != nil {
		in.observer.Observe(o, d)
	}
}

func (in *Inliner) logResult(r Result) {
	switch r.Outcome {
	case Replaced:
		log.Infof("inlined logo %s", r.Src)
	case FetchFailed:
		log.Warningf("leaving logo %s in place: %v", r.Src, r.Err)
	case NoSVG:
		if errors.Is(r.Err, svgdoc.ErrMalformed) {
			log.Warningf("leaving logo %s in place: %v", r.Src, r.Err)
		} else {
			log.Noticef("leaving logo %s in place: %v", r.Src, r.Err)
		}
	case Skipped:
		log.Noticef("skipping logo image: %v", r.Err)
	}
}
