package inline

import (
	"fmt"

	"github.com/jsvensson/inlinelogo/internal/dom"
	"golang.org/x/net/html"
)

// Outcome is what happened to one matched image.
type Outcome string

const (
	Replaced    Outcome = "replaced"
	FetchFailed Outcome = "fetch_failed"
	NoSVG       Outcome = "no_svg"
	Skipped     Outcome = "skipped"
)

// Result describes one matched image.
type Result struct {
	Src     string
	Outcome Outcome
	Err     error
}

// Report summarises one Attach call. Results are in document order.
type Report struct {
	Matched int
	Results []Result
}

// Count returns how many images ended with outcome o.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Failed reports whether any image was left in place.
func (r Report) Failed() bool {
	return r.Count(Replaced) != len(r.Results)
}

func (r Report) String() string {
	return fmt.Sprintf("%d matched, %d replaced, %d fetch failed, %d without svg, %d skipped",
		r.Matched, r.Count(Replaced), r.Count(FetchFailed), r.Count(NoSVG), r.Count(Skipped))
}

// ViewBoxOrder decides the operand order of a synthesized viewBox.
type ViewBoxOrder int

const (
	// HeightWidth writes "0 0 <height> <width>". Existing stylesheets are
	// written against this order, so it is the default.
	HeightWidth ViewBoxOrder = iota
	// WidthHeight writes the SVG-conventional "0 0 <width> <height>".
	WidthHeight
)

// ParseViewBoxOrder accepts "height-width" and "width-height".
func ParseViewBoxOrder(s string) (ViewBoxOrder, error) {
	switch s {
	case "height-width", "":
		return HeightWidth, nil
	case "width-height":
		return WidthHeight, nil
	}
	return 0, fmt.Errorf("invalid viewBox order %q (valid: height-width, width-height)", s)
}

func (o ViewBoxOrder) String() string {
	if o == WidthHeight {
		return "width-height"
	}
	return "height-width"
}

// viewBox returns the value to synthesize for svg, if any. Empty attribute
// values count as missing.
func (o ViewBoxOrder) viewBox(svg *html.Node) (string, bool) {
	if vb, _ := dom.Attr(svg, "viewBox"); vb != "" {
		return "", false
	}
	h, _ := dom.Attr(svg, "height")
	w, _ := dom.Attr(svg, "width")
	if h == "" || w == "" {
		return "", false
	}
	if o == WidthHeight {
		return "0 0 " + w + " " + h, true
	}
	return "0 0 " + h + " " + w, true
}
