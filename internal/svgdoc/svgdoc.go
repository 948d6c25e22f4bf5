// Package svgdoc turns a fetched SVG payload into nodes that can be spliced
// into an HTML tree.
package svgdoc

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"regexp"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

// ErrMalformed is returned when the payload is not well-formed XML.
var ErrMalformed = errors.New("malformed XML")

var (
	svgSel   = cascadia.MustCompile("svg")
	titleSel = cascadia.MustCompile("title")
)

// Document is a parsed SVG payload.
type Document struct {
	svg   *html.Node
	title *html.Node
}

// Parse decodes body, checks it is well-formed XML and parses it into an
// HTML fragment. contentType may carry a charset parameter.
func Parse(body []byte, contentType string) (*Document, error) {
	utf8Body, err := toUTF8(body, contentType)
	if err != nil {
		return nil, fmt.Errorf("decoding charset: %w", err)
	}

	entities, err := checkWellFormed(utf8Body)
	if err != nil {
		return nil, err
	}
	utf8Body = expandEntities(utf8Body, entities)

	context := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(bytes.NewReader(utf8Body), context)
	if err != nil {
		return nil, fmt.Errorf("parsing SVG markup: %w", err)
	}

	doc := &Document{}
	for _, n := range nodes {
		if m := svgSel.MatchFirst(n); m != nil {
			doc.svg = m
			break
		}
	}
	if doc.svg != nil {
		doc.title = firstDescendant(doc.svg, titleSel)
	}
	return doc, nil
}

// SVG returns the first svg element of the document, or nil.
func (d *Document) SVG() *html.Node { return d.svg }

// Title returns the first title element inside SVG(), or nil.
func (d *Document) Title() *html.Node { return d.title }

// firstDescendant is MatchFirst without considering n itself.
func firstDescendant(n *html.Node, sel cascadia.Selector) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if m := sel.MatchFirst(c); m != nil {
			return m
		}
	}
	return nil
}

// prologEncoding matches the encoding pseudo-attribute of an XML declaration.
var prologEncoding = regexp.MustCompile(`^\s*<\?xml[^>]*\sencoding\s*=\s*["']([A-Za-z0-9._-]+)["']`)

// toUTF8 transcodes body. A charset in contentType wins, then the XML
// prolog, then the HTML sniffing rules of the charset package.
func toUTF8(body []byte, contentType string) ([]byte, error) {
	var (
		r   io.Reader
		err error
	)
	if _, params, perr := mime.ParseMediaType(contentType); perr == nil && params["charset"] != "" {
		r, err = charset.NewReaderLabel(params["charset"], bytes.NewReader(body))
	} else if m := prologEncoding.FindSubmatch(body); m != nil {
		r, err = charset.NewReaderLabel(string(m[1]), bytes.NewReader(body))
	} else {
		r, err = charset.NewReader(bytes.NewReader(body), contentType)
	}
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// entityDecl matches internal entity declarations in a DOCTYPE, as written
// by illustration tools that alias their extension namespaces.
var entityDecl = regexp.MustCompile(`<!ENTITY\s+([^\s%]+)\s+(?:"([^"]*)"|'([^']*)')`)

// checkWellFormed runs the payload through a strict XML decoder and returns
// the internal entities the DOCTYPE declares. The body has already been
// transcoded to UTF-8, so the encoding declared in the prolog is not acted
// on again.
func checkWellFormed(body []byte) (map[string]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = passthroughCharset
	dec.Strict = true
	dec.Entity = make(map[string]string)

	sawElement := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			sawElement = true
		case xml.Directive:
			for _, m := range entityDecl.FindAllSubmatch(t, -1) {
				dec.Entity[string(m[1])] = string(m[2]) + string(m[3])
			}
		}
	}
	if !sawElement {
		return nil, fmt.Errorf("%w: no root element", ErrMalformed)
	}
	return dec.Entity, nil
}

// expandEntities substitutes internal entity references. The HTML parser
// only knows the HTML named references and would keep "&ns_svg;" as text.
func expandEntities(body []byte, entities map[string]string) []byte {
	if len(entities) == 0 {
		return body
	}
	pairs := make([]string, 0, 2*len(entities))
	for name, val := range entities {
		pairs = append(pairs, "&"+name+";", val)
	}
	return []byte(strings.NewReplacer(pairs...).Replace(string(body)))
}

func passthroughCharset(_ string, input io.Reader) (io.Reader, error) {
	return input, nil
}
