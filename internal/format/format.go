// Package format rewrites inliner config files into canonical HCL layout.
package format

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
)

var (
	runsOfBlankLines  = regexp.MustCompile(`\n{3,}`)
	blankAfterOpening = regexp.MustCompile(`\{\n\s*\n`)
	blankBeforeClose  = regexp.MustCompile(`\n\s*\n(\s*\})`)
)

// Source returns src in canonical layout: hclwrite spacing and alignment,
// at most one blank line in a row, none just inside braces. Source that does
// not parse is rejected rather than half-formatted.
func Source(src []byte, filename string) ([]byte, error) {
	if _, diags := hclsyntax.ParseConfig(src, filename, hcl.Pos{Line: 1, Column: 1}); diags.HasErrors() {
		return nil, fmt.Errorf("parsing HCL: %s", diags.Error())
	}
	out := hclwrite.Format(src)
	out = runsOfBlankLines.ReplaceAll(out, []byte("\n\n"))
	out = blankAfterOpening.ReplaceAll(out, []byte("{\n"))
	out = blankBeforeClose.ReplaceAll(out, []byte("\n${1}"))
	return out, nil
}

// File formats the config at path. It reports whether the file was not
// already formatted, and rewrites it only when write is set.
func File(path string, write bool) (bool, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	out, err := Source(src, path)
	if err != nil {
		return false, fmt.Errorf("formatting %s: %w", path, err)
	}
	if bytes.Equal(src, out) {
		return false, nil
	}
	if write {
		if err := os.WriteFile(path, out, 0o644); err != nil {
			return true, fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return true, nil
}
