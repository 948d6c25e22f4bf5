package format

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSource(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "attributes aligned",
			input:    "selector = \".site-logo img\"\nmarker_class = \"replaced-svg\"\n",
			expected: "selector     = \".site-logo img\"\nmarker_class = \"replaced-svg\"\n",
		},
		{
			name:     "block body indented",
			input:    "fetch {\ntimeout=\"3s\"\n}\n",
			expected: "fetch {\n  timeout = \"3s\"\n}\n",
		},
		{
			name:     "runs of blank lines collapsed",
			input:    "selector = \"img\"\n\n\n\n\nbase_url = \"https://example.com\"\n",
			expected: "selector = \"img\"\n\nbase_url = \"https://example.com\"\n",
		},
		{
			name:     "blank lines inside braces removed",
			input:    "serve {\n\n  listen = \":8080\"\n\n}\n",
			expected: "serve {\n  listen = \":8080\"\n}\n",
		},
		{
			name:     "already formatted stays same",
			input:    "fetch {\n  timeout = \"3s\"\n}\n",
			expected: "fetch {\n  timeout = \"3s\"\n}\n",
		},
		{
			name:     "empty content",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Source([]byte(tt.input), "test.hcl")
			if err != nil {
				t.Fatalf("Source() error = %v", err)
			}
			if string(got) != tt.expected {
				t.Errorf("Source() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSourceRejectsInvalidHCL(t *testing.T) {
	if _, err := Source([]byte(`fetch { timeout = "3s"`), "broken.hcl"); err == nil {
		t.Error("Source() accepted unterminated block")
	}
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inlinelogo.hcl")
	if err := os.WriteFile(path, []byte("fetch {\ntimeout=\"3s\"\n}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	changed, err := File(path, false)
	if err != nil {
		t.Fatalf("File(check) error: %v", err)
	}
	if !changed {
		t.Error("File(check) = false for unformatted file")
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "  timeout") {
		t.Error("check mode rewrote the file")
	}

	changed, err = File(path, true)
	if err != nil || !changed {
		t.Fatalf("File(write) = %v, %v; want true, nil", changed, err)
	}
	changed, err = File(path, true)
	if err != nil || changed {
		t.Errorf("second File(write) = %v, %v; want false, nil", changed, err)
	}
}
