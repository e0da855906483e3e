package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtract_PlainText(t *testing.T) {
	e := NewExtractor(nil)
	path := writeTestFile(t, "notes.txt", "The quick brown fox.")

	text, err := e.Extract(context.Background(), path, ".txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "The quick brown fox." {
		t.Errorf("expected verbatim text, got %q", text)
	}
}

func TestExtract_Markdown(t *testing.T) {
	e := NewExtractor(nil)
	path := writeTestFile(t, "readme.md", "# Title\n\nBody text.")

	text, err := e.Extract(context.Background(), path, ".md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, "# Title") {
		t.Errorf("markdown should be read verbatim, got %q", text)
	}
}

func TestExtract_JSON_PrettyPrinted(t *testing.T) {
	e := NewExtractor(nil)
	path := writeTestFile(t, "data.json", `{"b":2,"a":{"nested":true}}`)

	text, err := e.Extract(context.Background(), path, ".json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, "  ") {
		t.Errorf("expected pretty-printed JSON, got %q", text)
	}
	if !strings.Contains(text, `"nested": true`) {
		t.Errorf("expected re-serialized content, got %q", text)
	}
}

func TestExtract_JSON_Invalid(t *testing.T) {
	e := NewExtractor(nil)
	path := writeTestFile(t, "bad.json", `{not json`)

	_, err := e.Extract(context.Background(), path, ".json")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Errorf("expected *ExtractionError, got %T", err)
	}
}

func TestExtract_HTML_StripsTags(t *testing.T) {
	e := NewExtractor(nil)
	html := `<html><head><style>body{color:red}</style></head>` +
		`<body><h1>Hello</h1><p>World &amp; friends</p><script>alert(1)</script></body></html>`
	path := writeTestFile(t, "page.html", html)

	text, err := e.Extract(context.Background(), path, ".html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Hello World & friends" {
		t.Errorf("expected stripped text, got %q", text)
	}
}

func TestExtract_UnknownExtension_TreatedAsText(t *testing.T) {
	e := NewExtractor(nil)
	path := writeTestFile(t, "notes.log", "log line one")

	text, err := e.Extract(context.Background(), path, ".log")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "log line one" {
		t.Errorf("expected verbatim read, got %q", text)
	}
}

func TestExtract_UnsupportedOffice_Placeholder(t *testing.T) {
	e := NewExtractor(nil)
	path := writeTestFile(t, "legacy.doc", "binary junk")

	text, err := e.Extract(context.Background(), path, ".doc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, "Unsupported office format") {
		t.Errorf("expected placeholder, got %q", text)
	}
}

func TestExtract_MissingFile(t *testing.T) {
	e := NewExtractor(nil)
	_, err := e.Extract(context.Background(), "/nonexistent/file.txt", ".txt")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
