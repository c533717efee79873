// Package render turns generated notes (markdown) into exportable HTML and
// PDF documents.
package render

import (
	"bytes"
	"fmt"
	"html"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.Table, extension.Strikethrough, extension.Linkify),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
}

// HTMLFragment renders markdown to an HTML fragment. Raw HTML in the input is
// not passed through.
func HTMLFragment(markdown string) ([]byte, error) {
	var buf bytes.Buffer
	if err := newMarkdown().Convert([]byte(markdown), &buf); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.Bytes(), nil
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.6; color: #1f2328; }
pre, code { font-family: ui-monospace, Menlo, monospace; background: #f6f8fa; }
pre { padding: 0.75rem; overflow-x: auto; }
table { border-collapse: collapse; }
th, td { border: 1px solid #d0d7de; padding: 0.25rem 0.5rem; }
</style>
</head>
<body>
<h1>%s</h1>
%s</body>
</html>
`

// HTMLDocument renders markdown into a standalone HTML page headed by title.
func HTMLDocument(title, markdown string) ([]byte, error) {
	body, err := HTMLFragment(markdown)
	if err != nil {
		return nil, err
	}
	escaped := html.EscapeString(title)
	return fmt.Appendf(nil, pageTemplate, escaped, escaped, body), nil
}
