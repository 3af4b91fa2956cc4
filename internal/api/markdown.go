package api

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// md renders assistant replies. Raw HTML in the model output is
// escaped; goldmark only emits it with html.WithUnsafe.
var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// renderMarkdown converts a reply to an HTML fragment. On failure it
// returns "" and the caller falls back to the plain content.
func renderMarkdown(src string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return ""
	}
	return buf.String()
}
