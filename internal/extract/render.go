package extract

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var renderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Render converts transformed markdown to sanitized chapter HTML.
func Render(src []byte) (string, error) {
	var buf bytes.Buffer
	if err := renderer.Convert(src, &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return Sanitize(buf.String()), nil
}

// Sanitize strips anything outside the user-content policy from HTML.
func Sanitize(html string) string {
	return policy.Sanitize(html)
}
