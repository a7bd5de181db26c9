package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/yuin/goldmark"
)

// WriteText writes plain text, pages separated by a form feed.
func WriteText(w io.Writer, pages []Page) error {
	for i, p := range pages {
		if i > 0 {
			if _, err := io.WriteString(w, "\f\n"); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, p.Text()+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// WriteMarkdown writes a Markdown document with a per-page section.
func WriteMarkdown(w io.Writer, title string, pages []Page) error {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "# %s\n\n", title)
	}
	for _, p := range pages {
		fmt.Fprintf(&b, "## Page %d\n\n", p.Index+1)
		text := p.Text()
		if text == "" {
			b.WriteString("*(no text)*\n\n")
			continue
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// HTMLPreview renders the Markdown form to HTML.
func HTMLPreview(title string, pages []Page) ([]byte, error) {
	var md strings.Builder
	if err := WriteMarkdown(&md, title, pages); err != nil {
		return nil, err
	}
	var out strings.Builder
	if err := goldmark.Convert([]byte(md.String()), &out); err != nil {
		return nil, fmt.Errorf("render preview: %w", err)
	}
	return []byte(out.String()), nil
}
