// Package readable reduces an HTML document to its main text.
package readable

import (
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"
)

// Article is the readable part of a page.
type Article struct {
	Title string
	Text  string
}

// FromHTML runs readability over html. maxChars <= 0 keeps the full text.
func FromHTML(html, pageURL string, maxChars int) (Article, bool, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		u = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return Article{}, false, err
	}
	text := strings.TrimSpace(article.TextContent)
	truncated := false
	if maxChars > 0 {
		if r := []rune(text); len(r) > maxChars {
			text = string(r[:maxChars])
			truncated = true
		}
	}
	return Article{Title: strings.TrimSpace(article.Title), Text: text}, truncated, nil
}
