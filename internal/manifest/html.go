package manifest

import (
	"strings"

	"golang.org/x/net/html"
)

// ExtractImageSources returns the src attribute of every img element in fragment, in
// document order. Empty sources are skipped.
func ExtractImageSources(fragment string) []string {
	if !strings.Contains(fragment, "<") {
		return nil
	}
	var sources []string
	tokenizer := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return sources
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := tokenizer.TagName()
			if string(name) != "img" || !hasAttr {
				continue
			}
			for {
				key, val, more := tokenizer.TagAttr()
				if string(key) == "src" {
					if src := strings.TrimSpace(string(val)); src != "" {
						sources = append(sources, src)
					}
					break
				}
				if !more {
					break
				}
			}
		}
	}
}
