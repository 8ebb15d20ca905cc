/*
Package docview derives the per-file views the editor shows from a room's single HTML
document: the document itself, its embedded stylesheets and its inline scripts.
The views are presentation only and are never synchronized.
*/
package docview

import (
	"regexp"
	"strings"
)

var (
	styleBlock  = regexp.MustCompile(`(?is)<style\b[^>]*>(.*?)</style\s*>`)
	scriptBlock = regexp.MustCompile(`(?is)<script\b[^>]*>(.*?)</script\s*>`)
)

// Views are the file tabs derived from one document.
type Views struct {
	HTML string `json:"html"`
	CSS  string `json:"css"`
	JS   string `json:"js"`
}

// Extract splits content into its views. Multiple blocks of the same kind are joined by
// a blank line; empty blocks, such as scripts loaded by src, are skipped.
func Extract(content string) Views {
	return Views{
		HTML: content,
		CSS:  collect(styleBlock, content),
		JS:   collect(scriptBlock, content),
	}
}

func collect(re *regexp.Regexp, content string) string {
	var parts []string
	for _, m := range re.FindAllStringSubmatch(content, -1) {
		if body := strings.TrimSpace(m[1]); body != "" {
			parts = append(parts, body)
		}
	}
	return strings.Join(parts, "\n\n")
}
