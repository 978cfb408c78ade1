// Package tghtml builds Telegram HTML-parse-mode text and splits it
// into message-sized chunks.
package tghtml

import (
	"fmt"
	"html"
	"strings"
)

// MaxMessageLen is Telegram's message size limit in bytes.
const MaxMessageLen = 4096

// H represents HTML that is safe to pass to Telegram when ParseMode="HTML".
// Values of type H should be treated as already-escaped.
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw marks a string as already-safe HTML. Use sparingly.
func Raw(s string) H { return H(s) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H { return wrap("b", Esc(s)) }
func I(s string) H { return wrap("i", Esc(s)) }

// Link builds an HTML link. html.EscapeString also escapes quotes, so the
// URL is safe inside the href attribute.
func Link(text, url string) H {
	return H(fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(url), html.EscapeString(text)))
}

// Chunk splits text into pieces of at most limit bytes, preferring to cut
// at the last newline before the limit. Telegram requires each chunk to
// carry balanced tags, so callers should compose messages out of
// single-line HTML elements.
func Chunk(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLen
	}
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= limit {
			chunks = append(chunks, text)
			break
		}
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimSpace(text[cut:])
	}
	return chunks
}
