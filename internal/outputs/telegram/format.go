package telegram

import "strings"

// CaptionLimit is the longest caption Telegram accepts on a photo.
const CaptionLimit = 1024

var markdownV2Replacer = strings.NewReplacer(
	`\`, `\\`,
	`_`, `\_`, `*`, `\*`, `[`, `\[`, `]`, `\]`, `(`, `\(`, `)`, `\)`,
	`~`, `\~`, "`", "\\`", `>`, `\>`, `#`, `\#`, `+`, `\+`, `-`, `\-`,
	`=`, `\=`, `|`, `\|`, `{`, `\{`, `}`, `\}`, `.`, `\.`, `!`, `\!`,
)

// EscapeMarkdownV2 escapes text for use outside entities in a MarkdownV2
// message.
func EscapeMarkdownV2(text string) string {
	return markdownV2Replacer.Replace(text)
}

var linkURLReplacer = strings.NewReplacer(`\`, `\\`, `)`, `\)`)

// EscapeLinkURL escapes the URL part of an inline link, where only ")" and
// "\" are special.
func EscapeLinkURL(url string) string {
	return linkURLReplacer.Replace(url)
}

// Truncate shortens s to at most limit runes, appending "..." when cut.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
