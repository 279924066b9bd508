package services

import (
	"fmt"
	"html"
)

// Helpers for Telegram's HTML parse mode. Every argument is escaped.

func FormatBold(text string) string {
	return fmt.Sprintf("<b>%s</b>", html.EscapeString(text))
}

func FormatItalic(text string) string {
	return fmt.Sprintf("<i>%s</i>", html.EscapeString(text))
}

func FormatInlineCode(text string) string {
	return fmt.Sprintf("<code>%s</code>", html.EscapeString(text))
}

func FormatLink(text, url string) string {
	return fmt.Sprintf("<a href=\"%s\">%s</a>", html.EscapeString(url), html.EscapeString(text))
}

// FormatHandleLink links an @handle to its t.me profile.
func FormatHandleLink(handle string) string {
	name := handle
	if len(name) > 0 && name[0] == '@' {
		name = name[1:]
	}
	return FormatLink("@"+name, "https://t.me/"+name)
}
