package channels

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/outputs/email"
)

const itemTemplate = `<!doctype html>
<html><body style="font-family: sans-serif">
<h2>New marketplace listing</h2>
{{- if .Item.ImageURL }}
<p><img src="{{ .Item.ImageURL }}" alt="{{ .Item.Title }}" style="max-width: 480px"></p>
{{- end }}
<h3>{{ .Item.Title }}</h3>
<p><strong>{{ .Item.Price }}</strong>{{ if .Item.Location }} &middot; {{ .Item.Location }}{{ end }}</p>
{{- if .Description }}
<div>{{ .Description }}</div>
{{- end }}
{{- if .Item.Term }}
<p style="color: #666">Matched search: {{ .Item.Term }}</p>
{{- end }}
<p><a href="{{ .Item.URL }}">View listing</a></p>
</body></html>
`

// Email sends each listing as its own HTML message. Descriptions are treated
// as markdown.
type Email struct {
	sender    email.Sender
	from      string
	to        string
	tmpl      *template.Template
	converter goldmark.Markdown
}

func NewEmail(sender email.Sender, from, to string) (*Email, error) {
	if sender == nil {
		return nil, fmt.Errorf("email sender is required")
	}
	if strings.TrimSpace(to) == "" {
		return nil, fmt.Errorf("email recipient is required")
	}
	tmpl, err := template.New("item").Parse(itemTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse email template failed: %w", err)
	}
	return &Email{
		sender:    sender,
		from:      from,
		to:        to,
		tmpl:      tmpl,
		converter: goldmark.New(goldmark.WithExtensions(extension.Linkify, extension.Strikethrough)),
	}, nil
}

func (e *Email) Name() string { return "email" }

func (e *Email) SendItem(ctx context.Context, item core.Item) error {
	body, err := e.renderItem(item)
	if err != nil {
		return err
	}
	return e.sender.Send(ctx, email.Message{
		From:      e.from,
		To:        e.to,
		Subject:   itemSubject(item),
		HTMLBody:  body,
		TextBody:  plainItem(item),
		ListingID: item.ID,
	})
}

func (e *Email) SendStatus(ctx context.Context, text string) error {
	return e.sender.Send(ctx, email.Message{
		From:     e.from,
		To:       e.to,
		Subject:  "Marketplace monitor status",
		HTMLBody: "<pre>" + template.HTMLEscapeString(text) + "</pre>",
		TextBody: text,
	})
}

func (e *Email) renderItem(item core.Item) (string, error) {
	var desc template.HTML
	if d := strings.TrimSpace(item.Description); d != "" {
		var buf bytes.Buffer
		// Raw HTML in the source is escaped by goldmark's default renderer.
		if err := e.converter.Convert([]byte(d), &buf); err != nil {
			return "", fmt.Errorf("render description failed: %w", err)
		}
		desc = template.HTML(buf.String())
	}

	var out strings.Builder
	data := struct {
		Item        core.Item
		Description template.HTML
	}{Item: item, Description: desc}
	if err := e.tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("execute email template failed: %w", err)
	}
	return out.String(), nil
}

func itemSubject(item core.Item) string {
	subject := "New listing: " + item.Title
	if item.Price != "" {
		subject += " (" + item.Price + ")"
	}
	return subject
}

// plainItem mirrors the Telegram layout without markup.
func plainItem(item core.Item) string {
	lines := []string{
		"New Marketplace Listing!",
		"",
		"Title: " + item.Title,
		"Price: " + item.Price,
		"Location: " + item.Location,
	}
	if d := strings.TrimSpace(item.Description); d != "" {
		lines = append(lines, "Description: "+truncateRunes(d, DescriptionLimit))
	}
	lines = append(lines, "", item.URL)
	return strings.Join(lines, "\n")
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
