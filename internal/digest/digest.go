// Package digest composes the message that replaces an archived thread.
package digest

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/altafino/thread-archiver/internal/extract"
	"github.com/altafino/thread-archiver/internal/models"
	"github.com/altafino/thread-archiver/internal/state"
)

// SourceMarker prefixes the original thread id in every digest text body.
const SourceMarker = "archiver-source:"

const ellipsis = "..."

// SourceToken is the searchable token tying a digest to its original thread.
func SourceToken(itemID string) string {
	return SourceMarker + itemID
}

type Composer struct {
	SubjectPrefix    string
	MaxSubjectLength int
	Labels           state.Labels

	html *template.Template
}

func NewComposer(subjectPrefix string, maxSubjectLength int, labels state.Labels) *Composer {
	return &Composer{
		SubjectPrefix:    subjectPrefix,
		MaxSubjectLength: maxSubjectLength,
		Labels:           labels,
		html:             template.Must(template.New("digest").Parse(htmlTemplate)),
	}
}

type htmlFile struct {
	Name      string
	Size      string
	Link      template.URL
	Duplicate bool
}

type htmlMessage struct {
	extract.Content
	Body template.HTML
}

type htmlData struct {
	Subject  string
	Files    []htmlFile
	Messages []htmlMessage
	Source   string
	TestMode bool
}

// Compose builds the digest. Files keep upload order; contents are expected
// in chronological order.
func (c *Composer) Compose(item models.WorkItem, contents []extract.Content, files []models.ArchivedFile, testMode bool) (models.DigestArtifact, error) {
	original := item.Subject
	if original == "" && len(contents) > 0 {
		original = contents[0].Subject
	}

	art := models.DigestArtifact{
		Subject:      c.Subject(original),
		Files:        append([]models.ArchivedFile(nil), files...),
		Labels:       c.carriedLabels(item),
		SourceItemID: item.ID,
		TestMode:     testMode,
	}

	data := htmlData{
		Subject:  original,
		Source:   SourceToken(item.ID),
		TestMode: testMode,
	}
	for _, f := range files {
		data.Files = append(data.Files, htmlFile{
			Name:      f.Name,
			Size:      extract.FormatSize(f.Size),
			Link:      template.URL(f.Link),
			Duplicate: f.Duplicate,
		})
	}
	for _, m := range contents {
		data.Messages = append(data.Messages, htmlMessage{Content: m, Body: messageHTML(m)})
	}

	var buf bytes.Buffer
	if err := c.html.Execute(&buf, data); err != nil {
		return models.DigestArtifact{}, fmt.Errorf("failed to render digest for %s: %w", item.ID, err)
	}
	art.HTMLBody = buf.String()
	art.TextBody = c.text(original, item.ID, contents, files, testMode)
	return art, nil
}

// Subject prefixes the original subject and caps the result in runes.
func (c *Composer) Subject(original string) string {
	s := c.SubjectPrefix + strings.TrimSpace(original)
	if c.MaxSubjectLength <= 0 || utf8.RuneCountInString(s) <= c.MaxSubjectLength {
		return s
	}
	keep := c.MaxSubjectLength - len(ellipsis)
	if keep < 0 {
		keep = 0
	}
	return string([]rune(s)[:keep]) + ellipsis
}

func (c *Composer) carriedLabels(item models.WorkItem) []string {
	var out []string
	for _, l := range item.Labels {
		if l.System || c.Labels.Owns(l.Name) {
			continue
		}
		out = append(out, l.Name)
	}
	return out
}

// messageHTML keeps the sender's HTML when present and escapes plain text
// otherwise. Sender HTML is reparsed so a body cut inside a tag or with
// open elements stays confined to its own block.
func messageHTML(m extract.Content) template.HTML {
	if strings.TrimSpace(m.HTML) != "" {
		if balanced, err := balanceHTML(m.HTML); err == nil {
			return template.HTML(balanced)
		}
		if m.Plain == "" {
			return template.HTML("<pre>" + template.HTMLEscapeString(m.HTML) + "</pre>")
		}
	}
	return template.HTML("<pre>" + template.HTMLEscapeString(m.Plain) + "</pre>")
}

// balanceHTML parses s as body content and renders it back with every
// element closed. A tag left unfinished at the end of s is dropped.
func balanceHTML(s string) (string, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(s), body)
	if err != nil {
		return "", fmt.Errorf("failed to parse message html: %w", err)
	}
	var b strings.Builder
	for _, n := range nodes {
		if err := html.Render(&b, n); err != nil {
			return "", fmt.Errorf("failed to render message html: %w", err)
		}
	}
	return b.String(), nil
}

func (c *Composer) text(subject, itemID string, contents []extract.Content, files []models.ArchivedFile, testMode bool) string {
	var b strings.Builder
	if testMode {
		b.WriteString("[TEST RUN]\n\n")
	}
	fmt.Fprintf(&b, "Archived thread: %s\n\n", subject)

	if len(files) > 0 {
		b.WriteString("Attachments:\n")
		for _, f := range files {
			fmt.Fprintf(&b, "- %s (%s): %s\n", f.Name, extract.FormatSize(f.Size), f.Link)
		}
		b.WriteString("\n")
	}

	for _, m := range contents {
		b.WriteString("----------------------------------------\n")
		fmt.Fprintf(&b, "From: %s\n", m.From)
		if m.To != "" {
			fmt.Fprintf(&b, "To: %s\n", m.To)
		}
		if m.Cc != "" {
			fmt.Fprintf(&b, "Cc: %s\n", m.Cc)
		}
		if m.Date != "" {
			fmt.Fprintf(&b, "Date: %s\n", m.Date)
		}
		fmt.Fprintf(&b, "Subject: %s\n\n", m.Subject)
		b.WriteString(m.Plain)
		b.WriteString("\n\n")
	}

	b.WriteString(SourceToken(itemID))
	b.WriteString("\n")
	return b.String()
}

const htmlTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
{{- if .TestMode}}
<p style="color:#b00;"><strong>Test run</strong></p>
{{- end}}
<h2>Archived thread: {{.Subject}}</h2>
{{- if .Files}}
<h3>Attachments</h3>
<ul>
{{- range .Files}}
<li><a href="{{.Link}}">{{.Name}}</a> ({{.Size}}){{if .Duplicate}} <em>already archived</em>{{end}}</li>
{{- end}}
</ul>
{{- end}}
{{- range .Messages}}
<hr>
<p>
<strong>From:</strong> {{.From}}<br>
{{- if .To}}<strong>To:</strong> {{.To}}<br>{{end}}
{{- if .Cc}}<strong>Cc:</strong> {{.Cc}}<br>{{end}}
{{- if .Date}}<strong>Date:</strong> {{.Date}}<br>{{end}}
<strong>Subject:</strong> {{.Subject}}
</p>
<div>{{.Body}}</div>
{{- end}}
<p style="color:#888;font-size:small;">{{.Source}}</p>
</body>
</html>
`
