// Package notify renders user notifications from markdown templates and hands
// them to a delivery backend.
package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Kind names a notification template
type Kind string

const (
	KindPasswordRecovery Kind = "password_recovery"
	KindPasswordChanged  Kind = "password_changed"
)

// Notification is a rendered message addressed to one user
type Notification struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Text      string    `json:"text"`
	HTML      string    `json:"html"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notifier delivers notifications
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
	Close() error
}

// Data is the template context
type Data struct {
	AppName     string
	AppURL      string
	UserName    string
	Username    string
	RecoveryURL string
	ExpiresAt   string
}

//go:embed templates/*.md
var templateFS embed.FS

// Renderer turns markdown templates into notifications
type Renderer struct {
	templates *template.Template
	markdown  goldmark.Markdown
}

// escapable is the ASCII punctuation markdown lets a backslash escape
const escapable = "\\`*_{}[]()<>#+-.!|~&\"'$%,/:;=?@^"

var escaped = regexp.MustCompile(`\\([[:punct:]])`)

// escapeMarkdown makes s render as literal text on a single line
func escapeMarkdown(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(escapable, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NewRenderer parses the embedded templates
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("notify").
		Option("missingkey=error").
		Funcs(template.FuncMap{"md": escapeMarkdown}).
		ParseFS(templateFS, "templates/*.md")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return &Renderer{templates: tmpl, markdown: goldmark.New()}, nil
}

// Render builds the notification of the given kind for recipient
func (r *Renderer) Render(kind Kind, to string, data Data) (*Notification, error) {
	var source bytes.Buffer
	if err := r.templates.ExecuteTemplate(&source, string(kind)+".md", data); err != nil {
		return nil, fmt.Errorf("failed to execute template %s: %w", kind, err)
	}

	var html bytes.Buffer
	if err := r.markdown.Convert(source.Bytes(), &html); err != nil {
		return nil, fmt.Errorf("failed to render markdown: %w", err)
	}

	return &Notification{
		ID:        uuid.New().String(),
		Kind:      kind,
		To:        to,
		Subject:   r.subject(source.Bytes()),
		Text:      source.String(),
		HTML:      html.String(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// subject returns the text of the first level one heading
func (r *Renderer) subject(source []byte) string {
	doc := r.markdown.Parser().Parse(text.NewReader(source))

	var subject string
	_ = ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := node.(*ast.Heading)
		if !ok || heading.Level != 1 {
			return ast.WalkContinue, nil
		}
		var b strings.Builder
		lines := heading.Lines()
		for i := 0; i < lines.Len(); i++ {
			segment := lines.At(i)
			b.Write(segment.Value(source))
		}
		subject = escaped.ReplaceAllString(strings.TrimSpace(b.String()), "$1")
		return ast.WalkStop, nil
	})
	return subject
}
