package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

var subjects = map[Kind]string{
	KindWelcome:           "Welcome! Please verify your email",
	KindEmailVerification: "Verify your email address",
	KindPasswordReset:     "Reset your password",
}

type Rendered struct {
	Subject string
	HTML    string
}

type Renderer struct {
	templates map[Kind]*template.Template
}

func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[Kind]*template.Template, len(subjects))}
	for kind := range subjects {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+string(kind)+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", kind, err)
		}
		r.templates[kind] = tmpl
	}
	return r, nil
}

func (r *Renderer) Render(msg Message) (Rendered, error) {
	tmpl, ok := r.templates[msg.Kind]
	if !ok {
		return Rendered{}, fmt.Errorf("no template for %q", msg.Kind)
	}

	subject := subjects[msg.Kind]
	var buf bytes.Buffer
	err := tmpl.ExecuteTemplate(&buf, "layout", struct {
		Message
		Subject string
	}{msg, subject})
	if err != nil {
		return Rendered{}, fmt.Errorf("render %s: %w", msg.Kind, err)
	}
	return Rendered{Subject: subject, HTML: buf.String()}, nil
}
