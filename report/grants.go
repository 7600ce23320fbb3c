package report

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"slices"
	"time"

	"github.com/grantkeeper/grantkeeper/internal/rbac"
)

//go:embed templates/grant_report.html
var templates embed.FS

// PDFClient exposes the subset of the Gotenberg client used by the renderer.
type PDFClient interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// GrantReport is the data behind one rendered grant report.
type GrantReport struct {
	Title       string
	GeneratedAt time.Time
	Subjects    []rbac.SubjectPermissions
}

// Result carries both the intermediate HTML and the final PDF.
type Result struct {
	HTML string
	PDF  []byte
}

// Renderer turns a GrantReport into PDF bytes.
type Renderer struct {
	tpl    *template.Template
	client PDFClient
}

// NewRenderer parses the embedded template and wires the PDF client.
func NewRenderer(client PDFClient) (*Renderer, error) {
	if client == nil {
		return nil, errors.New("report renderer: pdf client required")
	}
	funcMap := template.FuncMap{
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.UTC().Format("02 Jan 2006 15:04 MST")
		},
		"actions": rbac.AllActions,
		"has": func(held []rbac.Action, a rbac.Action) bool {
			return slices.Contains(held, a)
		},
	}
	tpl, err := template.New("grant_report.html").Funcs(funcMap).ParseFS(templates, "templates/grant_report.html")
	if err != nil {
		return nil, err
	}
	return &Renderer{tpl: tpl, client: client}, nil
}

// HTML executes the template only.
func (r *Renderer) HTML(data GrantReport) (string, error) {
	if data.Title == "" {
		data.Title = "Grant report"
	}
	buf := &bytes.Buffer{}
	if err := r.tpl.Execute(buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Render executes the template and converts the HTML to PDF.
func (r *Renderer) Render(ctx context.Context, data GrantReport) (Result, error) {
	if r == nil || r.tpl == nil || r.client == nil {
		return Result{}, errors.New("report renderer not initialised")
	}
	html, err := r.HTML(data)
	if err != nil {
		return Result{}, err
	}
	pdf, err := r.client.RenderHTML(ctx, html)
	if err != nil {
		return Result{}, err
	}
	return Result{HTML: html, PDF: pdf}, nil
}
