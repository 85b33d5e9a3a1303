// ABOUTME: Landing page describing the token API, rendered from embedded markdown
// ABOUTME: Uses goldmark with GFM tables; example URLs use the request's host

package server

import (
	"bytes"
	_ "embed"
	"html/template"
	"net/http"
	texttemplate "text/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed usage.md
var usageMarkdown string

var (
	usageTemplate = texttemplate.Must(texttemplate.New("usage").Parse(usageMarkdown))
	markdown      = goldmark.New(goldmark.WithExtensions(extension.GFM))
	indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>ValueAPI</title>
  <style>
    body { font-family: system-ui, sans-serif; background: #f6f7f9; color: #1f2328; }
    main { max-width: 760px; margin: 3rem auto; background: #fff; padding: 2rem; border-radius: 6px; box-shadow: 0 1px 3px rgba(0,0,0,.15); }
    code, pre { background: #f6f8fa; border-radius: 4px; }
    code { padding: 1px 4px; }
    pre { padding: .75rem; overflow-x: auto; }
    table { border-collapse: collapse; width: 100%; }
    th, td { text-align: left; padding: .4rem; border-bottom: 1px solid #d8dee4; }
  </style>
</head>
<body><main>{{.}}</main></body>
</html>
`))
)

// handleIndex renders the usage page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	var md bytes.Buffer
	if err := usageTemplate.Execute(&md, struct{ BaseURL string }{scheme + "://" + r.Host}); err != nil {
		s.logger.Error("failed to expand usage page", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var body bytes.Buffer
	if err := markdown.Convert(md.Bytes(), &body); err != nil {
		s.logger.Error("failed to convert markdown", "error", err)
		body.Reset()
		body.WriteString("<p>Failed to render usage page.</p>")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, template.HTML(body.String())); err != nil {
		s.logger.Error("failed to render index", "error", err)
	}
}
