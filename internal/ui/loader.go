// Package ui embeds the relay's single confirmation page.
package ui

import (
	"embed"
	"html/template"
	"io/fs"
	"path/filepath"
)

// LoopbackTemplate is the page rendered at the end of a loopback login.
const LoopbackTemplate = "loopback.html"

//go:embed templates/*.html
var templatesFS embed.FS

// LoadTemplates loads all HTML templates from embedded filesystem
func LoadTemplates() (*template.Template, error) {
	tmpl := template.New("")

	entries, err := fs.ReadDir(templatesFS, "templates")
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if filepath.Ext(name) != ".html" {
			continue
		}

		content, err := fs.ReadFile(templatesFS, "templates/"+name)
		if err != nil {
			return nil, err
		}

		if _, err := tmpl.New(name).Parse(string(content)); err != nil {
			return nil, err
		}
	}

	return tmpl, nil
}
