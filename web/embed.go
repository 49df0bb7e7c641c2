package web

import (
	"embed"
	"html/template"
	"io/fs"
)

// Templates embeds the page layout and HTMX partials.
//
//go:embed all:templates
var Templates embed.FS

// Assets embeds the static scripts and styles.
//
//go:embed all:assets
var Assets embed.FS

// ParseTemplates loads every template under templates/.
func ParseTemplates() (*template.Template, error) {
	return template.ParseFS(Templates, "templates/*.html")
}

// AssetsFS returns the assets rooted at the assets directory.
func AssetsFS() (fs.FS, error) {
	return fs.Sub(Assets, "assets")
}
