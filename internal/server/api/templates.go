package api

import (
	"embed"
	"html/template"

	"relay/internal/server/history"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type indexData struct {
	History   []history.Record
	MaxUpload string
}
