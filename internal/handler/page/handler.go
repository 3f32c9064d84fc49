package page

import (
	"bytes"
	"embed"
	"html/template"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
)

//go:embed templates/index.html
var templatesFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templatesFS, "templates/index.html"))

// Handler renders the chat page.
type Handler struct {
	title      string
	modelError string
}

// New creates the page handler. modelError, when set, is shown instead of the chat input.
func New(title, modelError string) *Handler {
	return &Handler{title: title, modelError: modelError}
}

// RegisterRoutes 注册页面路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleIndex)
}

func (h *Handler) handleIndex(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	err := indexTemplate.Execute(&buf, map[string]string{
		"Title":      h.title,
		"ModelError": h.modelError,
	})
	if err != nil {
		log.Printf("[page] render index: %v", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}
