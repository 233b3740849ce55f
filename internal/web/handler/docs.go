package handler

import (
	"net/http"
	"sync"

	"github.com/freekieb7/lockbox/web"
	"sigs.k8s.io/yaml"
)

// DocsHandler serves API documentation
type DocsHandler struct {
	spec []byte

	jsonOnce sync.Once
	json     []byte
	jsonErr  error
}

// NewDocsHandler creates a new documentation handler
func NewDocsHandler() *DocsHandler {
	return &DocsHandler{spec: web.OpenAPISpec}
}

// RegisterRoutes registers documentation routes
func (h *DocsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/openapi.yaml", h.handleOpenAPISpec)
	mux.HandleFunc("GET /api/openapi.json", h.handleOpenAPISpecJSON)
}

func (h *DocsHandler) handleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-yaml")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = w.Write(h.spec)
}

// handleOpenAPISpecJSON converts the YAML document once and serves the result.
func (h *DocsHandler) handleOpenAPISpecJSON(w http.ResponseWriter, r *http.Request) {
	h.jsonOnce.Do(func() {
		h.json, h.jsonErr = yaml.YAMLToJSON(h.spec)
	})
	if h.jsonErr != nil {
		http.Error(w, "API specification unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = w.Write(h.json)
}
