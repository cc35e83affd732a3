package modctx

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// InfoHandlerBeanName is the name of the info handler bean in the context
// postprocessor module.
const InfoHandlerBeanName = "moduleInfoHandler"

// InfoHandler serves the context info as JSON:
//
//	GET /                 the context with every module
//	GET /modules          the enabled modules in bootstrap order
//	GET /modules/{name}   one module, by name, alias or index
type InfoHandler struct {
	info   *ContextInfo
	logger Logger
	router chi.Router
}

// NewInfoHandler creates a handler over info.
func NewInfoHandler(info *ContextInfo, logger Logger) *InfoHandler {
	if logger == nil {
		logger = NopLogger()
	}
	h := &InfoHandler{info: info, logger: logger}

	r := chi.NewRouter()
	r.Get("/", h.handleContext)
	r.Get("/modules", h.handleModules)
	r.Get("/modules/{name}", h.handleModule)
	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *InfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *InfoHandler) handleContext(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.info)
}

func (h *InfoHandler) handleModules(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.info.Modules)
}

func (h *InfoHandler) handleModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	m, ok := h.info.Module(name)
	if !ok {
		if idx, err := strconv.Atoi(name); err == nil {
			m, ok = h.info.ModuleByIndex(idx)
		}
	}
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "module not found: " + name})
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

func (h *InfoHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode module info response", "error", err)
	}
}
