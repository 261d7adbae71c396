package webchat

import (
	"embed"
	"net/http"

	"github.com/wolfman30/hospital-intake-chat/pkg/logging"
)

//go:embed static/index.html static/widget.js
var static embed.FS

// Handler serves the browser chat page and its script.
type Handler struct {
	logger   *logging.Logger
	page     []byte
	widgetJS []byte
}

// NewHandler loads the embedded assets.
func NewHandler(logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	page, err := static.ReadFile("static/index.html")
	if err != nil {
		logger.Error("webchat page missing from build", "error", err)
	}
	widget, err := static.ReadFile("static/widget.js")
	if err != nil {
		logger.Error("webchat widget missing from build", "error", err)
	}
	return &Handler{logger: logger, page: page, widgetJS: widget}
}

// HandleIndex serves GET /.
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(h.page)
}

// HandleWidgetJS serves GET /widget.js.
func (h *Handler) HandleWidgetJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(h.widgetJS)
}
