package handler

import (
	"net/http"
	"time"
)

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	siteName        string
	sitesConfigured int
	now             func() time.Time
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(siteName string, sitesConfigured int) *HealthHandler {
	return &HealthHandler{
		siteName:        siteName,
		sitesConfigured: sitesConfigured,
		now:             time.Now,
	}
}

type healthResponse struct {
	Status          string `json:"status"`
	Timestamp       string `json:"timestamp"`
	Site            string `json:"site"`
	SitesConfigured int    `json:"sites_configured"`
}

// Health はプロセスの稼働状態を返す。ローカルストアや他拠点の疎通は確認しない。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:          "ok",
		Timestamp:       h.now().UTC().Format(time.RFC3339),
		Site:            h.siteName,
		SitesConfigured: h.sitesConfigured,
	})
}
