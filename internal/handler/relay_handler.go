package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hcegateway/internal/federation"
	"github.com/hitoshi/hcegateway/internal/model"
)

// RelayStore はリレーエンドポイントが参照するローカルストアのインターフェース。
type RelayStore interface {
	Find(ctx context.Context, table string, filter model.Filter) ([]model.Record, error)
}

// RawQueryFinder はクエリ文字列を解釈せずに転送できるローカルストア。
// RelayStore がこれを実装していればリレーは受け取ったクエリ文字列をそのまま渡す。
type RawQueryFinder interface {
	FindRawQuery(ctx context.Context, table, rawQuery string) ([]model.Record, error)
}

// relayErrorBody はリレー失敗時のJSON本文。リレークライアントがこの形式を解釈する。
type relayErrorBody struct {
	Error string `json:"error"`
}

// RelayHandler は他拠点からの内部リレー呼び出しを処理する。
// 自拠点のローカルストアのみを参照し、フェデレーション収集は行わない。
type RelayHandler struct {
	store  RelayStore
	policy *federation.Policy
	logger *slog.Logger
}

// NewRelayHandler はRelayHandlerを生成する。
func NewRelayHandler(store RelayStore, policy *federation.Policy, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		store:  store,
		policy: policy,
		logger: logger,
	}
}

// Relay はクエリ文字列をそのままフィルタとしてローカルストアを検索し、結果をJSON配列で返す。
// GET /internal/relay/{resourceType}
//
// フェデレーション対象外（アカウント系）や未知の種別は404、
// ローカルストアの失敗は502とし、いずれも {"error": "..."} を返す。
func (h *RelayHandler) Relay(w http.ResponseWriter, r *http.Request) {
	rt := model.ResourceType(chi.URLParam(r, "resourceType"))

	res, ok := h.policy.Lookup(rt)
	if !ok || !res.Federated() {
		writeJSON(w, http.StatusNotFound, relayErrorBody{Error: model.NewUnknownResourceError(string(rt)).Message})
		return
	}

	records, err := h.find(r, res.Table)
	if err != nil {
		h.logger.Warn("relay local store query failed",
			slog.String("resource", string(rt)),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusBadGateway, relayErrorBody{Error: "local store unavailable"})
		return
	}

	writeRecords(w, records)
}

func (h *RelayHandler) find(r *http.Request, table string) ([]model.Record, error) {
	if raw, ok := h.store.(RawQueryFinder); ok {
		return raw.FindRawQuery(r.Context(), table, r.URL.RawQuery)
	}
	return h.store.Find(r.Context(), table, r.URL.Query())
}
