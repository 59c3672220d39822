package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/hcegateway/internal/model"
)

// defaultMaxBodySize はローカルストア応答の最大サイズ（10MB）。
const defaultMaxBodySize int64 = 10 << 20

// PostgRESTStore はPostgRESTのHTTP APIを使用したRecordStore実装。
// 各拠点のローカルストアは PostgREST 経由で公開される想定。
type PostgRESTStore struct {
	httpClient  *http.Client
	baseURL     string
	logger      *slog.Logger
	maxBodySize int64
}

// NewPostgRESTStore はPostgRESTStoreを生成する。
// httpClientはプロセス全体で共有するプール済みクライアントを渡す。
func NewPostgRESTStore(httpClient *http.Client, baseURL string, logger *slog.Logger, maxBodySize int64) *PostgRESTStore {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxBodySize
	}
	return &PostgRESTStore{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

// Find はテーブルをフィルタで検索する。フィルタはクエリ文字列としてそのまま転送する。
func (s *PostgRESTStore) Find(ctx context.Context, table string, filter model.Filter) ([]model.Record, error) {
	return s.find(ctx, table, filter.Encode())
}

// FindRawQuery は受け取ったクエリ文字列を並べ替えずにそのまま付けて検索する。
func (s *PostgRESTStore) FindRawQuery(ctx context.Context, table, rawQuery string) ([]model.Record, error) {
	return s.find(ctx, table, rawQuery)
}

func (s *PostgRESTStore) find(ctx context.Context, table, rawQuery string) ([]model.Record, error) {
	req, err := s.newRequest(ctx, http.MethodGet, table, rawQuery, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: local store GET %s: %v", model.ErrUpstreamUnavailable, table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.statusError(resp, "GET", table)
	}

	records, err := model.DecodeRecords(io.LimitReader(resp.Body, s.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s records: %w", table, err)
	}
	return records, nil
}

// Create はレコードを作成し、PostgRESTが返した表現を返す。
func (s *PostgRESTStore) Create(ctx context.Context, table string, rec model.Record) (model.Record, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s record: %w", table, err)
	}

	req, err := s.newRequest(ctx, http.MethodPost, table, "", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: local store POST %s: %v", model.ErrUpstreamUnavailable, table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return nil, fmt.Errorf("%w: %s", model.ErrConflict, table)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, s.statusError(resp, "POST", table)
	}

	records, err := model.DecodeRecords(io.LimitReader(resp.Body, s.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to decode created %s record: %w", table, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("local store returned no representation for %s", table)
	}
	return records[0], nil
}

// Update はフィルタに一致するレコードを部分更新する。
func (s *PostgRESTStore) Update(ctx context.Context, table string, filter model.Filter, patch model.Record) ([]model.Record, error) {
	if len(filter) == 0 {
		return nil, fmt.Errorf("refusing to update %s without a filter", table)
	}

	body, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s patch: %w", table, err)
	}

	req, err := s.newRequest(ctx, http.MethodPatch, table, filter.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: local store PATCH %s: %v", model.ErrUpstreamUnavailable, table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return nil, fmt.Errorf("%w: %s", model.ErrConflict, table)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, s.statusError(resp, "PATCH", table)
	}

	records, err := model.DecodeRecords(io.LimitReader(resp.Body, s.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to decode updated %s records: %w", table, err)
	}
	return records, nil
}

func (s *PostgRESTStore) newRequest(ctx context.Context, method, table, rawQuery string, body io.Reader) (*http.Request, error) {
	reqURL := s.baseURL + "/" + url.PathEscape(table)
	if rawQuery != "" {
		reqURL += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create local store request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")
	}
	return req, nil
}

// statusError は想定外のステータスをエラーに変換する。本文の先頭のみログに残す。
func (s *PostgRESTStore) statusError(resp *http.Response, method, table string) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	s.logger.Error("local store returned unexpected status",
		slog.String("method", method),
		slog.String("table", table),
		slog.Int("http_status", resp.StatusCode),
		slog.String("body", string(snippet)),
	)
	return fmt.Errorf("%w: local store %s %s returned status %d", model.ErrUpstreamUnavailable, method, table, resp.StatusCode)
}

// compile-time interface check
var _ RecordStore = (*PostgRESTStore)(nil)
